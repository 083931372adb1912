// Copyright 2024 Ewout Prangsma
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bridge

import (
	"fmt"
	"os"
	"syscall"
	"unsafe"
)

const (
	// From /usr/include/linux/i2c-dev.h:
	i2cSlave = 0x0703
	i2cSMBus = 0x0720

	// Read/write markers
	i2cSMBusRead  = 1
	i2cSMBusWrite = 0

	// Transaction types
	i2cSMBusByte     = 1
	i2cSMBusByteData = 2
)

type i2cSmbusIoctlData struct {
	readWrite byte
	command   byte
	size      uint32
	data      uintptr
}

// i2cDevice talks SMBus to a single address via the kernel i2c-dev
// interface.
type i2cDevice struct {
	address uint8
	file    *os.File
}

// newI2CDevice opens the I2C device file at the given location and
// selects the given slave address.
func newI2CDevice(location string, address uint8) (*i2cDevice, error) {
	file, err := os.OpenFile(location, os.O_RDWR, os.ModeDevice)
	if err != nil {
		return nil, maskAny(err)
	}
	d := &i2cDevice{
		address: address,
		file:    file,
	}
	if err := d.ioctl(i2cSlave, uintptr(address)); err != nil {
		file.Close()
		return nil, maskAny(err)
	}
	return d, nil
}

// Read a byte from given register
func (d *i2cDevice) ReadByteReg(reg uint8) (uint8, error) {
	var data uint8
	if err := d.smbusAccess(i2cSMBusRead, reg, i2cSMBusByteData, uintptr(unsafe.Pointer(&data))); err != nil {
		return 0, maskAny(err)
	}
	return data, nil
}

// Write a byte to given register
func (d *i2cDevice) WriteByteReg(reg uint8, val uint8) error {
	data := val
	if err := d.smbusAccess(i2cSMBusWrite, reg, i2cSMBusByteData, uintptr(unsafe.Pointer(&data))); err != nil {
		return maskAny(err)
	}
	return nil
}

// Read a byte from device
func (d *i2cDevice) ReadByte() (byte, error) {
	var data uint8
	if err := d.smbusAccess(i2cSMBusRead, 0, i2cSMBusByte, uintptr(unsafe.Pointer(&data))); err != nil {
		return 0, maskAny(err)
	}
	return data, nil
}

// Write a byte to device
func (d *i2cDevice) WriteByte(val byte) error {
	if err := d.smbusAccess(i2cSMBusWrite, val, i2cSMBusByte, 0); err != nil {
		return maskAny(err)
	}
	return nil
}

// Close the device file.
func (d *i2cDevice) Close() error {
	return d.file.Close()
}

func (d *i2cDevice) smbusAccess(readWrite byte, command byte, size uint32, data uintptr) error {
	args := i2cSmbusIoctlData{
		readWrite: readWrite,
		command:   command,
		size:      size,
		data:      data,
	}
	return d.ioctl(i2cSMBus, uintptr(unsafe.Pointer(&args)))
}

func (d *i2cDevice) ioctl(signal uintptr, payload uintptr) error {
	if _, _, errno := syscall.Syscall(syscall.SYS_IOCTL, d.file.Fd(), signal, payload); errno != 0 {
		return fmt.Errorf("ioctl on address 0x%02x failed with errno %v", d.address, errno)
	}
	return nil
}
