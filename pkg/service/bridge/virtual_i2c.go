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
	"context"
	"fmt"
	"sort"
	"sync"
)

// virtualI2CBus is an in-memory I2C bus holding register banks per
// address.
type virtualI2CBus struct {
	mutex   sync.Mutex
	devices map[uint8]*VirtualI2CDevice
}

// VirtualI2CDevice is an in-memory register bank behind a single I2C
// address.
type VirtualI2CDevice struct {
	mutex   sync.Mutex
	regs    [256]uint8
	pointer uint8
}

func newVirtualI2CBus() *virtualI2CBus {
	return &virtualI2CBus{
		devices: make(map[uint8]*VirtualI2CDevice),
	}
}

// AddI2CDevice registers an in-memory device at the given address and
// returns it so callers can preset or inspect its registers.
func (v *Virtual) AddI2CDevice(address uint8) *VirtualI2CDevice {
	v.i2c.mutex.Lock()
	defer v.i2c.mutex.Unlock()

	dev := &VirtualI2CDevice{}
	v.i2c.devices[address] = dev
	return dev
}

// Execute an operation on the device with given address.
func (b *virtualI2CBus) Execute(ctx context.Context, address uint8, op func(ctx context.Context, dev I2CDevice) error) error {
	b.mutex.Lock()
	dev, found := b.devices[address]
	b.mutex.Unlock()

	if !found {
		return maskAny(fmt.Errorf("device 0x%02x not found", address))
	}
	return op(ctx, dev)
}

// DetectSlaveAddresses probes the bus to detect available addresses.
func (b *virtualI2CBus) DetectSlaveAddresses() []byte {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	result := make([]byte, 0, len(b.devices))
	for addr := range b.devices {
		result = append(result, addr)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

// Close the bus and all devices on it
func (b *virtualI2CBus) Close() error {
	return nil
}

// Read a byte from given register
func (d *VirtualI2CDevice) ReadByteReg(reg uint8) (uint8, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.pointer = reg
	return d.regs[reg], nil
}

// Write a byte to given register
func (d *VirtualI2CDevice) WriteByteReg(reg uint8, val uint8) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.pointer = reg
	d.regs[reg] = val
	return nil
}

// Read a byte from device; reads the register the pointer is at.
func (d *VirtualI2CDevice) ReadByte() (byte, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return d.regs[d.pointer], nil
}

// Write a byte to device; moves the register pointer.
func (d *VirtualI2CDevice) WriteByte(val byte) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.pointer = val
	return nil
}

// SetRegister presets a register value, bypassing the bus.
func (d *VirtualI2CDevice) SetRegister(reg uint8, val uint8) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.regs[reg] = val
}

// Register reads a register value, bypassing the bus.
func (d *VirtualI2CDevice) Register(reg uint8) uint8 {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.regs[reg]
}
