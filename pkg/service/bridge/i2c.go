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
	"sync"

	aerr "github.com/ewoutp/go-aggregate-error"
)

// I2CBus provides serialized access to the devices on an I2C bus.
type I2CBus interface {
	// Execute an operation on the device with given address.
	Execute(ctx context.Context, address uint8, op func(ctx context.Context, dev I2CDevice) error) error
	// DetectSlaveAddresses probes the bus to detect available addresses.
	DetectSlaveAddresses() []byte
	// Close the bus and all devices on it
	Close() error
}

// I2CDevice communicates with a device on the I2C bus that has a
// specific address.
type I2CDevice interface {
	// Read a byte from given register
	ReadByteReg(reg uint8) (uint8, error)
	// Write a byte to given register
	WriteByteReg(reg uint8, val uint8) error
	// Read a byte from device
	ReadByte() (byte, error)
	// Write a byte to device
	WriteByte(val byte) error
}

type i2cBus struct {
	mutex    sync.Mutex
	location string
	devices  map[uint8]*i2cDevice
}

// NewI2CBus returns accessors for the I2C bus at the given location.
func NewI2CBus(location string) (I2CBus, error) {
	return &i2cBus{
		location: location,
		devices:  make(map[uint8]*i2cDevice),
	}, nil
}

// Execute an operation on the device with given address.
// Operations are serialized per bus; the device files stay open for
// reuse by later operations.
func (b *i2cBus) Execute(ctx context.Context, address uint8, op func(ctx context.Context, dev I2CDevice) error) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	addrLabel := fmt.Sprintf("0x%02x", address)
	i2cExecuteCounters.WithLabelValues(addrLabel).Inc()
	dev, err := b.deviceAt(address)
	if err != nil {
		i2cExecuteErrorCounters.WithLabelValues(addrLabel).Inc()
		return maskAny(err)
	}
	if err := op(ctx, dev); err != nil {
		i2cExecuteErrorCounters.WithLabelValues(addrLabel).Inc()
		return maskAny(err)
	}
	return nil
}

// DetectSlaveAddresses probes the bus to detect available addresses.
func (b *i2cBus) DetectSlaveAddresses() []byte {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	var result []byte
	// 0x03..0x77 is the valid 7-bit address range.
	for addr := uint8(0x03); addr <= 0x77; addr++ {
		dev, err := b.deviceAt(addr)
		if err != nil {
			continue
		}
		if _, err := dev.ReadByte(); err == nil {
			result = append(result, addr)
		}
	}
	return result
}

// Close the bus and all devices on it
func (b *i2cBus) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	var ae aerr.AggregateError
	for _, dev := range b.devices {
		if err := dev.Close(); err != nil {
			ae.Add(err)
		}
	}
	b.devices = make(map[uint8]*i2cDevice)
	return ae.AsError()
}

// deviceAt returns the (lazily opened) device with given address.
// The caller must hold the bus lock.
func (b *i2cBus) deviceAt(address uint8) (*i2cDevice, error) {
	if dev, found := b.devices[address]; found {
		return dev, nil
	}
	dev, err := newI2CDevice(b.location, address)
	if err != nil {
		return nil, maskAny(err)
	}
	b.devices[address] = dev
	return dev, nil
}
