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

package devices

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/periphworks/PeriphWorker/model"
	"github.com/periphworks/PeriphWorker/pkg/service/bridge"
)

const (
	pca9557RegInput    = 0x00
	pca9557RegOutput   = 0x01
	pca9557RegPolarity = 0x02
	pca9557RegConfig   = 0x03
)

type pca9557 struct {
	log     zerolog.Logger
	config  model.HWDevice
	bus     bridge.I2CBus
	address byte
	// mutex guards the cached register values below; the chip is
	// write-only for these once configured, so reads come from the
	// cache.
	mutex     sync.Mutex
	direction byte // 1/0 per bit means input/output
	output    byte
}

// newPCA9557 creates a GPIO instance for a pca9557 device with given config.
func newPCA9557(config model.HWDevice, bus bridge.I2CBus, log zerolog.Logger) (GPIO, error) {
	address, err := parseAddress(config.Address)
	if err != nil {
		return nil, maskAny(err)
	}
	return &pca9557{
		log:       log.With().Str("device", config.ID).Logger(),
		config:    config,
		bus:       bus,
		address:   byte(address),
		direction: 0xff, // All input
		output:    0,
	}, nil
}

// Configure is called once to put the device in the desired state.
// The chip powers up with inverted polarity on the upper nibble (0xf0);
// that is cleared so reads reflect the actual pin levels.
func (d *pca9557) Configure(ctx context.Context) error {
	devicesConfiguredGauge.WithLabelValues(string(d.config.Type)).Inc()
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.bus.Execute(ctx, d.address, func(ctx context.Context, dev bridge.I2CDevice) error {
		d.direction = 0xff
		d.output = 0
		if err := dev.WriteByteReg(pca9557RegPolarity, 0x00); err != nil {
			return maskAny(err)
		}
		if err := dev.WriteByteReg(pca9557RegConfig, d.direction); err != nil {
			return maskAny(err)
		}
		if err := dev.WriteByteReg(pca9557RegOutput, d.output); err != nil {
			return maskAny(err)
		}
		return nil
	})
}

// Close brings the device back to a safe state: all pins input.
func (d *pca9557) Close(ctx context.Context) error {
	devicesConfiguredGauge.WithLabelValues(string(d.config.Type)).Dec()
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.bus.Execute(ctx, d.address, func(ctx context.Context, dev bridge.I2CDevice) error {
		d.direction = 0xff
		return dev.WriteByteReg(pca9557RegConfig, d.direction)
	})
}

// PinCount returns the number of pins of the device
func (d *pca9557) PinCount() int {
	return 8
}

// Set the direction of the pin at given index (0...)
func (d *pca9557) SetDirection(ctx context.Context, pin int, direction PinDirection) error {
	mask, err := d.bitMask(pin)
	if err != nil {
		return maskAny(err)
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.bus.Execute(ctx, d.address, func(ctx context.Context, dev bridge.I2CDevice) error {
		if direction == PinDirectionInput {
			d.direction |= mask
		} else {
			d.direction &= ^mask
			// Drive low before switching to output.
			d.output &= ^mask
			if err := dev.WriteByteReg(pca9557RegOutput, d.output); err != nil {
				return maskAny(err)
			}
		}
		return maskAny(dev.WriteByteReg(pca9557RegConfig, d.direction))
	})
}

// Get the direction of the pin at given index (0...)
func (d *pca9557) GetDirection(ctx context.Context, pin int) (PinDirection, error) {
	mask, err := d.bitMask(pin)
	if err != nil {
		return PinDirectionInput, maskAny(err)
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.direction&mask != 0 {
		return PinDirectionInput, nil
	}
	return PinDirectionOutput, nil
}

// Set the pin at given index (0...) to the given value
func (d *pca9557) Set(ctx context.Context, pin int, value bool) error {
	mask, err := d.bitMask(pin)
	if err != nil {
		return maskAny(err)
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.direction&mask != 0 {
		return errors.Wrapf(InvalidDirectionError, "pin %d is an input", pin)
	}
	return d.bus.Execute(ctx, d.address, func(ctx context.Context, dev bridge.I2CDevice) error {
		if value {
			d.output |= mask
		} else {
			d.output &= ^mask
		}
		return maskAny(dev.WriteByteReg(pca9557RegOutput, d.output))
	})
}

// Get the pin at given index (0...)
func (d *pca9557) Get(ctx context.Context, pin int) (bool, error) {
	mask, err := d.bitMask(pin)
	if err != nil {
		return false, maskAny(err)
	}
	var value byte
	if err := d.bus.Execute(ctx, d.address, func(ctx context.Context, dev bridge.I2CDevice) error {
		v, err := dev.ReadByteReg(pca9557RegInput)
		if err != nil {
			return maskAny(err)
		}
		value = v
		return nil
	}); err != nil {
		return false, maskAny(err)
	}
	return value&mask != 0, nil
}

// bitMask returns the register mask of the pin at the given index.
func (d *pca9557) bitMask(pin int) (byte, error) {
	if pin < 0 || pin >= d.PinCount() {
		return 0, errors.Wrapf(InvalidPinIndexError, "pin %d", pin)
	}
	return 1 << uint(pin), nil
}
