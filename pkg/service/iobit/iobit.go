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

// Package iobit exposes single input/output bits, hiding whether a bit
// lives on a local pin or on an I2C expander chip.
package iobit

import (
	"context"

	"github.com/pkg/errors"

	"github.com/periphworks/PeriphWorker/model"
	"github.com/periphworks/PeriphWorker/pkg/service/bridge"
	"github.com/periphworks/PeriphWorker/pkg/service/devices"
)

var maskAny = errors.WithStack

// OutputBit is a single writable bit.
type OutputBit interface {
	// Set drives the bit high or low.
	Set(ctx context.Context, value bool) error
	// Get returns the last driven value.
	Get(ctx context.Context) (bool, error)
}

// InputBit is a single readable bit.
type InputBit interface {
	// Get reads the current value of the bit.
	Get(ctx context.Context) (bool, error)
}

// NewLocalOutputBit creates an OutputBit on a local pin of the worker.
func NewLocalOutputBit(api bridge.API, pin model.Pin) (OutputBit, error) {
	if err := pin.Validate(); err != nil {
		return nil, maskAny(err)
	}
	return &localBit{api: api, pin: pin}, nil
}

// NewLocalInputBit creates an InputBit on a local pin of the worker.
func NewLocalInputBit(api bridge.API, pin model.Pin) (InputBit, error) {
	if err := pin.Validate(); err != nil {
		return nil, maskAny(err)
	}
	return &localBit{api: api, pin: pin}, nil
}

type localBit struct {
	api bridge.API
	pin model.Pin
}

func (b *localBit) Set(ctx context.Context, value bool) error {
	return maskAny(b.api.SetPinLevel(b.pin, value))
}

func (b *localBit) Get(ctx context.Context) (bool, error) {
	value, err := b.api.GetPinLevel(b.pin)
	return value, maskAny(err)
}

// NewExpanderOutputBit creates an OutputBit on a pin of an I2C expander.
// The pin is switched to output direction.
func NewExpanderOutputBit(ctx context.Context, gpio devices.GPIO, pin int) (OutputBit, error) {
	if err := gpio.SetDirection(ctx, pin, devices.PinDirectionOutput); err != nil {
		return nil, maskAny(err)
	}
	return &expanderBit{gpio: gpio, pin: pin}, nil
}

// NewExpanderInputBit creates an InputBit on a pin of an I2C expander.
// The pin is switched to input direction.
func NewExpanderInputBit(ctx context.Context, gpio devices.GPIO, pin int) (InputBit, error) {
	if err := gpio.SetDirection(ctx, pin, devices.PinDirectionInput); err != nil {
		return nil, maskAny(err)
	}
	return &expanderBit{gpio: gpio, pin: pin}, nil
}

type expanderBit struct {
	gpio devices.GPIO
	pin  int
}

func (b *expanderBit) Set(ctx context.Context, value bool) error {
	return maskAny(b.gpio.Set(ctx, b.pin, value))
}

func (b *expanderBit) Get(ctx context.Context) (bool, error) {
	value, err := b.gpio.Get(ctx, b.pin)
	return value, maskAny(err)
}
