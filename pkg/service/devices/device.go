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

// Package devices implements drivers for the external chips attached
// to the worker's I2C bus.
package devices

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/periphworks/PeriphWorker/model"
	"github.com/periphworks/PeriphWorker/pkg/service/bridge"
)

// Device contains the API that is supported by all types of devices.
type Device interface {
	// Configure is called once to put the device in the desired state.
	Configure(ctx context.Context) error
	// Close brings the device back to a safe state.
	Close(ctx context.Context) error
}

// NewDevice creates a driver for the device described by the given
// configuration.
func NewDevice(config model.HWDevice, bus bridge.I2CBus, log zerolog.Logger) (Device, error) {
	if err := config.Validate(); err != nil {
		return nil, maskAny(err)
	}
	switch config.Type {
	case model.HWDeviceTypePCA9557:
		return newPCA9557(config, bus, log)
	default:
		return nil, errors.Wrapf(model.ValidationError, "unknown device type '%s'", config.Type)
	}
}
