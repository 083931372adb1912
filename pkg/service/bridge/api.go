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
	"github.com/periphworks/PeriphWorker/model"
)

// InterruptHandler is invoked by the vendor layer when a pin interrupt
// fires. It runs in interrupt context: it must not block, allocate or
// call back into the bridge.
type InterruptHandler func(pin model.Pin)

// API of the bridge, the vendor register/peripheral layer of the board.
// All other packages reach the hardware exclusively through this interface.
type API interface {
	// Access to local GPIO

	// Returns number of local pins
	PinCount() int
	// ConfigurePinInterrupt prepares the given pin for interrupt use:
	// trigger condition and pull resistors.
	ConfigurePinInterrupt(pin model.Pin, trigger model.TriggerType, pullUp, pullDown bool) error
	// InstallInterruptService installs the low level interrupt dispatcher.
	// Calling it more than once is harmless.
	InstallInterruptService() error
	// AttachInterrupt hooks the interrupt vector of the given pin to the
	// given handler.
	AttachInterrupt(pin model.Pin, handler InterruptHandler) error
	// DetachInterrupt removes the interrupt vector hook of the given pin.
	DetachInterrupt(pin model.Pin) error
	// SetPinLevel drives the given pin high or low.
	SetPinLevel(pin model.Pin, high bool) error
	// GetPinLevel reads the current level of the given pin.
	GetPinLevel(pin model.Pin) (bool, error)
	// RevokePinReservation releases the pin reservation that the vendor
	// layer takes when a PWM channel is bound to the pin.
	// The vendor layer never releases it on its own.
	RevokePinReservation(pin model.Pin) error

	// Access to the PWM block

	// Returns number of hardware PWM timers
	TimerCount() int
	// ConfigureTimer sets up the timer at the given index with the given
	// frequency. Reconfiguring a running timer changes the frequency for
	// every channel bound to it.
	ConfigureTimer(timer int, freqHz uint32) error
	// PauseTimer stops the timer at the given index.
	PauseTimer(timer int) error
	// DeconfigureTimer releases the hardware state of the timer at the
	// given index.
	DeconfigureTimer(timer int) error

	// Returns number of hardware PWM channels
	ChannelCount() int
	// ConfigureChannel binds the channel to a pin and a timer with the
	// given initial duty. The vendor layer reserves the pin as a side
	// effect (see RevokePinReservation).
	ConfigureChannel(channel int, pin model.Pin, timer int, duty uint32) error
	// SetChannelDuty applies the given duty value to the channel.
	SetChannelDuty(channel int, duty uint32) error

	// Open the I2C bus
	I2CBus() (I2CBus, error)

	Close() error
}
