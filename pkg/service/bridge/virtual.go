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
	"sync"

	"github.com/pkg/errors"

	"github.com/periphworks/PeriphWorker/model"
)

const (
	virtualPinCount     = 40
	virtualTimerCount   = 4
	virtualChannelCount = 8
)

// Virtual implements the bridge for a worker without real hardware.
// All peripheral state is kept in memory. Interrupts are raised by
// calling RaiseInterrupt, which runs the attached handler the way the
// vendor layer would: synchronously, in the caller's context.
type Virtual struct {
	mutex    sync.Mutex
	pins     [virtualPinCount]virtualPin
	timers   [virtualTimerCount]virtualTimer
	channels [virtualChannelCount]virtualChannel
	i2c      *virtualI2CBus

	// Injected failure for ConfigureChannel, used to exercise
	// cleanup-on-partial-failure paths.
	channelConfigureFailure error
}

type virtualPin struct {
	level    bool
	reserved bool
	trigger  model.TriggerType
	pullUp   bool
	pullDown bool
	handler  InterruptHandler
}

type virtualTimer struct {
	configured bool
	paused     bool
	freqHz     uint32
}

type virtualChannel struct {
	configured bool
	pin        model.Pin
	timer      int
	duty       uint32
}

// NewVirtualBridge implements the bridge for a virtual worker.
func NewVirtualBridge() *Virtual {
	return &Virtual{
		i2c: newVirtualI2CBus(),
	}
}

// Returns number of local pins
func (v *Virtual) PinCount() int {
	return virtualPinCount
}

// ConfigurePinInterrupt prepares the given pin for interrupt use.
func (v *Virtual) ConfigurePinInterrupt(pin model.Pin, trigger model.TriggerType, pullUp, pullDown bool) error {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	if err := v.checkPin(pin); err != nil {
		return err
	}
	p := &v.pins[pin]
	p.trigger = trigger
	p.pullUp = pullUp
	p.pullDown = pullDown
	return nil
}

// InstallInterruptService installs the low level interrupt dispatcher.
func (v *Virtual) InstallInterruptService() error {
	return nil
}

// AttachInterrupt hooks the interrupt vector of the given pin.
func (v *Virtual) AttachInterrupt(pin model.Pin, handler InterruptHandler) error {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	if err := v.checkPin(pin); err != nil {
		return err
	}
	v.pins[pin].handler = handler
	return nil
}

// DetachInterrupt removes the interrupt vector hook of the given pin.
func (v *Virtual) DetachInterrupt(pin model.Pin) error {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	if err := v.checkPin(pin); err != nil {
		return err
	}
	v.pins[pin].handler = nil
	return nil
}

// SetPinLevel drives the given pin high or low.
func (v *Virtual) SetPinLevel(pin model.Pin, high bool) error {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	if err := v.checkPin(pin); err != nil {
		return err
	}
	v.pins[pin].level = high
	return nil
}

// GetPinLevel reads the current level of the given pin.
func (v *Virtual) GetPinLevel(pin model.Pin) (bool, error) {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	if err := v.checkPin(pin); err != nil {
		return false, err
	}
	return v.pins[pin].level, nil
}

// RevokePinReservation releases the pin reservation taken by
// ConfigureChannel.
func (v *Virtual) RevokePinReservation(pin model.Pin) error {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	if err := v.checkPin(pin); err != nil {
		return err
	}
	v.pins[pin].reserved = false
	return nil
}

// Returns number of hardware PWM timers
func (v *Virtual) TimerCount() int {
	return virtualTimerCount
}

// ConfigureTimer sets up the timer at the given index.
// Reconfiguring a running timer rescales the duty of every channel
// bound to it, the way the real PWM block does.
func (v *Virtual) ConfigureTimer(timer int, freqHz uint32) error {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	if timer < 0 || timer >= virtualTimerCount {
		return errors.Wrapf(InvalidPinError, "timer %d out of range", timer)
	}
	if freqHz == 0 {
		return errors.Wrap(NotSupportedError, "frequency 0")
	}
	t := &v.timers[timer]
	if t.configured && t.freqHz != freqHz {
		oldFreq := t.freqHz
		for i := range v.channels {
			c := &v.channels[i]
			if c.configured && c.timer == timer {
				c.duty = uint32(uint64(c.duty) * uint64(oldFreq) / uint64(freqHz))
			}
		}
	}
	t.configured = true
	t.paused = false
	t.freqHz = freqHz
	return nil
}

// PauseTimer stops the timer at the given index.
func (v *Virtual) PauseTimer(timer int) error {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	if timer < 0 || timer >= virtualTimerCount {
		return errors.Wrapf(InvalidPinError, "timer %d out of range", timer)
	}
	v.timers[timer].paused = true
	return nil
}

// DeconfigureTimer releases the hardware state of the timer.
func (v *Virtual) DeconfigureTimer(timer int) error {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	if timer < 0 || timer >= virtualTimerCount {
		return errors.Wrapf(InvalidPinError, "timer %d out of range", timer)
	}
	v.timers[timer] = virtualTimer{}
	return nil
}

// Returns number of hardware PWM channels
func (v *Virtual) ChannelCount() int {
	return virtualChannelCount
}

// ConfigureChannel binds the channel to a pin and a timer.
// The pin is reserved as a side effect and stays reserved until
// RevokePinReservation is called.
func (v *Virtual) ConfigureChannel(channel int, pin model.Pin, timer int, duty uint32) error {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	if err := v.channelConfigureFailure; err != nil {
		return err
	}
	if channel < 0 || channel >= virtualChannelCount {
		return errors.Wrapf(InvalidPinError, "channel %d out of range", channel)
	}
	if err := v.checkPin(pin); err != nil {
		return err
	}
	if timer < 0 || timer >= virtualTimerCount || !v.timers[timer].configured {
		return errors.Wrapf(NotSupportedError, "timer %d not configured", timer)
	}
	v.channels[channel] = virtualChannel{
		configured: true,
		pin:        pin,
		timer:      timer,
		duty:       duty,
	}
	v.pins[pin].reserved = true
	return nil
}

// SetChannelDuty applies the given duty value to the channel.
func (v *Virtual) SetChannelDuty(channel int, duty uint32) error {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	if channel < 0 || channel >= virtualChannelCount {
		return errors.Wrapf(InvalidPinError, "channel %d out of range", channel)
	}
	if !v.channels[channel].configured {
		return errors.Wrapf(NotSupportedError, "channel %d not configured", channel)
	}
	v.channels[channel].duty = duty
	return nil
}

// Open the I2C bus
func (v *Virtual) I2CBus() (I2CBus, error) {
	return v.i2c, nil
}

func (v *Virtual) Close() error {
	return nil
}

func (v *Virtual) checkPin(pin model.Pin) error {
	if pin < 0 || int(pin) >= virtualPinCount {
		return errors.Wrapf(InvalidPinError, "pin %d out of range", pin)
	}
	return nil
}

// RaiseInterrupt simulates a hardware event on the given pin, running
// the attached handler in the caller's context. The handler is called
// without holding the bridge lock, like a real interrupt vector.
func (v *Virtual) RaiseInterrupt(pin model.Pin) error {
	v.mutex.Lock()
	if err := v.checkPin(pin); err != nil {
		v.mutex.Unlock()
		return err
	}
	handler := v.pins[pin].handler
	trigger := v.pins[pin].trigger
	v.mutex.Unlock()

	if handler == nil || trigger == model.TriggerDisable {
		return errors.Wrapf(NotSupportedError, "no interrupt attached to pin %d", pin)
	}
	handler(pin)
	return nil
}

// TimerFrequency returns the configured frequency of the given timer,
// and whether the timer is configured at all.
func (v *Virtual) TimerFrequency(timer int) (uint32, bool) {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	if timer < 0 || timer >= virtualTimerCount {
		return 0, false
	}
	t := v.timers[timer]
	return t.freqHz, t.configured
}

// ChannelDuty returns the current duty of the given channel,
// and whether the channel is configured at all.
func (v *Virtual) ChannelDuty(channel int) (uint32, bool) {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	if channel < 0 || channel >= virtualChannelCount {
		return 0, false
	}
	c := v.channels[channel]
	return c.duty, c.configured
}

// ChannelBinding returns the pin and timer the given channel is bound to.
func (v *Virtual) ChannelBinding(channel int) (model.Pin, int, bool) {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	if channel < 0 || channel >= virtualChannelCount {
		return 0, 0, false
	}
	c := v.channels[channel]
	return c.pin, c.timer, c.configured
}

// PinReserved returns true when the vendor layer holds a reservation on
// the given pin.
func (v *Virtual) PinReserved(pin model.Pin) bool {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	if v.checkPin(pin) != nil {
		return false
	}
	return v.pins[pin].reserved
}

// SetChannelConfigureFailure makes every following ConfigureChannel call
// fail with the given error. Pass nil to restore normal behavior.
func (v *Virtual) SetChannelConfigureFailure(err error) {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	v.channelConfigureFailure = err
}
