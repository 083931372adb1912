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
	"time"

	"github.com/ecc1/gpio"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/periphworks/PeriphWorker/model"
)

const (
	rpiPinCount     = 28
	rpiI2CLocation  = "/dev/i2c-1"
	rpiPollInterval = time.Millisecond * 5
)

// piBridge implements the bridge for Raspberry Pi's.
// The Pi has no PWM timer/channel block of the kind this bridge models,
// so the PWM part of the API reports NotSupportedError. Pin interrupts
// are emulated by polling, since the sysfs pin layer exposes no
// interrupt vector to user space.
type piBridge struct {
	mutex   sync.Mutex
	log     zerolog.Logger
	inputs  map[model.Pin]gpio.InputPin
	outputs map[model.Pin]*piOutput
	watches map[model.Pin]*piWatch
	bus     I2CBus
}

type piOutput struct {
	pin   gpio.OutputPin
	level bool
}

type piWatch struct {
	trigger model.TriggerType
	handler InterruptHandler
	stop    chan struct{}
}

// NewRaspberryPiBridge implements the bridge for Raspberry Pi's.
func NewRaspberryPiBridge(log zerolog.Logger) (API, error) {
	return &piBridge{
		log:     log.With().Str("component", "pi-bridge").Logger(),
		inputs:  make(map[model.Pin]gpio.InputPin),
		outputs: make(map[model.Pin]*piOutput),
		watches: make(map[model.Pin]*piWatch),
	}, nil
}

// Returns number of local pins
func (p *piBridge) PinCount() int {
	return rpiPinCount
}

// ConfigurePinInterrupt prepares the given pin for interrupt use.
// Pull resistors cannot be set through the sysfs pin layer; a request
// for them is recorded in the log only.
func (p *piBridge) ConfigurePinInterrupt(pin model.Pin, trigger model.TriggerType, pullUp, pullDown bool) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if err := p.checkPin(pin); err != nil {
		return err
	}
	if pullUp || pullDown {
		p.log.Warn().Int("pin", int(pin)).Msg("pull resistors are not configurable on this bridge")
	}
	w := p.watchAt(pin)
	w.trigger = trigger
	return nil
}

// InstallInterruptService installs the low level interrupt dispatcher.
func (p *piBridge) InstallInterruptService() error {
	return nil
}

// AttachInterrupt hooks the interrupt vector of the given pin.
// A poll loop per pin detects edges and calls the handler.
func (p *piBridge) AttachInterrupt(pin model.Pin, handler InterruptHandler) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if err := p.checkPin(pin); err != nil {
		return err
	}
	input, err := p.inputAt(pin)
	if err != nil {
		return maskAny(err)
	}
	w := p.watchAt(pin)
	if w.stop != nil {
		close(w.stop)
	}
	w.handler = handler
	w.stop = make(chan struct{})
	go p.pollPin(pin, input, w, w.stop)
	return nil
}

// DetachInterrupt removes the interrupt vector hook of the given pin.
func (p *piBridge) DetachInterrupt(pin model.Pin) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if err := p.checkPin(pin); err != nil {
		return err
	}
	if w, found := p.watches[pin]; found && w.stop != nil {
		close(w.stop)
		w.stop = nil
		w.handler = nil
	}
	return nil
}

// pollPin watches the level of the given pin until stop is closed,
// invoking the watch handler on edges that match the trigger.
func (p *piBridge) pollPin(pin model.Pin, input gpio.InputPin, w *piWatch, stop chan struct{}) {
	last, err := input.Read()
	if err != nil {
		p.log.Error().Err(err).Int("pin", int(pin)).Msg("initial pin read failed")
	}
	ticker := time.NewTicker(rpiPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			level, err := input.Read()
			if err != nil {
				p.log.Debug().Err(err).Int("pin", int(pin)).Msg("pin read failed")
				continue
			}
			if level == last {
				continue
			}
			rising := !last && level
			last = level
			p.mutex.Lock()
			trigger := w.trigger
			handler := w.handler
			p.mutex.Unlock()
			if handler == nil {
				continue
			}
			fire := false
			switch trigger {
			case model.TriggerRisingEdge, model.TriggerHighLevel:
				fire = rising
			case model.TriggerFallingEdge, model.TriggerLowLevel:
				fire = !rising
			case model.TriggerAnyEdge:
				fire = true
			}
			if fire {
				pollInterruptsRaisedTotal.Inc()
				handler(pin)
			}
		}
	}
}

// SetPinLevel drives the given pin high or low.
func (p *piBridge) SetPinLevel(pin model.Pin, high bool) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if err := p.checkPin(pin); err != nil {
		return err
	}
	out, found := p.outputs[pin]
	if !found {
		activeLow := false
		gp, err := gpio.Output(int(pin), activeLow, high)
		if err != nil {
			return maskAny(err)
		}
		out = &piOutput{pin: gp}
		p.outputs[pin] = out
	}
	if err := out.pin.Write(high); err != nil {
		return maskAny(err)
	}
	out.level = high
	return nil
}

// GetPinLevel reads the current level of the given pin.
// For pins opened as output the last written level is reported, since
// the sysfs output layer has no read back.
func (p *piBridge) GetPinLevel(pin model.Pin) (bool, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if err := p.checkPin(pin); err != nil {
		return false, err
	}
	if out, found := p.outputs[pin]; found {
		return out.level, nil
	}
	input, err := p.inputAt(pin)
	if err != nil {
		return false, maskAny(err)
	}
	level, err := input.Read()
	if err != nil {
		return false, maskAny(err)
	}
	return level, nil
}

// RevokePinReservation releases the pin reservation taken by the PWM
// block. This bridge has no such block, so there is nothing to revoke.
func (p *piBridge) RevokePinReservation(pin model.Pin) error {
	return p.checkPin(pin)
}

// Returns number of hardware PWM timers
func (p *piBridge) TimerCount() int {
	return 0
}

// ConfigureTimer sets up the timer at the given index.
func (p *piBridge) ConfigureTimer(timer int, freqHz uint32) error {
	return errors.Wrap(NotSupportedError, "no PWM timer block")
}

// PauseTimer stops the timer at the given index.
func (p *piBridge) PauseTimer(timer int) error {
	return errors.Wrap(NotSupportedError, "no PWM timer block")
}

// DeconfigureTimer releases the hardware state of the timer.
func (p *piBridge) DeconfigureTimer(timer int) error {
	return errors.Wrap(NotSupportedError, "no PWM timer block")
}

// Returns number of hardware PWM channels
func (p *piBridge) ChannelCount() int {
	return 0
}

// ConfigureChannel binds the channel to a pin and a timer.
func (p *piBridge) ConfigureChannel(channel int, pin model.Pin, timer int, duty uint32) error {
	return errors.Wrap(NotSupportedError, "no PWM channel block")
}

// SetChannelDuty applies the given duty value to the channel.
func (p *piBridge) SetChannelDuty(channel int, duty uint32) error {
	return errors.Wrap(NotSupportedError, "no PWM channel block")
}

// Open the I2C bus
func (p *piBridge) I2CBus() (I2CBus, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.bus == nil {
		bus, err := NewI2CBus(rpiI2CLocation)
		if err != nil {
			return nil, maskAny(err)
		}
		p.bus = bus
	}
	return p.bus, nil
}

func (p *piBridge) Close() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for _, w := range p.watches {
		if w.stop != nil {
			close(w.stop)
			w.stop = nil
		}
	}
	if p.bus != nil {
		if err := p.bus.Close(); err != nil {
			return maskAny(err)
		}
		p.bus = nil
	}
	return nil
}

func (p *piBridge) checkPin(pin model.Pin) error {
	if pin < 0 || int(pin) >= rpiPinCount {
		return errors.Wrapf(InvalidPinError, "pin %d out of range", pin)
	}
	return nil
}

// inputAt returns the (lazily opened) input pin.
// The caller must hold the bridge lock.
func (p *piBridge) inputAt(pin model.Pin) (gpio.InputPin, error) {
	if input, found := p.inputs[pin]; found {
		return input, nil
	}
	activeLow := false
	input, err := gpio.Input(int(pin), activeLow)
	if err != nil {
		return nil, maskAny(err)
	}
	p.inputs[pin] = input
	return input, nil
}

// watchAt returns the (lazily created) watch state of the given pin.
// The caller must hold the bridge lock.
func (p *piBridge) watchAt(pin model.Pin) *piWatch {
	if w, found := p.watches[pin]; found {
		return w
	}
	w := &piWatch{}
	p.watches[pin] = w
	return w
}
