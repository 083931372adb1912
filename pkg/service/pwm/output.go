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

package pwm

import (
	"context"
	"math"
	"sync"

	aerr "github.com/ewoutp/go-aggregate-error"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/periphworks/PeriphWorker/model"
	"github.com/periphworks/PeriphWorker/pkg/service/bridge"
	"github.com/periphworks/PeriphWorker/pkg/service/slots"
)

// OutputDependencies bundles what an Output needs to drive a pin.
// The same Channels pool and TimerManager must be shared by all outputs
// of one board.
type OutputDependencies struct {
	Log      zerolog.Logger
	API      bridge.API
	Timers   TimerManager
	Channels *slots.ExclusivePool
}

// NewChannelPool creates the exclusive pool for the hardware PWM
// channels of the board.
func NewChannelPool() *slots.ExclusivePool {
	return slots.NewExclusivePool("pwm-channels", MaxChannels)
}

// Output drives a single pin with a PWM signal.
// It owns one hardware channel exclusively and holds one reference to a
// (possibly shared) hardware timer.
type Output struct {
	mutex   sync.Mutex
	log     zerolog.Logger
	api     bridge.API
	pin     model.Pin
	channel *slots.ExclusiveHandle
	timer   Timer
	duty    uint32
	closed  bool
}

// NewOutput creates a PWM output on the given pin, using the lowest
// free channel and the lowest free timer (at DefaultFrequencyHz).
func NewOutput(ctx context.Context, deps OutputDependencies, pin model.Pin) (*Output, error) {
	channel, err := deps.Channels.Acquire()
	if err != nil {
		return nil, maskAny(err)
	}
	return newOutput(ctx, deps, pin, channel)
}

// NewOutputWithChannel creates a PWM output on the given pin, using the
// given channel index. Fails when the channel is invalid or already in
// use by another output.
func NewOutputWithChannel(ctx context.Context, deps OutputDependencies, pin model.Pin, channel int) (*Output, error) {
	handle, err := deps.Channels.AcquireIndex(channel)
	if err != nil {
		return nil, maskAny(err)
	}
	return newOutput(ctx, deps, pin, handle)
}

// NewOutputWithTimer creates a PWM output on the given pin, sharing the
// timer at the given index with any output already bound to it.
func NewOutputWithTimer(ctx context.Context, deps OutputDependencies, pin model.Pin, timerIndex int) (*Output, error) {
	channel, err := deps.Channels.Acquire()
	if err != nil {
		return nil, maskAny(err)
	}
	timer, err := deps.Timers.Get(ctx, timerIndex, DefaultFrequencyHz)
	if err != nil {
		channel.Release()
		return nil, maskAny(err)
	}
	return bind(ctx, deps, pin, channel, timer)
}

// newOutput acquires a timer and binds the hardware channel.
// On any failure the already acquired slots are released again, so a
// failed construction never leaks pool capacity.
func newOutput(ctx context.Context, deps OutputDependencies, pin model.Pin, channel *slots.ExclusiveHandle) (*Output, error) {
	timer, err := deps.Timers.GetAvailable(ctx, DefaultFrequencyHz)
	if err != nil {
		channel.Release()
		return nil, maskAny(err)
	}
	return bind(ctx, deps, pin, channel, timer)
}

// bind performs the hardware channel configuration shared by all
// constructors.
func bind(ctx context.Context, deps OutputDependencies, pin model.Pin, channel *slots.ExclusiveHandle, timer Timer) (*Output, error) {
	if err := deps.API.ConfigureChannel(channel.Index(), pin, timer.Index(), 0); err != nil {
		timer.Release(ctx)
		channel.Release()
		return nil, errors.Wrapf(err, "failed to configure channel %d on pin %s", channel.Index(), pin)
	}
	log := deps.Log.With().
		Str("component", "pwm-output").
		Str("pin", pin.String()).
		Int("channel", channel.Index()).
		Int("timer", timer.Index()).
		Logger()
	log.Debug().Msg("pwm output configured")
	outputsOpenGauge.Inc()
	return &Output{
		log:     log,
		api:     deps.API,
		pin:     pin,
		channel: channel,
		timer:   timer,
	}, nil
}

// Pin returns the pin this output drives.
func (o *Output) Pin() model.Pin {
	return o.pin
}

// Channel returns the hardware channel index of this output.
func (o *Output) Channel() int {
	return o.channel.Index()
}

// Timer returns the timer this output is bound to.
func (o *Output) Timer() Timer {
	return o.timer
}

// Duty returns the last duty value applied to this output.
func (o *Output) Duty() uint32 {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	return o.duty
}

// SetDutyPercent sets the duty cycle as a percentage.
// The percentage is mapped onto [0, MaxDuty] with rounding; values
// outside [0, 100] are clamped.
func (o *Output) SetDutyPercent(ctx context.Context, percent float64) error {
	if percent < 0 {
		o.log.Warn().Float64("percent", percent).Msg("Duty percentage below 0; using 0")
		percent = 0
	}
	duty := uint32(math.Round(percent * MaxDuty / 100))
	return o.SetDutyValue(ctx, duty)
}

// SetDutyValue applies a raw duty value in [0, MaxDuty].
// Values above MaxDuty are clamped.
func (o *Output) SetDutyValue(ctx context.Context, duty uint32) error {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	if o.closed {
		return errors.Wrapf(AlreadyClosedError, "pin %s", o.pin)
	}
	if duty > MaxDuty {
		o.log.Warn().Uint32("duty", duty).Msgf("Duty must be <= %d; using %d", MaxDuty, MaxDuty)
		duty = MaxDuty
	}
	if err := o.api.SetChannelDuty(o.channel.Index(), duty); err != nil {
		return errors.Wrapf(err, "failed to set duty on channel %d", o.channel.Index())
	}
	o.duty = duty
	dutySetTotal.Inc()
	return nil
}

// SetFrequency changes the frequency of the timer this output is bound
// to and re-applies the intended duty afterwards, since reconfiguring
// the timer disturbs the duty of every bound channel.
// Other outputs sharing the timer observe the frequency change as well.
func (o *Output) SetFrequency(ctx context.Context, freqHz uint32) error {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	if o.closed {
		return errors.Wrapf(AlreadyClosedError, "pin %s", o.pin)
	}
	if err := o.timer.SetFrequency(ctx, freqHz); err != nil {
		return maskAny(err)
	}
	if err := o.api.SetChannelDuty(o.channel.Index(), o.duty); err != nil {
		return errors.Wrapf(err, "failed to restore duty on channel %d", o.channel.Index())
	}
	return nil
}

// Close releases the channel, the timer reference and the pin
// reservation. Closing twice fails with AlreadyClosedError.
func (o *Output) Close(ctx context.Context) error {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	if o.closed {
		return errors.Wrapf(AlreadyClosedError, "pin %s", o.pin)
	}
	o.closed = true
	o.log.Debug().Msg("closing pwm output")

	var ae aerr.AggregateError
	if err := o.channel.Release(); err != nil {
		ae.Add(maskAny(err))
	}
	if err := o.timer.Release(ctx); err != nil {
		ae.Add(maskAny(err))
	}
	// The vendor layer keeps the pin reserved after the channel is
	// unbound; revoke it here so the pin can be reused.
	if err := o.api.RevokePinReservation(o.pin); err != nil {
		ae.Add(maskAny(err))
	}
	outputsOpenGauge.Dec()
	return ae.AsError()
}
