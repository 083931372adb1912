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

// Package pwm manages PWM outputs on top of the fixed pools of
// hardware timers and channels exposed by the bridge.
package pwm

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/periphworks/PeriphWorker/pkg/service/bridge"
	"github.com/periphworks/PeriphWorker/pkg/service/slots"
)

const (
	// MaxTimers is the number of hardware PWM timers.
	MaxTimers = 4
	// MaxChannels is the number of hardware PWM channels.
	MaxChannels = 8
	// DutyResolutionBits is the duty resolution the timers are
	// configured with.
	DutyResolutionBits = 12
	// MaxDuty is the duty value for a fully-on signal.
	// Duty can be 0 to 2^12=4096.
	MaxDuty = 1 << DutyResolutionBits
	// DefaultFrequencyHz is used for timers acquired without an
	// explicit frequency.
	DefaultFrequencyHz = 1000
)

// TimerManager hands out references to the hardware PWM timers.
// A timer can be shared by multiple outputs; its frequency is global
// to all of them.
type TimerManager interface {
	// GetAvailable acquires a timer that is not yet in use and
	// configures it with the given frequency.
	// Fails with ResourceExhaustedError when every timer is in use.
	GetAvailable(ctx context.Context, freqHz uint32) (Timer, error)
	// Get acquires the timer at the given index.
	// If the timer is already in use it is shared and the existing
	// frequency wins; the requested frequency is ignored.
	// An out of range index is clamped into range.
	Get(ctx context.Context, index int, freqHz uint32) (Timer, error)
	// AllocatedIndices returns the timer indices currently in use.
	AllocatedIndices() []int
}

// Timer is one reference to a (possibly shared) hardware timer.
// Each reference must be released exactly once.
type Timer interface {
	// Index of the hardware timer.
	Index() int
	// Frequency the timer currently runs at.
	Frequency() uint32
	// SetFrequency reconfigures the timer. Every output sharing the
	// timer observes a duty change as a side effect; restoring the
	// intended duty afterwards is each output's own responsibility.
	SetFrequency(ctx context.Context, freqHz uint32) error
	// Release drops this reference. The hardware timer is paused and
	// deconfigured when the last reference is gone.
	Release(ctx context.Context) error
}

// NewTimerManager creates a TimerManager on the given bridge.
func NewTimerManager(api bridge.API, log zerolog.Logger) TimerManager {
	return &timerManager{
		log:   log.With().Str("component", "pwm-timers").Logger(),
		api:   api,
		pool:  slots.NewSharedPool("pwm-timers", MaxTimers),
		freqs: make([]uint32, MaxTimers),
	}
}

type timerManager struct {
	log  zerolog.Logger
	api  bridge.API
	pool *slots.SharedPool

	// mutex guards freqs and orders the hardware (re)configuration
	// calls of outputs sharing a timer.
	mutex sync.Mutex
	freqs []uint32
}

// GetAvailable acquires a timer that is not yet in use.
func (m *timerManager) GetAvailable(ctx context.Context, freqHz uint32) (Timer, error) {
	handle, err := m.pool.Acquire()
	if err != nil {
		return nil, maskAny(err)
	}
	m.log.Debug().Int("timer", handle.Index()).Uint32("freq_hz", freqHz).Msg("acquired fresh timer")
	return m.configure(handle, freqHz)
}

// Get acquires the timer at the given index, sharing it when already
// in use.
func (m *timerManager) Get(ctx context.Context, index int, freqHz uint32) (Timer, error) {
	if clamped := clampTimerIndex(index); clamped != index {
		m.log.Warn().
			Int("timer", index).
			Int("clamped", clamped).
			Msgf("Timer index must be >= 0 and < %d; using %d", MaxTimers, clamped)
		index = clamped
	}
	handle, err := m.pool.AcquireIndex(index)
	if err != nil {
		return nil, maskAny(err)
	}
	if !handle.First() {
		// Sharing an already running timer: the existing frequency wins.
		m.log.Debug().
			Int("timer", index).
			Uint32("freq_hz", m.frequencyOf(index)).
			Msg("sharing existing timer")
		return &timer{mgr: m, handle: handle}, nil
	}
	return m.configure(handle, freqHz)
}

// AllocatedIndices returns the timer indices currently in use.
func (m *timerManager) AllocatedIndices() []int {
	return m.pool.AllocatedIndices()
}

// configure performs the one-time hardware setup of a freshly acquired
// timer. On failure the slot is released again before the error is
// returned.
func (m *timerManager) configure(handle *slots.SharedHandle, freqHz uint32) (Timer, error) {
	index := handle.Index()
	timerConfigurationsTotal.Inc()
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.api.ConfigureTimer(index, freqHz); err != nil {
		handle.Release()
		return nil, errors.Wrapf(err, "failed to configure timer %d", index)
	}
	m.freqs[index] = freqHz
	return &timer{mgr: m, handle: handle}, nil
}

// frequencyOf returns the current frequency of the given timer index.
func (m *timerManager) frequencyOf(index int) uint32 {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.freqs[index]
}

type timer struct {
	mgr    *timerManager
	handle *slots.SharedHandle
}

// Index of the hardware timer.
func (t *timer) Index() int {
	return t.handle.Index()
}

// Frequency the timer currently runs at.
func (t *timer) Frequency() uint32 {
	return t.mgr.frequencyOf(t.handle.Index())
}

// SetFrequency reconfigures the timer for all outputs sharing it.
func (t *timer) SetFrequency(ctx context.Context, freqHz uint32) error {
	m := t.mgr
	index := t.handle.Index()
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.api.ConfigureTimer(index, freqHz); err != nil {
		return errors.Wrapf(err, "failed to reconfigure timer %d", index)
	}
	m.freqs[index] = freqHz
	frequencySetTotal.Inc()
	return nil
}

// Release drops this reference to the timer.
func (t *timer) Release(ctx context.Context) error {
	m := t.mgr
	index := t.handle.Index()
	remaining, err := t.handle.Release()
	if err != nil {
		return maskAny(err)
	}
	if remaining > 0 {
		m.log.Debug().Int("timer", index).Int("refs", remaining).Msg("timer still referenced")
		return nil
	}
	// Last reference gone: bring the hardware timer down.
	m.log.Debug().Int("timer", index).Msg("releasing hardware timer")
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.api.PauseTimer(index); err != nil {
		return errors.Wrapf(err, "failed to pause timer %d", index)
	}
	if err := m.api.DeconfigureTimer(index); err != nil {
		return errors.Wrapf(err, "failed to deconfigure timer %d", index)
	}
	m.freqs[index] = 0
	return nil
}

// clampTimerIndex clamps the given index into [0, MaxTimers-1].
func clampTimerIndex(index int) int {
	if index < 0 {
		return 0
	}
	if index >= MaxTimers {
		return MaxTimers - 1
	}
	return index
}
