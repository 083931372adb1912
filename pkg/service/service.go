//    Copyright 2024 Ewout Prangsma
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.

// Package service wires the peripheral subsystems of the worker
// together: the hardware bridge, interrupt dispatch, PWM outputs and
// the drivers for attached I2C devices.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/periphworks/PeriphWorker/model"
	"github.com/periphworks/PeriphWorker/pkg/service/bridge"
	"github.com/periphworks/PeriphWorker/pkg/service/devices"
	"github.com/periphworks/PeriphWorker/pkg/service/intr"
	"github.com/periphworks/PeriphWorker/pkg/service/pwm"
	"github.com/periphworks/PeriphWorker/pkg/service/telemetry"
)

// Service is the peripheral layer of the worker.
type Service interface {
	// Run all subsystems until the given context is canceled.
	Run(ctx context.Context) error

	// RegisterPinInterrupt hooks the given callback to interrupts on the
	// given local pin.
	RegisterPinInterrupt(ctx context.Context, pin model.Pin, trigger model.TriggerType, pullUp, pullDown bool, cb intr.Callback) error
	// UnregisterPinInterrupt removes the callback of the given pin.
	UnregisterPinInterrupt(ctx context.Context, pin model.Pin) error

	// NewPwmOutput creates a PWM output on the given pin with
	// automatically chosen channel and timer.
	NewPwmOutput(ctx context.Context, pin model.Pin) (*pwm.Output, error)
	// NewPwmOutputWithChannel creates a PWM output on a specific channel.
	NewPwmOutputWithChannel(ctx context.Context, pin model.Pin, channel int) (*pwm.Output, error)
	// NewPwmOutputWithTimer creates a PWM output sharing a specific timer.
	NewPwmOutputWithTimer(ctx context.Context, pin model.Pin, timer int) (*pwm.Output, error)

	// GPIOByID returns the configured expander with the given device ID.
	GPIOByID(id string) (devices.GPIO, bool)

	// State returns a snapshot of the worker state.
	State() State
}

// Config of the service.
type Config struct {
	ProgramVersion string
	ModuleID       string
	// MQTTBrokerAddress enables telemetry when not empty.
	MQTTBrokerAddress string
	// TelemetryTopicPrefix of published event topics.
	TelemetryTopicPrefix string
	// InterruptQueueSize overrides the dispatch queue capacity when > 0.
	InterruptQueueSize int
	// Devices attached to the I2C bus.
	Devices []model.HWDevice
}

// Dependencies of the service.
type Dependencies struct {
	Logger zerolog.Logger
	Bridge bridge.API
}

// State is a snapshot of the worker, served on the state endpoint.
type State struct {
	ModuleID          string    `json:"module-id"`
	Version           string    `json:"version"`
	StartedAt         time.Time `json:"started-at"`
	Uptime            string    `json:"uptime"`
	InterruptPins     []string  `json:"interrupt-pins"`
	InterruptDrops    uint64    `json:"interrupt-drops"`
	PwmTimersInUse    []int     `json:"pwm-timers-in-use"`
	PwmChannelsInUse  []int     `json:"pwm-channels-in-use"`
	ConfiguredDevices []string  `json:"configured-devices"`
}

type service struct {
	Config
	Dependencies

	startedAt  time.Time
	intrSvc    intr.Service
	telemetry  telemetry.Service
	outputDeps pwm.OutputDependencies

	mutex   sync.Mutex
	devices map[string]devices.Device
}

// NewService creates a Service instance and returns it.
func NewService(conf Config, deps Dependencies) (Service, error) {
	deps.Logger = deps.Logger.With().Str("component", "service").Logger()
	intrSvc, err := intr.NewService(intr.Config{
		QueueSize: conf.InterruptQueueSize,
	}, intr.Dependencies{
		Log:    deps.Logger,
		Bridge: deps.Bridge,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create interrupt service")
	}
	telemetrySvc, err := telemetry.NewService(telemetry.Config{
		MQTTBrokerAddress: conf.MQTTBrokerAddress,
		TopicPrefix:       conf.TelemetryTopicPrefix,
		ModuleID:          conf.ModuleID,
	}, telemetry.Dependencies{
		Log:    deps.Logger,
		Events: intrSvc,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create telemetry service")
	}
	return &service{
		Config:       conf,
		Dependencies: deps,
		startedAt:    time.Now(),
		intrSvc:      intrSvc,
		telemetry:    telemetrySvc,
		outputDeps: pwm.OutputDependencies{
			Log:      deps.Logger,
			API:      deps.Bridge,
			Timers:   pwm.NewTimerManager(deps.Bridge, deps.Logger),
			Channels: pwm.NewChannelPool(),
		},
		devices: make(map[string]devices.Device),
	}, nil
}

// Run all subsystems until the given context is canceled.
func (s *service) Run(ctx context.Context) error {
	log := s.Logger
	defer s.Bridge.Close()

	if err := s.configureDevices(ctx); err != nil {
		return maskAny(err)
	}
	defer s.closeDevices()

	g, lctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.intrSvc.Run(lctx) })
	g.Go(func() error { return s.telemetry.Run(lctx) })
	log.Info().Str("module-id", s.ModuleID).Msg("worker started")
	return g.Wait()
}

// configureDevices builds and configures the drivers of all attached
// devices.
func (s *service) configureDevices(ctx context.Context) error {
	if len(s.Config.Devices) == 0 {
		return nil
	}
	bus, err := s.Bridge.I2CBus()
	if err != nil {
		return errors.Wrap(err, "failed to open i2c bus")
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, devConf := range s.Config.Devices {
		dev, err := devices.NewDevice(devConf, bus, s.Logger)
		if err != nil {
			return errors.Wrapf(err, "failed to create device '%s'", devConf.ID)
		}
		if err := dev.Configure(ctx); err != nil {
			return errors.Wrapf(err, "failed to configure device '%s'", devConf.ID)
		}
		s.devices[devConf.ID] = dev
		s.Logger.Debug().
			Str("device", devConf.ID).
			Str("type", string(devConf.Type)).
			Msg("device configured")
	}
	return nil
}

// closeDevices brings all configured devices back to a safe state.
func (s *service) closeDevices() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	for id, dev := range s.devices {
		if err := dev.Close(ctx); err != nil {
			s.Logger.Warn().Err(err).Str("device", id).Msg("failed to close device")
		}
	}
	s.devices = make(map[string]devices.Device)
}

// RegisterPinInterrupt hooks the given callback to interrupts on the
// given local pin.
func (s *service) RegisterPinInterrupt(ctx context.Context, pin model.Pin, trigger model.TriggerType, pullUp, pullDown bool, cb intr.Callback) error {
	return s.intrSvc.Register(ctx, pin, trigger, pullUp, pullDown, cb)
}

// UnregisterPinInterrupt removes the callback of the given pin.
func (s *service) UnregisterPinInterrupt(ctx context.Context, pin model.Pin) error {
	return s.intrSvc.Unregister(ctx, pin)
}

// NewPwmOutput creates a PWM output on the given pin.
func (s *service) NewPwmOutput(ctx context.Context, pin model.Pin) (*pwm.Output, error) {
	return pwm.NewOutput(ctx, s.outputDeps, pin)
}

// NewPwmOutputWithChannel creates a PWM output on a specific channel.
func (s *service) NewPwmOutputWithChannel(ctx context.Context, pin model.Pin, channel int) (*pwm.Output, error) {
	return pwm.NewOutputWithChannel(ctx, s.outputDeps, pin, channel)
}

// NewPwmOutputWithTimer creates a PWM output sharing a specific timer.
func (s *service) NewPwmOutputWithTimer(ctx context.Context, pin model.Pin, timer int) (*pwm.Output, error) {
	return pwm.NewOutputWithTimer(ctx, s.outputDeps, pin, timer)
}

// GPIOByID returns the configured expander with the given device ID.
func (s *service) GPIOByID(id string) (devices.GPIO, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	dev, found := s.devices[id]
	if !found {
		return nil, false
	}
	gpio, ok := dev.(devices.GPIO)
	return gpio, ok
}

// State returns a snapshot of the worker state.
func (s *service) State() State {
	s.mutex.Lock()
	deviceIDs := lo.Keys(s.devices)
	s.mutex.Unlock()

	return State{
		ModuleID:  s.ModuleID,
		Version:   s.ProgramVersion,
		StartedAt: s.startedAt,
		InterruptPins: lo.Map(s.intrSvc.RegisteredPins(), func(p model.Pin, _ int) string {
			return p.String()
		}),
		InterruptDrops:    s.intrSvc.QueueDrops(),
		PwmTimersInUse:    s.outputDeps.Timers.AllocatedIndices(),
		PwmChannelsInUse:  s.outputDeps.Channels.AllocatedIndices(),
		ConfiguredDevices: deviceIDs,
	}
}
