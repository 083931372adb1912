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

// Package intr routes pin interrupts from the vendor layer to
// application callbacks. The vendor hook only looks up the route and
// hands it to a bounded queue; a single dispatch worker runs the
// callbacks, so no callback ever runs in interrupt context.
package intr

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	pubsub "github.com/mattn/go-pubsub"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/periphworks/PeriphWorker/model"
	"github.com/periphworks/PeriphWorker/pkg/service/bridge"
)

// DefaultQueueSize is the capacity of the dispatch queue when the
// configuration does not set one.
const DefaultQueueSize = 10

// Callback is invoked by the dispatch worker for every interrupt that
// made it through the queue. It runs on the worker goroutine and may
// block; while it runs, further interrupts pile up in the queue.
type Callback func(ctx context.Context, event Event)

// Event describes one dispatched pin interrupt.
type Event struct {
	// Pin the interrupt fired on.
	Pin model.Pin
	// Trigger the pin was registered with.
	Trigger model.TriggerType
	// Time the event was taken off the queue.
	Time time.Time
}

// Config of the interrupt service.
type Config struct {
	// QueueSize is the capacity of the dispatch queue.
	// When the queue is full further interrupts are counted and dropped,
	// never blocked on.
	QueueSize int
}

// Dependencies of the interrupt service.
type Dependencies struct {
	Log    zerolog.Logger
	Bridge bridge.API
}

// Service dispatches pin interrupts to registered callbacks.
type Service interface {
	// Run the dispatch worker until the given context is canceled.
	Run(ctx context.Context) error
	// Register hooks the given callback to interrupts on the given pin.
	// Registering a pin that already has a callback replaces it.
	Register(ctx context.Context, pin model.Pin, trigger model.TriggerType, pullUp, pullDown bool, cb Callback) error
	// Unregister removes the callback of the given pin.
	Unregister(ctx context.Context, pin model.Pin) error
	// RegisteredPins returns the pins that currently have a callback.
	RegisteredPins() []model.Pin
	// QueueDrops returns the number of interrupts dropped because the
	// dispatch queue was full.
	QueueDrops() uint64
	// Subscribe registers a listener that receives every dispatched
	// Event, in addition to the pin's own callback.
	// The returned function cancels the subscription.
	Subscribe(listener func(Event)) context.CancelFunc
}

type service struct {
	Config
	log    zerolog.Logger
	bridge bridge.API

	installOnce sync.Once
	installErr  error

	mutex  sync.RWMutex
	routes map[model.Pin]*route

	queue  chan *route
	drops  uint64
	events *pubsub.PubSub
}

// route is the dispatch record of one registered pin. It is built once
// at registration time so the vendor hook never allocates.
type route struct {
	pin      model.Pin
	trigger  model.TriggerType
	callback Callback
}

// NewService creates a new interrupt Service.
func NewService(conf Config, deps Dependencies) (Service, error) {
	if conf.QueueSize <= 0 {
		conf.QueueSize = DefaultQueueSize
	}
	return &service{
		Config: conf,
		log:    deps.Log.With().Str("component", "intr").Logger(),
		bridge: deps.Bridge,
		routes: make(map[model.Pin]*route),
		queue:  make(chan *route, conf.QueueSize),
		events: pubsub.New(),
	}, nil
}

// Register hooks the given callback to interrupts on the given pin.
func (s *service) Register(ctx context.Context, pin model.Pin, trigger model.TriggerType, pullUp, pullDown bool, cb Callback) error {
	if err := pin.Validate(); err != nil {
		return maskAny(err)
	}
	if err := trigger.Validate(); err != nil {
		return maskAny(err)
	}
	if cb == nil {
		return errors.Wrap(model.ValidationError, "callback is nil")
	}
	// The low level dispatcher is installed on the first registration
	// and stays installed.
	s.installOnce.Do(func() {
		s.installErr = s.bridge.InstallInterruptService()
	})
	if s.installErr != nil {
		return errors.Wrap(s.installErr, "failed to install interrupt service")
	}
	if err := s.bridge.ConfigurePinInterrupt(pin, trigger, pullUp, pullDown); err != nil {
		return errors.Wrapf(err, "failed to configure interrupt on pin %s", pin)
	}

	s.mutex.Lock()
	prev := s.routes[pin]
	s.routes[pin] = &route{
		pin:      pin,
		trigger:  trigger,
		callback: cb,
	}
	routesGauge.Set(float64(len(s.routes)))
	s.mutex.Unlock()

	if err := s.bridge.AttachInterrupt(pin, s.handleInterrupt); err != nil {
		// A replaced registration keeps working when the new attach
		// fails; its vendor hook is still in place.
		s.mutex.Lock()
		if prev != nil {
			s.routes[pin] = prev
		} else {
			delete(s.routes, pin)
		}
		routesGauge.Set(float64(len(s.routes)))
		s.mutex.Unlock()
		return errors.Wrapf(err, "failed to attach interrupt on pin %s", pin)
	}
	replaced := prev != nil
	s.log.Debug().
		Str("pin", pin.String()).
		Str("trigger", trigger.String()).
		Bool("replaced", replaced).
		Msg("interrupt registered")
	return nil
}

// Unregister removes the callback of the given pin.
func (s *service) Unregister(ctx context.Context, pin model.Pin) error {
	if err := pin.Validate(); err != nil {
		return maskAny(err)
	}
	s.mutex.Lock()
	_, found := s.routes[pin]
	delete(s.routes, pin)
	routesGauge.Set(float64(len(s.routes)))
	s.mutex.Unlock()

	if !found {
		return errors.Wrapf(NotRegisteredError, "pin %s", pin)
	}
	if err := s.bridge.DetachInterrupt(pin); err != nil {
		return errors.Wrapf(err, "failed to detach interrupt on pin %s", pin)
	}
	s.log.Debug().Str("pin", pin.String()).Msg("interrupt unregistered")
	return nil
}

// RegisteredPins returns the pins that currently have a callback.
func (s *service) RegisteredPins() []model.Pin {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	result := make([]model.Pin, 0, len(s.routes))
	for pin := range s.routes {
		result = append(result, pin)
	}
	return result
}

// QueueDrops returns the number of interrupts dropped so far.
func (s *service) QueueDrops() uint64 {
	return atomic.LoadUint64(&s.drops)
}

// Subscribe registers a listener for every dispatched Event.
func (s *service) Subscribe(listener func(Event)) context.CancelFunc {
	s.events.Sub(listener)
	return func() {
		s.events.Leave(listener)
	}
}

// handleInterrupt is the hook given to the vendor layer. It runs in
// interrupt context: a route lookup and a non-blocking queue send, no
// allocation, no logging. When the queue is full the interrupt is
// counted and dropped.
func (s *service) handleInterrupt(pin model.Pin) {
	s.mutex.RLock()
	r := s.routes[pin]
	s.mutex.RUnlock()
	if r == nil {
		return
	}
	select {
	case s.queue <- r:
	default:
		atomic.AddUint64(&s.drops, 1)
		droppedTotal.Inc()
	}
}

// Run the dispatch worker until the given context is canceled.
// Events still in the queue at cancel time are discarded.
func (s *service) Run(ctx context.Context) error {
	s.log.Debug().Int("queue_size", s.QueueSize).Msg("dispatch worker started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-s.queue:
			s.dispatch(ctx, r)
		}
	}
}

// dispatch runs the callback of one dequeued interrupt.
// A panicking callback is logged and does not take the worker down.
func (s *service) dispatch(ctx context.Context, r *route) {
	event := Event{
		Pin:     r.pin,
		Trigger: r.trigger,
		Time:    time.Now(),
	}
	defer func() {
		if p := recover(); p != nil {
			s.log.Error().
				Str("pin", r.pin.String()).
				Interface("panic", p).
				Msg("interrupt callback panicked")
		}
	}()
	r.callback(ctx, event)
	s.events.Pub(event)
	dispatchedTotal.Inc()
}
