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

// Package telemetry publishes dispatched interrupt events on an MQTT
// broker so other systems on the network can react to pin activity.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqttapi "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/periphworks/PeriphWorker/pkg/service/intr"
	"github.com/periphworks/PeriphWorker/pkg/service/util"
)

const (
	mqttPublishTimeout = time.Millisecond * 200
)

// Config of the telemetry service.
type Config struct {
	// MQTTBrokerAddress is the host:port of the broker.
	// When empty, telemetry is disabled and Run blocks until the
	// context is canceled.
	MQTTBrokerAddress string
	// TopicPrefix of all published topics.
	TopicPrefix string
	// ModuleID identifies this worker in client IDs and payloads.
	ModuleID string
}

// Dependencies of the telemetry service.
type Dependencies struct {
	Log    zerolog.Logger
	Events intr.Service
}

// Service publishes interrupt events over MQTT.
type Service interface {
	// Run connects to the broker and publishes events until the given
	// context is canceled. Connection failures are retried.
	Run(ctx context.Context) error
}

type service struct {
	Config
	log    zerolog.Logger
	events intr.Service

	mutex  sync.Mutex
	client mqttapi.Client
}

// NewService creates a new telemetry Service.
func NewService(conf Config, deps Dependencies) (Service, error) {
	conf.TopicPrefix = strings.TrimSuffix(conf.TopicPrefix, "/") + "/"
	return &service{
		Config: conf,
		log:    deps.Log.With().Str("component", "telemetry").Logger(),
		events: deps.Events,
	}, nil
}

// eventMessage is the JSON payload published per interrupt.
type eventMessage struct {
	Module  string `json:"module"`
	Pin     string `json:"pin"`
	Trigger string `json:"trigger"`
	Time    string `json:"time"`
}

// Run connects to the broker and publishes events until the given
// context is canceled.
func (s *service) Run(ctx context.Context) error {
	if s.MQTTBrokerAddress == "" {
		s.log.Debug().Msg("no broker address configured; telemetry disabled")
		<-ctx.Done()
		return nil
	}
	return util.UntilCanceled(ctx, s.log, "telemetry publisher", func() error {
		return s.runConnection(ctx)
	})
}

// runConnection holds one broker connection until it fails or the
// context is canceled.
func (s *service) runConnection(ctx context.Context) error {
	opts := mqttapi.NewClientOptions().
		AddBroker("tcp://" + s.MQTTBrokerAddress).
		SetClientID(fmt.Sprintf("%s-telemetry", s.ModuleID))
	opts.SetKeepAlive(2 * time.Second)
	opts.SetPingTimeout(1 * time.Second)
	opts.SetOrderMatters(false)

	client := mqttapi.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return errors.Wrap(token.Error(), "failed to connect to mqtt")
	}
	s.log.Debug().Str("broker", s.MQTTBrokerAddress).Msg("connected to mqtt broker")

	s.mutex.Lock()
	s.client = client
	s.mutex.Unlock()

	cancelSub := s.events.Subscribe(s.publish)
	defer cancelSub()

	<-ctx.Done()

	s.mutex.Lock()
	s.client = nil
	s.mutex.Unlock()
	client.Disconnect(250)
	return nil
}

// publish sends a single event to the broker.
func (s *service) publish(event intr.Event) {
	s.mutex.Lock()
	client := s.client
	s.mutex.Unlock()
	if client == nil {
		return
	}
	msg := eventMessage{
		Module:  s.ModuleID,
		Pin:     event.Pin.String(),
		Trigger: event.Trigger.String(),
		Time:    event.Time.UTC().Format(time.RFC3339Nano),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to encode event")
		return
	}
	topic := s.TopicPrefix + event.Pin.String()
	token := client.Publish(topic, 0, false, payload)
	if token.WaitTimeout(mqttPublishTimeout) && token.Error() != nil {
		s.log.Warn().Err(token.Error()).Str("topic", topic).Msg("failed to publish event")
		publishFailuresTotal.Inc()
		return
	}
	publishedTotal.Inc()
}
