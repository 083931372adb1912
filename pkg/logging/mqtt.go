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

package logging

import (
	"context"
	"fmt"
	"io"
	"time"

	mqttapi "github.com/eclipse/paho.mqtt.golang"
)

type mqttWriter struct {
	queue  chan []byte
	broker string
	client string
	topic  string
}

const (
	mqttQueueSize      = 512
	mqttPublishTimeout = time.Millisecond * 200
)

// NewMQTTWriter creates a log output that forwards log lines to an
// MQTT topic. Writes never block: when the queue is full the oldest
// lines are discarded. The MQTT sender stops when the given context is
// canceled.
func NewMQTTWriter(ctx context.Context, brokerAddress, moduleID, topic string) io.Writer {
	l := &mqttWriter{
		queue:  make(chan []byte, mqttQueueSize),
		broker: brokerAddress,
		client: fmt.Sprintf("%s-logs", moduleID),
		topic:  topic,
	}
	go l.run(ctx)
	return l
}

func (l *mqttWriter) Write(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}
	// The log writer may reuse p after we return.
	line := append([]byte(nil), p...)
	for attempt := 0; attempt < 10; attempt++ {
		select {
		case l.queue <- line:
			return len(p), nil
		default:
			// Queue full; take 1 out and try again
			select {
			case <-l.queue:
				// Continue
			default:
				// Also continue
			}
		}
	}
	// Ignore errors
	return len(p), nil
}

// run connects to the broker and drains the queue.
// Log lines written before the connection is up stay queued.
func (l *mqttWriter) run(ctx context.Context) {
	opts := mqttapi.NewClientOptions().
		AddBroker("tcp://" + l.broker).
		SetClientID(l.client)
	opts.SetKeepAlive(2 * time.Second)
	opts.SetPingTimeout(1 * time.Second)
	opts.SetOrderMatters(true)
	opts.SetAutoReconnect(true)

	client := mqttapi.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		// Broker not reachable; log forwarding stays off.
		return
	}
	defer client.Disconnect(250)

	for {
		select {
		case <-ctx.Done():
			return
		case line := <-l.queue:
			token := client.Publish(l.topic, 0, false, line)
			token.WaitTimeout(mqttPublishTimeout)
		}
	}
}
