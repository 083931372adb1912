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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	terminate "github.com/pulcy/go-terminate"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/periphworks/PeriphWorker/model"
	"github.com/periphworks/PeriphWorker/pkg/environment"
	"github.com/periphworks/PeriphWorker/pkg/logging"
	"github.com/periphworks/PeriphWorker/pkg/server"
	"github.com/periphworks/PeriphWorker/pkg/service"
	"github.com/periphworks/PeriphWorker/pkg/service/bridge"
)

const (
	projectName       = "Periph Worker"
	defaultServerPort = 7129
)

var (
	projectVersion = "dev"
	projectBuild   = "dev"
)

func main() {
	var levelFlag string
	var serverHost string
	var serverPort int
	var bridgeType string
	var moduleID string
	var mqttBroker string
	var mqttTopicPrefix string
	var queueSize int
	var devicesFile string

	pflag.StringVarP(&levelFlag, "level", "l", "debug", "Set log level")
	pflag.StringVarP(&bridgeType, "bridge", "b", "auto", "Type of bridge to use (auto|rpi|virtual)")
	pflag.StringVar(&serverHost, "host", "0.0.0.0", "Host address the HTTP server will listen on")
	pflag.IntVar(&serverPort, "port", defaultServerPort, "Port the HTTP server will listen on")
	pflag.StringVar(&moduleID, "module-id", "", "Identifier of this worker")
	pflag.StringVar(&mqttBroker, "mqtt-broker", "", "Host:port of the MQTT broker used for telemetry (empty disables telemetry)")
	pflag.StringVar(&mqttTopicPrefix, "mqtt-topic-prefix", "periphworker/events", "Topic prefix of published telemetry")
	pflag.IntVar(&queueSize, "interrupt-queue-size", 0, "Capacity of the interrupt dispatch queue (0 uses the default)")
	pflag.StringVar(&devicesFile, "devices", "", "Path of a JSON file describing attached I2C devices")
	pflag.Parse()

	if moduleID == "" {
		if hostname, err := os.Hostname(); err == nil {
			moduleID = hostname
		} else {
			moduleID = "periphworker"
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	var logOutput io.Writer = zerolog.ConsoleWriter{Out: os.Stderr}
	if mqttBroker != "" {
		logOutput = logging.NewMultiWriter(logOutput,
			logging.NewMQTTWriter(ctx, mqttBroker, moduleID, mqttTopicPrefix+"/logs"))
	}
	logger := zerolog.New(logOutput).With().Timestamp().Logger()
	if level, err := zerolog.ParseLevel(levelFlag); err != nil {
		Exitf("Invalid log level '%s': %v\n", levelFlag, err)
	} else {
		logger = logger.Level(level)
	}

	if bridgeType == "auto" {
		bridgeType = environment.AutoDetectBridgeType(logger)
	}

	var br bridge.API
	var err error
	switch bridgeType {
	case "rpi":
		br, err = bridge.NewRaspberryPiBridge(logger)
		if err != nil {
			Exitf("Failed to initialize Raspberry Pi Bridge: %v\n", err)
		}
	case "virtual":
		br = bridge.NewVirtualBridge()
	default:
		Exitf("Unknown bridge type '%s' (auto|rpi|virtual)\n", bridgeType)
	}

	var deviceConfigs []model.HWDevice
	if devicesFile != "" {
		content, err := os.ReadFile(devicesFile)
		if err != nil {
			Exitf("Failed to read devices file: %v\n", err)
		}
		if err := json.Unmarshal(content, &deviceConfigs); err != nil {
			Exitf("Failed to parse devices file: %v\n", err)
		}
	}

	svc, err := service.NewService(service.Config{
		ProgramVersion:       projectVersion,
		ModuleID:             moduleID,
		MQTTBrokerAddress:    mqttBroker,
		TelemetryTopicPrefix: mqttTopicPrefix,
		InterruptQueueSize:   queueSize,
		Devices:              deviceConfigs,
	}, service.Dependencies{
		Logger: logger,
		Bridge: br,
	})
	if err != nil {
		Exitf("Failed to initialize Service: %v\n", err)
	}

	httpServer, err := server.New(server.Config{
		Host:     serverHost,
		HTTPPort: serverPort,
	}, logger, svc)
	if err != nil {
		Exitf("Failed to initialize Server: %v\n", err)
	}

	// Prepare to shutdown in a controlled manor
	t := terminate.NewTerminator(func(template string, args ...interface{}) {
		logger.Info().Msgf(template, args...)
	}, cancel)
	go t.ListenSignals()

	fmt.Printf("Starting %s (version %s build %s)\n", projectName, projectVersion, projectBuild)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(ctx) })
	g.Go(func() error { return httpServer.Run(ctx) })
	if err := g.Wait(); err != nil && err != context.Canceled {
		Exitf("Service run failed: %#v", err)
	}
}

// Print the given error message and exit with code 1
func Exitf(message string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, message, args...)
	os.Exit(1)
}
