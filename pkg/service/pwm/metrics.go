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

package pwm

import (
	"github.com/periphworks/PeriphWorker/pkg/metrics"
)

const (
	subSystem = "pwm"
)

var (
	// Number of PWM outputs currently open
	outputsOpenGauge = metrics.MustRegisterGauge(subSystem,
		"outputs_open",
		"Number of PWM outputs currently open")
	// Total number of duty cycle updates
	dutySetTotal = metrics.MustRegisterCounter(subSystem,
		"duty_set_total",
		"Total number of duty cycle updates")
	// Total number of timer frequency updates
	frequencySetTotal = metrics.MustRegisterCounter(subSystem,
		"frequency_set_total",
		"Total number of timer frequency updates")
	// Total number of hardware timer configurations
	timerConfigurationsTotal = metrics.MustRegisterCounter(subSystem,
		"timer_configurations_total",
		"Total number of hardware timer configurations")
)
