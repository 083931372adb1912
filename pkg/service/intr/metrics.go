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

package intr

import (
	"github.com/periphworks/PeriphWorker/pkg/metrics"
)

const (
	subSystem = "intr"
)

var (
	// Total number of interrupts dispatched to callbacks
	dispatchedTotal = metrics.MustRegisterCounter(subSystem,
		"dispatched_total",
		"Total number of interrupts dispatched to callbacks")
	// Total number of interrupts dropped because the queue was full
	droppedTotal = metrics.MustRegisterCounter(subSystem,
		"dropped_total",
		"Total number of interrupts dropped because the queue was full")
	// Number of pins with a registered callback
	routesGauge = metrics.MustRegisterGauge(subSystem,
		"routes",
		"Number of pins with a registered callback")
)
