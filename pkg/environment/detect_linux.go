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

// Package environment inspects the machine the worker runs on.
package environment

import (
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// AutoDetectBridgeType detects the default bridge type based on the
// environment. Raspberry Pi kernels get the rpi bridge; anything else
// falls back to the virtual bridge.
func AutoDetectBridgeType(log zerolog.Logger) string {
	var name unix.Utsname
	if err := unix.Uname(&name); err != nil {
		log.Warn().Err(err).Msg("uname failed; using virtual bridge")
		return "virtual"
	}
	release := strings.TrimRight(string(name.Release[:]), "\x00")
	machine := strings.TrimRight(string(name.Machine[:]), "\x00")
	log.Debug().Str("release", release).Str("machine", machine).Msg("detected environment")
	if strings.Contains(release, "-rpi") || strings.HasPrefix(machine, "arm") || strings.HasPrefix(machine, "aarch64") {
		return "rpi"
	}
	return "virtual"
}
