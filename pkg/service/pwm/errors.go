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
	"github.com/pkg/errors"
)

var (
	// AlreadyClosedError is returned when an operation is invoked on a
	// closed Output.
	AlreadyClosedError = errors.New("output already closed")

	maskAny = errors.WithStack
)

// IsAlreadyClosed returns true when the given error is (or is caused
// by) an AlreadyClosedError.
func IsAlreadyClosed(err error) bool {
	return errors.Cause(err) == AlreadyClosedError
}
