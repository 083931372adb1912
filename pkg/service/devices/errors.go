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

package devices

import (
	"github.com/pkg/errors"
)

var (
	// InvalidPinIndexError is returned when a pin index is outside the
	// device's pin range.
	InvalidPinIndexError = errors.New("invalid pin index")
	// InvalidDirectionError is returned when a pin is used against its
	// configured direction.
	InvalidDirectionError = errors.New("invalid pin direction")

	maskAny = errors.WithStack
)

// IsInvalidPinIndex returns true when the given error is (or is caused
// by) an InvalidPinIndexError.
func IsInvalidPinIndex(err error) bool {
	return errors.Cause(err) == InvalidPinIndexError
}

// IsInvalidDirection returns true when the given error is (or is caused
// by) an InvalidDirectionError.
func IsInvalidDirection(err error) bool {
	return errors.Cause(err) == InvalidDirectionError
}
