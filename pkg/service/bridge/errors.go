package bridge

import "github.com/pkg/errors"

var (
	// NotSupportedError is returned when the board behind the bridge has
	// no hardware for the requested operation.
	NotSupportedError = errors.New("not supported")
	IsNotSupported    = isErrorFunc(NotSupportedError)
	// InvalidPinError is returned for pin numbers outside the local range.
	InvalidPinError = errors.New("invalid pin")
	IsInvalidPin    = isErrorFunc(InvalidPinError)

	maskAny = errors.WithStack
)

func isErrorFunc(typeOfError error) func(err error) bool {
	return func(err error) bool {
		return err == typeOfError || errors.Cause(err) == typeOfError
	}
}
