package slots

import "github.com/pkg/errors"

var (
	// ResourceExhaustedError is returned when no free slot is left in a pool.
	ResourceExhaustedError = errors.New("no free slot")
	IsResourceExhausted    = isErrorFunc(ResourceExhaustedError)
	// InvalidIndexError is returned for indices outside the pool range.
	InvalidIndexError = errors.New("invalid slot index")
	IsInvalidIndex    = isErrorFunc(InvalidIndexError)
	// DoubleReleaseError is returned when a handle is released twice.
	DoubleReleaseError = errors.New("slot released twice")
	IsDoubleRelease    = isErrorFunc(DoubleReleaseError)

	maskAny = errors.WithStack
)

func isErrorFunc(typeOfError error) func(err error) bool {
	return func(err error) bool {
		return err == typeOfError || errors.Cause(err) == typeOfError
	}
}
