// Package vcserr defines the error taxonomy shared by every layer of the
// object-access core: invalid-data, io, cancelled, and invalid-state.
// Not-found is deliberately not part of this taxonomy — callers that look
// an object up get a distinct zero-value/ok-bool or (nil, nil) return, not
// an error (see pkg/vcscore.Accessor.Open).
package vcserr

import "errors"

var (
	// ErrInvalidData marks corruption: bad signatures, non-monotonic
	// fanout tables, malformed varints, reserved delta opcodes, truncated
	// entries, rejected zlib headers, delta base-size mismatches, and
	// chain-depth overruns.
	ErrInvalidData = errors.New("vcscore: invalid data")

	// ErrCancelled marks an operation aborted via a context cancellation
	// observed at a read/seek/open/create-temp-file suspension point.
	ErrCancelled = errors.New("vcscore: cancelled")

	// ErrInvalidState marks use of a stream or accessor after Close.
	ErrInvalidState = errors.New("vcscore: invalid state")
)

// IsInvalidData reports whether err (or anything it wraps) is ErrInvalidData.
func IsInvalidData(err error) bool { return errors.Is(err, ErrInvalidData) }

// IsCancelled reports whether err (or anything it wraps) is ErrCancelled.
func IsCancelled(err error) bool { return errors.Is(err, ErrCancelled) }

// IsInvalidState reports whether err (or anything it wraps) is ErrInvalidState.
func IsInvalidState(err error) bool { return errors.Is(err, ErrInvalidState) }
