package limiter

import "errors"

var (
	// ErrInvalidBucket is returned when a bucket has a non-positive capacity, rate or interval.
	ErrInvalidBucket = errors.New("limiter: invalid bucket")
	// ErrAcquireTimeout is matched by errors returned from Acquire when the context ends first.
	ErrAcquireTimeout = errors.New("limiter: acquire timed out")
	// ErrClosed is returned by Acquire once the limiter has been closed.
	ErrClosed = errors.New("limiter: closed")
)

// TimeoutError is returned by Acquire when the caller's context is cancelled or
// its deadline passes before a token became available. The waiter never consumed a token.
// It matches ErrAcquireTimeout and unwraps to the context error.
type TimeoutError struct {
	Cause error
}

func (e *TimeoutError) Error() string {
	return ErrAcquireTimeout.Error() + ": " + e.Cause.Error()
}

// Is reports whether target is ErrAcquireTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrAcquireTimeout
}

// Unwrap returns the context error that ended the wait.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}
