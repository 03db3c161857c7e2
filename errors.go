package redo

import (
	"errors"
	"fmt"
)

// Error definitions
var (
	// ErrConfigure reports an invalid Configure or New invocation.
	ErrConfigure = errors.New("redo: invalid configuration")

	// ErrData reports that a store backend could not persist a task.
	ErrData = errors.New("redo: store operation failed")

	// ErrStoreFull is returned by a bounded store whose ready queue is full.
	ErrStoreFull = fmt.Errorf("%w: ready queue full", ErrData)

	// ErrRunnerNotFound reports that no runner is registered under a task's
	// runner name at retry time.
	ErrRunnerNotFound = errors.New("redo: runner not found")

	// ErrNotAFunction reports that the value handed to Do is not callable.
	ErrNotAFunction = errors.New("redo: wrapped value is not a function")

	// ErrBadSignature reports a wrapped function whose signature the engine
	// cannot re-invoke (it must return an error as its final result).
	ErrBadSignature = errors.New("redo: unsupported function signature")

	// ErrArgMismatch reports stored arguments that cannot be converted to
	// the wrapped function's parameter types.
	ErrArgMismatch = errors.New("redo: argument mismatch")
)

// RetryRequest is the control signal a non-idempotent function returns to
// demand a retry with replacement arguments. It satisfies error so the
// caller still observes the failure, but it is a member of the control
// protocol, not of the error taxonomy.
type RetryRequest struct {
	Args   []any
	Kwargs map[string]any
}

// Retry builds a RetryRequest with the given replacement positional
// arguments. Replacement keyword arguments go in via WithKwargs.
func Retry(args ...any) *RetryRequest {
	return &RetryRequest{Args: args}
}

// WithKwargs sets the replacement keyword arguments and returns the request.
func (r *RetryRequest) WithKwargs(kwargs map[string]any) *RetryRequest {
	r.Kwargs = kwargs
	return r
}

func (r *RetryRequest) Error() string {
	return "redo: retry requested with replacement arguments"
}
