package agent

import (
	"errors"
	"fmt"
)

// Terminal loop failures. They end the invocation but never corrupt
// memory: every turn produced before the failure stays appended.
var (
	// ErrStepLimitExceeded means the loop hit the per-query reasoning
	// step bound without producing a final answer.
	ErrStepLimitExceeded = errors.New("agent: step limit exceeded")

	// ErrTimeout means the invocation wall clock (or a model-call
	// deadline) expired.
	ErrTimeout = errors.New("agent: query timed out")

	// ErrCancelled means the caller cancelled the invocation.
	ErrCancelled = errors.New("agent: query cancelled")
)

// ModelError reports a model inference failure that was not a timeout or
// cancellation. It is terminal for the invocation.
type ModelError struct {
	Cause error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("agent: model call failed: %v", e.Cause)
}

func (e *ModelError) Unwrap() error { return e.Cause }
