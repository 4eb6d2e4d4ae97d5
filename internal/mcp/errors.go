package mcp

import (
	"errors"
	"fmt"
)

// Sentinel errors for provider lifecycle failures.
var (
	// ErrNotStarted is returned when tools are listed or invoked before a
	// successful Start.
	ErrNotStarted = errors.New("mcp: provider not started")

	// ErrProviderUnavailable is returned when the tool backend cannot be
	// reached within the startup timeout.
	ErrProviderUnavailable = errors.New("mcp: provider unavailable")

	// ErrProviderDisconnected is returned when the backend connection was
	// lost after a successful Start. Callers must not silently retry; the
	// failure is surfaced to the model as a tool-result error.
	ErrProviderDisconnected = errors.New("mcp: provider disconnected")
)

// InvalidToolCallError reports a tool call rejected before dispatch:
// unknown tool, unknown parameter, missing required parameter, or a
// parameter type mismatch. No backend call is made.
type InvalidToolCallError struct {
	Tool   string
	Reason string
}

func (e *InvalidToolCallError) Error() string {
	return fmt.Sprintf("mcp: invalid call to tool %q: %s", e.Tool, e.Reason)
}

// ToolExecutionError reports a backend failure while executing a valid
// tool call.
type ToolExecutionError struct {
	Tool  string
	Cause error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("mcp: tool %q failed: %v", e.Tool, e.Cause)
}

func (e *ToolExecutionError) Unwrap() error { return e.Cause }
