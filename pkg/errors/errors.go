// Package errors defines the stable error codes reported by the engine and
// a categorizer mapping any error to one of them.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Error codes reported on telemetry events and run reports.
const (
	CodeUnknown         = "UNKNOWN_ERROR"
	CodeCycleDetected   = "CYCLE_DETECTED"
	CodeLoopLimit       = "LOOP_LIMIT_EXCEEDED"
	CodeMissingBinding  = "MISSING_BINDING"
	CodeNodeFailed      = "NODE_FAILED"
	CodeRunCanceled     = "RUN_CANCELED"
	CodeTimeout         = "TIMEOUT_ERROR"
	CodeReentrantEvent  = "REENTRANT_EVENT"
	CodeGateClosed      = "GATE_CLOSED"
	CodeInvalidGraph    = "INVALID_GRAPH"
	CodeConfiguration   = "CONFIGURATION_ERROR"
	CodeBindingPanicked = "BINDING_PANIC"
)

// Coder is implemented by errors carrying a stable code.
type Coder interface {
	ErrorCode() string
}

// Error represents a coded engine error.
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error, if any
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorCode implements Coder.
func (e *Error) ErrorCode() string {
	return e.Code
}

// NewError creates a new coded error
func NewError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Code maps err to a stable code. The outermost coded error wins, so a node
// failure wrapping a binding error reports the node failure.
func Code(err error) string {
	if err == nil {
		return ""
	}

	var coder Coder
	if errors.As(err, &coder) {
		return coder.ErrorCode()
	}

	switch {
	case errors.Is(err, context.Canceled):
		return CodeRunCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	}
	return CodeUnknown
}

// IsCancellation reports whether err stems from a canceled or expired run.
func IsCancellation(err error) bool {
	switch Code(err) {
	case CodeRunCanceled, CodeTimeout:
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// IsFatal reports whether err describes a broken graph or runtime setup
// rather than a failure of node logic. Runs failing this way fail the same
// way on every attempt.
func IsFatal(err error) bool {
	switch Code(err) {
	case CodeCycleDetected, CodeLoopLimit, CodeMissingBinding, CodeInvalidGraph,
		CodeConfiguration, CodeReentrantEvent:
		return true
	}
	return false
}
