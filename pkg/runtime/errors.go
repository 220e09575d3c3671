package runtime

import (
	"errors"
	"fmt"

	daerrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

var (
	// ErrCanceled is matched by the error returned from a canceled run.
	// The error also matches the context's own error.
	ErrCanceled = errors.New("run canceled")

	// ErrLoopLimit is matched by LoopLimitError.
	ErrLoopLimit = errors.New("loop iteration limit exceeded")

	// ErrMissingBinding is matched by MissingBindingError.
	ErrMissingBinding = errors.New("no binding for node")

	// ErrInvalidConfig is returned for an invalid runtime configuration.
	ErrInvalidConfig = errors.New("invalid runtime configuration")

	// ErrNotExecutionOutput is returned when firing a socket that is not an
	// execution output of the node.
	ErrNotExecutionOutput = errors.New("not an execution output")

	// ErrNotStreaming is returned by Emit on a node without an OnItem output.
	ErrNotStreaming = errors.New("node does not stream items")

	// ErrMissingSubgraph is returned for a group node without a subgraph.
	ErrMissingSubgraph = errors.New("group node has no subgraph")
)

// LoopLimitError reports a loop whose header asked for one more iteration
// than allowed.
type LoopLimitError struct {
	Header     string
	HeaderName string
	Limit      int
}

func (e *LoopLimitError) Error() string {
	return fmt.Sprintf("%s: loop %s (%s) exceeded %d iterations", ErrLoopLimit, e.HeaderName, e.Header, e.Limit)
}

func (e *LoopLimitError) Is(target error) bool { return target == ErrLoopLimit }

// ErrorCode implements errors.Coder.
func (e *LoopLimitError) ErrorCode() string { return daerrors.CodeLoopLimit }

// MissingBindingError reports a node whose kind has no binding.
type MissingBindingError struct {
	NodeID   string
	NodeName string
	Kind     string
}

func (e *MissingBindingError) Error() string {
	return fmt.Sprintf("%s %s (%s) of kind %q", ErrMissingBinding, e.NodeName, e.NodeID, e.Kind)
}

func (e *MissingBindingError) Is(target error) bool { return target == ErrMissingBinding }

// ErrorCode implements errors.Coder.
func (e *MissingBindingError) ErrorCode() string { return daerrors.CodeMissingBinding }

// NodeError wraps the failure of a single node.
type NodeError struct {
	// NodeID is the ID of the node that failed
	NodeID string
	// NodeName is the human-readable name of the node
	NodeName string
	// Kind is the node kind
	Kind string
	// Phase is "resolve" or "invoke"
	Phase string
	// Cause is the underlying error
	Cause error
}

func (e *NodeError) Error() string {
	return "node " + e.NodeName + " (" + e.NodeID + ") [" + e.Kind + "] failed during " + e.Phase + ": " + e.Cause.Error()
}

func (e *NodeError) Unwrap() error { return e.Cause }

// ErrorCode reports the cause's code when it has one.
func (e *NodeError) ErrorCode() string {
	if code := daerrors.Code(e.Cause); code != "" && code != daerrors.CodeUnknown {
		return code
	}
	return daerrors.CodeNodeFailed
}

// PanicError wraps a value recovered from a panicking binding.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("binding panicked: %v", e.Value)
}

// ErrorCode implements errors.Coder.
func (e *PanicError) ErrorCode() string { return daerrors.CodeBindingPanicked }

func canceled(cause error) error {
	return fmt.Errorf("%w: %w", ErrCanceled, cause)
}
