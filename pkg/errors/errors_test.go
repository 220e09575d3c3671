package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type codedErr struct{ code string }

func (c *codedErr) Error() string     { return "coded" }
func (c *codedErr) ErrorCode() string { return c.code }

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"plain", errors.New("x"), CodeUnknown},
		{"coded", &codedErr{code: CodeLoopLimit}, CodeLoopLimit},
		{"wrapped coded", fmt.Errorf("outer: %w", &codedErr{code: CodeCycleDetected}), CodeCycleDetected},
		{"sdk error", NewError(CodeMissingBinding, "no binding", nil), CodeMissingBinding},
		{"canceled", fmt.Errorf("run: %w", context.Canceled), CodeRunCanceled},
		{"deadline", context.DeadlineExceeded, CodeTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Code(tt.err))
		})
	}
}

func TestErrorFormatting(t *testing.T) {
	inner := errors.New("boom")
	err := NewError(CodeNodeFailed, "node failed", inner)
	assert.Equal(t, "[NODE_FAILED] node failed: boom", err.Error())
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "[GATE_CLOSED] closed", NewError(CodeGateClosed, "closed", nil).Error())
}

func TestIsCancellation(t *testing.T) {
	assert.True(t, IsCancellation(context.Canceled))
	assert.True(t, IsCancellation(NewError(CodeRunCanceled, "canceled", nil)))
	assert.False(t, IsCancellation(errors.New("x")))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(&codedErr{code: CodeCycleDetected}))
	assert.True(t, IsFatal(fmt.Errorf("wrapped: %w", NewError(CodeInvalidGraph, "bad", nil))))
	assert.False(t, IsFatal(errors.New("boom")))
	assert.False(t, IsFatal(context.Canceled))
	assert.False(t, IsFatal(nil))
}
