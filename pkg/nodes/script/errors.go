package script

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

// ErrorType categorizes script failures.
type ErrorType string

const (
	ErrorTypeSyntax   ErrorType = "syntax_error"
	ErrorTypeRuntime  ErrorType = "runtime_error"
	ErrorTypeTimeout  ErrorType = "timeout_error"
	ErrorTypeSecurity ErrorType = "security_error"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("vm pool is closed")

// Error is a structured JavaScript failure.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Stack   string    `json:"stack,omitempty"`
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Type, e.Message)
	if e.Stack != "" {
		b.WriteString("\n")
		b.WriteString(e.Stack)
	}
	return b.String()
}

// Is matches errors of the same type, so callers can test against the
// package level values.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Message == "" && t.Type == e.Type
}

// Sentinels usable with errors.Is.
var (
	ErrTimeout  = &Error{Type: ErrorTypeTimeout}
	ErrSyntax   = &Error{Type: ErrorTypeSyntax}
	ErrRuntime  = &Error{Type: ErrorTypeRuntime}
	ErrSecurity = &Error{Type: ErrorTypeSecurity}
)

func newSecurityError(msg string) *Error {
	return &Error{Type: ErrorTypeSecurity, Message: msg}
}

// fromException converts a thrown JavaScript value.
func fromException(exc *goja.Exception) *Error {
	e := &Error{Type: ErrorTypeRuntime, Message: exc.Error()}
	if v := exc.Value(); v != nil {
		if obj, ok := v.(*goja.Object); ok {
			if m := obj.Get("message"); m != nil && !goja.IsUndefined(m) {
				e.Message = m.String()
			}
			if s := obj.Get("stack"); s != nil && !goja.IsUndefined(s) {
				e.Stack = s.String()
			}
		}
	}
	if strings.Contains(e.Message, string(ErrorTypeSecurity)) {
		e.Type = ErrorTypeSecurity
	}
	return e
}
