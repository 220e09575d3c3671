package nodes

import (
	"fmt"

	daerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/graph"
)

// ConfigError reports an invalid static configuration of a node.
type ConfigError struct {
	NodeID  string
	Field   string
	Message string
	Err     error
}

// NewConfigError creates a ConfigError for a node.
func NewConfigError(node *graph.Node, field, message string, err error) *ConfigError {
	return &ConfigError{NodeID: node.ID, Field: field, Message: message, Err: err}
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("node %s: config error", e.NodeID)
	if e.Field != "" {
		msg += fmt.Sprintf(" [%s]", e.Field)
	}
	msg += ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ErrorCode implements errors.Coder. A misconfigured node fails on every run.
func (e *ConfigError) ErrorCode() string { return daerrors.CodeConfiguration }

// String reads a string setting from the node configuration.
func String(node *graph.Node, key, def string) string {
	if v, ok := node.Config[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Int reads an integer setting. JSON and YAML decoders may hand back any
// numeric type, so all of them are accepted.
func Int(node *graph.Node, key string, def int) int {
	if v, ok := node.Config[key]; ok {
		if i, ok := ToInt(v); ok {
			return i
		}
	}
	return def
}

// Bool reads a boolean setting.
func Bool(node *graph.Node, key string, def bool) bool {
	if v, ok := node.Config[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// ToInt converts an integral value of any Go numeric type.
func ToInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case float32:
		if float32(int(n)) == n {
			return int(n), true
		}
	case float64:
		if float64(int(n)) == n {
			return int(n), true
		}
	}
	return 0, false
}

// ToFloat converts any Go numeric value to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	if i, ok := ToInt(v); ok {
		return float64(i), true
	}
	return 0, false
}
