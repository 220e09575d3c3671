package script

import (
	"fmt"
	"time"

	"github.com/wehubfusion/Daedalus/pkg/graph"
	"github.com/wehubfusion/Daedalus/pkg/nodes"
)

// Security levels of the sandbox.
const (
	SecurityLevelStrict     = "strict"
	SecurityLevelStandard   = "standard"
	SecurityLevelPermissive = "permissive"
)

// DefaultTimeout bounds a single script invocation.
const DefaultTimeout = 5 * time.Second

// Config is the static configuration of a script.js node.
type Config struct {
	Script        string
	Timeout       time.Duration
	SecurityLevel string
}

// ConfigFromNode reads the node's configuration. The timeout may be given as
// a duration string ("250ms") or as milliseconds.
func ConfigFromNode(n *graph.Node) (Config, error) {
	cfg := Config{
		Script:        nodes.String(n, "script", ""),
		SecurityLevel: nodes.String(n, "security_level", ""),
	}
	switch v := n.Config["timeout"].(type) {
	case nil:
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, nodes.NewConfigError(n, "timeout", "invalid duration", err)
		}
		cfg.Timeout = d
	default:
		ms, ok := nodes.ToInt(v)
		if !ok {
			return cfg, nodes.NewConfigError(n, "timeout", fmt.Sprintf("unsupported type %T", v), nil)
		}
		cfg.Timeout = time.Duration(ms) * time.Millisecond
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, nodes.NewConfigError(n, "", err.Error(), nil)
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.SecurityLevel == "" {
		c.SecurityLevel = SecurityLevelStandard
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Script == "" {
		return fmt.Errorf("script cannot be empty")
	}
	switch c.SecurityLevel {
	case SecurityLevelStrict, SecurityLevelStandard, SecurityLevelPermissive:
	default:
		return fmt.Errorf("invalid security level '%s'", c.SecurityLevel)
	}
	return nil
}
