// Package cli implements the daedalus commands.
package cli

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options are the flags shared by every command.
type Options struct {
	LogLevel string
	JSON     bool
}

// NewLogger builds a logger for level. Debug uses the development encoder,
// every other level the production JSON encoder on stderr.
func NewLogger(level string) (*zap.Logger, error) {
	if level == "" {
		level = os.Getenv("DAEDALUS_LOG_LEVEL")
	}
	if level == "" {
		level = "warn"
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if lvl == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}
