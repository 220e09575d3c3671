package runtime

import (
	"fmt"
	goruntime "runtime"

	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/concurrency"
	"github.com/wehubfusion/Daedalus/pkg/graph"
	"github.com/wehubfusion/Daedalus/pkg/telemetry"
)

// Config configures a Runtime.
type Config struct {
	// MaxConcurrency bounds the node tasks running at once across a run.
	// Default: 4 x GOMAXPROCS
	MaxConcurrency int

	// Parallel enables concurrent execution of layers and parallel steps.
	// When false every step runs sequentially in plan order.
	// Default: true
	Parallel bool

	// MaxLoopIterations is the most times a loop body may run. One more
	// continue signal fails the run.
	// Default: 10000
	MaxLoopIterations int

	// StreamMode is used by streaming nodes that do not choose their own.
	// Default: sequential
	StreamMode graph.StreamMode

	// StartPaused closes the gate before the first node runs.
	StartPaused bool

	// Services is handed to every binding.
	Services Services

	// Logger for structured logging (nil for no logging)
	Logger *zap.Logger

	// Observer receives progress events (nil for none)
	Observer telemetry.Observer
}

// DefaultConfig returns sensible defaults for the runtime.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency:    goruntime.GOMAXPROCS(0) * 4,
		Parallel:          true,
		MaxLoopIterations: concurrency.DefaultMaxLoopIterations,
		StreamMode:        graph.StreamSequential,
	}
}

// ConfigFromEnv derives a configuration from the environment-driven
// concurrency settings.
func ConfigFromEnv(c *concurrency.Config) Config {
	if c == nil {
		c = concurrency.LoadConfig()
	}
	cfg := DefaultConfig()
	cfg.MaxConcurrency = c.MaxConcurrent
	cfg.MaxLoopIterations = c.MaxLoopIterations
	cfg.Parallel = c.ProcessorMode != concurrency.ProcessorModeSequential
	if c.IteratorMode == concurrency.IteratorModeParallel {
		cfg.StreamMode = graph.StreamConcurrent
	}
	return cfg
}

// Validate applies defaults and rejects invalid settings.
func (c *Config) Validate() error {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = goruntime.GOMAXPROCS(0) * 4
	}
	if c.MaxLoopIterations <= 0 {
		c.MaxLoopIterations = concurrency.DefaultMaxLoopIterations
	}
	switch c.StreamMode {
	case graph.StreamDefault:
		c.StreamMode = graph.StreamSequential
	case graph.StreamSequential, graph.StreamConcurrent:
	default:
		return fmt.Errorf("%w: unknown stream mode %q", ErrInvalidConfig, c.StreamMode)
	}
	if c.Services == nil {
		c.Services = ServiceMap{}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Observer == nil {
		c.Observer = telemetry.Nop
	}
	return nil
}

// WithMaxConcurrency sets the concurrency bound.
func (c Config) WithMaxConcurrency(n int) Config {
	c.MaxConcurrency = n
	return c
}

// WithParallel sets whether layers and parallel steps run concurrently.
func (c Config) WithParallel(enable bool) Config {
	c.Parallel = enable
	return c
}

// WithMaxLoopIterations sets the loop ceiling.
func (c Config) WithMaxLoopIterations(n int) Config {
	c.MaxLoopIterations = n
	return c
}

// WithStreamMode sets the default streaming mode.
func (c Config) WithStreamMode(mode graph.StreamMode) Config {
	c.StreamMode = mode
	return c
}

// WithStartPaused sets whether runs start with the gate closed.
func (c Config) WithStartPaused(paused bool) Config {
	c.StartPaused = paused
	return c
}

// WithServices sets the services handed to bindings.
func (c Config) WithServices(s Services) Config {
	c.Services = s
	return c
}

// WithLogger sets the logger.
func (c Config) WithLogger(logger *zap.Logger) Config {
	c.Logger = logger
	return c
}

// WithObserver sets the progress observer.
func (c Config) WithObserver(o telemetry.Observer) Config {
	c.Observer = o
	return c
}
