package concurrency

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// ProcessorMode defines whether independent nodes of a layer run concurrently
type ProcessorMode string

const (
	ProcessorModeConcurrent ProcessorMode = "concurrent"
	ProcessorModeSequential ProcessorMode = "sequential"
)

// IteratorMode defines how stream items are processed downstream
type IteratorMode string

const (
	IteratorModeParallel   IteratorMode = "parallel"
	IteratorModeSequential IteratorMode = "sequential"
)

// ConfigSource indicates where the configuration came from
type ConfigSource string

const (
	ConfigSourceEnvVar     ConfigSource = "environment_variable"
	ConfigSourceAutoDetect ConfigSource = "auto_detect"
	ConfigSourceDefault    ConfigSource = "default"
)

// DefaultMaxLoopIterations is the loop ceiling used when none is configured.
const DefaultMaxLoopIterations = 10000

// Config holds concurrency configuration parameters
type Config struct {
	MaxConcurrent     int
	MaxLoopIterations int
	ProcessorMode     ProcessorMode
	IteratorMode      IteratorMode
	Source            ConfigSource
	IsKubernetes      bool
	EffectiveCPUs     int
}

// LoadConfig loads concurrency configuration with priority: env vars > auto-detection > defaults
func LoadConfig() *Config {
	config := &Config{}

	config.IsKubernetes = isKubernetes()

	// Respects cgroup limits once automaxprocs has run
	config.EffectiveCPUs = runtime.GOMAXPROCS(0)

	if maxConcurrent := getEnvInt("DAEDALUS_MAX_CONCURRENT", 0); maxConcurrent > 0 {
		config.MaxConcurrent = maxConcurrent
		config.Source = ConfigSourceEnvVar
	} else if multiplier := getEnvInt("DAEDALUS_CONCURRENCY_MULTIPLIER", 0); multiplier > 0 {
		config.MaxConcurrent = config.EffectiveCPUs * multiplier
		config.Source = ConfigSourceEnvVar
	} else {
		config.MaxConcurrent = getDefaultMaxConcurrent(config.IsKubernetes, config.EffectiveCPUs)
		config.Source = ConfigSourceAutoDetect
	}

	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = 1
	}

	config.MaxLoopIterations = getEnvInt("DAEDALUS_MAX_LOOP_ITERATIONS", DefaultMaxLoopIterations)
	if config.MaxLoopIterations < 1 {
		config.MaxLoopIterations = DefaultMaxLoopIterations
	}

	config.ProcessorMode = ProcessorMode(strings.ToLower(getEnv("DAEDALUS_PROCESSOR_MODE", string(ProcessorModeConcurrent))))
	if config.ProcessorMode != ProcessorModeConcurrent && config.ProcessorMode != ProcessorModeSequential {
		config.ProcessorMode = ProcessorModeConcurrent
	}

	// Sequential by default for predictable item ordering
	config.IteratorMode = IteratorMode(strings.ToLower(getEnv("DAEDALUS_ITERATOR_MODE", string(IteratorModeSequential))))
	if config.IteratorMode != IteratorModeParallel && config.IteratorMode != IteratorModeSequential {
		config.IteratorMode = IteratorModeSequential
	}

	return config
}

// isKubernetes detects if the application is running in Kubernetes
func isKubernetes() bool {
	return os.Getenv("KUBERNETES_SERVICE_HOST") != ""
}

// getDefaultMaxConcurrent returns sensible defaults based on environment
func getDefaultMaxConcurrent(isK8s bool, cpus int) int {
	if isK8s {
		// Conservative for Kubernetes to prevent resource exhaustion
		return cpus * 2
	}
	return cpus * 4
}

// getEnvInt retrieves an integer from environment variable with default fallback
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnv retrieves a string from environment variable with default fallback
func getEnv(key string, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// String returns a formatted string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{MaxConcurrent: %d, MaxLoopIterations: %d, ProcessorMode: %s, IteratorMode: %s, IsK8s: %t, CPUs: %d, Source: %s}",
		c.MaxConcurrent,
		c.MaxLoopIterations,
		c.ProcessorMode,
		c.IteratorMode,
		c.IsKubernetes,
		c.EffectiveCPUs,
		c.Source,
	)
}
