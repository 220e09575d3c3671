package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("DAEDALUS_OTLP_ENDPOINT", "collector:4318")
	t.Setenv("DAEDALUS_ENVIRONMENT", "staging")
	t.Setenv("DAEDALUS_TRACE_SAMPLE_RATIO", "0.25")

	cfg := ConfigFromEnv(DefaultConfig("daedalus"))
	assert.Equal(t, "collector:4318", cfg.OTLPEndpoint)
	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, 0.25, cfg.SampleRatio)
	assert.Equal(t, "daedalus", cfg.ServiceName)
}

func TestConfigFromEnvIgnoresInvalidRatio(t *testing.T) {
	t.Setenv("DAEDALUS_TRACE_SAMPLE_RATIO", "2")
	cfg := ConfigFromEnv(DefaultConfig("daedalus"))
	assert.Equal(t, 1.0, cfg.SampleRatio)
}

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	cfg := DefaultConfig("daedalus")
	cfg.OTLPEndpoint = ""

	shutdown, err := SetupTracing(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.NoError(t, ShutdownTracing(shutdown, nil))
}

func TestSetupInstallsProvider(t *testing.T) {
	// the exporter connects lazily, so no collector is needed
	shutdown, err := SetupTracing(context.Background(), DefaultConfig("daedalus-test"), zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	_ = ShutdownTracing(shutdown, zaptest.NewLogger(t))
}
