package concurrency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterBoundsConcurrency(t *testing.T) {
	l := NewLimiter(2)
	assert.Equal(t, 2, l.Size())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.GoSync(context.Background(), func() error {
				time.Sleep(5 * time.Millisecond)
				return nil
			})
		}()
	}
	wg.Wait()

	m := l.GetMetrics()
	assert.EqualValues(t, 8, m.TotalAcquired)
	assert.EqualValues(t, 8, m.TotalReleased)
	assert.LessOrEqual(t, m.PeakConcurrent, int64(2))
	assert.EqualValues(t, 0, l.CurrentActive())
}

func TestLimiterTryAcquire(t *testing.T) {
	l := NewLimiter(1)
	require.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire())
	l.RecordInline()
	l.Release()
	assert.True(t, l.TryAcquire())
	l.Release()

	assert.EqualValues(t, 1, l.GetMetrics().TotalInline)
	l.Reset()
	assert.Equal(t, Metrics{}, l.GetMetrics())
}

func TestLimiterAcquireHonorsContext(t *testing.T) {
	l := NewLimiter(1)
	require.NoError(t, l.Acquire(context.Background()))
	defer l.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Acquire(ctx), context.DeadlineExceeded)
}

func TestLimiterAverageWaitTime(t *testing.T) {
	l := NewLimiter(1)
	assert.Zero(t, l.GetAverageWaitTime())

	require.True(t, l.TryAcquire())
	go func() {
		time.Sleep(20 * time.Millisecond)
		l.Release()
	}()
	require.NoError(t, l.Acquire(context.Background()))
	l.Release()

	// the waiting acquisition is averaged with the immediate one
	assert.GreaterOrEqual(t, l.GetAverageWaitTime(), 5*time.Millisecond)
}

func TestNewLimiterMinimumSize(t *testing.T) {
	assert.Equal(t, 1, NewLimiter(0).Size())
	assert.Equal(t, 1, NewLimiter(-3).Size())
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("DAEDALUS_MAX_CONCURRENT", "7")
	t.Setenv("DAEDALUS_PROCESSOR_MODE", "SEQUENTIAL")
	t.Setenv("DAEDALUS_ITERATOR_MODE", "parallel")
	t.Setenv("DAEDALUS_MAX_LOOP_ITERATIONS", "25")

	cfg := LoadConfig()
	assert.Equal(t, 7, cfg.MaxConcurrent)
	assert.Equal(t, ConfigSourceEnvVar, cfg.Source)
	assert.Equal(t, ProcessorModeSequential, cfg.ProcessorMode)
	assert.Equal(t, IteratorModeParallel, cfg.IteratorMode)
	assert.Equal(t, 25, cfg.MaxLoopIterations)
	assert.Contains(t, cfg.String(), "MaxConcurrent: 7")
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DAEDALUS_MAX_CONCURRENT", "")
	t.Setenv("DAEDALUS_CONCURRENCY_MULTIPLIER", "")
	t.Setenv("DAEDALUS_PROCESSOR_MODE", "bogus")
	t.Setenv("DAEDALUS_ITERATOR_MODE", "")
	t.Setenv("DAEDALUS_MAX_LOOP_ITERATIONS", "")
	t.Setenv("KUBERNETES_SERVICE_HOST", "")

	cfg := LoadConfig()
	assert.Equal(t, ConfigSourceAutoDetect, cfg.Source)
	assert.Equal(t, cfg.EffectiveCPUs*4, cfg.MaxConcurrent)
	assert.Equal(t, ProcessorModeConcurrent, cfg.ProcessorMode)
	assert.Equal(t, IteratorModeSequential, cfg.IteratorMode)
	assert.Equal(t, DefaultMaxLoopIterations, cfg.MaxLoopIterations)
	assert.False(t, cfg.IsKubernetes)
}

func TestLoadConfigMultiplier(t *testing.T) {
	t.Setenv("DAEDALUS_MAX_CONCURRENT", "")
	t.Setenv("DAEDALUS_CONCURRENCY_MULTIPLIER", "3")

	cfg := LoadConfig()
	assert.Equal(t, cfg.EffectiveCPUs*3, cfg.MaxConcurrent)
}
