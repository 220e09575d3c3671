package concurrency

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Metrics tracks concurrency limiter performance metrics
type Metrics struct {
	TotalAcquired   int64
	TotalReleased   int64
	TotalInline     int64
	PeakConcurrent  int64
	TotalWaitTimeNs int64
}

// Limiter bounds the number of node tasks running at once.
type Limiter struct {
	sem  *semaphore.Weighted
	size int64

	active          atomic.Int64
	totalAcquired   atomic.Int64
	totalReleased   atomic.Int64
	totalInline     atomic.Int64
	peakConcurrent  atomic.Int64
	totalWaitTimeNs atomic.Int64
}

// NewLimiter creates a new concurrency limiter with the specified maximum concurrent operations
func NewLimiter(maxConcurrent int) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Limiter{
		sem:  semaphore.NewWeighted(int64(maxConcurrent)),
		size: int64(maxConcurrent),
	}
}

// Size returns the maximum number of concurrent slots.
func (l *Limiter) Size() int {
	return int(l.size)
}

// Acquire blocks until a slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	start := time.Now()
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	l.totalWaitTimeNs.Add(time.Since(start).Nanoseconds())
	l.acquired()
	return nil
}

// TryAcquire takes a slot only if one is free right now.
func (l *Limiter) TryAcquire() bool {
	if !l.sem.TryAcquire(1) {
		return false
	}
	l.acquired()
	return true
}

// Release releases a slot back to the limiter
func (l *Limiter) Release() {
	l.sem.Release(1)
	l.active.Add(-1)
	l.totalReleased.Add(1)
}

// RecordInline counts a task that ran on its caller's slot because none
// was free.
func (l *Limiter) RecordInline() {
	l.totalInline.Add(1)
}

// GoSync executes a function synchronously with concurrency limiting
func (l *Limiter) GoSync(ctx context.Context, fn func() error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return fn()
}

// CurrentActive returns the current number of active goroutines
func (l *Limiter) CurrentActive() int64 {
	return l.active.Load()
}

// GetMetrics returns a copy of the current metrics
func (l *Limiter) GetMetrics() Metrics {
	return Metrics{
		TotalAcquired:   l.totalAcquired.Load(),
		TotalReleased:   l.totalReleased.Load(),
		TotalInline:     l.totalInline.Load(),
		PeakConcurrent:  l.peakConcurrent.Load(),
		TotalWaitTimeNs: l.totalWaitTimeNs.Load(),
	}
}

// GetAverageWaitTime calculates the average wait time for acquiring a slot
func (l *Limiter) GetAverageWaitTime() time.Duration {
	metrics := l.GetMetrics()
	if metrics.TotalAcquired == 0 {
		return 0
	}
	return time.Duration(metrics.TotalWaitTimeNs / metrics.TotalAcquired)
}

// Reset resets the metrics (useful for testing or periodic resets)
func (l *Limiter) Reset() {
	l.totalAcquired.Store(0)
	l.totalReleased.Store(0)
	l.totalInline.Store(0)
	l.peakConcurrent.Store(0)
	l.totalWaitTimeNs.Store(0)
}

func (l *Limiter) acquired() {
	l.totalAcquired.Add(1)
	current := l.active.Add(1)
	for {
		peak := l.peakConcurrent.Load()
		if current <= peak || l.peakConcurrent.CompareAndSwap(peak, current) {
			break
		}
	}
}
