package telemetry

import (
	"context"
	"sync/atomic"
	"time"
)

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	NodesCompleted int64         `json:"nodesCompleted"`
	NodesFailed    int64         `json:"nodesFailed"`
	NodesSkipped   int64         `json:"nodesSkipped"`
	Layers         int64         `json:"layers"`
	Feedback       int64         `json:"feedback"`
	NodeTime       time.Duration `json:"nodeTime"`
}

// Stats counts node outcomes of a run. It is an Observer.
type Stats struct {
	completed atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
	layers    atomic.Int64
	feedback  atomic.Int64
	nodeTime  atomic.Int64
}

// NewStats returns zeroed counters.
func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) OnEvent(_ context.Context, e Event) {
	switch e.Type {
	case NodeCompleted:
		s.completed.Add(1)
		s.nodeTime.Add(int64(e.Duration))
	case NodeFailed:
		s.failed.Add(1)
	case NodeSkipped:
		s.skipped.Add(1)
	case LayerCompleted:
		s.layers.Add(1)
	case Feedback, BreakRequested:
		s.feedback.Add(1)
	}
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		NodesCompleted: s.completed.Load(),
		NodesFailed:    s.failed.Load(),
		NodesSkipped:   s.skipped.Load(),
		Layers:         s.layers.Load(),
		Feedback:       s.feedback.Load(),
		NodeTime:       time.Duration(s.nodeTime.Load()),
	}
}

// AverageNodeTime returns the mean duration of completed nodes.
func (s *Stats) AverageNodeTime() time.Duration {
	n := s.completed.Load()
	if n == 0 {
		return 0
	}
	return time.Duration(s.nodeTime.Load() / n)
}

// Reset zeroes every counter.
func (s *Stats) Reset() {
	s.completed.Store(0)
	s.failed.Store(0)
	s.skipped.Store(0)
	s.layers.Store(0)
	s.feedback.Store(0)
	s.nodeTime.Store(0)
}
