package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsSink exports run progress as Prometheus metrics.
type MetricsSink struct {
	runs         *prometheus.CounterVec
	nodes        *prometheus.CounterVec
	nodeDuration *prometheus.HistogramVec
	layers       prometheus.Counter
	feedback     *prometheus.CounterVec
	runningNodes prometheus.Gauge
}

// NewMetricsSink creates the collectors and registers them with reg. A nil
// registerer uses prometheus.DefaultRegisterer.
func NewMetricsSink(reg prometheus.Registerer) (*MetricsSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	s := &MetricsSink{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "daedalus_runs_total",
			Help: "Graph runs by final status",
		}, []string{"status"}),
		nodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "daedalus_nodes_total",
			Help: "Node dispatches by outcome",
		}, []string{"kind", "outcome"}),
		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "daedalus_node_duration_seconds",
			Help:    "Node execution time",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		layers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "daedalus_layers_total",
			Help: "Completed layer steps",
		}),
		feedback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "daedalus_feedback_total",
			Help: "Feedback messages raised by nodes",
		}, []string{"type"}),
		runningNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "daedalus_running_nodes",
			Help: "Nodes currently executing",
		}),
	}

	for _, c := range []prometheus.Collector{s.runs, s.nodes, s.nodeDuration, s.layers, s.feedback, s.runningNodes} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *MetricsSink) OnEvent(_ context.Context, e Event) {
	switch e.Type {
	case RunCompleted:
		s.runs.WithLabelValues("completed").Inc()
	case RunFailed:
		s.runs.WithLabelValues("failed").Inc()
	case RunCanceled:
		s.runs.WithLabelValues("canceled").Inc()
	case RunStopped:
		s.runs.WithLabelValues("stopped").Inc()
	case NodeStarted:
		s.runningNodes.Inc()
	case NodeCompleted:
		s.runningNodes.Dec()
		s.nodes.WithLabelValues(e.NodeKind, "completed").Inc()
		s.nodeDuration.WithLabelValues(e.NodeKind).Observe(e.Duration.Seconds())
	case NodeFailed:
		s.runningNodes.Dec()
		s.nodes.WithLabelValues(e.NodeKind, "failed").Inc()
	case NodeCanceled:
		s.runningNodes.Dec()
		s.nodes.WithLabelValues(e.NodeKind, "canceled").Inc()
	case NodeSkipped:
		s.nodes.WithLabelValues(e.NodeKind, "skipped").Inc()
	case LayerCompleted:
		s.layers.Inc()
	case Feedback, BreakRequested:
		s.feedback.WithLabelValues(string(e.Type)).Inc()
	}
}
