package telemetry

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

// Publisher is the subset of *nats.Conn used to emit events.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes every event as JSON on "<prefix>.<runID>".
type NATSSink struct {
	pub    Publisher
	prefix string
	logger *zap.Logger
}

// NewNATSSink creates a sink publishing through pub.
func NewNATSSink(pub Publisher, prefix string, logger *zap.Logger) *NATSSink {
	if prefix == "" {
		prefix = "daedalus.events"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSSink{pub: pub, prefix: prefix, logger: logger}
}

// Subject returns the subject events of runID are published on.
func (s *NATSSink) Subject(runID string) string {
	return s.prefix + "." + runID
}

func (s *NATSSink) OnEvent(_ context.Context, e Event) {
	if e.Err != nil && e.Error == "" {
		e.Error = e.Err.Error()
	}
	data, err := json.Marshal(e)
	if err != nil {
		s.logger.Warn("Failed to marshal progress event", zap.String("event", string(e.Type)), zap.Error(err))
		return
	}
	if err := s.pub.Publish(s.Subject(e.RunID), data); err != nil {
		s.logger.Warn("Failed to publish progress event",
			zap.String("event", string(e.Type)),
			zap.String("run_id", e.RunID),
			zap.Error(err))
	}
}
