package telemetry

import (
	"context"

	"go.uber.org/zap"
)

// LogSink writes events to a zap logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink; a nil logger discards everything.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) OnEvent(_ context.Context, e Event) {
	fields := []zap.Field{
		zap.String("event", string(e.Type)),
		zap.String("run_id", e.RunID),
	}
	if e.NodeID != "" {
		fields = append(fields,
			zap.String("node_id", e.NodeID),
			zap.String("node_name", e.NodeName),
			zap.String("node_kind", e.NodeKind))
	}
	if len(e.Nodes) > 0 {
		fields = append(fields, zap.Strings("nodes", e.Nodes))
	}
	if e.Duration > 0 {
		fields = append(fields, zap.Duration("duration", e.Duration))
	}
	if e.Code != "" {
		fields = append(fields, zap.String("code", e.Code))
	}
	if e.Err != nil {
		fields = append(fields, zap.Error(e.Err))
	} else if e.Message != "" && e.Type == NodeFailed {
		fields = append(fields, zap.String("cause", e.Message))
	}

	switch e.Type {
	case NodeFailed, RunFailed:
		s.logger.Error("graph execution failure", fields...)
	case RunCanceled:
		s.logger.Warn("graph run canceled", fields...)
	case RunStarted, RunCompleted, RunStopped:
		s.logger.Info("graph run", fields...)
	case Feedback, BreakRequested:
		s.logger.Info(e.Message, fields...)
	default:
		s.logger.Debug("graph progress", fields...)
	}
}
