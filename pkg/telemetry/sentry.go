package telemetry

import (
	"context"

	"github.com/getsentry/sentry-go"
)

// Hub is the subset of *sentry.Hub used to report failures.
type Hub interface {
	WithScope(f func(scope *sentry.Scope))
	CaptureException(exception error) *sentry.EventID
}

// SentrySink reports node and run failures to Sentry. Cancellations and
// soft stops are not reported.
type SentrySink struct {
	hub Hub
}

// NewSentrySink reports through hub, or the current hub when nil.
func NewSentrySink(hub Hub) *SentrySink {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &SentrySink{hub: hub}
}

func (s *SentrySink) OnEvent(_ context.Context, e Event) {
	if e.Err == nil {
		return
	}
	switch e.Type {
	case NodeFailed, RunFailed:
	default:
		return
	}

	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("run_id", e.RunID)
		scope.SetTag("event", string(e.Type))
		if e.Code != "" {
			scope.SetTag("error_code", e.Code)
		}
		if e.NodeID != "" {
			scope.SetTag("node_id", e.NodeID)
			scope.SetTag("node_kind", e.NodeKind)
			scope.SetContext("node", sentry.Context{
				"id":   e.NodeID,
				"name": e.NodeName,
				"kind": e.NodeKind,
			})
		}
		s.hub.CaptureException(e.Err)
	})
}
