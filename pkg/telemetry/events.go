// Package telemetry carries run progress events from the runtime to
// observers: loggers, metrics, message buses and error trackers.
package telemetry

import (
	"context"
	"sync"
	"time"
)

// EventType identifies a progress event.
type EventType string

const (
	RunStarted   EventType = "run.started"
	RunCompleted EventType = "run.completed"
	RunFailed    EventType = "run.failed"
	RunCanceled  EventType = "run.canceled"
	RunStopped   EventType = "run.stopped"

	LayerStarted   EventType = "layer.started"
	LayerCompleted EventType = "layer.completed"

	NodeStarted   EventType = "node.started"
	NodeCompleted EventType = "node.completed"
	NodeFailed    EventType = "node.failed"
	NodeSkipped   EventType = "node.skipped"
	NodeCanceled  EventType = "node.canceled"

	// Feedback is an ad-hoc message raised by a node.
	Feedback EventType = "feedback"
	// BreakRequested is a node's request to stop the run gracefully.
	BreakRequested EventType = "feedback.break"
)

// Event is a single progress notification.
type Event struct {
	Type      EventType     `json:"type"`
	RunID     string        `json:"runId"`
	Graph     string        `json:"graph,omitempty"`
	NodeID    string        `json:"nodeId,omitempty"`
	NodeName  string        `json:"nodeName,omitempty"`
	NodeKind  string        `json:"nodeKind,omitempty"`
	Nodes     []string      `json:"nodes,omitempty"`
	Message   string        `json:"message,omitempty"`
	Code      string        `json:"code,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	Timestamp time.Time     `json:"timestamp"`

	// Err is the original error; it is not serialized.
	Err error `json:"-"`
}

// Observer receives progress events. Implementations must be safe for
// concurrent use; events of concurrently running nodes interleave.
type Observer interface {
	OnEvent(ctx context.Context, e Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, e Event)

func (f ObserverFunc) OnEvent(ctx context.Context, e Event) { f(ctx, e) }

// Fanout delivers each event to every observer in order.
type Fanout []Observer

func (f Fanout) OnEvent(ctx context.Context, e Event) {
	for _, o := range f {
		if o != nil {
			o.OnEvent(ctx, e)
		}
	}
}

// Nop discards events.
var Nop Observer = ObserverFunc(func(context.Context, Event) {})

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) OnEvent(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events of type t.
func (r *Recorder) OfType(t EventType) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Nodes returns the node ids of recorded events of type t, in order.
func (r *Recorder) Nodes(t EventType) []string {
	var out []string
	for _, e := range r.OfType(t) {
		out = append(out, e.NodeID)
	}
	return out
}

// Types returns the type of every recorded event, in order.
func (r *Recorder) Types() []EventType {
	var out []EventType
	for _, e := range r.Events() {
		out = append(out, e.Type)
	}
	return out
}
