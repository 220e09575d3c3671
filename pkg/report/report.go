// Package report builds a per-run summary from progress events and stores
// it as a JSON document.
package report

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	daerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/telemetry"
)

// Node statuses. A node that ran several times, in loops or streams,
// reports the status of its last execution.
const (
	StatusRunning   = "running"
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
	StatusCanceled  = "canceled"
	StatusCompleted = "completed"
	StatusStopped   = "stopped"
)

// ErrorInfo describes a failure.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Fatal   bool   `json:"fatal"`
}

// NodeMeta contains the execution metadata of a node.
type NodeMeta struct {
	Status          string `json:"status"`
	NodeID          string `json:"node_id"`
	Name            string `json:"name,omitempty"`
	Kind            string `json:"kind,omitempty"`
	Runs            int    `json:"runs"`
	Skips           int    `json:"skips,omitempty"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
}

// NodeReport is the entry of one node.
type NodeReport struct {
	Meta     NodeMeta   `json:"_meta"`
	Error    *ErrorInfo `json:"_error,omitempty"`
	Feedback []string   `json:"feedback,omitempty"`

	// ordering key, the first time the node was seen
	seq int
}

// Report is the summary of a run.
type Report struct {
	RunID      string                 `json:"run_id"`
	Graph      string                 `json:"graph"`
	Status     string                 `json:"status"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at,omitempty"`
	DurationMs int64                  `json:"duration_ms"`
	StopReason string                 `json:"stop_reason,omitempty"`
	Error      *ErrorInfo             `json:"_error,omitempty"`
	Nodes      map[string]*NodeReport `json:"nodes"`
}

// Order returns the node ids in the order they first reported.
func (r *Report) Order() []string {
	ids := make([]string, 0, len(r.Nodes))
	for id := range r.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return r.Nodes[ids[i]].seq < r.Nodes[ids[j]].seq })
	return ids
}

// JSON serializes the report.
func (r *Report) JSON() ([]byte, error) {
	return json.Marshal(r)
}

// Builder collects progress events of one run into a Report. It is a
// telemetry.Observer and safe for concurrent use.
type Builder struct {
	mu     sync.Mutex
	report Report
	seq    int
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{report: Report{Nodes: make(map[string]*NodeReport)}}
}

func (b *Builder) OnEvent(_ context.Context, e telemetry.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r := &b.report
	switch e.Type {
	case telemetry.RunStarted:
		r.RunID = e.RunID
		r.Graph = e.Graph
		r.Status = StatusRunning
		r.StartedAt = e.Timestamp
		return
	case telemetry.RunCompleted:
		b.finish(e, StatusCompleted)
		return
	case telemetry.RunStopped:
		b.finish(e, StatusStopped)
		r.StopReason = e.Message
		return
	case telemetry.RunCanceled:
		b.finish(e, StatusCanceled)
		return
	case telemetry.RunFailed:
		b.finish(e, StatusFailed)
		r.Error = errorInfo(e)
		return
	}

	if e.NodeID == "" {
		return
	}
	n := b.node(e)
	switch e.Type {
	case telemetry.NodeStarted:
		n.Meta.Status = StatusRunning
	case telemetry.NodeCompleted:
		n.Meta.Status = StatusSuccess
		n.Meta.Runs++
		n.Meta.ExecutionTimeMs += e.Duration.Milliseconds()
		n.Error = nil
	case telemetry.NodeFailed:
		n.Meta.Status = StatusFailed
		n.Meta.Runs++
		n.Meta.ExecutionTimeMs += e.Duration.Milliseconds()
		n.Error = errorInfo(e)
	case telemetry.NodeCanceled:
		n.Meta.Status = StatusCanceled
	case telemetry.NodeSkipped:
		n.Meta.Skips++
		if n.Meta.Runs == 0 {
			n.Meta.Status = StatusSkipped
		}
	case telemetry.Feedback, telemetry.BreakRequested:
		n.Feedback = append(n.Feedback, e.Message)
	}
}

func (b *Builder) node(e telemetry.Event) *NodeReport {
	n, ok := b.report.Nodes[e.NodeID]
	if !ok {
		b.seq++
		n = &NodeReport{
			Meta: NodeMeta{NodeID: e.NodeID, Name: e.NodeName, Kind: e.NodeKind},
			seq:  b.seq,
		}
		b.report.Nodes[e.NodeID] = n
	}
	return n
}

func (b *Builder) finish(e telemetry.Event, status string) {
	b.report.Status = status
	b.report.FinishedAt = e.Timestamp
	b.report.DurationMs = e.Duration.Milliseconds()
}

func errorInfo(e telemetry.Event) *ErrorInfo {
	msg := e.Error
	if msg == "" {
		msg = e.Message
	}
	info := &ErrorInfo{Code: e.Code, Message: msg}
	if e.Err != nil {
		info.Fatal = daerrors.IsFatal(e.Err)
		if info.Code == "" {
			info.Code = daerrors.Code(e.Err)
		}
	}
	return info
}

// Report returns a copy of the report collected so far.
func (b *Builder) Report() *Report {
	b.mu.Lock()
	defer b.mu.Unlock()

	r := b.report
	r.Nodes = make(map[string]*NodeReport, len(b.report.Nodes))
	for id, n := range b.report.Nodes {
		c := *n
		c.Feedback = append([]string(nil), n.Feedback...)
		if n.Error != nil {
			errCopy := *n.Error
			c.Error = &errCopy
		}
		r.Nodes[id] = &c
	}
	if b.report.Error != nil {
		errCopy := *b.report.Error
		r.Error = &errCopy
	}
	return &r
}

// Reset clears the builder for another run.
func (b *Builder) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.report = Report{Nodes: make(map[string]*NodeReport)}
	b.seq = 0
}
