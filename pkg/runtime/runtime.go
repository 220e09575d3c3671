// Package runtime executes planned graphs. A Runtime walks the execution plan
// of a graph, resolves data inputs on demand, dispatches callable nodes to
// their bindings and honors the step gate between nodes.
package runtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/concurrency"
	daerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/gate"
	"github.com/wehubfusion/Daedalus/pkg/graph"
	"github.com/wehubfusion/Daedalus/pkg/plan"
	"github.com/wehubfusion/Daedalus/pkg/resolver"
	"github.com/wehubfusion/Daedalus/pkg/storage"
	"github.com/wehubfusion/Daedalus/pkg/telemetry"
)

// Status is the final state of a run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Result describes a finished run.
type Result struct {
	RunID  string
	Graph  string
	Status Status
	// Store is the root store after the run. It stays readable.
	Store storage.Store
	Stats telemetry.Snapshot
	// Limiter reports how node tasks were admitted.
	Limiter  concurrency.Metrics
	Duration time.Duration
	// StopReason is the message of the node that requested a soft stop.
	StopReason string
	Err        error
}

// Runtime executes graphs. Runs on one Runtime share its gate, so pausing
// the gate pauses every active run.
type Runtime struct {
	cfg      Config
	bindings BindingResolver
	gate     *gate.Gate
	tracer   trace.Tracer
}

// New creates a runtime resolving node kinds through bindings.
func New(bindings BindingResolver, cfg Config) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if bindings == nil {
		bindings = KindMap{}
	}
	return &Runtime{
		cfg:      cfg,
		bindings: bindings,
		gate:     gate.New(),
		tracer:   otel.Tracer("daedalus/runtime"),
	}, nil
}

// Gate returns the step gate controlling node dispatch.
func (rt *Runtime) Gate() *gate.Gate {
	return rt.gate
}

// Close disposes the gate. Nodes waiting on it fail with GATE_CLOSED and
// later runs cannot dispatch any callable node.
func (rt *Runtime) Close() {
	rt.gate.Close()
}

// Config returns the validated configuration.
func (rt *Runtime) Config() Config {
	return rt.cfg
}

// Execute runs g to completion. The returned Result is non-nil whenever the
// graph could be indexed, including for failed and canceled runs.
func (rt *Runtime) Execute(ctx context.Context, g *graph.Graph) (*Result, error) {
	idx, err := graph.NewIndex(g)
	if err != nil {
		return nil, daerrors.NewError(daerrors.CodeInvalidGraph, "invalid graph", err)
	}

	r := newRun(rt, g.Name)
	root := r.scopeFor(idx)
	store := storage.New()
	seedVariables(store, g.Variables, false)

	ctx, span := rt.tracer.Start(ctx, "graph.run",
		trace.WithAttributes(
			attribute.String("run.id", r.id),
			attribute.String("graph.name", g.Name),
			attribute.Int("graph.nodes", len(g.Nodes)),
		))
	defer span.End()

	if rt.cfg.StartPaused {
		rt.gate.StartPaused()
	} else {
		rt.gate.Run()
	}
	defer rt.gate.Complete()

	r.logger.Info("Starting graph run", zap.Int("nodes", len(g.Nodes)))
	r.emit(ctx, telemetry.Event{Type: telemetry.RunStarted})

	unsubscribe := root.subscribeListeners(store)
	err = root.executeSteps(ctx, root.plan.Steps, store)
	unsubscribe()

	res := &Result{
		RunID:    r.id,
		Graph:    g.Name,
		Store:    store,
		Duration: time.Since(r.started),
	}

	switch {
	case err == nil && r.stopped.Load():
		res.Status = StatusStopped
		res.StopReason = r.stopReason()
		r.emit(ctx, telemetry.Event{Type: telemetry.RunStopped, Message: res.StopReason, Duration: res.Duration})
	case err == nil && ctx.Err() != nil:
		err = canceled(ctx.Err())
		fallthrough
	case err != nil && daerrors.IsCancellation(err):
		if !errors.Is(err, ErrCanceled) {
			err = canceled(err)
		}
		res.Status = StatusCanceled
		r.emit(ctx, telemetry.Event{Type: telemetry.RunCanceled, Err: err, Code: daerrors.CodeRunCanceled, Duration: res.Duration})
	case err != nil:
		res.Status = StatusFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.emit(ctx, telemetry.Event{Type: telemetry.RunFailed, Err: err, Code: daerrors.Code(err), Duration: res.Duration})
	default:
		res.Status = StatusCompleted
		span.SetStatus(codes.Ok, "graph run completed")
		r.emit(ctx, telemetry.Event{Type: telemetry.RunCompleted, Duration: res.Duration})
	}

	res.Err = err
	res.Stats = r.stats.Snapshot()
	res.Limiter = r.limiter.GetMetrics()
	span.SetAttributes(attribute.String("run.status", string(res.Status)))
	r.logger.Info("Graph run finished",
		zap.String("status", string(res.Status)),
		zap.Duration("duration", res.Duration),
		zap.Int64("nodes_completed", res.Stats.NodesCompleted),
		zap.Duration("limiter_avg_wait", r.limiter.GetAverageWaitTime()))
	return res, err
}

// run is the state of one Execute call.
type run struct {
	rt       *Runtime
	id       string
	graph    string
	started  time.Time
	logger   *zap.Logger
	observer telemetry.Fanout
	stats    *telemetry.Stats
	limiter  *concurrency.Limiter

	stopped atomic.Bool
	stopMu  sync.Mutex
	reason  string

	scopesMu sync.Mutex
	scopes   map[*graph.Graph]*scope
}

func newRun(rt *Runtime, name string) *run {
	id := uuid.NewString()
	stats := telemetry.NewStats()
	return &run{
		rt:       rt,
		id:       id,
		graph:    name,
		started:  time.Now(),
		logger:   rt.cfg.Logger.With(zap.String("run_id", id), zap.String("graph", name)),
		observer: telemetry.Fanout{rt.cfg.Observer, stats},
		stats:    stats,
		limiter:  concurrency.NewLimiter(rt.cfg.MaxConcurrency),
		scopes:   make(map[*graph.Graph]*scope),
	}
}

func (r *run) emit(ctx context.Context, e telemetry.Event) {
	e.RunID = r.id
	e.Graph = r.graph
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.Err != nil && e.Error == "" {
		e.Error = e.Err.Error()
	}
	r.observer.OnEvent(ctx, e)
}

// stop requests a soft stop: no new node is scheduled, running nodes finish.
func (r *run) stop(reason string) bool {
	r.stopMu.Lock()
	defer r.stopMu.Unlock()
	if r.stopped.Load() {
		return false
	}
	r.reason = reason
	r.stopped.Store(true)
	return true
}

func (r *run) stopReason() string {
	r.stopMu.Lock()
	defer r.stopMu.Unlock()
	return r.reason
}

// scopeFor returns the planned scope of a graph, planning it on first use.
func (r *run) scopeFor(idx *graph.Index) *scope {
	r.scopesMu.Lock()
	defer r.scopesMu.Unlock()
	if s, ok := r.scopes[idx.Graph()]; ok {
		return s
	}
	s := &scope{run: r, idx: idx, plan: plan.FromIndex(idx)}
	s.resolver = resolver.New(idx, s)
	r.scopes[idx.Graph()] = s
	return s
}

func (r *run) subgraphScope(g *graph.Graph) (*scope, error) {
	r.scopesMu.Lock()
	s, ok := r.scopes[g]
	r.scopesMu.Unlock()
	if ok {
		return s, nil
	}
	idx, err := graph.NewIndex(g)
	if err != nil {
		return nil, daerrors.NewError(daerrors.CodeInvalidGraph, "invalid subgraph", err)
	}
	return r.scopeFor(idx), nil
}

// seedVariables writes variable defaults. With keep, variables already
// visible in store are left alone.
func seedVariables(store storage.Store, vars []graph.Variable, keep bool) {
	for _, v := range vars {
		if keep {
			if _, ok := store.Variable(v.ID); ok {
				continue
			}
		}
		store.SetVariable(v.ID, v.Default)
	}
}
