package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	daerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/gate"
	"github.com/wehubfusion/Daedalus/pkg/graph"
	"github.com/wehubfusion/Daedalus/pkg/plan"
	"github.com/wehubfusion/Daedalus/pkg/resolver"
	"github.com/wehubfusion/Daedalus/pkg/storage"
	"github.com/wehubfusion/Daedalus/pkg/telemetry"
)

// scope is one planned graph of a run: the root graph or a group subgraph.
type scope struct {
	run      *run
	idx      *graph.Index
	plan     *plan.ExecutionPlan
	resolver *resolver.Resolver
}

func (s *scope) node(id string) (*graph.Node, error) {
	n, ok := s.idx.Node(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", graph.ErrUnknownNode, id)
	}
	return n, nil
}

// ExecuteDataNode runs a pure data node whose inputs are already resolved.
func (s *scope) ExecuteDataNode(ctx context.Context, n *graph.Node, store storage.Store) error {
	return s.runNode(ctx, n, store, false)
}

// executeNode dispatches a callable node: skipped when unreachable,
// otherwise admitted by the gate and run.
func (s *scope) executeNode(ctx context.Context, n *graph.Node, store storage.Store) error {
	if s.run.stopped.Load() {
		return nil
	}
	if !s.reachable(n, store) {
		s.emitNode(ctx, telemetry.NodeSkipped, n, nil, 0)
		return nil
	}
	if err := s.run.rt.gate.Wait(ctx); err != nil {
		if errors.Is(err, gate.ErrClosed) {
			return daerrors.NewError(daerrors.CodeGateClosed, "execution gate closed", err)
		}
		return err
	}
	return s.runNode(ctx, n, store, true)
}

// reachable reports whether an execution input of n is signaled. Nodes
// without execution inputs and nodes with an unconnected execution input
// are always reachable.
func (s *scope) reachable(n *graph.Node, store storage.Store) bool {
	inputs := n.ExecInputs()
	if len(inputs) == 0 {
		return true
	}
	conns := s.idx.ExecInputs(n.ID)
	connected := make(map[string]bool, len(conns))
	for _, c := range conns {
		connected[c.TargetSocket] = true
	}
	for _, name := range inputs {
		if !connected[name] {
			return true
		}
	}
	for _, c := range conns {
		if signaled(store, c.SourceNode, c.SourceSocket) {
			return true
		}
	}
	return false
}

func signaled(store storage.Store, nodeID, socket string) bool {
	v, ok := store.Socket(nodeID, socket)
	return ok && graph.IsSignaled(v)
}

// runNode resolves the inputs of n when asked, invokes it and marks it
// executed.
func (s *scope) runNode(ctx context.Context, n *graph.Node, store storage.Store, resolve bool) error {
	if resolve {
		if err := s.resolver.ResolveInputs(ctx, n, store); err != nil {
			return s.fail(ctx, n, "resolve", err, 0)
		}
	}

	ctx, span := s.run.rt.tracer.Start(ctx, "graph.node",
		trace.WithAttributes(
			attribute.String("node.id", n.ID),
			attribute.String("node.name", n.Label()),
			attribute.String("node.kind", n.Kind),
		))
	defer span.End()

	start := time.Now()
	s.emitNode(ctx, telemetry.NodeStarted, n, nil, 0)

	for _, out := range n.ExecOutputs() {
		store.ClearSocket(n.ID, out)
	}
	if err := s.invoke(ctx, n, store); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return s.fail(ctx, n, "invoke", err, time.Since(start))
	}

	store.MarkExecuted(n.ID)
	s.emitNode(ctx, telemetry.NodeCompleted, n, nil, time.Since(start))
	return nil
}

// fail reports the failure of n and wraps err. Failures already reported by
// a nested node propagate unwrapped and without an error attachment.
func (s *scope) fail(ctx context.Context, n *graph.Node, phase string, err error, elapsed time.Duration) error {
	if phase == "resolve" {
		s.emitNode(ctx, telemetry.NodeStarted, n, nil, 0)
	}

	if daerrors.IsCancellation(err) {
		s.emitNode(ctx, telemetry.NodeCanceled, n, nil, elapsed)
		return err
	}

	var nested *NodeError
	if errors.As(err, &nested) {
		s.run.emit(ctx, telemetry.Event{
			Type:     telemetry.NodeFailed,
			NodeID:   n.ID,
			NodeName: n.Label(),
			NodeKind: n.Kind,
			Code:     nested.ErrorCode(),
			Message:  "nested node " + nested.NodeName + " failed",
			Duration: elapsed,
		})
		return err
	}

	nodeErr := &NodeError{NodeID: n.ID, NodeName: n.Label(), Kind: n.Kind, Phase: phase, Cause: err}
	s.emitNode(ctx, telemetry.NodeFailed, n, nodeErr, elapsed)
	return nodeErr
}

func (s *scope) emitNode(ctx context.Context, t telemetry.EventType, n *graph.Node, err error, d time.Duration) {
	e := telemetry.Event{
		Type:     t,
		NodeID:   n.ID,
		NodeName: n.Label(),
		NodeKind: n.Kind,
		Duration: d,
		Err:      err,
	}
	if err != nil {
		e.Code = daerrors.Code(err)
	}
	s.run.emit(ctx, e)
}

// invoke runs the behavior of n: a built-in or the node's binding.
func (s *scope) invoke(ctx context.Context, n *graph.Node, store storage.Store) error {
	switch n.Kind {
	case graph.KindVariableGet:
		if v, ok := store.Variable(n.Ref); ok {
			store.SetSocket(n.ID, graph.SocketValue, v)
		} else {
			store.ClearSocket(n.ID, graph.SocketValue)
		}
		return s.fireDefault(n, store)

	case graph.KindVariableSet:
		v, _ := store.Socket(n.ID, graph.SocketValue)
		store.SetVariable(n.Ref, v)
		return s.fireDefault(n, store)

	case graph.KindEventTrigger:
		payload, _ := store.Socket(n.ID, graph.SocketPayload)
		d := delivery{scope: s, store: store, payload: payload}
		if err := store.Bus().Publish(ctx, n.Ref, d); err != nil {
			return err
		}
		return s.fireDefault(n, store)

	case graph.KindEventListener, graph.KindGroupInput, graph.KindGroupOutput:
		return s.fireDefault(n, store)

	case graph.KindGroup:
		if err := s.executeGroup(ctx, n, store); err != nil {
			return err
		}
		return s.fireDefault(n, store)
	}

	b, ok := s.run.rt.bindings.Resolve(n)
	if !ok {
		return &MissingBindingError{NodeID: n.ID, NodeName: n.Label(), Kind: n.Kind}
	}

	nc := s.newNodeContext(ctx, n, store)
	err := callBinding(ctx, b, nc)
	if jerr := nc.join(err); err == nil {
		err = jerr
	}
	if err != nil {
		return err
	}
	return nc.finish()
}

// fireDefault signals the only execution output of n, if it has exactly one.
func (s *scope) fireDefault(n *graph.Node, store storage.Store) error {
	if outs := n.ExecOutputs(); len(outs) == 1 {
		store.SetSocket(n.ID, outs[0], graph.Signal())
	}
	return nil
}

func callBinding(ctx context.Context, b Binding, nc *NodeContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return b.Invoke(ctx, nc)
}

// reset clears the executed flag and execution outputs of ids so they run
// afresh in store.
func (s *scope) reset(store storage.Store, ids []string) {
	for _, id := range ids {
		store.ClearExecuted(id)
		if n, ok := s.idx.Node(id); ok {
			for _, out := range n.ExecOutputs() {
				store.ClearSocket(id, out)
			}
		}
	}
}
