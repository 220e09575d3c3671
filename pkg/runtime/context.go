package runtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wehubfusion/Daedalus/pkg/graph"
	"github.com/wehubfusion/Daedalus/pkg/storage"
	"github.com/wehubfusion/Daedalus/pkg/telemetry"
)

// NodeContext is the view a binding has of its node during one invocation.
type NodeContext struct {
	scope *scope
	node  *graph.Node
	store storage.Store
	ctx   context.Context

	fired atomic.Bool

	// concurrent stream items, started lazily by Emit
	itemsOnce   sync.Once
	items       *errgroup.Group
	itemsCtx    context.Context
	itemsCancel context.CancelFunc
}

func (s *scope) newNodeContext(ctx context.Context, n *graph.Node, store storage.Store) *NodeContext {
	return &NodeContext{scope: s, node: n, store: store, ctx: ctx}
}

// Node returns the node being invoked.
func (nc *NodeContext) Node() *graph.Node { return nc.node }

// RunID returns the id of the current run.
func (nc *NodeContext) RunID() string { return nc.scope.run.id }

// Config returns the node's static configuration.
func (nc *NodeContext) Config() map[string]any { return nc.node.Config }

// Services returns the services configured on the runtime.
func (nc *NodeContext) Services() Services { return nc.scope.run.rt.cfg.Services }

// Iteration returns how many times the enclosing loop body has run when
// the node is a loop header, zero otherwise.
func (nc *NodeContext) Iteration() int { return iterationFrom(nc.ctx) }

// Logger returns a logger annotated with the node.
func (nc *NodeContext) Logger() *zap.Logger {
	return nc.scope.run.logger.With(
		zap.String("node_id", nc.node.ID),
		zap.String("node_kind", nc.node.Kind))
}

// Input returns the resolved value of a data input.
func (nc *NodeContext) Input(name string) (any, bool) {
	return nc.store.Socket(nc.node.ID, name)
}

// InputOr returns the value of a data input or def when it has none.
func (nc *NodeContext) InputOr(name string, def any) any {
	if v, ok := nc.Input(name); ok && v != nil {
		return v
	}
	return def
}

// SetOutput writes a data output.
func (nc *NodeContext) SetOutput(name string, value any) {
	nc.store.SetSocket(nc.node.ID, name, value)
}

// Output returns the current value of an output socket.
func (nc *NodeContext) Output(name string) (any, bool) {
	return nc.store.Socket(nc.node.ID, name)
}

// Variable reads a run variable.
func (nc *NodeContext) Variable(key string) (any, bool) {
	return nc.store.Variable(key)
}

// SetVariable writes a run variable.
func (nc *NodeContext) SetVariable(key string, value any) {
	nc.store.SetVariable(key, value)
}

// Fire signals an execution output. Completed on a streaming node is held
// back until every emitted item has been processed.
func (nc *NodeContext) Fire(socket string) error {
	if !nc.node.HasExecOutput(socket) {
		return fmt.Errorf("%w: %s on %s", ErrNotExecutionOutput, socket, nc.node.Label())
	}
	nc.fired.Store(true)
	if socket == graph.SocketCompleted && nc.node.IsStreaming() {
		return nil
	}
	nc.store.SetSocket(nc.node.ID, socket, graph.Signal())
	return nil
}

// Feedback reports an ad-hoc message from the node.
func (nc *NodeContext) Feedback(message string) {
	nc.scope.run.emit(nc.ctx, telemetry.Event{
		Type:     telemetry.Feedback,
		NodeID:   nc.node.ID,
		NodeName: nc.node.Label(),
		NodeKind: nc.node.Kind,
		Message:  message,
	})
}

// Break asks the run to stop gracefully. Nodes already running finish; no
// further node is scheduled and the run ends with StatusStopped.
func (nc *NodeContext) Break(reason string) {
	if !nc.scope.run.stop(reason) {
		return
	}
	nc.scope.run.emit(nc.ctx, telemetry.Event{
		Type:     telemetry.BreakRequested,
		NodeID:   nc.node.ID,
		NodeName: nc.node.Label(),
		NodeKind: nc.node.Kind,
		Message:  reason,
	})
}

// Emit hands one item to the nodes downstream of the OnItem output. The
// item is written to the named data output, Item when empty.
//
// In sequential mode Emit returns once the item's chain has finished. In
// concurrent mode the chain runs in its own store layer and Emit returns
// as soon as it is scheduled; the node completes after every chain.
func (nc *NodeContext) Emit(ctx context.Context, socket string, item any) error {
	if !nc.node.IsStreaming() {
		return fmt.Errorf("%w: %s", ErrNotStreaming, nc.node.Label())
	}
	if socket == "" {
		socket = graph.SocketItem
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s := nc.scope
	id := nc.node.ID
	chain := s.plan.ItemChains[id]

	if nc.streamMode() == graph.StreamSequential {
		s.reset(nc.store, s.plan.ItemScopes[id])
		nc.store.SetSocket(id, socket, item)
		nc.store.SetSocket(id, graph.SocketOnItem, graph.Signal())
		err := s.executeSteps(ctx, chain, nc.store)
		nc.store.ClearSocket(id, graph.SocketOnItem)
		return err
	}

	layer := nc.store.CreateLayer()
	s.reset(layer, s.plan.ItemScopes[id])
	layer.SetSocket(id, socket, item)
	layer.SetSocket(id, graph.SocketOnItem, graph.Signal())

	nc.itemsOnce.Do(func() {
		nc.itemsCtx, nc.itemsCancel = context.WithCancel(ctx)
		nc.items, nc.itemsCtx = errgroup.WithContext(nc.itemsCtx)
	})
	s.run.spawn(nc.itemsCtx, nc.items, func(ctx context.Context) error {
		return s.executeSteps(ctx, chain, layer)
	})
	return nil
}

func (nc *NodeContext) streamMode() graph.StreamMode {
	if nc.node.StreamMode != graph.StreamDefault {
		return nc.node.StreamMode
	}
	return nc.scope.run.rt.cfg.StreamMode
}

// join waits for concurrent item chains. A failed binding cancels the
// chains still running.
func (nc *NodeContext) join(invokeErr error) error {
	if nc.items == nil {
		return nil
	}
	if invokeErr != nil {
		nc.itemsCancel()
	}
	err := nc.items.Wait()
	nc.itemsCancel()
	return err
}

// finish fires the terminal outputs after a successful invocation.
func (nc *NodeContext) finish() error {
	if nc.node.IsStreaming() {
		if nc.node.HasExecOutput(graph.SocketCompleted) {
			nc.store.SetSocket(nc.node.ID, graph.SocketCompleted, graph.Signal())
		}
		return nil
	}
	if !nc.fired.Load() {
		return nc.scope.fireDefault(nc.node, nc.store)
	}
	return nil
}
