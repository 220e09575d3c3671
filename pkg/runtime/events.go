package runtime

import (
	"context"
	"time"

	"github.com/wehubfusion/Daedalus/pkg/graph"
	"github.com/wehubfusion/Daedalus/pkg/storage"
	"github.com/wehubfusion/Daedalus/pkg/telemetry"
)

// delivery is the bus payload published by an event trigger. Listeners of
// the trigger's own scope continue in the trigger's store.
type delivery struct {
	scope   *scope
	store   storage.Store
	payload any
}

// subscribeListeners subscribes every listener planned in s to the bus of
// store and returns a func undoing the subscriptions.
func (s *scope) subscribeListeners(store storage.Store) func() {
	var unsubs []func()
	for id := range s.plan.Listeners {
		n, ok := s.idx.Node(id)
		if !ok || n.Ref == "" {
			continue
		}
		unsubs = append(unsubs, store.Bus().Subscribe(n.Ref, s.listenerHandler(n, store)))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (s *scope) listenerHandler(n *graph.Node, home storage.Store) func(ctx context.Context, payload any) error {
	return func(ctx context.Context, payload any) error {
		if s.run.stopped.Load() {
			return nil
		}
		store := home
		if d, ok := payload.(delivery); ok {
			if d.scope == s {
				store = d.store
			}
			payload = d.payload
		}

		start := time.Now()
		s.reset(store, s.plan.ListenerScopes[n.ID])
		store.ClearExecuted(n.ID)
		s.emitNode(ctx, telemetry.NodeStarted, n, nil, 0)

		if _, ok := n.Output(graph.SocketPayload); ok {
			store.SetSocket(n.ID, graph.SocketPayload, payload)
		}
		for _, out := range n.ExecOutputs() {
			store.SetSocket(n.ID, out, graph.Signal())
		}
		store.MarkExecuted(n.ID)
		s.emitNode(ctx, telemetry.NodeCompleted, n, nil, time.Since(start))

		return s.executeSteps(ctx, s.plan.Listeners[n.ID], store)
	}
}
