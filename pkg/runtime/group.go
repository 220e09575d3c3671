package runtime

import (
	"context"
	"fmt"

	"github.com/wehubfusion/Daedalus/pkg/graph"
	"github.com/wehubfusion/Daedalus/pkg/storage"
)

// executeGroup runs the subgraph of a group node in an isolated child
// store. The group's data inputs appear on the subgraph's group.input node
// and the inputs of its group.output node become the group's outputs.
func (s *scope) executeGroup(ctx context.Context, n *graph.Node, store storage.Store) error {
	if n.Subgraph == nil {
		return fmt.Errorf("%w: %s", ErrMissingSubgraph, n.Label())
	}
	inner, err := s.run.subgraphScope(n.Subgraph)
	if err != nil {
		return err
	}

	child := store.CreateChild(true)
	seedVariables(child, n.Subgraph.Variables, true)

	if in, ok := inner.idx.FindKind(graph.KindGroupInput); ok {
		for _, sock := range n.Inputs {
			if sock.IsExecution {
				continue
			}
			if v, ok := store.Socket(n.ID, sock.Name); ok {
				child.SetSocket(in.ID, sock.Name, v)
			}
		}
		child.MarkExecuted(in.ID)
	}

	unsubscribe := inner.subscribeListeners(child)
	defer unsubscribe()

	if err := inner.executeSteps(ctx, inner.plan.Steps, child); err != nil {
		return err
	}

	out, ok := inner.idx.FindKind(graph.KindGroupOutput)
	if !ok {
		return nil
	}
	if err := inner.resolver.ResolveInputs(ctx, out, child); err != nil {
		return err
	}
	for _, sock := range n.Outputs {
		if sock.IsExecution {
			continue
		}
		if v, ok := child.Socket(out.ID, sock.Name); ok {
			store.SetSocket(n.ID, sock.Name, v)
		} else {
			store.ClearSocket(n.ID, sock.Name)
		}
	}
	return nil
}
