// Package resolver pulls data inputs into a node before it runs.
//
// Resolution is lazy and depth first. Each connected data input is traced
// back to its source. A pure data source that has not executed in the
// current scope is resolved recursively and executed, then the value is
// copied into the target's input slot. Callable sources are never executed
// here; their last written outputs are read as-is.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	daerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/graph"
	"github.com/wehubfusion/Daedalus/pkg/storage"
)

// ErrCycleDetected marks a cyclic data dependency.
var ErrCycleDetected = errors.New("data dependency cycle detected")

// CycleError reports the nodes forming a data dependency cycle, with the
// first node repeated at the end. The order is dependency order: each node
// reads its data from the next one, so a data flow A -> B -> C -> A is
// reported as A -> C -> B -> A.
type CycleError struct {
	NodeIDs []string
	Names   []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCycleDetected, strings.Join(e.Names, " -> "))
}

// Is matches ErrCycleDetected.
func (e *CycleError) Is(target error) bool {
	return target == ErrCycleDetected
}

// ErrorCode implements errors.Coder.
func (e *CycleError) ErrorCode() string {
	return daerrors.CodeCycleDetected
}

// DataNodeExecutor runs a pure data node whose inputs are already resolved
// and marks it executed in store.
type DataNodeExecutor interface {
	ExecuteDataNode(ctx context.Context, node *graph.Node, store storage.Store) error
}

// Resolver resolves data inputs over one indexed graph.
type Resolver struct {
	index *graph.Index
	exec  DataNodeExecutor

	flight singleflight.Group
	// acyclic memoizes nodes whose whole upstream data closure is verified.
	acyclic sync.Map
	// volatile memoizes whether a data node reads a variable upstream.
	volatile sync.Map
}

// New creates a resolver for idx executing data nodes through exec.
func New(idx *graph.Index, exec DataNodeExecutor) *Resolver {
	return &Resolver{index: idx, exec: exec}
}

// ResolveInputs populates every data input of node in store.
func (r *Resolver) ResolveInputs(ctx context.Context, node *graph.Node, store storage.Store) error {
	if err := r.checkAcyclic(node.ID, nil); err != nil {
		return err
	}
	return r.resolve(ctx, node, store)
}

// Volatile reports whether a data node must re-run on every read.
func Volatile(n *graph.Node) bool {
	return n.Kind == graph.KindVariableGet
}

// isVolatile reports whether n is volatile or consumes, through pure data
// nodes, the output of a volatile node. Callers check acyclicity first.
func (r *Resolver) isVolatile(n *graph.Node) bool {
	if v, ok := r.volatile.Load(n.ID); ok {
		return v.(bool)
	}
	result := Volatile(n)
	for _, c := range r.index.DataInputs(n.ID) {
		if result {
			break
		}
		if src, ok := r.index.Node(c.SourceNode); ok && !src.Callable {
			result = r.isVolatile(src)
		}
	}
	r.volatile.Store(n.ID, result)
	return result
}

func (r *Resolver) resolve(ctx context.Context, node *graph.Node, store storage.Store) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	connected := make(map[string]bool)
	for _, c := range r.index.DataInputs(node.ID) {
		connected[c.TargetSocket] = true

		src, ok := r.index.Node(c.SourceNode)
		if !ok {
			return fmt.Errorf("%w: %s", graph.ErrUnknownNode, c.SourceNode)
		}
		if !src.Callable {
			if err := r.ensureExecuted(ctx, src, store); err != nil {
				return err
			}
		}

		if v, ok := store.Socket(c.SourceNode, c.SourceSocket); ok {
			store.SetSocket(node.ID, c.TargetSocket, v)
		} else if s, ok := node.Input(c.TargetSocket); ok && s.HasDefault {
			store.SetSocket(node.ID, c.TargetSocket, s.Default)
		} else {
			store.ClearSocket(node.ID, c.TargetSocket)
		}
	}

	for _, s := range node.Inputs {
		if s.IsExecution || !s.HasDefault || connected[s.Name] {
			continue
		}
		if _, ok := store.Socket(node.ID, s.Name); !ok {
			store.SetSocket(node.ID, s.Name, s.Default)
		}
	}
	return nil
}

// ensureExecuted runs a pure data node once per scope and generation.
// Concurrent callers for the same node share one execution.
func (r *Resolver) ensureExecuted(ctx context.Context, src *graph.Node, store storage.Store) error {
	if r.isVolatile(src) {
		return r.run(ctx, src, store)
	}
	if store.IsExecuted(src.ID) {
		return nil
	}

	key := fmt.Sprintf("%d/%d/%s", store.ScopeID(), store.Generation(), src.ID)
	_, err, _ := r.flight.Do(key, func() (any, error) {
		if store.IsExecuted(src.ID) {
			return nil, nil
		}
		return nil, r.run(ctx, src, store)
	})
	return err
}

func (r *Resolver) run(ctx context.Context, src *graph.Node, store storage.Store) error {
	if err := r.resolve(ctx, src, store); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.exec.ExecuteDataNode(ctx, src, store)
}

// checkAcyclic walks the upstream data closure of id with a live path
// stack and fails on the first node revisited while still on the path.
func (r *Resolver) checkAcyclic(id string, path []string) error {
	if _, ok := r.acyclic.Load(id); ok {
		return nil
	}
	for i, p := range path {
		if p == id {
			return r.cycleError(append(append([]string{}, path[i:]...), id))
		}
	}

	path = append(path, id)
	for _, c := range r.index.DataInputs(id) {
		if err := r.checkAcyclic(c.SourceNode, path); err != nil {
			return err
		}
	}
	r.acyclic.Store(id, true)
	return nil
}

func (r *Resolver) cycleError(ids []string) *CycleError {
	names := make([]string, len(ids))
	for i, id := range ids {
		if n, ok := r.index.Node(id); ok {
			names[i] = n.Label()
		} else {
			names[i] = id
		}
	}
	return &CycleError{NodeIDs: ids, Names: names}
}
