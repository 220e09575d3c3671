// Package nodes maps node kinds to runtime bindings.
//
// A Registry holds one Creator per kind. The runtime asks it for the binding
// of every callable or data node it dispatches; bindings are created once per
// node and reused for the rest of the registry's life.
package nodes

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/wehubfusion/Daedalus/pkg/graph"
	"github.com/wehubfusion/Daedalus/pkg/runtime"
)

// ErrNoCreator is returned when no creator is registered for a node kind.
var ErrNoCreator = errors.New("no creator registered for node kind")

// Creator builds the binding of one node from its static configuration.
type Creator func(node *graph.Node) (runtime.Binding, error)

// Func registers a stateless binding for every node of a kind.
func Func(f runtime.BindingFunc) Creator {
	return func(*graph.Node) (runtime.Binding, error) { return f, nil }
}

// Registry is a thread-safe set of creators. It implements
// runtime.BindingResolver.
type Registry struct {
	mu       sync.RWMutex
	creators map[string]Creator
	bindings sync.Map // *graph.Node -> runtime.Binding
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{creators: make(map[string]Creator)}
}

// Register registers a creator for a kind, replacing any previous one.
func (r *Registry) Register(kind string, creator Creator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creators[kind] = creator
}

// Unregister removes the creator of a kind and reports whether one existed.
func (r *Registry) Unregister(kind string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.creators[kind]; ok {
		delete(r.creators, kind)
		return true
	}
	return false
}

// HasCreator reports whether kind is registered.
func (r *Registry) HasCreator(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.creators[kind]
	return ok
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.creators))
	for k := range r.creators {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Create builds the binding of node.
// Returns ErrNoCreator if the node's kind is not registered.
func (r *Registry) Create(node *graph.Node) (runtime.Binding, error) {
	r.mu.RLock()
	creator, ok := r.creators[node.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoCreator, node.Kind)
	}

	b, err := creator(node)
	if err != nil {
		return nil, fmt.Errorf("failed to create node %s (%s): %w", node.Label(), node.Kind, err)
	}
	return b, nil
}

// Resolve implements runtime.BindingResolver. A creation failure resolves
// to a binding reporting it, so the node fails when it runs.
func (r *Registry) Resolve(node *graph.Node) (runtime.Binding, bool) {
	if b, ok := r.bindings.Load(node); ok {
		return b.(runtime.Binding), true
	}
	if !r.HasCreator(node.Kind) {
		return nil, false
	}

	b, err := r.Create(node)
	if err != nil {
		return runtime.BindingFunc(func(context.Context, *runtime.NodeContext) error {
			return err
		}), true
	}
	actual, _ := r.bindings.LoadOrStore(node, b)
	return actual.(runtime.Binding), true
}

// Validate reports every node of g, including nodes of group subgraphs,
// whose kind has no creator. Built-in kinds are skipped.
func (r *Registry) Validate(g *graph.Graph) error {
	var errs []error
	var walk func(*graph.Graph)
	walk = func(g *graph.Graph) {
		for _, n := range g.Nodes {
			if n.Subgraph != nil {
				walk(n.Subgraph)
			}
			if n.IsBuiltin() || r.HasCreator(n.Kind) {
				continue
			}
			errs = append(errs, &runtime.MissingBindingError{NodeID: n.ID, NodeName: n.Label(), Kind: n.Kind})
		}
	}
	walk(g)
	return errors.Join(errs...)
}

var _ runtime.BindingResolver = (*Registry)(nil)
