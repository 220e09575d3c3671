package runtime

import (
	"context"

	"github.com/wehubfusion/Daedalus/pkg/graph"
)

// Binding is the invocable implementation of a node kind.
type Binding interface {
	Invoke(ctx context.Context, nc *NodeContext) error
}

// BindingFunc adapts a function to Binding.
type BindingFunc func(ctx context.Context, nc *NodeContext) error

func (f BindingFunc) Invoke(ctx context.Context, nc *NodeContext) error {
	return f(ctx, nc)
}

// BindingResolver finds the binding for a node.
type BindingResolver interface {
	Resolve(node *graph.Node) (Binding, bool)
}

// KindMap resolves bindings by node kind.
type KindMap map[string]Binding

func (m KindMap) Resolve(node *graph.Node) (Binding, bool) {
	b, ok := m[node.Kind]
	return b, ok
}

// Services is an opaque capability lookup handed to bindings.
type Services interface {
	Lookup(name string) (any, bool)
}

// ServiceMap is a map-backed Services.
type ServiceMap map[string]any

func (m ServiceMap) Lookup(name string) (any, bool) {
	v, ok := m[name]
	return v, ok
}
