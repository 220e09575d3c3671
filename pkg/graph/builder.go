package graph

// ExecIn declares an execution input socket.
func ExecIn(name string) Socket {
	return Socket{Name: name, Type: "exec", IsInput: true, IsExecution: true}
}

// ExecOut declares an execution output socket.
func ExecOut(name string) Socket {
	return Socket{Name: name, Type: "exec", IsExecution: true}
}

// DataIn declares a data input socket.
func DataIn(name, typ string) Socket {
	return Socket{Name: name, Type: typ, IsInput: true}
}

// DataInDefault declares a data input socket with a literal default.
func DataInDefault(name, typ string, def any) Socket {
	return Socket{Name: name, Type: typ, IsInput: true, Default: def, HasDefault: true}
}

// DataOut declares a data output socket.
func DataOut(name, typ string) Socket {
	return Socket{Name: name, Type: typ}
}

// Builder assembles a graph programmatically.
type Builder struct {
	g Graph
}

// NewBuilder starts an empty graph.
func NewBuilder(name string) *Builder {
	return &Builder{g: Graph{Name: name}}
}

// Add appends a node. Callable is derived from its sockets.
func (b *Builder) Add(n *Node) *Builder {
	for _, s := range append(append([]Socket{}, n.Inputs...), n.Outputs...) {
		if s.IsExecution {
			n.Callable = true
			break
		}
	}
	b.g.Nodes = append(b.g.Nodes, n)
	return b
}

// Exec links an execution output to an execution input.
func (b *Builder) Exec(src, srcSocket, dst, dstSocket string) *Builder {
	b.g.Connections = append(b.g.Connections, Connection{
		SourceNode: src, SourceSocket: srcSocket,
		TargetNode: dst, TargetSocket: dstSocket,
		IsExecution: true,
	})
	return b
}

// Data links a data output to a data input.
func (b *Builder) Data(src, srcSocket, dst, dstSocket string) *Builder {
	b.g.Connections = append(b.g.Connections, Connection{
		SourceNode: src, SourceSocket: srcSocket,
		TargetNode: dst, TargetSocket: dstSocket,
	})
	return b
}

// Variable declares a run variable.
func (b *Builder) Variable(id string, def any) *Builder {
	b.g.Variables = append(b.g.Variables, Variable{ID: id, Name: id, Default: def})
	return b
}

// Event declares a user event.
func (b *Builder) Event(id, name string) *Builder {
	b.g.Events = append(b.g.Events, GraphEvent{ID: id, Name: name})
	return b
}

// Build returns the assembled graph.
func (b *Builder) Build() *Graph {
	g := b.g
	return &g
}
