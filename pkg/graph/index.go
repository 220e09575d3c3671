package graph

import (
	"errors"
	"fmt"
)

// ErrDuplicateNode is returned when two nodes share an id.
var ErrDuplicateNode = errors.New("duplicate node id")

// ErrUnknownNode is returned when a connection references a missing node.
var ErrUnknownNode = errors.New("connection references unknown node")

// Index provides constant-time lookups over a graph's nodes and connections.
// It is read-only once built and safe for concurrent use.
type Index struct {
	graph *Graph
	nodes map[string]*Node
	order map[string]int

	dataIn  map[string][]Connection
	dataOut map[string][]Connection
	execIn  map[string][]Connection
	execOut map[string][]Connection
}

// NewIndex builds an index over g.
func NewIndex(g *Graph) (*Index, error) {
	idx := &Index{
		graph:   g,
		nodes:   make(map[string]*Node, len(g.Nodes)),
		order:   make(map[string]int, len(g.Nodes)),
		dataIn:  make(map[string][]Connection),
		dataOut: make(map[string][]Connection),
		execIn:  make(map[string][]Connection),
		execOut: make(map[string][]Connection),
	}

	for i, n := range g.Nodes {
		if _, exists := idx.nodes[n.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
		}
		idx.nodes[n.ID] = n
		idx.order[n.ID] = i
	}

	for _, c := range g.Connections {
		if _, ok := idx.nodes[c.SourceNode]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownNode, c.SourceNode)
		}
		if _, ok := idx.nodes[c.TargetNode]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownNode, c.TargetNode)
		}
		if c.IsExecution {
			idx.execOut[c.SourceNode] = append(idx.execOut[c.SourceNode], c)
			idx.execIn[c.TargetNode] = append(idx.execIn[c.TargetNode], c)
		} else {
			idx.dataOut[c.SourceNode] = append(idx.dataOut[c.SourceNode], c)
			idx.dataIn[c.TargetNode] = append(idx.dataIn[c.TargetNode], c)
		}
	}

	return idx, nil
}

// MustIndex is NewIndex for graphs known to be well formed.
func MustIndex(g *Graph) *Index {
	idx, err := NewIndex(g)
	if err != nil {
		panic(err)
	}
	return idx
}

// Graph returns the indexed graph.
func (i *Index) Graph() *Graph { return i.graph }

// Node returns the node with the given id.
func (i *Index) Node(id string) (*Node, bool) {
	n, ok := i.nodes[id]
	return n, ok
}

// Order returns the declaration position of a node, used for stable sorting.
func (i *Index) Order(id string) int {
	if o, ok := i.order[id]; ok {
		return o
	}
	return len(i.order)
}

// Nodes returns every node in declaration order.
func (i *Index) Nodes() []*Node { return i.graph.Nodes }

// DataInputs returns the data connections targeting a node.
func (i *Index) DataInputs(id string) []Connection { return i.dataIn[id] }

// DataOutputs returns the data connections leaving a node.
func (i *Index) DataOutputs(id string) []Connection { return i.dataOut[id] }

// ExecInputs returns the execution connections targeting a node.
func (i *Index) ExecInputs(id string) []Connection { return i.execIn[id] }

// ExecOutputs returns the execution connections leaving a node.
func (i *Index) ExecOutputs(id string) []Connection { return i.execOut[id] }

// ExecTargets returns the distinct target node ids of one execution output.
func (i *Index) ExecTargets(id, socket string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, c := range i.execOut[id] {
		if c.SourceSocket != socket || seen[c.TargetNode] {
			continue
		}
		seen[c.TargetNode] = true
		out = append(out, c.TargetNode)
	}
	return out
}

// ExecSuccessors returns the distinct targets of every execution output.
func (i *Index) ExecSuccessors(id string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, c := range i.execOut[id] {
		if seen[c.TargetNode] {
			continue
		}
		seen[c.TargetNode] = true
		out = append(out, c.TargetNode)
	}
	return out
}

// ExecPredecessors returns the distinct sources of incoming execution links.
func (i *Index) ExecPredecessors(id string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, c := range i.execIn[id] {
		if seen[c.SourceNode] {
			continue
		}
		seen[c.SourceNode] = true
		out = append(out, c.SourceNode)
	}
	return out
}

// FindKind returns the first node of the given kind.
func (i *Index) FindKind(kind string) (*Node, bool) {
	for _, n := range i.graph.Nodes {
		if n.Kind == kind {
			return n, true
		}
	}
	return nil, false
}
