package graph

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Parse decodes a graph snapshot from YAML or JSON.
func Parse(data []byte) (*Graph, error) {
	var g Graph
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("failed to parse graph: %w", err)
	}
	normalize(&g)
	if _, err := NewIndex(&g); err != nil {
		return nil, err
	}
	return &g, nil
}

// LoadFile reads a graph snapshot from disk.
func LoadFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph file %s: %w", path, err)
	}
	return Parse(data)
}

// normalize fills in flags implied by the document layout: sockets listed
// under inputs are inputs, a node with execution sockets is callable, and a
// default value marks the socket as defaulted.
func normalize(g *Graph) {
	for _, n := range g.Nodes {
		for i := range n.Inputs {
			n.Inputs[i].IsInput = true
			if n.Inputs[i].Default != nil {
				n.Inputs[i].HasDefault = true
			}
			if n.Inputs[i].IsExecution {
				n.Callable = true
			}
		}
		for i := range n.Outputs {
			n.Outputs[i].IsInput = false
			if n.Outputs[i].IsExecution {
				n.Callable = true
			}
		}
		if n.Subgraph != nil {
			normalize(n.Subgraph)
		}
	}
}
