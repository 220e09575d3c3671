// Package graph holds the immutable node/connection snapshot the engine runs.
package graph

// Well-known socket names interpreted by the planner and runtime.
const (
	// SocketLoopBody is the continue output of a loop header.
	SocketLoopBody = "LoopBody"
	// SocketCompleted is the exit output of a loop header and the terminal
	// output of a streaming node.
	SocketCompleted = "Completed"
	// SocketOnItem fires once per emitted stream item.
	SocketOnItem = "OnItem"
	// SocketItem is the default data socket carrying a stream item.
	SocketItem = "Item"
	// SocketValue is the data socket used by variable nodes.
	SocketValue = "Value"
	// SocketPayload is the data socket used by event nodes.
	SocketPayload = "Payload"
)

// Built-in node kinds handled by the runtime without an external binding.
const (
	KindVariableGet   = "variable.get"
	KindVariableSet   = "variable.set"
	KindEventTrigger  = "event.trigger"
	KindEventListener = "event.listener"
	KindGroup         = "group"
	KindGroupInput    = "group.input"
	KindGroupOutput   = "group.output"
)

// StreamMode selects how emitted stream items are processed downstream.
type StreamMode string

const (
	// StreamDefault defers to the runtime configuration.
	StreamDefault StreamMode = ""
	// StreamSequential awaits each item's chain before the next item.
	StreamSequential StreamMode = "sequential"
	// StreamConcurrent runs each item's chain in an isolated overlay.
	StreamConcurrent StreamMode = "concurrent"
)

// Socket is a typed input or output slot of a node.
type Socket struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`
	IsInput     bool   `json:"isInput,omitempty" yaml:"isInput,omitempty"`
	IsExecution bool   `json:"isExecution,omitempty" yaml:"isExecution,omitempty"`
	Default     any    `json:"default,omitempty" yaml:"default,omitempty"`
	HasDefault  bool   `json:"hasDefault,omitempty" yaml:"hasDefault,omitempty"`
}

// Node is a single vertex of the graph.
type Node struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Kind     string `json:"kind" yaml:"kind"`
	Callable bool   `json:"callable,omitempty" yaml:"callable,omitempty"`
	ExecInit bool   `json:"execInit,omitempty" yaml:"execInit,omitempty"`

	Inputs  []Socket `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs []Socket `json:"outputs,omitempty" yaml:"outputs,omitempty"`

	// Ref names the variable or event a built-in node operates on.
	Ref string `json:"ref,omitempty" yaml:"ref,omitempty"`

	Config     map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	Subgraph   *Graph         `json:"subgraph,omitempty" yaml:"subgraph,omitempty"`
	StreamMode StreamMode     `json:"streamMode,omitempty" yaml:"streamMode,omitempty"`
}

// Label returns the display name, falling back to the id.
func (n *Node) Label() string {
	if n.Name != "" {
		return n.Name
	}
	return n.ID
}

// Input returns the named input socket.
func (n *Node) Input(name string) (Socket, bool) {
	for _, s := range n.Inputs {
		if s.Name == name {
			return s, true
		}
	}
	return Socket{}, false
}

// Output returns the named output socket.
func (n *Node) Output(name string) (Socket, bool) {
	for _, s := range n.Outputs {
		if s.Name == name {
			return s, true
		}
	}
	return Socket{}, false
}

// ExecOutputs returns the names of the execution outputs in declared order.
func (n *Node) ExecOutputs() []string {
	var names []string
	for _, s := range n.Outputs {
		if s.IsExecution {
			names = append(names, s.Name)
		}
	}
	return names
}

// ExecInputs returns the names of the execution inputs in declared order.
func (n *Node) ExecInputs() []string {
	var names []string
	for _, s := range n.Inputs {
		if s.IsExecution {
			names = append(names, s.Name)
		}
	}
	return names
}

// HasExecOutput reports whether the node declares the named execution output.
func (n *Node) HasExecOutput(name string) bool {
	s, ok := n.Output(name)
	return ok && s.IsExecution
}

// IsLoopHeader reports whether the node exposes both loop outputs.
func (n *Node) IsLoopHeader() bool {
	return n.HasExecOutput(SocketLoopBody) && n.HasExecOutput(SocketCompleted)
}

// IsStreaming reports whether the node fires per-item execution outputs.
func (n *Node) IsStreaming() bool {
	return n.HasExecOutput(SocketOnItem)
}

// IsBuiltin reports whether the runtime handles the node kind itself.
func (n *Node) IsBuiltin() bool {
	switch n.Kind {
	case KindVariableGet, KindVariableSet, KindEventTrigger, KindEventListener,
		KindGroup, KindGroupInput, KindGroupOutput:
		return true
	}
	return false
}

// Connection links a source output socket to a target input socket.
type Connection struct {
	SourceNode   string `json:"sourceNode" yaml:"sourceNode"`
	SourceSocket string `json:"sourceSocket" yaml:"sourceSocket"`
	TargetNode   string `json:"targetNode" yaml:"targetNode"`
	TargetSocket string `json:"targetSocket" yaml:"targetSocket"`
	IsExecution  bool   `json:"isExecution,omitempty" yaml:"isExecution,omitempty"`
}

// GraphEvent is a user-defined event. Each event yields one trigger kind and
// one listener kind.
type GraphEvent struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Variable is a per-run variable with an optional default.
type Variable struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Type    string `json:"type,omitempty" yaml:"type,omitempty"`
	Default any    `json:"default,omitempty" yaml:"default,omitempty"`
}

// Graph is an already validated snapshot of nodes and connections.
type Graph struct {
	Name        string       `json:"name,omitempty" yaml:"name,omitempty"`
	Nodes       []*Node      `json:"nodes" yaml:"nodes"`
	Connections []Connection `json:"connections,omitempty" yaml:"connections,omitempty"`
	Events      []GraphEvent `json:"events,omitempty" yaml:"events,omitempty"`
	Variables   []Variable   `json:"variables,omitempty" yaml:"variables,omitempty"`
}

// ExecutionPath is the one-shot signal written to an execution output.
type ExecutionPath struct {
	Signaled bool `json:"signaled"`
}

// Signal returns a fired execution path.
func Signal() ExecutionPath {
	return ExecutionPath{Signaled: true}
}

// IsSignaled reports whether v is a fired execution path.
func IsSignaled(v any) bool {
	switch p := v.(type) {
	case ExecutionPath:
		return p.Signaled
	case *ExecutionPath:
		return p != nil && p.Signaled
	}
	return false
}
