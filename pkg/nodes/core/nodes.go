package core

import "github.com/wehubfusion/Daedalus/pkg/graph"

// Constructors declaring the sockets each core kind expects. Graphs loaded
// from files declare the same sockets themselves.

func Const(id string, value any) *graph.Node {
	return &graph.Node{ID: id, Kind: KindConst, Config: map[string]any{"value": value},
		Outputs: []graph.Socket{graph.DataOut("Value", "any")}}
}

func Add(id string) *graph.Node {
	return &graph.Node{ID: id, Kind: KindAdd,
		Inputs:  []graph.Socket{graph.DataIn("A", "number"), graph.DataIn("B", "number")},
		Outputs: []graph.Socket{graph.DataOut("Result", "number")}}
}

func CompareNode(id, op string) *graph.Node {
	return &graph.Node{ID: id, Kind: KindCompare, Config: map[string]any{"op": op},
		Inputs:  []graph.Socket{graph.DataIn("A", "any"), graph.DataIn("B", "any")},
		Outputs: []graph.Socket{graph.DataOut("Result", "bool")}}
}

func If(id string) *graph.Node {
	return callable(&graph.Node{ID: id, Kind: KindIf,
		Inputs:  []graph.Socket{graph.ExecIn("Exec"), graph.DataIn("Condition", "bool")},
		Outputs: []graph.Socket{graph.ExecOut("True"), graph.ExecOut("False")}})
}

func For(id string, start, end int) *graph.Node {
	return callable(&graph.Node{ID: id, Kind: KindFor,
		Inputs: []graph.Socket{graph.ExecIn("Exec"),
			graph.DataInDefault("Start", "int", start), graph.DataInDefault("End", "int", end)},
		Outputs: []graph.Socket{graph.ExecOut(graph.SocketLoopBody), graph.ExecOut(graph.SocketCompleted),
			graph.DataOut("Index", "int")}})
}

func While(id string) *graph.Node {
	return callable(&graph.Node{ID: id, Kind: KindWhile,
		Inputs: []graph.Socket{graph.ExecIn("Exec"), graph.DataIn("Condition", "bool")},
		Outputs: []graph.Socket{graph.ExecOut(graph.SocketLoopBody), graph.ExecOut(graph.SocketCompleted),
			graph.DataOut("Index", "int")}})
}

func Range(id string, mode graph.StreamMode) *graph.Node {
	return callable(&graph.Node{ID: id, Kind: KindRange, StreamMode: mode,
		Inputs: []graph.Socket{graph.ExecIn("Exec"), graph.DataIn("Items", "list"), graph.DataIn("Count", "int")},
		Outputs: []graph.Socket{graph.ExecOut(graph.SocketOnItem), graph.ExecOut(graph.SocketCompleted),
			graph.DataOut(graph.SocketItem, "any")}})
}

func Print(id string) *graph.Node {
	return callable(&graph.Node{ID: id, Kind: KindPrint,
		Inputs:  []graph.Socket{graph.ExecIn("Exec"), graph.DataIn("Value", "any")},
		Outputs: []graph.Socket{graph.ExecOut("Then")}})
}

func Break(id, reason string) *graph.Node {
	return callable(&graph.Node{ID: id, Kind: KindBreak,
		Inputs:  []graph.Socket{graph.ExecIn("Exec"), graph.DataInDefault("Reason", "string", reason)},
		Outputs: []graph.Socket{graph.ExecOut("Then")}})
}

func callable(n *graph.Node) *graph.Node {
	n.Callable = true
	return n
}
