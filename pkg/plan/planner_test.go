package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/Daedalus/pkg/graph"
)

func entry(id string) *graph.Node {
	return &graph.Node{ID: id, Name: id, Kind: "start", ExecInit: true,
		Outputs: []graph.Socket{graph.ExecOut("Then")}}
}

func action(id string) *graph.Node {
	return &graph.Node{ID: id, Name: id, Kind: "action",
		Inputs:  []graph.Socket{graph.ExecIn("Exec"), graph.DataIn("In", "int")},
		Outputs: []graph.Socket{graph.ExecOut("Then"), graph.DataOut("Out", "int")}}
}

func loopHeader(id string) *graph.Node {
	return &graph.Node{ID: id, Name: id, Kind: "for",
		Inputs: []graph.Socket{graph.ExecIn("Exec")},
		Outputs: []graph.Socket{
			graph.ExecOut(graph.SocketLoopBody), graph.ExecOut(graph.SocketCompleted),
			graph.DataOut("Index", "int"),
		}}
}

func condition(id string) *graph.Node {
	return &graph.Node{ID: id, Name: id, Kind: "if",
		Inputs:  []graph.Socket{graph.ExecIn("Exec")},
		Outputs: []graph.Socket{graph.ExecOut("True"), graph.ExecOut("False")}}
}

func streamer(id string) *graph.Node {
	return &graph.Node{ID: id, Name: id, Kind: "range",
		Inputs: []graph.Socket{graph.ExecIn("Exec")},
		Outputs: []graph.Socket{
			graph.ExecOut(graph.SocketOnItem), graph.ExecOut(graph.SocketCompleted),
			graph.DataOut(graph.SocketItem, "int"),
		}}
}

func dataNode(id string) *graph.Node {
	return &graph.Node{ID: id, Name: id, Kind: "inc",
		Inputs:  []graph.Socket{graph.DataIn("In", "int")},
		Outputs: []graph.Socket{graph.DataOut("Out", "int")}}
}

func layer(ids ...string) *LayerStep { return &LayerStep{NodeIDs: ids} }

func TestLinearChain(t *testing.T) {
	g := graph.NewBuilder("linear").
		Add(entry("s")).Add(action("a")).Add(action("b")).
		Exec("s", "Then", "a", "Exec").
		Exec("a", "Then", "b", "Exec").
		Build()

	p, err := Build(g)
	require.NoError(t, err)
	assert.Equal(t, []Step{layer("s"), layer("a"), layer("b")}, p.Steps)
}

func TestIndependentEntriesShareALayer(t *testing.T) {
	g := graph.NewBuilder("entries").
		Add(entry("s1")).Add(entry("s2")).
		Build()

	p, err := Build(g)
	require.NoError(t, err)
	assert.Equal(t, []Step{layer("s1", "s2")}, p.Steps)
}

func TestIndependentChainsRunInParallel(t *testing.T) {
	g := graph.NewBuilder("chains").
		Add(entry("s1")).Add(action("a")).
		Add(entry("s2")).Add(action("b")).
		Exec("s1", "Then", "a", "Exec").
		Exec("s2", "Then", "b", "Exec").
		Build()

	p, err := Build(g)
	require.NoError(t, err)
	require.Len(t, p.Steps, 1)
	par, ok := p.Steps[0].(*ParallelSteps)
	require.True(t, ok)
	assert.Equal(t, [][]Step{
		{layer("s1"), layer("a")},
		{layer("s2"), layer("b")},
	}, par.Sequences)
}

func TestJoinWaitsForAllPredecessors(t *testing.T) {
	g := graph.NewBuilder("join").
		Add(entry("s1")).Add(entry("s2")).Add(action("d")).
		Exec("s1", "Then", "d", "Exec").
		Exec("s2", "Then", "d", "Exec").
		Build()

	p, err := Build(g)
	require.NoError(t, err)
	assert.Equal(t, []Step{layer("s1", "s2"), layer("d")}, p.Steps)
}

func TestLoopStep(t *testing.T) {
	g := graph.NewBuilder("loop").
		Add(entry("s")).Add(loopHeader("L")).
		Add(action("body1")).Add(action("body2")).Add(action("after")).
		Add(dataNode("X")).Add(dataNode("K")).
		Exec("s", "Then", "L", "Exec").
		Exec("L", graph.SocketLoopBody, "body1", "Exec").
		Exec("body1", "Then", "body2", "Exec").
		Exec("L", graph.SocketCompleted, "after", "Exec").
		Data("body1", "Out", "X", "In").
		Data("X", "Out", "body2", "In").
		Data("K", "Out", "after", "In").
		Build()

	p, err := Build(g)
	require.NoError(t, err)
	require.Len(t, p.Steps, 3)
	assert.Equal(t, layer("s"), p.Steps[0])
	assert.Equal(t, layer("after"), p.Steps[2])

	loop, ok := p.Steps[1].(*LoopStep)
	require.True(t, ok)
	assert.Equal(t, "L", loop.Header)
	assert.Equal(t, graph.SocketLoopBody, loop.ContinueSocket)
	assert.Equal(t, graph.SocketCompleted, loop.ExitSocket)
	assert.Equal(t, []Step{layer("body1"), layer("body2")}, loop.Body)
	assert.Equal(t, []string{"body1", "body2", "X"}, loop.Reset)
	assert.Equal(t, []string{"s", "L", "body1", "body2", "after"}, NodeIDs(p.Steps))
}

func TestLoopResetIncludesDataFedByHeader(t *testing.T) {
	g := graph.NewBuilder("loop-index").
		Add(entry("s")).Add(loopHeader("L")).Add(action("body")).Add(dataNode("D")).
		Exec("s", "Then", "L", "Exec").
		Exec("L", graph.SocketLoopBody, "body", "Exec").
		Data("L", "Index", "D", "In").
		Data("D", "Out", "body", "In").
		Build()

	p, err := Build(g)
	require.NoError(t, err)
	loop := p.Steps[1].(*LoopStep)
	assert.Equal(t, []string{"body", "D"}, loop.Reset)
}

func TestBranchStepWithMerge(t *testing.T) {
	g := graph.NewBuilder("branch").
		Add(entry("s")).Add(condition("br")).
		Add(action("t1")).Add(action("t2")).Add(action("f1")).Add(action("merge")).
		Exec("s", "Then", "br", "Exec").
		Exec("br", "True", "t1", "Exec").
		Exec("t1", "Then", "t2", "Exec").
		Exec("br", "False", "f1", "Exec").
		Exec("t2", "Then", "merge", "Exec").
		Exec("f1", "Then", "merge", "Exec").
		Build()

	p, err := Build(g)
	require.NoError(t, err)
	require.Len(t, p.Steps, 3)

	br, ok := p.Steps[1].(*BranchStep)
	require.True(t, ok)
	assert.Equal(t, "br", br.Condition)
	assert.Equal(t, []string{"True", "False"}, br.Outputs)
	assert.Equal(t, []Step{layer("t1"), layer("t2")}, br.Branches["True"])
	assert.Equal(t, []Step{layer("f1")}, br.Branches["False"])
	assert.Equal(t, layer("merge"), p.Steps[2])
}

func TestForkBecomesParallelSteps(t *testing.T) {
	g := graph.NewBuilder("fork").
		Add(entry("s")).
		Add(action("a")).Add(action("a2")).
		Add(action("b")).Add(action("b2")).
		Add(action("join")).
		Exec("s", "Then", "a", "Exec").
		Exec("s", "Then", "b", "Exec").
		Exec("a", "Then", "a2", "Exec").
		Exec("b", "Then", "b2", "Exec").
		Exec("a2", "Then", "join", "Exec").
		Exec("b2", "Then", "join", "Exec").
		Build()

	p, err := Build(g)
	require.NoError(t, err)
	require.Len(t, p.Steps, 3)
	assert.Equal(t, layer("s"), p.Steps[0])

	par, ok := p.Steps[1].(*ParallelSteps)
	require.True(t, ok)
	assert.Equal(t, [][]Step{
		{layer("a"), layer("a2")},
		{layer("b"), layer("b2")},
	}, par.Sequences)
	assert.Equal(t, layer("join"), p.Steps[2])
}

func TestStreamItemChain(t *testing.T) {
	g := graph.NewBuilder("stream").
		Add(entry("s")).Add(streamer("R")).
		Add(action("i1")).Add(action("i2")).Add(action("done")).
		Add(dataNode("P")).
		Exec("s", "Then", "R", "Exec").
		Exec("R", graph.SocketOnItem, "i1", "Exec").
		Exec("i1", "Then", "i2", "Exec").
		Exec("R", graph.SocketCompleted, "done", "Exec").
		Data("R", graph.SocketItem, "P", "In").
		Data("P", "Out", "i2", "In").
		Build()

	p, err := Build(g)
	require.NoError(t, err)
	assert.Equal(t, []Step{layer("s"), layer("R"), layer("done")}, p.Steps)
	assert.Equal(t, []Step{layer("i1"), layer("i2")}, p.ItemChains["R"])
	assert.Equal(t, []string{"i1", "i2", "P"}, p.ItemScopes["R"])
}

func TestListenerChainsArePlannedSeparately(t *testing.T) {
	listener := &graph.Node{ID: "on", Name: "on", Kind: graph.KindEventListener, Ref: "evt",
		Outputs: []graph.Socket{graph.ExecOut("Then"), graph.DataOut(graph.SocketPayload, "any")}}
	g := graph.NewBuilder("events").
		Add(entry("s")).Add(listener).Add(action("h1")).Add(action("h2")).
		Exec("on", "Then", "h1", "Exec").
		Exec("h1", "Then", "h2", "Exec").
		Build()

	p, err := Build(g)
	require.NoError(t, err)
	assert.Equal(t, []Step{layer("s")}, p.Steps)
	assert.Equal(t, []Step{layer("h1"), layer("h2")}, p.Listeners["on"])
}

func TestLoopNestedInBranch(t *testing.T) {
	g := graph.NewBuilder("nested").
		Add(entry("s")).Add(condition("br")).Add(loopHeader("L")).Add(action("body")).
		Exec("s", "Then", "br", "Exec").
		Exec("br", "True", "L", "Exec").
		Exec("L", graph.SocketLoopBody, "body", "Exec").
		Build()

	p, err := Build(g)
	require.NoError(t, err)
	require.Len(t, p.Steps, 2)

	br := p.Steps[1].(*BranchStep)
	require.Len(t, br.Branches["True"], 1)
	loop, ok := br.Branches["True"][0].(*LoopStep)
	require.True(t, ok)
	assert.Equal(t, []Step{layer("body")}, loop.Body)
	_, hasFalse := br.Branches["False"]
	assert.False(t, hasFalse)
}

func TestControlCycleTerminates(t *testing.T) {
	g := graph.NewBuilder("cycle").
		Add(entry("s")).Add(action("a")).Add(action("b")).
		Exec("s", "Then", "a", "Exec").
		Exec("a", "Then", "b", "Exec").
		Exec("b", "Then", "a", "Exec").
		Build()

	p, err := Build(g)
	require.NoError(t, err)
	assert.Equal(t, []Step{layer("s"), layer("a"), layer("b")}, p.Steps)
}

func TestBuildIsPure(t *testing.T) {
	g := graph.NewBuilder("pure").
		Add(entry("s")).Add(loopHeader("L")).Add(action("body")).
		Exec("s", "Then", "L", "Exec").
		Exec("L", graph.SocketLoopBody, "body", "Exec").
		Build()

	p1, err := Build(g)
	require.NoError(t, err)
	p2, err := Build(g)
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
}

func TestDescribe(t *testing.T) {
	g := graph.NewBuilder("describe").
		Add(entry("s")).Add(loopHeader("L")).Add(action("body")).
		Exec("s", "Then", "L", "Exec").
		Exec("L", graph.SocketLoopBody, "body", "Exec").
		Build()

	p, err := Build(g)
	require.NoError(t, err)
	out := Describe(p)
	assert.Contains(t, out, "layer [s]")
	assert.Contains(t, out, "loop L (LoopBody/Completed)")
	assert.Contains(t, out, "  layer [body]")
}
