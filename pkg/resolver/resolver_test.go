package resolver

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/Daedalus/pkg/graph"
	"github.com/wehubfusion/Daedalus/pkg/storage"
)

// recorder executes "const" and "inc" data nodes and records the order.
type recorder struct {
	mu    sync.Mutex
	order []string
	runs  map[string]*atomic.Int32
}

func newRecorder() *recorder {
	return &recorder{runs: make(map[string]*atomic.Int32)}
}

func (r *recorder) count(id string) int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.runs[id]; ok {
		return c.Load()
	}
	return 0
}

func (r *recorder) ExecuteDataNode(ctx context.Context, n *graph.Node, s storage.Store) error {
	r.mu.Lock()
	r.order = append(r.order, n.ID)
	if r.runs[n.ID] == nil {
		r.runs[n.ID] = &atomic.Int32{}
	}
	c := r.runs[n.ID]
	r.mu.Unlock()
	c.Add(1)

	switch n.Kind {
	case "const":
		s.SetSocket(n.ID, "Out", n.Config["value"])
	case "inc":
		v, _ := s.Socket(n.ID, "In")
		i, _ := v.(int)
		s.SetSocket(n.ID, "Out", i+1)
	case graph.KindVariableGet:
		v, _ := s.Variable(n.Ref)
		s.SetSocket(n.ID, graph.SocketValue, v)
	case "fail":
		return errors.New("data node failed")
	}
	s.MarkExecuted(n.ID)
	return nil
}

func constNode(id string, v int) *graph.Node {
	return &graph.Node{ID: id, Name: id, Kind: "const", Config: map[string]any{"value": v},
		Outputs: []graph.Socket{graph.DataOut("Out", "int")}}
}

func incNode(id string) *graph.Node {
	return &graph.Node{ID: id, Name: id, Kind: "inc",
		Inputs:  []graph.Socket{graph.DataIn("In", "int")},
		Outputs: []graph.Socket{graph.DataOut("Out", "int")}}
}

func sinkNode(id string, inputs ...graph.Socket) *graph.Node {
	return &graph.Node{ID: id, Name: id, Kind: "sink",
		Inputs: append([]graph.Socket{graph.ExecIn("Exec")}, inputs...)}
}

func TestResolveChainRunsUpstreamFirst(t *testing.T) {
	g := graph.NewBuilder("chain").
		Add(constNode("A", 1)).
		Add(incNode("B")).
		Add(sinkNode("C", graph.DataIn("In", "int"))).
		Data("A", "Out", "B", "In").
		Data("B", "Out", "C", "In").
		Build()
	idx := graph.MustIndex(g)
	rec := newRecorder()
	r := New(idx, rec)
	store := storage.New()

	c, _ := idx.Node("C")
	require.NoError(t, r.ResolveInputs(context.Background(), c, store))

	assert.Equal(t, []string{"A", "B"}, rec.order)
	v, ok := store.Socket("C", "In")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestDataNodeRunsOncePerScope(t *testing.T) {
	g := graph.NewBuilder("diamond").
		Add(constNode("A", 5)).
		Add(incNode("B")).
		Add(incNode("C")).
		Add(sinkNode("D", graph.DataIn("X", "int"), graph.DataIn("Y", "int"))).
		Data("A", "Out", "B", "In").
		Data("A", "Out", "C", "In").
		Data("B", "Out", "D", "X").
		Data("C", "Out", "D", "Y").
		Build()
	idx := graph.MustIndex(g)
	rec := newRecorder()
	r := New(idx, rec)
	store := storage.New()

	d, _ := idx.Node("D")
	require.NoError(t, r.ResolveInputs(context.Background(), d, store))
	require.NoError(t, r.ResolveInputs(context.Background(), d, store))

	assert.EqualValues(t, 1, rec.count("A"))
	assert.EqualValues(t, 1, rec.count("B"))
	assert.EqualValues(t, 1, rec.count("C"))

	layer := store.CreateLayer()
	require.NoError(t, r.ResolveInputs(context.Background(), d, layer))
	assert.EqualValues(t, 2, rec.count("A"), "a fresh layer has its own executed set")
}

func TestConcurrentResolutionSharesExecution(t *testing.T) {
	b := graph.NewBuilder("fan").Add(constNode("A", 1))
	for _, id := range []string{"S1", "S2", "S3", "S4", "S5", "S6", "S7", "S8"} {
		b.Add(sinkNode(id, graph.DataIn("In", "int"))).Data("A", "Out", id, "In")
	}
	idx := graph.MustIndex(b.Build())
	rec := newRecorder()
	r := New(idx, rec)
	store := storage.New()

	var wg sync.WaitGroup
	for _, id := range []string{"S1", "S2", "S3", "S4", "S5", "S6", "S7", "S8"} {
		n, _ := idx.Node(id)
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.ResolveInputs(context.Background(), n, store))
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, rec.count("A"))
}

func TestCycleDetectedWithOrderedNames(t *testing.T) {
	g := graph.NewBuilder("cycle").
		Add(incNode("A")).
		Add(incNode("B")).
		Add(incNode("C")).
		Add(sinkNode("X", graph.DataIn("In", "int"))).
		Data("A", "Out", "B", "In").
		Data("B", "Out", "C", "In").
		Data("C", "Out", "A", "In").
		Data("A", "Out", "X", "In").
		Build()
	idx := graph.MustIndex(g)
	rec := newRecorder()
	r := New(idx, rec)

	x, _ := idx.Node("X")
	err := r.ResolveInputs(context.Background(), x, storage.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCycleDetected)

	var cycle *CycleError
	require.True(t, errors.As(err, &cycle))
	// each entry consumes the output of the entry after it
	assert.Equal(t, []string{"A", "C", "B", "A"}, cycle.Names)
	assert.Equal(t, cycle.Names, cycle.NodeIDs)
	assert.Contains(t, err.Error(), "A -> C -> B -> A")
	assert.Empty(t, rec.order, "nothing executes once a cycle is found")
}

func TestSelfCycle(t *testing.T) {
	g := graph.NewBuilder("self").
		Add(incNode("A")).
		Add(sinkNode("X", graph.DataIn("In", "int"))).
		Data("A", "Out", "A", "In").
		Data("A", "Out", "X", "In").
		Build()
	idx := graph.MustIndex(g)
	r := New(idx, newRecorder())

	x, _ := idx.Node("X")
	var cycle *CycleError
	err := r.ResolveInputs(context.Background(), x, storage.New())
	require.True(t, errors.As(err, &cycle))
	assert.Equal(t, []string{"A", "A"}, cycle.Names)
}

func TestCallableSourceIsReadNotExecuted(t *testing.T) {
	src := &graph.Node{ID: "P", Name: "P", Kind: "producer",
		Inputs:  []graph.Socket{graph.ExecIn("Exec")},
		Outputs: []graph.Socket{graph.ExecOut("Then"), graph.DataOut("Out", "int")}}
	g := graph.NewBuilder("callable").
		Add(src).
		Add(sinkNode("S", graph.DataIn("In", "int"))).
		Data("P", "Out", "S", "In").
		Build()
	idx := graph.MustIndex(g)
	rec := newRecorder()
	r := New(idx, rec)
	store := storage.New()
	store.SetSocket("P", "Out", 99)

	s, _ := idx.Node("S")
	require.NoError(t, r.ResolveInputs(context.Background(), s, store))
	assert.Empty(t, rec.order)
	v, _ := store.Socket("S", "In")
	assert.Equal(t, 99, v)
}

func TestDefaultsApplied(t *testing.T) {
	g := graph.NewBuilder("defaults").
		Add(sinkNode("S",
			graph.DataInDefault("Unconnected", "int", 7),
			graph.DataInDefault("Missing", "string", "fallback"))).
		Add(&graph.Node{ID: "P", Kind: "producer",
			Inputs:  []graph.Socket{graph.ExecIn("Exec")},
			Outputs: []graph.Socket{graph.ExecOut("Then"), graph.DataOut("Out", "string")}}).
		Data("P", "Out", "S", "Missing").
		Build()
	g.Nodes[1].Callable = true
	idx := graph.MustIndex(g)
	r := New(idx, newRecorder())
	store := storage.New()

	s, _ := idx.Node("S")
	require.NoError(t, r.ResolveInputs(context.Background(), s, store))

	v, _ := store.Socket("S", "Unconnected")
	assert.Equal(t, 7, v)
	v, _ = store.Socket("S", "Missing")
	assert.Equal(t, "fallback", v)
}

func TestVariableGetIsVolatile(t *testing.T) {
	get := &graph.Node{ID: "G", Kind: graph.KindVariableGet, Ref: "counter",
		Outputs: []graph.Socket{graph.DataOut(graph.SocketValue, "int")}}
	g := graph.NewBuilder("vars").
		Add(get).
		Add(sinkNode("S", graph.DataIn("In", "int"))).
		Data("G", graph.SocketValue, "S", "In").
		Build()
	idx := graph.MustIndex(g)
	rec := newRecorder()
	r := New(idx, rec)
	store := storage.New()
	s, _ := idx.Node("S")

	store.SetVariable("counter", 1)
	require.NoError(t, r.ResolveInputs(context.Background(), s, store))
	v, _ := store.Socket("S", "In")
	assert.Equal(t, 1, v)

	store.SetVariable("counter", 2)
	require.NoError(t, r.ResolveInputs(context.Background(), s, store))
	v, _ = store.Socket("S", "In")
	assert.Equal(t, 2, v)
	assert.EqualValues(t, 2, rec.count("G"))
}

func TestVariableReadersAreVolatile(t *testing.T) {
	get := &graph.Node{ID: "G", Kind: graph.KindVariableGet, Ref: "counter",
		Outputs: []graph.Socket{graph.DataOut(graph.SocketValue, "int")}}
	g := graph.NewBuilder("vars").
		Add(get).
		Add(incNode("I")).
		Add(constNode("C", 5)).
		Add(incNode("J")).
		Add(sinkNode("S", graph.DataIn("A", "int"), graph.DataIn("B", "int"))).
		Data("G", graph.SocketValue, "I", "In").
		Data("I", "Out", "S", "A").
		Data("C", "Out", "J", "In").
		Data("J", "Out", "S", "B").
		Build()
	idx := graph.MustIndex(g)
	rec := newRecorder()
	r := New(idx, rec)
	store := storage.New()
	s, _ := idx.Node("S")

	store.SetVariable("counter", 1)
	require.NoError(t, r.ResolveInputs(context.Background(), s, store))
	store.SetVariable("counter", 10)
	require.NoError(t, r.ResolveInputs(context.Background(), s, store))

	v, _ := store.Socket("S", "A")
	assert.Equal(t, 11, v)
	assert.EqualValues(t, 2, rec.count("I"))
	assert.EqualValues(t, 1, rec.count("J"), "nodes without variable reads stay cached")
}

func TestDataNodeErrorPropagates(t *testing.T) {
	g := graph.NewBuilder("fail").
		Add(&graph.Node{ID: "F", Kind: "fail", Outputs: []graph.Socket{graph.DataOut("Out", "int")}}).
		Add(sinkNode("S", graph.DataIn("In", "int"))).
		Data("F", "Out", "S", "In").
		Build()
	idx := graph.MustIndex(g)
	r := New(idx, newRecorder())

	s, _ := idx.Node("S")
	err := r.ResolveInputs(context.Background(), s, storage.New())
	assert.EqualError(t, err, "data node failed")
}

func TestResolveHonorsCancellation(t *testing.T) {
	g := graph.NewBuilder("cancel").
		Add(constNode("A", 1)).
		Add(sinkNode("S", graph.DataIn("In", "int"))).
		Data("A", "Out", "S", "In").
		Build()
	idx := graph.MustIndex(g)
	rec := newRecorder()
	r := New(idx, rec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s, _ := idx.Node("S")
	assert.ErrorIs(t, r.ResolveInputs(ctx, s, storage.New()), context.Canceled)
	assert.Empty(t, rec.order)
}
