package script

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/wehubfusion/Daedalus/pkg/graph"
	"github.com/wehubfusion/Daedalus/pkg/nodes"
	"github.com/wehubfusion/Daedalus/pkg/runtime"
)

type captured struct {
	mu     sync.Mutex
	values map[string][]any
}

func (c *captured) get(id string) []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[id]
}

func setup(t *testing.T, pool PoolConfig) (*runtime.Runtime, *captured, *Engine) {
	t.Helper()
	c := &captured{values: make(map[string][]any)}
	eng := NewEngine(pool)
	t.Cleanup(func() { _ = eng.Close() })

	reg := nodes.NewRegistry()
	Register(reg, eng)
	reg.Register("capture", nodes.Func(func(_ context.Context, nc *runtime.NodeContext) error {
		v, _ := nc.Input("In")
		c.mu.Lock()
		defer c.mu.Unlock()
		c.values[nc.Node().ID] = append(c.values[nc.Node().ID], v)
		return nil
	}))

	rt, err := runtime.New(reg, runtime.DefaultConfig().WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return rt, c, eng
}

func scriptNode(id, src string, outputs ...graph.Socket) *graph.Node {
	return &graph.Node{ID: id, Kind: Kind, Callable: true,
		Config: map[string]any{"script": src},
		Inputs: []graph.Socket{graph.ExecIn("Exec"),
			graph.DataInDefault("A", "number", 2), graph.DataInDefault("B", "number", 3),
			graph.DataInDefault("Name", "string", "bob")},
		Outputs: append([]graph.Socket{graph.ExecOut("Then")}, outputs...)}
}

func capture(id string) *graph.Node {
	return &graph.Node{ID: id, Kind: "capture", Callable: true,
		Inputs:  []graph.Socket{graph.ExecIn("Exec"), graph.DataIn("In", "any")},
		Outputs: []graph.Socket{graph.ExecOut("Then")}}
}

func single(n *graph.Node, output string) *graph.Graph {
	return graph.NewBuilder("script").
		Add(n).
		Add(capture("Out")).
		Exec(n.ID, "Then", "Out", "Exec").
		Data(n.ID, output, "Out", "In").
		Build()
}

func TestObjectResultMapsOutputs(t *testing.T) {
	rt, c, _ := setup(t, DefaultPoolConfig())
	n := scriptNode("JS", "({Sum: input.A + input.B, Ignored: true})",
		graph.DataOut("Sum", "number"), graph.DataOut("Result", "any"))

	_, err := rt.Execute(context.Background(), single(n, "Sum"))
	require.NoError(t, err)
	assert.Equal(t, []any{int64(5)}, c.get("Out"))
}

func TestScalarResultGoesToResult(t *testing.T) {
	rt, c, _ := setup(t, DefaultPoolConfig())
	n := scriptNode("JS", "input.Name.toUpperCase()", graph.DataOut("Result", "any"))

	_, err := rt.Execute(context.Background(), single(n, "Result"))
	require.NoError(t, err)
	assert.Equal(t, []any{"BOB"}, c.get("Out"))
}

func TestScriptFiresNamedOutput(t *testing.T) {
	rt, c, _ := setup(t, DefaultPoolConfig())
	n := &graph.Node{ID: "JS", Kind: Kind, Callable: true,
		Config:  map[string]any{"script": `({fire: input.X > 1 ? "Big" : "Small"})`},
		Inputs:  []graph.Socket{graph.ExecIn("Exec"), graph.DataInDefault("X", "number", 5)},
		Outputs: []graph.Socket{graph.ExecOut("Big"), graph.ExecOut("Small")}}
	g := graph.NewBuilder("fire").
		Add(n).Add(capture("OnBig")).Add(capture("OnSmall")).
		Exec("JS", "Big", "OnBig", "Exec").
		Exec("JS", "Small", "OnSmall", "Exec").
		Build()

	_, err := rt.Execute(context.Background(), g)
	require.NoError(t, err)
	assert.Len(t, c.get("OnBig"), 1)
	assert.Empty(t, c.get("OnSmall"))
}

func TestScriptTimeout(t *testing.T) {
	rt, _, _ := setup(t, DefaultPoolConfig())
	n := scriptNode("JS", "while (true) {}", graph.DataOut("Result", "any"))
	n.Config["timeout"] = "50ms"

	res, err := rt.Execute(context.Background(), single(n, "Result"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, runtime.StatusFailed, res.Status)
}

func TestScriptCancellation(t *testing.T) {
	rt, _, _ := setup(t, DefaultPoolConfig())
	n := scriptNode("JS", "while (true) {}", graph.DataOut("Result", "any"))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	res, err := rt.Execute(ctx, single(n, "Result"))
	require.Error(t, err)
	assert.ErrorIs(t, err, runtime.ErrCanceled)
	assert.Equal(t, runtime.StatusCanceled, res.Status)
}

func TestScriptException(t *testing.T) {
	rt, _, _ := setup(t, DefaultPoolConfig())
	n := scriptNode("JS", "throw new Error('nope')", graph.DataOut("Result", "any"))

	_, err := rt.Execute(context.Background(), single(n, "Result"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRuntime)
	var scriptErr *Error
	require.ErrorAs(t, err, &scriptErr)
	assert.Equal(t, "nope", scriptErr.Message)
}

func TestStrictModeForbidsEval(t *testing.T) {
	rt, _, _ := setup(t, DefaultPoolConfig())
	n := scriptNode("JS", "eval('1 + 1')", graph.DataOut("Result", "any"))
	n.Config["security_level"] = SecurityLevelStrict

	_, err := rt.Execute(context.Background(), single(n, "Result"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSecurity)
}

func TestSandboxRemovesHostGlobals(t *testing.T) {
	rt, c, _ := setup(t, DefaultPoolConfig())
	n := scriptNode("JS", "typeof require + ',' + typeof process", graph.DataOut("Result", "any"))

	_, err := rt.Execute(context.Background(), single(n, "Result"))
	require.NoError(t, err)
	assert.Equal(t, []any{"undefined,undefined"}, c.get("Out"))
}

func TestSyntaxErrorIsConfigError(t *testing.T) {
	rt, _, _ := setup(t, DefaultPoolConfig())
	n := scriptNode("JS", "function (", graph.DataOut("Result", "any"))

	_, err := rt.Execute(context.Background(), single(n, "Result"))
	require.Error(t, err)
	var cfgErr *nodes.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, ErrSyntax)
}

func TestPooledVMDoesNotLeakGlobals(t *testing.T) {
	rt, c, eng := setup(t, PoolConfig{MaxSize: 1})
	src := "var leaked = typeof leaked === 'undefined' ? 1 : 2; counter = (typeof counter === 'undefined') ? 1 : counter + 1; leaked * 10 + counter"

	for i := 0; i < 2; i++ {
		n := scriptNode("JS", src, graph.DataOut("Result", "any"))
		_, err := rt.Execute(context.Background(), single(n, "Result"))
		require.NoError(t, err)
	}
	assert.Equal(t, []any{int64(11), int64(11)}, c.get("Out"))
	assert.EqualValues(t, 1, eng.Pool(SecurityLevelStandard).Stats().TotalCreated)
}

func TestPoolClosed(t *testing.T) {
	p := NewPool(SecurityLevelStandard, DefaultPoolConfig())
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	_, err := p.acquire(context.Background())
	assert.True(t, errors.Is(err, ErrPoolClosed))
}

func TestConfigFromNode(t *testing.T) {
	n := &graph.Node{ID: "n", Config: map[string]any{"script": "1", "timeout": 250}}
	cfg, err := ConfigFromNode(n)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Timeout)
	assert.Equal(t, SecurityLevelStandard, cfg.SecurityLevel)

	n.Config["security_level"] = "lax"
	_, err = ConfigFromNode(n)
	assert.Error(t, err)

	_, err = ConfigFromNode(&graph.Node{ID: "empty"})
	assert.Error(t, err)

	_, err = ConfigFromNode(&graph.Node{ID: "bad", Config: map[string]any{"script": "1", "timeout": "soon"}})
	var cfgErr *nodes.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "timeout", cfgErr.Field)
}
