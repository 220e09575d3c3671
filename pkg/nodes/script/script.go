// Package script runs user JavaScript as a node using sandboxed goja VMs.
//
// The data inputs of the node are exposed to the script as the global
// object input. The value of the script's last expression is its result:
// an object is spread onto the node's data outputs by key, anything else is
// written to the Result output. A string field "fire" in an object result
// names the execution output to signal.
package script

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/graph"
	"github.com/wehubfusion/Daedalus/pkg/nodes"
	"github.com/wehubfusion/Daedalus/pkg/runtime"
)

// Kind is the node kind registered by Register.
const Kind = "script.js"

// Engine owns one VM pool per security level.
type Engine struct {
	cfg   PoolConfig
	mu    sync.Mutex
	pools map[string]*Pool
}

// NewEngine creates an engine whose pools use cfg.
func NewEngine(cfg PoolConfig) *Engine {
	return &Engine{cfg: cfg, pools: make(map[string]*Pool)}
}

// Pool returns the pool of a security level, creating it on first use.
func (e *Engine) Pool(level string) *Pool {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pools[level]
	if !ok {
		p = NewPool(level, e.cfg)
		e.pools[level] = p
	}
	return p
}

// Close closes every pool.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var errs []error
	for _, p := range e.pools {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}

// Register adds the script kind to reg, backed by eng.
func Register(reg *nodes.Registry, eng *Engine) {
	reg.Register(Kind, eng.create)
}

func (e *Engine) create(n *graph.Node) (runtime.Binding, error) {
	cfg, err := ConfigFromNode(n)
	if err != nil {
		return nil, err
	}
	prog, err := goja.Compile(n.ID, cfg.Script, false)
	if err != nil {
		return nil, nodes.NewConfigError(n, "script", "compile failed",
			&Error{Type: ErrorTypeSyntax, Message: err.Error()})
	}
	return &binding{cfg: cfg, prog: prog, pool: e.Pool(cfg.SecurityLevel)}, nil
}

type binding struct {
	cfg  Config
	prog *goja.Program
	pool *Pool
}

func (b *binding) Invoke(ctx context.Context, nc *runtime.NodeContext) error {
	result, err := b.run(ctx, nc)
	if err != nil {
		return err
	}
	return apply(nc, result)
}

func (b *binding) run(ctx context.Context, nc *runtime.NodeContext) (result any, err error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	e, err := b.pool.acquire(timeoutCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire VM: %w", err)
	}

	done := make(chan struct{})
	watcher := make(chan struct{})
	go func() {
		defer close(watcher)
		select {
		case <-timeoutCtx.Done():
			e.vm.Interrupt(timeoutCtx.Err())
		case <-done:
		}
	}()
	// the watcher must be gone before the VM is reused
	defer func() {
		close(done)
		<-watcher
		b.pool.release(e)
	}()

	input := make(map[string]any)
	for _, s := range nc.Node().Inputs {
		if s.IsExecution {
			continue
		}
		if v, ok := nc.Input(s.Name); ok {
			input[s.Name] = v
		}
	}
	if err := e.vm.Set("input", input); err != nil {
		return nil, fmt.Errorf("failed to set input: %w", err)
	}
	if err := e.vm.Set("log", func(call goja.FunctionCall) goja.Value {
		nc.Feedback(call.Argument(0).String())
		return goja.Undefined()
	}); err != nil {
		return nil, fmt.Errorf("failed to set log: %w", err)
	}

	start := time.Now()
	value, err := e.vm.RunProgram(b.prog)
	nc.Logger().Debug("Script executed", zap.Duration("duration", time.Since(start)))
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &Error{Type: ErrorTypeTimeout, Message: fmt.Sprintf("script exceeded %s", b.cfg.Timeout)}
		}
		var exc *goja.Exception
		if errors.As(err, &exc) {
			return nil, fromException(exc)
		}
		return nil, &Error{Type: ErrorTypeRuntime, Message: err.Error()}
	}
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, nil
	}
	return value.Export(), nil
}

// apply writes a script result onto the node's outputs.
func apply(nc *runtime.NodeContext, result any) error {
	n := nc.Node()
	obj, ok := result.(map[string]any)
	if !ok {
		if _, has := n.Output("Result"); has && result != nil {
			nc.SetOutput("Result", result)
		}
		return nil
	}

	matched := false
	for _, s := range n.Outputs {
		if s.IsExecution {
			continue
		}
		if v, ok := obj[s.Name]; ok {
			nc.SetOutput(s.Name, v)
			matched = true
		}
	}
	if !matched {
		if _, has := n.Output("Result"); has {
			nc.SetOutput("Result", obj)
		}
	}
	if fire, ok := obj["fire"].(string); ok {
		return nc.Fire(fire)
	}
	return nil
}
