// Package core provides the general purpose node kinds: constants,
// arithmetic, comparison, branching, loops, streams and console output.
package core

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"strings"

	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/graph"
	"github.com/wehubfusion/Daedalus/pkg/nodes"
	"github.com/wehubfusion/Daedalus/pkg/runtime"
)

// Node kinds registered by Register.
const (
	KindConst   = "core.const"
	KindAdd     = "core.add"
	KindCompare = "core.compare"
	KindIf      = "core.if"
	KindFor     = "core.for"
	KindWhile   = "core.while"
	KindRange   = "core.range"
	KindPrint   = "core.print"
	KindBreak   = "core.break"
)

// StdoutService is the service name core.print writes to when present. The
// service must be an io.Writer.
const StdoutService = "stdout"

// Register adds the core kinds to reg.
func Register(reg *nodes.Registry) {
	reg.Register(KindConst, newConst)
	reg.Register(KindAdd, nodes.Func(add))
	reg.Register(KindCompare, newCompare)
	reg.Register(KindIf, nodes.Func(branch))
	reg.Register(KindFor, nodes.Func(forLoop))
	reg.Register(KindWhile, nodes.Func(whileLoop))
	reg.Register(KindRange, nodes.Func(rangeItems))
	reg.Register(KindPrint, nodes.Func(printValue))
	reg.Register(KindBreak, nodes.Func(breakRun))
}

func newConst(n *graph.Node) (runtime.Binding, error) {
	value, ok := n.Config["value"]
	if !ok {
		return nil, nodes.NewConfigError(n, "value", "value is required", nil)
	}
	return runtime.BindingFunc(func(_ context.Context, nc *runtime.NodeContext) error {
		nc.SetOutput("Value", value)
		return nil
	}), nil
}

// add sums A and B. Strings concatenate; two integers stay integral.
func add(_ context.Context, nc *runtime.NodeContext) error {
	a := nc.InputOr("A", 0)
	b := nc.InputOr("B", 0)

	if as, ok := a.(string); ok {
		nc.SetOutput("Result", as+fmt.Sprint(b))
		return nil
	}
	if ai, ok := nodes.ToInt(a); ok {
		if bi, ok := nodes.ToInt(b); ok {
			nc.SetOutput("Result", ai+bi)
			return nil
		}
	}
	af, aok := nodes.ToFloat(a)
	bf, bok := nodes.ToFloat(b)
	if !aok || !bok {
		return fmt.Errorf("cannot add %T and %T", a, b)
	}
	nc.SetOutput("Result", af+bf)
	return nil
}

var compareOps = map[string]struct{}{
	"==": {}, "!=": {}, "<": {}, "<=": {}, ">": {}, ">=": {},
}

func newCompare(n *graph.Node) (runtime.Binding, error) {
	op := nodes.String(n, "op", "==")
	if _, ok := compareOps[op]; !ok {
		return nil, nodes.NewConfigError(n, "op", fmt.Sprintf("unsupported operator '%s'", op), nil)
	}
	return runtime.BindingFunc(func(_ context.Context, nc *runtime.NodeContext) error {
		a, _ := nc.Input("A")
		b, _ := nc.Input("B")
		ok, err := Compare(op, a, b)
		if err != nil {
			return err
		}
		nc.SetOutput("Result", ok)
		return nil
	}), nil
}

// Compare applies a comparison operator. Numbers compare numerically and
// strings lexically; other values only support equality.
func Compare(op string, a, b any) (bool, error) {
	var c int
	af, aok := nodes.ToFloat(a)
	bf, bok := nodes.ToFloat(b)
	as, asok := a.(string)
	bs, bsok := b.(string)

	switch {
	case aok && bok:
		switch {
		case af < bf:
			c = -1
		case af > bf:
			c = 1
		}
	case asok && bsok:
		c = strings.Compare(as, bs)
	default:
		eq := reflect.DeepEqual(a, b)
		switch op {
		case "==":
			return eq, nil
		case "!=":
			return !eq, nil
		}
		return false, fmt.Errorf("cannot compare %T %s %T", a, op, b)
	}

	switch op {
	case "==":
		return c == 0, nil
	case "!=":
		return c != 0, nil
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	case ">=":
		return c >= 0, nil
	}
	return false, fmt.Errorf("unsupported operator '%s'", op)
}

func branch(_ context.Context, nc *runtime.NodeContext) error {
	if truthy(nc.InputOr("Condition", false)) {
		return nc.Fire("True")
	}
	return nc.Fire("False")
}

// forLoop counts Index from Start up to, not including, End.
func forLoop(_ context.Context, nc *runtime.NodeContext) error {
	start, _ := nodes.ToInt(nc.InputOr("Start", 0))
	end, ok := nodes.ToInt(nc.InputOr("End", 0))
	if !ok {
		return fmt.Errorf("End must be an integer, got %T", nc.InputOr("End", 0))
	}
	if i := start + nc.Iteration(); i < end {
		nc.SetOutput("Index", i)
		return nc.Fire(graph.SocketLoopBody)
	}
	return nc.Fire(graph.SocketCompleted)
}

func whileLoop(_ context.Context, nc *runtime.NodeContext) error {
	if truthy(nc.InputOr("Condition", false)) {
		nc.SetOutput("Index", nc.Iteration())
		return nc.Fire(graph.SocketLoopBody)
	}
	return nc.Fire(graph.SocketCompleted)
}

// rangeItems emits every element of Items, or 0..Count-1 when Items is not
// connected.
func rangeItems(ctx context.Context, nc *runtime.NodeContext) error {
	if items, ok := nc.Input("Items"); ok && items != nil {
		v := reflect.ValueOf(items)
		if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
			return fmt.Errorf("Items must be a list, got %T", items)
		}
		for i := 0; i < v.Len(); i++ {
			if err := nc.Emit(ctx, graph.SocketItem, v.Index(i).Interface()); err != nil {
				return err
			}
		}
		return nil
	}

	count, ok := nodes.ToInt(nc.InputOr("Count", 0))
	if !ok {
		return fmt.Errorf("Count must be an integer, got %T", nc.InputOr("Count", 0))
	}
	for i := 0; i < count; i++ {
		if err := nc.Emit(ctx, graph.SocketItem, i); err != nil {
			return err
		}
	}
	return nil
}

func printValue(_ context.Context, nc *runtime.NodeContext) error {
	msg := fmt.Sprint(nc.InputOr("Value", ""))
	nc.Feedback(msg)

	if svc, ok := nc.Services().Lookup(StdoutService); ok {
		w, ok := svc.(io.Writer)
		if !ok {
			return fmt.Errorf("service %q is not a writer", StdoutService)
		}
		_, err := fmt.Fprintln(w, msg)
		return err
	}
	nc.Logger().Info("print", zap.String("value", msg))
	return nil
}

func breakRun(_ context.Context, nc *runtime.NodeContext) error {
	nc.Break(fmt.Sprint(nc.InputOr("Reason", "break")))
	return nil
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case nil:
		return false
	case string:
		return b != "" && b != "false"
	}
	if f, ok := nodes.ToFloat(v); ok {
		return f != 0
	}
	return true
}
