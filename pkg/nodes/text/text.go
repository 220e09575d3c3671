// Package text provides Unicode aware string nodes.
package text

import (
	"context"
	"fmt"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/wehubfusion/Daedalus/pkg/graph"
	"github.com/wehubfusion/Daedalus/pkg/nodes"
	"github.com/wehubfusion/Daedalus/pkg/runtime"
)

// KindCase converts the case of its Value input.
const KindCase = "text.case"

// Case modes.
const (
	Upper = "upper"
	Lower = "lower"
	Title = "title"
	Fold  = "fold"
)

// Register adds the text kinds to reg.
func Register(reg *nodes.Registry) {
	reg.Register(KindCase, newCase)
}

// Case declares a text.case node converting to mode under the BCP 47 tag lang.
func Case(id, mode, lang string) *graph.Node {
	return &graph.Node{ID: id, Kind: KindCase,
		Config:  map[string]any{"mode": mode, "lang": lang},
		Inputs:  []graph.Socket{graph.DataIn("Value", "string")},
		Outputs: []graph.Socket{graph.DataOut("Result", "string")}}
}

func newCase(n *graph.Node) (runtime.Binding, error) {
	tag := language.Und
	if lang := nodes.String(n, "lang", ""); lang != "" {
		t, err := language.Parse(lang)
		if err != nil {
			return nil, nodes.NewConfigError(n, "lang", "invalid language tag", err)
		}
		tag = t
	}

	var caser func() cases.Caser
	switch mode := nodes.String(n, "mode", Title); mode {
	case Upper:
		caser = func() cases.Caser { return cases.Upper(tag) }
	case Lower:
		caser = func() cases.Caser { return cases.Lower(tag) }
	case Title:
		caser = func() cases.Caser { return cases.Title(tag) }
	case Fold:
		caser = func() cases.Caser { return cases.Fold() }
	default:
		return nil, nodes.NewConfigError(n, "mode", fmt.Sprintf("unsupported mode '%s'", mode), nil)
	}

	// a Caser keeps state between calls, so every invocation gets its own
	return runtime.BindingFunc(func(_ context.Context, nc *runtime.NodeContext) error {
		v := nc.InputOr("Value", "")
		s, ok := v.(string)
		if !ok {
			s = fmt.Sprint(v)
		}
		nc.SetOutput("Result", caser().String(s))
		return nil
	}), nil
}
