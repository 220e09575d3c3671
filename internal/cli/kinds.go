package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wehubfusion/Daedalus/pkg/graph"
	"github.com/wehubfusion/Daedalus/pkg/nodes/script"
)

var builtinKinds = []string{
	graph.KindVariableGet,
	graph.KindVariableSet,
	graph.KindEventTrigger,
	graph.KindEventListener,
	graph.KindGroup,
	graph.KindGroupInput,
	graph.KindGroupOutput,
}

// NewKindsCmd creates the kinds command listing every node kind a graph
// may use.
func NewKindsCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List available node kinds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine := script.NewEngine(script.DefaultPoolConfig())
			defer func() { _ = engine.Close() }()
			registered := NewRegistry(engine).Kinds()

			out := cmd.OutOrStdout()
			if opts.JSON {
				data, err := json.MarshalIndent(map[string][]string{
					"builtin":    builtinKinds,
					"registered": registered,
				}, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "KIND\tSOURCE")
			fmt.Fprintln(tw, "----\t------")
			for _, k := range builtinKinds {
				fmt.Fprintf(tw, "%s\tbuiltin\n", k)
			}
			for _, k := range registered {
				fmt.Fprintf(tw, "%s\tregistry\n", k)
			}
			return tw.Flush()
		},
	}
}
