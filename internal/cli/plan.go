package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wehubfusion/Daedalus/pkg/graph"
	"github.com/wehubfusion/Daedalus/pkg/nodes/script"
	"github.com/wehubfusion/Daedalus/pkg/plan"
)

// NewPlanCmd creates the plan command. It validates a graph and prints the
// execution plan without running anything.
func NewPlanCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "plan GRAPH_FILE",
		Short: "Print the execution plan of a graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := graph.LoadFile(args[0])
			if err != nil {
				return &ExitError{Code: ExitFatal, Err: err}
			}

			engine := script.NewEngine(script.DefaultPoolConfig())
			defer func() { _ = engine.Close() }()
			if err := NewRegistry(engine).Validate(g); err != nil {
				return &ExitError{Code: ExitFatal, Err: err}
			}

			p, err := plan.Build(g)
			if err != nil {
				return &ExitError{Code: ExitFatal, Err: err}
			}

			out := cmd.OutOrStdout()
			if opts.JSON {
				data, err := json.MarshalIndent(map[string]any{
					"graph": g.Name,
					"nodes": plan.NodeIDs(p.Steps),
					"plan":  plan.Describe(p),
				}, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
				return nil
			}
			fmt.Fprint(out, plan.Describe(p))
			return nil
		},
	}
}
