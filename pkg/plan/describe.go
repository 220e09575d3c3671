package plan

import (
	"fmt"
	"sort"
	"strings"
)

// Describe renders the plan as an indented outline.
func Describe(p *ExecutionPlan) string {
	var b strings.Builder
	writeSteps(&b, p.Steps, 0)

	for _, id := range sortedKeys(p.ItemChains) {
		fmt.Fprintf(&b, "on item %s:\n", id)
		writeSteps(&b, p.ItemChains[id], 1)
	}
	for _, id := range sortedKeys(p.Listeners) {
		fmt.Fprintf(&b, "on event %s:\n", id)
		writeSteps(&b, p.Listeners[id], 1)
	}
	return b.String()
}

func writeSteps(b *strings.Builder, steps []Step, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, s := range steps {
		switch st := s.(type) {
		case *LayerStep:
			fmt.Fprintf(b, "%slayer [%s]\n", indent, strings.Join(st.NodeIDs, ", "))
		case *LoopStep:
			fmt.Fprintf(b, "%sloop %s (%s/%s)\n", indent, st.Header, st.ContinueSocket, st.ExitSocket)
			writeSteps(b, st.Body, depth+1)
		case *BranchStep:
			fmt.Fprintf(b, "%sbranch %s\n", indent, st.Condition)
			for _, out := range st.Outputs {
				if seq, ok := st.Branches[out]; ok {
					fmt.Fprintf(b, "%s  %s:\n", indent, out)
					writeSteps(b, seq, depth+2)
				}
			}
		case *ParallelSteps:
			fmt.Fprintf(b, "%sparallel\n", indent)
			for i, seq := range st.Sequences {
				fmt.Fprintf(b, "%s  #%d:\n", indent, i+1)
				writeSteps(b, seq, depth+2)
			}
		}
	}
}

func sortedKeys(m map[string][]Step) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
