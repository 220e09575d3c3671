// Package plan turns a node/connection graph into an ordered execution plan.
package plan

// StepKind names the kind of a plan step.
type StepKind string

const (
	KindLayer    StepKind = "layer"
	KindLoop     StepKind = "loop"
	KindBranch   StepKind = "branch"
	KindParallel StepKind = "parallel"
)

// Step is one element of an execution sequence.
type Step interface {
	Kind() StepKind
}

// LayerStep holds callable nodes with no unresolved control dependency on
// each other. They may run concurrently.
type LayerStep struct {
	NodeIDs []string `json:"nodeIds"`
}

func (LayerStep) Kind() StepKind { return KindLayer }

// LoopStep re-runs Body while the header signals ContinueSocket and stops
// when it signals ExitSocket.
type LoopStep struct {
	Header         string `json:"header"`
	Body           []Step `json:"body"`
	ContinueSocket string `json:"continueSocket"`
	ExitSocket     string `json:"exitSocket"`
	// Reset lists the nodes whose executed state is cleared before every
	// iteration: body nodes and the data nodes depending on them.
	Reset []string `json:"reset"`
}

func (LoopStep) Kind() StepKind { return KindLoop }

// BranchStep runs the sequence of every output the condition signaled.
type BranchStep struct {
	Condition string `json:"condition"`
	// Outputs lists the condition's execution outputs in declared order.
	Outputs  []string          `json:"outputs"`
	Branches map[string][]Step `json:"branches"`
}

func (BranchStep) Kind() StepKind { return KindBranch }

// ParallelSteps holds independent sequences.
type ParallelSteps struct {
	Sequences [][]Step `json:"sequences"`
}

func (ParallelSteps) Kind() StepKind { return KindParallel }

// ExecutionPlan is the planner's output.
type ExecutionPlan struct {
	Steps []Step `json:"steps"`
	// Listeners maps an event listener node to the steps run for each
	// delivery of its event.
	Listeners map[string][]Step `json:"listeners,omitempty"`
	// ItemChains maps a streaming node to the steps run per emitted item.
	ItemChains map[string][]Step `json:"itemChains,omitempty"`
	// ItemScopes lists, per streaming node, the nodes reset for each item.
	ItemScopes map[string][]string `json:"itemScopes,omitempty"`
	// ListenerScopes lists, per listener, the nodes reset for each delivery.
	ListenerScopes map[string][]string `json:"listenerScopes,omitempty"`
}

// NodeIDs returns every callable node id referenced by steps, in plan order.
func NodeIDs(steps []Step) []string {
	var ids []string
	var walk func([]Step)
	walk = func(steps []Step) {
		for _, s := range steps {
			switch st := s.(type) {
			case *LayerStep:
				ids = append(ids, st.NodeIDs...)
			case *LoopStep:
				ids = append(ids, st.Header)
				walk(st.Body)
			case *BranchStep:
				ids = append(ids, st.Condition)
				for _, out := range st.Outputs {
					walk(st.Branches[out])
				}
			case *ParallelSteps:
				for _, seq := range st.Sequences {
					walk(seq)
				}
			}
		}
	}
	walk(steps)
	return ids
}
