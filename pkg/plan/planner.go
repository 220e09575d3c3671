package plan

import (
	"sort"

	"github.com/wehubfusion/Daedalus/pkg/graph"
)

type role int

const (
	rolePlain role = iota
	roleLoop
	roleBranch
	roleStream
	roleFork
	roleListener
)

// Build plans g. It is a pure function of the graph.
func Build(g *graph.Graph) (*ExecutionPlan, error) {
	idx, err := graph.NewIndex(g)
	if err != nil {
		return nil, err
	}
	return FromIndex(idx), nil
}

// FromIndex plans an already indexed graph.
func FromIndex(idx *graph.Index) *ExecutionPlan {
	p := &planner{
		idx: idx,
		out: &ExecutionPlan{
			Listeners:  make(map[string][]Step),
			ItemChains: make(map[string][]Step),
			ItemScopes: make(map[string][]string),

			ListenerScopes: make(map[string][]string),
		},
	}

	root := make(nodeSet)
	for _, n := range idx.Nodes() {
		if n.Callable {
			root[n.ID] = true
		}
	}
	p.out.Steps = p.planRegion(root)
	return p.out
}

type nodeSet map[string]bool

type planner struct {
	idx *graph.Index
	out *ExecutionPlan
}

// structure is a node owning one or more regions of downstream nodes.
type structure struct {
	id      string
	role    role
	regions map[string]nodeSet // keyed by output socket, or by target for forks
	keys    []string
	all     nodeSet
}

func (p *planner) role(id string) role {
	n, _ := p.idx.Node(id)
	switch {
	case n.Kind == graph.KindEventListener:
		return roleListener
	case n.IsLoopHeader():
		return roleLoop
	case n.IsStreaming():
		return roleStream
	case len(n.ExecOutputs()) >= 2:
		return roleBranch
	}
	for _, out := range n.ExecOutputs() {
		if len(p.idx.ExecTargets(id, out)) >= 2 {
			return roleFork
		}
	}
	return rolePlain
}

// ownRegion collects the nodes of region reachable from targets whose every
// incoming execution connection originates from one of the owner's sockets
// (for a start target) or from a node already owned.
func (p *planner) ownRegion(owner string, sockets map[string]bool, targets []string, region nodeSet) nodeSet {
	owned := make(nodeSet)
	starts := make(nodeSet)
	for _, t := range targets {
		starts[t] = true
	}

	candidates := make(nodeSet)
	queue := append([]string{}, targets...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if candidates[id] || id == owner || !region[id] {
			continue
		}
		candidates[id] = true
		queue = append(queue, p.idx.ExecSuccessors(id)...)
	}

	for changed := true; changed; {
		changed = false
		for _, id := range p.sorted(candidates) {
			if owned[id] {
				continue
			}
			ok := true
			for _, c := range p.idx.ExecInputs(id) {
				fromOwner := c.SourceNode == owner && sockets[c.SourceSocket] && starts[id]
				if !fromOwner && !owned[c.SourceNode] {
					ok = false
					break
				}
			}
			if ok {
				owned[id] = true
				changed = true
			}
		}
	}
	return owned
}

func (p *planner) analyze(id string, r role, region nodeSet) *structure {
	n, _ := p.idx.Node(id)
	s := &structure{id: id, role: r, regions: make(map[string]nodeSet), all: make(nodeSet)}
	add := func(key string, set nodeSet) {
		if len(set) == 0 {
			return
		}
		s.keys = append(s.keys, key)
		s.regions[key] = set
		for k := range set {
			s.all[k] = true
		}
	}

	switch r {
	case roleLoop:
		add(graph.SocketLoopBody, p.ownRegion(id, map[string]bool{graph.SocketLoopBody: true},
			p.idx.ExecTargets(id, graph.SocketLoopBody), region))
	case roleStream:
		add(graph.SocketOnItem, p.ownRegion(id, map[string]bool{graph.SocketOnItem: true},
			p.idx.ExecTargets(id, graph.SocketOnItem), region))
	case roleBranch:
		for _, out := range n.ExecOutputs() {
			add(out, p.ownRegion(id, map[string]bool{out: true}, p.idx.ExecTargets(id, out), region))
		}
	case roleFork:
		for _, out := range n.ExecOutputs() {
			targets := p.idx.ExecTargets(id, out)
			if len(targets) < 2 {
				continue
			}
			for _, t := range targets {
				add(t, p.ownRegion(id, map[string]bool{out: true}, []string{t}, region))
			}
		}
	case roleListener:
		sockets := make(map[string]bool)
		var targets []string
		for _, out := range n.ExecOutputs() {
			sockets[out] = true
			targets = append(targets, p.idx.ExecTargets(id, out)...)
		}
		add("", p.ownRegion(id, sockets, targets, region))
	}
	return s
}

// planRegion plans the callable nodes of region.
func (p *planner) planRegion(region nodeSet) []Step {
	if len(region) == 0 {
		return nil
	}

	var structs []*structure
	for _, id := range p.sorted(region) {
		if r := p.role(id); r != rolePlain {
			structs = append(structs, p.analyze(id, r, region))
		}
	}

	// A structure inside another structure's region is planned by it.
	var top []*structure
	for _, s := range structs {
		nested := false
		for _, o := range structs {
			if o != s && o.all[s.id] && !(s.all[o.id] && p.idx.Order(s.id) < p.idx.Order(o.id)) {
				nested = true
				break
			}
		}
		if !nested {
			top = append(top, s)
		}
	}

	owner := make(map[string]string)
	byID := make(map[string]*structure)
	for _, s := range top {
		byID[s.id] = s
	}
	for _, s := range top {
		for _, id := range p.sorted(s.all) {
			if _, taken := owner[id]; !taken && byID[id] == nil {
				owner[id] = s.id
			}
		}
	}

	var elems []string
	for _, id := range p.sorted(region) {
		if _, owned := owner[id]; owned {
			continue
		}
		if s := byID[id]; s != nil && s.role == roleListener {
			p.out.Listeners[id] = p.planRegion(s.all)
			p.out.ListenerScopes[id] = p.scope(id, s.all)
			continue
		}
		elems = append(elems, id)
	}
	isElem := make(nodeSet)
	for _, e := range elems {
		isElem[e] = true
	}

	rep := func(id string) string {
		if o, ok := owner[id]; ok {
			return o
		}
		return id
	}
	succ := make(map[string]nodeSet)
	for id := range region {
		for _, c := range p.idx.ExecOutputs(id) {
			if !region[c.TargetNode] {
				continue
			}
			from, to := rep(id), rep(c.TargetNode)
			if from == to || !isElem[from] || !isElem[to] {
				continue
			}
			if succ[from] == nil {
				succ[from] = make(nodeSet)
			}
			succ[from][to] = true
		}
	}

	var sequences [][]Step
	var singles []string
	for _, comp := range p.components(elems, succ) {
		if len(comp) == 1 && p.isPlainElem(comp[0], byID) {
			singles = append(singles, comp[0])
			continue
		}
		sequences = append(sequences, p.layersToSteps(p.layers(comp, succ), byID))
	}
	if len(singles) > 0 {
		sequences = append([][]Step{p.layersToSteps([][]string{singles}, byID)}, sequences...)
	}

	switch len(sequences) {
	case 0:
		return nil
	case 1:
		return sequences[0]
	}
	return []Step{&ParallelSteps{Sequences: sequences}}
}

func (p *planner) isPlainElem(id string, byID map[string]*structure) bool {
	s := byID[id]
	return s == nil || s.role == roleStream || (s.role == roleFork && len(s.keys) == 0)
}

// components splits elems into weakly connected components ordered by their
// first member.
func (p *planner) components(elems []string, succ map[string]nodeSet) [][]string {
	parent := make(map[string]string, len(elems))
	for _, e := range elems {
		parent[e] = e
	}
	var find func(string) string
	find = func(x string) string {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	for from, tos := range succ {
		for to := range tos {
			a, b := find(from), find(to)
			if a != b {
				if p.idx.Order(a) < p.idx.Order(b) {
					parent[b] = a
				} else {
					parent[a] = b
				}
			}
		}
	}

	groups := make(map[string][]string)
	var roots []string
	for _, e := range elems {
		r := find(e)
		if _, ok := groups[r]; !ok {
			roots = append(roots, r)
		}
		groups[r] = append(groups[r], e)
	}
	out := make([][]string, 0, len(roots))
	for _, r := range roots {
		out = append(out, groups[r])
	}
	return out
}

// layers runs Kahn's algorithm over comp. When only cyclic control edges
// remain, the earliest declared node is released to make progress.
func (p *planner) layers(comp []string, succ map[string]nodeSet) [][]string {
	inComp := make(nodeSet, len(comp))
	for _, id := range comp {
		inComp[id] = true
	}
	indeg := make(map[string]int, len(comp))
	for _, from := range comp {
		for to := range succ[from] {
			if inComp[to] {
				indeg[to]++
			}
		}
	}

	done := make(nodeSet)
	var ready []string
	for _, id := range comp {
		if indeg[id] == 0 {
			ready = append(ready, id)
		}
	}

	var out [][]string
	for len(done) < len(comp) {
		if len(ready) == 0 {
			for _, id := range comp {
				if !done[id] {
					ready = []string{id}
					break
				}
			}
		}
		layer := p.sortIDs(ready)
		ready = nil
		for _, id := range layer {
			done[id] = true
		}
		for _, id := range layer {
			for _, to := range p.sorted(succ[id]) {
				if !inComp[to] || done[to] {
					continue
				}
				indeg[to]--
				if indeg[to] == 0 {
					ready = append(ready, to)
				}
			}
		}
		out = append(out, layer)
	}
	return out
}

func (p *planner) layersToSteps(layers [][]string, byID map[string]*structure) []Step {
	var steps []Step
	for _, layer := range layers {
		var plains []string
		var seqs [][]Step
		for _, id := range layer {
			s := byID[id]
			if s == nil {
				plains = append(plains, id)
				continue
			}
			switch s.role {
			case roleStream:
				plains = append(plains, id)
				body := s.regions[graph.SocketOnItem]
				p.out.ItemChains[id] = p.planRegion(body)
				p.out.ItemScopes[id] = p.scope(id, body)
			case roleLoop:
				body := s.regions[graph.SocketLoopBody]
				seqs = append(seqs, []Step{&LoopStep{
					Header:         id,
					Body:           p.planRegion(body),
					ContinueSocket: graph.SocketLoopBody,
					ExitSocket:     graph.SocketCompleted,
					Reset:          p.scope(id, body),
				}})
			case roleBranch:
				n, _ := p.idx.Node(id)
				b := &BranchStep{Condition: id, Outputs: n.ExecOutputs(), Branches: make(map[string][]Step)}
				for _, key := range s.keys {
					b.Branches[key] = p.planRegion(s.regions[key])
				}
				seqs = append(seqs, []Step{b})
			case roleFork:
				if len(s.keys) == 0 {
					plains = append(plains, id)
					continue
				}
				seq := []Step{&LayerStep{NodeIDs: []string{id}}}
				var forks [][]Step
				for _, key := range s.keys {
					if sub := p.planRegion(s.regions[key]); len(sub) > 0 {
						forks = append(forks, sub)
					}
				}
				if len(forks) == 1 {
					seq = append(seq, forks[0]...)
				} else if len(forks) > 1 {
					seq = append(seq, &ParallelSteps{Sequences: forks})
				}
				seqs = append(seqs, seq)
			default:
				plains = append(plains, id)
			}
		}

		switch {
		case len(seqs) == 0:
			steps = append(steps, &LayerStep{NodeIDs: plains})
		case len(plains) == 0 && len(seqs) == 1:
			steps = append(steps, seqs[0]...)
		default:
			var all [][]Step
			if len(plains) > 0 {
				all = append(all, []Step{&LayerStep{NodeIDs: plains}})
			}
			steps = append(steps, &ParallelSteps{Sequences: append(all, seqs...)})
		}
	}
	return steps
}

// scope returns the callable nodes of body plus every pure data node that
// transitively consumes data produced by owner or a body node.
func (p *planner) scope(owner string, body nodeSet) []string {
	out := make(nodeSet)
	for id := range body {
		out[id] = true
	}

	queue := append([]string{owner}, p.sorted(body)...)
	seen := make(nodeSet)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		for _, c := range p.idx.DataOutputs(id) {
			t, ok := p.idx.Node(c.TargetNode)
			if !ok || t.Callable || t.ID == owner {
				continue
			}
			out[t.ID] = true
			queue = append(queue, t.ID)
		}
	}
	return p.sorted(out)
}

func (p *planner) sorted(set nodeSet) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return p.sortIDs(ids)
}

func (p *planner) sortIDs(ids []string) []string {
	sort.SliceStable(ids, func(i, j int) bool {
		return p.idx.Order(ids[i]) < p.idx.Order(ids[j])
	})
	return ids
}
