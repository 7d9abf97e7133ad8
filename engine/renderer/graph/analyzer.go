package graph

// Analyzer is the Graph Analyzer (subpass merger), component C of
// spec.md §4. It is stateless; Analyze is called by warmup/build
// whenever the graph is below Validated.
type Analyzer struct {
	Registry *Registry
	Graph    *Graph
}

// NewAnalyzer binds an analyzer to the registry/graph pair it reads
// attachments and passes from.
func NewAnalyzer(reg *Registry, g *Graph) *Analyzer {
	return &Analyzer{Registry: reg, Graph: g}
}

// Analyze walks the render region in submission order, selecting a
// backing window per render pass and linking subpass chains by merge
// score (spec.md §4.C). It does not mark the graph Validated; the
// caller runs the Pass Resolver (4.D) afterward and marks validation.
func (a *Analyzer) Analyze() {
	for _, id := range a.Graph.RenderRegion() {
		p, ok := a.Graph.Pass(id)
		if !ok || p.Culled || p.Kind != PassRender {
			continue
		}

		p.BackingWindow, p.HasBackingWindow = a.selectBacking(p)
		if p.Subpasses == 0 {
			p.Subpasses = 1
		}

		if p.HasClear() {
			// A pass requesting a clear can never be merged as a
			// non-master: native APIs auto-clear each attachment at
			// most once per native render pass (spec.md §3).
			continue
		}

		best, bestScore := a.bestCandidate(p)
		if best == nil || bestScore <= 0 {
			continue
		}

		a.merge(best, p)
	}
}

// selectBacking picks the first consumed window attachment with color
// aspect and attachment access, or reports none.
func (a *Analyzer) selectBacking(p *Pass) (AttachmentIndex, bool) {
	for _, c := range p.ConsumptionsInOrder() {
		att := a.Registry.Get(c.Attachment)
		if att.Kind != AttachmentWindow {
			continue
		}
		if c.View.Aspects&AspectColor == 0 {
			continue
		}
		if !c.Access.IsAttachmentAccess() {
			continue
		}
		return c.Attachment, true
	}
	return 0, false
}

// chainMaster returns the master of the chain p currently belongs to
// (p itself if it has not merged into anyone's chain yet).
func chainMaster(g *Graph, p *Pass) *Pass {
	if !p.HasMaster {
		return p
	}
	m, ok := g.Pass(p.Master)
	if !ok {
		return p
	}
	return m
}

// chainMembers walks from master down to (and including) tail by
// following Next links.
func chainMembers(g *Graph, master *Pass) []*Pass {
	members := []*Pass{master}
	cur := master
	for cur.HasNext {
		n, ok := g.Pass(cur.Next)
		if !ok {
			break
		}
		members = append(members, n)
		cur = n
	}
	return members
}

// bestCandidate finds the parent of p with the highest positive merge
// score, per spec.md §4.C step 3.
func (a *Analyzer) bestCandidate(p *Pass) (*Pass, int) {
	var best *Pass
	bestScore := 0

	for _, pid := range p.Parents {
		c, ok := a.Graph.Pass(pid)
		if !ok || c.Kind != PassRender || c.Culled {
			continue
		}
		// Culled-parent recursive merging is unimplemented in the
		// reference design (spec.md §9 Open Questions); a culled
		// parent simply never qualifies.
		if c.HasNext {
			// c is not the tail of its chain; only the tail can be
			// extended.
			continue
		}
		if c.ChildCount != 1 {
			continue
		}

		master := chainMaster(a.Graph, c)
		if master.HasBackingWindow && p.HasBackingWindow && master.BackingWindow != p.BackingWindow {
			continue
		}

		score := a.mergeScore(p, master, c)
		if score > bestScore {
			bestScore = score
			best = c
		}
	}
	return best, bestScore
}

// mergeScore counts, across every member of C's existing chain (master
// through C inclusive), the attachments also consumed by P that share
// attachment-access semantics and view compatibility with that member's
// consumption (spec.md §4.C step 3).
func (a *Analyzer) mergeScore(p *Pass, master *Pass, tail *Pass) int {
	score := 0
	for _, member := range chainMembers(a.Graph, master) {
		for _, mc := range member.ConsumptionsInOrder() {
			pc, ok := p.Consumptions[mc.Attachment]
			if !ok {
				continue
			}
			if pc.Access.IsAttachmentAccess() != mc.Access.IsAttachmentAccess() {
				continue
			}
			if !pc.ViewDesc.Compatible(mc.ViewDesc) || pc.View != mc.View {
				continue
			}
			score++
		}
		if member == tail {
			break
		}
	}
	return score
}

// merge links p onto the tail of c's chain.
func (a *Analyzer) merge(c, p *Pass) {
	master := chainMaster(a.Graph, c)

	c.Next = p.Index
	c.HasNext = true

	p.Master = master.Index
	p.HasMaster = true
	p.Subpass = c.Subpass + 1
	master.Subpasses++

	if !master.HasBackingWindow && p.HasBackingWindow {
		master.BackingWindow = p.BackingWindow
		master.HasBackingWindow = true
	}
}
