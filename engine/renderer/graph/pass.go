package graph

import "sync"

// PassKind tags the Pass variant (spec.md §3: RenderPass |
// InlineComputePass | AsyncComputePass).
type PassKind int

const (
	PassRender PassKind = iota
	PassInlineCompute
	PassAsyncCompute
)

func (k PassKind) isAsync() bool { return k == PassAsyncCompute }

// StageMask mirrors VkPipelineStageFlags for the purposes dependency
// commands and the resolver need: comparing/combining stages, nothing
// more.
type StageMask uint32

// ConsumeState flags whether a resolved consumption is the first and/or
// last use of its attachment within its owning subpass chain.
type ConsumeState uint8

const (
	StateFirst ConsumeState = 1 << iota
	StateLast
)

// Consumption is the (pass, attachment) edge of spec.md §3. A pass has
// at most one Consumption per attachment index; a second Consume call
// on the same index overwrites access/view in place while preserving
// clear/blend/resolve unless explicitly replaced.
type Consumption struct {
	Pass       *Pass
	Attachment AttachmentIndex
	Access     AccessMask
	View       AspectRange
	ViewDesc   ViewDescription
	Clear      ClearPolicy
	Blend      BlendDescription

	HasResolveTarget bool
	ResolveTarget    AttachmentIndex

	// Fields computed by the Pass Resolver (4.D).
	SubpassIndex  int
	InitialLayout ImageLayout
	FinalLayout   ImageLayout
	State         ConsumeState
	Prev          *Consumption
	Next          *Consumption
	Barrier       bool
}

// DependencyCommand is an in-pass command introduced before/between
// recordings (spec.md §3).
type DependencyCommand struct {
	SrcMask  AccessMask
	SrcStage StageMask
	DstMask  AccessMask
	DstStage StageMask

	// DepObject is an optional external dependency-object handle (see
	// spec.md §6, "Dependency objects"); nil means this command has no
	// external synchronization object to catch/prepare against.
	DepObject interface{}
	// Resource is the attachment this command references, used to look
	// up Format below.
	Resource AttachmentIndex

	// Fields computed by the Pass Resolver (4.D).
	Format            Format
	SubpassDependency bool
	Transition        bool
}

// Pass is a node of the Pass DAG (component B). Only the fields that
// apply to its Kind are meaningful; RenderPass-only fields are zero
// value on compute passes.
type Pass struct {
	Kind  PassKind
	Index PassIndex

	Level      int
	Parents    []PassIndex
	ChildCount int
	Group      int
	Culled     bool
	// Order is the monotonically increasing submission-order counter
	// assigned by the Pass Resolver (4.D) to every non-culled pass.
	Order int

	// RenderPass-only:
	consumeOrder []AttachmentIndex
	Consumptions map[AttachmentIndex]*Consumption

	DependencyCommands []*DependencyCommand
	RenderState        RenderState

	HasMaster bool
	Master    PassIndex
	HasNext   bool
	Next      PassIndex
	Subpass   int
	Subpasses int

	HasBackingWindow bool
	BackingWindow    AttachmentIndex

	FramebufferWidth  uint32
	FramebufferHeight uint32
	FramebufferLayers uint32

	BuildHandle     interface{}
	BuildGeneration uint64
	Warmed          bool
	Built           bool
}

// IsRenderLike reports whether this pass belongs to the render region
// (render or inline-compute) rather than the async region.
func (p *Pass) IsRenderLike() bool { return !p.Kind.isAsync() }

// Consume installs or updates the consumption for attachment index on
// this pass (spec.md §3: "at most one consumption per attachment
// index; inserting a second overwrites while preserving
// clear/blend/resolve").
func (p *Pass) Consume(index AttachmentIndex, access AccessMask, view AspectRange, viewDesc ViewDescription) *Consumption {
	if p.Consumptions == nil {
		p.Consumptions = make(map[AttachmentIndex]*Consumption)
	}
	if c, ok := p.Consumptions[index]; ok {
		c.Access = access
		c.View = view
		c.ViewDesc = viewDesc
		return c
	}
	c := &Consumption{
		Pass:       p,
		Attachment: index,
		Access:     access,
		View:       view,
		ViewDesc:   viewDesc,
	}
	p.Consumptions[index] = c
	p.consumeOrder = append(p.consumeOrder, index)
	return c
}

// ReleaseConsumption erases the consumption for index, if any.
func (p *Pass) ReleaseConsumption(index AttachmentIndex) {
	if p.Consumptions == nil {
		return
	}
	if _, ok := p.Consumptions[index]; !ok {
		return
	}
	delete(p.Consumptions, index)
	for i, a := range p.consumeOrder {
		if a == index {
			p.consumeOrder = append(p.consumeOrder[:i], p.consumeOrder[i+1:]...)
			break
		}
	}
}

// ConsumptionsInOrder returns this pass's consumptions in the order
// they were first declared, for deterministic iteration.
func (p *Pass) ConsumptionsInOrder() []*Consumption {
	out := make([]*Consumption, 0, len(p.consumeOrder))
	for _, idx := range p.consumeOrder {
		if c, ok := p.Consumptions[idx]; ok {
			out = append(out, c)
		}
	}
	return out
}

// HasClear reports whether any consumption on this pass requests a
// clear, used by the merger's mergability check (spec.md §4.C step 2).
func (p *Pass) HasClear() bool {
	for _, c := range p.Consumptions {
		if c.Clear.Any() {
			return true
		}
	}
	return false
}

// GraphState tracks how much of the §4.C/4.D pipeline still needs to
// re-run.
type GraphState int

const (
	GraphInvalid GraphState = iota
	GraphValidated
)

// Graph is the Pass DAG, component B of spec.md §4.
type Graph struct {
	mu sync.Mutex

	passes map[PassIndex]*Pass
	nextID PassIndex

	renderOrder []PassIndex
	asyncOrder  []PassIndex

	groups map[int][]PassIndex

	state GraphState
}

// NewGraph creates an empty pass DAG.
func NewGraph() *Graph {
	return &Graph{
		passes: make(map[PassIndex]*Pass),
		groups: make(map[int][]PassIndex),
		state:  GraphInvalid,
	}
}

func (g *Graph) State() GraphState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Graph) invalidate() { g.state = GraphInvalid }

// Invalidate forces the graph back to GraphInvalid, used by callers
// that changed something the analyzer/resolver must see (e.g. a window
// resize) without going through a topology-mutating method.
func (g *Graph) Invalidate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.invalidate()
}

// Pass looks up a pass by index.
func (g *Graph) Pass(id PassIndex) (*Pass, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.passes[id]
	return p, ok
}

// AddPass creates a new pass with the given kind, group and parents,
// validating the async/non-async parent-mixing invariant and computing
// level = 1 + max(parent.level), or 0 with no parents.
func (g *Graph) AddPass(kind PassKind, group int, parents []PassIndex) (PassIndex, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	level := -1
	for _, pid := range parents {
		parent, ok := g.passes[pid]
		if !ok {
			return 0, newError("AddPass", KindInvalidParent, nil)
		}
		if parent.Kind.isAsync() != kind.isAsync() {
			return 0, newError("AddPass", KindInvalidParent, nil)
		}
		if parent.Level > level {
			level = parent.Level
		}
	}
	level++

	culled := false
	if existing, ok := g.groups[group]; ok && len(existing) > 0 {
		if p, ok := g.passes[existing[0]]; ok {
			culled = p.Culled
		}
	}

	id := g.nextID
	g.nextID++

	p := &Pass{
		Kind:    kind,
		Index:   id,
		Level:   level,
		Parents: append([]PassIndex(nil), parents...),
		Group:   group,
		Culled:  culled,
	}
	if kind == PassRender {
		p.Consumptions = make(map[AttachmentIndex]*Consumption)
	}
	g.passes[id] = p
	g.groups[group] = append(g.groups[group], id)

	if !culled {
		for _, pid := range parents {
			g.passes[pid].ChildCount++
		}
	}

	g.insert(id)
	g.invalidate()
	return id, nil
}

// insert places id into its region (render or async), kept sorted
// non-decreasing by level with insertion order preserved within a
// level, via the backward linear scan described in spec.md §4.B.
func (g *Graph) insert(id PassIndex) {
	p := g.passes[id]
	if p.IsRenderLike() {
		g.renderOrder = insertSorted(g.renderOrder, g.passes, id)
	} else {
		g.asyncOrder = insertSorted(g.asyncOrder, g.passes, id)
	}
}

func (g *Graph) remove(id PassIndex) {
	p := g.passes[id]
	if p.IsRenderLike() {
		g.renderOrder = removeFrom(g.renderOrder, id)
	} else {
		g.asyncOrder = removeFrom(g.asyncOrder, id)
	}
}

func insertSorted(order []PassIndex, passes map[PassIndex]*Pass, id PassIndex) []PassIndex {
	level := passes[id].Level
	i := len(order)
	for i > 0 && passes[order[i-1]].Level > level {
		i--
	}
	order = append(order, 0)
	copy(order[i+1:], order[i:])
	order[i] = id
	return order
}

func removeFrom(order []PassIndex, id PassIndex) []PassIndex {
	for i, pid := range order {
		if pid == id {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}

// ErasePass destroys the pass table entry for id. Rejected with
// ErrHasChildren if the pass still has non-culled children, per
// spec.md §3's lifecycle rule. Callers that have built native objects
// spanning this pass's subpass chain must tear those down (via the
// Pass Builder) before calling ErasePass — the graph itself only owns
// topology.
func (g *Graph) ErasePass(id PassIndex) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.passes[id]
	if !ok {
		return nil
	}
	if p.ChildCount > 0 {
		return ErrHasChildren
	}

	if !p.Culled {
		for _, pid := range p.Parents {
			if parent, ok := g.passes[pid]; ok {
				parent.ChildCount--
			}
		}
	}

	g.remove(id)
	if members := g.groups[p.Group]; len(members) > 0 {
		g.groups[p.Group] = removeFrom(members, id)
	}
	delete(g.passes, id)
	g.invalidate()
	return nil
}

// SetParents replaces a pass's parent list, re-validating the
// async/non-async invariant, recomputing level, and re-threading child
// counts and submission-order position.
func (g *Graph) SetParents(id PassIndex, parents []PassIndex) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.passes[id]
	if !ok {
		return newError("SetParents", KindInvalidParent, nil)
	}

	level := -1
	for _, pid := range parents {
		parent, ok := g.passes[pid]
		if !ok {
			return newError("SetParents", KindInvalidParent, nil)
		}
		if parent.Kind.isAsync() != p.Kind.isAsync() {
			return newError("SetParents", KindInvalidParent, nil)
		}
		if parent.Level > level {
			level = parent.Level
		}
	}
	level++

	if !p.Culled {
		for _, pid := range p.Parents {
			if parent, ok := g.passes[pid]; ok {
				parent.ChildCount--
			}
		}
	}

	p.Parents = append([]PassIndex(nil), parents...)
	levelChanged := p.Level != level
	p.Level = level

	if !p.Culled {
		for _, pid := range parents {
			g.passes[pid].ChildCount++
		}
	}

	if levelChanged {
		g.remove(id)
		g.insert(id)
	}

	g.invalidate()
	return nil
}

// Cull marks every pass in group as culled, adjusting each pass's
// parents' child counts and invalidating the graph only if any flag
// actually flipped.
func (g *Graph) Cull(group int) {
	g.setCulled(group, true)
}

// Uncull marks every pass in group as not culled.
func (g *Graph) Uncull(group int) {
	g.setCulled(group, false)
}

func (g *Graph) setCulled(group int, culled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	changed := false
	for _, id := range g.groups[group] {
		p, ok := g.passes[id]
		if !ok || p.Culled == culled {
			continue
		}
		p.Culled = culled
		changed = true
		for _, pid := range p.Parents {
			parent, ok := g.passes[pid]
			if !ok {
				continue
			}
			if culled {
				parent.ChildCount--
			} else {
				parent.ChildCount++
			}
		}
	}
	if changed {
		g.invalidate()
	}
}

// SubmissionOrder returns the render region (level-then-insertion
// order) followed by the async region, the deterministic walk order
// used by the analyzer and resolver (spec.md §5).
func (g *Graph) SubmissionOrder() []PassIndex {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]PassIndex, 0, len(g.renderOrder)+len(g.asyncOrder))
	out = append(out, g.renderOrder...)
	out = append(out, g.asyncOrder...)
	return out
}

// RenderRegion returns just the render-region submission order (render
// + inline-compute passes), the walk the Graph Analyzer uses.
func (g *Graph) RenderRegion() []PassIndex {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]PassIndex(nil), g.renderOrder...)
}

// Sinks returns the non-culled passes with no non-culled children,
// exposed to users as "get-sink" per spec.md §6.
func (g *Graph) Sinks() []PassIndex {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []PassIndex
	for _, id := range append(append([]PassIndex(nil), g.renderOrder...), g.asyncOrder...) {
		p := g.passes[id]
		if !p.Culled && p.ChildCount == 0 {
			out = append(out, id)
		}
	}
	return out
}

// MarkValidated is called once the analyzer and resolver have both
// finished a pass over the whole graph.
func (g *Graph) MarkValidated() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = GraphValidated
}
