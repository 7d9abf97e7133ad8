package graph

import (
	"github.com/forgelit/rendergraph/engine/core"
)

// Renderer is the aggregate root of spec.md §9: it owns the Attachment
// Registry, the Pass DAG, and the Analyzer/Resolver/Builder pipeline
// that keeps them in sync, plus the Transfer Engine for its heap.
// Renderer holds no mutex of its own: the Registry and the Graph each
// lock their own state, and the Analyzer, Resolver and Builder take no
// lock beyond those.
type Renderer struct {
	Registry *Registry
	Graph    *Graph
	Analyzer *Analyzer
	Resolver *Resolver
	Builder  *Builder
	Transfer *TransferEngine
}

// NewRenderer wires a fresh registry/graph pair to the given backends.
// transferBackend is shared between the Graphics and Transfer pools
// unless dedicatedTransferQueue is set, in which case Transfer gets its
// own pool against the same backend (a dedicated queue is a backend
// concern; the pool split is what the engine core cares about).
func NewRenderer(backend Backend, transferBackend TransferBackend, dedicatedTransferQueue bool) *Renderer {
	reg := NewRegistry()
	g := NewGraph()

	graphics := NewTransferPool(PoolGraphics, transferBackend)
	transfer := graphics
	if dedicatedTransferQueue {
		transfer = NewTransferPool(PoolTransfer, transferBackend)
	}

	return &Renderer{
		Registry: reg,
		Graph:    g,
		Analyzer: NewAnalyzer(reg, g),
		Resolver: NewResolver(reg, g),
		Builder:  NewBuilder(reg, g, backend),
		Transfer: NewTransferEngine(graphics, transfer),
	}
}

// DescribeAttachment installs or replaces an image attachment.
func (r *Renderer) DescribeAttachment(index AttachmentIndex, desc ImageDescription) error {
	return r.Registry.Describe(index, desc)
}

// AttachWindow binds a window collaborator to an attachment slot.
func (r *Renderer) AttachWindow(index AttachmentIndex, win Window) error {
	return r.Registry.AttachWindow(index, win)
}

// DetachAttachment releases an attachment back to empty.
func (r *Renderer) DetachAttachment(index AttachmentIndex) error {
	return r.Registry.Detach(index)
}

// GetAttachment returns the attachment installed at index.
func (r *Renderer) GetAttachment(index AttachmentIndex) Attachment {
	return r.Registry.Get(index)
}

// AddPass adds a pass to the DAG; see Graph.AddPass.
func (r *Renderer) AddPass(kind PassKind, group int, parents []PassIndex) (PassIndex, error) {
	return r.Graph.AddPass(kind, group, parents)
}

// ErasePass removes a pass from the DAG. A merged subpass-chain member
// shares its native render pass/framebuffers with its chain master, so
// the whole chain is destructed first (spec.md §4.E "Erase destructs
// the whole graph first... updates counts, then frees the pass") before
// the pass itself is freed from the DAG.
func (r *Renderer) ErasePass(id PassIndex) error {
	masterIdx := id
	if p, ok := r.Graph.Pass(id); ok && p.HasMaster {
		masterIdx = p.Master
	}
	if err := r.Builder.Destruct(masterIdx); err != nil {
		core.LogWarn("erase: destruct of chain %d failed: %s", masterIdx, err.Error())
	}
	return r.Graph.ErasePass(id)
}

// SetParents rewires a pass's parents; see Graph.SetParents.
func (r *Renderer) SetParents(id PassIndex, parents []PassIndex) error {
	return r.Graph.SetParents(id, parents)
}

// Cull/Uncull a whole pass group.
func (r *Renderer) Cull(group int)   { r.Graph.Cull(group) }
func (r *Renderer) Uncull(group int) { r.Graph.Uncull(group) }

// Sinks returns the non-culled passes with no non-culled children.
func (r *Renderer) Sinks() []PassIndex { return r.Graph.Sinks() }

// GetParents returns a pass's parent list, or nil if id is unknown.
func (r *Renderer) GetParents(id PassIndex) []PassIndex {
	p, ok := r.Graph.Pass(id)
	if !ok {
		return nil
	}
	return p.Parents
}

// Consume declares that pass id uses attachment index with the given
// access/view.
func (r *Renderer) Consume(id PassIndex, index AttachmentIndex, access AccessMask, view AspectRange, viewDesc ViewDescription) (*Consumption, error) {
	p, ok := r.Graph.Pass(id)
	if !ok {
		return nil, newError("Consume", KindInvalidParent, nil)
	}
	c := p.Consume(index, access, view, viewDesc)
	r.Graph.Invalidate()
	return c, nil
}

// ReleaseConsumption drops a pass's consumption of an attachment.
func (r *Renderer) ReleaseConsumption(id PassIndex, index AttachmentIndex) {
	p, ok := r.Graph.Pass(id)
	if !ok {
		return
	}
	p.ReleaseConsumption(index)
	r.Graph.Invalidate()
}

// SetClear sets the clear policy for a pass's existing consumption of
// an attachment.
func (r *Renderer) SetClear(id PassIndex, index AttachmentIndex, clear ClearPolicy) {
	p, ok := r.Graph.Pass(id)
	if !ok || p.Consumptions == nil {
		return
	}
	if c, ok := p.Consumptions[index]; ok {
		c.Clear = clear
		r.Graph.Invalidate()
	}
}

// SetBlend sets the blend state for a pass's existing consumption of an
// attachment.
func (r *Renderer) SetBlend(id PassIndex, index AttachmentIndex, blend BlendDescription) {
	p, ok := r.Graph.Pass(id)
	if !ok || p.Consumptions == nil {
		return
	}
	if c, ok := p.Consumptions[index]; ok {
		c.Blend = blend
	}
}

// SetResolveTarget sets the resolve target for a pass's existing
// consumption of an attachment.
func (r *Renderer) SetResolveTarget(id PassIndex, index, target AttachmentIndex) {
	p, ok := r.Graph.Pass(id)
	if !ok || p.Consumptions == nil {
		return
	}
	if c, ok := p.Consumptions[index]; ok {
		c.HasResolveTarget = true
		c.ResolveTarget = target
	}
}

// SetRenderState sets a pass's fixed-function state.
func (r *Renderer) SetRenderState(id PassIndex, state RenderState) {
	if p, ok := r.Graph.Pass(id); ok {
		p.RenderState = state
	}
}

// SetViewport sets a pass's viewport rectangle.
func (r *Renderer) SetViewport(id PassIndex, viewport Rect) {
	if p, ok := r.Graph.Pass(id); ok {
		p.RenderState.Viewport = viewport
	}
}

// SetScissor sets a pass's scissor rectangle.
func (r *Renderer) SetScissor(id PassIndex, scissor Rect) {
	if p, ok := r.Graph.Pass(id); ok {
		p.RenderState.Scissor = scissor
	}
}

// Validate brings the graph up to GraphValidated, resolving attachment
// sizes and running the Analyzer then the Resolver if the graph is
// currently invalid. Safe to call redundantly; it is a no-op when
// already validated.
func (r *Renderer) Validate() error {
	if r.Graph.State() == GraphValidated {
		return nil
	}
	if _, err := r.Registry.ResolveSizes(); err != nil {
		core.LogWarn("validate: %s", err.Error())
	}
	r.Analyzer.Analyze()
	r.Resolver.Resolve()
	return nil
}

// Warmup validates the graph and then warms up every chain master's
// native render pass.
func (r *Renderer) Warmup() error {
	if err := r.Validate(); err != nil {
		return err
	}
	r.Builder.WarmupAll()
	if len(r.Builder.Failed()) > 0 {
		return newError("Warmup", KindBuildFailed, nil)
	}
	return nil
}

// Build warms up (if needed) and then builds framebuffers for every
// chain. Per-chain failures are recorded on the Builder; the graph
// state stays Validated so retries work (spec.md §7).
func (r *Renderer) Build() error {
	if err := r.Warmup(); err != nil {
		return err
	}
	r.Builder.BuildAll()
	if len(r.Builder.Failed()) > 0 {
		return newError("Build", KindBuildFailed, nil)
	}
	return nil
}

// OnResize marks the graph invalid so the next Warmup/Build re-runs the
// analyzer and resolver against the window's new dimensions, and
// requests a resize rebuild on every already-built chain master.
func (r *Renderer) OnResize() {
	r.Graph.Invalidate()
	for _, id := range r.Graph.RenderRegion() {
		p, ok := r.Graph.Pass(id)
		if !ok || p.HasMaster || !p.Built {
			continue
		}
		if err := r.Builder.Rebuild(id, RebuildResize); err != nil {
			core.LogWarn("resize: rebuild of chain %d failed: %s", id, err.Error())
		}
	}
}

// DrainStale returns the attachment backings queued for deferred
// destruction, for the caller to destroy once the frames that could
// reference them have completed (spec.md §5, §9 "Staleness").
func (r *Renderer) DrainStale() []*Backing {
	return r.Registry.DrainStale()
}
