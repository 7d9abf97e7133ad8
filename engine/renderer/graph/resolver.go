package graph

// Resolver is the Pass Resolver, component D of spec.md §4. It walks
// every pass in submission order, propagating previous/next
// consumption links, computing image layouts, and deciding whether an
// execution barrier is required.
type Resolver struct {
	Registry *Registry
	Graph    *Graph
}

// NewResolver binds a resolver to the registry/graph pair it reads
// attachments and passes from.
func NewResolver(reg *Registry, g *Graph) *Resolver {
	return &Resolver{Registry: reg, Graph: g}
}

// Resolve runs the full §4.D walk and marks the graph Validated.
func (r *Resolver) Resolve() {
	lastConsume := make(map[AttachmentIndex]*Consumption)
	order := 0

	for _, id := range r.Graph.SubmissionOrder() {
		p, ok := r.Graph.Pass(id)
		if !ok || p.Culled {
			continue
		}
		if p.Kind == PassRender && p.HasNext {
			// Mid-chain pass; resolved coherently when we reach the
			// chain's tail.
			continue
		}

		var members []*Pass
		if p.Kind == PassRender {
			members = chainMembers(r.Graph, chainMaster(r.Graph, p))
		} else {
			members = []*Pass{p}
		}

		for _, m := range members {
			prevOwners := make(map[AttachmentIndex]*Pass, len(m.DependencyCommands))
			for _, dc := range m.DependencyCommands {
				if prev, ok := lastConsume[dc.Resource]; ok {
					prevOwners[dc.Resource] = prev.Pass
				}
			}

			for _, c := range m.ConsumptionsInOrder() {
				r.resolveConsumption(c, lastConsume)
			}

			for _, dc := range m.DependencyCommands {
				r.resolveDependency(dc, m, prevOwners[dc.Resource])
			}
		}

		for _, m := range members {
			m.Order = order
			order++
		}
	}

	r.Graph.MarkValidated()
}

// resolveConsumption implements spec.md §4.D steps 1-7 for a single
// consumption.
func (r *Resolver) resolveConsumption(c *Consumption, last map[AttachmentIndex]*Consumption) {
	c.SubpassIndex = c.Pass.Subpass
	c.InitialLayout = LayoutUndefined
	c.FinalLayout = LayoutUndefined
	c.State = StateFirst | StateLast
	c.Prev = nil
	c.Next = nil
	c.Barrier = false

	att := r.Registry.Get(c.Attachment)
	if att.Kind == AttachmentEmpty {
		return
	}

	prev := last[c.Attachment]
	prevLayout := LayoutUndefined
	if prev != nil {
		prevLayout = prev.FinalLayout
	}

	if att.Kind == AttachmentWindow {
		if prev == nil {
			c.InitialLayout = LayoutUndefined
		} else {
			c.InitialLayout = LayoutColorAttachmentOptimal
			prev.FinalLayout = LayoutColorAttachmentOptimal
		}
		c.FinalLayout = LayoutPresentSrc
	} else {
		format := Format{}
		if att.Image != nil {
			format = att.Image.Desc.Format
		}
		layout := layoutForAccess(c.Access, format)
		if prev == nil {
			c.InitialLayout = LayoutUndefined
		} else {
			c.InitialLayout = layout
			prev.FinalLayout = layout
		}
		c.FinalLayout = layout
	}

	if prev != nil {
		prev.Next = c

		sameChain := prev.Pass.Kind == PassRender && c.Pass.Kind == PassRender &&
			chainMaster(r.Graph, prev.Pass) == chainMaster(r.Graph, c.Pass)
		if sameChain {
			prev.State &^= StateLast
			c.State &^= StateFirst
		}

		if prev.Access.IsWrite() || c.Access.IsWrite() || prevLayout != c.InitialLayout {
			c.Barrier = true
			c.Prev = prev
		}
	}

	last[c.Attachment] = c
}

// resolveDependency implements spec.md §4.D's dependency-command
// resolution. prevOwner is the pass that most recently consumed the
// same resource, snapshotted before this member's own consumptions
// update the last-consume table.
func (r *Resolver) resolveDependency(dc *DependencyCommand, owner *Pass, prevOwner *Pass) {
	att := r.Registry.Get(dc.Resource)
	if att.Kind == AttachmentImage && att.Image != nil {
		dc.Format = att.Image.Desc.Format
	} else {
		dc.Format = Format{}
	}

	dc.SubpassDependency = dc.DepObject == nil &&
		prevOwner != nil &&
		prevOwner.Kind == PassRender && owner.Kind == PassRender &&
		chainMaster(r.Graph, prevOwner) == chainMaster(r.Graph, owner)

	dc.Transition = layoutForAccess(dc.SrcMask, dc.Format) != layoutForAccess(dc.DstMask, dc.Format)
}

// layoutForAccess maps an access mask and the format it targets to the
// abstract image layout the Vulkan backend will concretize.
func layoutForAccess(access AccessMask, format Format) ImageLayout {
	depthStencil := format.Depth || format.Stencil
	switch {
	case access&(AccessAttachmentWrite|AccessAttachmentResolve|AccessWrite) != 0:
		if depthStencil {
			return LayoutDepthStencilAttachmentOptimal
		}
		return LayoutColorAttachmentOptimal
	case access&(AccessAttachmentInput|AccessAttachmentRead|AccessRead) != 0:
		return LayoutShaderReadOnlyOptimal
	case access&AccessDiscard != 0:
		return LayoutUndefined
	default:
		if depthStencil {
			return LayoutDepthStencilAttachmentOptimal
		}
		return LayoutColorAttachmentOptimal
	}
}
