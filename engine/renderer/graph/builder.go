package graph

import (
	"github.com/forgelit/rendergraph/engine/core"
)

// RebuildFlags name the three kinds of rebuild a chain can go through
// (spec.md §4.E).
type RebuildFlags uint8

const (
	RebuildRecreate RebuildFlags = 1 << iota
	RebuildReformat
	RebuildResize
)

// SlotKind tags how a chain attachment slot is referenced within a
// given subpass.
type SlotKind int

const (
	SlotInput SlotKind = iota
	SlotColor
	SlotResolve
	SlotDepthStencil
	SlotPreserve
)

// SlotRef points a subpass at one of the chain's attachment slots.
type SlotRef struct {
	Slot int
	Kind SlotKind
}

// ChainSlot is one distinct attachment referenced anywhere in a subpass
// chain, tracked once and shared across every subpass that touches it.
type ChainSlot struct {
	Attachment    AttachmentIndex
	Format        Format
	Samples       uint32
	IsWindow      bool
	InitialLayout ImageLayout
	FinalLayout   ImageLayout
	Clear         ClearPolicy
	FirstSubpass  int
	LastSubpass   int
}

// ChainSubpassDesc is one native subpass, assembled from one chain
// member's consumptions.
type ChainSubpassDesc struct {
	Inputs       []SlotRef
	Colors       []SlotRef
	ColorBlends  []BlendDescription
	Resolves     []SlotRef
	DepthStencil *SlotRef
	Preserves    []int
}

// ChainDependencyDesc is one native subpass dependency (or an external
// one, when SrcSubpass/DstSubpass is ExternalSubpass).
type ChainDependencyDesc struct {
	SrcSubpass, DstSubpass int
	SrcMask, DstMask       AccessMask
	SrcStage, DstStage     StageMask
	Format                 Format
}

// ExternalSubpass marks a dependency endpoint outside the render pass
// (VK_SUBPASS_EXTERNAL's neutral counterpart).
const ExternalSubpass = -1

// ChainDescriptor is the backend-agnostic description the Pass Builder
// assembles from a resolved subpass chain and hands to the Backend to
// turn into a native render pass.
type ChainDescriptor struct {
	Slots        []ChainSlot
	Subpasses    []ChainSubpassDesc
	Dependencies []ChainDependencyDesc
}

// ViewRequest describes one image view the backend must create.
type ViewRequest struct {
	Attachment     AttachmentIndex
	Range          AspectRange
	ViewDesc       ViewDescription
	IsWindow       bool
	SwapchainIndex int
}

// Backend is the native-object half of the Pass Builder, implemented by
// engine/renderer/vulkan. It is the only place the graph core talks to
// a concrete graphics API.
type Backend interface {
	// BuildRenderPass looks up or creates the native render pass for
	// desc, consulting the pipeline-cache collaborator internally.
	BuildRenderPass(desc *ChainDescriptor) (handle interface{}, err error)
	DestroyRenderPass(handle interface{})

	CreateView(backing *Backing, req ViewRequest) (interface{}, error)
	DestroyView(view interface{})

	CreateFramebuffer(renderPass interface{}, views []interface{}, width, height, layers uint32) (interface{}, error)
	DestroyFramebuffer(fb interface{})

	// Backing returns the attachment's current backing allocation,
	// allocating one if none exists yet, sized to the attachment's
	// resolved dimensions.
	Backing(att Attachment) (*Backing, error)
}

// Builder is the Pass Builder, component E of spec.md §4.
type Builder struct {
	Registry *Registry
	Graph    *Graph
	Backend  Backend

	// failed records the chain masters whose last build attempt failed,
	// so callers can inspect and retry (spec.md §7: build failures are
	// counted/reported but the graph stays Validated).
	failed map[PassIndex]error
}

// NewBuilder binds a builder to its registry/graph/backend triple.
func NewBuilder(reg *Registry, g *Graph, backend Backend) *Builder {
	return &Builder{Registry: reg, Graph: g, Backend: backend, failed: make(map[PassIndex]error)}
}

// Failed returns the chain masters whose most recent warmup/build
// attempt failed, and the error recorded for each.
func (b *Builder) Failed() map[PassIndex]error {
	return b.failed
}

// WarmupAll runs Warmup on every chain master in the graph (a pass
// that is the master of its chain: HasMaster == false).
func (b *Builder) WarmupAll() {
	for _, id := range b.Graph.RenderRegion() {
		p, ok := b.Graph.Pass(id)
		if !ok || p.Culled || p.HasMaster {
			continue
		}
		if err := b.Warmup(id); err != nil {
			b.failed[id] = err
		} else {
			delete(b.failed, id)
		}
	}
}

// BuildAll runs Build on every warmed chain master.
func (b *Builder) BuildAll() {
	for _, id := range b.Graph.RenderRegion() {
		p, ok := b.Graph.Pass(id)
		if !ok || p.Culled || p.HasMaster || !p.Warmed {
			continue
		}
		if err := b.Build(id); err != nil {
			b.failed[id] = err
		} else {
			delete(b.failed, id)
		}
	}
}

// Warmup implements spec.md §4.E's warmup algorithm for the chain
// rooted at masterIdx, creating (or fetching from cache) the native
// render pass and propagating its handle to every chain member.
func (b *Builder) Warmup(masterIdx PassIndex) error {
	master, ok := b.Graph.Pass(masterIdx)
	if !ok {
		return newError("Warmup", KindBuildFailed, nil)
	}
	members := chainMembers(b.Graph, master)

	desc, ok := b.assembleChain(master, members)
	if !ok {
		// Quietly skipped (e.g. nothing warmup-worthy); not a failure.
		return nil
	}

	handle, err := b.Backend.BuildRenderPass(desc)
	if err != nil {
		core.LogError("warmup: building native render pass failed: %s", err.Error())
		return newError("Warmup", KindBuildFailed, err)
	}

	for _, m := range members {
		m.BuildHandle = handle
		m.Warmed = true
	}
	return nil
}

// assembleChain implements §4.E warmup steps 1-3, building the
// backend-agnostic ChainDescriptor. ok is false when the chain has
// nothing worth warming up (e.g. all-culled), which is not an error.
func (b *Builder) assembleChain(master *Pass, members []*Pass) (*ChainDescriptor, bool) {
	slotIndex := make(map[AttachmentIndex]int)
	desc := &ChainDescriptor{}

	for subpassIdx, m := range members {
		windowCount := 0
		depthWriteCount := 0

		sp := ChainSubpassDesc{}
		for _, c := range m.ConsumptionsInOrder() {
			att := b.Registry.Get(c.Attachment)
			aspect := attachmentAspect(att)
			if c.View.Aspects&aspect == 0 {
				continue
			}
			if !c.Access.IsAttachmentAccess() {
				continue
			}

			if att.Kind == AttachmentWindow {
				windowCount++
				if windowCount > 1 {
					core.LogWarn("warmup: pass %d consumes more than one window attachment; ignoring extras", m.Index)
					continue
				}
			}
			isDepthStencil := att.Kind == AttachmentImage && att.Image != nil &&
				(att.Image.Desc.Format.Depth || att.Image.Desc.Format.Stencil)
			if isDepthStencil && c.Access.IsWrite() {
				depthWriteCount++
				if depthWriteCount > 1 {
					core.LogWarn("warmup: pass %d has more than one depth/stencil write; ignoring extras", m.Index)
					continue
				}
			}

			idx, exists := slotIndex[c.Attachment]
			if !exists {
				idx = len(desc.Slots)
				slotIndex[c.Attachment] = idx
				slot := ChainSlot{
					Attachment:    c.Attachment,
					IsWindow:      att.Kind == AttachmentWindow,
					InitialLayout: c.InitialLayout,
					FinalLayout:   c.FinalLayout,
					FirstSubpass:  subpassIdx,
					LastSubpass:   subpassIdx,
				}
				if att.Kind == AttachmentImage && att.Image != nil {
					slot.Format = att.Image.Desc.Format
					slot.Samples = att.Image.Desc.Samples
				}
				desc.Slots = append(desc.Slots, slot)
			}
			slot := &desc.Slots[idx]
			slot.LastSubpass = subpassIdx
			if c.Clear.Any() {
				slot.Clear = c.Clear
			}
			if c.FinalLayout != LayoutUndefined {
				slot.FinalLayout = c.FinalLayout
			}

			ref := SlotRef{Slot: idx}
			switch {
			case isDepthStencil && (c.Access.IsWrite() || c.Access&AccessAttachmentInput != 0):
				ref.Kind = SlotDepthStencil
				r := ref
				sp.DepthStencil = &r
			case c.Access&AccessAttachmentInput != 0:
				ref.Kind = SlotInput
				sp.Inputs = append(sp.Inputs, ref)
			case c.Access&AccessAttachmentResolve != 0:
				ref.Kind = SlotResolve
				sp.Resolves = append(sp.Resolves, ref)
				if c.HasResolveTarget {
					// Resolve target attachment also needs a slot, but
					// is not itself "consumed" with an access mask;
					// register it passively so the backend has a view
					// to resolve into.
					b.ensurePassiveSlot(desc, slotIndex, c.ResolveTarget, subpassIdx)
				}
			default:
				ref.Kind = SlotColor
				sp.Colors = append(sp.Colors, ref)
				sp.ColorBlends = append(sp.ColorBlends, c.Blend)
			}
		}
		desc.Subpasses = append(desc.Subpasses, sp)
	}

	if len(desc.Slots) == 0 {
		return nil, false
	}

	b.addPreserves(desc)
	b.addDependencies(desc, members)
	return desc, true
}

func (b *Builder) ensurePassiveSlot(desc *ChainDescriptor, slotIndex map[AttachmentIndex]int, att AttachmentIndex, subpassIdx int) {
	if _, ok := slotIndex[att]; ok {
		return
	}
	a := b.Registry.Get(att)
	idx := len(desc.Slots)
	slotIndex[att] = idx
	slot := ChainSlot{Attachment: att, FirstSubpass: subpassIdx, LastSubpass: subpassIdx}
	if a.Kind == AttachmentImage && a.Image != nil {
		slot.Format = a.Image.Desc.Format
		slot.Samples = a.Image.Desc.Samples
	}
	desc.Slots = append(desc.Slots, slot)
}

// addPreserves marks, for every subpass strictly between a slot's first
// and last touching subpass that does not itself touch the slot, a
// preserve reference (spec.md §4.E step 2).
func (b *Builder) addPreserves(desc *ChainDescriptor) {
	for slotIdx, slot := range desc.Slots {
		for sp := slot.FirstSubpass + 1; sp < slot.LastSubpass; sp++ {
			if subpassTouches(&desc.Subpasses[sp], slotIdx) {
				continue
			}
			desc.Subpasses[sp].Preserves = append(desc.Subpasses[sp].Preserves, slotIdx)
		}
	}
}

func subpassTouches(sp *ChainSubpassDesc, slot int) bool {
	for _, r := range sp.Inputs {
		if r.Slot == slot {
			return true
		}
	}
	for _, r := range sp.Colors {
		if r.Slot == slot {
			return true
		}
	}
	for _, r := range sp.Resolves {
		if r.Slot == slot {
			return true
		}
	}
	if sp.DepthStencil != nil && sp.DepthStencil.Slot == slot {
		return true
	}
	return false
}

// addDependencies implements §4.E step 3: one native subpass dependency
// per resolved barrier-needing prev link inside the chain, plus one per
// dependency command flagged as a subpass dependency.
func (b *Builder) addDependencies(desc *ChainDescriptor, members []*Pass) {
	subpassOf := make(map[PassIndex]int, len(members))
	for i, m := range members {
		subpassOf[m.Index] = i
	}

	for subpassIdx, m := range members {
		for _, c := range m.ConsumptionsInOrder() {
			if !c.Barrier || c.Prev == nil {
				continue
			}
			srcSubpass := ExternalSubpass
			if idx, ok := subpassOf[c.Prev.Pass.Index]; ok {
				srcSubpass = idx
			}
			format := Format{}
			if att := b.Registry.Get(c.Attachment); att.Kind == AttachmentImage && att.Image != nil {
				format = att.Image.Desc.Format
			}
			desc.Dependencies = append(desc.Dependencies, ChainDependencyDesc{
				SrcSubpass: srcSubpass,
				DstSubpass: subpassIdx,
				SrcMask:    c.Prev.Access,
				DstMask:    c.Access,
				Format:     format,
			})
		}
		for _, dc := range m.DependencyCommands {
			if !dc.SubpassDependency {
				continue
			}
			desc.Dependencies = append(desc.Dependencies, ChainDependencyDesc{
				SrcSubpass: ExternalSubpass,
				DstSubpass: subpassIdx,
				SrcMask:    dc.SrcMask,
				DstMask:    dc.DstMask,
				SrcStage:   dc.SrcStage,
				DstStage:   dc.DstStage,
				Format:     dc.Format,
			})
		}
	}
}

func attachmentAspect(att Attachment) AspectMask {
	if att.Kind == AttachmentImage && att.Image != nil {
		f := att.Image.Desc.Format
		var mask AspectMask
		if f.Depth {
			mask |= AspectDepth
		}
		if f.Stencil {
			mask |= AspectStencil
		}
		if mask == 0 {
			mask = AspectColor
		}
		return mask
	}
	return AspectColor
}

// Build implements spec.md §4.E's build algorithm: creates image views,
// validates framebuffer dimensions, and creates one framebuffer per
// swapchain image (or one total) for a warmed chain.
func (b *Builder) Build(masterIdx PassIndex) error {
	master, ok := b.Graph.Pass(masterIdx)
	if !ok || !master.Warmed {
		return newError("Build", KindBuildFailed, nil)
	}
	members := chainMembers(b.Graph, master)

	desc, ok := b.assembleChain(master, members)
	if !ok {
		return nil
	}

	width, height, layers, ok := b.framebufferDims(desc)
	if !ok {
		// Zero dims (e.g. minimized window) or mismatched dims: quiet
		// skip, graph stays Validated.
		return nil
	}

	imageCount := 1
	if win, wok := b.windowOf(desc); wok {
		imageCount = int(win.ImageCount())
	}

	for i := 0; i < imageCount; i++ {
		views := make([]interface{}, 0, len(desc.Slots))
		for _, slot := range desc.Slots {
			// Window slots have no backing of their own: the window's
			// swapchain image for index i backs the view.
			var backing *Backing
			if !slot.IsWindow {
				att := b.Registry.Get(slot.Attachment)
				var err error
				backing, err = b.Backend.Backing(att)
				if err != nil {
					return newError("Build", KindBuildFailed, err)
				}
			}
			view, err := b.Backend.CreateView(backing, ViewRequest{
				Attachment:     slot.Attachment,
				IsWindow:       slot.IsWindow,
				SwapchainIndex: i,
			})
			if err != nil {
				return newError("Build", KindBuildFailed, err)
			}
			views = append(views, view)
		}

		fb, err := b.Backend.CreateFramebuffer(master.BuildHandle, views, width, height, layers)
		if err != nil {
			return newError("Build", KindBuildFailed, err)
		}
		_ = fb
	}

	for _, m := range members {
		m.FramebufferWidth = width
		m.FramebufferHeight = height
		m.FramebufferLayers = layers
		m.Built = true
	}
	return nil
}

func (b *Builder) windowOf(desc *ChainDescriptor) (Window, bool) {
	for _, slot := range desc.Slots {
		if !slot.IsWindow {
			continue
		}
		att := b.Registry.Get(slot.Attachment)
		if att.Kind == AttachmentWindow && att.Window != nil {
			return att.Window.Win, true
		}
	}
	return nil, false
}

// framebufferDims validates that every slot shares consistent
// dimensions (spec.md §4.E build step 2).
func (b *Builder) framebufferDims(desc *ChainDescriptor) (w, h, layers uint32, ok bool) {
	first := true
	for _, slot := range desc.Slots {
		att := b.Registry.Get(slot.Attachment)
		sw, sh, _, dimsOK := att.Dims()
		if !dimsOK {
			return 0, 0, 0, false
		}
		if first {
			w, h, layers = sw, sh, 1
			first = false
			continue
		}
		if sw != w || sh != h {
			core.LogWarn("build: mismatched attachment dimensions across chain slots")
			return 0, 0, 0, false
		}
	}
	if w == 0 || h == 0 {
		return 0, 0, 0, false
	}
	return w, h, layers, true
}

// Rebuild implements spec.md §4.E's rebuild algorithm: Recreate and
// Resize clear the chain's built state and framebuffer dimensions,
// Reformat also destroys the cached render-pass handle and bumps the
// chain's generation counter. Build does not keep the framebuffers and
// views it creates, so Rebuild neither destroys them nor queues them
// for deferred destruction. The chain is then re-warmed/re-built up to
// the level it had previously reached.
func (b *Builder) Rebuild(masterIdx PassIndex, flags RebuildFlags) error {
	master, ok := b.Graph.Pass(masterIdx)
	if !ok {
		return newError("Rebuild", KindBuildFailed, nil)
	}
	members := chainMembers(b.Graph, master)

	wasBuilt := master.Built
	wasWarmed := master.Warmed

	if flags&(RebuildRecreate|RebuildResize) != 0 {
		for _, m := range members {
			m.Built = false
			m.FramebufferWidth, m.FramebufferHeight, m.FramebufferLayers = 0, 0, 0
		}
	}
	if flags&RebuildReformat != 0 {
		if master.BuildHandle != nil {
			b.Backend.DestroyRenderPass(master.BuildHandle)
		}
		for _, m := range members {
			m.Warmed = false
			m.BuildHandle = nil
		}
		master.BuildGeneration++
	}

	if wasWarmed && !master.Warmed {
		if err := b.Warmup(masterIdx); err != nil {
			return err
		}
	}
	if wasBuilt {
		if err := b.Build(masterIdx); err != nil {
			return err
		}
	}
	return nil
}

// Destruct fully tears down a chain: the teardown of Recreate+Reformat,
// without warming or building the chain again.
func (b *Builder) Destruct(masterIdx PassIndex) error {
	master, ok := b.Graph.Pass(masterIdx)
	if !ok {
		return newError("Destruct", KindBuildFailed, nil)
	}
	if master.BuildHandle != nil {
		b.Backend.DestroyRenderPass(master.BuildHandle)
	}
	for _, m := range chainMembers(b.Graph, master) {
		m.Built, m.Warmed, m.BuildHandle = false, false, nil
		m.FramebufferWidth, m.FramebufferHeight, m.FramebufferLayers = 0, 0, 0
	}
	master.BuildGeneration++
	return nil
}
