package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/forgelit/rendergraph/engine/core"
	"github.com/forgelit/rendergraph/engine/renderer/graph"
)

// GraphRenderPass is the native render pass built from a graph.ChainDescriptor.
// It is a fresh type rather than a reuse of VulkanRenderPass: the chain
// descriptor carries an arbitrary number of subpasses, while
// VulkanRenderPass (renderpass.go) is wired for exactly one.
type GraphRenderPass struct {
	Handle      vk.RenderPass
	ClearValues []vk.ClearValue
}

// GraphFramebuffer is the native framebuffer built for one chain image
// index (one per swapchain image for a window-backed chain, or a
// single instance otherwise).
type GraphFramebuffer struct {
	Handle vk.Framebuffer
}

// GraphView wraps a native image view created for one ViewRequest.
type GraphView struct {
	Handle  vk.ImageView
	IsOwned bool
}

// GraphBackend implements graph.Backend against github.com/goki/vulkan,
// generalizing the attachment/subpass/dependency assembly in
// renderpass.go and framebuffer.go from the teacher's fixed
// single-subpass-per-renderpass layout to an arbitrary ChainDescriptor.
type GraphBackend struct {
	context *VulkanContext
}

// NewGraphBackend builds the Pass Builder's native backend over an
// already-initialized Vulkan context (instance, device and swapchain
// created).
func NewGraphBackend(context *VulkanContext) *GraphBackend {
	return &GraphBackend{context: context}
}

func graphFormatToVk(ctx *VulkanContext, f graph.Format, isWindow bool) vk.Format {
	if isWindow {
		return ctx.Swapchain.ImageFormat.Format
	}
	if f.Depth || f.Stencil {
		return ctx.Device.DepthFormat
	}
	switch f.Name {
	case "rgba8", "rgba8_unorm":
		return vk.FormatR8g8b8a8Unorm
	case "bgra8", "bgra8_unorm":
		return vk.FormatB8g8r8a8Unorm
	case "rgba16f":
		return vk.FormatR16g16b16a16Sfloat
	case "rgba32f":
		return vk.FormatR32g32b32a32Sfloat
	case "r8":
		return vk.FormatR8Unorm
	case "depth24stencil8":
		return vk.FormatD24UnormS8Uint
	case "depth32f":
		return vk.FormatD32Sfloat
	case "bc7":
		return vk.FormatBc7UnormBlock
	default:
		core.LogWarn("graph backend: unrecognized format %q, defaulting to R8G8B8A8_UNORM", f.Name)
		return vk.FormatR8g8b8a8Unorm
	}
}

func graphLayoutToVk(l graph.ImageLayout) vk.ImageLayout {
	switch l {
	case graph.LayoutColorAttachmentOptimal:
		return vk.ImageLayoutColorAttachmentOptimal
	case graph.LayoutDepthStencilAttachmentOptimal:
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	case graph.LayoutShaderReadOnlyOptimal:
		return vk.ImageLayoutShaderReadOnlyOptimal
	case graph.LayoutTransferSrcOptimal:
		return vk.ImageLayoutTransferSrcOptimal
	case graph.LayoutTransferDstOptimal:
		return vk.ImageLayoutTransferDstOptimal
	case graph.LayoutPresentSrc:
		return vk.ImageLayoutPresentSrc
	case graph.LayoutGeneral:
		return vk.ImageLayoutGeneral
	default:
		return vk.ImageLayoutUndefined
	}
}

func graphAccessToVk(a graph.AccessMask) vk.AccessFlags {
	var out vk.AccessFlags
	if a&graph.AccessRead != 0 {
		out |= vk.AccessFlags(vk.AccessMemoryReadBit)
	}
	if a&graph.AccessWrite != 0 {
		out |= vk.AccessFlags(vk.AccessMemoryWriteBit)
	}
	if a&(graph.AccessAttachmentInput) != 0 {
		out |= vk.AccessFlags(vk.AccessInputAttachmentReadBit)
	}
	if a&graph.AccessAttachmentRead != 0 {
		out |= vk.AccessFlags(vk.AccessColorAttachmentReadBit)
	}
	if a&(graph.AccessAttachmentWrite|graph.AccessAttachmentResolve) != 0 {
		out |= vk.AccessFlags(vk.AccessColorAttachmentWriteBit)
	}
	return out
}

func graphStageToVk(s graph.StageMask) vk.PipelineStageFlags {
	if s == 0 {
		return vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
	}
	return vk.PipelineStageFlags(s)
}

// BuildRenderPass assembles one native vk.RenderPass from a fully
// resolved chain descriptor: one vk.AttachmentDescription per slot, one
// vk.SubpassDescription per chain member, and one vk.SubpassDependency
// per barrier or explicit dependency command (spec.md §4.E).
func (b *GraphBackend) BuildRenderPass(desc *graph.ChainDescriptor) (interface{}, error) {
	ctx := b.context

	attachments := make([]vk.AttachmentDescription, len(desc.Slots))
	clearValues := make([]vk.ClearValue, len(desc.Slots))
	for i, slot := range desc.Slots {
		loadOp := vk.AttachmentLoadOpLoad
		stencilLoadOp := vk.AttachmentLoadOpDontCare
		if slot.Clear.Any() {
			loadOp = vk.AttachmentLoadOpClear
			if slot.Clear.ClearStencil {
				stencilLoadOp = vk.AttachmentLoadOpClear
			}
			var cv vk.ClearValue
			cv.SetColor(slot.Clear.Color[:])
			cv.SetDepthStencil(slot.Clear.Depth, slot.Clear.Stencil)
			clearValues[i] = cv
		}
		attachments[i] = vk.AttachmentDescription{
			Format:         graphFormatToVk(ctx, slot.Format, slot.IsWindow),
			Samples:        sampleCountToVk(slot.Samples),
			LoadOp:         loadOp,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  stencilLoadOp,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  graphLayoutToVk(slot.InitialLayout),
			FinalLayout:    graphLayoutToVk(slot.FinalLayout),
		}
	}

	subpasses := make([]vk.SubpassDescription, len(desc.Subpasses))
	// Keep the per-subpass attachment-reference slices alive until
	// vk.CreateRenderPass returns; the goki/vulkan bindings read through
	// the C pointers embedded in SubpassDescription at call time.
	refHolders := make([][]vk.AttachmentReference, 0, len(desc.Subpasses)*3)
	for i, sp := range desc.Subpasses {
		subpass := vk.SubpassDescription{
			PipelineBindPoint: vk.PipelineBindPointGraphics,
		}

		if len(sp.Inputs) > 0 {
			refs := slotRefsToAttachmentRefs(desc, sp.Inputs, vk.ImageLayoutShaderReadOnlyOptimal)
			refHolders = append(refHolders, refs)
			subpass.InputAttachmentCount = uint32(len(refs))
			subpass.PInputAttachments = refs
		}
		if len(sp.Colors) > 0 {
			refs := slotRefsToAttachmentRefs(desc, sp.Colors, vk.ImageLayoutColorAttachmentOptimal)
			refHolders = append(refHolders, refs)
			subpass.ColorAttachmentCount = uint32(len(refs))
			subpass.PColorAttachments = refs

			if len(sp.Resolves) > 0 {
				resolves := slotRefsToAttachmentRefs(desc, sp.Resolves, vk.ImageLayoutColorAttachmentOptimal)
				refHolders = append(refHolders, resolves)
				subpass.PResolveAttachments = resolves
			}
		}
		if sp.DepthStencil != nil {
			ref := vk.AttachmentReference{
				Attachment: uint32(sp.DepthStencil.Slot),
				Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
			}
			subpass.PDepthStencilAttachment = &ref
		}
		if len(sp.Preserves) > 0 {
			preserve := make([]uint32, len(sp.Preserves))
			for j, p := range sp.Preserves {
				preserve[j] = uint32(p)
			}
			subpass.PreserveAttachmentCount = uint32(len(preserve))
			subpass.PPreserveAttachments = preserve
		}

		subpasses[i] = subpass
	}

	dependencies := make([]vk.SubpassDependency, len(desc.Dependencies))
	for i, d := range desc.Dependencies {
		dependencies[i] = vk.SubpassDependency{
			SrcSubpass:      externalOrIndex(d.SrcSubpass),
			DstSubpass:      externalOrIndex(d.DstSubpass),
			SrcStageMask:    graphStageToVk(d.SrcStage),
			DstStageMask:    graphStageToVk(d.DstStage),
			SrcAccessMask:   graphAccessToVk(d.SrcMask),
			DstAccessMask:   graphAccessToVk(d.DstMask),
			DependencyFlags: vk.DependencyFlags(vk.DependencyFlagBits(vk.DependencyByRegionBit)),
		}
	}

	createInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    uint32(len(subpasses)),
		PSubpasses:      subpasses,
		DependencyCount: uint32(len(dependencies)),
		PDependencies:   dependencies,
	}

	var handle vk.RenderPass
	if res := vk.CreateRenderPass(ctx.Device.LogicalDevice, &createInfo, ctx.Allocator, &handle); res != vk.Success {
		err := fmt.Errorf("failed to create render pass: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return nil, err
	}

	return &GraphRenderPass{Handle: handle, ClearValues: clearValues}, nil
}

func (b *GraphBackend) DestroyRenderPass(handle interface{}) {
	rp, ok := handle.(*GraphRenderPass)
	if !ok || rp.Handle == nil {
		return
	}
	vk.DestroyRenderPass(b.context.Device.LogicalDevice, rp.Handle, b.context.Allocator)
	rp.Handle = nil
}

func slotRefsToAttachmentRefs(desc *graph.ChainDescriptor, refs []graph.SlotRef, layout vk.ImageLayout) []vk.AttachmentReference {
	out := make([]vk.AttachmentReference, len(refs))
	for i, r := range refs {
		out[i] = vk.AttachmentReference{Attachment: uint32(r.Slot), Layout: layout}
	}
	return out
}

func externalOrIndex(subpass int) uint32 {
	if subpass == graph.ExternalSubpass {
		return vk.SubpassExternal
	}
	return uint32(subpass)
}

func sampleCountToVk(samples uint32) vk.SampleCountFlagBits {
	switch samples {
	case 0, 1:
		return vk.SampleCount1Bit
	case 2:
		return vk.SampleCount2Bit
	case 4:
		return vk.SampleCount4Bit
	case 8:
		return vk.SampleCount8Bit
	case 16:
		return vk.SampleCount16Bit
	default:
		return vk.SampleCount1Bit
	}
}

// CreateView creates the image view for one attachment slot. Window
// slots borrow the swapchain's existing per-image view rather than
// creating a new one (the swapchain owns that lifetime).
func (b *GraphBackend) CreateView(backing *graph.Backing, req graph.ViewRequest) (interface{}, error) {
	if req.IsWindow {
		views := b.context.Swapchain.Views
		if req.SwapchainIndex < 0 || req.SwapchainIndex >= len(views) {
			return nil, fmt.Errorf("graph backend: swapchain index %d out of range (%d images)", req.SwapchainIndex, len(views))
		}
		return &GraphView{Handle: views[req.SwapchainIndex], IsOwned: false}, nil
	}

	img, ok := backing.Handle.(*VulkanImage)
	if !ok || img == nil {
		return nil, fmt.Errorf("graph backend: backing has no native image")
	}
	if img.View != nil {
		return &GraphView{Handle: img.View, IsOwned: false}, nil
	}

	aspect := vk.ImageAspectFlags(vk.ImageAspectColorBit)
	if req.Range.Aspects&graph.AspectDepth != 0 {
		aspect = vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	if req.Range.Aspects&graph.AspectStencil != 0 {
		aspect |= vk.ImageAspectFlags(vk.ImageAspectStencilBit)
	}

	viewCreateInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    img.Handle,
		ViewType: vk.ImageViewType2d,
		Format:   graphFormatToVk(b.context, graph.Format{}, false),
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     aspect,
			BaseMipLevel:   req.Range.BaseMip,
			LevelCount:     maxu32(req.Range.MipCount, 1),
			BaseArrayLayer: req.Range.BaseLayer,
			LayerCount:     maxu32(req.Range.LayerCount, 1),
		},
	}

	var handle vk.ImageView
	if res := vk.CreateImageView(b.context.Device.LogicalDevice, &viewCreateInfo, b.context.Allocator, &handle); res != vk.Success {
		return nil, fmt.Errorf("failed to create image view: %s", VulkanResultString(res, true))
	}
	return &GraphView{Handle: handle, IsOwned: true}, nil
}

func (b *GraphBackend) DestroyView(view interface{}) {
	v, ok := view.(*GraphView)
	if !ok || !v.IsOwned || v.Handle == nil {
		return
	}
	vk.DestroyImageView(b.context.Device.LogicalDevice, v.Handle, b.context.Allocator)
	v.Handle = nil
}

func (b *GraphBackend) CreateFramebuffer(renderPass interface{}, views []interface{}, width, height, layers uint32) (interface{}, error) {
	rp, ok := renderPass.(*GraphRenderPass)
	if !ok {
		return nil, fmt.Errorf("graph backend: renderPass handle is not a *GraphRenderPass")
	}

	attachments := make([]vk.ImageView, len(views))
	for i, v := range views {
		gv, ok := v.(*GraphView)
		if !ok {
			return nil, fmt.Errorf("graph backend: view at index %d is not a *GraphView", i)
		}
		attachments[i] = gv.Handle
	}

	createInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      rp.Handle,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		Width:           width,
		Height:          height,
		Layers:          maxu32(layers, 1),
	}

	var handle vk.Framebuffer
	if res := vk.CreateFramebuffer(b.context.Device.LogicalDevice, &createInfo, b.context.Allocator, &handle); res != vk.Success {
		err := fmt.Errorf("failed to create framebuffer: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return nil, err
	}
	return &GraphFramebuffer{Handle: handle}, nil
}

func (b *GraphBackend) DestroyFramebuffer(fb interface{}) {
	f, ok := fb.(*GraphFramebuffer)
	if !ok || f.Handle == nil {
		return
	}
	vk.DestroyFramebuffer(b.context.Device.LogicalDevice, f.Handle, b.context.Allocator)
	f.Handle = nil
}

// Backing returns (allocating if necessary) the native image backing
// an image attachment. Window attachments have no backing of their own
// -- the swapchain owns their images -- so Backing is only ever called
// for AttachmentImage.
func (b *GraphBackend) Backing(att graph.Attachment) (*graph.Backing, error) {
	if att.Kind != graph.AttachmentImage || att.Image == nil {
		return nil, fmt.Errorf("graph backend: Backing called on a non-image attachment")
	}
	if len(att.Image.Backings) > 0 && att.Image.Backings[0] != nil {
		return att.Image.Backings[0], nil
	}

	w, h, d, ok := att.Dims()
	if !ok {
		return nil, fmt.Errorf("graph backend: attachment has no resolved dimensions yet")
	}

	desc := att.Image.Desc
	usage := vk.ImageUsageFlags(vk.ImageUsageSampledBit) | vk.ImageUsageFlags(vk.ImageUsageTransferSrcBit) | vk.ImageUsageFlags(vk.ImageUsageTransferDstBit)
	aspect := vk.ImageAspectFlags(vk.ImageAspectColorBit)
	if desc.Format.Depth || desc.Format.Stencil {
		usage |= vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit)
		aspect = vk.ImageAspectFlags(vk.ImageAspectDepthBit)
		if desc.Format.Stencil {
			aspect |= vk.ImageAspectFlags(vk.ImageAspectStencilBit)
		}
	} else {
		usage |= vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit)
	}

	memFlags := vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	if desc.MemoryFlags&graph.MemoryLazilyAllocated != 0 {
		memFlags = vk.MemoryPropertyFlags(vk.MemoryPropertyLazilyAllocatedBit)
	}
	if desc.MemoryFlags&graph.MemoryHostVisible != 0 {
		memFlags |= vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit) | vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit)
	}

	img, err := ImageCreate(b.context, vk.ImageType2d, w, h, graphFormatToVk(b.context, desc.Format, false), vk.ImageTilingOptimal, usage, memFlags, true, aspect)
	if err != nil {
		return nil, err
	}

	backing := &graph.Backing{Handle: img, Width: w, Height: h, Depth: d}
	att.Image.Backings = append([]*graph.Backing{backing}, att.Image.Backings...)
	return backing, nil
}

func maxu32(v, floor uint32) uint32 {
	if v < floor {
		return floor
	}
	return v
}
