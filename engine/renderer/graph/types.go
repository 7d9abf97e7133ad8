package graph

// AttachmentIndex addresses an entry in the attachment registry's dense
// vector. Indices are never reused while an attachment is gapless-grown;
// a detached slot is filled with Empty rather than removed.
type AttachmentIndex int

// PassIndex addresses an entry in the pass DAG's dense pass table.
type PassIndex int

// Format is an abstraction over the backend's native pixel/format
// enumeration. The graph core only needs to compare formats for
// equality and to classify them as depth/stencil or compressed; the
// Vulkan backend maps Format to vk.Format when it builds native
// objects.
type Format struct {
	Name        string
	Depth       bool
	Stencil     bool
	Compressed  bool
	BlockWidth  uint32
	BlockHeight uint32
	BytesPerTexel uint32
}

// AspectMask mirrors VkImageAspectFlags: which planes of an image a
// consumption or view touches.
type AspectMask uint32

const (
	AspectColor AspectMask = 1 << iota
	AspectDepth
	AspectStencil
)

// AccessMask describes how a pass touches an attachment within a single
// consumption; see spec.md §3 (Consumption).
type AccessMask uint32

const (
	AccessRead AccessMask = 1 << iota
	AccessWrite
	AccessAttachmentInput
	AccessAttachmentRead
	AccessAttachmentWrite
	AccessAttachmentResolve
	AccessDiscard
)

// IsAttachmentAccess reports whether the mask counts as one of the
// "attachment access" kinds used by the merger's view-compatibility and
// the builder's slot-filtering logic (input/read/write/resolve), as
// opposed to a bare Read/Write/Discard of a non-attachment resource.
func (a AccessMask) IsAttachmentAccess() bool {
	return a&(AccessAttachmentInput|AccessAttachmentRead|AccessAttachmentWrite|AccessAttachmentResolve) != 0
}

func (a AccessMask) IsWrite() bool {
	return a&(AccessWrite|AccessAttachmentWrite|AccessAttachmentResolve) != 0
}

// ImageLayout is the abstract counterpart of VkImageLayout. The resolver
// (4.D) computes these; the Vulkan backend maps them 1:1 to native
// layouts when emitting attachment descriptions.
type ImageLayout int

const (
	LayoutUndefined ImageLayout = iota
	LayoutColorAttachmentOptimal
	LayoutDepthStencilAttachmentOptimal
	LayoutShaderReadOnlyOptimal
	LayoutTransferSrcOptimal
	LayoutTransferDstOptimal
	LayoutPresentSrc
	LayoutGeneral
)

// AspectRange is a viewed subresource range: mip/layer window plus the
// aspect bits it covers.
type AspectRange struct {
	Aspects    AspectMask
	BaseMip    uint32
	MipCount   uint32
	BaseLayer  uint32
	LayerCount uint32
}

// ViewType mirrors VkImageViewType; it is only meaningful when Viewed is
// true on a ViewDescription.
type ViewType int

const (
	ViewType1D ViewType = iota
	ViewType2D
	ViewType3D
	ViewTypeCube
	ViewType2DArray
	ViewTypeCubeArray
)

// ViewDescription is the optional explicit view carried by a
// consumption; when absent, the builder infers the view type from the
// attachment's image type.
type ViewDescription struct {
	Viewed   bool
	Type     ViewType
	Range    AspectRange
	Swizzle  [4]rune
}

// Compatible reports whether two view descriptions are "view
// compatible" for merge-scoring purposes (spec.md §4.C step 3c): same
// viewed flag, and when viewed, the same type, aspect, mip range, layer
// range and swizzle.
func (v ViewDescription) Compatible(o ViewDescription) bool {
	if v.Viewed != o.Viewed {
		return false
	}
	if !v.Viewed {
		return true
	}
	return v.Type == o.Type && v.Range == o.Range && v.Swizzle == o.Swizzle
}

// ClearPolicy names which aspect(s) of an attachment a consumption
// clears, and with what value.
type ClearPolicy struct {
	ClearColor   bool
	ClearDepth   bool
	ClearStencil bool
	Color        [4]float32
	Depth        float32
	Stencil      uint32
}

func (c ClearPolicy) Any() bool {
	return c.ClearColor || c.ClearDepth || c.ClearStencil
}

// BlendDescription carries the per-attachment blend state a consumption
// contributes to a subpass's color blend state.
type BlendDescription struct {
	Enabled       bool
	SrcColorBlend uint32
	DstColorBlend uint32
	ColorBlendOp  uint32
	SrcAlphaBlend uint32
	DstAlphaBlend uint32
	AlphaBlendOp  uint32
}

// MemoryFlags mirrors VkMemoryPropertyFlags for the bits the core cares
// about: device-local vs host-visible, and the lazy-allocation hint
// transient attachments request.
type MemoryFlags uint32

const (
	MemoryDeviceLocal MemoryFlags = 1 << iota
	MemoryHostVisible
	MemoryHostCoherent
	MemoryLazilyAllocated
)

// RenderState bundles the fixed-function state a RenderPass carries
// (spec.md §3): raster, blend, depth/stencil, viewport, scissor. Kept
// as an opaque-ish bag of the pieces the graph core threads through to
// the builder without interpreting it further (the descriptor/technique
// layer that actually validates it is out of core scope).
type RenderState struct {
	CullMode       FaceCullMode
	Wireframe      bool
	DepthTestEnable  bool
	DepthWriteEnable bool
	StencilTestEnable bool
	Viewport       Rect
	Scissor        Rect
}

// FaceCullMode mirrors metadata.FaceCullMode; duplicated here (rather
// than imported) to keep the graph core independent of the
// descriptor/technique layer per spec.md §1.
type FaceCullMode int

const (
	FaceCullModeNone FaceCullMode = iota
	FaceCullModeFront
	FaceCullModeBack
	FaceCullModeFrontAndBack
)

// Rect is a plain x/y/width/height rectangle used for viewport, scissor
// and render-area fields.
type Rect struct {
	X, Y          int32
	Width, Height uint32
}
