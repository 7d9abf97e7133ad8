package graph

import (
	"sync"

	"github.com/forgelit/rendergraph/engine/core"
)

// AttachmentKind tags the Attachment variant (spec.md §3: Empty | Image |
// Window). Dispatch is on this tag rather than through an interface,
// following the "tagged-union" design note in spec.md §9.
type AttachmentKind int

const (
	AttachmentEmpty AttachmentKind = iota
	AttachmentImage
	AttachmentWindow
)

// SizeMode distinguishes absolute-size images (width/height/depth given
// directly) from relative-size images (scaled off another attachment).
type SizeMode int

const (
	SizeAbsolute SizeMode = iota
	SizeRelative
)

// ImageDescription is the user-supplied description passed to
// Registry.Describe.
type ImageDescription struct {
	SizeMode SizeMode

	// Absolute sizing.
	Width, Height, Depth uint32

	// Relative sizing: dimensions are ScaleX/Y/Z * RelativeTo's resolved
	// dimensions, truncated to integer.
	RelativeTo             AttachmentIndex
	ScaleX, ScaleY, ScaleZ float32

	Layers      uint32
	Format      Format
	Samples     uint32
	MemoryFlags MemoryFlags
	// Transient attachments receive a lazy-allocation memory hint and
	// may not also request read/write access (spec.md §4.A).
	Transient bool
}

// Backing is a concrete allocation satisfying an image attachment's
// description. Handle is opaque to the graph core; the Vulkan backend
// stashes a *vulkan.VulkanImage there.
type Backing struct {
	Handle                interface{}
	Width, Height, Depth  uint32
}

// ImageAttachment is the resolved, backing-tracked state of an
// Attachment in the AttachmentImage variant.
type ImageAttachment struct {
	Desc ImageDescription

	resolved              bool
	ResolvedWidth         uint32
	ResolvedHeight        uint32
	ResolvedDepth         uint32

	// Backings most-recent-first; index 0 is the currently active
	// allocation, if any.
	Backings []*Backing
}

// WindowRecreateFlags records which kind of rebuild a window-backed
// attachment needs to go through next (spec.md §4.E).
type WindowRecreateFlags uint8

const (
	RecreateNone     WindowRecreateFlags = 0
	RecreateSwapchain WindowRecreateFlags = 1 << iota
	RecreateReformat
	RecreateResize
)

// WindowAttachment is the resolved state of an Attachment in the
// AttachmentWindow variant.
type WindowAttachment struct {
	Win           Window
	RecreateFlags WindowRecreateFlags
}

// Attachment is the tagged union described in spec.md §3. Only the
// field matching Kind is populated.
type Attachment struct {
	Kind   AttachmentKind
	Image  *ImageAttachment
	Window *WindowAttachment
}

// Dims returns the attachment's current width/height/depth and whether
// it is currently usable (non-zero, resolved, and not Empty).
func (a Attachment) Dims() (w, h, d uint32, ok bool) {
	switch a.Kind {
	case AttachmentImage:
		if a.Image == nil || !a.Image.resolved {
			return 0, 0, 0, false
		}
		w, h, d = a.Image.ResolvedWidth, a.Image.ResolvedHeight, a.Image.ResolvedDepth
		return w, h, d, w > 0 && h > 0 && d > 0
	case AttachmentWindow:
		if a.Window == nil || a.Window.Win == nil {
			return 0, 0, 0, false
		}
		w, h = a.Window.Win.FrameWidth(), a.Window.Win.FrameHeight()
		return w, h, 1, w > 0 && h > 0
	default:
		return 0, 0, 0, false
	}
}

// Registry is the Attachment Registry, component A of spec.md §4.
type Registry struct {
	mu          sync.Mutex
	attachments []Attachment
	stale       []*Backing
}

// NewRegistry creates an empty attachment registry.
func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) grow(index AttachmentIndex) {
	for AttachmentIndex(len(r.attachments)) <= index {
		r.attachments = append(r.attachments, Attachment{Kind: AttachmentEmpty})
	}
}

// Describe installs (or replaces) an image attachment at index, growing
// the dense vector gaplessly and filling any new holes with Empty.
func (r *Registry) Describe(index AttachmentIndex, desc ImageDescription) error {
	if desc.Transient && desc.MemoryFlags&(MemoryDeviceLocal|MemoryHostVisible) != 0 && hasReadWriteAccessHint(desc) {
		return newError("Describe", KindFormatUnsupported, nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.grow(index)
	if desc.Transient {
		desc.MemoryFlags |= MemoryLazilyAllocated
	}
	r.attachments[index] = Attachment{
		Kind: AttachmentImage,
		Image: &ImageAttachment{
			Desc: desc,
		},
	}
	return nil
}

// hasReadWriteAccessHint is a placeholder hook: transient attachments
// reject an explicit read/write memory-flag request per spec.md §4.A.
// The description itself carries no access mask (that lives on
// Consumption), so this only ever trips when a caller has mistakenly
// set device-local *and* host-visible together, which is never a valid
// transient combination.
func hasReadWriteAccessHint(desc ImageDescription) bool {
	return desc.MemoryFlags&MemoryDeviceLocal != 0 && desc.MemoryFlags&MemoryHostVisible != 0
}

// AttachWindow binds a Window collaborator at index, taking its
// swap-lock. Fails with KindWindowBusy if another attachment already
// holds that window's lock.
func (r *Registry) AttachWindow(index AttachmentIndex, win Window) error {
	lock := win.Lock()
	if !lock.TryAcquire() {
		return newError("AttachWindow", KindWindowBusy, nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.grow(index)
	r.attachments[index] = Attachment{
		Kind: AttachmentWindow,
		Window: &WindowAttachment{
			Win: win,
		},
	}
	return nil
}

// Detach releases index back to Empty, freeing any image backings
// (deferred, via the stale queue) and releasing a window's swap-lock.
func (r *Registry) Detach(index AttachmentIndex) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if int(index) >= len(r.attachments) {
		return nil
	}
	a := r.attachments[index]
	switch a.Kind {
	case AttachmentImage:
		if a.Image != nil {
			r.stale = append(r.stale, a.Image.Backings...)
		}
	case AttachmentWindow:
		if a.Window != nil && a.Window.Win != nil {
			a.Window.Win.Lock().Release()
		}
	}
	r.attachments[index] = Attachment{Kind: AttachmentEmpty}
	return nil
}

// Get returns the attachment at index (Empty if out of range).
func (r *Registry) Get(index AttachmentIndex) Attachment {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(index) < 0 || int(index) >= len(r.attachments) {
		return Attachment{Kind: AttachmentEmpty}
	}
	return r.attachments[index]
}

// Len reports the size of the dense attachment vector.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attachments)
}

// DrainStale returns and clears the backings queued for deferred
// destruction since the last call, following the per-frame stale-
// resource design in spec.md §9.
func (r *Registry) DrainStale() []*Backing {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.stale
	r.stale = nil
	return out
}

// ResolveSizes runs the fixed-point size-resolution loop of spec.md
// §4.A. It returns the set of attachment indices that remained
// unresolved (cyclic or dangling relative references); those
// attachments are zeroed to dims (0,0,0) and behave as Empty downstream
// without actually changing Kind, matching the "unresolvable references
// are treated as empty" invariant.
func (r *Registry) ResolveSizes() ([]AttachmentIndex, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.attachments)
	resolved := make([]bool, n)

	for i := 0; i < n; i++ {
		a := &r.attachments[i]
		switch a.Kind {
		case AttachmentEmpty:
			resolved[i] = true
		case AttachmentWindow:
			resolved[i] = true
		case AttachmentImage:
			if a.Image.Desc.SizeMode == SizeAbsolute {
				r.setImageDims(AttachmentIndex(i), a.Image.Desc.Width, a.Image.Desc.Height, a.Image.Desc.Depth)
				resolved[i] = true
			}
		}
	}

	for {
		progress := false
		for i := 0; i < n; i++ {
			if resolved[i] {
				continue
			}
			a := &r.attachments[i]
			if a.Kind != AttachmentImage {
				resolved[i] = true
				continue
			}
			ref := a.Image.Desc.RelativeTo
			if int(ref) < 0 || int(ref) >= n || !resolved[ref] {
				continue
			}
			// Dims reports ok=false whenever any single axis is zero, not
			// only when the referent is wholly unresolved; rw/rh/rd still
			// carry the referent's real per-axis dimensions in that case,
			// so they are scaled as-is rather than being zeroed out.
			rw, rh, rd, _ := r.attachments[ref].Dims()
			w := uint32(float32(rw) * a.Image.Desc.ScaleX)
			h := uint32(float32(rh) * a.Image.Desc.ScaleY)
			d := uint32(float32(rd) * a.Image.Desc.ScaleZ)
			r.setImageDims(AttachmentIndex(i), w, h, d)
			resolved[i] = true
			progress = true
		}
		if !progress {
			break
		}
	}

	var unresolved []AttachmentIndex
	var cyclic bool
	for i := 0; i < n; i++ {
		if !resolved[i] {
			unresolved = append(unresolved, AttachmentIndex(i))
			r.setImageDims(AttachmentIndex(i), 0, 0, 0)
			if r.isCyclicReference(i, n) {
				cyclic = true
				core.LogWarn("attachment %d is part of a cyclic relative-size reference, treating as empty", i)
			} else {
				core.LogWarn("attachment %d has an unresolvable relative size reference, treating as empty", i)
			}
		}
	}
	if len(unresolved) > 0 {
		var err error
		if cyclic {
			err = ErrCyclicReference
		}
		return unresolved, newError("ResolveSizes", KindUnresolvedSize, err)
	}
	return nil, nil
}

// isCyclicReference walks i's RelativeTo chain looking for a repeated
// index, which marks i as part of a genuine reference cycle rather
// than merely dangling off an invalid/out-of-range index.
func (r *Registry) isCyclicReference(i, n int) bool {
	visited := make(map[int]bool, n)
	cur := i
	for {
		if cur < 0 || cur >= n {
			return false
		}
		if visited[cur] {
			return true
		}
		visited[cur] = true
		a := &r.attachments[cur]
		if a.Kind != AttachmentImage || a.Image.Desc.SizeMode != SizeRelative {
			return false
		}
		cur = int(a.Image.Desc.RelativeTo)
	}
}

// setImageDims updates an image attachment's resolved dimensions,
// dropping (marking stale) the most-recent backing if the dimensions
// actually changed.
func (r *Registry) setImageDims(index AttachmentIndex, w, h, d uint32) {
	img := r.attachments[index].Image
	if img == nil {
		return
	}
	changed := !img.resolved || img.ResolvedWidth != w || img.ResolvedHeight != h || img.ResolvedDepth != d
	img.ResolvedWidth, img.ResolvedHeight, img.ResolvedDepth = w, h, d
	img.resolved = true
	if changed && len(img.Backings) > 0 {
		r.stale = append(r.stale, img.Backings[0])
		img.Backings = img.Backings[1:]
	}
}
