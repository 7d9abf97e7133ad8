package graph

import "testing"

// fakeBuilderBackend is a minimal in-memory Backend for builder tests.
type fakeBuilderBackend struct {
	renderPasses int
	framebuffers int
	views        int
	backings     map[AttachmentIndex]*Backing
}

func newFakeBuilderBackend() *fakeBuilderBackend {
	return &fakeBuilderBackend{backings: make(map[AttachmentIndex]*Backing)}
}

func (f *fakeBuilderBackend) BuildRenderPass(desc *ChainDescriptor) (interface{}, error) {
	f.renderPasses++
	return f.renderPasses, nil
}
func (f *fakeBuilderBackend) DestroyRenderPass(handle interface{}) {}

func (f *fakeBuilderBackend) CreateView(backing *Backing, req ViewRequest) (interface{}, error) {
	f.views++
	return f.views, nil
}
func (f *fakeBuilderBackend) DestroyView(view interface{}) {}

func (f *fakeBuilderBackend) CreateFramebuffer(renderPass interface{}, views []interface{}, width, height, layers uint32) (interface{}, error) {
	f.framebuffers++
	return f.framebuffers, nil
}
func (f *fakeBuilderBackend) DestroyFramebuffer(fb interface{}) {}

func (f *fakeBuilderBackend) Backing(att Attachment) (*Backing, error) {
	return &Backing{}, nil
}

func TestBuilder_WarmupAndBuildSimpleChain(t *testing.T) {
	reg, g, a, b := setupChainFixture(t)
	NewAnalyzer(reg, g).Analyze()
	NewResolver(reg, g).Resolve()

	backend := newFakeBuilderBackend()
	builder := NewBuilder(reg, g, backend)

	if err := builder.Warmup(a); err != nil {
		t.Fatalf("Warmup: %v", err)
	}
	pa, _ := g.Pass(a)
	pb, _ := g.Pass(b)
	if !pa.Warmed || !pb.Warmed {
		t.Fatalf("expected both chain members warmed")
	}
	if pa.BuildHandle != pb.BuildHandle {
		t.Fatalf("expected chain members to share the same render-pass handle")
	}
	if backend.renderPasses != 1 {
		t.Fatalf("expected exactly one native render pass built, got %d", backend.renderPasses)
	}

	if err := builder.Build(a); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !pa.Built || !pb.Built {
		t.Fatalf("expected both chain members built")
	}
	if pa.FramebufferWidth != 512 || pa.FramebufferHeight != 512 {
		t.Fatalf("expected 512x512 framebuffer dims, got %dx%d", pa.FramebufferWidth, pa.FramebufferHeight)
	}
	if backend.framebuffers != 1 {
		t.Fatalf("expected one framebuffer for a non-window chain, got %d", backend.framebuffers)
	}
}

func TestBuilder_QuietSkipsZeroDimension(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Describe(0, ImageDescription{SizeMode: SizeAbsolute, Width: 0, Height: 0, Depth: 1}); err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if _, err := reg.ResolveSizes(); err == nil {
		// zero-size absolute attachments resolve fine; no unresolved error expected.
	}

	g := NewGraph()
	id, _ := g.AddPass(PassRender, 0, nil)
	p, _ := g.Pass(id)
	p.Consume(0, AccessAttachmentWrite, AspectRange{Aspects: AspectColor}, ViewDescription{})

	NewAnalyzer(reg, g).Analyze()
	NewResolver(reg, g).Resolve()

	backend := newFakeBuilderBackend()
	builder := NewBuilder(reg, g, backend)

	if err := builder.Warmup(id); err != nil {
		t.Fatalf("Warmup: %v", err)
	}
	if err := builder.Build(id); err != nil {
		t.Fatalf("Build: %v", err)
	}
	p, _ = g.Pass(id)
	if p.Built {
		t.Fatalf("expected build to quietly skip a zero-dimension framebuffer")
	}
	if g.State() != GraphValidated {
		t.Fatalf("expected graph to remain Validated after a quiet build skip")
	}
}

func TestBuilder_WindowChainBuildsPerSwapchainImage(t *testing.T) {
	reg := NewRegistry()
	win := &fakeWindow{w: 640, h: 480, images: 3}
	if err := reg.AttachWindow(0, win); err != nil {
		t.Fatalf("AttachWindow: %v", err)
	}

	g := NewGraph()
	id, _ := g.AddPass(PassRender, 0, nil)
	p, _ := g.Pass(id)
	p.Consume(0, AccessAttachmentWrite, AspectRange{Aspects: AspectColor}, ViewDescription{})

	NewAnalyzer(reg, g).Analyze()
	NewResolver(reg, g).Resolve()

	backend := newFakeBuilderBackend()
	builder := NewBuilder(reg, g, backend)

	if err := builder.Warmup(id); err != nil {
		t.Fatalf("Warmup: %v", err)
	}
	if err := builder.Build(id); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if backend.framebuffers != 3 {
		t.Fatalf("expected one framebuffer per swapchain image (3), got %d", backend.framebuffers)
	}
}
