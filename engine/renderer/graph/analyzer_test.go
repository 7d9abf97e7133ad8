package graph

import "testing"

// setupChainFixture builds two render passes: A writes attachment 0 as
// color (512x512), B (parented to A) reads 0 as input and writes
// attachment 1 as color (both 512x512). Mirrors concrete scenario 1.
func setupChainFixture(t *testing.T) (*Registry, *Graph, PassIndex, PassIndex) {
	t.Helper()
	reg := NewRegistry()
	if err := reg.Describe(0, ImageDescription{SizeMode: SizeAbsolute, Width: 512, Height: 512, Depth: 1, Format: Format{Name: "rgba8"}}); err != nil {
		t.Fatalf("Describe 0: %v", err)
	}
	if err := reg.Describe(1, ImageDescription{SizeMode: SizeAbsolute, Width: 512, Height: 512, Depth: 1, Format: Format{Name: "rgba8"}}); err != nil {
		t.Fatalf("Describe 1: %v", err)
	}
	if _, err := reg.ResolveSizes(); err != nil {
		t.Fatalf("ResolveSizes: %v", err)
	}

	g := NewGraph()
	a, _ := g.AddPass(PassRender, 0, nil)
	b, _ := g.AddPass(PassRender, 0, []PassIndex{a})

	pa, _ := g.Pass(a)
	pa.Consume(0, AccessAttachmentWrite, AspectRange{Aspects: AspectColor}, ViewDescription{})

	pb, _ := g.Pass(b)
	pb.Consume(0, AccessAttachmentInput, AspectRange{Aspects: AspectColor}, ViewDescription{})
	pb.Consume(1, AccessAttachmentWrite, AspectRange{Aspects: AspectColor}, ViewDescription{})

	return reg, g, a, b
}

func TestAnalyzer_MergesCompatibleChain(t *testing.T) {
	reg, g, a, b := setupChainFixture(t)
	NewAnalyzer(reg, g).Analyze()

	pa, _ := g.Pass(a)
	pb, _ := g.Pass(b)

	if !pb.HasMaster || pb.Master != a {
		t.Fatalf("expected b merged into a's chain, got HasMaster=%v Master=%d", pb.HasMaster, pb.Master)
	}
	if pb.Subpass != 1 {
		t.Fatalf("expected subpass 1, got %d", pb.Subpass)
	}
	if pa.Subpasses != 2 {
		t.Fatalf("expected master.Subpasses == chain length (2), got %d", pa.Subpasses)
	}
}

func TestAnalyzer_RejectsMergeWhenBothClear(t *testing.T) {
	reg, g, a, b := setupChainFixture(t)
	pa, _ := g.Pass(a)
	pa.Consumptions[0].Clear = ClearPolicy{ClearColor: true}
	pb, _ := g.Pass(b)
	pb.Consumptions[0].Clear = ClearPolicy{ClearColor: true}

	NewAnalyzer(reg, g).Analyze()

	pb, _ = g.Pass(b)
	if pb.HasMaster {
		t.Fatalf("expected chain of length 1 each, but b merged into a's chain")
	}
}

func TestAnalyzer_AllowsMergeWhenOnlyMasterClears(t *testing.T) {
	reg, g, a, b := setupChainFixture(t)
	pa, _ := g.Pass(a)
	pa.Consumptions[0].Clear = ClearPolicy{ClearColor: true}

	NewAnalyzer(reg, g).Analyze()

	pb, _ := g.Pass(b)
	if !pb.HasMaster {
		t.Fatalf("expected merge to succeed when only the master clears")
	}
}

func TestAnalyzer_SelectsWindowBacking(t *testing.T) {
	reg := NewRegistry()
	win := &fakeWindow{w: 800, h: 600, images: 2}
	if err := reg.AttachWindow(0, win); err != nil {
		t.Fatalf("AttachWindow: %v", err)
	}
	g := NewGraph()
	id, _ := g.AddPass(PassRender, 0, nil)
	p, _ := g.Pass(id)
	p.Consume(0, AccessAttachmentWrite, AspectRange{Aspects: AspectColor}, ViewDescription{})

	NewAnalyzer(reg, g).Analyze()

	p, _ = g.Pass(id)
	if !p.HasBackingWindow || p.BackingWindow != 0 {
		t.Fatalf("expected backing window 0, got HasBackingWindow=%v BackingWindow=%d", p.HasBackingWindow, p.BackingWindow)
	}
}
