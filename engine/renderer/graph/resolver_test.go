package graph

import "testing"

func TestResolver_ChainedConsumptionsLayoutContinuity(t *testing.T) {
	reg, g, a, b := setupChainFixture(t)
	NewAnalyzer(reg, g).Analyze()
	NewResolver(reg, g).Resolve()

	pa, _ := g.Pass(a)
	pb, _ := g.Pass(b)

	ca := pa.Consumptions[0]
	cb := pb.Consumptions[0]

	if ca.FinalLayout != cb.InitialLayout {
		t.Fatalf("expected prev.final == cur.initial, got final=%v initial=%v", ca.FinalLayout, cb.InitialLayout)
	}
	if ca.Next != cb {
		t.Fatalf("expected prev.Next to point at the chained consumption")
	}
	if g.State() != GraphValidated {
		t.Fatalf("expected graph Validated after Resolve")
	}
}

func TestResolver_WindowFinalLayoutIsPresentSrc(t *testing.T) {
	reg := NewRegistry()
	win := &fakeWindow{w: 640, h: 480, images: 2}
	if err := reg.AttachWindow(0, win); err != nil {
		t.Fatalf("AttachWindow: %v", err)
	}
	g := NewGraph()
	id, _ := g.AddPass(PassRender, 0, nil)
	p, _ := g.Pass(id)
	c := p.Consume(0, AccessAttachmentWrite, AspectRange{Aspects: AspectColor}, ViewDescription{})

	NewAnalyzer(reg, g).Analyze()
	NewResolver(reg, g).Resolve()

	if c.FinalLayout != LayoutPresentSrc {
		t.Fatalf("expected PresentSrc, got %v", c.FinalLayout)
	}
}

func TestResolver_SubmissionOrderInvariant(t *testing.T) {
	reg, g, a, b := setupChainFixture(t)
	NewAnalyzer(reg, g).Analyze()
	NewResolver(reg, g).Resolve()

	pa, _ := g.Pass(a)
	pb, _ := g.Pass(b)
	if !(pa.Order < pb.Order) {
		t.Fatalf("expected parent.Order < child.Order, got %d, %d", pa.Order, pb.Order)
	}
}

func TestResolver_NoBarrierWhenReadOnlyAndLayoutUnchanged(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Describe(0, ImageDescription{SizeMode: SizeAbsolute, Width: 64, Height: 64, Depth: 1}); err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if _, err := reg.ResolveSizes(); err != nil {
		t.Fatalf("ResolveSizes: %v", err)
	}
	g := NewGraph()
	a, _ := g.AddPass(PassRender, 0, nil)
	b, _ := g.AddPass(PassRender, 0, []PassIndex{a})

	pa, _ := g.Pass(a)
	pa.Consume(0, AccessAttachmentRead, AspectRange{Aspects: AspectColor}, ViewDescription{})
	pb, _ := g.Pass(b)
	pb.Consume(0, AccessAttachmentRead, AspectRange{Aspects: AspectColor}, ViewDescription{})

	NewAnalyzer(reg, g).Analyze()
	NewResolver(reg, g).Resolve()

	cb := pb.Consumptions[0]
	if cb.Barrier {
		t.Fatalf("expected no barrier between two reads at the same layout")
	}
}
