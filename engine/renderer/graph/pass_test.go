package graph

import "testing"

func TestGraph_AddPassLevel(t *testing.T) {
	g := NewGraph()
	a, err := g.AddPass(PassRender, 0, nil)
	if err != nil {
		t.Fatalf("AddPass a: %v", err)
	}
	pa, _ := g.Pass(a)
	if pa.Level != 0 {
		t.Fatalf("expected level 0, got %d", pa.Level)
	}

	b, err := g.AddPass(PassRender, 0, []PassIndex{a})
	if err != nil {
		t.Fatalf("AddPass b: %v", err)
	}
	pb, _ := g.Pass(b)
	if pb.Level != 1 {
		t.Fatalf("expected level 1, got %d", pb.Level)
	}
	if pa.ChildCount != 1 {
		t.Fatalf("expected parent child count 1, got %d", pa.ChildCount)
	}
}

func TestGraph_AddPassRejectsAsyncNonAsyncMix(t *testing.T) {
	g := NewGraph()
	a, _ := g.AddPass(PassRender, 0, nil)
	_, err := g.AddPass(PassAsyncCompute, 0, []PassIndex{a})
	if !IsKind(err, KindInvalidParent) {
		t.Fatalf("expected KindInvalidParent, got %v", err)
	}
}

func TestGraph_ErasePassRejectsWithChildren(t *testing.T) {
	g := NewGraph()
	a, _ := g.AddPass(PassRender, 0, nil)
	g.AddPass(PassRender, 0, []PassIndex{a})

	if err := g.ErasePass(a); err != ErrHasChildren {
		t.Fatalf("expected ErrHasChildren, got %v", err)
	}
}

func TestGraph_ErasePassDecrementsParentChildCount(t *testing.T) {
	g := NewGraph()
	a, _ := g.AddPass(PassRender, 0, nil)
	b, _ := g.AddPass(PassRender, 0, []PassIndex{a})

	if err := g.ErasePass(b); err != nil {
		t.Fatalf("ErasePass b: %v", err)
	}
	pa, _ := g.Pass(a)
	if pa.ChildCount != 0 {
		t.Fatalf("expected 0, got %d", pa.ChildCount)
	}
	if err := g.ErasePass(a); err != nil {
		t.Fatalf("ErasePass a: %v", err)
	}
}

func TestGraph_CullUncullRoundTrip(t *testing.T) {
	g := NewGraph()
	a, _ := g.AddPass(PassRender, 1, nil)
	b, _ := g.AddPass(PassRender, 2, []PassIndex{a})

	pa, _ := g.Pass(a)
	pb, _ := g.Pass(b)
	beforeChildA := pa.ChildCount
	beforeCulledA := pa.Culled
	beforeParentsB := append([]PassIndex(nil), pb.Parents...)

	g.Cull(1)
	g.Uncull(1)

	if pa.ChildCount != beforeChildA {
		t.Fatalf("child count not restored: %d vs %d", pa.ChildCount, beforeChildA)
	}
	if pa.Culled != beforeCulledA {
		t.Fatalf("culled flag not restored")
	}
	if len(pb.Parents) != len(beforeParentsB) {
		t.Fatalf("parents changed across cull/uncull")
	}
}

func TestGraph_SubmissionOrderLevelThenInsertion(t *testing.T) {
	g := NewGraph()
	a, _ := g.AddPass(PassRender, 0, nil)
	b, _ := g.AddPass(PassRender, 0, nil)
	c, _ := g.AddPass(PassRender, 0, []PassIndex{a})

	order := g.RenderRegion()
	pos := make(map[PassIndex]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	if pos[a] >= pos[c] {
		t.Fatalf("expected a before c (lower level), got positions %v", pos)
	}
	if pos[b] >= pos[c] {
		t.Fatalf("expected b before c (lower level), got positions %v", pos)
	}
}

func TestPass_ConsumeOverwritesInPlace(t *testing.T) {
	g := NewGraph()
	id, _ := g.AddPass(PassRender, 0, nil)
	p, _ := g.Pass(id)

	c1 := p.Consume(0, AccessAttachmentWrite, AspectRange{Aspects: AspectColor}, ViewDescription{})
	c1.Clear = ClearPolicy{ClearColor: true}

	c2 := p.Consume(0, AccessAttachmentRead, AspectRange{Aspects: AspectColor}, ViewDescription{})
	if c2 != c1 {
		t.Fatalf("expected overwrite-in-place, got a new Consumption")
	}
	if !c2.Clear.Any() {
		t.Fatalf("expected clear to survive overwrite")
	}
	if c2.Access != AccessAttachmentRead {
		t.Fatalf("expected access updated, got %v", c2.Access)
	}
	if len(p.ConsumptionsInOrder()) != 1 {
		t.Fatalf("expected a single consumption after overwrite")
	}
}
