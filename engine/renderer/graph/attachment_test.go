package graph

import "testing"

func TestRegistry_DescribeRejectsInvalidTransientCombo(t *testing.T) {
	r := NewRegistry()
	err := r.Describe(0, ImageDescription{
		SizeMode:    SizeAbsolute,
		Width:       128,
		Height:      128,
		Depth:       1,
		Transient:   true,
		MemoryFlags: MemoryDeviceLocal | MemoryHostVisible,
	})
	if !IsKind(err, KindFormatUnsupported) {
		t.Fatalf("expected KindFormatUnsupported, got %v", err)
	}
}

func TestRegistry_AbsoluteResolve(t *testing.T) {
	r := NewRegistry()
	if err := r.Describe(0, ImageDescription{SizeMode: SizeAbsolute, Width: 512, Height: 512, Depth: 1}); err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if _, err := r.ResolveSizes(); err != nil {
		t.Fatalf("ResolveSizes: %v", err)
	}
	w, h, d, ok := r.Get(0).Dims()
	if !ok || w != 512 || h != 512 || d != 1 {
		t.Fatalf("got dims %d %d %d ok=%v", w, h, d, ok)
	}
}

func TestRegistry_RelativeResolve(t *testing.T) {
	// Concrete scenario 3: window 800x600, relative attachment scaled
	// (0.5, 0.5, 1.0) resolves to 400x300x1.
	r := NewRegistry()
	win := &fakeWindow{w: 800, h: 600, images: 2}
	if err := r.AttachWindow(0, win); err != nil {
		t.Fatalf("AttachWindow: %v", err)
	}
	if err := r.Describe(1, ImageDescription{
		SizeMode:   SizeRelative,
		RelativeTo: 0,
		ScaleX:     0.5, ScaleY: 0.5, ScaleZ: 1.0,
		Depth: 1,
	}); err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if _, err := r.ResolveSizes(); err != nil {
		t.Fatalf("ResolveSizes: %v", err)
	}
	w, h, d, ok := r.Get(1).Dims()
	if !ok || w != 400 || h != 300 || d != 1 {
		t.Fatalf("got dims %d %d %d ok=%v", w, h, d, ok)
	}
}

func TestRegistry_UnresolvableRelativeReference(t *testing.T) {
	r := NewRegistry()
	if err := r.Describe(0, ImageDescription{
		SizeMode:   SizeRelative,
		RelativeTo: 7, // never described
		ScaleX:     1, ScaleY: 1, ScaleZ: 1,
	}); err != nil {
		t.Fatalf("Describe: %v", err)
	}
	unresolved, err := r.ResolveSizes()
	if err == nil || !IsKind(err, KindUnresolvedSize) {
		t.Fatalf("expected KindUnresolvedSize, got %v", err)
	}
	if len(unresolved) != 1 || unresolved[0] != 0 {
		t.Fatalf("expected [0], got %v", unresolved)
	}
	w, h, d, ok := r.Get(0).Dims()
	if ok || w != 0 || h != 0 || d != 0 {
		t.Fatalf("expected zeroed dims, got %d %d %d ok=%v", w, h, d, ok)
	}
}

func TestRegistry_AttachWindowBusy(t *testing.T) {
	r := NewRegistry()
	win := &fakeWindow{w: 100, h: 100, images: 1}
	if err := r.AttachWindow(0, win); err != nil {
		t.Fatalf("first AttachWindow: %v", err)
	}
	if err := r.AttachWindow(1, win); !IsKind(err, KindWindowBusy) {
		t.Fatalf("expected KindWindowBusy, got %v", err)
	}
}

func TestRegistry_DetachReleasesWindowLock(t *testing.T) {
	r := NewRegistry()
	win := &fakeWindow{w: 100, h: 100, images: 1}
	if err := r.AttachWindow(0, win); err != nil {
		t.Fatalf("AttachWindow: %v", err)
	}
	if err := r.Detach(0); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	if err := r.AttachWindow(1, win); err != nil {
		t.Fatalf("AttachWindow after detach: %v", err)
	}
}

// fakeWindow is a minimal graph.Window for tests.
type fakeWindow struct {
	w, h   uint32
	images uint32
	lock   SwapLock
	stale  bool
}

func (f *fakeWindow) FrameWidth() uint32          { return f.w }
func (f *fakeWindow) FrameHeight() uint32         { return f.h }
func (f *fakeWindow) ImageCount() uint32          { return f.images }
func (f *fakeWindow) RecreateRequested() bool     { return f.stale }
func (f *fakeWindow) ClearRecreateRequested()     { f.stale = false }
func (f *fakeWindow) Lock() *SwapLock             { return &f.lock }
