package graph

import "testing"

func TestCompactStageRegions_Scenario4(t *testing.T) {
	// Concrete scenario 4: writes at {0..100, 200..300, 400..500}
	// compact to stage offsets {0, 100, 200}, total size 300.
	regions := []RegionRequest{
		{ResourceOffset: 0, Size: 100},
		{ResourceOffset: 200, Size: 100},
		{ResourceOffset: 400, Size: 100},
	}
	out, total := CompactStageRegions(regions)
	want := []uint64{0, 100, 200}
	for i, r := range out {
		if r.StagingOffset != want[i] {
			t.Fatalf("region %d: expected offset %d, got %d", i, want[i], r.StagingOffset)
		}
		if r.Size != 100 {
			t.Fatalf("region %d: expected size 100, got %d", i, r.Size)
		}
	}
	if total != 300 {
		t.Fatalf("expected total 300, got %d", total)
	}
}

func TestCompactStageRegions_AdjacentRegionsNoGap(t *testing.T) {
	regions := []RegionRequest{
		{ResourceOffset: 1000, Size: 50},
		{ResourceOffset: 1050, Size: 50},
	}
	out, total := CompactStageRegions(regions)
	if out[0].StagingOffset != 0 || out[1].StagingOffset != 50 {
		t.Fatalf("expected compacted offsets 0,50, got %d,%d", out[0].StagingOffset, out[1].StagingOffset)
	}
	if total != 100 {
		t.Fatalf("expected total 100, got %d", total)
	}
}

func TestCompactStageRegions_PreservesInputOrder(t *testing.T) {
	// Input not pre-sorted by offset; output must still line up
	// positionally with the input slice.
	regions := []RegionRequest{
		{ResourceOffset: 400, Size: 100},
		{ResourceOffset: 0, Size: 100},
		{ResourceOffset: 200, Size: 100},
	}
	out, total := CompactStageRegions(regions)
	if out[1].StagingOffset != 0 {
		t.Fatalf("expected input[1] (offset 0) to compact to stage offset 0, got %d", out[1].StagingOffset)
	}
	if out[0].StagingOffset != 200 {
		t.Fatalf("expected input[0] (offset 400) to compact to stage offset 200, got %d", out[0].StagingOffset)
	}
	if total != 300 {
		t.Fatalf("expected total 300, got %d", total)
	}
}

func TestCompactStageRegions_OffsetsWithinTotal(t *testing.T) {
	regions := []RegionRequest{
		{ResourceOffset: 10, Size: 10},
		{ResourceOffset: 1000, Size: 20},
		{ResourceOffset: 5000, Size: 5},
	}
	out, total := CompactStageRegions(regions)
	for _, r := range out {
		if r.StagingOffset+r.Size > total {
			t.Fatalf("region end %d exceeds total %d", r.StagingOffset+r.Size, total)
		}
	}
}

func TestRegionByteSize_Uncompressed(t *testing.T) {
	f := Format{Name: "rgba8", BytesPerTexel: 4}
	got := RegionByteSize(f, 64, 64, 1, 1)
	want := uint64(64 * 64 * 4)
	if got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestRegionByteSize_BlockCompressed(t *testing.T) {
	// BC-style 4x4 blocks, 16 bytes/block, 64x64 image -> 16x16 blocks.
	f := Format{Name: "bc7", Compressed: true, BlockWidth: 4, BlockHeight: 4, BytesPerTexel: 16}
	got := RegionByteSize(f, 64, 64, 1, 1)
	want := uint64(16 * 16 * 16)
	if got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

// fakeTransferBackend is a minimal in-memory TransferBackend for
// testing the claim/recycle/flush cycle without a real device.
type fakeTransferBackend struct {
	cbs       int
	fences    int
	submitted int
	signaled  map[interface{}]bool
}

func newFakeTransferBackend() *fakeTransferBackend {
	return &fakeTransferBackend{signaled: make(map[interface{}]bool)}
}

func (f *fakeTransferBackend) AllocCommandBuffer(kind PoolKind) (interface{}, error) {
	f.cbs++
	return f.cbs, nil
}
func (f *fakeTransferBackend) ResetCommandBuffer(cb interface{}) error { return nil }
func (f *fakeTransferBackend) BeginOneTimeSubmit(cb interface{}) error { return nil }
func (f *fakeTransferBackend) EndCommandBuffer(cb interface{}) error   { return nil }

func (f *fakeTransferBackend) AllocFence() (interface{}, error) {
	f.fences++
	id := f.fences
	f.signaled[id] = false
	return id, nil
}
func (f *fakeTransferBackend) ResetFence(fence interface{}) error {
	f.signaled[fence] = false
	return nil
}
func (f *fakeTransferBackend) FenceSignaled(fence interface{}) (bool, error) {
	return f.signaled[fence], nil
}
func (f *fakeTransferBackend) WaitFence(fence interface{}) error {
	f.signaled[fence] = true
	return nil
}

func (f *fakeTransferBackend) Submit(kind PoolKind, cb interface{}, fence interface{}, waits, signals []interface{}) error {
	f.submitted++
	f.signaled[fence] = true
	return nil
}

func (f *fakeTransferBackend) AllocStaging(size uint64, usage StagingUsage) (*StagingBuffer, error) {
	return &StagingBuffer{Handle: make([]byte, size), Size: size}, nil
}
func (f *fakeTransferBackend) FreeStaging(s *StagingBuffer) {}
func (f *fakeTransferBackend) MapStaging(s *StagingBuffer) ([]byte, error) {
	return s.Handle.([]byte), nil
}
func (f *fakeTransferBackend) MapHostVisible(ref TransferRef) ([]byte, error) {
	return ref.Handle.([]byte), nil
}
func (f *fakeTransferBackend) Unmap(ref TransferRef) {}

func (f *fakeTransferBackend) RecordCopy(cb interface{}, src, dst TransferRef, regions []StageRegion) error {
	srcBytes, srcIsBytes := src.Handle.([]byte)
	dstBytes, dstIsBytes := dst.Handle.([]byte)
	if !srcIsBytes || !dstIsBytes {
		return nil
	}
	for _, r := range regions {
		copy(dstBytes[r.StagingOffset:r.StagingOffset+r.Size], srcBytes[r.StagingOffset:r.StagingOffset+r.Size])
	}
	return nil
}

func TestTransferEngine_WriteThenReadRoundTrip(t *testing.T) {
	backend := newFakeTransferBackend()
	pool := NewTransferPool(PoolGraphics, backend)
	engine := NewTransferEngine(pool, pool)

	dstData := make([]byte, 64)
	dst := TransferRef{Kind: RefBuffer, Handle: dstData, HasHeap: true}

	src := []byte("hello, render graph transfer engine!!!!")
	regions := []RegionRequest{{ResourceOffset: 0, Size: uint64(len(src))}}

	if err := engine.Write(PoolGraphics, src, dst, FlagBlock, regions, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}

	out := make([]byte, len(src))
	srcRef := TransferRef{Kind: RefBuffer, Handle: dstData, HasHeap: true}
	if err := engine.Read(PoolGraphics, srcRef, out, regions, nil); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(out) != string(src) {
		t.Fatalf("round trip mismatch: got %q want %q", out, src)
	}
}

func TestTransferEngine_CopyRequiresHeap(t *testing.T) {
	backend := newFakeTransferBackend()
	pool := NewTransferPool(PoolGraphics, backend)
	engine := NewTransferEngine(pool, pool)

	src := TransferRef{Kind: RefBuffer, HasHeap: false}
	dst := TransferRef{Kind: RefBuffer, HasHeap: false}

	err := engine.Copy(PoolGraphics, src, dst, FlagBlock, nil, nil)
	if err == nil || !IsKind(err, KindOutOfMemory) {
		t.Fatalf("expected KindOutOfMemory, got %v", err)
	}
}

func TestTransferPool_RecyclesSignaledFront(t *testing.T) {
	backend := newFakeTransferBackend()
	pool := NewTransferPool(PoolGraphics, backend)

	op1, err := pool.claim()
	if err != nil {
		t.Fatalf("claim 1: %v", err)
	}
	if err := pool.flush(op1); err != nil {
		t.Fatalf("flush 1: %v", err)
	}
	backend.signaled[op1.fence] = true

	op2, err := pool.claim()
	if err != nil {
		t.Fatalf("claim 2: %v", err)
	}
	if op2.cb != op1.cb || op2.fence != op1.fence {
		t.Fatalf("expected recycled command buffer/fence, got fresh ones")
	}
}
