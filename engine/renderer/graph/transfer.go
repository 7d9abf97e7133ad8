package graph

import (
	"sort"
	"sync"

	"github.com/forgelit/rendergraph/engine/core"
)

// PoolKind names the two per-heap transfer pools of spec.md §4.F:
// Graphics (shared with the graphics queue) and Transfer (a dedicated
// transfer queue, when the device exposes one).
type PoolKind int

const (
	PoolGraphics PoolKind = iota
	PoolTransfer
)

// TransferFlags carries the caller's blocking/flush intent for a
// read/write/copy call (spec.md §4.F's "Blocking semantics").
type TransferFlags uint8

const (
	// FlagBlock forces a host wait on the operation's fence after the
	// submission mutex is released.
	FlagBlock TransferFlags = 1 << iota
	// FlagFlush forces submission without blocking.
	FlagFlush
)

// RefKind tags a TransferRef as addressing a buffer or an image.
type RefKind int

const (
	RefBuffer RefKind = iota
	RefImage
)

// TransferRef is the backend-agnostic handle a transfer call reads
// from or writes to: a buffer or image, with the memory-flag and
// concurrency facts the engine needs to pick a path.
type TransferRef struct {
	Kind    RefKind
	Handle  interface{}
	HasHeap bool

	HostVisible     bool
	AsyncConcurrent bool

	// Image-only sizing, used by RegionByteSize.
	Format               Format
	Width, Height, Depth uint32
	Layers               uint32
}

// RegionRequest is one source/destination byte range expressed in true
// bytes (already expanded for image block-size/aspect/layer semantics
// via RegionByteSize, when the ref is an image).
type RegionRequest struct {
	ResourceOffset uint64
	Size           uint64
}

// RegionByteSize computes the true byte size of a width/height/depth/
// layers extent against format, accounting for block-compressed
// formats (spec.md §4.F stage-region compaction).
func RegionByteSize(format Format, width, height, depth, layers uint32) uint64 {
	bw, bh := format.BlockWidth, format.BlockHeight
	if bw == 0 {
		bw = 1
	}
	if bh == 0 {
		bh = 1
	}
	blocksX := uint64((width + bw - 1) / bw)
	blocksY := uint64((height + bh - 1) / bh)
	return blocksX * blocksY * uint64(depth) * uint64(layers) * uint64(format.BytesPerTexel)
}

// StageRegion is one compacted staging-buffer region: an output offset
// paired with the input region's size.
type StageRegion struct {
	StagingOffset uint64
	Size          uint64
}

// CompactStageRegions implements spec.md §4.F's stage-region
// compaction: sorts regions by resource offset, subtracts the lowest
// offset plus the cumulative gap between disjoint ranges, and returns a same-count,
// input-order-preserving region list whose offsets land in
// [0, total size), along with that total size.
func CompactStageRegions(regions []RegionRequest) ([]StageRegion, uint64) {
	type indexed struct {
		originalIndex int
		req           RegionRequest
	}
	sorted := make([]indexed, len(regions))
	for i, r := range regions {
		sorted[i] = indexed{i, r}
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].req.ResourceOffset < sorted[j].req.ResourceOffset
	})

	out := make([]StageRegion, len(regions))
	var prevEnd, cumulative, total uint64
	for i, s := range sorted {
		if i == 0 {
			cumulative = s.req.ResourceOffset
		} else {
			cumulative += s.req.ResourceOffset - prevEnd
		}
		stageOffset := s.req.ResourceOffset - cumulative
		out[s.originalIndex] = StageRegion{StagingOffset: stageOffset, Size: s.req.Size}
		prevEnd = s.req.ResourceOffset + s.req.Size
		if end := stageOffset + s.req.Size; end > total {
			total = end
		}
	}
	return out, total
}

// StagingUsage distinguishes a staging buffer bound for an upload
// (transfer-src, read by the device) from one bound for a readback
// (transfer-dst, written by the device).
type StagingUsage int

const (
	StagingUpload StagingUsage = iota
	StagingReadback
)

// StagingBuffer is an opaque host-visible allocation backing one
// in-flight transfer; Handle is stashed by the backend.
type StagingBuffer struct {
	Handle interface{}
	Size   uint64
}

// Injection is the dependency-object collaborator's accumulated
// wait/signal set for one transfer operation (spec.md §6, "Dependency
// objects": catch/prepare/finish/abort).
type Injection struct {
	Waits   []interface{}
	Signals []interface{}
}

// DependencyObject is the external synchronization collaborator a
// caller may pass into read/write/copy so a transfer can be ordered
// against other GPU work without the transfer engine knowing what that
// work is.
type DependencyObject interface {
	Catch(inj *Injection)
	Prepare(inj *Injection)
	Finish(inj *Injection)
	Abort(inj *Injection)
}

// TransferBackend is the native-object half of the Transfer Engine,
// implemented by engine/renderer/vulkan.
type TransferBackend interface {
	AllocCommandBuffer(kind PoolKind) (interface{}, error)
	ResetCommandBuffer(cb interface{}) error
	BeginOneTimeSubmit(cb interface{}) error
	EndCommandBuffer(cb interface{}) error

	AllocFence() (interface{}, error)
	ResetFence(fence interface{}) error
	FenceSignaled(fence interface{}) (bool, error)
	WaitFence(fence interface{}) error

	Submit(kind PoolKind, cb interface{}, fence interface{}, waits, signals []interface{}) error

	AllocStaging(size uint64, usage StagingUsage) (*StagingBuffer, error)
	FreeStaging(s *StagingBuffer)
	MapStaging(s *StagingBuffer) ([]byte, error)
	MapHostVisible(ref TransferRef) ([]byte, error)
	Unmap(ref TransferRef)

	// RecordCopy emits the right copy variant (buffer-buffer,
	// image-image, buffer-image or image-buffer) for src/dst, with
	// format-block conversion when mixing compressed and uncompressed
	// images.
	RecordCopy(cb interface{}, src, dst TransferRef, regions []StageRegion) error
}

// transferOp is one record in a pool's deque: an in-flight or
// recyclable command buffer/fence pair.
type transferOp struct {
	cb       interface{}
	fence    interface{}
	flushed  bool
	stagings []*StagingBuffer
	inj      *Injection
	deps     []DependencyObject
}

// TransferPool is one per-heap, per-queue transfer context (spec.md
// §4.F): a command pool, a deque of transfer-operation records, a
// mutex, a blocking-reference counter, and an accumulating dependency
// list.
type TransferPool struct {
	Kind    PoolKind
	Backend TransferBackend

	mu       sync.Mutex
	ops      []*transferOp
	blocking int
}

// NewTransferPool creates an empty pool bound to kind and backend.
func NewTransferPool(kind PoolKind, backend TransferBackend) *TransferPool {
	return &TransferPool{Kind: kind, Backend: backend}
}

// claim implements spec.md §4.F's "Claim transfer" algorithm under the
// pool mutex: reuse the tail if it is still accumulating, else recycle
// the front if it is idle and the blocking counter is zero, else
// allocate fresh.
func (p *TransferPool) claim() (*transferOp, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(p.ops); n > 0 {
		tail := p.ops[n-1]
		if !tail.flushed {
			return tail, nil
		}
	}

	if len(p.ops) > 0 && p.blocking == 0 {
		front := p.ops[0]
		signaled, err := p.Backend.FenceSignaled(front.fence)
		if err == nil && signaled {
			p.ops = p.ops[1:]
			for _, s := range front.stagings {
				p.Backend.FreeStaging(s)
			}
			if err := p.Backend.ResetFence(front.fence); err != nil {
				return nil, newError("claim", KindBuildFailed, err)
			}
			if err := p.Backend.ResetCommandBuffer(front.cb); err != nil {
				return nil, newError("claim", KindBuildFailed, err)
			}
			op := &transferOp{cb: front.cb, fence: front.fence, inj: &Injection{}}
			if err := p.Backend.BeginOneTimeSubmit(op.cb); err != nil {
				return nil, newError("claim", KindBuildFailed, err)
			}
			p.ops = append(p.ops, op)
			return op, nil
		}
	}

	cb, err := p.Backend.AllocCommandBuffer(p.Kind)
	if err != nil {
		return nil, newError("claim", KindOutOfMemory, err)
	}
	fence, err := p.Backend.AllocFence()
	if err != nil {
		return nil, newError("claim", KindOutOfMemory, err)
	}
	if err := p.Backend.BeginOneTimeSubmit(cb); err != nil {
		return nil, newError("claim", KindBuildFailed, err)
	}
	op := &transferOp{cb: cb, fence: fence, inj: &Injection{}}
	p.ops = append(p.ops, op)
	return op, nil
}

func (p *TransferPool) inject(op *transferOp, deps []DependencyObject) {
	op.deps = append(op.deps, deps...)
	for _, d := range deps {
		d.Catch(op.inj)
	}
}

func (p *TransferPool) prepare(op *transferOp) {
	for _, d := range op.deps {
		d.Prepare(op.inj)
	}
}

// flush implements spec.md §4.F's "Flush" algorithm: end the command
// buffer, submit under the queue mutex with the injection's collected
// waits/signals, mark the transfer flushed, and finalize the
// dependency list.
func (p *TransferPool) flush(op *transferOp) error {
	if op.flushed {
		return nil
	}
	if err := p.Backend.EndCommandBuffer(op.cb); err != nil {
		p.abort(op)
		return newError("flush", KindSubmitFailed, err)
	}

	p.mu.Lock()
	err := p.Backend.Submit(p.Kind, op.cb, op.fence, op.inj.Waits, op.inj.Signals)
	p.mu.Unlock()

	if err != nil {
		p.abort(op)
		return newError("flush", KindSubmitFailed, err)
	}

	op.flushed = true
	for _, d := range op.deps {
		d.Finish(op.inj)
	}
	return nil
}

// abort rolls back the current unflushed transfer: its staging buffers
// are freed and its dependency injections are rolled back, matching
// spec.md §5's cancellation policy.
func (p *TransferPool) abort(op *transferOp) {
	for _, d := range op.deps {
		d.Abort(op.inj)
	}
	for _, s := range op.stagings {
		p.Backend.FreeStaging(s)
	}
	op.stagings = nil

	p.mu.Lock()
	defer p.mu.Unlock()
	for i, o := range p.ops {
		if o == op {
			p.ops = append(p.ops[:i], p.ops[i+1:]...)
			break
		}
	}
}

func (p *TransferPool) beginBlock() {
	p.mu.Lock()
	p.blocking++
	p.mu.Unlock()
}

func (p *TransferPool) endBlock() {
	p.mu.Lock()
	p.blocking--
	p.mu.Unlock()
}

// Flush submits the pool's current tail transfer, if any and not
// already flushed.
func (p *TransferPool) Flush() error {
	p.mu.Lock()
	var op *transferOp
	if n := len(p.ops); n > 0 && !p.ops[n-1].flushed {
		op = p.ops[n-1]
	}
	p.mu.Unlock()
	if op == nil {
		return nil
	}
	return p.flush(op)
}

// TransferEngine is the Transfer Engine, component F of spec.md §4: two
// per-heap pools (Graphics, and Transfer when the device exposes a
// dedicated transfer queue) exposing read/write/copy/flush.
type TransferEngine struct {
	Graphics *TransferPool
	Transfer *TransferPool
}

// NewTransferEngine binds an engine to its two pools. Pass the same
// backend to both when the device has no dedicated transfer queue;
// Transfer then behaves identically to Graphics.
func NewTransferEngine(graphics, transfer *TransferPool) *TransferEngine {
	return &TransferEngine{Graphics: graphics, Transfer: transfer}
}

func (e *TransferEngine) pool(kind PoolKind) *TransferPool {
	if kind == PoolTransfer && e.Transfer != nil {
		return e.Transfer
	}
	return e.Graphics
}

// Read implements spec.md §4.F's Read: always blocks. A host-visible
// source is mapped directly, skipping staging; an unmappable source is
// staged through a device copy.
func (e *TransferEngine) Read(kind PoolKind, src TransferRef, dst []byte, regions []RegionRequest, deps []DependencyObject) error {
	pool := e.pool(kind)

	if src.HostVisible {
		if len(deps) > 0 {
			core.LogWarn("transfer read: dependencies cannot be honored by a direct host map")
		}
		mapped, err := pool.Backend.MapHostVisible(src)
		if err != nil {
			return newError("Read", KindBuildFailed, err)
		}
		defer pool.Backend.Unmap(src)
		for _, r := range regions {
			copy(dst[r.ResourceOffset:r.ResourceOffset+r.Size], mapped[r.ResourceOffset:r.ResourceOffset+r.Size])
		}
		return nil
	}

	stageRegions, total := CompactStageRegions(regions)
	staging, err := pool.Backend.AllocStaging(total, StagingReadback)
	if err != nil {
		return newError("Read", KindOutOfMemory, err)
	}

	op, err := pool.claim()
	if err != nil {
		pool.Backend.FreeStaging(staging)
		return err
	}
	pool.inject(op, deps)

	stagingRef := TransferRef{Kind: RefBuffer, Handle: staging.Handle, HasHeap: true}
	if err := pool.Backend.RecordCopy(op.cb, src, stagingRef, stageRegions); err != nil {
		pool.abort(op)
		pool.Backend.FreeStaging(staging)
		return newError("Read", KindBuildFailed, err)
	}
	op.stagings = append(op.stagings, staging)
	pool.prepare(op)

	if err := pool.flush(op); err != nil {
		return err
	}

	pool.beginBlock()
	err = pool.Backend.WaitFence(op.fence)
	pool.endBlock()
	if err != nil {
		return newError("Read", KindFatal, err)
	}

	mem, err := pool.Backend.MapStaging(staging)
	if err != nil {
		return newError("Read", KindBuildFailed, err)
	}
	for i, r := range regions {
		sr := stageRegions[i]
		copy(dst[r.ResourceOffset:r.ResourceOffset+r.Size], mem[sr.StagingOffset:sr.StagingOffset+sr.Size])
	}
	return nil
}

// Write implements spec.md §4.F's Write: symmetric with Read, with a
// transfer-src staging buffer. The staging buffer's lifetime becomes
// the enclosing transfer operation when deferred, and is freed
// immediately when the caller forces a block.
func (e *TransferEngine) Write(kind PoolKind, src []byte, dst TransferRef, flags TransferFlags, regions []RegionRequest, deps []DependencyObject) error {
	pool := e.pool(kind)

	if dst.HostVisible {
		mapped, err := pool.Backend.MapHostVisible(dst)
		if err != nil {
			return newError("Write", KindBuildFailed, err)
		}
		for _, r := range regions {
			copy(mapped[r.ResourceOffset:r.ResourceOffset+r.Size], src[r.ResourceOffset:r.ResourceOffset+r.Size])
		}
		pool.Backend.Unmap(dst)
		return nil
	}

	stageRegions, total := CompactStageRegions(regions)
	staging, err := pool.Backend.AllocStaging(total, StagingUpload)
	if err != nil {
		return newError("Write", KindOutOfMemory, err)
	}

	mem, err := pool.Backend.MapStaging(staging)
	if err != nil {
		pool.Backend.FreeStaging(staging)
		return newError("Write", KindBuildFailed, err)
	}
	for i, r := range regions {
		sr := stageRegions[i]
		copy(mem[sr.StagingOffset:sr.StagingOffset+sr.Size], src[r.ResourceOffset:r.ResourceOffset+r.Size])
	}

	op, err := pool.claim()
	if err != nil {
		pool.Backend.FreeStaging(staging)
		return err
	}
	pool.inject(op, deps)

	stagingRef := TransferRef{Kind: RefBuffer, Handle: staging.Handle, HasHeap: true}
	if err := pool.Backend.RecordCopy(op.cb, stagingRef, dst, stageRegions); err != nil {
		pool.abort(op)
		pool.Backend.FreeStaging(staging)
		return newError("Write", KindBuildFailed, err)
	}
	op.stagings = append(op.stagings, staging)
	pool.prepare(op)

	return e.finishSubmit(pool, op, staging, flags)
}

// Copy implements spec.md §4.F's Copy: at least one of the two refs
// must carry a heap;
// asynchronous concurrent access is checked and only warned about, not
// rejected.
func (e *TransferEngine) Copy(kind PoolKind, src, dst TransferRef, flags TransferFlags, regions []RegionRequest, deps []DependencyObject) error {
	if !src.HasHeap && !dst.HasHeap {
		return newError("Copy", KindOutOfMemory, ErrNoHeap)
	}
	if (src.AsyncConcurrent || dst.AsyncConcurrent) && !(src.AsyncConcurrent && dst.AsyncConcurrent) {
		core.LogWarn("transfer copy: asynchronous concurrent flags mismatched between source and destination")
	}

	pool := e.pool(kind)
	op, err := pool.claim()
	if err != nil {
		return err
	}
	pool.inject(op, deps)

	if err := pool.Backend.RecordCopy(op.cb, src, dst, regionsToStage(regions)); err != nil {
		pool.abort(op)
		return newError("Copy", KindBuildFailed, err)
	}
	pool.prepare(op)

	return e.finishSubmit(pool, op, nil, flags)
}

// regionsToStage treats a direct device-to-device copy's regions as
// already-compacted (no staging buffer sits between the two sides).
func regionsToStage(regions []RegionRequest) []StageRegion {
	out := make([]StageRegion, len(regions))
	for i, r := range regions {
		out[i] = StageRegion{StagingOffset: r.ResourceOffset, Size: r.Size}
	}
	return out
}

// finishSubmit applies the three-way blocking/flush/defer policy
// common to Write and Copy.
func (e *TransferEngine) finishSubmit(pool *TransferPool, op *transferOp, staging *StagingBuffer, flags TransferFlags) error {
	switch {
	case flags&FlagBlock != 0:
		if err := pool.flush(op); err != nil {
			return err
		}
		pool.beginBlock()
		err := pool.Backend.WaitFence(op.fence)
		pool.endBlock()
		if staging != nil {
			pool.Backend.FreeStaging(staging)
			op.stagings = nil
		}
		if err != nil {
			return newError("finishSubmit", KindFatal, err)
		}
		return nil
	case flags&FlagFlush != 0:
		return pool.flush(op)
	default:
		// Deferred: the staging buffer (if any) is already attached to
		// op.stagings and survives until the pool recycles this op.
		return nil
	}
}
