package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/forgelit/rendergraph/engine/core"
	"github.com/forgelit/rendergraph/engine/renderer/graph"
)

// graphCommandBuffer pairs a native command buffer with the pool it was
// allocated from, since Free/Reset/Submit all need the pool handle and
// graph.TransferBackend's methods only carry the opaque cb handle.
type graphCommandBuffer struct {
	cb   *VulkanCommandBuffer
	pool vk.CommandPool
}

// GraphTransferBackend implements graph.TransferBackend over the
// graphics and transfer queues, generalizing the one-shot
// allocate/begin/submit/free cycle in command_buffer.go's
// AllocateAndBeginSingleUse/EndSingleUse to the claim/recycle pool
// model of spec.md §4.F (a command buffer outlives a single submission
// so it can be reused once its fence signals).
type GraphTransferBackend struct {
	context *VulkanContext
}

// NewGraphTransferBackend builds the Transfer Engine's native backend.
func NewGraphTransferBackend(context *VulkanContext) *GraphTransferBackend {
	return &GraphTransferBackend{context: context}
}

func (b *GraphTransferBackend) poolFor(kind graph.PoolKind) (vk.CommandPool, vk.Queue) {
	if kind == graph.PoolTransfer {
		return b.context.Device.TransferCommandPool, b.context.Device.TransferQueue
	}
	return b.context.Device.GraphicsCommandPool, b.context.Device.GraphicsQueue
}

func (b *GraphTransferBackend) AllocCommandBuffer(kind graph.PoolKind) (interface{}, error) {
	pool, _ := b.poolFor(kind)
	cb, err := NewVulkanCommandBuffer(b.context, pool, true)
	if err != nil {
		return nil, err
	}
	return &graphCommandBuffer{cb: cb, pool: pool}, nil
}

func (b *GraphTransferBackend) ResetCommandBuffer(cb interface{}) error {
	gcb, ok := cb.(*graphCommandBuffer)
	if !ok {
		return fmt.Errorf("graph transfer backend: invalid command buffer handle")
	}
	gcb.cb.Reset()
	return nil
}

func (b *GraphTransferBackend) BeginOneTimeSubmit(cb interface{}) error {
	gcb, ok := cb.(*graphCommandBuffer)
	if !ok {
		return fmt.Errorf("graph transfer backend: invalid command buffer handle")
	}
	return gcb.cb.Begin(true, false, false)
}

func (b *GraphTransferBackend) EndCommandBuffer(cb interface{}) error {
	gcb, ok := cb.(*graphCommandBuffer)
	if !ok {
		return fmt.Errorf("graph transfer backend: invalid command buffer handle")
	}
	return gcb.cb.End()
}

func (b *GraphTransferBackend) AllocFence() (interface{}, error) {
	return NewFence(b.context, false)
}

func (b *GraphTransferBackend) ResetFence(fence interface{}) error {
	f, ok := fence.(*VulkanFence)
	if !ok {
		return fmt.Errorf("graph transfer backend: invalid fence handle")
	}
	return f.FenceReset(b.context)
}

func (b *GraphTransferBackend) FenceSignaled(fence interface{}) (bool, error) {
	f, ok := fence.(*VulkanFence)
	if !ok {
		return false, fmt.Errorf("graph transfer backend: invalid fence handle")
	}
	if f.IsSignaled {
		return true, nil
	}
	// Poll without blocking: wait with a zero timeout.
	signaled := f.FenceWait(b.context, 0)
	return signaled, nil
}

func (b *GraphTransferBackend) WaitFence(fence interface{}) error {
	f, ok := fence.(*VulkanFence)
	if !ok {
		return fmt.Errorf("graph transfer backend: invalid fence handle")
	}
	if !f.FenceWait(b.context, ^uint64(0)) {
		return fmt.Errorf("graph transfer backend: fence wait failed")
	}
	return nil
}

func (b *GraphTransferBackend) Submit(kind graph.PoolKind, cb interface{}, fence interface{}, waits, signals []interface{}) error {
	gcb, ok := cb.(*graphCommandBuffer)
	if !ok {
		return fmt.Errorf("graph transfer backend: invalid command buffer handle")
	}
	f, ok := fence.(*VulkanFence)
	if !ok {
		return fmt.Errorf("graph transfer backend: invalid fence handle")
	}

	waitSemaphores := make([]vk.Semaphore, 0, len(waits))
	for _, w := range waits {
		if s, ok := w.(vk.Semaphore); ok {
			waitSemaphores = append(waitSemaphores, s)
		}
	}
	signalSemaphores := make([]vk.Semaphore, 0, len(signals))
	for _, s := range signals {
		if sem, ok := s.(vk.Semaphore); ok {
			signalSemaphores = append(signalSemaphores, sem)
		}
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{gcb.cb.Handle},
	}
	if len(waitSemaphores) > 0 {
		submitInfo.WaitSemaphoreCount = uint32(len(waitSemaphores))
		submitInfo.PWaitSemaphores = waitSemaphores
	}
	if len(signalSemaphores) > 0 {
		submitInfo.SignalSemaphoreCount = uint32(len(signalSemaphores))
		submitInfo.PSignalSemaphores = signalSemaphores
	}

	_, queue := b.poolFor(kind)
	if res := vk.QueueSubmit(queue, 1, []vk.SubmitInfo{submitInfo}, f.Handle); res != vk.Success {
		err := fmt.Errorf("graph transfer backend: queue submit failed: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return err
	}
	gcb.cb.UpdateSubmitted()
	f.IsSignaled = false
	return nil
}

// GraphStagingBuffer is the native backing for one staging allocation:
// a host-visible vk.Buffer plus the memory it owns.
type GraphStagingBuffer struct {
	Handle vk.Buffer
	Memory vk.DeviceMemory
	Size   uint64
}

func (b *GraphTransferBackend) AllocStaging(size uint64, usage graph.StagingUsage) (*graph.StagingBuffer, error) {
	var bufUsage vk.BufferUsageFlags
	switch usage {
	case graph.StagingUpload:
		bufUsage = vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit)
	case graph.StagingReadback:
		bufUsage = vk.BufferUsageFlags(vk.BufferUsageTransferDstBit)
	}

	buf, mem, err := b.createBuffer(size, bufUsage, vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit)|vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		return nil, err
	}
	return &graph.StagingBuffer{Handle: &GraphStagingBuffer{Handle: buf, Memory: mem, Size: size}, Size: size}, nil
}

func (b *GraphTransferBackend) FreeStaging(s *graph.StagingBuffer) {
	gs, ok := s.Handle.(*GraphStagingBuffer)
	if !ok {
		return
	}
	if gs.Handle != nil {
		vk.DestroyBuffer(b.context.Device.LogicalDevice, gs.Handle, b.context.Allocator)
	}
	if gs.Memory != nil {
		vk.FreeMemory(b.context.Device.LogicalDevice, gs.Memory, b.context.Allocator)
	}
}

func (b *GraphTransferBackend) MapStaging(s *graph.StagingBuffer) ([]byte, error) {
	gs, ok := s.Handle.(*GraphStagingBuffer)
	if !ok {
		return nil, fmt.Errorf("graph transfer backend: invalid staging handle")
	}
	return mapDeviceMemory(b.context, gs.Memory, gs.Size)
}

func (b *GraphTransferBackend) MapHostVisible(ref graph.TransferRef) ([]byte, error) {
	buf, ok := ref.Handle.(*VulkanBuffer)
	if !ok {
		return nil, fmt.Errorf("graph transfer backend: ref is not a host-visible buffer")
	}
	return mapDeviceMemory(b.context, buf.Memory, buf.MemoryRequirements.Size)
}

func (b *GraphTransferBackend) Unmap(ref graph.TransferRef) {
	if buf, ok := ref.Handle.(*VulkanBuffer); ok {
		vk.UnmapMemory(b.context.Device.LogicalDevice, buf.Memory)
		return
	}
	if gs, ok := ref.Handle.(*GraphStagingBuffer); ok {
		vk.UnmapMemory(b.context.Device.LogicalDevice, gs.Memory)
	}
}

func mapDeviceMemory(context *VulkanContext, memory vk.DeviceMemory, size uint64) ([]byte, error) {
	var pData unsafe.Pointer
	if res := vk.MapMemory(context.Device.LogicalDevice, memory, 0, vk.DeviceSize(size), 0, &pData); res != vk.Success {
		return nil, fmt.Errorf("graph transfer backend: map memory failed: %s", VulkanResultString(res, true))
	}
	return unsafe.Slice((*byte)(pData), size), nil
}

// RecordCopy emits the matching vkCmdCopy* variant for src/dst, chosen
// from the refs' handle types: *VulkanBuffer and *GraphStagingBuffer
// count as buffers, *VulkanImage as an image. Copies involving an image record one colour region at mip 0, layer 0,
// sized from the image ref's extent, and ignore regions. No format-block
// conversion is done between compressed and uncompressed images.
func (b *GraphTransferBackend) RecordCopy(cb interface{}, src, dst graph.TransferRef, regions []graph.StageRegion) error {
	gcb, ok := cb.(*graphCommandBuffer)
	if !ok {
		return fmt.Errorf("graph transfer backend: invalid command buffer handle")
	}

	srcBuf, srcIsBuffer := nativeBuffer(src)
	dstBuf, dstIsBuffer := nativeBuffer(dst)

	if srcIsBuffer && dstIsBuffer {
		copies := make([]vk.BufferCopy, len(regions))
		for i, r := range regions {
			copies[i] = vk.BufferCopy{SrcOffset: vk.DeviceSize(r.StagingOffset), DstOffset: vk.DeviceSize(r.StagingOffset), Size: vk.DeviceSize(r.Size)}
		}
		vk.CmdCopyBuffer(gcb.cb.Handle, srcBuf, dstBuf, uint32(len(copies)), copies)
		return nil
	}

	if srcIsBuffer && src.Kind != graph.RefImage {
		// buffer -> image
		img, ok := dst.Handle.(*VulkanImage)
		if !ok {
			return fmt.Errorf("graph transfer backend: dst ref is neither buffer nor image")
		}
		region := vk.BufferImageCopy{
			BufferOffset:      vk.DeviceSize(0),
			ImageSubresource:  vk.ImageSubresourceLayers{AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit), MipLevel: 0, BaseArrayLayer: 0, LayerCount: 1},
			ImageExtent:       vk.Extent3D{Width: dst.Width, Height: dst.Height, Depth: maxu32(dst.Depth, 1)},
		}
		vk.CmdCopyBufferToImage(gcb.cb.Handle, srcBuf, img.Handle, vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{region})
		return nil
	}

	if dstIsBuffer {
		// image -> buffer
		img, ok := src.Handle.(*VulkanImage)
		if !ok {
			return fmt.Errorf("graph transfer backend: src ref is neither buffer nor image")
		}
		region := vk.BufferImageCopy{
			BufferOffset:     vk.DeviceSize(0),
			ImageSubresource: vk.ImageSubresourceLayers{AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit), MipLevel: 0, BaseArrayLayer: 0, LayerCount: 1},
			ImageExtent:      vk.Extent3D{Width: src.Width, Height: src.Height, Depth: maxu32(src.Depth, 1)},
		}
		vk.CmdCopyImageToBuffer(gcb.cb.Handle, img.Handle, vk.ImageLayoutTransferSrcOptimal, dstBuf, 1, []vk.BufferImageCopy{region})
		return nil
	}

	srcImg, srcOk := src.Handle.(*VulkanImage)
	dstImg, dstOk := dst.Handle.(*VulkanImage)
	if !srcOk || !dstOk {
		return fmt.Errorf("graph transfer backend: unsupported copy ref combination")
	}
	region := vk.ImageCopy{
		SrcSubresource: vk.ImageSubresourceLayers{AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit), LayerCount: 1},
		DstSubresource: vk.ImageSubresourceLayers{AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit), LayerCount: 1},
		Extent:         vk.Extent3D{Width: dst.Width, Height: dst.Height, Depth: maxu32(dst.Depth, 1)},
	}
	vk.CmdCopyImage(gcb.cb.Handle, srcImg.Handle, vk.ImageLayoutTransferSrcOptimal, dstImg.Handle, vk.ImageLayoutTransferDstOptimal, 1, []vk.ImageCopy{region})
	return nil
}

func nativeBuffer(ref graph.TransferRef) (vk.Buffer, bool) {
	switch h := ref.Handle.(type) {
	case *VulkanBuffer:
		return h.Handle, true
	case *GraphStagingBuffer:
		return h.Handle, true
	default:
		return nil, false
	}
}

// createBuffer generalizes the alloc/bind sequence shared by
// image.go's ImageCreate (query requirements, find memory index,
// allocate, bind) to vk.Buffer instead of vk.Image.
func (b *GraphTransferBackend) createBuffer(size uint64, usage vk.BufferUsageFlags, memFlags vk.MemoryPropertyFlags) (vk.Buffer, vk.DeviceMemory, error) {
	ctx := b.context
	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}

	var handle vk.Buffer
	if res := vk.CreateBuffer(ctx.Device.LogicalDevice, &createInfo, ctx.Allocator, &handle); res != vk.Success {
		return nil, nil, fmt.Errorf("graph transfer backend: create buffer failed: %s", VulkanResultString(res, true))
	}

	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(ctx.Device.LogicalDevice, handle, &requirements)
	requirements.Deref()

	memoryType := ctx.FindMemoryIndex(requirements.MemoryTypeBits, uint32(memFlags))
	if memoryType == -1 {
		return nil, nil, fmt.Errorf("graph transfer backend: no suitable memory type for buffer")
	}

	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: uint32(memoryType),
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(ctx.Device.LogicalDevice, &allocateInfo, ctx.Allocator, &memory); res != vk.Success {
		vk.DestroyBuffer(ctx.Device.LogicalDevice, handle, ctx.Allocator)
		return nil, nil, fmt.Errorf("graph transfer backend: allocate buffer memory failed: %s", VulkanResultString(res, true))
	}
	if res := vk.BindBufferMemory(ctx.Device.LogicalDevice, handle, memory, 0); res != vk.Success {
		vk.DestroyBuffer(ctx.Device.LogicalDevice, handle, ctx.Allocator)
		vk.FreeMemory(ctx.Device.LogicalDevice, memory, ctx.Allocator)
		return nil, nil, fmt.Errorf("graph transfer backend: bind buffer memory failed: %s", VulkanResultString(res, true))
	}

	return handle, memory, nil
}
