package vulkan

import (
	"github.com/forgelit/rendergraph/engine/platform"
	"github.com/forgelit/rendergraph/engine/renderer/graph"
)

// GraphWindow adapts engine/platform's glfw.Window plus the active
// swapchain's image count to graph.Window, the one external
// collaborator the render graph core needs but does not define.
type GraphWindow struct {
	platform *platform.Platform
	context  *VulkanContext
	lock     graph.SwapLock
}

// NewGraphWindow builds the Window collaborator the graph's Attachment
// Registry attaches to via Registry.AttachWindow.
func NewGraphWindow(p *platform.Platform, context *VulkanContext) *GraphWindow {
	return &GraphWindow{platform: p, context: context}
}

func (w *GraphWindow) FrameWidth() uint32  { return w.platform.FrameWidth() }
func (w *GraphWindow) FrameHeight() uint32 { return w.platform.FrameHeight() }

// ImageCount reports the active swapchain's image count, which the Pass
// Builder uses to decide how many framebuffers a window-backed chain
// needs (spec.md §4.E).
func (w *GraphWindow) ImageCount() uint32 {
	if w.context.Swapchain == nil {
		return 1
	}
	return w.context.Swapchain.ImageCount
}

func (w *GraphWindow) RecreateRequested() bool {
	return w.platform.RecreateRequested()
}

func (w *GraphWindow) ClearRecreateRequested() {
	w.platform.ClearRecreateRequested()
}

func (w *GraphWindow) Lock() *graph.SwapLock {
	return &w.lock
}
