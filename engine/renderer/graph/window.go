package graph

import "sync/atomic"

// Window is the external collaborator named in spec.md §6: the
// GLFW-equivalent abstraction the core consumes but does not define.
// engine/platform provides the one concrete implementation, backed by
// glfw.Window.
type Window interface {
	FrameWidth() uint32
	FrameHeight() uint32
	ImageCount() uint32
	RecreateRequested() bool
	ClearRecreateRequested()
	Lock() *SwapLock
}

// SwapLock is a compare-and-exchange primitive ensuring at most one
// attachment binds a given window at a time (spec.md §3, §5).
type SwapLock struct {
	held atomic.Bool
}

// TryAcquire attempts to take the lock, returning false if it is
// already held by another attachment.
func (s *SwapLock) TryAcquire() bool {
	return s.held.CompareAndSwap(false, true)
}

// Release frees the lock for the next attach call.
func (s *SwapLock) Release() {
	s.held.Store(false)
}
