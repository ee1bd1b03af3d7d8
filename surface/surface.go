// Package surface implements the surface graph and double-buffered commit
// protocol of spec §4.4: pending/committed state, buffer refcounting,
// sub-surface synchronisation, and surface<->view/output binding.
//
// Grounded on original_source/src/resources/types/surface.c (commit walk,
// region clamping, buffer refcounting) and
// original_source/src/resources/types/subsurface.c (sync/desync
// propagation).
package surface

import (
	"image"

	"github.com/Cloudef/go-wlc/internal/geom"
	"github.com/Cloudef/go-wlc/internal/registry"
)

// Buffer is a refcounted client buffer reference. Uploading wl_shm/dmabuf
// contents into Pixels is the embedder's job (e.g. mapping the client's shm
// pool); Buffer only tracks the handle, the decoded image once the embedder
// has supplied it, and release bookkeeping the commit protocol requires
// (§4.4 step 7).
type Buffer struct {
	Resource registry.ID
	Size     geom.Size
	Pixels   image.Image
	refs     int
}

func (b *Buffer) ref() { b.refs++ }

// release decrements the refcount and reports whether it reached zero
// (caller then emits wl_buffer.release, §4.4 step 7).
func (b *Buffer) release() bool {
	b.refs--
	return b.refs <= 0
}

// FrameCallback is a pending wl_callback.done trigger, fired on the next
// frame presented on the surface's output (§4.4 step 7, §4.6 render loop).
type FrameCallback struct {
	Resource registry.ID
}

// State is one half of the pending/committed double-buffer: attached
// buffer, accumulated damage, regions, frame callback queue, and the
// attach offset.
type State struct {
	Buffer       *Buffer
	Offset       geom.Point
	Damage       geom.Region
	OpaqueRegion geom.Region
	InputRegion  geom.Region
	FrameCBs     []FrameCallback
	HasInputSet  bool // distinguishes "never set" (infinite region) from "set empty"
	HasOpaqueSet bool

	Transform uint32 // wl_output.transform, 0..7
	Scale     int32  // buffer_scale, >= 1
}

// Surface is one wl_surface's full state: pending/committed buffers, the
// sub-surface tree, and the view/output it's bound to.
type Surface struct {
	Handle registry.ID

	Pending State
	Commit  State

	Size geom.Size // derived: Commit.Buffer.Size / Commit.Scale, clamped >= 1x1

	Parent   registry.ID // subsurface parent, 0 if top-level
	Children []registry.ID
	Position geom.Point // subsurface local offset within parent
	Synced   bool       // subsurface set_sync/set_desync state

	View   registry.ID
	Output registry.ID

	// Banned marks a client that violated a protocol invariant (§4.4 steps
	// 5-6: bad transform/scale); the caller (resource dispatch) is
	// responsible for actually disconnecting the client.
	Banned bool
}

// New constructs a zero-value Surface with default state (scale 1,
// transform "normal", unset regions meaning "infinite").
func New() *Surface {
	return &Surface{
		Pending: State{Scale: 1},
		Commit:  State{Scale: 1},
		Size:    geom.Size{W: 1, H: 1},
	}
}

// Attach stages a buffer+offset for the next commit (§4.4 step 1). A nil
// buffer stages a detach (the surface will unmap on commit).
func (s *Surface) Attach(buf *Buffer, dx, dy int32) {
	s.Pending.Buffer = buf
	s.Pending.Offset = geom.Point{X: dx, Y: dy}
}

// Damage unions a damaged rect into the pending damage region (§4.4 step
// 2).
func (s *Surface) Damage(r geom.Rect) {
	s.Pending.Damage.Add(r)
}

// Frame appends a frame callback resource to the pending queue (§4.4 step
// 3).
func (s *Surface) Frame(resource registry.ID) {
	s.Pending.FrameCBs = append(s.Pending.FrameCBs, FrameCallback{Resource: resource})
}

// SetOpaqueRegion replaces the pending opaque region (§4.4 step 4).
func (s *Surface) SetOpaqueRegion(rects []geom.Rect) {
	s.Pending.OpaqueRegion.Reset()
	for _, r := range rects {
		s.Pending.OpaqueRegion.Add(r)
	}
	s.Pending.HasOpaqueSet = true
}

// SetInputRegion replaces the pending input region (§4.4 step 4).
func (s *Surface) SetInputRegion(rects []geom.Rect) {
	s.Pending.InputRegion.Reset()
	for _, r := range rects {
		s.Pending.InputRegion.Add(r)
	}
	s.Pending.HasInputSet = true
}

// SetBufferTransform validates t in [0,7] per §4.4 step 5, banning the
// surface (and thus, per the caller, the client) on violation.
func (s *Surface) SetBufferTransform(t uint32) {
	if t > 7 {
		s.Banned = true
		return
	}
	s.Pending.Transform = t
}

// SetBufferScale validates scale >= 1 per §4.4 step 6.
func (s *Surface) SetBufferScale(scale int32) {
	if scale < 1 {
		s.Banned = true
		return
	}
	s.Pending.Scale = scale
}

// SetSync sets (true) or clears (false) the subsurface synchronized flag,
// covering both set_sync and set_desync (§4.4).
func (s *Surface) SetSync(sync bool) { s.Synced = sync }

// EffectiveSync reports whether s must defer its commit to its parent's
// commit walk: true if s itself is synchronized, or any ancestor is
// (§4.4: "parent-synchronised is propagated recursively").
func EffectiveSync(s *Surface, lookup func(registry.ID) *Surface) bool {
	for cur := s; cur != nil; {
		if cur.Synced {
			return true
		}
		if cur.Parent == 0 {
			return false
		}
		cur = lookup(cur.Parent)
	}
	return false
}

// Commit performs §4.4 step 7 on s alone: clamps pending regions to the
// surface's buffer-derived size, unions damage, appends frame callbacks,
// swaps the buffer reference (returning the previous buffer if its
// refcount reached zero, so the caller can emit wl_buffer.release), and
// recomputes Size. Sub-surface recursion is driven by CommitTree, not this
// method.
func (s *Surface) Commit() (released *Buffer) {
	bufSize := s.Size
	if s.Pending.Buffer != nil {
		bufSize = geom.Size{
			W: maxI32(1, s.Pending.Buffer.Size.W/s.Pending.Scale),
			H: maxI32(1, s.Pending.Buffer.Size.H/s.Pending.Scale),
		}
	}
	bounds := geom.RectWH(0, 0, bufSize.W, bufSize.H)

	s.Pending.OpaqueRegion.Clamp(bounds)
	s.Pending.InputRegion.Clamp(bounds)

	for _, r := range s.Pending.Damage.Rects() {
		s.Commit.Damage.Add(r)
	}
	s.Pending.Damage.Reset()

	s.Commit.FrameCBs = append(s.Commit.FrameCBs, s.Pending.FrameCBs...)
	s.Pending.FrameCBs = nil

	if s.Pending.HasOpaqueSet {
		s.Commit.OpaqueRegion = s.Pending.OpaqueRegion
	}
	if s.Pending.HasInputSet {
		s.Commit.InputRegion = s.Pending.InputRegion
	}
	s.Commit.Transform = s.Pending.Transform
	s.Commit.Scale = s.Pending.Scale

	prev := s.Commit.Buffer
	newBuf := s.Pending.Buffer
	if newBuf != prev {
		if newBuf != nil {
			newBuf.ref()
		}
		s.Commit.Buffer = newBuf
		s.Commit.Offset = s.Pending.Offset
		s.Pending.Buffer = nil
		if prev != nil && prev.release() {
			released = prev
		}
	}

	s.Size = bufSize
	return released
}

// CommitTree commits s and then, depth-first, every sub-surface that is
// itself synchronized or has a synchronized ancestor (§4.4 step 7 tail).
// lookup resolves a child handle to its Surface; released is called for
// every buffer whose refcount reaches zero during the walk.
func CommitTree(s *Surface, lookup func(registry.ID) *Surface, released func(*Buffer)) {
	walkCommit(s, lookup, released)
}

func walkCommit(s *Surface, lookup func(registry.ID) *Surface, released func(*Buffer)) {
	if rel := s.Commit(); rel != nil && released != nil {
		released(rel)
	}
	for _, childID := range s.Children {
		child := lookup(childID)
		if child == nil {
			continue
		}
		if EffectiveSync(child, lookup) {
			walkCommit(child, lookup, released)
		}
	}
}

// AttachToView binds s to v, breaking any previous binding on either side
// (§4.4 "surface_attach_to_view").
func AttachToView(s *Surface, sHandle registry.ID, v registry.ID, clearOldView func(registry.ID), clearOldSurface func(registry.ID)) {
	if s.View != 0 && s.View != v {
		clearOldView(s.View)
	}
	s.View = v
	if v != 0 {
		clearOldSurface(v)
	}
}

func maxI32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}
