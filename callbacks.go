package wlc

import (
	"image"

	"github.com/Cloudef/go-wlc/internal/registry"
	"github.com/Cloudef/go-wlc/seat"
	"github.com/Cloudef/go-wlc/view"
)

// OutputCallbacks is the embedder hook set for output.* events (§6).
type OutputCallbacks struct {
	Created         func(h registry.ID) bool
	Destroyed       func(h registry.ID)
	Focus           func(h registry.ID, focused bool)
	Resolution      func(h registry.ID, from, to image.Point)
	RenderPre       func(h registry.ID)
	RenderPost      func(h registry.ID)
	ContextCreated  func(h registry.ID)
	ContextDestroy  func(h registry.ID)
}

// ViewCallbacks is the embedder hook set for view.* events (§6). The core
// never decides placement: Created/request.* are the only hooks that can
// change compositor state, and only if the embedder calls the corresponding
// mutator back (§1 Non-goals: "no tiling or stacking policy").
type ViewCallbacks struct {
	Created           func(h registry.ID) bool
	Destroyed         func(h registry.ID)
	Focus             func(h registry.ID, focused bool)
	MoveToOutput      func(h registry.ID, from, to registry.ID)
	RequestGeometry   func(h registry.ID, g *view.Geometry)
	RequestState      func(h registry.ID, bit view.StateBit, on bool)
	RequestMove       func(h registry.ID, p geomPoint)
	RequestResize     func(h registry.ID, edges view.ResizeEdge, p geomPoint)
	RenderPre         func(h registry.ID)
	RenderPost        func(h registry.ID)
	PropertiesUpdated func(h registry.ID, mask view.PropertyMask)
}

// geomPoint is the point type the callback surface passes; it is
// structurally identical to geom.Point.
type geomPoint struct{ X, Y int32 }

// Callbacks is the full fixed embedder callback surface (§6, component 11).
// An embedder program fills in the hooks it cares about and passes this to
// Init; nil hooks are simply not called (consumed=false / bare no-op).
type Callbacks struct {
	Output OutputCallbacks
	View   ViewCallbacks

	Keyboard func(view registry.ID, time uint32, mods seat.Modifiers, key uint32, sym uint32, state seat.KeyState) bool
	Pointer  struct {
		Button func(view registry.ID, time uint32, mods seat.Modifiers, button uint32, state seat.ButtonState, p geomPoint) bool
		Scroll func(view registry.ID, time uint32, mods seat.Modifiers, axis seat.ScrollAxis, amount float64) bool
		Motion func(view registry.ID, time uint32, p geomPoint) bool
	}
	Touch func(view registry.ID, time uint32, mods seat.Modifiers, kind seat.TouchKind, slot int32, p geomPoint) bool

	CompositorReady     func()
	CompositorTerminate func()
}

// callBool1 expresses the "nil hook means not-consumed" convention (§6:
// "returns either void or a boolean consumed value where noted"). The
// dispatch sites in wlc.go do their own nil checks and do not call it.
func callBool1[A any](fn func(A) bool, a A) bool {
	if fn == nil {
		return false
	}
	return fn(a)
}
