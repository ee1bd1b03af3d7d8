package wlc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cloudef/go-wlc/internal/bus"
	"github.com/Cloudef/go-wlc/internal/geom"
	"github.com/Cloudef/go-wlc/internal/registry"
	"github.com/Cloudef/go-wlc/output"
	"github.com/Cloudef/go-wlc/seat"
	"github.com/Cloudef/go-wlc/surface"
	"github.com/Cloudef/go-wlc/view"
)

// newTestContext builds a Context with only the in-process wiring (pool,
// sources, seat, bus) that Init would otherwise assemble around a real
// session/backend/epoll, which unit tests have no business opening.
func newTestContext(t *testing.T) *Context {
	t.Helper()
	b := bus.New()
	pool := registry.NewPool()
	ctx := &Context{Bus: b, pool: pool}
	ctx.surfaces = registry.NewSource[surface.Surface](pool, "surface", 8,
		func(s *surface.Surface) { *s = *surface.New() }, nil)
	ctx.views = registry.NewSource[view.View](pool, "view", 8,
		func(v *view.View) { *v = *view.New() }, nil)
	ctx.outputs = registry.NewSource[output.Output](pool, "output", 4,
		func(o *output.Output) { *o = *output.New(b, time.Second) },
		func(o *output.Output) { o.Close() })
	ctx.outputViews = make(map[registry.ID][]registry.ID)
	ctx.Seat = seat.New(b)
	ctx.Seat.HitTest = ctx.hitTest
	ctx.Bus.Subscribe(bus.Focus, func(payload any) {
		fc, ok := payload.(seat.FocusChange)
		if !ok || fc.From == fc.To {
			return
		}
		ctx.onFocusChange(fc)
	})
	return ctx
}

func TestCreateViewAttachesSurface(t *testing.T) {
	ctx := newTestContext(t)
	sid := ctx.CreateSurface()
	vid := ctx.CreateView(sid)

	require.NotZero(t, vid)
	s := ctx.Surface(sid)
	v := ctx.View(vid)
	require.NotNil(t, s)
	require.NotNil(t, v)
	assert.Equal(t, vid, s.View)
	assert.Equal(t, sid, v.Surface)
}

func TestAttachSurfaceToViewBreaksPreviousBinding(t *testing.T) {
	ctx := newTestContext(t)
	sidA := ctx.CreateSurface()
	sidB := ctx.CreateSurface()
	vid := ctx.CreateView(sidA)

	ctx.AttachSurfaceToView(sidB, vid)

	v := ctx.View(vid)
	assert.Equal(t, sidB, v.Surface)
	assert.Zero(t, ctx.Surface(sidA).View)
	assert.Equal(t, vid, ctx.Surface(sidB).View)
}

func TestCommitSurfaceFiresCreatedOnFirstBufferAttach(t *testing.T) {
	ctx := newTestContext(t)
	sid := ctx.CreateSurface()
	vid := ctx.CreateView(sid)

	var created registry.ID
	ctx.Callbacks.View.Created = func(h registry.ID) bool { created = h; return true }

	buf := &surface.Buffer{Resource: registry.ID(1), Size: geom.Size{W: 100, H: 50}}
	ctx.Surface(sid).Attach(buf, 0, 0)
	ctx.CommitSurface(sid)

	assert.Equal(t, vid, created)
	assert.True(t, ctx.View(vid).Mapped)
}

func TestCommitSurfaceRejectingCreatedDestroysView(t *testing.T) {
	ctx := newTestContext(t)
	sid := ctx.CreateSurface()
	vid := ctx.CreateView(sid)
	ctx.Callbacks.View.Created = func(h registry.ID) bool { return false }

	buf := &surface.Buffer{Resource: registry.ID(1), Size: geom.Size{W: 10, H: 10}}
	ctx.Surface(sid).Attach(buf, 0, 0)
	ctx.CommitSurface(sid)

	assert.Nil(t, ctx.View(vid))
}

func TestCommitSurfaceFiresDestroyedOnDetach(t *testing.T) {
	ctx := newTestContext(t)
	sid := ctx.CreateSurface()
	vid := ctx.CreateView(sid)
	ctx.Callbacks.View.Created = func(registry.ID) bool { return true }

	buf := &surface.Buffer{Resource: registry.ID(1), Size: geom.Size{W: 10, H: 10}}
	ctx.Surface(sid).Attach(buf, 0, 0)
	ctx.CommitSurface(sid)

	var destroyed registry.ID
	ctx.Callbacks.View.Destroyed = func(h registry.ID) { destroyed = h }

	ctx.Surface(sid).Attach(nil, 0, 0)
	ctx.CommitSurface(sid)

	assert.Equal(t, vid, destroyed)
	assert.False(t, ctx.View(vid).Mapped)
}

func TestDestroyViewFiresDestroyedIfMapped(t *testing.T) {
	ctx := newTestContext(t)
	sid := ctx.CreateSurface()
	vid := ctx.CreateView(sid)
	ctx.View(vid).Mapped = true
	ctx.View(vid).Created = true

	var destroyed registry.ID
	ctx.Callbacks.View.Destroyed = func(h registry.ID) { destroyed = h }

	ctx.DestroyView(vid)

	assert.Equal(t, vid, destroyed)
	assert.Nil(t, ctx.View(vid))
	assert.Zero(t, ctx.Surface(sid).View)
}

func TestHitTestFindsTopmostMappedViewWithinBounds(t *testing.T) {
	ctx := newTestContext(t)

	oid, o := ctx.outputs.Create()
	o.Handle = oid
	o.Info = output.Info{Resolution: geom.Size{W: 800, H: 600}}
	ctx.outputOrder = append(ctx.outputOrder, oid)

	sid := ctx.CreateSurface()
	vid := ctx.CreateView(sid)
	v := ctx.View(vid)
	v.Mapped = true
	v.Pending.Geometry = view.Geometry{Origin: geom.Point{X: 10, Y: 10}, Size: geom.Size{W: 100, H: 100}}
	v.CommitViewState()
	o.SetViews([]registry.ID{vid})

	view_, surf, local, ok := ctx.hitTest(geom.Point{X: 50, Y: 50})
	require.True(t, ok)
	assert.Equal(t, vid, view_)
	assert.Equal(t, sid, surf)
	assert.Equal(t, geom.Point{X: 40, Y: 40}, local)

	_, _, _, ok = ctx.hitTest(geom.Point{X: 500, Y: 500})
	assert.False(t, ok)
}

func TestViewBoundsReportsOpaqueRegionOffsetByOrigin(t *testing.T) {
	ctx := newTestContext(t)
	sid := ctx.CreateSurface()
	vid := ctx.CreateView(sid)
	v := ctx.View(vid)
	v.Pending.Geometry = view.Geometry{Origin: geom.Point{X: 5, Y: 5}, Size: geom.Size{W: 50, H: 50}}
	v.CommitViewState()
	ctx.Surface(sid).Attach(&surface.Buffer{Size: geom.Size{W: 50, H: 50}}, 0, 0)
	ctx.Surface(sid).SetOpaqueRegion([]geom.Rect{geom.RectWH(0, 0, 20, 20)})
	ctx.Surface(sid).Commit()

	bounds, opaque, ok := ctx.viewBounds(vid)
	require.True(t, ok)
	assert.Equal(t, geom.RectWH(5, 5, 50, 50), bounds)
	assert.Equal(t, geom.RectWH(5, 5, 20, 20), opaque)
}

func TestDispatchKeyInterceptsVTHotkey(t *testing.T) {
	ctx := newTestContext(t)
	ctx.Seat.Keyboard.Mods = seat.Modifiers{Ctrl: true, Alt: true}

	var activated int
	ctx.Seat.VTActivate = func(n int) { activated = n }

	consumed := ctx.DispatchKey(0, 60, 0, true) // F2 == 58+2
	assert.True(t, consumed)
	assert.Equal(t, 2, activated)
}

func TestDispatchKeyDeliversThroughCallback(t *testing.T) {
	ctx := newTestContext(t)
	var gotKey uint32
	ctx.Callbacks.Keyboard = func(_ registry.ID, _ uint32, _ seat.Modifiers, key, _ uint32, _ seat.KeyState) bool {
		gotKey = key
		return true
	}

	consumed := ctx.DispatchKey(100, 30, 0x61, true)
	assert.True(t, consumed)
	assert.Equal(t, uint32(30), gotKey)
}

func TestCreateViewStacksOnFirstOutput(t *testing.T) {
	ctx := newTestContext(t)
	oid, o := ctx.outputs.Create()
	o.Handle = oid
	ctx.outputOrder = append(ctx.outputOrder, oid)

	sid := ctx.CreateSurface()
	vid := ctx.CreateView(sid)

	assert.Equal(t, oid, ctx.View(vid).Output)
	assert.Equal(t, []registry.ID{vid}, o.Views())
}

func TestCreateViewLeavesOutputZeroWithNoOutputs(t *testing.T) {
	ctx := newTestContext(t)
	sid := ctx.CreateSurface()
	vid := ctx.CreateView(sid)
	assert.Zero(t, ctx.View(vid).Output)
}

func TestMoveViewToOutputUpdatesBothStacksAndFires(t *testing.T) {
	ctx := newTestContext(t)
	oidA, oA := ctx.outputs.Create()
	oA.Handle = oidA
	oidB, oB := ctx.outputs.Create()
	oB.Handle = oidB
	ctx.outputOrder = append(ctx.outputOrder, oidA, oidB)

	sid := ctx.CreateSurface()
	vid := ctx.CreateView(sid)
	require.Equal(t, oidA, ctx.View(vid).Output)

	var moved struct {
		h, from, to registry.ID
	}
	ctx.Callbacks.View.MoveToOutput = func(h, from, to registry.ID) {
		moved.h, moved.from, moved.to = h, from, to
	}

	ctx.MoveViewToOutput(vid, oidB)

	assert.Equal(t, oidB, ctx.View(vid).Output)
	assert.Empty(t, oA.Views())
	assert.Equal(t, []registry.ID{vid}, oB.Views())
	assert.Equal(t, vid, moved.h)
	assert.Equal(t, oidA, moved.from)
	assert.Equal(t, oidB, moved.to)
}

func TestDestroyViewRemovesFromOutputStack(t *testing.T) {
	ctx := newTestContext(t)
	oid, o := ctx.outputs.Create()
	o.Handle = oid
	ctx.outputOrder = append(ctx.outputOrder, oid)

	sid := ctx.CreateSurface()
	vid := ctx.CreateView(sid)
	require.Equal(t, []registry.ID{vid}, o.Views())

	ctx.DestroyView(vid)
	assert.Empty(t, o.Views())
}

func TestFocusChangeFiresViewAndOutputFocus(t *testing.T) {
	ctx := newTestContext(t)
	oidA, oA := ctx.outputs.Create()
	oA.Handle = oidA
	ctx.outputOrder = append(ctx.outputOrder, oidA)

	sidA := ctx.CreateSurface()
	vidA := ctx.CreateView(sidA) // lands on oidA, the only output so far
	require.Equal(t, oidA, ctx.View(vidA).Output)

	oidB, oB := ctx.outputs.Create()
	oB.Handle = oidB
	ctx.outputOrder = append(ctx.outputOrder, oidB)
	sidB := ctx.CreateSurface()
	vidB := ctx.CreateView(sidB)
	ctx.MoveViewToOutput(vidB, oidB)
	require.Equal(t, oidB, ctx.View(vidB).Output)

	var viewFocus []struct {
		h registry.ID
		f bool
	}
	ctx.Callbacks.View.Focus = func(h registry.ID, focused bool) {
		viewFocus = append(viewFocus, struct {
			h registry.ID
			f bool
		}{h, focused})
	}
	var outputFocus []struct {
		h registry.ID
		f bool
	}
	ctx.Callbacks.Output.Focus = func(h registry.ID, focused bool) {
		outputFocus = append(outputFocus, struct {
			h registry.ID
			f bool
		}{h, focused})
	}

	ctx.Seat.KeyboardFocus(vidA)
	require.Len(t, viewFocus, 1)
	assert.Equal(t, vidA, viewFocus[0].h)
	assert.True(t, viewFocus[0].f)
	require.Len(t, outputFocus, 1)
	assert.Equal(t, oidA, outputFocus[0].h)
	assert.True(t, outputFocus[0].f)

	viewFocus = nil
	outputFocus = nil
	ctx.Seat.KeyboardFocus(vidB)
	require.Len(t, viewFocus, 2, "both the old and new view refocus")
	require.Len(t, outputFocus, 2, "focus moved across outputs too")
	assert.Equal(t, oidA, outputFocus[0].h)
	assert.False(t, outputFocus[0].f)
	assert.Equal(t, oidB, outputFocus[1].h)
	assert.True(t, outputFocus[1].f)
}

func TestButtonPressMovesKeyboardFocusToPointerFocus(t *testing.T) {
	ctx := newTestContext(t)
	oid, o := ctx.outputs.Create()
	o.Handle = oid
	o.Info = output.Info{Resolution: geom.Size{W: 200, H: 200}}
	ctx.outputOrder = append(ctx.outputOrder, oid)

	sid := ctx.CreateSurface()
	vid := ctx.CreateView(sid)
	v := ctx.View(vid)
	v.Mapped = true
	v.Pending.Geometry = view.Geometry{Size: geom.Size{W: 100, H: 100}}
	v.CommitViewState()
	o.SetViews([]registry.ID{vid})

	ctx.Seat.Pointer.Bounds = geom.RectWH(0, 0, 200, 200)
	ctx.DispatchMotion(0, geom.Point{X: 10, Y: 10})
	require.Equal(t, vid, ctx.Seat.Pointer.FocusView)

	var focused registry.ID
	ctx.Callbacks.View.Focus = func(h registry.ID, f bool) {
		if f {
			focused = h
		}
	}
	ctx.DispatchButton(0, 0x110, true, seat.GrabMove, 0)
	assert.Equal(t, vid, focused)
	assert.Equal(t, vid, ctx.Seat.Keyboard.Focus)
}

func TestDispatchMotionDuringGrabFiresRequestMove(t *testing.T) {
	ctx := newTestContext(t)
	ctx.Seat.Pointer.Bounds = geom.RectWH(0, 0, 200, 200)
	ctx.Seat.Pointer.Grab = seat.GrabMove
	ctx.Seat.Pointer.GrabView = registry.ID(5)

	var gotView registry.ID
	var gotPoint geomPoint
	ctx.Callbacks.View.RequestMove = func(h registry.ID, p geomPoint) {
		gotView, gotPoint = h, p
	}

	consumed := ctx.DispatchMotion(0, geom.Point{X: 30, Y: 40})
	assert.True(t, consumed)
	assert.Equal(t, registry.ID(5), gotView)
	assert.Equal(t, geomPoint{X: 30, Y: 40}, gotPoint)
}

func TestRequestGeometryAndStateForwardToCallbacks(t *testing.T) {
	ctx := newTestContext(t)
	var gotGeom *view.Geometry
	ctx.Callbacks.View.RequestGeometry = func(h registry.ID, g *view.Geometry) { gotGeom = g }
	g := view.Geometry{Size: geom.Size{W: 42, H: 24}}
	ctx.RequestGeometry(registry.ID(1), g)
	require.NotNil(t, gotGeom)
	assert.Equal(t, g, *gotGeom)

	var gotBit view.StateBit
	var gotOn bool
	ctx.Callbacks.View.RequestState = func(h registry.ID, bit view.StateBit, on bool) { gotBit, gotOn = bit, on }
	ctx.RequestState(registry.ID(1), view.StateFullscreen, true)
	assert.Equal(t, view.StateFullscreen, gotBit)
	assert.True(t, gotOn)
}

func TestDispatchMotionInvokesCallback(t *testing.T) {
	ctx := newTestContext(t)
	ctx.Seat.Pointer.Bounds = geom.RectWH(0, 0, 100, 100)
	var gotPoint geomPoint
	ctx.Callbacks.Pointer.Motion = func(_ registry.ID, _ uint32, p geomPoint) bool {
		gotPoint = p
		return true
	}
	ctx.DispatchMotion(0, geom.Point{X: 10, Y: 20})
	assert.Equal(t, geomPoint{X: 10, Y: 20}, gotPoint)
}
