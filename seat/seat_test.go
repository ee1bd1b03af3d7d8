package seat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cloudef/go-wlc/internal/bus"
	"github.com/Cloudef/go-wlc/internal/geom"
	"github.com/Cloudef/go-wlc/internal/registry"
)

func TestCheckVTHotkeyRecognisesCtrlAltFn(t *testing.T) {
	mods := Modifiers{Ctrl: true, Alt: true}
	assert.Equal(t, 1, CheckVTHotkey(mods, vtKeysymBase+1))
	assert.Equal(t, 12, CheckVTHotkey(mods, vtKeysymBase+12))
	assert.Equal(t, 0, CheckVTHotkey(mods, vtKeysymBase+31))
}

func TestCheckVTHotkeyRequiresBothModifiers(t *testing.T) {
	assert.Equal(t, 0, CheckVTHotkey(Modifiers{Ctrl: true}, vtKeysymBase+1))
	assert.Equal(t, 0, CheckVTHotkey(Modifiers{Alt: true}, vtKeysymBase+1))
}

func TestKeyboardFocusSynthesisesReleaseForHeldKeys(t *testing.T) {
	s := New(bus.New())
	s.KeyDown(30, true)
	s.KeyDown(31, true)

	from, released := s.KeyboardFocus(registry.ID(5))
	assert.Equal(t, registry.ID(0), from)
	assert.ElementsMatch(t, []uint32{30, 31}, released)
	assert.Empty(t, s.Keyboard.held)
	assert.Equal(t, registry.ID(5), s.Keyboard.Focus)
}

func TestQueueOrDeliverHoldsKeysDuringLockWindow(t *testing.T) {
	s := New(bus.New())
	base := time.Now()
	nowFunc = func() time.Time { return base }
	defer func() { nowFunc = time.Now }()

	s.KeyboardFocus(registry.ID(1))

	_, locked := s.QueueOrDeliver(base.Add(10*time.Millisecond), 1, 2)
	assert.True(t, locked)

	delivered, locked := s.QueueOrDeliver(base.Add(200*time.Millisecond), 3, 4)
	assert.False(t, locked)
	require.Len(t, delivered, 2)
	assert.Equal(t, uint32(1), delivered[0].Key)
	assert.Equal(t, uint32(3), delivered[1].Key)
}

func TestMotionClampsToBounds(t *testing.T) {
	s := New(bus.New())
	s.Pointer.Bounds = geom.RectWH(0, 0, 100, 100)
	s.Motion(geom.Point{X: 500, Y: -5})
	assert.Equal(t, geom.Point{X: 99, Y: 0}, s.Pointer.Pos)
}

func TestMotionResolvesFocusViaHitTest(t *testing.T) {
	s := New(bus.New())
	s.Pointer.Bounds = geom.RectWH(0, 0, 100, 100)
	s.HitTest = func(p geom.Point) (registry.ID, registry.ID, geom.Point, bool) {
		return registry.ID(7), registry.ID(70), geom.Point{X: p.X - 10, Y: p.Y}, true
	}
	changed, view, surf := s.Motion(geom.Point{X: 20, Y: 20})
	assert.True(t, changed)
	assert.Equal(t, registry.ID(7), view)
	assert.Equal(t, registry.ID(70), surf)
	assert.Equal(t, geom.Point{X: 10, Y: 20}, s.Pointer.Local)
}

func TestButtonPressBeginsGrabOnlyOnce(t *testing.T) {
	s := New(bus.New())
	s.Pointer.FocusView = registry.ID(3)
	s.ButtonPress(GrabMove, 0)
	assert.Equal(t, GrabMove, s.Pointer.Grab)
	assert.Equal(t, registry.ID(3), s.Pointer.GrabView)

	s.Pointer.FocusView = registry.ID(4)
	s.ButtonPress(GrabResize, 1)
	assert.Equal(t, GrabMove, s.Pointer.Grab, "a second grab request while one is active is ignored")

	s.ButtonRelease()
	assert.Equal(t, GrabNone, s.Pointer.Grab)
}

func TestMotionIsSuppressedDuringGrab(t *testing.T) {
	s := New(bus.New())
	s.Pointer.Bounds = geom.RectWH(0, 0, 100, 100)
	s.HitTest = func(p geom.Point) (registry.ID, registry.ID, geom.Point, bool) {
		return registry.ID(1), registry.ID(10), p, true
	}
	s.Motion(geom.Point{X: 5, Y: 5})
	s.ButtonPress(GrabMove, 0)

	s.HitTest = func(p geom.Point) (registry.ID, registry.ID, geom.Point, bool) {
		return registry.ID(2), registry.ID(20), p, true
	}
	changed, view, surf := s.Motion(geom.Point{X: 50, Y: 50})
	assert.False(t, changed)
	assert.Equal(t, registry.ID(1), view)
	assert.Equal(t, registry.ID(10), surf)
}

func TestShouldDismissPopup(t *testing.T) {
	popup, parent := registry.ID(9), registry.ID(1)
	assert.True(t, ShouldDismissPopup(popup, parent, registry.ID(5)))
	assert.False(t, ShouldDismissPopup(popup, parent, parent))
	assert.False(t, ShouldDismissPopup(popup, parent, popup))
	assert.False(t, ShouldDismissPopup(0, parent, registry.ID(5)))
}

func TestTouchDownMovesPointerButUpDoesNot(t *testing.T) {
	s := New(bus.New())
	s.Pointer.Bounds = geom.RectWH(0, 0, 100, 100)
	s.HitTest = func(p geom.Point) (registry.ID, registry.ID, geom.Point, bool) {
		return registry.ID(1), registry.ID(10), p, true
	}
	view, surf := s.TouchDown(0, geom.Point{X: 5, Y: 5})
	assert.Equal(t, registry.ID(1), view)
	assert.Equal(t, registry.ID(10), surf)
	assert.Equal(t, geom.Point{X: 5, Y: 5}, s.Pointer.Pos)

	s.HitTest = func(p geom.Point) (registry.ID, registry.ID, geom.Point, bool) {
		return registry.ID(2), registry.ID(20), p, true
	}
	rv, rs, ok := s.TouchUp(0)
	require.True(t, ok)
	assert.Equal(t, registry.ID(1), rv)
	assert.Equal(t, registry.ID(10), rs)
	assert.Equal(t, geom.Point{X: 5, Y: 5}, s.Pointer.Pos, "touch up must not move the pointer")

	_, _, ok = s.TouchUp(0)
	assert.False(t, ok)
}
