package xwayland

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cloudef/go-wlc/internal/registry"
)

func newTestBridge() *Bridge {
	return &Bridge{
		unpaired: make(map[uint32]*Window),
		paired:   make(map[uint32]*Window),
	}
}

func TestOnCreateNotifyAddsUnpaired(t *testing.T) {
	b := newTestBridge()
	b.OnCreateNotify(42, false)

	w, ok := b.Window(42)
	require.True(t, ok)
	assert.False(t, w.Paired)
	assert.Equal(t, uint32(42), w.XID)
}

func TestOnSurfaceIDMovesWindowToPaired(t *testing.T) {
	b := newTestBridge()
	b.OnCreateNotify(7, false)

	var attachedSurface registry.ID
	view := registry.ID(99)
	w, ok := b.OnSurfaceID(7, registry.ID(5), func(surface registry.ID) registry.ID {
		attachedSurface = surface
		return view
	})
	require.True(t, ok)
	assert.True(t, w.Paired)
	assert.Equal(t, registry.ID(5), attachedSurface)
	assert.Equal(t, view, w.View)

	_, stillUnpaired := b.unpaired[7]
	assert.False(t, stillUnpaired)
	pairedWindow, isPaired := b.paired[7]
	assert.True(t, isPaired)
	assert.Same(t, w, pairedWindow)
}

func TestOnSurfaceIDFailsForUnknownWindow(t *testing.T) {
	b := newTestBridge()
	_, ok := b.OnSurfaceID(123, registry.ID(1), nil)
	assert.False(t, ok)
}

func TestOnWindowPairedCallbackFires(t *testing.T) {
	b := newTestBridge()
	b.OnCreateNotify(1, false)

	var fired *Window
	b.OnWindowPaired = func(w *Window) { fired = w }
	b.OnSurfaceID(1, registry.ID(2), nil)

	require.NotNil(t, fired)
	assert.Equal(t, uint32(1), fired.XID)
}

func TestUpdatePropsAppliesToPairedOrUnpaired(t *testing.T) {
	b := newTestBridge()
	b.OnCreateNotify(1, false)
	b.UpdateProps(1, WindowProps{Title: "unpaired title"})
	w, _ := b.Window(1)
	assert.Equal(t, "unpaired title", w.Props.Title)

	b.OnSurfaceID(1, registry.ID(10), nil)
	b.UpdateProps(1, WindowProps{Title: "paired title", Fullscreen: true})
	w, _ = b.Window(1)
	assert.Equal(t, "paired title", w.Props.Title)
	assert.True(t, w.Props.Fullscreen)
}

func TestCloseRemovesWindowAndFiresCallback(t *testing.T) {
	b := newTestBridge()
	b.OnCreateNotify(1, false)
	b.OnSurfaceID(1, registry.ID(1), nil)

	var closed *Window
	b.OnWindowClosed = func(w *Window) { closed = w }
	b.Close(1)

	require.NotNil(t, closed)
	_, ok := b.Window(1)
	assert.False(t, ok)
}

func TestCloseOfUnpairedWindowDoesNotFireCallback(t *testing.T) {
	b := newTestBridge()
	b.OnCreateNotify(5, false)

	var closed *Window
	b.OnWindowClosed = func(w *Window) { closed = w }
	b.Close(5)

	assert.Nil(t, closed)
	_, ok := b.Window(5)
	assert.False(t, ok)
}

func TestPairFromWireResolvesAndAttaches(t *testing.T) {
	b := newTestBridge()
	b.OnCreateNotify(3, false)

	b.ResolveSurface = func(wire uint32) (registry.ID, bool) {
		if wire != 0xbeef {
			return 0, false
		}
		return registry.ID(55), true
	}
	var attached registry.ID
	b.AttachToView = func(surface registry.ID) registry.ID {
		attached = surface
		return registry.ID(77)
	}

	w, ok := b.PairFromWire(3, 0xbeef)
	require.True(t, ok)
	assert.True(t, w.Paired)
	assert.Equal(t, registry.ID(55), attached)
	assert.Equal(t, registry.ID(77), w.View)
}

func TestPairFromWireFailsWhenResolveSurfaceUnset(t *testing.T) {
	b := newTestBridge()
	b.OnCreateNotify(3, false)
	_, ok := b.PairFromWire(3, 0xbeef)
	assert.False(t, ok)
}

func TestPairFromWireFailsWhenResolveSurfaceRejects(t *testing.T) {
	b := newTestBridge()
	b.OnCreateNotify(3, false)
	b.ResolveSurface = func(wire uint32) (registry.ID, bool) { return 0, false }
	_, ok := b.PairFromWire(3, 0xbeef)
	assert.False(t, ok)
}

func TestShouldRestartOnlyAfterFiveSeconds(t *testing.T) {
	b := newTestBridge()
	b.startedAt = time.Now()
	assert.False(t, b.ShouldRestart())

	b.startedAt = time.Now().Add(-6 * time.Second)
	assert.True(t, b.ShouldRestart())

	b.restarted = true
	assert.False(t, b.ShouldRestart())
}
