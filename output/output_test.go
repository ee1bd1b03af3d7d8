package output

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cloudef/go-wlc/internal/bus"
	"github.com/Cloudef/go-wlc/internal/geom"
	"github.com/Cloudef/go-wlc/internal/registry"
)

type fakeSurface struct {
	renderable bool
	hasSleep   bool
	flips      int
	slept      *bool
}

func (f *fakeSurface) PageFlip() bool     { f.flips++; return true }
func (f *fakeSurface) Sleep(v bool) bool  { f.slept = &v; return true }
func (f *fakeSurface) HasSleepHook() bool { return f.hasSleep }
func (f *fakeSurface) Renderable() bool   { return f.renderable }

type fakeRenderer struct {
	frames  int
	cleared int
}

func (f *fakeRenderer) RenderFrame(registry.ID, geom.Size, time.Time, []registry.ID, bool) error {
	f.frames++
	return nil
}
func (f *fakeRenderer) Clear(registry.ID) { f.cleared++ }
func (f *fakeRenderer) ReadPixels(registry.ID, geom.Rect) ([]byte, bool) {
	return []byte{1, 2, 3, 4}, true
}

func TestRepaintSkipsWhenNotRenderable(t *testing.T) {
	o := New(bus.New(), 300*time.Second)
	surf := &fakeSurface{renderable: false}
	o.Surface = surf
	rend := &fakeRenderer{}
	o.Renderer = rend
	o.scheduled = true

	o.Repaint()
	assert.Equal(t, 0, rend.frames)
	assert.False(t, o.scheduled)
}

func TestRepaintRendersAndFlipsWhenRenderable(t *testing.T) {
	o := New(bus.New(), 300*time.Second)
	surf := &fakeSurface{renderable: true}
	o.Surface = surf
	rend := &fakeRenderer{}
	o.Renderer = rend
	o.Info.Resolution = geom.Size{W: 800, H: 600}

	o.Repaint()
	assert.Equal(t, 1, rend.frames)
	assert.Equal(t, 1, surf.flips)
	assert.True(t, o.pending)
}

func TestFinishFrameDecaysImsOnActivity(t *testing.T) {
	o := New(bus.New(), 300*time.Second)
	o.ims = 20
	o.activity = true
	o.finishFrame(time.Now())
	assert.InDelta(t, 18.0, o.ims, 0.001)
}

func TestFinishFrameGrowsImsWithoutActivity(t *testing.T) {
	o := New(bus.New(), 300*time.Second)
	o.ims = 20
	o.activity = false
	o.finishFrame(time.Now())
	assert.InDelta(t, 22.0, o.ims, 0.001)
}

func TestImsClampedToBounds(t *testing.T) {
	o := New(bus.New(), 300*time.Second)
	o.ims = imsMin
	o.activity = true
	o.finishFrame(time.Now())
	assert.GreaterOrEqual(t, o.ims, imsMin)

	o.ims = imsMax
	o.activity = false
	o.finishFrame(time.Now())
	assert.LessOrEqual(t, o.ims, imsMax)
}

func TestSetViewsDeduplicatesPreservingOrder(t *testing.T) {
	o := New(bus.New(), time.Second)
	o.SetViews([]registry.ID{3, 1, 3, 2, 1})
	assert.Equal(t, []registry.ID{3, 1, 2}, o.Views())
}

func TestDeferredSleepAppliesOnlyWhenNotPending(t *testing.T) {
	o := New(bus.New(), time.Hour)
	surf := &fakeSurface{renderable: true, hasSleep: true}
	o.Surface = surf
	o.pending = true

	o.SetSleep(true)
	require.NotNil(t, o.deferredSleep)
	assert.Nil(t, surf.slept)

	o.ClearFlipPending()
	require.NotNil(t, surf.slept)
	assert.True(t, *surf.slept)
}

func TestSetSleepAppliesImmediatelyWhenIdle(t *testing.T) {
	o := New(bus.New(), time.Hour)
	surf := &fakeSurface{renderable: true, hasSleep: true}
	o.Surface = surf

	o.SetSleep(true)
	require.NotNil(t, surf.slept)
	assert.True(t, *surf.slept)
	assert.True(t, o.sleeping)
}

func TestVisibleStackPicksFullyCoveringTopView(t *testing.T) {
	o := New(bus.New(), time.Second)
	o.Info.Resolution = geom.Size{W: 100, H: 100}
	SetBoundsFn(func(v registry.ID) (geom.Rect, geom.Rect, bool) {
		if v == 2 {
			return geom.RectWH(0, 0, 100, 100), geom.RectWH(0, 0, 100, 100), true
		}
		return geom.RectWH(0, 0, 10, 10), geom.RectWH(0, 0, 10, 10), true
	})
	defer SetBoundsFn(nil)

	last, list := o.visibleStack([]registry.ID{1, 2}, 0)
	assert.Equal(t, registry.ID(2), last)
	assert.Equal(t, []registry.ID{2}, list)
}
