package view

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cloudef/go-wlc/internal/geom"
	"github.com/Cloudef/go-wlc/internal/registry"
)

func TestSetGeometryClampsToMin1x1(t *testing.T) {
	v := New()
	v.SetGeometry(Geometry{Size: geom.Size{W: 0, H: -5}})
	assert.Equal(t, geom.Size{W: 1, H: 1}, v.Pending.Geometry.Size)
}

func TestMapReportsFirstTimeOnlyOnce(t *testing.T) {
	v := New()
	assert.True(t, v.Map())
	assert.True(t, v.Mapped)

	v.Unmap()
	assert.False(t, v.Map(), "remapping an already-created view is not first-time")
	assert.True(t, v.Created)
}

func TestUnmapReportsPriorMappedState(t *testing.T) {
	v := New()
	assert.False(t, v.Unmap(), "unmapping a never-mapped view reports false")
	v.Map()
	assert.True(t, v.Unmap())
	assert.False(t, v.Mapped)
}

func TestDirtyComparesGeometryAndBits(t *testing.T) {
	v := New()
	assert.False(t, v.Dirty())

	v.SetGeometry(Geometry{Size: geom.Size{W: 100, H: 100}})
	assert.True(t, v.Dirty())

	v.CommitViewState()
	assert.False(t, v.Dirty())

	v.SetState(StateFullscreen, true)
	assert.True(t, v.Dirty())
}

func TestGetBoundsComposesAncestorOrigin(t *testing.T) {
	parent := &View{Handle: registry.ID(1)}
	parent.SetGeometry(Geometry{Origin: geom.Point{X: 50, Y: 50}, Size: geom.Size{W: 200, H: 200}})
	parent.CommitViewState()

	child := &View{Handle: registry.ID(2), Parent: registry.ID(1)}
	child.SetGeometry(Geometry{Origin: geom.Point{X: 10, Y: 10}, Size: geom.Size{W: 50, H: 50}})
	child.CommitViewState()

	lookup := func(id registry.ID) (geom.Point, bool) {
		if id == registry.ID(1) {
			b, _ := GetBounds(parent, nil)
			return b.Min, true
		}
		return geom.Point{}, false
	}

	bounds, _ := GetBounds(child, lookup)
	assert.Equal(t, geom.RectWH(60, 60, 50, 50), bounds)
}

func TestGetBoundsIgnoresAncestorForOverrideRedirectX11(t *testing.T) {
	parent := &View{Handle: registry.ID(1)}
	parent.SetGeometry(Geometry{Origin: geom.Point{X: 50, Y: 50}, Size: geom.Size{W: 200, H: 200}})
	parent.CommitViewState()

	child := &View{
		Handle: registry.ID(2),
		Parent: registry.ID(1),
		Role:   Role{Kind: RoleX11Window, X11: &X11Role{OverrideRedirect: true}},
	}
	child.SetGeometry(Geometry{Origin: geom.Point{X: 10, Y: 10}, Size: geom.Size{W: 50, H: 50}})
	child.CommitViewState()

	lookup := func(id registry.ID) (geom.Point, bool) {
		b, _ := GetBounds(parent, nil)
		return b.Min, true
	}

	bounds, _ := GetBounds(child, lookup)
	assert.Equal(t, geom.RectWH(10, 10, 50, 50), bounds)
}

func TestGetBoundsAppliesShadowLetterboxExemption(t *testing.T) {
	v := &View{
		Handle: registry.ID(1),
		Role:   Role{Kind: RoleXDGToplevel, XDG: &XDGToplevelRole{DrawsShadow: true}},
	}
	v.SetGeometry(Geometry{Origin: geom.Point{X: 0, Y: 0}, Size: geom.Size{W: 300, H: 300}})
	v.Pending.Visible = geom.RectWH(20, 20, 260, 260)
	v.CommitViewState()

	bounds, visible := GetBounds(v, nil)
	assert.Equal(t, geom.RectWH(0, 0, 300, 300), bounds)
	assert.Equal(t, geom.RectWH(20, 20, 260, 260), visible)

	v.SetState(StateMaximized, true)
	v.CommitViewState()
	_, visible = GetBounds(v, nil)
	assert.Equal(t, bounds, visible, "maximised views do not get the shadow exemption")
}

func TestLetterboxPreservesAspectWithinBounds(t *testing.T) {
	bounds := geom.RectWH(0, 0, 200, 100)
	r := Letterbox(geom.Size{W: 400, H: 400}, bounds)
	assert.Equal(t, geom.RectWH(50, 0, 100, 100), r)
}

func TestLetterboxReturnsBoundsForDegenerateSurface(t *testing.T) {
	bounds := geom.RectWH(0, 0, 200, 100)
	assert.Equal(t, bounds, Letterbox(geom.Size{W: 0, H: 0}, bounds))
}

func TestNewViewHasFullRenderMask(t *testing.T) {
	v := New()
	assert.Equal(t, ^uint32(0), v.RenderMask)
	require.Zero(t, v.Surface)
}
