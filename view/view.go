// Package view implements the top-level client window model: geometry,
// role attachment (xdg-shell v5/v6, wl-shell, xdg-popup, X11), pending/
// committed view_state, and the stacking/mapping rules of spec §3 and §4.5.
//
// Grounded on original_source/src/compositor/view.c (pending/committed
// transition, bounds computation, letterboxing) and
// src/shell/{xdg-surface,xdg-toplevel,xdg-popup}.c +
// src/compositor/shell/shell.c (wl-shell fallback, SPEC_FULL §C) for the
// per-role configure-event shapes.
package view

import (
	"github.com/Cloudef/go-wlc/internal/geom"
	"github.com/Cloudef/go-wlc/internal/registry"
)

// StateBit is a bit in the view's maximised/fullscreen/resizing/activated
// set (§3).
type StateBit uint32

const (
	StateMaximized StateBit = 1 << iota
	StateFullscreen
	StateResizing
	StateActivated
)

// ResizeEdge mirrors the xdg-shell resize-edge bitmask used both for client
// resize requests and embedder-initiated grabs (§4.7 pointer grabs).
type ResizeEdge uint32

const (
	EdgeNone   ResizeEdge = 0
	EdgeTop    ResizeEdge = 1 << 0
	EdgeBottom ResizeEdge = 1 << 1
	EdgeLeft   ResizeEdge = 1 << 2
	EdgeRight  ResizeEdge = 1 << 3
)

// PropertyMask flags which of title/class/app_id changed, for
// view.properties_updated (§6).
type PropertyMask uint32

const (
	PropTitle PropertyMask = 1 << iota
	PropClass
	PropAppID
)

// RoleKind identifies which single role (§3 invariant: at most one at a
// time) a view currently has attached.
type RoleKind int

const (
	RoleNone RoleKind = iota
	RoleWLShell
	RoleXDGToplevel
	RoleXDGPopup
	RoleX11Window
)

// XDGVersion distinguishes the two xdg-shell protocol generations the
// original carries side by side (SPEC_FULL §C).
type XDGVersion int

const (
	XDGNone XDGVersion = iota
	XDGUnstableV5
	XDGUnstableV6
)

// Geometry is a view's position+size in output-local pixels.
type Geometry struct {
	Origin geom.Point
	Size   geom.Size
}

// clampMin1x1 enforces the "geometry size is clamped to >= 1x1" invariant
// (§3) on every mutator that touches Size.
func (g Geometry) clampMin1x1() Geometry {
	if g.Size.W < 1 {
		g.Size.W = 1
	}
	if g.Size.H < 1 {
		g.Size.H = 1
	}
	return g
}

// State is the full mutable view_state record: geometry, resize edges being
// dragged, the state-bit set, and the "visible within geometry" hint used
// by the drop-shadow letterboxing in §4.5.
type State struct {
	Geometry    Geometry
	ResizeEdges ResizeEdge
	Bits        StateBit
	Visible     geom.Rect // committed "visible" rect within the surface bounds
}

func (s State) equalTransition(o State) bool {
	return s.Bits == o.Bits && s.Geometry == o.Geometry
}

// Role holds the role-specific data a view can carry; exactly one of the
// pointer fields is non-nil at a time (§3 "at most one role").
type Role struct {
	Kind RoleKind

	// xdg-shell (v5 or v6)
	XDG *XDGToplevelRole
	// wl-shell fallback (SPEC_FULL §C)
	Shell *ShellRole
	// xdg_popup
	Popup *PopupRole
	// X11 window (via the XWayland bridge)
	X11 *X11Role
}

// XDGToplevelRole carries the xdg_surface+xdg_toplevel configure/serial
// state, for either protocol generation (XDGVersion).
type XDGToplevelRole struct {
	Version      XDGVersion
	Surface      registry.ID // xdg_surface / zxdg_surface_v6 resource
	Toplevel     registry.ID // xdg_toplevel / zxdg_toplevel_v6 resource
	LastSerial   uint32
	PendingAck   bool
	DrawsShadow  bool // xdg surfaces draw drop shadows per §4.5 bounds rule
}

// ShellRole is the wl_shell fallback: edges+w+h configure, no serials.
type ShellRole struct {
	Surface registry.ID
}

// PopupRole is an xdg_popup: closes on outside click unless its pointer
// focus matches its parent (§4.7 "Popup dismissal").
type PopupRole struct {
	Surface registry.ID
	Parent  registry.ID // parent view handle
}

// X11Role is a view backed by an Xwayland window (§4.9).
type X11Role struct {
	Window           uint32 // xcb_window_t
	OverrideRedirect bool
	Unmanaged        bool
}

// View is the top-level window record stored in the view Source arena.
type View struct {
	Handle registry.ID

	Surface registry.ID
	Role    Role

	Pending  State
	Commit   State
	Parent   registry.ID

	Title, Class, AppID string

	Created bool // has been mapped at least once (first committed buffer attached)
	Mapped  bool

	RenderMask uint32 // bitmask gating visibility per-output (§3)
	Output     registry.ID
}

// New constructs a zero-value View for the registry constructor hook.
func New() *View {
	return &View{RenderMask: ^uint32(0)}
}

// SetGeometry stages a geometry change into Pending, clamped to >= 1x1
// (§4.5 "View mutators always write to pending").
func (v *View) SetGeometry(g Geometry) {
	v.Pending.Geometry = g.clampMin1x1()
}

// SetState toggles a single state bit in Pending.
func (v *View) SetState(bit StateBit, on bool) {
	if on {
		v.Pending.Bits |= bit
	} else {
		v.Pending.Bits &^= bit
	}
}

// Dirty reports whether Pending differs from Commit, i.e. whether a
// repaint must be scheduled on this view's output (§3 invariant, §4.5).
func (v *View) Dirty() bool {
	return !v.Pending.equalTransition(v.Commit)
}

// CommitViewState moves Pending into Commit. In this module it is called
// from Context.CommitSurface on each surface commit; it only performs the
// swap and emits no configure event.
func (v *View) CommitViewState() {
	v.Commit = v.Pending
}

// GetBounds implements §4.5's get_bounds: composes the view's own origin
// with any ancestor's, unless the view is override-redirect/unmanaged, and
// applies the drop-shadow letterbox rule for xdg surfaces.
func GetBounds(v *View, ancestorOrigin func(parent registry.ID) (geom.Point, bool)) (bounds geom.Rect, visible geom.Rect) {
	origin := v.Commit.Geometry.Origin
	if v.Role.Kind != RoleX11Window || v.Role.X11 == nil || (!v.Role.X11.OverrideRedirect && !v.Role.X11.Unmanaged) {
		if v.Parent != 0 && ancestorOrigin != nil {
			if po, ok := ancestorOrigin(v.Parent); ok {
				origin = origin.Add(po)
			}
		}
	}
	size := v.Commit.Geometry.Size
	bounds = geom.RectWH(origin.X, origin.Y, size.W, size.H)

	visible = bounds
	if v.Role.Kind == RoleXDGToplevel && v.Role.XDG != nil && v.Role.XDG.DrawsShadow {
		maximized := v.Commit.Bits&StateMaximized != 0
		fullscreen := v.Commit.Bits&StateFullscreen != 0
		if !maximized && !fullscreen && !v.Commit.Visible.Empty() {
			visible = v.Commit.Visible.Add(origin)
		}
	}
	return bounds, visible
}

// Letterbox computes the aspect-preserving destination rect for drawing a
// surface of size `surf` into a view of size `bounds`, for the shell/X11
// case where surface size != bounds size (§4.5).
func Letterbox(surf geom.Size, bounds geom.Rect) geom.Rect {
	if surf.W <= 0 || surf.H <= 0 {
		return bounds
	}
	bw, bh := bounds.Dx(), bounds.Dy()
	if bw <= 0 || bh <= 0 {
		return bounds
	}
	surfAspect := float64(surf.W) / float64(surf.H)
	boundsAspect := float64(bw) / float64(bh)

	var w, h int32
	if surfAspect > boundsAspect {
		w = bw
		h = int32(float64(bw) / surfAspect)
	} else {
		h = bh
		w = int32(float64(bh) * surfAspect)
	}
	offX := bounds.Min.X + (bw-w)/2
	offY := bounds.Min.Y + (bh-h)/2
	return geom.RectWH(offX, offY, w, h)
}

// Map marks the view created/visible (first committed buffer attached) and
// reports whether this is a first-time mapping (caller emits view.created
// exactly once per §4.5).
func (v *View) Map() (firstTime bool) {
	if v.Mapped {
		return false
	}
	v.Mapped = true
	firstTime = !v.Created
	v.Created = true
	return firstTime
}

// Unmap clears the mapped flag; caller emits view.destroyed exactly once
// when this transitions true->false.
func (v *View) Unmap() (wasMapped bool) {
	wasMapped = v.Mapped
	v.Mapped = false
	return wasMapped
}
