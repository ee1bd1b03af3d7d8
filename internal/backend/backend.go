// Package backend implements spec §4.3's backend abstraction: DRM/KMS,
// nested-Wayland, and X11 presentation surfaces behind one narrow
// interface, selected in that priority order at Init.
//
// Grounded on gio's gpu/backend.Device (shape only — "one narrow interface
// between the compositor core and a presentation mechanism", rewritten for
// this spec's page_flip/sleep/terminate trio instead of a draw-call ABI).
package backend

import (
	"fmt"
	"os"

	"github.com/Cloudef/go-wlc/internal/geom"
	"github.com/Cloudef/go-wlc/internal/registry"
	"github.com/Cloudef/go-wlc/internal/session"
	"github.com/Cloudef/go-wlc/output"
)

// Kind identifies which concrete backend is active.
type Kind int

const (
	KindNone Kind = iota
	KindDRM
	KindWayland
	KindX11
)

func (k Kind) String() string {
	switch k {
	case KindDRM:
		return "drm"
	case KindWayland:
		return "wayland"
	case KindX11:
		return "x11"
	default:
		return "none"
	}
}

// Mode is one enumerated display mode (§4.3 "modes are enumerated with
// (hdisplay,vdisplay,vrefresh x 1000,flags)").
type Mode struct {
	Resolution geom.Size
	RefreshMHz int32 // vrefresh * 1000
	Preferred  bool
	Current    bool
}

// OutputDesc is what a backend reports for one connected output at
// enumeration time.
type OutputDesc struct {
	Handle     uint64 // backend-internal connector/window id, stable across rescans
	Name       string
	Resolution geom.Size
	Modes      []Mode
}

// Backend is the narrow interface every concrete backend (DRM/nested-
// Wayland/X11) implements (§4.3).
type Backend interface {
	Kind() Kind
	// UpdateOutputs enumerates connected outputs; the caller diffs against
	// its known set, creating new Output records and terminating removed
	// ones (§4.3 "add missing outputs, call output_terminate on removed
	// ones").
	UpdateOutputs() ([]OutputDesc, error)
	// OpenSurface creates the backend_surface for a newly-created output.
	OpenSurface(desc OutputDesc) (output.BackendSurface, error)
	Terminate()
}

// EventPumper is implemented by backends that complete work asynchronously
// via events delivered on a pollable fd (DRM's page-flip/vblank events,
// §4.3/§5). Context folds FD() into its own epoll set and calls Pump()
// whenever it's readable; backends without an async completion path (X11,
// nested-Wayland) don't implement it.
type EventPumper interface {
	FD() int
	Pump()
}

// Init tries DRM, then nested-Wayland (if WAYLAND_DISPLAY is set), then X11
// (if DISPLAY is set), returning the first that initializes successfully
// (§4.3).
func Init(sess *session.Session, drmDevice string) (Backend, error) {
	if b, err := newDRMBackend(sess, drmDevice); err == nil {
		return b, nil
	}
	if os.Getenv("WAYLAND_DISPLAY") != "" {
		if b, err := newWaylandBackend(); err == nil {
			return b, nil
		}
	}
	if os.Getenv("DISPLAY") != "" {
		if b, err := newX11Backend(); err == nil {
			return b, nil
		}
	}
	return nil, fmt.Errorf("backend: no backend available (tried drm, nested-wayland, x11)")
}

// Registry is the live handle<->backend-output mapping wlc.go maintains
// across UpdateOutputs rescans, so hot-plug add/remove can be diffed by
// backend handle rather than by slice position.
type Registry struct {
	byBackendHandle map[uint64]registry.ID
}

// NewRegistry constructs an empty backend-handle registry.
func NewRegistry() *Registry {
	return &Registry{byBackendHandle: make(map[uint64]registry.ID)}
}

// Diff compares the freshly enumerated descs against the registry's known
// set, returning newly seen descs and the registry.ID of every known
// output that has disappeared (to be terminated).
func (r *Registry) Diff(descs []OutputDesc) (added []OutputDesc, removed []registry.ID) {
	seen := make(map[uint64]bool, len(descs))
	for _, d := range descs {
		seen[d.Handle] = true
		if _, ok := r.byBackendHandle[d.Handle]; !ok {
			added = append(added, d)
		}
	}
	for h, id := range r.byBackendHandle {
		if !seen[h] {
			removed = append(removed, id)
			delete(r.byBackendHandle, h)
		}
	}
	return added, removed
}

// Bind records that backend handle h now maps to output id.
func (r *Registry) Bind(h uint64, id registry.ID) {
	r.byBackendHandle[h] = id
}

// Lookup returns the registry.ID bound to backend handle h, if any.
func (r *Registry) Lookup(h uint64) (registry.ID, bool) {
	id, ok := r.byBackendHandle[h]
	return id, ok
}
