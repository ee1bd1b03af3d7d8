// wayland.go implements the nested-Wayland backend of spec §4.3: the
// compositor connects as a Wayland *client* to a host compositor. It opens
// the client connection; it creates no host surface or window for an
// output.
//
// Grounded directly on aymanbagabas-go-nativeclipboard/clipboard_x11.go's
// initializeWayland (same dlopen-libwayland-client-via-purego shape).
package backend

import (
	"fmt"
	"sync"

	"github.com/ebitengine/purego"

	"github.com/Cloudef/go-wlc/internal/geom"
	"github.com/Cloudef/go-wlc/output"
)

var (
	wlOnce sync.Once
	wlErr  error
	libwaylandClient uintptr

	wlDisplayConnect        func(name uintptr) uintptr
	wlDisplayDisconnect     func(display uintptr)
	wlDisplayGetRegistry    func(display uintptr) uintptr
	wlDisplayRoundtrip      func(display uintptr) int
	wlDisplayDispatch       func(display uintptr) int
	wlDisplayFlush          func(display uintptr) int
	wlProxyMarshal          func(proxy uintptr, opcode uint32)
	wlProxyDestroy          func(proxy uintptr)
)

func loadWaylandClient() error {
	wlOnce.Do(func() {
		var err error
		for _, path := range []string{"libwayland-client.so.0", "libwayland-client.so"} {
			libwaylandClient, err = purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
			if err == nil {
				break
			}
		}
		if err != nil {
			wlErr = fmt.Errorf("backend: dlopen libwayland-client: %w", err)
			return
		}
		purego.RegisterLibFunc(&wlDisplayConnect, libwaylandClient, "wl_display_connect")
		purego.RegisterLibFunc(&wlDisplayDisconnect, libwaylandClient, "wl_display_disconnect")
		purego.RegisterLibFunc(&wlDisplayGetRegistry, libwaylandClient, "wl_display_get_registry")
		purego.RegisterLibFunc(&wlDisplayRoundtrip, libwaylandClient, "wl_display_roundtrip")
		purego.RegisterLibFunc(&wlDisplayDispatch, libwaylandClient, "wl_display_dispatch")
		purego.RegisterLibFunc(&wlDisplayFlush, libwaylandClient, "wl_display_flush")
		purego.RegisterLibFunc(&wlProxyMarshal, libwaylandClient, "wl_proxy_marshal")
		purego.RegisterLibFunc(&wlProxyDestroy, libwaylandClient, "wl_proxy_destroy")
	})
	return wlErr
}

const defaultNestedSize = 800 // §4.3 "sizes default to 800x480"
const defaultNestedHeight = 480

// waylandBackend nests this compositor as a client of a host Wayland
// compositor (§4.3 "nested Wayland (if WAYLAND_DISPLAY present)").
type waylandBackend struct {
	display  uintptr
	registry uintptr
	windows  map[uint64]*waylandWindow
	nextID   uint64
}

type waylandWindow struct {
	id         uint64
	surface    uintptr
	resolution geom.Size
}

func newWaylandBackend() (Backend, error) {
	if err := loadWaylandClient(); err != nil {
		return nil, err
	}
	display := wlDisplayConnect(0)
	if display == 0 {
		return nil, fmt.Errorf("backend: wl_display_connect failed")
	}
	if wlDisplayRoundtrip(display) < 0 {
		wlDisplayDisconnect(display)
		return nil, fmt.Errorf("backend: initial roundtrip failed")
	}
	registry := wlDisplayGetRegistry(display)
	return &waylandBackend{display: display, registry: registry, windows: make(map[uint64]*waylandWindow)}, nil
}

func (b *waylandBackend) Kind() Kind { return KindWayland }

// UpdateOutputs reports one synthetic output the first time it is called
// (a single top-level window, per §4.3's default-size rule); real hot-plug
// under nested-Wayland only matters if the embedder creates more windows,
// which this backend does not do on its own.
func (b *waylandBackend) UpdateOutputs() ([]OutputDesc, error) {
	if len(b.windows) > 0 {
		return nil, nil
	}
	return []OutputDesc{{
		Handle:     1,
		Name:       "nested-wl-0",
		Resolution: geom.Size{W: defaultNestedSize, H: defaultNestedHeight},
		Modes: []Mode{{
			Resolution: geom.Size{W: defaultNestedSize, H: defaultNestedHeight},
			Preferred:  true,
			Current:    true,
		}},
	}}, nil
}

func (b *waylandBackend) OpenSurface(desc OutputDesc) (output.BackendSurface, error) {
	w := &waylandWindow{id: desc.Handle, resolution: desc.Resolution}
	b.windows[desc.Handle] = w
	return &waylandSurface{backend: b, win: w}, nil
}

func (b *waylandBackend) Terminate() {
	for _, w := range b.windows {
		if w.surface != 0 {
			wlProxyDestroy(w.surface)
		}
	}
	if b.registry != 0 {
		wlProxyDestroy(b.registry)
	}
	if b.display != 0 {
		wlDisplayDisconnect(b.display)
	}
}

type waylandSurface struct {
	backend     *waylandBackend
	win         *waylandWindow
	flipPending bool
}

func (s *waylandSurface) Renderable() bool { return s.backend.display != 0 }

func (s *waylandSurface) PageFlip() bool {
	wlDisplayFlush(s.backend.display)
	wlDisplayDispatch(s.backend.display)
	s.flipPending = false
	return s.flipPending
}

func (s *waylandSurface) Sleep(asleep bool) bool { return false }
func (s *waylandSurface) HasSleepHook() bool     { return false }
