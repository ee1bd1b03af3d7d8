// x11conn.go implements the WM-side X11 protocol connection itself: opening
// a client connection to the Xwayland display Start launched, and decoding
// the CreateNotify/DestroyNotify/ClientMessage(WL_SURFACE_ID)/PropertyNotify
// event stream that drives the pairing state machine in xwayland.go (§4.9).
//
// Grounded directly on aymanbagabas-go-nativeclipboard/clipboard_x11.go's
// dlopen-libX11-via-purego shape (same function set: XOpenDisplay,
// XInternAtom, XNextEvent, XGetWindowProperty, XFree) and the same XEvent
// union-as-fixed-size-buffer trick that file uses for XSelectionEvent,
// applied here to the window-management events the original's
// src/xwayland/ reads off the WM connection instead of the clipboard
// selection events that file reads.
package xwayland

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

type x11Display uintptr
type x11Window uintptr
type x11Atom uintptr

// xEvent is the generic event buffer every specific event type is decoded
// out of, sized the same way clipboard_x11.go's XEvent is: large enough for
// the biggest variant Xlib ever hands back via XNextEvent.
type xEvent struct {
	typ int32
	pad [23]uintptr
}

// Event type numbers from X11/X.h.
const (
	evCreateNotify   = 16
	evDestroyNotify  = 17
	evMapNotify      = 19
	evConfigureNotify = 22
	evPropertyNotify = 28
	evClientMessage  = 33
)

const (
	propertyChangeMask = 1 << 22
	substructureNotify = 1 << 19
	atomAny            = 0
)

// xCreateWindowEvent mirrors Xlib's XCreateWindowEvent layout (§4.9
// "CreateNotify").
type xCreateWindowEvent struct {
	typ                     int32
	_                       [4]byte
	serial                  uintptr
	sendEvent               int32
	_                       [4]byte
	display                 x11Display
	parent, window          x11Window
	x, y, width, height     int32
	borderWidth             int32
	overrideRedirect        int32
}

// xDestroyWindowEvent mirrors XDestroyWindowEvent.
type xDestroyWindowEvent struct {
	typ       int32
	_         [4]byte
	serial    uintptr
	sendEvent int32
	_         [4]byte
	display   x11Display
	event     x11Window
	window    x11Window
}

// xClientMessageEvent mirrors XClientMessageEvent; the WL_SURFACE_ID
// message carries format=32 with data.l[0] holding the wl_surface resource
// id (§4.9 "ClientMessage with WL_SURFACE_ID ... names the wl_surface
// resource id").
type xClientMessageEvent struct {
	typ        int32
	_          [4]byte
	serial     uintptr
	sendEvent  int32
	_          [4]byte
	display    x11Display
	window     x11Window
	messageTyp x11Atom
	format     int32
	_          [4]byte
	data       [5]int64
}

// xPropertyEvent mirrors XPropertyEvent (§4.9 property forwarding).
type xPropertyEvent struct {
	typ       int32
	_         [4]byte
	serial    uintptr
	sendEvent int32
	_         [4]byte
	display   x11Display
	window    x11Window
	atom      x11Atom
	time      uintptr
	state     int32
}

var (
	libX11Once sync.Once
	libX11Err  error
	libX11     uintptr

	xOpenDisplay       func(name uintptr) x11Display
	xCloseDisplay      func(d x11Display)
	xDefaultRootWindow func(d x11Display) x11Window
	xInternAtom        func(d x11Display, name string, onlyIfExists int32) x11Atom
	xSelectInput       func(d x11Display, w x11Window, mask int64)
	xNextEvent         func(d x11Display, ev *xEvent)
	xPending           func(d x11Display) int32
	xGetWindowProperty func(d x11Display, w x11Window, property x11Atom, longOffset, longLength int64, delete int32, reqType x11Atom, actualType *x11Atom, actualFormat *int32, nitems, bytesAfter *uint64, propReturn **byte) int32
	xFree              func(data unsafe.Pointer)
)

func loadLibX11() error {
	libX11Once.Do(func() {
		var err error
		for _, path := range []string{"libX11.so.6", "libX11.so"} {
			libX11, err = purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
			if err == nil {
				break
			}
		}
		if err != nil {
			libX11Err = fmt.Errorf("xwayland: dlopen libX11: %w", err)
			return
		}
		purego.RegisterLibFunc(&xOpenDisplay, libX11, "XOpenDisplay")
		purego.RegisterLibFunc(&xCloseDisplay, libX11, "XCloseDisplay")
		purego.RegisterLibFunc(&xDefaultRootWindow, libX11, "XDefaultRootWindow")
		purego.RegisterLibFunc(&xInternAtom, libX11, "XInternAtom")
		purego.RegisterLibFunc(&xSelectInput, libX11, "XSelectInput")
		purego.RegisterLibFunc(&xNextEvent, libX11, "XNextEvent")
		purego.RegisterLibFunc(&xPending, libX11, "XPending")
		purego.RegisterLibFunc(&xGetWindowProperty, libX11, "XGetWindowProperty")
		purego.RegisterLibFunc(&xFree, libX11, "XFree")
	})
	return libX11Err
}

// wmAtoms is the small set of atoms the WM connection needs resolved once at
// connect time, rather than re-interning them on every property fetch.
type wmAtoms struct {
	wlSurfaceID  x11Atom
	wmName       x11Atom
	wmClass      x11Atom
	netWMName    x11Atom
	netWMPid     x11Atom
	utf8String   x11Atom
	wmState      x11Atom
	netWMState   x11Atom
	stateFull    x11Atom // _NET_WM_STATE_FULLSCREEN
	stateMax     x11Atom // _NET_WM_STATE_MAXIMIZED_VERT (checked as a proxy for "maximised")
}

// Conn is the WM's own X11 client connection, separate from the
// listen/wm-fd pair Xwayland itself was launched with — it is a normal
// Xlib client of the display Xwayland now owns (§4.9 "the WM connects to
// the X server as an ordinary client and manages the override-redirect-free
// top-level windows").
type Conn struct {
	display x11Display
	root    x11Window
	atoms   wmAtoms
	bridge  *Bridge
	done    chan struct{}
}

// Dial opens the WM's X11 client connection to the display the bridge
// launched, selects substructure-notify on the root window (so CreateNotify/
// DestroyNotify for top-level windows arrive), and starts the event-reading
// goroutine.
func Dial(b *Bridge) (*Conn, error) {
	if err := loadLibX11(); err != nil {
		return nil, err
	}
	display := xOpenDisplay(0)
	if display == 0 {
		return nil, fmt.Errorf("xwayland: XOpenDisplay failed for display :%d", b.Display())
	}
	root := xDefaultRootWindow(display)
	c := &Conn{
		display: display,
		root:    root,
		bridge:  b,
		done:    make(chan struct{}),
		atoms: wmAtoms{
			wlSurfaceID: xInternAtom(display, "WL_SURFACE_ID", 0),
			wmName:      xInternAtom(display, "WM_NAME", 0),
			wmClass:     xInternAtom(display, "WM_CLASS", 0),
			netWMName:   xInternAtom(display, "_NET_WM_NAME", 0),
			netWMPid:    xInternAtom(display, "_NET_WM_PID", 0),
			utf8String:  xInternAtom(display, "UTF8_STRING", 0),
			wmState:     xInternAtom(display, "WM_STATE", 0),
			netWMState:  xInternAtom(display, "_NET_WM_STATE", 0),
			stateFull:   xInternAtom(display, "_NET_WM_STATE_FULLSCREEN", 0),
			stateMax:    xInternAtom(display, "_NET_WM_STATE_MAXIMIZED_VERT", 0),
		},
	}
	xSelectInput(display, root, substructureNotify|propertyChangeMask)
	go c.run()
	return c, nil
}

// Close stops the event loop and closes the display connection.
func (c *Conn) Close() {
	close(c.done)
	if c.display != 0 {
		xCloseDisplay(c.display)
	}
}

func (c *Conn) run() {
	for {
		select {
		case <-c.done:
			return
		default:
		}
		var ev xEvent
		xNextEvent(c.display, &ev)
		c.dispatch(&ev)
	}
}

func (c *Conn) dispatch(ev *xEvent) {
	switch ev.typ {
	case evCreateNotify:
		e := (*xCreateWindowEvent)(unsafe.Pointer(ev))
		c.bridge.OnCreateNotify(uint32(e.window), e.overrideRedirect != 0)
	case evDestroyNotify:
		e := (*xDestroyWindowEvent)(unsafe.Pointer(ev))
		c.bridge.Close(uint32(e.window))
	case evClientMessage:
		e := (*xClientMessageEvent)(unsafe.Pointer(ev))
		if x11Atom(e.messageTyp) == c.atoms.wlSurfaceID && e.format == 32 {
			c.onSurfaceID(uint32(e.window), uint32(e.data[0]))
		}
	case evPropertyNotify:
		e := (*xPropertyEvent)(unsafe.Pointer(ev))
		c.onPropertyChange(uint32(e.window), e.atom)
	}
}

// onSurfaceID is the ClientMessage handler for §4.9's WL_SURFACE_ID
// pairing: it hands the raw wire surface id to the bridge, which resolves
// it to a registry.ID via the Context-supplied ResolveSurface hook and
// completes the pairing.
func (c *Conn) onSurfaceID(xid, wireSurfaceID uint32) {
	c.bridge.PairFromWire(xid, wireSurfaceID)
}

func (c *Conn) onPropertyChange(xid uint32, atom x11Atom) {
	w, ok := c.bridge.Window(xid)
	if !ok {
		return
	}
	props := w.Props
	switch atom {
	case c.atoms.netWMName, c.atoms.wmName:
		if s, ok := c.getTextProperty(x11Window(xid), atom); ok {
			props.Title = s
		}
	case c.atoms.wmClass:
		if s, ok := c.getTextProperty(x11Window(xid), atom); ok {
			props.Class = s
		}
	case c.atoms.netWMState:
		props.Fullscreen, props.Maximised = c.getNetWMState(x11Window(xid))
	default:
		return
	}
	c.bridge.UpdateProps(xid, props)
}

// getTextProperty reads a UTF8_STRING/STRING property into a Go string
// (§4.9 "Forward {title, class...}").
func (c *Conn) getTextProperty(w x11Window, atom x11Atom) (string, bool) {
	var actualType x11Atom
	var actualFormat int32
	var nitems, bytesAfter uint64
	var prop *byte
	ret := xGetWindowProperty(c.display, w, atom, 0, 1024, 0, atomAny,
		&actualType, &actualFormat, &nitems, &bytesAfter, &prop)
	if ret != 0 || prop == nil || nitems == 0 {
		return "", false
	}
	defer xFree(unsafe.Pointer(prop))
	buf := unsafe.Slice(prop, int(nitems))
	return string(buf), true
}

// getNetWMState reads _NET_WM_STATE and reports whether the fullscreen/
// maximised atoms are present among its values (§4.9).
func (c *Conn) getNetWMState(w x11Window) (fullscreen, maximised bool) {
	var actualType x11Atom
	var actualFormat int32
	var nitems, bytesAfter uint64
	var prop *byte
	ret := xGetWindowProperty(c.display, w, c.atoms.netWMState, 0, 64, 0, atomAny,
		&actualType, &actualFormat, &nitems, &bytesAfter, &prop)
	if ret != 0 || prop == nil || nitems == 0 {
		return false, false
	}
	defer xFree(unsafe.Pointer(prop))
	atoms := unsafe.Slice((*x11Atom)(unsafe.Pointer(prop)), int(nitems))
	for _, a := range atoms {
		if a == c.atoms.stateFull {
			fullscreen = true
		}
		if a == c.atoms.stateMax {
			maximised = true
		}
	}
	return fullscreen, maximised
}
