// Package xwayland implements the XWayland bridge of spec §4.9: launching
// Xwayland, owning the WM fd as an X11 client, and maintaining the
// paired/unpaired window tables that bind X11 windows to wlc views.
//
// Grounded on original_source/src/platform/backend/x11.c (lock-file +
// dual-socket launch sequence, SIGUSR1 readiness wait, restart-once-after-5s
// policy) and original_source/src/xwayland/ (WL_SURFACE_ID pairing,
// property forwarding).
package xwayland

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Cloudef/go-wlc/internal/registry"
)

// WindowProps is the subset of ICCCM/EWMH properties forwarded into view
// state (§4.9 "Forward {title, class, app_id, window_type, fullscreen,
// maximised} properties as view state").
type WindowProps struct {
	Title      string
	Class      string
	AppID      string
	WindowType string
	Fullscreen bool
	Maximised  bool
}

// Window is one X11 window tracked by the WM, either unpaired (no wl-surface
// yet) or paired (bound to a view).
type Window struct {
	XID    uint32
	Paired bool
	Surface registry.ID
	View    registry.ID
	Props   WindowProps

	OverrideRedirect bool
	DeleteWindow     bool // WM_DELETE_WINDOW advertised in WM_PROTOCOLS
}

// Bridge owns the Xwayland child process and the paired/unpaired window
// tables (§4.9).
type Bridge struct {
	display int
	cmd     *exec.Cmd
	wmFD    int

	unpaired map[uint32]*Window
	paired   map[uint32]*Window

	startedAt time.Time
	restarted bool

	OnWindowPaired func(w *Window)
	OnWindowClosed func(w *Window)

	// ResolveSurface and AttachToView let the X11 connection (x11conn.go)
	// turn a raw WL_SURFACE_ID wire value into a registry.ID and a view,
	// without xwayland importing the registry-owning wlc package — the
	// same injection pattern wlc.go uses for output's Bounds/HitTester
	// hooks. Set by Context.Init.
	ResolveSurface func(wireSurfaceID uint32) (registry.ID, bool)
	AttachToView   func(surface registry.ID) registry.ID
}

// pickDisplay finds an unused X display number by attempting to create
// /tmp/.X%d-lock, matching Xorg's own convention (§4.9).
func pickDisplay() (int, *os.File, error) {
	for n := 0; n < 200; n++ {
		path := fmt.Sprintf("/tmp/.X%d-lock", n)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0444)
		if err == nil {
			fmt.Fprintf(f, "%10d\n", os.Getpid())
			return n, f, nil
		}
	}
	return 0, nil, fmt.Errorf("xwayland: no free X display number found")
}

// Start forks Xwayland in rootless mode, waits for its SIGUSR1 readiness
// signal, and returns a Bridge owning the WM fd (§4.9).
func Start() (*Bridge, error) {
	display, lock, err := pickDisplay()
	if err != nil {
		return nil, err
	}

	listenFDs, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		lock.Close()
		os.Remove(lock.Name())
		return nil, fmt.Errorf("xwayland: socket: %w", err)
	}
	wmSockets, err := unix.Socketpair(unix.AF_LOCAL, unix.SOCK_STREAM, 0)
	if err != nil {
		unix.Close(listenFDs)
		return nil, fmt.Errorf("xwayland: wm socketpair: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGUSR1)
	defer signal.Stop(sigCh)

	args := []string{
		fmt.Sprintf(":%d", display),
		"-rootless", "-terminate",
		"-listen", strconv.Itoa(listenFDs),
		"-wm", strconv.Itoa(wmSockets[1]),
	}
	cmd := exec.Command("Xwayland", args...)
	cmd.ExtraFiles = []*os.File{
		os.NewFile(uintptr(listenFDs), "xwayland-listen"),
		os.NewFile(uintptr(wmSockets[1]), "xwayland-wm"),
	}
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), fmt.Sprintf("DISPLAY=:%d", display))

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("xwayland: start: %w", err)
	}

	select {
	case <-sigCh:
	case <-time.After(10 * time.Second):
		cmd.Process.Kill()
		return nil, fmt.Errorf("xwayland: timed out waiting for SIGUSR1 readiness")
	}

	os.Setenv("DISPLAY", fmt.Sprintf(":%d", display))

	return &Bridge{
		display:   display,
		cmd:       cmd,
		wmFD:      wmSockets[0],
		unpaired:  make(map[uint32]*Window),
		paired:    make(map[uint32]*Window),
		startedAt: time.Now(),
	}, nil
}

// Display returns the chosen X display number.
func (b *Bridge) Display() int { return b.display }

// ShouldRestart implements §4.9's "on death, if it ran for > 5s, restart
// once" policy.
func (b *Bridge) ShouldRestart() bool {
	if b.restarted {
		return false
	}
	return time.Since(b.startedAt) > 5*time.Second
}

// OnCreateNotify records a newly created X11 window as unpaired (§4.9
// "On CreateNotify create an entry in unpaired").
func (b *Bridge) OnCreateNotify(xid uint32, overrideRedirect bool) {
	b.unpaired[xid] = &Window{XID: xid, OverrideRedirect: overrideRedirect}
}

// OnSurfaceID pairs an unpaired X11 window with a wlc surface via the
// WL_SURFACE_ID client message, moving it into the paired table (§4.9).
func (b *Bridge) OnSurfaceID(xid uint32, surface registry.ID, attachToView func(surface registry.ID) registry.ID) (*Window, bool) {
	w, ok := b.unpaired[xid]
	if !ok {
		return nil, false
	}
	delete(b.unpaired, xid)
	w.Surface = surface
	w.Paired = true
	if attachToView != nil {
		w.View = attachToView(surface)
	}
	b.paired[xid] = w
	if b.OnWindowPaired != nil {
		b.OnWindowPaired(w)
	}
	return w, true
}

// PairFromWire resolves a raw WL_SURFACE_ID wire value via ResolveSurface
// and completes the pairing via OnSurfaceID (§4.9); it is the entry point
// x11conn.go's ClientMessage handler calls, since that file has no access
// to the registry itself.
func (b *Bridge) PairFromWire(xid uint32, wireSurfaceID uint32) (*Window, bool) {
	if b.ResolveSurface == nil {
		return nil, false
	}
	surface, ok := b.ResolveSurface(wireSurfaceID)
	if !ok {
		return nil, false
	}
	return b.OnSurfaceID(xid, surface, b.AttachToView)
}

// UpdateProps merges freshly-read ICCCM/EWMH properties into a tracked
// window's view-state mirror (§4.9 "Forward ... properties as view
// state").
func (b *Bridge) UpdateProps(xid uint32, props WindowProps) {
	if w, ok := b.paired[xid]; ok {
		w.Props = props
		return
	}
	if w, ok := b.unpaired[xid]; ok {
		w.Props = props
	}
}

// Window looks up a tracked window by XID, searching both tables.
func (b *Bridge) Window(xid uint32) (*Window, bool) {
	if w, ok := b.paired[xid]; ok {
		return w, true
	}
	w, ok := b.unpaired[xid]
	return w, ok
}

// Close destroys a window entry on DestroyNotify.
func (b *Bridge) Close(xid uint32) {
	if w, ok := b.paired[xid]; ok {
		delete(b.paired, xid)
		if b.OnWindowClosed != nil {
			b.OnWindowClosed(w)
		}
		return
	}
	delete(b.unpaired, xid)
}

// Terminate kills the Xwayland child and releases the WM fd.
func (b *Bridge) Terminate() error {
	unix.Close(b.wmFD)
	if b.cmd != nil && b.cmd.Process != nil {
		return b.cmd.Process.Kill()
	}
	return nil
}
