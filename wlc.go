// Package wlc is the top-level entry point: Context wires the
// registry/bus/session/backend/seat/surface/view/output/datadevice/xwayland
// components together behind the fixed embedder callback surface (§6,
// component 11).
//
// Grounded on gio's app.Window as the shape of "one struct the host program
// drives" (read, not copied — gio's event.Event channel model is replaced
// here by the explicit epoll-fd-plus-Callbacks model spec §5 and §C ask
// for).
package wlc

import (
	"fmt"
	"image"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Cloudef/go-wlc/datadevice"
	"github.com/Cloudef/go-wlc/internal/backend"
	"github.com/Cloudef/go-wlc/internal/bus"
	"github.com/Cloudef/go-wlc/internal/geom"
	"github.com/Cloudef/go-wlc/internal/logchan"
	"github.com/Cloudef/go-wlc/internal/registry"
	"github.com/Cloudef/go-wlc/internal/renderer"
	"github.com/Cloudef/go-wlc/internal/session"
	"github.com/Cloudef/go-wlc/internal/wlerr"
	"github.com/Cloudef/go-wlc/internal/xkb"
	"github.com/Cloudef/go-wlc/output"
	"github.com/Cloudef/go-wlc/seat"
	"github.com/Cloudef/go-wlc/surface"
	"github.com/Cloudef/go-wlc/view"
	"github.com/Cloudef/go-wlc/xwayland"
)

// Context is the single running compositor instance an embedder holds for
// the process lifetime (§1: "a reusable core that a window-manager program
// links against").
type Context struct {
	Config    Config
	Callbacks Callbacks
	Bus       *bus.Bus

	Seat         *seat.Seat
	DataDevice   *datadevice.Manager
	Session      *session.Session
	Backend      backend.Backend
	XKB          *xkb.Context
	XWayland     *xwayland.Bridge
	xwaylandConn *xwayland.Conn

	// OnFrameCallback fires once per pending wl_callback the render
	// scheduler drains at the end of a frame; actual wl_callback.done wire
	// marshalling is the embedder's protocol layer's job (§1 "out of
	// scope: Wayland protocol marshalling").
	OnFrameCallback func(resource registry.ID, frameTime time.Time)

	pool        *registry.Pool
	surfaces    *registry.Source[surface.Surface]
	views       *registry.Source[view.View]
	outputs     *registry.Source[output.Output]
	backendReg  *backend.Registry
	outputOrder []registry.ID
	outputViews map[registry.ID][]registry.ID

	cpuRenderer *renderer.CPU

	epfd, wakeFd int
	terminated   atomic.Bool
}

// Init validates the environment (§7 "Initialisation preconditions
// unmet"), opens the session and backend, and returns a ready-to-Run
// Context. Every returned error is fatal per §7: the embedder must not
// call Run.
func Init(cb Callbacks) (*Context, error) {
	cfg := loadConfig()
	if cfg.RuntimeDir == "" {
		return nil, wlerr.ErrNoRuntimeDir
	}

	b := bus.New()

	sess, err := session.Open(b, cfg.VTNR)
	if err != nil {
		return nil, fmt.Errorf("wlc: session: %w", err)
	}

	be, err := backend.Init(sess, cfg.DRMDevice)
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("%w: %w", wlerr.ErrNoBackend, err)
	}

	xkbCtx, err := xkb.New(
		os.Getenv("XKB_DEFAULT_RULES"), os.Getenv("XKB_DEFAULT_MODEL"),
		os.Getenv("XKB_DEFAULT_LAYOUT"), os.Getenv("XKB_DEFAULT_VARIANT"),
		os.Getenv("XKB_DEFAULT_OPTIONS"),
	)
	if err != nil {
		be.Terminate()
		sess.Close()
		return nil, fmt.Errorf("wlc: xkb: %w", err)
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		xkbCtx.Close()
		be.Terminate()
		sess.Close()
		return nil, fmt.Errorf("wlc: epoll_create1: %w", err)
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		xkbCtx.Close()
		be.Terminate()
		sess.Close()
		return nil, fmt.Errorf("wlc: eventfd: %w", err)
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFd)}); err != nil {
		unix.Close(wakeFd)
		unix.Close(epfd)
		xkbCtx.Close()
		be.Terminate()
		sess.Close()
		return nil, fmt.Errorf("wlc: epoll_ctl: %w", err)
	}
	if pumper, ok := be.(backend.EventPumper); ok {
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, pumper.FD(), &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(pumper.FD())}); err != nil {
			unix.Close(wakeFd)
			unix.Close(epfd)
			xkbCtx.Close()
			be.Terminate()
			sess.Close()
			return nil, fmt.Errorf("wlc: epoll_ctl (backend fd): %w", err)
		}
	}

	pool := registry.NewPool()
	ctx := &Context{
		Config:      cfg,
		Callbacks:   cb,
		Bus:         b,
		Session:     sess,
		Backend:     be,
		XKB:         xkbCtx,
		pool:        pool,
		backendReg:  backend.NewRegistry(),
		outputViews: make(map[registry.ID][]registry.ID),
		epfd:        epfd,
		wakeFd:      wakeFd,
	}

	ctx.surfaces = registry.NewSource[surface.Surface](pool, "surface", 64,
		func(s *surface.Surface) { *s = *surface.New() }, nil)
	ctx.views = registry.NewSource[view.View](pool, "view", 64,
		func(v *view.View) { *v = *view.New() }, nil)
	idleTime := time.Duration(cfg.IdleTime) * time.Second
	ctx.outputs = registry.NewSource[output.Output](pool, "output", 8,
		func(o *output.Output) { *o = *output.New(b, idleTime) },
		func(o *output.Output) { o.Close() })
	ctx.cpuRenderer = renderer.NewCPU(ctx.bufferSource, ctx.presentFrame)

	ctx.Seat = seat.New(b)
	ctx.Seat.HitTest = ctx.hitTest
	ctx.Seat.VTActivate = func(n int) {
		if err := ctx.Session.ActivateVT(n); err != nil {
			debugf(logchan.Focus, "vt activate failed", "vt", n, "err", err)
		}
	}
	ctx.Seat.QueueFlush = func(keys []seat.QueuedKey) {
		for _, k := range keys {
			if ctx.Callbacks.Keyboard != nil {
				ctx.Callbacks.Keyboard(ctx.Seat.Keyboard.Focus, k.Time, ctx.Seat.Keyboard.Mods, k.Key, k.Sym, seat.KeyPressed)
			}
		}
	}

	ctx.DataDevice = datadevice.New(b)

	ctx.Bus.Subscribe(bus.Focus, func(payload any) {
		fc, ok := payload.(seat.FocusChange)
		if !ok || fc.From == fc.To {
			return
		}
		ctx.onFocusChange(fc)
	})

	output.SetBoundsFn(ctx.viewBounds)
	output.SetViewMaskFn(ctx.viewMask)
	output.SetFrameCallbackSource(ctx.drainFrameCallbacks)

	if cfg.XWayland {
		if xw, err := xwayland.Start(); err != nil {
			Logger.Warn("xwayland unavailable, continuing without X11 client support", "err", err)
		} else {
			xw.ResolveSurface = func(wire uint32) (registry.ID, bool) {
				id := registry.ID(wire)
				if ctx.surfaces.Lookup(id) == nil {
					return 0, false
				}
				return id, true
			}
			xw.AttachToView = func(surfaceID registry.ID) registry.ID {
				return ctx.CreateView(surfaceID)
			}
			ctx.XWayland = xw
			if conn, err := xwayland.Dial(xw); err != nil {
				Logger.Warn("xwayland WM connection failed, X11 clients will not be managed", "err", err)
			} else {
				ctx.xwaylandConn = conn
			}
		}
	}

	if err := ctx.RefreshOutputs(); err != nil {
		Logger.Error("initial output scan failed", "err", err)
	}

	ctx.Bus.Subscribe(bus.Terminate, func(any) { ctx.terminated.Store(true) })

	return ctx, nil
}

// EventFD returns the compositor's own epoll fd (SPEC_FULL §C, original
// `wlc_get_fds`), letting an embedder fold Run's readiness into its own
// main loop instead of calling Run.
func (ctx *Context) EventFD() int { return ctx.epfd }

// Run drives the compositor's internal epoll loop until Terminate is
// called (§5 "single-threaded, cooperative, driven by a... event loop").
// Session DBus signals, TTY VT-switch signals, and output idle/sleep
// timers are each already watched on their own goroutine (session.Logind,
// session.TTY, time.AfterFunc); Run's loop blocks on the terminate wake-fd
// and, when the backend is an EventPumper, pumps the backend's event fd.
func (ctx *Context) Run() error {
	if ctx.Callbacks.CompositorReady != nil {
		ctx.Callbacks.CompositorReady()
	}
	events := make([]unix.EpollEvent, 8)
	for !ctx.terminated.Load() {
		n, err := unix.EpollWait(ctx.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("wlc: epoll_wait: %w", err)
		}
		pumper, hasPumper := ctx.Backend.(backend.EventPumper)
		for i := 0; i < n; i++ {
			switch {
			case int(events[i].Fd) == ctx.wakeFd:
				var drain [8]byte
				unix.Read(ctx.wakeFd, drain[:])
			case hasPumper && int(events[i].Fd) == pumper.FD():
				pumper.Pump()
			}
		}
	}
	return nil
}

// Terminate raises the internal terminate signal (§5 "terminate() raises
// an internal signal"): the compositor.terminate callback fires, the
// bus.Terminate signal is emitted (deferred output terminations drain at
// their next finish_frame), and Run's loop unblocks.
func (ctx *Context) Terminate() {
	if !ctx.terminated.CompareAndSwap(false, true) {
		return
	}
	if ctx.Callbacks.CompositorTerminate != nil {
		ctx.Callbacks.CompositorTerminate()
	}
	ctx.Bus.Emit(bus.Terminate, struct{}{})
	var one [8]byte
	one[7] = 1
	unix.Write(ctx.wakeFd, one[:])
}

// Close releases every OS resource Init acquired: the XWayland child, the
// backend, the session (restoring the TTY/dropping logind control), and
// the epoll/eventfd pair. Call after Run returns.
func (ctx *Context) Close() error {
	if ctx.xwaylandConn != nil {
		ctx.xwaylandConn.Close()
	}
	if ctx.XWayland != nil {
		ctx.XWayland.Terminate()
	}
	if ctx.Backend != nil {
		ctx.Backend.Terminate()
	}
	if ctx.Session != nil {
		ctx.Session.Close()
	}
	if ctx.XKB != nil {
		ctx.XKB.Close()
	}
	unix.Close(ctx.wakeFd)
	unix.Close(ctx.epfd)
	return nil
}

// --- outputs --------------------------------------------------------------

// RefreshOutputs rescans the active backend and diffs it against the live
// output set, creating new Output records (and calling output.created) for
// newly connected displays and terminating ones that disappeared (§4.3
// "add missing outputs, call output_terminate on removed ones").
func (ctx *Context) RefreshOutputs() error {
	descs, err := ctx.Backend.UpdateOutputs()
	if err != nil {
		return fmt.Errorf("wlc: update outputs: %w", err)
	}
	added, removed := ctx.backendReg.Diff(descs)

	for _, id := range removed {
		if o := ctx.outputs.Lookup(id); o != nil {
			if ctx.Callbacks.Output.ContextDestroy != nil {
				ctx.Callbacks.Output.ContextDestroy(id)
			}
			if ctx.Callbacks.Output.Destroyed != nil {
				ctx.Callbacks.Output.Destroyed(id)
			}
			ctx.outputs.Destroy(id)
		}
		ctx.removeOutputOrder(id)
		delete(ctx.outputViews, id)
	}

	for _, d := range added {
		id, o := ctx.outputs.Create()
		if o == nil {
			Logger.Error("output registry exhausted", "name", d.Name)
			continue
		}
		o.Handle = id
		o.Info = output.Info{Name: d.Name, Resolution: d.Resolution, Scale: 1}

		surf, err := ctx.Backend.OpenSurface(d)
		if err != nil {
			Logger.Error("failed to open backend surface", "name", d.Name, "err", err)
			ctx.outputs.Destroy(id)
			continue
		}
		o.Surface = surf
		o.Renderer = ctx.cpuRenderer
		if fc, ok := surf.(flipCompleter); ok {
			fc.SetFlipCompleteCallback(o.ClearFlipPending)
		}
		ctx.backendReg.Bind(d.Handle, id)
		if ctx.Callbacks.Output.ContextCreated != nil {
			ctx.Callbacks.Output.ContextCreated(id)
		}

		if ctx.Callbacks.Output.Created != nil && !ctx.Callbacks.Output.Created(id) {
			ctx.outputs.Destroy(id)
			continue
		}
		o.SetRepaintHooks(ctx.Callbacks.Output.RenderPre, ctx.Callbacks.Output.RenderPost)
		ctx.outputOrder = append(ctx.outputOrder, id)
		o.ScheduleRepaint()
	}

	for _, d := range descs {
		id, ok := ctx.backendReg.Lookup(d.Handle)
		if !ok {
			continue
		}
		o := ctx.outputs.Lookup(id)
		if o == nil || d.Resolution == o.Info.Resolution {
			continue
		}
		from := image.Point{X: int(o.Info.Resolution.W), Y: int(o.Info.Resolution.H)}
		to := image.Point{X: int(d.Resolution.W), Y: int(d.Resolution.H)}
		o.Info.Resolution = d.Resolution
		if ctx.Callbacks.Output.Resolution != nil {
			ctx.Callbacks.Output.Resolution(id, from, to)
		}
		o.ScheduleRepaint()
	}
	return nil
}

func (ctx *Context) removeOutputOrder(id registry.ID) {
	for i, o := range ctx.outputOrder {
		if o == id {
			ctx.outputOrder = append(ctx.outputOrder[:i], ctx.outputOrder[i+1:]...)
			return
		}
	}
}

// Output looks up an output record by handle.
func (ctx *Context) Output(id registry.ID) *output.Output { return ctx.outputs.Lookup(id) }

// --- surfaces & views -------------------------------------------------------

// CreateSurface allocates a new wl_surface-equivalent record (§4.4).
func (ctx *Context) CreateSurface() registry.ID {
	id, _ := ctx.surfaces.Create()
	return id
}

// Surface looks up a surface record by handle.
func (ctx *Context) Surface(id registry.ID) *surface.Surface { return ctx.surfaces.Lookup(id) }

// DestroySurface releases a surface and detaches it from any view.
func (ctx *Context) DestroySurface(id registry.ID) {
	if s := ctx.surfaces.Lookup(id); s != nil && s.View != 0 {
		if v := ctx.views.Lookup(s.View); v != nil {
			v.Surface = 0
		}
	}
	ctx.surfaces.Destroy(id)
}

// CreateView allocates a top-level view wrapping surfaceID and attaches it
// (§4.5). view.created fires on first buffer commit (Map), not here,
// matching view.Map's documented contract. New views land on the focused
// output's top of stack, or the first output if no output has focus yet
// (§4.3 "new surfaces render on the currently focused output by default").
func (ctx *Context) CreateView(surfaceID registry.ID) registry.ID {
	id, v := ctx.views.Create()
	if v == nil {
		return 0
	}
	v.Handle = id
	ctx.AttachSurfaceToView(surfaceID, id)

	if target := ctx.defaultOutput(); target != 0 {
		v.Output = target
		ctx.outputViews[target] = append(ctx.outputViews[target], id)
		if o := ctx.outputs.Lookup(target); o != nil {
			o.SetViews(ctx.outputViews[target])
		}
	}
	return id
}

// defaultOutput is the output new views are stacked onto: the output
// of the view holding keyboard focus, else the first output in
// creation order, else 0 if no outputs exist yet.
func (ctx *Context) defaultOutput() registry.ID {
	if v := ctx.views.Lookup(ctx.Seat.Keyboard.Focus); v != nil && v.Output != 0 {
		return v.Output
	}
	if len(ctx.outputOrder) > 0 {
		return ctx.outputOrder[0]
	}
	return 0
}

// MoveViewToOutput moves view h from its current output to to, appending it
// to the top of to's stack, and fires view.moveToOutput (§6).
func (ctx *Context) MoveViewToOutput(h, to registry.ID) {
	v := ctx.views.Lookup(h)
	if v == nil || v.Output == to {
		return
	}
	from := v.Output
	ctx.removeOutputView(from, h)
	v.Output = to
	ctx.outputViews[to] = append(ctx.outputViews[to], h)
	if o := ctx.outputs.Lookup(to); o != nil {
		o.SetViews(ctx.outputViews[to])
		o.ScheduleRepaint()
	}
	if o := ctx.outputs.Lookup(from); o != nil {
		o.SetViews(ctx.outputViews[from])
		o.ScheduleRepaint()
	}
	if ctx.Callbacks.View.MoveToOutput != nil {
		ctx.Callbacks.View.MoveToOutput(h, from, to)
	}
}

func (ctx *Context) removeOutputView(outputID, h registry.ID) {
	views := ctx.outputViews[outputID]
	for i, id := range views {
		if id == h {
			ctx.outputViews[outputID] = append(views[:i], views[i+1:]...)
			return
		}
	}
}

// View looks up a view record by handle.
func (ctx *Context) View(id registry.ID) *view.View { return ctx.views.Lookup(id) }

// DestroyView releases a view; if it was mapped, view.destroyed fires
// first (§4.5).
func (ctx *Context) DestroyView(id registry.ID) {
	v := ctx.views.Lookup(id)
	if v == nil {
		return
	}
	if v.Unmap() && ctx.Callbacks.View.Destroyed != nil {
		ctx.Callbacks.View.Destroyed(id)
	}
	if v.Surface != 0 {
		if s := ctx.surfaces.Lookup(v.Surface); s != nil {
			s.View = 0
		}
	}
	if v.Output != 0 {
		ctx.removeOutputView(v.Output, id)
		if o := ctx.outputs.Lookup(v.Output); o != nil {
			o.SetViews(ctx.outputViews[v.Output])
		}
	}
	ctx.views.Destroy(id)
}

// AttachSurfaceToView binds surfaceID to viewID, breaking any previous
// binding on either side (§4.4 "surface_attach_to_view").
func (ctx *Context) AttachSurfaceToView(surfaceID, viewID registry.ID) {
	s := ctx.surfaces.Lookup(surfaceID)
	if s == nil {
		return
	}
	surface.AttachToView(s, surfaceID, viewID,
		func(oldViewID registry.ID) {
			if old := ctx.views.Lookup(oldViewID); old != nil && old.Surface == surfaceID {
				old.Surface = 0
			}
		},
		func(newViewID registry.ID) {
			nv := ctx.views.Lookup(newViewID)
			if nv == nil {
				return
			}
			if nv.Surface != 0 && nv.Surface != surfaceID {
				if other := ctx.surfaces.Lookup(nv.Surface); other != nil {
					other.View = 0
				}
			}
			nv.Surface = surfaceID
		},
	)
}

// CommitSurface runs the full commit walk (§4.4 step 7) rooted at id, then
// resolves the bound view's mapping transition and schedules a repaint on
// its output if anything changed (§4.5, §4.6).
func (ctx *Context) CommitSurface(id registry.ID) {
	s := ctx.surfaces.Lookup(id)
	if s == nil {
		return
	}
	surface.CommitTree(s, ctx.lookupSurface, ctx.releaseBuffer)

	v := ctx.views.Lookup(s.View)
	if v == nil {
		return
	}

	if s.Commit.Buffer != nil {
		if first := v.Map(); first && ctx.Callbacks.View.Created != nil {
			if !ctx.Callbacks.View.Created(v.Handle) {
				ctx.DestroyView(v.Handle)
				return
			}
		}
	} else if v.Unmap() && ctx.Callbacks.View.Destroyed != nil {
		ctx.Callbacks.View.Destroyed(v.Handle)
	}

	if v.Dirty() {
		v.CommitViewState()
	}
	if o := ctx.outputs.Lookup(v.Output); o != nil {
		o.ScheduleRepaint()
	}
}

// RequestGeometry and RequestState forward a client's xdg_toplevel
// set_geometry/set_{maximized,fullscreen,...} request to the embedder as
// view.request.{geometry,state} (§6). Wire-level request marshalling is the
// embedder's protocol layer's job (§1 Non-goals); these are its entry point
// into the core. The core never applies the request itself — the embedder
// must call View.SetGeometry/SetState back to honour it.
func (ctx *Context) RequestGeometry(h registry.ID, g view.Geometry) {
	if ctx.Callbacks.View.RequestGeometry != nil {
		ctx.Callbacks.View.RequestGeometry(h, &g)
	}
}

func (ctx *Context) RequestState(h registry.ID, bit view.StateBit, on bool) {
	if ctx.Callbacks.View.RequestState != nil {
		ctx.Callbacks.View.RequestState(h, bit, on)
	}
}

// NotifyPropertiesUpdated forwards a client's title/class/app_id change as
// view.properties_updated (§6); the embedder reads the new values off the
// view record itself (already committed by the time this fires).
func (ctx *Context) NotifyPropertiesUpdated(h registry.ID, mask view.PropertyMask) {
	if ctx.Callbacks.View.PropertiesUpdated != nil {
		ctx.Callbacks.View.PropertiesUpdated(h, mask)
	}
}

func (ctx *Context) lookupSurface(id registry.ID) *surface.Surface { return ctx.surfaces.Lookup(id) }

func (ctx *Context) releaseBuffer(b *surface.Buffer) {
	debugf(logchan.Commit, "buffer released", "resource", b.Resource)
}

// flipCompleter is implemented by backend surfaces whose page flip
// genuinely completes asynchronously (DRM/KMS): Context wires the flip
// event back to Output.ClearFlipPending so §5's backpressure invariant
// re-arms the scheduler once the flip actually lands.
type flipCompleter interface {
	SetFlipCompleteCallback(func())
}

// bufferSource implements renderer.BufferSource: it resolves a view to its
// surface's most recently committed buffer's decoded image (populated by
// the embedder when it maps a client's wl_shm/dmabuf contents, §4.4 step 7)
// and the view's screen-space bounds.
func (ctx *Context) bufferSource(id registry.ID) (image.Image, geom.Rect, bool) {
	v := ctx.views.Lookup(id)
	if v == nil {
		return nil, geom.Rect{}, false
	}
	s := ctx.surfaces.Lookup(v.Surface)
	if s == nil || s.Commit.Buffer == nil || s.Commit.Buffer.Pixels == nil {
		return nil, geom.Rect{}, false
	}
	bounds, _ := view.GetBounds(v, ctx.ancestorOrigin)
	return s.Commit.Buffer.Pixels, bounds, true
}

// presentFrame implements the CPU renderer's onPresent hook: if the
// output's current backend surface can display a software framebuffer
// directly (only the X11 backend's SDL surface implements Blit), blit it;
// other surfaces are skipped.
func (ctx *Context) presentFrame(out registry.ID, fb *image.RGBA) {
	o := ctx.outputs.Lookup(out)
	if o == nil || o.Surface == nil {
		return
	}
	if blitter, ok := o.Surface.(interface{ Blit(*image.RGBA) }); ok {
		blitter.Blit(fb)
	}
}

// viewBounds is the output package's injected Bounds hook (§4.6 step 4).
func (ctx *Context) viewBounds(id registry.ID) (bounds, opaque geom.Rect, ok bool) {
	v := ctx.views.Lookup(id)
	if v == nil {
		return geom.Rect{}, geom.Rect{}, false
	}
	bounds, _ = view.GetBounds(v, ctx.ancestorOrigin)
	if s := ctx.surfaces.Lookup(v.Surface); s != nil && s.Commit.HasOpaqueSet {
		opaque = s.Commit.OpaqueRegion.Extents().Add(bounds.Min)
	}
	return bounds, opaque, true
}

func (ctx *Context) ancestorOrigin(parent registry.ID) (geom.Point, bool) {
	v := ctx.views.Lookup(parent)
	if v == nil {
		return geom.Point{}, false
	}
	b, _ := view.GetBounds(v, ctx.ancestorOrigin)
	return b.Min, true
}

// viewMask is the output package's injected view-mask hook (§3
// RenderMask).
func (ctx *Context) viewMask(id registry.ID) uint32 {
	v := ctx.views.Lookup(id)
	if v == nil {
		return 0
	}
	return v.RenderMask
}

// drainFrameCallbacks is the output package's injected frame-callback
// source: it fires OnFrameCallback for every pending callback on each
// view's surface and clears them (§4.6 step 9, §4.4 step 3).
func (ctx *Context) drainFrameCallbacks(views []registry.ID, frameTime time.Time) []registry.ID {
	var fired []registry.ID
	for _, vid := range views {
		v := ctx.views.Lookup(vid)
		if v == nil {
			continue
		}
		s := ctx.surfaces.Lookup(v.Surface)
		if s == nil || len(s.Commit.FrameCBs) == 0 {
			continue
		}
		for _, cb := range s.Commit.FrameCBs {
			if ctx.OnFrameCallback != nil {
				ctx.OnFrameCallback(cb.Resource, frameTime)
			}
		}
		s.Commit.FrameCBs = nil
		fired = append(fired, vid)
	}
	return fired
}

// onFocusChange fires view.focus(false)/view.focus(true) for the views
// losing/gaining keyboard or pointer focus, and output.focus when the
// output holding the focused view changes (§6). fc.From/To of 0 means "no
// view" (nothing to unfocus, or focus cleared) and is skipped.
func (ctx *Context) onFocusChange(fc seat.FocusChange) {
	var fromOutput, toOutput registry.ID
	if fc.From != 0 {
		if ctx.Callbacks.View.Focus != nil {
			ctx.Callbacks.View.Focus(fc.From, false)
		}
		if v := ctx.views.Lookup(fc.From); v != nil {
			fromOutput = v.Output
		}
	}
	if fc.To != 0 {
		if ctx.Callbacks.View.Focus != nil {
			ctx.Callbacks.View.Focus(fc.To, true)
		}
		if v := ctx.views.Lookup(fc.To); v != nil {
			toOutput = v.Output
		}
	}
	if ctx.Callbacks.Output.Focus != nil && fromOutput != toOutput {
		if fromOutput != 0 {
			ctx.Callbacks.Output.Focus(fromOutput, false)
		}
		if toOutput != 0 {
			ctx.Callbacks.Output.Focus(toOutput, true)
		}
	}
}

// hitTest is seat's injected HitTester: topmost mapped view whose input
// region (or whole bounds, if unset) contains p, searched output by
// output in creation order (§4.7).
func (ctx *Context) hitTest(p geom.Point) (viewID, surfaceID registry.ID, local geom.Point, ok bool) {
	for _, oid := range ctx.outputOrder {
		o := ctx.outputs.Lookup(oid)
		if o == nil {
			continue
		}
		stack := o.Views()
		for i := len(stack) - 1; i >= 0; i-- {
			v := ctx.views.Lookup(stack[i])
			if v == nil || !v.Mapped {
				continue
			}
			bounds, _ := view.GetBounds(v, ctx.ancestorOrigin)
			if !bounds.Contains(p) {
				continue
			}
			s := ctx.surfaces.Lookup(v.Surface)
			if s == nil {
				continue
			}
			localP := p.Sub(bounds.Min)
			if s.Commit.HasInputSet {
				within := false
				for _, r := range s.Commit.InputRegion.Rects() {
					if r.Contains(localP) {
						within = true
						break
					}
				}
				if !within {
					continue
				}
			}
			return v.Handle, v.Surface, localP, true
		}
	}
	return 0, 0, geom.Point{}, false
}

// --- input dispatch ---------------------------------------------------------

// DispatchKey processes one physical key event: VT hotkeys are intercepted
// before anything else reaches the focused client or the embedder (§4.7);
// otherwise it updates held-key bookkeeping, applies the 100ms post-focus
// queue, and invokes Callbacks.Keyboard for every key that clears the
// queue.
func (ctx *Context) DispatchKey(eventTime uint32, scancode, sym uint32, pressed bool) bool {
	if pressed {
		if n := seat.CheckVTHotkey(ctx.Seat.Keyboard.Mods, scancode); n > 0 {
			if ctx.Seat.VTActivate != nil {
				ctx.Seat.VTActivate(n)
			}
			return true
		}
	}
	ctx.Seat.KeyDown(scancode, pressed)

	state := seat.KeyReleased
	if pressed {
		state = seat.KeyPressed
	}
	if !pressed {
		if ctx.Callbacks.Keyboard != nil {
			return ctx.Callbacks.Keyboard(ctx.Seat.Keyboard.Focus, eventTime, ctx.Seat.Keyboard.Mods, scancode, sym, state)
		}
		return false
	}

	deliverNow, locked := ctx.Seat.QueueOrDeliverAt(time.Now(), eventTime, scancode, sym)
	if locked {
		return true
	}
	consumed := false
	for _, k := range deliverNow {
		if ctx.Callbacks.Keyboard != nil {
			if ctx.Callbacks.Keyboard(ctx.Seat.Keyboard.Focus, k.Time, ctx.Seat.Keyboard.Mods, k.Key, k.Sym, seat.KeyPressed) {
				consumed = true
			}
		}
	}
	return consumed
}

// DispatchMotion re-resolves pointer focus and invokes Callbacks.Pointer.Motion;
// while a pointer grab is active it instead feeds view.request.move/resize,
// per the grab action recorded by DispatchButton (§4.7 "moves during grab
// feed the embedder's request.move/request.resize depending on action").
// The core never moves or resizes the view itself: the embedder decides by
// calling the corresponding mutator back, or ignoring it.
func (ctx *Context) DispatchMotion(eventTime uint32, p geom.Point) bool {
	if grab := ctx.Seat.Pointer.Grab; grab != seat.GrabNone {
		ctx.Seat.Motion(p)
		gp := geomPoint{X: p.X, Y: p.Y}
		switch grab {
		case seat.GrabMove:
			if ctx.Callbacks.View.RequestMove != nil {
				ctx.Callbacks.View.RequestMove(ctx.Seat.Pointer.GrabView, gp)
			}
		case seat.GrabResize:
			if ctx.Callbacks.View.RequestResize != nil {
				ctx.Callbacks.View.RequestResize(ctx.Seat.Pointer.GrabView, view.ResizeEdge(ctx.Seat.Pointer.GrabEdges), gp)
			}
		}
		return true
	}
	ctx.Seat.Motion(p)
	if ctx.Callbacks.Pointer.Motion != nil {
		return ctx.Callbacks.Pointer.Motion(ctx.Seat.Pointer.FocusView, eventTime, geomPoint{X: p.X, Y: p.Y})
	}
	return false
}

// DispatchButton begins/ends a pointer grab per action and invokes
// Callbacks.Pointer.Button (§4.7).
func (ctx *Context) DispatchButton(eventTime uint32, button uint32, pressed bool, action seat.GrabAction, edges uint32) bool {
	state := seat.ButtonReleased
	if pressed {
		state = seat.ButtonPressed
		if target := ctx.Seat.Pointer.FocusView; target != 0 && target != ctx.Seat.Keyboard.Focus {
			ctx.Seat.KeyboardFocus(target)
		}
		ctx.Seat.ButtonPress(action, edges)
	} else {
		ctx.Seat.ButtonRelease()
	}
	if ctx.Callbacks.Pointer.Button != nil {
		p := ctx.Seat.Pointer.Pos
		return ctx.Callbacks.Pointer.Button(ctx.Seat.Pointer.FocusView, eventTime, ctx.Seat.Keyboard.Mods, button, state, geomPoint{X: p.X, Y: p.Y})
	}
	return false
}

// DispatchScroll invokes Callbacks.Pointer.Scroll (§4.7).
func (ctx *Context) DispatchScroll(eventTime uint32, axis seat.ScrollAxis, amount float64) bool {
	if ctx.Callbacks.Pointer.Scroll != nil {
		return ctx.Callbacks.Pointer.Scroll(ctx.Seat.Pointer.FocusView, eventTime, ctx.Seat.Keyboard.Mods, axis, amount)
	}
	return false
}

// DispatchTouch routes one touch event per slot (down moves the pointer,
// up does not, §4.7) and invokes Callbacks.Touch.
func (ctx *Context) DispatchTouch(eventTime uint32, kind seat.TouchKind, slot int32, p geom.Point) bool {
	var view registry.ID
	switch kind {
	case seat.TouchDown:
		view, _ = ctx.Seat.TouchDown(slot, p)
	case seat.TouchMotion:
		view, _, _ = ctx.Seat.TouchMove(slot, p)
	case seat.TouchUp:
		view, _, _ = ctx.Seat.TouchUp(slot)
	case seat.TouchCancel:
		ctx.Seat.TouchCancel()
	}
	if ctx.Callbacks.Touch != nil {
		return ctx.Callbacks.Touch(view, eventTime, ctx.Seat.Keyboard.Mods, kind, slot, geomPoint{X: p.X, Y: p.Y})
	}
	return false
}
