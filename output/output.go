// Package output implements the per-output render scheduler of spec §4.6:
// the idle/sleep timer pair, the repaint state machine, adaptive idle
// timing, deferred-task draining, and frame-callback delivery.
//
// Grounded on original_source/src/compositor/output.c for the exact
// sequencing (schedule_repaint -> repaint -> finish_frame) and the ims
// adaptive-timeout formula.
package output

import (
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/Cloudef/go-wlc/internal/bus"
	"github.com/Cloudef/go-wlc/internal/geom"
	"github.com/Cloudef/go-wlc/internal/registry"
)

// Renderer is the GPU/CPU compositing collaborator an Output drives each
// frame. Concrete implementations live in the renderer package; Output only
// depends on this narrow interface to keep the rendering kernel an external
// collaborator (DESIGN.md: renderer is out of scope for this library).
type Renderer interface {
	RenderFrame(output registry.ID, resolution geom.Size, frameTime time.Time, views []registry.ID, backgroundVisible bool) error
	Clear(output registry.ID)
	ReadPixels(output registry.ID, r geom.Rect) ([]byte, bool)
}

// BackendSurface is the per-output half of the backend abstraction Output
// drives for presentation (§4.6 steps 3, 8, and the sleep deferral).
type BackendSurface interface {
	PageFlip() bool
	Sleep(asleep bool) bool
	HasSleepHook() bool
	Renderable() bool // has active session, GPU context, etc.
}

// PixelsRequest is a pending readback (SPEC_FULL §C SchedulePixelsRead):
// Callback receives the pixel data (or nil/false on failure) and the
// request is freed either way, per §4.6 step 7.
type PixelsRequest struct {
	Rect     geom.Rect
	Callback func(pixels []byte, ok bool)
}

// Info is the output's read-only descriptor (§3).
type Info struct {
	Name       string
	Resolution geom.Size
	Scale      int32
}

// Output is one compositor output's full scheduling state.
type Output struct {
	Handle registry.ID
	Bus    *bus.Bus

	Info Info

	Renderer Renderer
	Surface  BackendSurface

	mu sync.Mutex

	views      []registry.ID // bottom-to-top stacking order
	activeMask uint32

	activity  bool
	scheduled bool
	pending   bool // flip outstanding
	sleeping  bool

	ims        float64 // adaptive idle timeout, ms
	lastFrame  time.Time
	idleTimer  *time.Timer
	sleepTimer *time.Timer
	idleTime   time.Duration // configured WLC_IDLE_TIME

	deferredSurfaceSwap    *deferredSwap
	deferredSleep          *bool
	deferredTerminate      bool
	pixelsRequest          *PixelsRequest

	lastBgVisible bool // background_visible computed by the most recent repaint

	background func() (visible bool) // embedder background painter hook, nil = none

	onRepaintPre  func(h registry.ID)
	onRepaintPost func(h registry.ID)
}

type deferredSwap struct {
	surface BackendSurface // nil means "detach" (sentinel invalid display)
}

const (
	imsMin    = 1.0
	imsMax    = 41.0
	imsDecay  = 0.9
	imsGrowth = 1.1
)

// New constructs an Output with default adaptive-idle state and the given
// configured sleep/idle duration (WLC_IDLE_TIME, default 300s).
func New(b *bus.Bus, idleTime time.Duration) *Output {
	return &Output{
		Bus:      b,
		ims:      imsMax,
		idleTime: idleTime,
	}
}

// SetViews replaces the bottom-to-top stacking list, deduplicating while
// preserving first-seen order (the original's set_views contract).
func (o *Output) SetViews(views []registry.ID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	seen := make(map[registry.ID]bool, len(views))
	out := views[:0:0]
	for _, v := range views {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	o.views = out
}

// Views returns the current bottom-to-top stacking list.
func (o *Output) Views() []registry.ID {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.views)
}

// ScheduleRepaint arms the idle timer for 1ms and marks the output dirty
// (§4.6 "schedule_repaint ... arms idle for 1ms").
func (o *Output) ScheduleRepaint() {
	o.mu.Lock()
	o.activity = true
	o.scheduled = true
	o.mu.Unlock()
	o.armIdle(time.Millisecond)
}

func (o *Output) armIdle(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.idleTimer != nil {
		o.idleTimer.Stop()
	}
	o.idleTimer = time.AfterFunc(d, o.Repaint)
}

// SchedulePixelsRead queues a readback request delivered at step 7 of the
// next repaint (SPEC_FULL §C).
func (o *Output) SchedulePixelsRead(r geom.Rect, cb func(pixels []byte, ok bool)) {
	o.mu.Lock()
	o.pixelsRequest = &PixelsRequest{Rect: r, Callback: cb}
	o.mu.Unlock()
	o.ScheduleRepaint()
}

// Repaint runs the full §4.6 steps 1-9. It is safe to call directly (tests)
// or via the idle timer.
func (o *Output) Repaint() {
	o.mu.Lock()
	renderable := o.Surface != nil && o.Surface.Renderable() && !o.pending
	if !renderable {
		if o.scheduled {
			o.activity = false
			o.scheduled = false
		}
		o.mu.Unlock()
		o.drainDeferred()
		return
	}
	frameTime := time.Now()
	stackSnapshot := slices.Clone(o.views)
	mask := o.activeMask
	sleeping := o.sleeping
	bg := o.background
	pixReq := o.pixelsRequest
	o.pixelsRequest = nil
	o.mu.Unlock()

	if o.onRepaintPre != nil {
		o.onRepaintPre(o.Handle)
	}

	if sleeping {
		if o.Renderer != nil {
			o.Renderer.Clear(o.Handle)
		}
		var flipPending bool
		if o.Surface != nil {
			flipPending = o.Surface.PageFlip()
		}
		o.mu.Lock()
		o.pending = flipPending
		o.mu.Unlock()
		o.finishFrame(frameTime)
		return
	}

	last, drawList := o.visibleStack(stackSnapshot, mask)
	bgVisible := last == 0
	if bg != nil {
		bgVisible = bgVisible && bg()
	}

	o.mu.Lock()
	o.lastBgVisible = bgVisible
	o.mu.Unlock()

	if o.Renderer != nil {
		_ = o.Renderer.RenderFrame(o.Handle, o.Info.Resolution, frameTime, drawList, bgVisible)
	}

	if o.Bus != nil {
		o.Bus.Emit(bus.Render, RenderEvent{Output: o.Handle, Time: frameTime})
	}

	if pixReq != nil && o.Renderer != nil {
		pixels, ok := o.Renderer.ReadPixels(o.Handle, pixReq.Rect)
		if pixReq.Callback != nil {
			pixReq.Callback(pixels, ok)
		}
	}

	var flipPending bool
	if o.Surface != nil {
		flipPending = o.Surface.PageFlip()
	}
	o.mu.Lock()
	o.pending = flipPending
	o.mu.Unlock()

	if o.onRepaintPost != nil {
		o.onRepaintPost(o.Handle)
	}

	o.deliverFrameCallbacks(frameTime)
	o.finishFrame(frameTime)
}

// RenderEvent is published on bus.Render after each repaint.
type RenderEvent struct {
	Output registry.ID
	Time   time.Time
}

// visibleStack implements §4.6 step 4: find the top-most fully-covering
// view (last), or else collect every view whose mask bit is set, in
// bottom-to-top order; an active mask of 0 draws every view. bounds/opaque
// lookup is injected via Bounds.

// Bounds is the per-view bounds+opaque lookup the scheduler needs; wired by
// wlc.go from the live view registry.
type Bounds func(v registry.ID) (bounds geom.Rect, opaque geom.Rect, ok bool)

// BoundsFn is set once by the embedder wiring layer.
var BoundsFn Bounds

func (o *Output) visibleStack(views []registry.ID, mask uint32) (last registry.ID, drawList []registry.ID) {
	outRect := geom.RectWH(0, 0, o.Info.Resolution.W, o.Info.Resolution.H)
	for i := len(views) - 1; i >= 0; i-- {
		if BoundsFn == nil {
			break
		}
		_, opaque, ok := BoundsFn(views[i])
		if !ok {
			continue
		}
		if opaque.ContainsRect(outRect) {
			last = views[i]
			break
		}
	}
	if last != 0 {
		return last, []registry.ID{last}
	}
	for _, v := range views {
		if mask != 0 && (viewMaskBit(v)&mask) == 0 {
			continue
		}
		drawList = append(drawList, v)
	}
	return 0, drawList
}

// viewMaskBit placeholder: real mask bit comes from the view record itself;
// wlc.go overrides this via SetViewMaskFn for actual dispatch.
var viewMaskFn func(v registry.ID) uint32

func viewMaskBit(v registry.ID) uint32 {
	if viewMaskFn != nil {
		return viewMaskFn(v)
	}
	return ^uint32(0)
}

// SetViewMaskFn wires the view-mask lookup (wlc.go).
func SetViewMaskFn(fn func(v registry.ID) uint32) { viewMaskFn = fn }

// SetBoundsFn wires the per-view bounds/opaque lookup (wlc.go).
func SetBoundsFn(fn Bounds) { BoundsFn = fn }

// FrameCallbackSource is the per-surface pending-callback drain hook,
// wired by wlc.go to the live surface registry.
type FrameCallbackSource func(views []registry.ID, frameTime time.Time) []registry.ID

var frameCBSource FrameCallbackSource

// SetFrameCallbackSource wires how Output finds pending frame callbacks for
// its current view list.
func SetFrameCallbackSource(fn FrameCallbackSource) { frameCBSource = fn }

func (o *Output) deliverFrameCallbacks(frameTime time.Time) {
	if frameCBSource == nil {
		return
	}
	frameCBSource(o.Views(), frameTime)
}

// finishFrame implements §4.6's adaptive-idle update and re-arms the idle
// timer, or stops scheduling if there was no activity and no background.
func (o *Output) finishFrame(ts time.Time) {
	o.mu.Lock()
	o.lastFrame = ts

	activity := o.activity
	bgVisible := o.lastBgVisible

	if activity {
		o.ims *= imsDecay
	} else {
		o.ims *= imsGrowth
	}
	if o.ims < imsMin {
		o.ims = imsMin
	}
	if o.ims > imsMax {
		o.ims = imsMax
	}
	o.activity = false
	o.scheduled = false
	d := time.Duration(o.ims * float64(time.Millisecond))
	shouldArm := activity || bgVisible
	o.mu.Unlock()

	if shouldArm {
		o.armIdle(d)
	}
	o.drainDeferred()
}

// --- deferred tasks ------------------------------------------------------

// DeferSurfaceSwap schedules a backend-surface swap for after the current
// flip settles; a nil surface means the "invalid display" detach sentinel
// (§4.6 "Deferred tasks").
func (o *Output) DeferSurfaceSwap(s BackendSurface) {
	o.mu.Lock()
	o.deferredSurfaceSwap = &deferredSwap{surface: s}
	o.mu.Unlock()
}

// DeferSleep schedules set_sleep(asleep) until the flip settles (§4.6
// "Sleep: set_sleep(true) defers until !pending").
func (o *Output) DeferSleep(asleep bool) {
	o.mu.Lock()
	o.deferredSleep = &asleep
	o.mu.Unlock()
}

// DeferTerminate schedules library termination once the flip settles.
func (o *Output) DeferTerminate() {
	o.mu.Lock()
	o.deferredTerminate = true
	o.mu.Unlock()
}

func (o *Output) drainDeferred() {
	o.mu.Lock()
	pending := o.pending
	if pending {
		o.mu.Unlock()
		return
	}
	swap := o.deferredSurfaceSwap
	o.deferredSurfaceSwap = nil
	sleep := o.deferredSleep
	o.deferredSleep = nil
	terminate := o.deferredTerminate
	o.deferredTerminate = false
	o.mu.Unlock()

	if swap != nil {
		o.mu.Lock()
		o.Surface = swap.surface
		o.mu.Unlock()
	}
	if sleep != nil {
		o.applySleep(*sleep)
	}
	if terminate && o.Bus != nil {
		o.Bus.Emit(bus.Terminate, o.Handle)
	}
}

// ClearFlipPending is called by the backend once the page flip has
// actually completed, unblocking deferred tasks and further repaints.
func (o *Output) ClearFlipPending() {
	o.mu.Lock()
	o.pending = false
	o.mu.Unlock()
	o.drainDeferred()
}

// applySleep implements the real sleep/wake transition: calls the backend
// hook if present, else fakes it with a clear-to-black, and arms/disarms
// the sleep timer for the configured idle_time (§4.6).
func (o *Output) applySleep(asleep bool) {
	o.mu.Lock()
	o.sleeping = asleep
	surf := o.Surface
	idleTime := o.idleTime
	if o.sleepTimer != nil {
		o.sleepTimer.Stop()
		o.sleepTimer = nil
	}
	o.mu.Unlock()

	if surf != nil && surf.HasSleepHook() {
		surf.Sleep(asleep)
	} else if o.Renderer != nil {
		o.Renderer.Clear(o.Handle)
	}

	if !asleep {
		o.mu.Lock()
		o.sleepTimer = time.AfterFunc(idleTime, func() { o.DeferSleep(true); o.ScheduleRepaint() })
		o.mu.Unlock()
	}
	o.ScheduleRepaint()
}

// SetSleep is the public entry point matching §4.6's set_sleep(true): it
// defers the actual transition until any outstanding flip settles.
func (o *Output) SetSleep(asleep bool) {
	o.mu.Lock()
	pending := o.pending
	o.mu.Unlock()
	if pending {
		o.DeferSleep(asleep)
		return
	}
	o.applySleep(asleep)
}

// SetActiveMask sets the per-output render mask views are tested against
// in step 4 of repaint (§3 "RenderMask").
func (o *Output) SetActiveMask(mask uint32) {
	o.mu.Lock()
	o.activeMask = mask
	o.mu.Unlock()
}

// SetBackground installs the embedder's background-painter hook; it
// returns whether the background should actually be considered visible
// this frame (the embedder may itself decide to skip, e.g. no image
// loaded).
func (o *Output) SetBackground(fn func() bool) {
	o.mu.Lock()
	o.background = fn
	o.mu.Unlock()
}

// SetRepaintHooks wires the embedder's output.render.pre/post callbacks.
func (o *Output) SetRepaintHooks(pre, post func(h registry.ID)) {
	o.onRepaintPre = pre
	o.onRepaintPost = post
}

// Close stops both timers; called when the output is destroyed.
func (o *Output) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.idleTimer != nil {
		o.idleTimer.Stop()
	}
	if o.sleepTimer != nil {
		o.sleepTimer.Stop()
	}
}
