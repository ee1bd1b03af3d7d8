package seat

import (
	"sync"
	"time"

	"github.com/Cloudef/go-wlc/internal/bus"
	"github.com/Cloudef/go-wlc/internal/geom"
	"github.com/Cloudef/go-wlc/internal/registry"
	"github.com/Cloudef/go-wlc/internal/xkb"
)

// DecodeModifiers builds the public Modifiers struct the embedder callback
// surface receives, from a live xkb state (§4.7).
func DecodeModifiers(ctx *xkb.Context, mods xkb.Mods) Modifiers {
	return Modifiers{
		Mods:  mods.Depressed | mods.Latched | mods.Locked,
		Leds:  0,
		Shift: ctx.ModActive("Shift"),
		Caps:  ctx.ModActive("Lock"),
		Ctrl:  ctx.ModActive("Control"),
		Alt:   ctx.ModActive("Mod1"),
		Mod2:  ctx.ModActive("Mod2"),
		Mod3:  ctx.ModActive("Mod3"),
		Logo:  ctx.ModActive("Mod4"),
		Mod5:  ctx.ModActive("Mod5"),
	}
}

// HitTester resolves the topmost view (and, within it, the surface) whose
// input region contains a point, walking the sub-surface tree with local
// offsets applied (§4.7 "recompute the focused surface"). The output
// package supplies this; seat has no view of the output's stacking order.
type HitTester func(p geom.Point) (view registry.ID, surface registry.ID, local geom.Point, ok bool)

// GrabAction distinguishes a move grab from a resize grab (§4.7
// "request.move/request.resize depending on action").
type GrabAction int

const (
	GrabNone GrabAction = iota
	GrabMove
	GrabResize
)

// Seat aggregates the single keyboard/pointer/touch focus model. The
// original supports multiple seats in principle but wlc itself is
// effectively single-seat (§1 Non-goals: "only ever one seat"); Seat
// reflects that by holding one of each device directly.
type Seat struct {
	Bus *bus.Bus

	mu sync.Mutex

	Keyboard Keyboard
	Pointer  Pointer
	Touch    Touch

	HitTest HitTester

	// VTActivate is called when CTRL+ALT+F{n} is pressed; n is 1..30.
	VTActivate func(n int)

	// QueueFlush delivers keys that are still sitting in the post-focus
	// lock queue once the 100ms window elapses with no follow-up key event
	// to piggyback the flush on (§4.7 "queued keys are delivered ... on
	// timeout"). Wired by wlc.go.
	QueueFlush func(keys []QueuedKey)
	queueTimer *time.Timer
}

// New constructs a Seat wired to bus b.
func New(b *bus.Bus) *Seat {
	s := &Seat{Bus: b}
	s.Keyboard.held = make(map[uint32]bool)
	s.Touch.points = make(map[int32]touchPoint)
	return s
}

// EventKind values published on the Focus/Input bus channels.
const (
	EventKeyboardFocus = "keyboard_focus"
	EventPointerFocus  = "pointer_focus"
	EventGrabBegin     = "grab_begin"
	EventGrabEnd       = "grab_end"
)

// FocusChange is the payload for EventKeyboardFocus/EventPointerFocus.
type FocusChange struct {
	From, To registry.ID
}

// --- Keyboard ---------------------------------------------------------

// Keyboard holds xkb-derived modifier state, the focused view/resource, and
// the set of physically-held keys (for focus-change release synthesis).
type Keyboard struct {
	Focus     registry.ID
	Mods      Modifiers
	held      map[uint32]bool
	lockUntil time.Time
	queued    []QueuedKey
}

// QueuedKey is one key event held back by the post-focus lock window,
// redelivered once the window elapses (§4.7).
type QueuedKey struct {
	Time uint32
	Key  uint32
	Sym  uint32
}

// vtKeysymBase is the keysym offset used to decode CTRL+ALT+F{1..30}: the
// original computes VT number as keycode-58 off the raw evdev scancode
// (F1 == KEY_F1 == 59), so n = keycode-58.
const vtKeysymBase = 58

// KeyDown processes a physical key press/release. It only tracks held-key
// bookkeeping and returns nothing; the VT hotkey is checked by
// CheckVTHotkey, and dispatch to the embedder callback and client resource
// happens in the caller (wlc.go), which has the Callbacks and Context.
func (s *Seat) KeyDown(scancode uint32, pressed bool) {
	if pressed {
		s.Keyboard.held[scancode] = true
	} else {
		delete(s.Keyboard.held, scancode)
	}
}

// CheckVTHotkey reports the VT number (1..30) if mods+scancode form
// CTRL+ALT+F{n}, else 0 (§4.7).
func CheckVTHotkey(mods Modifiers, scancode uint32) int {
	if !mods.Ctrl || !mods.Alt {
		return 0
	}
	if scancode <= vtKeysymBase {
		return 0
	}
	n := int(scancode) - vtKeysymBase
	if n < 1 || n > 30 {
		return 0
	}
	return n
}

// KeyboardFocus transitions keyboard focus to view `to`. Callers (wlc.go)
// are responsible for: synthesising release events for currently-held keys
// against the old focus's resource, sending leave, emitting
// view.focus(false) for the old view, binding the new resource, sending
// enter with an empty keys array, and the 100ms post-focus key queue delay
// (§4.7). This method only updates the bookkeeping and arms the lock
// window, returning the previous focus for the caller's release synthesis.
func (s *Seat) KeyboardFocus(to registry.ID) (from registry.ID, releaseKeys []uint32) {
	s.mu.Lock()
	from = s.Keyboard.Focus
	for k := range s.Keyboard.held {
		releaseKeys = append(releaseKeys, k)
	}
	s.Keyboard.held = make(map[uint32]bool)
	s.Keyboard.Focus = to
	s.Keyboard.lockUntil = nowFunc().Add(100 * time.Millisecond)
	s.Keyboard.queued = nil
	if s.queueTimer != nil {
		s.queueTimer.Stop()
	}
	s.queueTimer = time.AfterFunc(100*time.Millisecond, s.flushQueueTimeout)
	s.mu.Unlock()

	if s.Bus != nil {
		s.Bus.Emit(bus.Focus, FocusChange{From: from, To: to})
	}
	return from, releaseKeys
}

// flushQueueTimeout delivers any keys still sitting in the post-focus queue
// once the lock window elapses on its own, with no later key event to
// drain them (§4.7).
func (s *Seat) flushQueueTimeout() {
	s.mu.Lock()
	queued := s.Keyboard.queued
	s.Keyboard.queued = nil
	flush := s.QueueFlush
	s.mu.Unlock()
	if len(queued) > 0 && flush != nil {
		flush(queued)
	}
}

// QueueOrDeliver implements the 100ms post-focus lock: while locked, keys
// are queued (returned ok=false, caller holds on to them); once the lock
// has elapsed, QueueOrDeliver drains and returns every queued key plus the
// new one, each to be delivered as a synthetic press with the current
// timestamp (§4.7).
func (s *Seat) QueueOrDeliver(now time.Time, scancode, sym uint32) (deliverNow []QueuedKey, locked bool) {
	return s.QueueOrDeliverAt(now, 0, scancode, sym)
}

// QueueOrDeliverAt is QueueOrDeliver plus the protocol timestamp to stamp
// onto the queued/delivered key, so a caller redelivering held keys after
// the lock elapses can report each one with its original event time.
func (s *Seat) QueueOrDeliverAt(now time.Time, eventTime, scancode, sym uint32) (deliverNow []QueuedKey, locked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Before(s.Keyboard.lockUntil) {
		s.Keyboard.queued = append(s.Keyboard.queued, QueuedKey{Time: eventTime, Key: scancode, Sym: sym})
		return nil, true
	}
	if len(s.Keyboard.queued) > 0 {
		deliverNow = append(deliverNow, s.Keyboard.queued...)
		s.Keyboard.queued = nil
	}
	deliverNow = append(deliverNow, QueuedKey{Time: eventTime, Key: scancode, Sym: sym})
	return deliverNow, false
}

// nowFunc is indirected so tests can fake the 100ms lock window.
var nowFunc = time.Now

// --- Pointer ------------------------------------------------------------

// Pointer holds cursor position (clamped to the active output's
// resolution), the focused surface, and any active grab.
type Pointer struct {
	Pos    geom.Point
	Bounds geom.Rect // current output resolution, for clamping

	FocusView    registry.ID
	FocusSurface registry.ID
	Local        geom.Point // point within FocusSurface's local coordinate space

	Grab       GrabAction
	GrabView   registry.ID
	GrabEdges  uint32
	GrabOrigin geom.Point
}

// Motion clamps p to Bounds, updates Pos, and re-resolves focus via
// HitTest, returning whether focus changed (caller emits the leave/enter
// pair and updates the cursor source per §4.7).
func (s *Seat) Motion(p geom.Point) (changed bool, newView, newSurface registry.ID) {
	p = s.Pointer.Bounds.Clamp(p)
	s.Pointer.Pos = p

	if s.Pointer.Grab != GrabNone {
		return false, s.Pointer.FocusView, s.Pointer.FocusSurface
	}

	var view, surf registry.ID
	var local geom.Point
	var ok bool
	if s.HitTest != nil {
		view, surf, local, ok = s.HitTest(p)
	}
	if !ok {
		view, surf, local = 0, 0, geom.Point{}
	}
	changed = surf != s.Pointer.FocusSurface
	oldView := s.Pointer.FocusView
	s.Pointer.FocusView = view
	s.Pointer.FocusSurface = surf
	s.Pointer.Local = local
	if changed && s.Bus != nil {
		s.Bus.Emit(bus.Focus, FocusChange{From: oldView, To: view})
	}
	return changed, view, surf
}

// ButtonPress begins a grab if none is active, recording the origin point;
// ButtonRelease ends any active grab. Neither returns a value; whether the
// event is forwarded to the client is decided by the caller (via
// FocusSurface != 0).
func (s *Seat) ButtonPress(action GrabAction, edges uint32) {
	if s.Pointer.Grab != GrabNone {
		return
	}
	if action == GrabNone {
		return
	}
	s.Pointer.Grab = action
	s.Pointer.GrabView = s.Pointer.FocusView
	s.Pointer.GrabEdges = edges
	s.Pointer.GrabOrigin = s.Pointer.Pos
	if s.Bus != nil {
		s.Bus.Emit(bus.Input, struct{ View registry.ID }{s.Pointer.GrabView})
	}
}

// ButtonRelease ends any active grab.
func (s *Seat) ButtonRelease() {
	s.Pointer.Grab = GrabNone
	s.Pointer.GrabView = 0
	s.Pointer.GrabEdges = 0
}

// ShouldDismissPopup implements §4.7's popup-dismissal rule: a button press
// while a keyboard-focused popup's pointer focus is not its own parent.
func ShouldDismissPopup(popupView, popupParent, pointerFocusView registry.ID) bool {
	if popupView == 0 {
		return false
	}
	return pointerFocusView != popupView && pointerFocusView != popupParent
}

// --- Touch ----------------------------------------------------------------

type touchPoint struct {
	view, surface registry.ID
	pos           geom.Point
}

// Touch tracks active touch points by slot (§4.7: "slots are delivered to
// the view under the touch point").
type Touch struct {
	points map[int32]touchPoint
}

// Down resolves the view/surface under p for a new slot and records it;
// per §4.7, down also moves the pointer.
func (s *Seat) TouchDown(slot int32, p geom.Point) (view, surface registry.ID) {
	var ok bool
	if s.HitTest != nil {
		view, surface, _, ok = s.HitTest(p)
	}
	if !ok {
		view, surface = 0, 0
	}
	s.Touch.points[slot] = touchPoint{view: view, surface: surface, pos: p}
	s.Motion(p)
	return view, surface
}

// Move updates a slot's position without re-resolving its view (touch
// points stay with their originating view even if it moves under them);
// motion also updates the pointer (§4.7).
func (s *Seat) TouchMove(slot int32, p geom.Point) (view, surface registry.ID, ok bool) {
	tp, exists := s.Touch.points[slot]
	if !exists {
		return 0, 0, false
	}
	tp.pos = p
	s.Touch.points[slot] = tp
	s.Motion(p)
	return tp.view, tp.surface, true
}

// Up removes a slot and reports its last known view/surface. Per §4.7, up
// does NOT move the pointer.
func (s *Seat) TouchUp(slot int32) (view, surface registry.ID, ok bool) {
	tp, exists := s.Touch.points[slot]
	if !exists {
		return 0, 0, false
	}
	delete(s.Touch.points, slot)
	return tp.view, tp.surface, true
}

// Cancel clears every tracked slot (e.g. on focus loss).
func (s *Seat) TouchCancel() {
	s.Touch.points = make(map[int32]touchPoint)
}
