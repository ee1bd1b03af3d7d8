// Package seat implements the single-seat keyboard/pointer/touch focus and
// grab model of spec §4.7: Modifiers tracking via xkbcommon state, a single
// focus per input device, and the built-in VT-switch hotkey.
//
// Grounded on original_source/src/compositor/seat/{keyboard,pointer,touch}.c
// for the focus/grab state machines, and internal/xkb (adapted from gio's
// app/internal/xkb/xkb_unix.go) for modifier-mask decoding.
package seat

// Modifiers is the decoded xkb modifier mask delivered alongside every
// keyboard/pointer/touch event (§4.7).
type Modifiers struct {
	Mods  uint32
	Leds  uint32
	Shift bool
	Caps  bool
	Ctrl  bool
	Alt   bool
	Mod2  bool
	Mod3  bool
	Logo  bool
	Mod5  bool
}

// KeyState mirrors wl_keyboard.key_state.
type KeyState uint32

const (
	KeyReleased KeyState = 0
	KeyPressed  KeyState = 1
)

// ButtonState mirrors wl_pointer.button_state.
type ButtonState uint32

const (
	ButtonReleased ButtonState = 0
	ButtonPressed  ButtonState = 1
)

// ScrollAxis mirrors wl_pointer.axis.
type ScrollAxis uint32

const (
	AxisVertical   ScrollAxis = 0
	AxisHorizontal ScrollAxis = 1
)

// TouchKind mirrors wl_touch's down/up/motion/frame/cancel request set
// (§4.7 "touch points are tracked per-slot").
type TouchKind uint32

const (
	TouchDown TouchKind = iota
	TouchUp
	TouchMotion
	TouchFrame
	TouchCancel
)
