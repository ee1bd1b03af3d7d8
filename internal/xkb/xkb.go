// Package xkb wraps libxkbcommon for the seat's keymap/modifier/keysym
// decoding (§4.7: "xkb state is updated ... modifier/group serialisations
// are compared against last snapshot").
//
// Grounded on gio's app/internal/xkb/xkb_unix.go for the New/DispatchKey/
// UpdateMask/keysym-conversion shape, but rebuilt on
// github.com/ebitengine/purego dlopen bindings (following
// aymanbagabas-go-nativeclipboard's clipboard_x11.go dlopen-table pattern)
// instead of cgo, since this module is cgo-free throughout.
package xkb

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

var (
	libOnce sync.Once
	libErr  error
	lib     uintptr

	xkbContextNew           func(flags uint32) uintptr
	xkbContextUnref         func(ctx uintptr)
	xkbKeymapNewFromNames   func(ctx uintptr, names *RuleNames, flags uint32) uintptr
	xkbKeymapUnref          func(keymap uintptr)
	xkbStateNew             func(keymap uintptr) uintptr
	xkbStateUnref           func(state uintptr)
	xkbStateUpdateMask      func(state uintptr, depressedMods, latchedMods, lockedMods uint32, depressedLayout, latchedLayout, lockedLayout uint32) uint32
	xkbStateKeyGetSyms      func(state uintptr, keycode uint32, syms *uintptr) int
	xkbStateModNameIsActive func(state uintptr, name string, modType uint32) int
	xkbStateLedNameIsActive func(state uintptr, name string) int
	xkbStateSerializeMods   func(state uintptr, modType uint32) uint32
)

const (
	contextNoFlags  = 0
	keymapNoFlags   = 0
	stateModsEffective = 1 << 2
)

func load() error {
	libOnce.Do(func() {
		var err error
		for _, path := range []string{"libxkbcommon.so.0", "libxkbcommon.so"} {
			lib, err = purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
			if err == nil {
				break
			}
		}
		if err != nil {
			libErr = fmt.Errorf("xkb: dlopen libxkbcommon: %w", err)
			return
		}
		purego.RegisterLibFunc(&xkbContextNew, lib, "xkb_context_new")
		purego.RegisterLibFunc(&xkbContextUnref, lib, "xkb_context_unref")
		purego.RegisterLibFunc(&xkbKeymapNewFromNames, lib, "xkb_keymap_new_from_names")
		purego.RegisterLibFunc(&xkbKeymapUnref, lib, "xkb_keymap_unref")
		purego.RegisterLibFunc(&xkbStateNew, lib, "xkb_state_new")
		purego.RegisterLibFunc(&xkbStateUnref, lib, "xkb_state_unref")
		purego.RegisterLibFunc(&xkbStateUpdateMask, lib, "xkb_state_update_mask")
		purego.RegisterLibFunc(&xkbStateKeyGetSyms, lib, "xkb_state_key_get_syms")
		purego.RegisterLibFunc(&xkbStateModNameIsActive, lib, "xkb_state_mod_name_is_active")
		purego.RegisterLibFunc(&xkbStateLedNameIsActive, lib, "xkb_state_led_name_is_active")
		purego.RegisterLibFunc(&xkbStateSerializeMods, lib, "xkb_state_serialize_mods")
	})
	return libErr
}

// RuleNames mirrors struct xkb_rule_names (rules/model/layout/variant/
// options, all as C strings via unsafe.Pointer set by the caller).
type RuleNames struct {
	Rules, Model, Layout, Variant, Options uintptr
}

// Context owns a libxkbcommon context+keymap+state triple for one seat's
// keyboard (§4.7).
type Context struct {
	ctx    uintptr
	keymap uintptr
	state  uintptr

	lastMods Mods
}

// Mods is the raw xkb modifier serialisation snapshotted after every key
// event, compared against the previous snapshot to decide whether a
// wl_keyboard.modifiers event must be sent (§4.7).
type Mods struct {
	Depressed, Latched, Locked uint32
	Group                      uint32
}

func cstr(s string) (uintptr, func()) {
	b := append([]byte(s), 0)
	ptr := unsafe.Pointer(&b[0])
	return uintptr(ptr), func() {}
}

// New creates an xkb context and compiles a keymap from the given
// rules/model/layout/variant/options (empty strings mean "system default"),
// matching gio's xkb.New but without cgo.
func New(rules, model, layout, variant, options string) (*Context, error) {
	if err := load(); err != nil {
		return nil, err
	}
	ctx := xkbContextNew(contextNoFlags)
	if ctx == 0 {
		return nil, fmt.Errorf("xkb: xkb_context_new failed")
	}
	rp, _ := cstr(rules)
	mp, _ := cstr(model)
	lp, _ := cstr(layout)
	vp, _ := cstr(variant)
	op, _ := cstr(options)
	names := RuleNames{Rules: rp, Model: mp, Layout: lp, Variant: vp, Options: op}

	keymap := xkbKeymapNewFromNames(ctx, &names, keymapNoFlags)
	if keymap == 0 {
		xkbContextUnref(ctx)
		return nil, fmt.Errorf("xkb: no keymap for rules=%q model=%q layout=%q variant=%q options=%q", rules, model, layout, variant, options)
	}
	state := xkbStateNew(keymap)
	if state == 0 {
		xkbKeymapUnref(keymap)
		xkbContextUnref(ctx)
		return nil, fmt.Errorf("xkb: xkb_state_new failed")
	}
	return &Context{ctx: ctx, keymap: keymap, state: state}, nil
}

// Close releases the state/keymap/context triple.
func (c *Context) Close() {
	if c.state != 0 {
		xkbStateUnref(c.state)
	}
	if c.keymap != 0 {
		xkbKeymapUnref(c.keymap)
	}
	if c.ctx != 0 {
		xkbContextUnref(c.ctx)
	}
	c.state, c.keymap, c.ctx = 0, 0, 0
}

// UpdateMask feeds a fresh depressed/latched/locked/group mask (as decoded
// from a wl_keyboard.modifiers-equivalent source event) into the state and
// returns the new serialisation plus whether it differs from the previous
// one (§4.7 "compared against last snapshot").
func (c *Context) UpdateMask(depressed, latched, locked, group uint32) (mods Mods, changed bool) {
	xkbStateUpdateMask(c.state, depressed, latched, locked, group, 0, 0)
	mods = Mods{Depressed: depressed, Latched: latched, Locked: locked, Group: group}
	changed = mods != c.lastMods
	c.lastMods = mods
	return mods, changed
}

// KeyGetSyms returns the keysyms the given evdev keycode (already offset by
// +8 per the X11/xkb convention) currently maps to.
func (c *Context) KeyGetSyms(keycode uint32) []uint32 {
	var first uintptr
	n := xkbStateKeyGetSyms(c.state, keycode, &first)
	if n <= 0 {
		return nil
	}
	out := make([]uint32, n)
	base := (*[1 << 10]uint32)(unsafe.Pointer(first))
	copy(out, base[:n])
	return out
}

// ModActive reports whether the named modifier (e.g. "Shift", "Control",
// "Mod1") is currently active in the effective mod state.
func (c *Context) ModActive(name string) bool {
	return xkbStateModNameIsActive(c.state, name, stateModsEffective) == 1
}
