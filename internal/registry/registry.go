// Package registry implements the resource/handle registry described in
// spec §3–§4.1: a process-wide pool of opaque 64-bit public ids over two
// relocation-safe arenas (one for handles, one for Wayland-object-tied
// resources), cross-referenced with per-type "source" arenas.
//
// The C original (src/resources/resources.c) type-tags entries with a
// string compared at the API boundary and returns void* that the caller
// casts. Go gives us something strictly better for the same contract: a
// generic Source[T] whose Lookup is statically typed, so the string tag
// from the original becomes a debug/logging label instead of a runtime
// safety check — the type system already guarantees convert_from_handle
// never hands back a pointer of the wrong type, which is exactly the
// invariant §4.1 asks for ("a mismatching tag yields null... never a
// wrong-type pointer").
package registry

import (
	"fmt"
	"unsafe"

	"honnef.co/go/safeish"
)

// ID is the stable integer identifier the spec calls a "handle" when it is
// not tied to a Wayland object, and a "resource" when it is. Both are the
// same shape: a 1-based index into the master pool. Zero means "none".
type ID uint64

// entry is a master-pool record: {source, public_id, private_slot,
// user_data} per spec §3, plus the destroy-listener hook resources need.
type entry struct {
	alive      bool
	sourceID   int
	privateIdx int
	onDestroy  func()
}

// Pool is one of the two process-wide master pools (handles, resources).
// It is safe to use from a single compositor event-loop goroutine only —
// per §5 there is no internal locking anywhere in this library.
type Pool struct {
	entries []entry
	free    []int // master-entry indices alloc may reuse; Destroy never adds to it, so public ids are not reused
	sources []*sourceBase
}

// NewPool creates an empty master pool.
func NewPool() *Pool {
	return &Pool{entries: make([]entry, 1)} // index 0 is reserved ("none")
}

// sourceBase is the type-erased half of Source[T] the Pool needs to talk to
// (relocate, release) without knowing T.
type sourceBase struct {
	name    string
	grow    int
	relocFn func(oldAddr, newAddr unsafe.Pointer)
	destroy func(priv int)
	release func()
	addr    unsafe.Pointer
}

// Source is a named, typed arena, per spec §3/§4.1. T is the concrete
// record type the source carries (Surface, View, Output, ...).
type Source[T any] struct {
	pool      *Pool
	id        int
	base      *sourceBase
	slots     []slot[T]
	freeSlots []int
	construct func(*T)
	destruct  func(*T)
}

type slot[T any] struct {
	used  bool
	value T
	owner ID // the master-pool public id pointing at this slot
}

// NewSource registers a new typed arena in pool. grow is recorded on the
// source (defaulting to 16) but does not drive allocation: slots grow by
// append. construct/destruct may be nil.
func NewSource[T any](pool *Pool, name string, grow int, construct, destruct func(*T)) *Source[T] {
	if grow <= 0 {
		grow = 16
	}
	s := &Source[T]{pool: pool, construct: construct, destruct: destruct}
	base := &sourceBase{name: name, grow: grow}
	base.relocFn = func(oldAddr, newAddr unsafe.Pointer) {
		// no-op: Source[T] never hands out raw pointers into slots across a
		// growth boundary (Lookup always re-derives the pointer from the
		// current slice header), so there is nothing to repoint here other
		// than bookkeeping addr for diagnostics.
		base.addr = newAddr
	}
	base.destroy = func(priv int) {
		if priv < 0 || priv >= len(s.slots) || !s.slots[priv].used {
			return
		}
		if s.destruct != nil {
			s.destruct(&s.slots[priv].value)
		}
		s.slots[priv] = slot[T]{}
		s.freeSlots = append(s.freeSlots, priv)
	}
	base.release = func() {
		for i := range s.slots {
			if s.slots[i].used {
				owner := s.slots[i].owner
				if int(owner) < len(pool.entries) && pool.entries[owner].alive {
					pool.entries[owner].alive = false
					if cb := pool.entries[owner].onDestroy; cb != nil {
						cb()
					}
				}
				if s.destruct != nil {
					s.destruct(&s.slots[i].value)
				}
			}
		}
		s.slots = nil
		s.freeSlots = nil
	}
	s.id = len(pool.sources)
	pool.sources = append(pool.sources, base)
	s.base = base
	return s
}

// Create allocates a new slot in the source and a new public id in the
// master pool pointing at it, per §4.1's handle_create. The constructor (if
// any) runs with the address of the freshly (re)allocated record, matching
// the original's "calls the constructor with the allocation address".
//
// Growth-relocation rule (§4.1's "core correctness contract"): because
// Source[T] stores values in a slice and Lookup always re-indexes that
// slice rather than caching a pointer across calls, there is no stale
// pointer to rewrite when append() relocates the backing array — the
// indirection (public id -> master entry -> private slot index -> current
// slice) is relocation-safe by construction. This is the Go-native
// expression of the rule the C version enforces by hand.
func (s *Source[T]) Create() (ID, *T) {
	var priv int
	if n := len(s.freeSlots); n > 0 {
		priv = s.freeSlots[n-1]
		s.freeSlots = s.freeSlots[:n-1]
	} else {
		priv = len(s.slots)
		s.slots = append(s.slots, slot[T]{})
	}

	id, ok := s.pool.alloc(s.id, priv)
	if !ok {
		// Roll back the partially allocated slot so no dangling state is
		// observable on failure (§4.1 "Failure" paragraph).
		s.freeSlots = append(s.freeSlots, priv)
		return 0, nil
	}

	s.slots[priv] = slot[T]{used: true, owner: id}
	rec := &s.slots[priv].value
	if s.construct != nil {
		s.construct(rec)
	}
	return id, rec
}

// alloc reserves a master-pool entry pointing at (sourceID, priv).
func (p *Pool) alloc(sourceID, priv int) (ID, bool) {
	var idx int
	if n := len(p.free); n > 0 {
		idx = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		idx = len(p.entries)
		p.entries = append(p.entries, entry{})
	}
	p.entries[idx] = entry{alive: true, sourceID: sourceID, privateIdx: priv}
	return ID(idx), true
}

// Lookup resolves a public id back to its typed record, or nil if the id is
// dead or belongs to a different source (the type-safety check the spec
// asks for is automatic here: you can only call Lookup on the Source[T] you
// got the id from in the first place, or you go through LookupTagged which
// does the runtime check for boundary code that only has an ID and a name).
func (s *Source[T]) Lookup(id ID) *T {
	if id == 0 || int(id) >= len(s.pool.entries) {
		return nil
	}
	e := s.pool.entries[id]
	if !e.alive || e.sourceID != s.id {
		return nil
	}
	if e.privateIdx < 0 || e.privateIdx >= len(s.slots) || !s.slots[e.privateIdx].used {
		return nil
	}
	return &s.slots[e.privateIdx].value
}

// Name reports the source's type tag, for logging / the tagged lookup API.
func (s *Source[T]) Name() string { return s.base.name }

// Release destroys every handle/resource the source owns and releases its
// arena (§4.1: "Destruction order: releasing a source releases every handle
// and resource whose source pointer it owns, invalidating all their public
// ids atomically").
func (s *Source[T]) Release() {
	s.base.release()
}

// Destroy releases a single id: frees its master-pool entry, its private
// slot, and runs the destroy-listener callback registered via OnDestroy.
func (s *Source[T]) Destroy(id ID) {
	if id == 0 || int(id) >= len(s.pool.entries) {
		return
	}
	e := &s.pool.entries[id]
	if !e.alive || e.sourceID != s.id {
		return
	}
	e.alive = false
	priv := e.privateIdx
	cb := e.onDestroy
	e.onDestroy = nil
	s.base.destroy(priv)
	if cb != nil {
		cb()
	}
}

// OnDestroy registers the reciprocal destroy-listener link described in
// §4.1: a Wayland object's destroy listener should call this to release the
// resource entry, and releasing the resource (via Destroy) should in turn
// destroy the Wayland object exactly once. The callback is that second
// direction; callers (resource wrapper types) are responsible for making it
// idempotent from the Wayland-object side by registering their own destroy
// listener that calls Destroy, *not* this callback, first.
func (s *Source[T]) OnDestroy(id ID, cb func()) {
	if id == 0 || int(id) >= len(s.pool.entries) {
		return
	}
	e := &s.pool.entries[id]
	if e.alive && e.sourceID == s.id {
		e.onDestroy = cb
	}
}

// Tagged is the boundary-crossing counterpart of Lookup, used where code
// only has an ID and a source name (debug tooling, cross-package generic
// dispatch) — the one place this registry does a runtime tag check, mirror
// of convert_from_handle(id, "type-tag") in §4.1. It returns false (never a
// wrong-type pointer) on any mismatch.
func Tagged(p *Pool, id ID, wantName string) bool {
	if id == 0 || int(id) >= len(p.entries) {
		return false
	}
	e := p.entries[id]
	if !e.alive || e.sourceID < 0 || e.sourceID >= len(p.sources) {
		return false
	}
	return p.sources[e.sourceID].name == wantName
}

// DebugString renders an id for log lines (§A ambient logging wants
// output_id/view_id fields; this keeps their formatting in one place).
func DebugString(p *Pool, id ID) string {
	if id == 0 {
		return "<none>"
	}
	if int(id) >= len(p.entries) || !p.entries[id].alive {
		return fmt.Sprintf("<dead:%d>", id)
	}
	e := p.entries[id]
	name := "?"
	if e.sourceID >= 0 && e.sourceID < len(p.sources) {
		name = p.sources[e.sourceID].name
	}
	return fmt.Sprintf("%s#%d", name, id)
}

// CastSlot is a thin, checked unsafe-cast helper for call sites that need to
// reinterpret a foreign library's returned pointer as a Go struct overlay
// (e.g. the DRM backend's purego calls, which hand back a bare uintptr for
// drmModeRes/drmModeConnector/drmModeEncoder). It exists so there is exactly
// one place in this module that talks to safeish, matching
// dominikh-go-libwayland's use of safeish.Cast at its single dispatcher
// boundary rather than scattering unsafe casts through the codebase.
func CastSlot[T any](p unsafe.Pointer) *T {
	return safeish.Cast[*T](p)
}
