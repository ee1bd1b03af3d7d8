// Package datadevice implements the clipboard source/offer brokering of
// spec §4.8: set_selection replacement semantics, per-device data_offer
// fanout, and the async receive(type, fd) pipe-to-source.send protocol.
//
// Grounded on original_source/src/data-device/manager.c for the
// source-replacement and offer-fanout semantics.
package datadevice

import (
	"fmt"
	"io"

	"github.com/Cloudef/go-wlc/internal/bus"
	"github.com/Cloudef/go-wlc/internal/registry"
)

// Source is a clipboard content provider, such as a Wayland client's
// wl_data_source. Nothing in this module constructs an X11-backed Source.
type Source struct {
	Handle registry.ID
	Types  []string // advertised MIME types

	// Send writes the content for mimeType into w, and must close w when
	// done, per §4.8 "writes asynchronously and closes the fd".
	Send func(mimeType string, w io.WriteCloser)

	cancelled bool
}

// Cancel marks a source superseded by a newer set_selection (§4.8
// "replaces the current source, cancelling the previous one").
func (s *Source) Cancel() { s.cancelled = true }

// Offer is what each device resource sees for the current selection (§4.8
// "Each device resource sees a new data_offer for the current source's
// advertised types").
type Offer struct {
	Resource registry.ID
	Types    []string
}

// SelectionEvent is published on bus.Selection whenever set_selection
// replaces the current source.
type SelectionEvent struct {
	Source *Source
}

// Manager owns the single current selection and the live device resource
// list that must be offered it (§1 Non-goals: single seat, so one
// clipboard).
type Manager struct {
	Bus *bus.Bus

	current *Source
	devices []registry.ID

	// OfferFactory constructs the protocol-level data_offer resource that
	// gets sent to a device resource; wired by wlc.go since the actual
	// wl_data_offer object lifecycle belongs to the resource layer, not
	// this package.
	OfferFactory func(device registry.ID, source *Source) registry.ID
}

// New constructs an empty clipboard manager.
func New(b *bus.Bus) *Manager {
	return &Manager{Bus: b}
}

// RegisterDevice adds a data-device resource that should receive future
// data_offer events.
func (m *Manager) RegisterDevice(device registry.ID) {
	m.devices = append(m.devices, device)
}

// UnregisterDevice removes a destroyed data-device resource.
func (m *Manager) UnregisterDevice(device registry.ID) {
	for i, d := range m.devices {
		if d == device {
			m.devices = append(m.devices[:i], m.devices[i+1:]...)
			return
		}
	}
}

// SetSelection replaces the current source, cancelling the previous one,
// emits the global selection signal, and reports the list of devices that
// should now be sent a fresh data_offer (§4.8).
func (m *Manager) SetSelection(src *Source) []registry.ID {
	if m.current != nil {
		m.current.Cancel()
	}
	m.current = src
	if m.Bus != nil {
		m.Bus.Emit(bus.Selection, SelectionEvent{Source: src})
	}
	out := make([]registry.ID, len(m.devices))
	copy(out, m.devices)
	return out
}

// Current returns the active selection source, or nil.
func (m *Manager) Current() *Source { return m.current }

// Receive implements a client's receive(type, fd) request: it validates
// the mime type is one the current source advertised, then hands off to
// Source.Send on a new goroutine (§4.8 "pipes the write end to the
// source's send callback, which writes asynchronously and closes the fd").
func (m *Manager) Receive(mimeType string, w io.WriteCloser) error {
	if m.current == nil || m.current.cancelled {
		w.Close()
		return fmt.Errorf("datadevice: no active selection")
	}
	supported := false
	for _, t := range m.current.Types {
		if t == mimeType {
			supported = true
			break
		}
	}
	if !supported {
		w.Close()
		return fmt.Errorf("datadevice: mime type %q not offered", mimeType)
	}
	if m.current.Send == nil {
		w.Close()
		return fmt.Errorf("datadevice: source has no Send implementation")
	}
	go m.current.Send(mimeType, w)
	return nil
}

// MimeAliases maps the text/plain family to its X11 selection-target
// equivalents and back, per §4.8's "text/plain and text/plain;charset=utf-8
// round-trip to TEXT and UTF8_STRING".
var MimeAliases = map[string]string{
	"text/plain":               "TEXT",
	"text/plain;charset=utf-8": "UTF8_STRING",
}

// X11Target returns the X11 selection target atom name for a Wayland mime
// type, or "" if there's no known mapping.
func X11Target(mime string) string {
	return MimeAliases[mime]
}

// WaylandMime is the reverse of X11Target.
func WaylandMime(target string) string {
	for k, v := range MimeAliases {
		if v == target {
			return k
		}
	}
	return ""
}
