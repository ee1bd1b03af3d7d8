package datadevice

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cloudef/go-wlc/internal/bus"
	"github.com/Cloudef/go-wlc/internal/registry"
)

type nopWriteCloser struct{ *bytes.Buffer }

func (nopWriteCloser) Close() error { return nil }

func TestSetSelectionCancelsPrevious(t *testing.T) {
	m := New(bus.New())
	first := &Source{Types: []string{"text/plain"}}
	m.SetSelection(first)
	assert.False(t, first.cancelled)

	second := &Source{Types: []string{"text/plain"}}
	m.SetSelection(second)
	assert.True(t, first.cancelled)
	assert.Same(t, second, m.Current())
}

func TestSetSelectionReturnsRegisteredDevices(t *testing.T) {
	m := New(bus.New())
	m.RegisterDevice(registry.ID(1))
	m.RegisterDevice(registry.ID(2))
	devices := m.SetSelection(&Source{})
	assert.ElementsMatch(t, []registry.ID{1, 2}, devices)
}

func TestUnregisterDeviceRemovesIt(t *testing.T) {
	m := New(bus.New())
	m.RegisterDevice(registry.ID(1))
	m.RegisterDevice(registry.ID(2))
	m.UnregisterDevice(registry.ID(1))
	devices := m.SetSelection(&Source{})
	assert.Equal(t, []registry.ID{2}, devices)
}

func TestReceiveRejectsUnsupportedMime(t *testing.T) {
	m := New(bus.New())
	m.SetSelection(&Source{Types: []string{"text/plain"}, Send: func(string, io.WriteCloser) {}})

	buf := nopWriteCloser{&bytes.Buffer{}}
	err := m.Receive("image/png", buf)
	assert.Error(t, err)
}

func TestReceiveDeliversViaSendCallback(t *testing.T) {
	m := New(bus.New())
	done := make(chan struct{})
	m.SetSelection(&Source{
		Types: []string{"text/plain"},
		Send: func(mime string, w io.WriteCloser) {
			w.Write([]byte("hello"))
			w.Close()
			close(done)
		},
	})

	buf := &bytes.Buffer{}
	err := m.Receive("text/plain", nopWriteCloser{buf})
	require.NoError(t, err)
	<-done
	assert.Equal(t, "hello", buf.String())
}

func TestMimeAliasesRoundTrip(t *testing.T) {
	assert.Equal(t, "UTF8_STRING", X11Target("text/plain;charset=utf-8"))
	assert.Equal(t, "TEXT", X11Target("text/plain"))
	assert.Equal(t, "text/plain", WaylandMime("TEXT"))
	assert.Equal(t, "", X11Target("image/png"))
}
