// Package session implements spec §4.2's privilege-drop/device-access
// boundary: the logind DBus path when available, falling back to the
// fd-passer broker child otherwise, plus the VT ioctl layer both paths
// share.
package session

import (
	"os/user"

	"golang.org/x/sys/unix"

	"github.com/Cloudef/go-wlc/internal/bus"
	"github.com/Cloudef/go-wlc/internal/wlerr"
)

// Session is the privilege-and-device-access boundary the backend layer
// opens DRM/input devices through. Exactly one of Logind/Broker is set,
// selected by whichever path is available (§4.2).
type Session struct {
	Logind *Logind
	Broker *Broker
	TTY    *TTY
}

// Open selects the logind path if DBus TakeControl succeeds, else starts
// the fd-passer broker, matching §4.2's "gated on whether logind is
// available for the current seat".
func Open(b *bus.Bus, vtnr int) (*Session, error) {
	if u, err := user.Current(); err == nil && u.Uid == "0" {
		return nil, wlerr.ErrPrivilegedUID
	}

	if l, err := DialLogind(b); err == nil {
		return &Session{Logind: l}, nil
	}

	broker, err := StartBroker()
	if err != nil {
		return nil, err
	}
	tty, err := OpenTTY(vtnr)
	if err != nil {
		broker.Close()
		return nil, err
	}
	return &Session{Broker: broker, TTY: tty}, nil
}

// OpenDevice opens a device node through whichever path is active,
// returning a raw fd the backend can hand to DRM/libinput.
func (s *Session) OpenDevice(path string, flags int, kind DeviceKind) (fd int, err error) {
	if s.Broker != nil {
		f, err := s.Broker.OpenFD(path, flags, kind)
		if err != nil {
			return -1, err
		}
		return int(f.Fd()), nil
	}
	if s.Logind != nil {
		var st unix.Stat_t
		if err := unix.Stat(path, &st); err != nil {
			return -1, err
		}
		major := uint32(unix.Major(uint64(st.Rdev)))
		minor := uint32(unix.Minor(uint64(st.Rdev)))
		takenFd, _, err := s.Logind.TakeDevice(major, minor)
		return takenFd, err
	}
	return -1, wlerr.ErrNoBackend
}

// ActivateVT requests a VT switch through whichever path is active.
func (s *Session) ActivateVT(n int) error {
	if s.Logind != nil {
		return s.Logind.ActivateVT(n)
	}
	if s.Broker != nil {
		return s.Broker.ActivateVT(n)
	}
	return wlerr.ErrNoBackend
}

// Close tears down whichever path is active.
func (s *Session) Close() error {
	if s.Logind != nil {
		return s.Logind.Close()
	}
	if s.TTY != nil {
		_ = s.TTY.Close()
	}
	if s.Broker != nil {
		return s.Broker.Close()
	}
	return nil
}
