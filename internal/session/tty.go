// tty.go implements the VT ioctl sequence of spec §4.2: KDSKBMODE/
// KDSETMODE graphics-mode switch, VT_SETMODE process-relative VT signalling
// (SIGUSR1 acquire / SIGUSR2 release), and VT_ACTIVATE for the hotkey-driven
// switch.
//
// Grounded on original_source/src/session/tty.c for the exact ioctl
// sequence and constants; golang.org/x/sys/unix supplies the ioctl
// primitive (no pack repo wraps Linux VT ioctls directly; this is the
// closed, kernel-ABI-defined layer every terminal-session tool in the
// ecosystem reaches for golang.org/x/sys to cross).
package session

import (
	"fmt"
	"os"
	"os/signal"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	kdSetMode  = 0x4B3A
	kdGetMode  = 0x4B3B
	kdSetKBMode = 0x4B45
	kdGetKBMode = 0x4B44

	kdTextMode     = 0x00
	kdGraphicsMode = 0x01

	kbRawMode = 0x02

	vtActivate  = 0x5606
	vtWaitActive = 0x5607
	vtSetMode   = 0x5602
	vtRelDisp   = 0x5605
	vtOpenQry   = 0x5600

	vtAuto    = 0x00
	vtProcess = 0x01

	vtAckAcq = 2
)

// vtMode mirrors struct vt_mode for VT_SETMODE (§4.2).
type vtMode struct {
	Mode   int8
	Waitv  int8
	Relsig int16
	Acqsig int16
	Frsig  int16
}

// TTY owns the console fd and the saved kb/vt modes restored on Close
// (§4.2: "child ... restore the TTY (KDSKBMODE, KDSETMODE, VT_ACTIVATE
// back to the original VT)").
type TTY struct {
	fd          int
	savedKBMode uint32
	originalVT  int
	sigCh       chan os.Signal
}

// OpenTTY opens the console device for the given VT number (or /dev/tty0
// if vtnr is 0, meaning "current") and puts it into graphics+raw mode.
func OpenTTY(vtnr int) (*TTY, error) {
	path := "/dev/tty0"
	if vtnr > 0 {
		path = fmt.Sprintf("/dev/tty%d", vtnr)
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("session: open %s: %w", path, err)
	}

	t := &TTY{fd: fd, originalVT: vtnr}

	var kbMode uint32
	if err := ioctlGetInt(fd, kdGetKBMode, &kbMode); err == nil {
		t.savedKBMode = kbMode
	}

	if err := ioctlSetInt(fd, kdSetKBMode, kbRawMode); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("session: KDSKBMODE: %w", err)
	}
	if err := ioctlSetInt(fd, kdSetMode, kdGraphicsMode); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("session: KDSETMODE: %w", err)
	}

	mode := vtMode{Mode: vtProcess, Relsig: int16(unix.SIGUSR2), Acqsig: int16(unix.SIGUSR1)}
	if err := ioctlSetVTMode(fd, &mode); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("session: VT_SETMODE: %w", err)
	}

	t.sigCh = make(chan os.Signal, 4)
	signal.Notify(t.sigCh, unix.SIGUSR1, unix.SIGUSR2)

	return t, nil
}

// Watch runs the VT release/acquire signal loop, invoking onRelease before
// acknowledging a VT-switch-away and onAcquire after a switch-back
// (§4.2 "PauseDevice/ResumeDevice signals drive the compositor-wide
// activate signal" — the fd-passer path's analogue, driven by signals
// instead of DBus).
func (t *TTY) Watch(onRelease, onAcquire func()) {
	go func() {
		for sig := range t.sigCh {
			switch sig {
			case unix.SIGUSR1:
				if onAcquire != nil {
					onAcquire()
				}
				_ = ioctlVTRelDisp(t.fd, vtAckAcq)
			case unix.SIGUSR2:
				if onRelease != nil {
					onRelease()
				}
				_ = ioctlVTRelDisp(t.fd, 1)
			}
		}
	}()
}

// ActivateVT switches to VT n and waits for the switch to complete (§4.2
// ACTIVATE_VT).
func (t *TTY) ActivateVT(n int) error {
	if err := ioctlSetInt(t.fd, vtActivate, n); err != nil {
		return err
	}
	return ioctlSetInt(t.fd, vtWaitActive, n)
}

// Close restores KDSKBMODE/KDSETMODE to their saved values and, if the
// original VT is known, switches back to it (§4.2).
func (t *TTY) Close() error {
	signal.Stop(t.sigCh)
	close(t.sigCh)
	_ = ioctlSetInt(t.fd, kdSetMode, kdTextMode)
	_ = ioctlSetInt(t.fd, kdSetKBMode, int(t.savedKBMode))
	if t.originalVT > 0 {
		_ = t.ActivateVT(t.originalVT)
	}
	return unix.Close(t.fd)
}

func ioctlSetInt(fd int, req uint, val int) error {
	return unix.IoctlSetInt(fd, uint(req), val)
}

func ioctlGetInt(fd int, req uint, out *uint32) error {
	v, err := unix.IoctlGetInt(fd, uint(req))
	if err != nil {
		return err
	}
	*out = uint32(v)
	return nil
}

func ioctlSetVTMode(fd int, m *vtMode) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(vtSetMode), uintptr(unsafe.Pointer(m)))
	if errno != 0 {
		return errno
	}
	return nil
}

func ioctlVTRelDisp(fd int, val int) error {
	return unix.IoctlSetInt(fd, vtRelDisp, val)
}

// getKDMode/setKDMode are the child-process (broker.go) restore helpers;
// they operate on the controlling tty directly since the child has no TTY
// struct of its own.
func getKDMode() (uint32, error) {
	fd, err := unix.Open("/dev/tty", unix.O_RDWR, 0)
	if err != nil {
		return 0, err
	}
	defer unix.Close(fd)
	v, err := unix.IoctlGetInt(fd, kdGetMode)
	return uint32(v), err
}

func setKDMode(mode uint32) error {
	fd, err := unix.Open("/dev/tty", unix.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)
	return unix.IoctlSetInt(fd, kdSetMode, int(mode))
}

func activateVT(n int) error {
	fd, err := unix.Open("/dev/tty0", unix.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)
	if err := unix.IoctlSetInt(fd, vtActivate, n); err != nil {
		return err
	}
	return unix.IoctlSetInt(fd, vtWaitActive, n)
}
