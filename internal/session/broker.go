// broker.go implements the fd-passer path of spec §4.2: a forked child that
// keeps a privileged AF_LOCAL SOCK_SEQPACKET socket alive after the parent
// drops to the real uid/gid, brokering device-fd opens over SCM_RIGHTS.
//
// Grounded on original_source/src/session/fd.c for the message set
// (CHECK/FD_OPEN/FD_CLOSE/ACTIVATE/ACTIVATE_VT/DEACTIVATE), the
// prefix+st_rdev-major validation gate, and the child's TTY-restore-on-
// parent-death behaviour; golang.org/x/sys/unix supplies the
// socketpair/SCM_RIGHTS/ioctl primitives (no pack repo fd-passes directly,
// so this is the stdlib-adjacent x/sys layer the rest of the pack also
// reaches for).
package session

import (
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"

	"github.com/Cloudef/go-wlc/internal/wlerr"
)

// DeviceKind distinguishes the two validated device classes (§4.2 "path
// matches a known prefix and stat.st_rdev major matches the declared
// kind").
type DeviceKind int

const (
	KindInput DeviceKind = iota
	KindDRM
)

// MsgType enumerates the broker protocol's message tags.
type MsgType byte

const (
	MsgCheck MsgType = iota
	MsgFDOpen
	MsgFDClose
	MsgActivate
	MsgActivateVT
	MsgDeactivate
	MsgAck
	MsgNack
)

// inputPrefix/drmPrefix are the path prefixes the child enforces before
// opening anything on the parent's behalf (§4.2).
const (
	inputPrefix = "/dev/input/"
	drmPrefix   = "/dev/dri/"
)

const (
	inputMajor = 13 // Linux INPUT_MAJOR
	drmMajor   = 226
)

// Broker is the parent-side handle to the privileged fd-passer child.
type Broker struct {
	sock *os.File
	cmd  *exec.Cmd
}

// StartBroker forks the current binary into a re-exec'd child (via
// os.Args[0] with a hidden flag) that keeps one end of a SOCK_SEQPACKET
// pair, then returns the parent's handle. Call immediately before dropping
// privilege.
func StartBroker() (*Broker, error) {
	fds, err := unix.Socketpair(unix.AF_LOCAL, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		return nil, fmt.Errorf("session: socketpair: %w", err)
	}
	parentFile := os.NewFile(uintptr(fds[0]), "wlc-broker-parent")
	childFile := os.NewFile(uintptr(fds[1]), "wlc-broker-child")
	defer childFile.Close()

	cmd := exec.Command(os.Args[0], "--wlc-broker-child")
	cmd.ExtraFiles = []*os.File{childFile}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		parentFile.Close()
		return nil, fmt.Errorf("session: start broker child: %w", err)
	}
	return &Broker{sock: parentFile, cmd: cmd}, nil
}

// Check pings the child (§4.2 CHECK) to confirm it is alive; failure means
// the child died, which per §4.2 means the parent must terminate.
func (b *Broker) Check() error {
	if err := b.send(MsgCheck, nil); err != nil {
		return wlerr.ErrBrokerChildDied
	}
	typ, _, err := b.recv()
	if err != nil || typ != MsgAck {
		return wlerr.ErrBrokerChildDied
	}
	return nil
}

// OpenFD requests the child open `path` with the given O_* flags, enforcing
// the prefix+major gate for `kind` (§4.2 FD_OPEN), and returns the fd
// received over SCM_RIGHTS.
func (b *Broker) OpenFD(path string, flags int, kind DeviceKind) (*os.File, error) {
	payload := make([]byte, 0, len(path)+9)
	payload = append(payload, byte(kind))
	var flagBuf [4]byte
	binary.LittleEndian.PutUint32(flagBuf[:], uint32(flags))
	payload = append(payload, flagBuf[:]...)
	payload = append(payload, []byte(path)...)

	if err := b.send(MsgFDOpen, payload); err != nil {
		return nil, wlerr.ErrBrokerChildDied
	}
	typ, fd, err := b.recvFD()
	if err != nil || typ != MsgAck || fd == nil {
		return nil, fmt.Errorf("session: broker rejected open of %s: %w", path, err)
	}
	return fd, nil
}

// CloseFD notifies the child a previously-opened device is no longer
// needed, identified by (major,minor) rather than the fd itself. The child
// has no handler for this message: it performs no revoke or drop-master
// and sends no reply.
func (b *Broker) CloseFD(major, minor uint32) error {
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint32(payload[0:4], major)
	binary.LittleEndian.PutUint32(payload[4:8], minor)
	return b.send(MsgFDClose, payload)
}

// Activate/Deactivate/ActivateVT forward the corresponding broker messages.
// The child acknowledges Activate and Deactivate without setting or
// dropping DRM master or revoking input fds; ActivateVT switches the VT.
func (b *Broker) Activate() error   { return b.send(MsgActivate, nil) }
func (b *Broker) Deactivate() error { return b.send(MsgDeactivate, nil) }
func (b *Broker) ActivateVT(n int) error {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, uint32(n))
	return b.send(MsgActivateVT, payload)
}

// Close shuts down the socket; the child notices EOF, restores the console
// display mode it saved at start, and returns.
func (b *Broker) Close() error {
	return b.sock.Close()
}

func (b *Broker) send(typ MsgType, payload []byte) error {
	buf := append([]byte{byte(typ)}, payload...)
	_, err := unix.Write(int(b.sock.Fd()), buf)
	return err
}

func (b *Broker) recv() (MsgType, []byte, error) {
	buf := make([]byte, 4096)
	n, err := unix.Read(int(b.sock.Fd()), buf)
	if err != nil || n == 0 {
		return 0, nil, fmt.Errorf("session: broker recv: %w", err)
	}
	return MsgType(buf[0]), buf[1:n], nil
}

func (b *Broker) recvFD() (MsgType, *os.File, error) {
	buf := make([]byte, 4096)
	oob := make([]byte, unix.CmsgSpace(4))
	n, oobn, _, _, err := unix.Recvmsg(int(b.sock.Fd()), buf, oob, 0)
	if err != nil {
		return 0, nil, err
	}
	if n == 0 {
		return 0, nil, fmt.Errorf("session: broker connection closed")
	}
	typ := MsgType(buf[0])
	if oobn == 0 {
		return typ, nil, nil
	}
	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return typ, nil, err
	}
	for _, m := range msgs {
		fds, err := unix.ParseUnixRights(&m)
		if err != nil || len(fds) == 0 {
			continue
		}
		return typ, os.NewFile(uintptr(fds[0]), "wlc-device"), nil
	}
	return typ, nil, nil
}

// RunChild is the child-side entry point: the embedder's main() checks for
// the --wlc-broker-child flag and calls this instead of running the
// compositor. It returns only on socket EOF/error, after restoring the
// KDSETMODE display mode it read at start; keyboard mode and the active VT
// are not restored by the child.
func RunChild(sockFd uintptr) {
	sock := os.NewFile(sockFd, "wlc-broker-child")
	defer sock.Close()

	var savedMode uint32
	haveSaved := false
	if m, err := getKDMode(); err == nil {
		savedMode = m
		haveSaved = true
	}

	for {
		buf := make([]byte, 4096)
		n, err := unix.Read(int(sockFd), buf)
		if err != nil || n == 0 {
			break
		}
		handleChildMsg(sockFd, MsgType(buf[0]), buf[1:n])
	}

	if haveSaved {
		_ = setKDMode(savedMode)
	}
}

func handleChildMsg(sockFd uintptr, typ MsgType, payload []byte) {
	switch typ {
	case MsgCheck:
		_ = writeAck(sockFd, nil)
	case MsgFDOpen:
		if len(payload) < 5 {
			_ = writeAck(sockFd, nil)
			return
		}
		kind := DeviceKind(payload[0])
		flags := int(binary.LittleEndian.Uint32(payload[1:5]))
		path := string(payload[5:])
		fd, err := openValidated(path, flags, kind)
		if err != nil {
			_ = writeAck(sockFd, nil)
			return
		}
		_ = writeAckWithFD(sockFd, fd)
		unix.Close(fd)
	case MsgActivate:
		_ = writeAck(sockFd, nil)
	case MsgDeactivate:
		_ = writeAck(sockFd, nil)
	case MsgActivateVT:
		if len(payload) >= 4 {
			n := int32(binary.LittleEndian.Uint32(payload))
			_ = activateVT(int(n))
		}
		_ = writeAck(sockFd, nil)
	}
}

// openValidated enforces the prefix+st_rdev-major gate before opening
// (§4.2).
func openValidated(path string, flags int, kind DeviceKind) (int, error) {
	switch kind {
	case KindInput:
		if len(path) < len(inputPrefix) || path[:len(inputPrefix)] != inputPrefix {
			return -1, fmt.Errorf("session: path %q not under %s", path, inputPrefix)
		}
	case KindDRM:
		if len(path) < len(drmPrefix) || path[:len(drmPrefix)] != drmPrefix {
			return -1, fmt.Errorf("session: path %q not under %s", path, drmPrefix)
		}
	}
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return -1, err
	}
	major := unix.Major(uint64(st.Rdev))
	wantMajor := uint32(inputMajor)
	if kind == KindDRM {
		wantMajor = drmMajor
	}
	if major != wantMajor {
		return -1, fmt.Errorf("session: %q has major %d, want %d", path, major, wantMajor)
	}
	return unix.Open(path, flags, 0)
}

func writeAck(sockFd uintptr, _ []byte) error {
	_, err := unix.Write(int(sockFd), []byte{byte(MsgAck)})
	return err
}

func writeAckWithFD(sockFd uintptr, fd int) error {
	rights := unix.UnixRights(fd)
	return unix.Sendmsg(int(sockFd), []byte{byte(MsgAck)}, rights, nil, 0)
}
