// Package wlerr holds the sentinel errors for the two kinds of failure that
// are allowed to end the compositor's main loop (§7): initialisation
// preconditions unmet, and session loss. Everything else is logged and the
// event dispatch that caused it is left in a consistent state — per-dispatch
// failures never use these.
package wlerr

import "errors"

var (
	// ErrNoBackend means backend selection (§4.3: DRM, then nested-Wayland,
	// then X11) found no usable display to attach to.
	ErrNoBackend = errors.New("wlc: no usable backend (no DRM device, WAYLAND_DISPLAY or DISPLAY)")

	// ErrNoRuntimeDir means XDG_RUNTIME_DIR is unset, which every shm
	// allocation and every Unix socket the compositor opens depends on.
	ErrNoRuntimeDir = errors.New("wlc: XDG_RUNTIME_DIR is not set")

	// ErrPrivilegedUID means the process is running as a privileged uid
	// without a route (logind or the fd-passer child) to drop it.
	ErrPrivilegedUID = errors.New("wlc: running privileged without a session/fd-broker path")

	// ErrSessionLost is raised when the session becomes unusable after
	// startup: the logind DBus connection drops, the fd-passer child dies,
	// or the VT is withdrawn without the expected VT_RELDISP reply.
	ErrSessionLost = errors.New("wlc: session lost")

	// ErrBrokerChildDied means the fd-passer child exited; per §4.2 the
	// parent must terminate when this happens.
	ErrBrokerChildDied = errors.New("wlc: fd broker child died")
)
