package wlc

import (
	"os"
	"strconv"
)

// Config is the immutable snapshot of the environment variables §6
// enumerates, taken once at Init. Fields mirror the env var names; see the
// constructor for defaults.
type Config struct {
	RuntimeDir  string // XDG_RUNTIME_DIR, mandatory
	Seat        string // XDG_SEAT, default "seat0"
	VTNR        int    // XDG_VTNR, 0 if unset/invalid
	DRMDevice   string // WLC_DRM_DEVICE, default "card0"
	ForceOutputs int   // WLC_OUTPUTS, 0 means "don't force"
	Background  bool   // WLC_BG, default true ("0" disables)
	IdleTime    int    // WLC_IDLE_TIME seconds, default 300
	XWayland    bool   // WLC_XWAYLAND, default true ("0" disables)
	Libinput    *bool  // WLC_LIBINPUT override, nil means "auto"
	DrawOpaque  bool   // WLC_DRAW_OPAQUE debug toggle
}

func loadConfig() Config {
	c := Config{
		RuntimeDir: os.Getenv("XDG_RUNTIME_DIR"),
		Seat:       getenvDefault("XDG_SEAT", "seat0"),
		DRMDevice:  getenvDefault("WLC_DRM_DEVICE", "card0"),
		Background: os.Getenv("WLC_BG") != "0",
		IdleTime:   300,
		XWayland:   os.Getenv("WLC_XWAYLAND") != "0",
		DrawOpaque: os.Getenv("WLC_DRAW_OPAQUE") == "1",
	}
	if n, err := strconv.Atoi(os.Getenv("XDG_VTNR")); err == nil {
		c.VTNR = n
	}
	if n, err := strconv.Atoi(os.Getenv("WLC_OUTPUTS")); err == nil && n > 0 {
		c.ForceOutputs = n
	}
	if n, err := strconv.Atoi(os.Getenv("WLC_IDLE_TIME")); err == nil && n > 0 {
		c.IdleTime = n
	}
	if v := os.Getenv("WLC_LIBINPUT"); v == "0" || v == "1" {
		b := v == "1"
		c.Libinput = &b
	}
	return c
}

func getenvDefault(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}
