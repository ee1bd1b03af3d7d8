package wlc

import (
	"os"

	"github.com/charmbracelet/log"

	"github.com/Cloudef/go-wlc/internal/logchan"
)

// Logger is the package-level structured logger every subsystem writes
// through. Embedders may replace it (e.g. to redirect into their own
// logging pipeline) before calling Init.
var Logger = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
	Prefix:          "wlc",
})

// debugf logs at debug level, gated by a WLC_DEBUG channel (§6).
func debugf(ch logchan.Channel, msg string, kv ...any) {
	if logchan.Enabled(ch) {
		Logger.Debug(msg, kv...)
	}
}

// fatalf logs an error that is about to become a library-ending condition
// (§7: "Initialisation preconditions unmet" or "Session lost").
func fatalf(msg string, kv ...any) {
	Logger.Error(msg, kv...)
}
