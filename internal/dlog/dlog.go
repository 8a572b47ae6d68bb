// ─────────────────────────────────────────────────────────────────────────────
// [Package]: dlog — cold-path diagnostic logging for the reclamation core
//
// Writes directly to stderr with plain string concatenation, no fmt, no
// interfaces. Used by the cmd/epochgcstress soak harness for its status and
// error messages; the qsbr, ebr and gc packages do not log. Never call it on
// the reader fast path (Enter/Exit/Checkpoint).
// ─────────────────────────────────────────────────────────────────────────────

package dlog

import "os"

// Warn logs a cold-path diagnostic message with a component prefix.
//
//go:noinline
func Warn(prefix, message string) {
	os.Stderr.WriteString(prefix + ": " + message + "\n")
}

// WarnErr logs a cold-path error with a component prefix.
//
//go:noinline
func WarnErr(prefix string, err error) {
	if err == nil {
		os.Stderr.WriteString(prefix + "\n")
		return
	}
	os.Stderr.WriteString(prefix + ": " + err.Error() + "\n")
}
