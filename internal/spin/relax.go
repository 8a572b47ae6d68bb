package spin

import "runtime"

// Relax yields the current goroutine's remaining time slice as a hint that
// it is in a busy-wait loop.
//
// A cgo-based PAUSE/YIELD intrinsic would be fragile for a library meant
// to build with "go build" alone, so this stays on a portable stdlib
// call; runtime.Gosched actually yields the P instead of spinning at full
// speed, unlike a true no-op fallback.
//
//go:nosplit
func Relax() {
	runtime.Gosched()
}
