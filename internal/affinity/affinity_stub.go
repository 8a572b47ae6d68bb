// affinity_stub.go - CPU affinity no-op for unsupported platforms

//go:build !linux

package affinity

// PinSet is a no-op on platforms without sched_setaffinity(2), preserving
// the call site's API on darwin/windows/bsd builds.
//
//go:nosplit
func PinSet(cpus []int) {}

// Pin is a no-op on platforms without sched_setaffinity(2), preserving the
// call site's API on darwin/windows/bsd builds.
//
//go:nosplit
func Pin(cpu int) {}
