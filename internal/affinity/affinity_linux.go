// affinity_linux.go - Linux CPU affinity via sched_setaffinity(2)

//go:build linux

package affinity

import (
	"syscall"
	"unsafe"
)

// bitsPerWord is the width of one sched_setaffinity mask word.
const bitsPerWord = 64

// maskWords covers CPUs 0-255, four times the single-word range the
// teacher's setAffinity supported. A reader pool spread across a
// many-core box needs more than 64 distinct cores to pin to; a drainer
// pinning to core 0 does not, but PinSet is the one primitive both use.
const maskWords = 4

// PinSet binds the calling OS thread to the union of cpus. The caller must
// have already called runtime.LockOSThread. Indices outside
// [0, maskWords*bitsPerWord) are dropped rather than rejected, so a caller
// computing core indices by round-robin over runtime.NumCPU() never needs
// to guard the call.
//
//go:norace
//go:nocheckptr
func PinSet(cpus []int) {
	var mask [maskWords]uintptr
	for _, cpu := range cpus {
		if cpu < 0 || cpu >= maskWords*bitsPerWord {
			continue
		}
		mask[cpu/bitsPerWord] |= 1 << uint(cpu%bitsPerWord)
	}
	_, _, _ = syscall.RawSyscall(
		syscall.SYS_SCHED_SETAFFINITY,
		0,
		uintptr(len(mask))*unsafe.Sizeof(mask[0]),
		uintptr(unsafe.Pointer(&mask[0])),
	)
}

// Pin binds the calling OS thread to a single cpu — the common case of
// PinSet for a lone serialised goroutine (a Cycle drainer) that needs one
// stable core rather than a spread set.
//
//go:nosplit
func Pin(cpu int) {
	PinSet([]int{cpu})
}
