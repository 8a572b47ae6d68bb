// ════════════════════════════════════════════════════════════════════════════════════════════════
// Quiescent State Based Reclamation (QSBR)
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: epochgc — Deferred Reclamation Library
// Component: QSBR Core
//
// Description:
//   Minimum-viable reclamation primitive built on a monotone global generation
//   counter and a per-reader locally observed generation. Readers advertise
//   quiescence explicitly via Checkpoint; a writer obtains a target generation
//   via Barrier and polls Sync until every registered reader has advertised a
//   generation at or past that target.
//
//   There is no OS-level thread-local storage in Go, so unlike the C original
//   this package has the caller hold the *Reader handle explicitly and pass it
//   to every call — the lookup this replaces was O(1) in the original and
//   remains O(1) here (it is just a pointer the caller already has).
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package qsbr

import "sync/atomic"

// Debug gates ContractViolation assertions. Release builds can set this to
// false to compile the checks down to nothing but a single branch.
var Debug = true

const cacheLineSize = 64

// Reader is one registered participant's locally observed generation.
// Padded to a full cache line so that two readers' hot fields never share
// a cache line with each other (false-sharing avoidance).
type Reader struct {
	localGeneration atomic.Uint64
	next            atomic.Pointer[Reader]
	_               [cacheLineSize - 8 - 8]byte
}

// Instance is one QSBR domain: a monotone global generation counter plus
// the set of readers that must observe it before a barrier's target is safe.
type Instance struct {
	globalGeneration atomic.Uint64
	readers          atomic.Pointer[Reader]
}

// New creates a QSBR instance with globalGeneration initialised to 1.
func New() *Instance {
	i := &Instance{}
	i.globalGeneration.Store(1)
	return i
}

// Close releases instance resources.
//
// Precondition: no reader has been registered. When Debug is set, Close
// panics if any reader is registered; with Debug off, registered Reader
// handles are simply abandoned. There is nothing to free explicitly
// in Go — this exists for API symmetry with ebr.Instance and gc.Instance,
// and so that a future non-GC'd implementation has a natural place to add
// teardown logic.
func (i *Instance) Close() {
	if Debug && i.readers.Load() != nil {
		panic(Violation{"qsbr: Close with registered readers"})
	}
}

// Register attaches a new reader record to the instance's reader list and
// returns it. The caller owns the returned handle for the reader's entire
// participation lifetime and must pass it to Checkpoint/Sync.
func (i *Instance) Register() *Reader {
	r := &Reader{}
	for {
		head := i.readers.Load()
		r.next.Store(head)
		if i.readers.CompareAndSwap(head, r) {
			return r
		}
	}
}

// Checkpoint publishes the instance's current globalGeneration into r's
// localGeneration. This is a full memory barrier as observed by the caller:
// the Go memory model guarantees a later atomic load of localGeneration by
// any goroutine observes every write the caller made before Checkpoint.
//
//go:nosplit
func (r *Reader) Checkpoint(i *Instance) {
	r.localGeneration.Store(i.globalGeneration.Load())
}

// Barrier atomically increments globalGeneration and returns the
// post-increment value. Some prior-art implementations of this pattern
// return the pre-increment value instead, a generation readers may already
// have observed before the writer's removal, so Sync can report convergence
// before every reader has passed a quiescent point; this one deliberately
// does not make that mistake.
//
//go:nosplit
func (i *Instance) Barrier() uint64 {
	return i.globalGeneration.Add(1)
}

// Sync first checkpoints r against i, then scans every registered reader
// and returns true iff each has a localGeneration >= target. Sync does not
// mutate globalGeneration and is safe to call concurrently from any number
// of goroutines — it is read-only with respect to every reader's state
// except r's own checkpoint.
func (i *Instance) Sync(r *Reader, target uint64) bool {
	r.Checkpoint(i)
	for n := i.readers.Load(); n != nil; n = n.next.Load() {
		if n.localGeneration.Load() < target {
			return false
		}
	}
	return true
}

// Violation is the panic value raised for contract-violation conditions
// when Debug is true.
type Violation struct{ Reason string }

func (v Violation) Error() string { return v.Reason }
