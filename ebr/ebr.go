// ════════════════════════════════════════════════════════════════════════════════════════════════
// Epoch Based Reclamation (EBR)
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: epochgc — Deferred Reclamation Library
// Component: EBR Core
//
// Description:
//   Three-epoch reclamation primitive. A reader marks an "active" window via
//   Enter/Exit; Sync advances the global epoch once every active reader has
//   observed it, and names the epoch now safe for reclamation.
//
// Reference:
//   K. Fraser, "Practical lock-freedom", UCAM-CL-TR-579, Feb 2004.
//
// Grace-period argument (must survive any refactor of this file):
//
//   With exactly three epochs, once Sync moves globalEpoch from e-1 to e:
//     (a) any reader that entered before the previous successful Sync has
//         since exited — otherwise that Sync could not have succeeded — and
//     (b) any reader entering now observes e-1 or e.
//   Therefore no active reader can be observing e-2: that bucket is safe to
//   drain. This is the argument that makes a 3-epoch scheme ABA-safe with
//   only a single synchroniser in flight at a time.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package ebr

import "sync/atomic"

// Debug gates ContractViolation assertions, as in package qsbr.
var Debug = true

// EBREpochs is the number of epochs tracked, exposed so callers can size
// their own pending queues.
const EBREpochs = 3

const cacheLineSize = 64

// activeBit marks a Reader as inside its critical section. The low two
// bits of the same word hold the observed epoch (0, 1 or 2); packing
// ACTIVE into a higher bit lets the synchroniser test "active and still on
// the stale epoch" with a single load-and-compare.
const activeBit = 1 << 2
const epochMask = activeBit - 1

// Reader is one registered participant's {epoch, active} pair, packed into
// a single atomically-updated word and cache-line padded to avoid false
// sharing between unrelated readers.
type Reader struct {
	state atomic.Uint32 // low 2 bits: epoch; bit 2: ACTIVE
	next  atomic.Pointer[Reader]
	_     [cacheLineSize - 4 - 8]byte
}

// Instance is one EBR domain: the global epoch plus the set of readers
// that must observe it before it can advance.
type Instance struct {
	globalEpoch atomic.Uint32
	readers     atomic.Pointer[Reader]
	readerCount atomic.Int64
}

// New creates an EBR instance with globalEpoch initialised to 0.
func New() *Instance {
	return &Instance{}
}

// ReaderCount returns the number of readers ever registered on this
// instance. Diagnostic only (used by gc.Instance.Stats).
func (i *Instance) ReaderCount() int {
	return int(i.readerCount.Load())
}

// Close tears down the instance.
//
// Precondition: no reader is currently Active. Surfacing an active reader
// at destroy is a programmer error, checked only when Debug is set.
func (i *Instance) Close() {
	if !Debug {
		return
	}
	for n := i.readers.Load(); n != nil; n = n.next.Load() {
		if n.state.Load()&activeBit != 0 {
			panic(Violation{"ebr: Close with an active reader"})
		}
	}
}

// Register attaches a new reader record and returns it. The caller owns
// the handle for the reader's participation lifetime.
func (i *Instance) Register() *Reader {
	r := &Reader{}
	for {
		head := i.readers.Load()
		r.next.Store(head)
		if i.readers.CompareAndSwap(head, r) {
			i.readerCount.Add(1)
			return r
		}
	}
}

// Enter marks the entrance to r's critical section against instance i: it
// publishes {epoch = i.globalEpoch, ACTIVE} atomically in a single store.
//
// Ordering: a plain atomic store to state is a sequentially-consistent
// release under the Go memory model; any load the caller issues after
// Enter returns is ordered after this publication, so the critical window
// never observes a speculative read from before it began. Nesting Enter
// calls on the same Reader without an intervening Exit is not supported.
//
//go:nosplit
func (r *Reader) Enter(i *Instance) {
	r.state.Store(i.globalEpoch.Load() | activeBit)
}

// Exit marks the exit from r's critical section: it atomically clears the
// ACTIVE flag. Any store the caller made inside the critical window is
// globally visible to the synchroniser by the time Exit returns, because
// the Go memory model orders an atomic store after every preceding
// program-order write in the same goroutine.
//
//go:nosplit
func (r *Reader) Exit() {
	r.state.Store(0)
}

// InCritical reports whether r is currently Active. Diagnostic only.
func (r *Reader) InCritical() bool {
	return r.state.Load()&activeBit != 0
}

// Sync snapshots the global epoch, scans every registered reader, and
// advances the epoch if none of them are still active on the stale one.
//
// Sync is NOT safe to call concurrently with another Sync on the same
// instance — callers must serialise all Sync calls for a given instance,
// exactly as gc.Instance.Cycle does for its embedded EBR instance. The
// reader fast path (Enter/Exit) remains lock-free regardless.
//
// Returns the gc epoch (the bucket now safe to drain) and whether the
// global epoch actually advanced this call.
func (i *Instance) Sync() (gcEpoch uint32, advanced bool) {
	e := i.globalEpoch.Load()
	for n := i.readers.Load(); n != nil; n = n.next.Load() {
		s := n.state.Load()
		if s&activeBit != 0 && s&epochMask != e {
			return gcEpochOf(e), false
		}
	}
	next := (e + 1) % EBREpochs
	i.globalEpoch.Store(next)
	return gcEpochOf(next), true
}

// StagingEpoch returns the current global epoch: the epoch new limbo
// entries are staged against.
func (i *Instance) StagingEpoch() uint32 {
	return i.globalEpoch.Load()
}

// GCEpoch returns the epoch known to be quiesced right now: (globalEpoch +
// 1) % EBREpochs, equivalently e-2 under modulo-3 clock arithmetic.
func (i *Instance) GCEpoch() uint32 {
	return gcEpochOf(i.globalEpoch.Load())
}

func gcEpochOf(e uint32) uint32 {
	return (e + 1) % EBREpochs
}

// Violation is the panic value raised for ContractViolation conditions
// when Debug is true.
type Violation struct{ Reason string }

func (v Violation) Error() string { return v.Reason }
