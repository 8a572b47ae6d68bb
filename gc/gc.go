// ════════════════════════════════════════════════════════════════════════════════════════════════
// G/C Facade — Deferred Destruction Pipeline Over EBR
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: epochgc — Deferred Reclamation Library
// Component: Garbage Collection Facade
//
// Description:
//   Layers a deferred-destruction pipeline on top of package ebr: a
//   lock-free limbo inbox for objects pending destruction, plus one
//   reclamation bucket per epoch. Cycle moves limbo entries into their
//   staging bucket and, once that bucket's epoch is provably quiesced,
//   hands the whole chain to the caller's reclaim callback in one call.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package gc

import (
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/sugawarayuuta/sonnet"

	"github.com/gorecl/epochgc/ebr"
	"github.com/gorecl/epochgc/internal/spin"
)

// Debug gates ContractViolation assertions.
var Debug = true

// Node is the linkage header a reclaimable object embeds. The library never
// dereferences the object it is attached to except via the Reclaim
// callback.
type Node struct {
	next *Node
}

// Next returns the next node in a reclaim chain, or nil at the tail. Used
// by Reclaim callbacks walking the chain handed to them.
func (n *Node) Next() *Node { return n.next }

// ObjectOf recovers the address of the user object embedding n, given the
// byte offset of the Node field within that object (Config.EntryOffset).
//
// This is a single-expression Pointer→uintptr→Pointer round trip, the one
// pattern the unsafe package itself documents as safe for advancing a
// pointer within its containing allocation.
//
//go:nosplit
func ObjectOf(n *Node, entryOffset uintptr) unsafe.Pointer {
	return unsafe.Pointer(uintptr(unsafe.Pointer(n)) - entryOffset)
}

// BackoffConfig tunes the spin/sleep schedule Full uses while it waits out
// a grace period it cannot shortcut.
type BackoffConfig struct {
	MaxSpins int // per-round spin count the backoff doubles up to before Full also sleeps
}

// DefaultBackoff sets the default spin budget before falling back to
// timed sleeps.
var DefaultBackoff = BackoffConfig{MaxSpins: 224}

// Config configures a new Instance.
type Config struct {
	// EntryOffset is the byte offset of the embedded Node within the
	// user's reclaimable type. Zero is permitted (Node is the first field).
	EntryOffset uintptr

	// Reclaim is invoked with the head of a chain of Nodes once their
	// epoch is safe to destroy. If nil, DefaultReclaim is installed.
	Reclaim func(head *Node, arg any)

	// CallbackArg is passed verbatim to Reclaim.
	CallbackArg any

	// Backoff tunes Full's spin/sleep schedule. Zero value selects
	// DefaultBackoff.
	Backoff BackoffConfig
}

// Instance is one G/C domain: an embedded EBR instance, a lock-free limbo
// inbox, and one reclamation bucket per epoch.
type Instance struct {
	ebr *ebr.Instance

	limbo   atomic.Pointer[Node]
	buckets [ebr.EBREpochs]*Node

	entryOffset uintptr
	reclaim     func(head *Node, arg any)
	callbackArg any
	backoff     BackoffConfig

	cycling atomic.Bool // debug-only reentrancy guard for Cycle/Full
}

// New builds a G/C instance with an embedded EBR instance. Allocation
// cannot meaningfully fail on the Go runtime, so New always returns a nil
// error; the error return is kept so a future validating constructor
// (e.g. rejecting a malformed Config) has a natural place to report it.
func New(cfg Config) (*Instance, error) {
	if cfg.Reclaim == nil {
		cfg.Reclaim = DefaultReclaim(cfg.EntryOffset)
	}
	if cfg.Backoff == (BackoffConfig{}) {
		cfg.Backoff = DefaultBackoff
	}
	return &Instance{
		ebr:         ebr.New(),
		entryOffset: cfg.EntryOffset,
		reclaim:     cfg.Reclaim,
		callbackArg: cfg.CallbackArg,
		backoff:     cfg.Backoff,
	}, nil
}

// DefaultReclaim derives each object's address via entryOffset and drops
// the library's only strong reference to it by unlinking the chain: the
// object becomes eligible for Go's own collector the moment nothing else
// references it. Callers that need explicit teardown
// (closing a file, releasing a pool slot) should supply Config.Reclaim
// instead — see cmd/epochgcstress for an example reclaim callback that also
// records each object in an internal/audit ledger.
func DefaultReclaim(entryOffset uintptr) func(*Node, any) {
	return func(head *Node, _ any) {
		for n := head; n != nil; {
			_ = ObjectOf(n, entryOffset) // demonstrates/validates the address derivation
			next := n.next
			n.next = nil
			n = next
		}
	}
}

// Close tears down the instance.
//
// Preconditions: limbo is empty and every bucket is empty. Violating
// these is a programmer error, checked only when Debug is set.
func (g *Instance) Close() error {
	if Debug {
		if g.limbo.Load() != nil {
			panic(Violation{"gc: Close with a non-empty limbo"})
		}
		for i, b := range g.buckets {
			if b != nil {
				panic(Violation{bucketNonEmptyReason(i)})
			}
		}
	}
	g.ebr.Close()
	return nil
}

func bucketNonEmptyReason(i int) string {
	const digits = "0123456789"
	return "gc: Close with a non-empty bucket[" + string(digits[i]) + "]"
}

// Register forwards to the embedded EBR instance's Register.
func (g *Instance) Register() *ebr.Reader {
	return g.ebr.Register()
}

// CritEnter forwards to the embedded EBR instance's Enter.
func (g *Instance) CritEnter(r *ebr.Reader) {
	r.Enter(g.ebr)
}

// CritExit forwards to the embedded EBR instance's Exit.
func (g *Instance) CritExit(r *ebr.Reader) {
	r.Exit()
}

// Limbo CAS-prepends n onto the lock-free limbo list. Safe to call
// concurrently from any number of producer goroutines.
func (g *Instance) Limbo(n *Node) {
	for {
		head := g.limbo.Load()
		n.next = head
		if g.limbo.CompareAndSwap(head, n) {
			return
		}
	}
}

// Cycle drives one round of the deferred-destruction pipeline. MUST be
// externally serialised against other Cycle/Full calls on the same
// instance — exactly one drainer goroutine.
//
// Steps:
//  1. Sync the embedded EBR instance. If it did not announce a new epoch,
//     there is nothing new to promote or reclaim: return immediately.
//  2. s is the current staging epoch — the epoch EBR just advanced to.
//     Every entry in the limbo chain was deposited at epoch s or earlier
//     (including entries added after Sync published s), so staging it
//     under s never reclaims it early. Detach the limbo chain and assign
//     it to buckets[s], which must have been empty.
//  3. If buckets[gcEpoch] (the bucket just proven quiesced) is empty,
//     retry from step 1, up to EBREpochs total attempts — Sync advances
//     again on the next attempt whenever no reader is still active on the
//     previous epoch, so an idle instance moves a fresh limbo chain all
//     the way to reclamation within one Cycle call.
//     Otherwise invoke Reclaim with that chain and clear the bucket.
func (g *Instance) Cycle() {
	if Debug {
		if !g.cycling.CompareAndSwap(false, true) {
			panic(Violation{"gc: Cycle called concurrently"})
		}
		defer g.cycling.Store(false)
	}

	for attempt := 0; attempt < ebr.EBREpochs; attempt++ {
		gcEpoch, advanced := g.ebr.Sync()
		if !advanced {
			return
		}

		s := g.ebr.StagingEpoch()
		head := g.limbo.Swap(nil)
		if Debug && g.buckets[s] != nil {
			panic(Violation{"gc: Cycle staging into a non-empty bucket"})
		}
		g.buckets[s] = head

		if g.buckets[gcEpoch] == nil {
			continue
		}
		chain := g.buckets[gcEpoch]
		g.buckets[gcEpoch] = nil
		g.reclaim(chain, g.callbackArg)
		return
	}
}

// Full blocks until limbo and every bucket are empty, calling Cycle in a
// loop with exponential spin backoff that falls back to sleeping retry
// between rounds once the spin budget is exhausted.
func (g *Instance) Full(retry time.Duration) {
	b := spin.NewBackoff(g.backoff.MaxSpins)
	for {
		g.Cycle()
		if g.limbo.Load() == nil && g.buckets[0] == nil && g.buckets[1] == nil && g.buckets[2] == nil {
			return
		}
		if saturated := b.Spin(); saturated {
			time.Sleep(retry)
		}
	}
}

// Stats is a point-in-time diagnostic snapshot of an Instance.
type Stats struct {
	StagingEpoch uint32 `json:"staging_epoch"`
	GCEpoch      uint32 `json:"gc_epoch"`
	LimboDepth   int    `json:"limbo_depth"`
	BucketDepth  [ebr.EBREpochs]int `json:"bucket_depth"`
	Readers      int    `json:"readers"`
}

// Stats reports the instance's current state. O(n) in limbo/bucket depth;
// diagnostic use only, never called on a hot path.
func (g *Instance) Stats() Stats {
	s := Stats{
		StagingEpoch: g.ebr.StagingEpoch(),
		GCEpoch:      g.ebr.GCEpoch(),
		Readers:      g.ebr.ReaderCount(),
	}
	for n := g.limbo.Load(); n != nil; n = n.next {
		s.LimboDepth++
	}
	for i, b := range g.buckets {
		for n := b; n != nil; n = n.next {
			s.BucketDepth[i]++
		}
	}
	return s
}

// JSON renders s using sonnet's encoding/json-compatible Marshal for
// diagnostic output.
func (s Stats) JSON() ([]byte, error) {
	return sonnet.Marshal(s)
}

// Violation is the panic value raised for ContractViolation conditions
// when Debug is true.
type Violation struct{ Reason string }

func (v Violation) Error() string { return v.Reason }
