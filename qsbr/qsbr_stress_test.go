package qsbr

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// stressObj mirrors ebr's stress harness for the barrier/checkpoint
// convergence path: a writer installs a real pointer, marks it visible,
// removes it, raises a barrier, and only nulls the pointer once Sync
// proves every reader has checkpointed past that barrier's target
// generation. A reader dereferencing a nulled pointer while the object is
// still marked visible is a convergence failure, not a mere slow round.
type stressObj struct {
	ptr     atomic.Pointer[uint32]
	visible atomic.Bool
}

const stressSlots = 4
const stressMagic = uint32(0x5a5a5a5a)

func stressAccess(obj *stressObj, violated *atomic.Bool) {
	if !obj.visible.Load() {
		return
	}
	p := obj.ptr.Load()
	if p == nil || *p != stressMagic {
		violated.Store(true)
	}
}

// stressWriter is the single serialised mutator, analogous to ebr's but
// driven by Barrier/Sync instead of an epoch tag: removal blocks on
// convergence before the pointer is ever nulled.
func stressWriter(inst *Instance, writer *Reader, obj *stressObj, magic *uint32, stop <-chan struct{}) (timedOut bool) {
	if obj.visible.Load() {
		obj.visible.Store(false)
		target := inst.Barrier()
		deadline := time.Now().Add(2 * time.Second)
		for !inst.Sync(writer, target) {
			select {
			case <-stop:
				return false
			default:
			}
			if time.Now().After(deadline) {
				return true
			}
		}
		obj.ptr.Store(nil)
		return false
	}
	obj.ptr.Store(magic)
	obj.visible.Store(true)
	return false
}

// TestBarrierConvergence runs K concurrent readers intermittently
// checkpointing between dereferences of a writer-owned slot, while a single
// writer drives that slot through install/remove/destroy gated on Barrier
// convergence. A reader that ever dereferences a destroyed slot's pointer
// would prove convergence false; none should. Run with -short to skip in
// quick test cycles.
func TestBarrierConvergence(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress test in short mode")
	}

	const readers = 8
	const duration = 10 * time.Second

	inst := New()
	var objs [stressSlots]stressObj
	magic := stressMagic
	var violated atomic.Bool

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for k := 0; k < readers; k++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := inst.Register()
			slot := 0
			for {
				select {
				case <-stop:
					return
				default:
				}
				slot = (slot + 1) % stressSlots
				stressAccess(&objs[slot], &violated)
				r.Checkpoint(inst)
			}
		}()
	}

	writer := inst.Register()
	deadline := time.Now().Add(duration)
	slot := 0
	for time.Now().Before(deadline) {
		slot = (slot + 1) % stressSlots
		if timedOut := stressWriter(inst, writer, &objs[slot], &magic, stop); timedOut {
			close(stop)
			wg.Wait()
			t.Fatal("Sync did not converge to a raised barrier within deadline")
		}
	}
	close(stop)
	wg.Wait()

	if violated.Load() {
		t.Fatal("a reader dereferenced a slot's pointer after it was destroyed: barrier convergence did not hold")
	}
}
