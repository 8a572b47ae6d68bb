package qsbr

import (
	"testing"
)

func TestRegisterInitialGeneration(t *testing.T) {
	i := New()
	r := i.Register()
	if r.localGeneration.Load() != 0 {
		t.Fatalf("fresh reader localGeneration = %d, want 0", r.localGeneration.Load())
	}
}

func TestCheckpointPublishesCurrentGeneration(t *testing.T) {
	i := New()
	r := i.Register()
	r.Checkpoint(i)
	if got, want := r.localGeneration.Load(), i.globalGeneration.Load(); got != want {
		t.Fatalf("localGeneration = %d, want %d", got, want)
	}
}

func TestBarrierReturnsPostIncrement(t *testing.T) {
	i := New()
	before := i.globalGeneration.Load()
	target := i.Barrier()
	if target != before+1 {
		t.Fatalf("Barrier() = %d, want %d (post-increment)", target, before+1)
	}
}

func TestSyncTrueWithOnlyCallerReader(t *testing.T) {
	i := New()
	r := i.Register()
	target := i.Barrier()
	if !i.Sync(r, target) {
		t.Fatal("Sync with a single caller-owned reader should observe its own checkpoint")
	}
}

func TestSyncFalseUntilReaderCheckpoints(t *testing.T) {
	i := New()
	writer := i.Register()
	lagging := i.Register()

	target := i.Barrier()
	if i.Sync(writer, target) {
		t.Fatal("Sync should not succeed while lagging reader has not checkpointed past target")
	}

	lagging.Checkpoint(i)
	if !i.Sync(writer, target) {
		t.Fatal("Sync should succeed once every reader has checkpointed at/past target")
	}
}

func TestSyncMonotoneTarget(t *testing.T) {
	i := New()
	r := i.Register()

	t1 := i.Barrier()
	if !i.Sync(r, t1) {
		t.Fatal("Sync should succeed for the first target with a single reader")
	}

	t2 := i.Barrier()
	if t2 <= t1 {
		t.Fatalf("second Barrier() = %d, want > first Barrier() = %d", t2, t1)
	}
	if !i.Sync(r, t2) {
		t.Fatal("Sync should succeed for the second target after checkpointing")
	}
}

func TestCloseNoReadersDoesNotPanic(t *testing.T) {
	i := New()
	i.Close()
}

func TestCloseWithRegisteredReaderPanicsInDebug(t *testing.T) {
	old := Debug
	Debug = true
	defer func() { Debug = old }()

	i := New()
	i.Register()

	defer func() {
		if recover() == nil {
			t.Fatal("expected Close with a registered reader to panic under Debug")
		}
	}()
	i.Close()
}

func TestCloseWithRegisteredReaderNoPanicWhenDebugOff(t *testing.T) {
	old := Debug
	Debug = false
	defer func() { Debug = old }()

	i := New()
	i.Register()
	i.Close() // must not panic
}
