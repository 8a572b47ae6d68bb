package gc

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorecl/epochgc/internal/audit"
	"github.com/gorecl/epochgc/internal/fingerprint"
)

type stressObj struct {
	node Node
	id   fingerprint.ID
	seed uint64
}

// TestMultiProducerLimboExactlyOnce runs M producer goroutines
// each deposit L objects into a shared instance's limbo while a single
// drainer goroutine repeatedly calls Cycle; an audit ledger records every
// reclaim so the test can assert M*L objects are each reclaimed exactly
// once, with no duplicates and none missing.
func TestMultiProducerLimboExactlyOnce(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress test in short mode")
	}

	const producers = 8
	const perProducer = 500
	const total = producers * perProducer

	log, err := audit.Open()
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}
	defer log.Close()

	var recordErr error
	var mu sync.Mutex

	inst, err := New(Config{
		Reclaim: func(head *Node, arg any) {
			goroutine := arg.(string)
			for n := head; n != nil; n = n.Next() {
				obj := (*stressObj)(ObjectOf(n, 0))
				if err := log.Record(obj.id[:], 0, goroutine); err != nil {
					mu.Lock()
					recordErr = err
					mu.Unlock()
				}
			}
		},
		CallbackArg: "drainer",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	stopDrain := make(chan struct{})
	drainDone := make(chan struct{})
	go func() {
		defer close(drainDone)
		for {
			select {
			case <-stopDrain:
				inst.Full(time.Millisecond)
				return
			default:
				inst.Cycle()
			}
		}
	}()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			base := uint64(p) * perProducer
			for k := 0; k < perProducer; k++ {
				seed := base + uint64(k)
				obj := &stressObj{id: fingerprint.Of(seed), seed: seed}
				inst.Limbo(&obj.node)
			}
		}(p)
	}
	wg.Wait()

	close(stopDrain)
	select {
	case <-drainDone:
	case <-time.After(10 * time.Second):
		t.Fatal("drainer did not finish within deadline")
	}

	mu.Lock()
	defer mu.Unlock()
	if recordErr != nil {
		t.Fatalf("audit record error: %v", recordErr)
	}

	count, err := log.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != total {
		t.Fatalf("reclaimed %d objects, want %d", count, total)
	}

	dupes, err := log.Duplicates()
	if err != nil {
		t.Fatalf("Duplicates: %v", err)
	}
	if len(dupes) != 0 {
		t.Fatalf("found %d duplicate reclaims, want 0 (first: %s)", len(dupes), strconv.Itoa(int(dupes[0][0])))
	}

	inst.Close()
}
