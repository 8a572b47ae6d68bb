// ════════════════════════════════════════════════════════════════════════════════════════════════
// Deferred Reclamation Soak Test - Main Entry Point
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: epochgc — Deferred Reclamation Library
// Component: Main Entry Point & Soak Harness Orchestration
//
// Description:
//   Phased soak harness for the G/C facade: spin up producer and reader
//   goroutines against a shared instance, run a single drainer under
//   production-like GC pressure, and report a final audit ledger summary.
//
// Architecture:
//   - Phase 1: Bootstrap instance, readers, and audit ledger
//   - Phase 2: Steady-state production with concurrent readers/producers
//   - Phase 3: Drain-to-completion and ledger verification
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package main

import (
	"os"
	"os/signal"
	"runtime"
	rtdebug "runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/gorecl/epochgc/gc"
	"github.com/gorecl/epochgc/internal/affinity"
	"github.com/gorecl/epochgc/internal/audit"
	"github.com/gorecl/epochgc/internal/dlog"
	"github.com/gorecl/epochgc/internal/fingerprint"
)

type node struct {
	link gc.Node
	id   fingerprint.ID
}

func main() {
	dlog.Warn("INIT", "starting reclamation soak harness")

	producers := envInt("EPOCHGC_PRODUCERS", 8)
	readers := envInt("EPOCHGC_READERS", 8)
	perProducer := envInt("EPOCHGC_PER_PRODUCER", 50000)
	runFor := envDuration("EPOCHGC_DURATION", 30*time.Second)

	log, err := audit.Open()
	if err != nil {
		dlog.WarnErr("AUDIT_ERROR", err)
		os.Exit(1)
	}
	defer log.Close()

	inst, err := gc.New(gc.Config{
		Reclaim: func(head *gc.Node, arg any) {
			tag := arg.(string)
			for n := head; n != nil; n = n.Next() {
				obj := (*node)(gc.ObjectOf(n, 0))
				if err := log.Record(obj.id[:], 0, tag); err != nil {
					dlog.WarnErr("RECORD_ERROR", err)
				}
			}
		},
		CallbackArg: "soak-drainer",
	})
	if err != nil {
		dlog.WarnErr("INIT_ERROR", err)
		os.Exit(1)
	}

	dlog.Warn("READY", "harness initialized")

	stop, requestStop := setupSignalHandling()
	done := make(chan struct{})

	// PHASE 2: steady-state reader/producer load, single serialized drainer.
	go runDrainer(inst, stop, done)
	spinReaders(inst, readers, stop)
	var producerWg sync.WaitGroup
	spinProducers(inst, producers, perProducer, &producerWg)

	select {
	case <-time.After(runFor):
		dlog.Warn("TIMEOUT", "soak duration elapsed")
	case <-stop:
	}
	requestStop()
	producerWg.Wait()
	<-done

	// PHASE 3: drain-to-completion and memory consolidation before reporting.
	inst.Full(time.Millisecond)
	runtime.GC()
	rtdebug.FreeOSMemory()

	count, err := log.Count()
	if err != nil {
		dlog.WarnErr("COUNT_ERROR", err)
	}
	dupes, err := log.Duplicates()
	if err != nil {
		dlog.WarnErr("DUPLICATE_QUERY_ERROR", err)
	}

	stats := inst.Stats()
	dlog.Warn("FINAL_STATS", statsLine(stats))
	dlog.Warn("RECLAIMED", itoa(count))
	dlog.Warn("DUPLICATES", itoa(len(dupes)))

	inst.Close()
	if len(dupes) != 0 {
		os.Exit(1)
	}
}

func runDrainer(inst *gc.Instance, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	runtime.LockOSThread()
	affinity.Pin(0) // the drainer is the one goroutine Cycle requires to be serialized; give it a stable core
	for {
		select {
		case <-stop:
			return
		default:
			inst.Cycle()
		}
	}
}

// spinReaders spreads the reader pool across every core except 0, which
// runDrainer reserves for itself, so steady-state read load never contends
// with the one goroutine Cycle requires to make progress.
func spinReaders(inst *gc.Instance, n int, stop <-chan struct{}) {
	others := readerCoreSet()
	for k := 0; k < n; k++ {
		go func(k int) {
			runtime.LockOSThread()
			if len(others) > 0 {
				affinity.Pin(others[k%len(others)])
			}
			r := inst.Register()
			for {
				select {
				case <-stop:
					return
				default:
					inst.CritEnter(r)
					inst.CritExit(r)
				}
			}
		}(k)
	}
}

// readerCoreSet lists every core index runDrainer does not pin itself to.
func readerCoreSet() []int {
	n := runtime.NumCPU()
	if n <= 1 {
		return nil
	}
	cores := make([]int, 0, n-1)
	for c := 1; c < n; c++ {
		cores = append(cores, c)
	}
	return cores
}

func spinProducers(inst *gc.Instance, producers, perProducer int, wg *sync.WaitGroup) {
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			base := uint64(p) * uint64(perProducer)
			for k := 0; k < perProducer; k++ {
				obj := &node{id: fingerprint.Of(base + uint64(k))}
				inst.Limbo(&obj.link)
			}
		}(p)
	}
}

func setupSignalHandling() (stop chan struct{}, requestStop func()) {
	stop = make(chan struct{})
	var once sync.Once
	requestStop = func() { once.Do(func() { close(stop) }) }

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigc
		dlog.Warn("SIGNAL", "shutdown requested")
		requestStop()
	}()
	return stop, requestStop
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return def
		}
		n = n*10 + int(c-'0')
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func statsLine(s gc.Stats) string {
	return "staging=" + itoa(int(s.StagingEpoch)) +
		" gc=" + itoa(int(s.GCEpoch)) +
		" limbo=" + itoa(s.LimboDepth) +
		" readers=" + itoa(s.Readers)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
