package kernel

import (
	"fmt"
	"strings"

	"github.com/oslab/maqvm/hw"
)

// processStats accumulates the per-process counters spec.md §4.6/§8 asks
// for: how many times a slot has been spawned into, and a running mean of
// how long it waited READY each time before being dispatched.
type processStats struct {
	Spawns      int
	Preemptions int

	readyStart   int // elapsed-tick mark of when the process last became READY
	meanReady    float64
	readySamples int
}

// noteReady records the tick at which p entered READY, for the ready-time
// sample taken the next time it is dispatched.
func (s *processStats) noteReady(tick int) {
	s.readyStart = tick
}

// noteDispatched folds one more ready-time sample into the running mean.
func (s *processStats) noteDispatched(tick int) {
	sample := float64(tick - s.readyStart)
	s.readySamples++
	s.meanReady += (sample - s.meanReady) / float64(s.readySamples)
}

// Stats is the system-wide accumulator spec.md §8 requires be observable:
// total processes ever spawned, preemption count, ticks spent with no
// process current (the idle descriptor installed), and a count of every
// IRQ kind the dispatcher has seen, keyed by hw.Kind.String().
type Stats struct {
	Spawned     int
	Preemptions int
	IdleTicks   int
	IRQCounts   map[string]int
}

// noteIRQ tallies one more occurrence of kind, lazily allocating the map
// on first use so a zero-value Stats stays usable in tests that never
// drive a trap.
func (s *Stats) noteIRQ(kind string) {
	if s.IRQCounts == nil {
		s.IRQCounts = map[string]int{}
	}
	s.IRQCounts[kind]++
}

// ProcessReport is one row of the final per-process report emitted once
// the system has gone fully idle (every live slot STOPPED, or the table
// empty). StateTicks/StateEntry are indexed by State (StateReady=0,
// StateBlocked=1, StateStopped=2); their sum is the number of ticks that
// have elapsed since the process was spawned, spec.md §8's property 4.
type ProcessReport struct {
	ID          int
	Spawns      int
	Preemptions int
	MeanReady   float64
	StateTicks  [stateCount]int
	StateEntry  [stateCount]int
}

// statsBanner is the ASCII rule spec.md §6 asks the report be surrounded
// by, on both the opening and closing line.
const statsBanner = "===================================================="

// irqKindOrder fixes the IRQ-kind line order in the report so two runs
// with identical counters produce byte-identical output.
var irqKindOrder = []hw.Kind{hw.KindReset, hw.KindCPUError, hw.KindSystem, hw.KindClock}

var stateNames = [stateCount]string{StateReady: "READY", StateBlocked: "BLOCKED", StateStopped: "STOPPED"}

// emitStatsOnce writes the statistics report the first time the system is
// observed fully idle (no live process outside STOPPED) and never again,
// matching spec.md §4.6's "emit once, latch" requirement. The format
// follows spec.md §6: one line per metric, IRQ kinds by name, per-process
// time and state-transition counts, mean ready-time to two decimals,
// surrounded by ASCII banners.
func (k *Kernel) emitStatsOnce() {
	if k.statsEmitted {
		return
	}
	k.statsEmitted = true
	if k.statsOut == nil {
		return
	}

	var b strings.Builder
	fmt.Fprintln(&b, statsBanner)
	fmt.Fprintf(&b, "processes spawned: %d\n", k.stats.Spawned)
	fmt.Fprintf(&b, "system preemptions: %d\n", k.stats.Preemptions)
	fmt.Fprintf(&b, "idle ticks: %d\n", k.stats.IdleTicks)
	for _, kind := range irqKindOrder {
		fmt.Fprintf(&b, "irq %s: %d\n", kind, k.stats.IRQCounts[kind.String()])
	}
	for _, r := range k.Report() {
		fmt.Fprintf(&b, "proc %d: spawns=%d preemptions=%d mean_ready=%.2f\n",
			r.ID, r.Spawns, r.Preemptions, r.MeanReady)
		for s := State(0); s < stateCount; s++ {
			fmt.Fprintf(&b, "  %-7s time=%d entries=%d\n", stateNames[s], r.StateTicks[s], r.StateEntry[s])
		}
	}
	fmt.Fprintln(&b, statsBanner)
	k.statsOut.Write([]byte(b.String()))
}

// Report returns a stable snapshot of every process's statistics that has
// ever run this incarnation: slots still live plus the final counters
// terminate latched for slots KILL already freed (see terminate).
func (k *Kernel) Report() []ProcessReport {
	out := append([]ProcessReport(nil), k.finalReports...)
	for _, p := range k.table.Live() {
		out = append(out, ProcessReport{
			ID:          p.ID,
			Spawns:      p.stats.Spawns,
			Preemptions: p.stats.Preemptions,
			MeanReady:   p.stats.meanReady,
			StateTicks:  p.residency(k.ticks),
			StateEntry:  p.stateEntry,
		})
	}
	return out
}
