// Package kernel is the interrupt-driven core: the process table and
// lifecycle, the five-phase trap pipeline, the syscall handlers, the
// scheduler, the demand-paging loader and the pending-work resolver.
// Grounded throughout on original_source/Trabalhos/t1 and t2's so.c, with
// the Go idioms (explicit interfaces, sum types, error returns) the
// teacher repo uses for its own CPU/channel/device state machines.
package kernel

import (
	"github.com/oslab/maqvm/hw"
	"github.com/oslab/maqvm/pagetable"
)

// State is where a descriptor sits in its lifecycle.
type State int

const (
	StateReady State = iota
	StateBlocked
	StateStopped
	stateCount
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "READY"
	case StateBlocked:
		return "BLOCKED"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// BlockKind tags why a descriptor is BLOCKED. Modelled as one tagged
// field rather than two independently-nullable ones (spec design note):
// a descriptor can only ever be waiting on one thing at a time, so the
// sum type makes "blocked for two reasons at once" unrepresentable
// instead of merely untested.
type BlockKind int

const (
	BlockNone BlockKind = iota
	BlockIO
	BlockWaitPeer
)

// Block is the block-reason sum type.
type Block struct {
	Kind BlockKind

	// BlockIO fields.
	Device   int
	HasDatum bool
	Datum    int

	// BlockWaitPeer field.
	Peer int
}

// Process is one process-table slot's descriptor.
type Process struct {
	ID    int
	Live  bool
	State State

	// Saved register set.
	PC    int
	A     int
	X     int
	Err   hw.Err
	Compl int
	Mode  hw.Mode

	Quantum  int
	Priority float64

	Block Block

	Table *pagetable.Table

	// DiskOrigin is the disk offset where this process's image starts.
	DiskOrigin int

	stats      processStats
	enteredAt  int // elapsed-tick mark of the last State transition
	stateTicks [stateCount]int
	stateEntry [stateCount]int
}

// isBlocked reports whether p is in the BLOCKED state.
func (p *Process) isBlocked() bool {
	return p.State == StateBlocked
}

// transition moves p into state as of tick, folding the time just spent in
// the outgoing state into stateTicks and counting one more entry into the
// incoming one. spec.md §8's property 4 (per-state residency sums to total
// ticks since spawn) depends on every State write going through this path
// rather than a bare field assignment.
func (p *Process) transition(state State, tick int) {
	p.stateTicks[p.State] += tick - p.enteredAt
	p.enteredAt = tick
	p.State = state
	p.stateEntry[state]++
}

// residency returns a snapshot of per-state tick counts as of tick, closing
// out whatever time the process has spent in its current state without
// mutating its stored counters.
func (p *Process) residency(tick int) [stateCount]int {
	out := p.stateTicks
	out[p.State] += tick - p.enteredAt
	return out
}

// newIdle returns the idle sentinel: id=-1, READY, CPU_HALTED, no page
// table. Restoring it is what causes the simulated CPU to observe the
// halted-error register and wait for the next interrupt.
func newIdle() *Process {
	return &Process{
		ID:    -1,
		Live:  false,
		State: StateReady,
		Err:   hw.CPUHalted,
	}
}

// Table is the fixed-capacity process table plus its idle sentinel.
type Table struct {
	slots [hw.MaxProcesses]*Process
	idle  *Process
}

// NewTable returns an empty process table with a fresh idle sentinel.
func NewTable() *Table {
	t := &Table{idle: newIdle()}
	for i := range t.slots {
		t.slots[i] = &Process{ID: i}
	}
	return t
}

// Idle returns the table's idle sentinel.
func (t *Table) Idle() *Process {
	return t.idle
}

// Slot returns the descriptor at id, or nil if id is out of range.
func (t *Table) Slot(id int) *Process {
	if id < 0 || id >= len(t.slots) {
		return nil
	}
	return t.slots[id]
}

// LowestFree returns the id of the lowest slot with Live=false, or -1 if
// the table is full.
func (t *Table) LowestFree() int {
	for i, p := range t.slots {
		if !p.Live {
			return i
		}
	}
	return -1
}

// ResetAll clears every slot's liveness and tears down its page table, as
// RESET requires (may be invoked with processes already running).
func (t *Table) ResetAll() {
	for i := range t.slots {
		t.slots[i] = &Process{ID: i}
	}
}

// Live returns every slot whose liveness flag is set, in table order.
func (t *Table) Live() []*Process {
	var out []*Process
	for _, p := range t.slots {
		if p.Live {
			out = append(out, p)
		}
	}
	return out
}
