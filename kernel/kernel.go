package kernel

import (
	"io"
	"log/slog"

	"github.com/oslab/maqvm/hw"
	"github.com/oslab/maqvm/pagetable"
	"github.com/oslab/maqvm/program"
	"github.com/oslab/maqvm/queue"
)

// Memory is the subset of vm/memory.Memory the kernel needs to move the
// shared IRQ register slots in and out of low memory.
type Memory interface {
	Read(addr int) (int, error)
	Write(addr, word int) error
}

// MMU is the subset of vm/mmu.MMU the kernel drives: installing the page
// table of whichever process Load is about to resume, and translating
// virtual addresses (used to copy a program name out of a caller's
// address space on SPAWN).
type MMU interface {
	SetPageTable(pt *pagetable.Table)
	Read(vaddr int, mode hw.Mode) (int, error)
}

// Disk is the subset of vm/disk.Disk the loader and pager need.
type Disk interface {
	Read(addr int) (int, error)
	Write(addr, word int) error
}

// Console is the subset of vm/console.Console the READ/WRITE syscalls and
// the pending-work resolver need.
type Console interface {
	Ready(slot int) bool
	ReadByte(slot int) int
	WriteByte(slot, value int)
}

// Clock is the subset of vm/clock.Clock the CLOCK irq handler needs.
type Clock interface {
	WriteRegister(reg, value int)
}

// NewReady builds a fresh ready-queue implementation for the scheduling
// policy the kernel was configured with. Called on every RESET, since
// spec.md requires the ready queue itself be cleared along with the
// frame/disk allocators.
type NewReady func(priorityOf func(queue.Ref) float64) queue.Ready

// FIFOPolicy builds a round-robin (FIFO) ready queue.
func FIFOPolicy(func(queue.Ref) float64) queue.Ready {
	return queue.NewFIFO()
}

// PriorityPolicy builds a priority ready queue keyed by each descriptor's
// Priority field.
func PriorityPolicy(priorityOf func(queue.Ref) float64) queue.Ready {
	return queue.NewPriority(queue.PriorityFunc(priorityOf))
}

// Kernel is the single-threaded interrupt-driven core. It is built once
// against a simulated machine's collaborators and driven entirely through
// Trap.
type Kernel struct {
	mem     Memory
	mmu     MMU
	disk    Disk
	console Console
	clk     Clock

	loadProgram func(name string) (*program.Image, error)
	initProgram string

	newReady NewReady
	log      *slog.Logger

	table   *Table
	current *Process
	ready   queue.Ready

	nextFrame int
	nextDisk  int
	ticks     int

	stats        Stats
	finalReports []ProcessReport
	statsEmitted bool
	statsOut     io.Writer
}

// Config collects everything NewKernel needs from the simulated machine
// and from the operator.
type Config struct {
	Memory      Memory
	MMU         MMU
	Disk        Disk
	Console     Console
	Clock       Clock
	LoadProgram func(name string) (*program.Image, error)
	InitProgram string
	Policy      NewReady
	Log         *slog.Logger
	StatsOut    io.Writer
}

// NewKernel builds a kernel. It does not perform a RESET; callers trigger
// that the same way real hardware does, by delivering hw.KindReset.
func NewKernel(cfg Config) *Kernel {
	if cfg.Policy == nil {
		cfg.Policy = FIFOPolicy
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.InitProgram == "" {
		cfg.InitProgram = "init.maq"
	}
	k := &Kernel{
		mem:         cfg.Memory,
		mmu:         cfg.MMU,
		disk:        cfg.Disk,
		console:     cfg.Console,
		clk:         cfg.Clock,
		loadProgram: cfg.LoadProgram,
		initProgram: cfg.InitProgram,
		newReady:    cfg.Policy,
		log:         cfg.Log,
		table:       NewTable(),
		statsOut:    cfg.StatsOut,
	}
	k.current = k.table.Idle()
	k.ready = k.newReady(k.priorityOf)
	return k
}

func (k *Kernel) priorityOf(ref queue.Ref) float64 {
	p := k.table.Slot(int(ref))
	if p == nil {
		return 0
	}
	return p.Priority
}

// Current returns the descriptor currently installed, for inspection by
// the operator console.
func (k *Kernel) Current() *Process {
	return k.current
}

// Table exposes the process table for inspection (operator console,
// tests). The kernel itself is still the only thing that mutates it.
func (k *Kernel) Table() *Table {
	return k.table
}

// Stats returns a snapshot of the accumulated statistics.
func (k *Kernel) Stats() Stats {
	return k.stats
}

// Trap is the kernel's single entry point, invoked by the CPU simulator
// whenever it accepts an interrupt. It runs the five-phase pipeline from
// spec.md §2 with no reordering: save, dispatch, resolve pending,
// schedule, load.
func (k *Kernel) Trap(kind hw.Kind) hw.Err {
	k.ticks++
	k.save()
	err := k.dispatch(kind)
	// Counted after dispatch, not before: RESET clears k.stats as part of
	// rebooting the system, and the reset itself should still show up in
	// the fresh incarnation's IRQ tally rather than being wiped out by it.
	k.stats.noteIRQ(kind.String())
	k.resolvePending()
	k.schedule()
	k.load()
	return err
}

// save is phase 1: read the six IRQ register slots from low memory into
// the current descriptor (or the idle descriptor, if no process is
// current). It has no side effect on the state field.
func (k *Kernel) save() {
	target := k.effectiveCurrent()
	pc, _ := k.mem.Read(hw.SlotPC)
	a, _ := k.mem.Read(hw.SlotA)
	x, _ := k.mem.Read(hw.SlotX)
	errv, _ := k.mem.Read(hw.SlotErr)
	compl, _ := k.mem.Read(hw.SlotCompl)
	mode, _ := k.mem.Read(hw.SlotMode)

	target.PC = pc
	target.A = a
	target.X = x
	target.Err = hw.Err(errv)
	target.Compl = compl
	target.Mode = hw.Mode(mode)
}

// load is phase 5: install the current descriptor's page table into the
// MMU and write its six registers back into the IRQ slots.
func (k *Kernel) load() {
	current := k.effectiveCurrent()
	k.mmu.SetPageTable(current.Table)

	_ = k.mem.Write(hw.SlotPC, current.PC)
	_ = k.mem.Write(hw.SlotA, current.A)
	_ = k.mem.Write(hw.SlotX, current.X)
	_ = k.mem.Write(hw.SlotErr, int(current.Err))
	_ = k.mem.Write(hw.SlotCompl, current.Compl)
	_ = k.mem.Write(hw.SlotMode, int(current.Mode))
}

func (k *Kernel) dispatch(kind hw.Kind) hw.Err {
	switch kind {
	case hw.KindReset:
		k.handleReset()
		return hw.OK
	case hw.KindCPUError:
		return k.handleCPUError()
	case hw.KindSystem:
		return k.handleSyscall()
	case hw.KindClock:
		k.handleClock()
		return hw.OK
	default:
		return hw.CPUHalted
	}
}

// handleReset implements spec.md §4.2's RESET case: a reset may be
// invoked at any time, so it tears down every descriptor and page table,
// clears both allocators, then boots process 0 from initProgram.
func (k *Kernel) handleReset() {
	k.table.ResetAll()
	k.nextFrame = (hw.ReservedLow + hw.PageSize - 1) / hw.PageSize
	k.nextDisk = 0
	k.ready = k.newReady(k.priorityOf)
	k.statsEmitted = false
	k.stats = Stats{}
	k.finalReports = nil
	k.current = nil

	p0 := k.table.Slot(0)
	p0.Live = true
	p0.enteredAt = k.ticks
	p0.transition(StateReady, k.ticks)
	p0.Priority = 0.5
	p0.Quantum = hw.Quantum
	p0.Table = pagetable.New()
	p0.Block = Block{}

	addr, err := k.loadImage(p0, k.initProgram)
	if err != nil {
		k.log.Error("reset: failed to load init program", "program", k.initProgram, "err", err)
		p0.Live = false
		return
	}
	p0.PC = addr
	k.stats.Spawned++
	p0.stats.Spawns++
	p0.stats.noteReady(k.ticks)
	k.ready.Push(queue.Ref(p0.ID))
}

// handleCPUError implements spec.md §4.2's CPU_ERROR case.
func (k *Kernel) handleCPUError() hw.Err {
	current := k.effectiveCurrent()
	if current.Err == hw.PageAbsent {
		return k.pageFault(current)
	}
	if !k.isNoProcess(current) {
		k.terminate(current)
	}
	return hw.OK
}

// handleClock implements spec.md §4.2's CLOCK case: acknowledge the
// latch and charge the running process one tick of its quantum. The
// scheduler phase that follows decides whether that empties the quantum
// and forces a rotation.
func (k *Kernel) handleClock() {
	k.clk.WriteRegister(hw.ClockRegLatch, 0)
	k.clk.WriteRegister(hw.ClockRegCountdown, hw.Interval)
	current := k.effectiveCurrent()
	if k.isNoProcess(current) {
		return
	}
	if current.Quantum > 0 {
		current.Quantum--
	}
}
