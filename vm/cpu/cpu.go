// Package cpu is the minimal simulated processor: a fetch-decode-execute
// loop with just enough of an instruction set (load/store/arithmetic/
// branch/syscall/halt) to let an init.maq-style program exercise every
// kernel syscall and take one page fault at a time. Grounded on the
// teacher's emu/cpu run loop and emu/core's supervisor-entry/CHAMAC/RETI
// trap protocol; the full S/370 instruction set has no home here, since
// spec.md places instruction-level simulation out of scope.
package cpu

import (
	"fmt"

	"github.com/oslab/maqvm/hw"
)

// Opcode selects the operation an instruction word encodes.
type Opcode int

const (
	OpHalt Opcode = iota
	OpLoad
	OpStore
	OpAdd
	OpSub
	OpBranch
	OpBranchIfZero
	OpSyscall
)

// Memory is the physical/translated memory surface the CPU fetches from
// and the instruction set operates on. In user mode addr is virtual; in
// supervisor mode it is physical. Either way a *mmu.PageAbsentError (or
// any other error) is surfaced to Read/Write's caller, exactly as the
// kernel's own low-memory register slots are read through the same
// interface in supervisor mode.
type Memory interface {
	Read(addr int, mode hw.Mode) (int, error)
	Write(addr, word int, mode hw.Mode) error
}

// Clock is ticked once per executed instruction.
type Clock interface {
	Tick() bool
}

// Kernel is the trap handler the CPU calls into on RESET, CPU_ERROR,
// SYSTEM and CLOCK. It returns the resulting error code, which the CPU
// only consults to decide whether to keep running or halt outright.
type Kernel interface {
	Trap(kind hw.Kind) hw.Err
}

// Instruction is one decoded fetch: an opcode plus the packed operand
// word that follows it in the instruction stream.
type Instruction struct {
	Op      Opcode
	Operand int
}

// CPU drives the fetch-decode-execute loop. It owns no process state of
// its own -- PC/A/X/Err/Compl/Mode all live in the shared low-memory IRQ
// slots the kernel's save/load phases read and write, mirroring how the
// teacher's own CPU core only ever touches registers through that shared
// surface rather than caching them.
type CPU struct {
	mem    Memory
	clk    Clock
	kernel Kernel
	halted bool
}

// New returns a CPU wired to mem for instruction fetch/operand access,
// clk for the per-instruction tick, and kernel for trap delivery.
func New(mem Memory, clk Clock, kernel Kernel) *CPU {
	return &CPU{mem: mem, clk: clk, kernel: kernel}
}

// Boot delivers the initial RESET trap, the same as a physical machine's
// power-on reset line.
func (c *CPU) Boot() {
	c.halted = false
	c.kernel.Trap(hw.KindReset)
}

// Halted reports whether the last Step stopped the CPU: it found
// CPU_HALTED in the error register (the idle descriptor is installed),
// executed OpHalt, or delivered a trap the kernel answered with
// CPU_HALTED. Callers (the operator console, tests) can still call Step
// to deliver an external interrupt past this point.
func (c *CPU) Halted() bool {
	return c.halted
}

// Step fetches and executes a single instruction at the process
// register set's current PC, in the mode that register set names. It
// returns the interrupt kind the instruction (or the clock) raised, so
// the caller can see exactly what happened.
//
// Per spec.md §3/§9, the idle descriptor carries Err=CPU_HALTED so that
// "restoring its state causes the CPU to observe the halted-error
// register and idle until the next interrupt": Step checks that register
// before ever fetching, and if it reads CPU_HALTED the CPU does nothing
// but let the clock keep ticking -- it never tries to execute whatever
// garbage the idle descriptor's zero-valued PC happens to name.
func (c *CPU) Step() (hw.Kind, error) {
	errReg, err := c.readReg(hw.SlotErr)
	if err != nil {
		return 0, err
	}
	if hw.Err(errReg) == hw.CPUHalted {
		c.halted = true
		return c.tickClock(-1), nil
	}

	mode, err := c.readReg(hw.SlotMode)
	if err != nil {
		return 0, err
	}
	pc, err := c.readReg(hw.SlotPC)
	if err != nil {
		return 0, err
	}

	word, err := c.mem.Read(pc, hw.Mode(mode))
	if err != nil {
		c.raiseFault(pc)
		if c.kernel.Trap(hw.KindCPUError) == hw.CPUHalted {
			c.halted = true
		}
		return hw.KindCPUError, nil
	}

	inst := Decode(word)
	kind, halt := c.execute(inst, hw.Mode(mode))
	c.halted = halt
	return c.tickClock(kind), nil
}

// tickClock advances the clock one instruction's worth, upgrading kind to
// hw.KindClock if it fired, and delivers whichever trap results (if any)
// before returning it.
func (c *CPU) tickClock(kind hw.Kind) hw.Kind {
	if c.clk.Tick() {
		kind = hw.KindClock
	}
	if kind >= 0 && c.kernel.Trap(kind) == hw.CPUHalted {
		c.halted = true
	}
	return kind
}

// Decode splits a packed instruction word into opcode and operand. The
// low 3 bits select the opcode; the rest is a signed operand shifted
// into place.
func Decode(word int) Instruction {
	return Instruction{
		Op:      Opcode(word & 0x7),
		Operand: word >> 3,
	}
}

// Encode packs op and operand into one instruction word, the inverse of
// Decode. Used by tests and by anything assembling ".maq" images in Go
// rather than by hand.
func Encode(op Opcode, operand int) int {
	return (operand << 3) | int(op&0x7)
}

func (c *CPU) execute(inst Instruction, mode hw.Mode) (hw.Kind, bool) {
	a, _ := c.readReg(hw.SlotA)
	pc, _ := c.readReg(hw.SlotPC)

	next := pc + 1
	switch inst.Op {
	case OpHalt:
		c.writeReg(hw.SlotPC, next)
		return -1, true
	case OpLoad:
		v, err := c.mem.Read(inst.Operand, mode)
		if err != nil {
			c.raiseFault(inst.Operand)
			c.writeReg(hw.SlotPC, next)
			return hw.KindCPUError, false
		}
		c.writeReg(hw.SlotA, v)
	case OpStore:
		if err := c.mem.Write(inst.Operand, a, mode); err != nil {
			c.raiseFault(inst.Operand)
			c.writeReg(hw.SlotPC, next)
			return hw.KindCPUError, false
		}
	case OpAdd:
		c.writeReg(hw.SlotA, a+inst.Operand)
	case OpSub:
		c.writeReg(hw.SlotA, a-inst.Operand)
	case OpBranch:
		next = inst.Operand
	case OpBranchIfZero:
		if a == 0 {
			next = inst.Operand
		}
	case OpSyscall:
		c.writeReg(hw.SlotPC, next)
		return hw.KindSystem, false
	default:
		c.writeReg(hw.SlotErr, int(hw.InvalidInstruction))
		c.writeReg(hw.SlotPC, next)
		return hw.KindCPUError, false
	}

	c.writeReg(hw.SlotPC, next)
	return -1, false
}

func (c *CPU) raiseFault(addr int) {
	c.writeReg(hw.SlotErr, int(hw.PageAbsent))
	c.writeReg(hw.SlotCompl, addr)
}

func (c *CPU) readReg(slot int) (int, error) {
	v, err := c.mem.Read(slot, hw.ModeSupervisor)
	if err != nil {
		return 0, fmt.Errorf("cpu: read register slot %d: %w", slot, err)
	}
	return v, nil
}

func (c *CPU) writeReg(slot, value int) {
	_ = c.mem.Write(slot, value, hw.ModeSupervisor)
}
