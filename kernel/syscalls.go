package kernel

import (
	"fmt"

	"github.com/oslab/maqvm/hw"
	"github.com/oslab/maqvm/pagetable"
	"github.com/oslab/maqvm/queue"
)

// maxProgramName bounds copyProgramName's walk so a caller that never
// wrote a NUL can't make SPAWN scan memory forever.
const maxProgramName = 64

// handleSyscall implements spec.md §4.4: the running process's A register
// selects the call and X carries its argument (the byte to write, the
// program-name address for SPAWN, the peer id for WAIT). Every call runs
// against the process that was current when the trap fired; a syscall can
// only ever be made by whichever process the CPU was executing.
func (k *Kernel) handleSyscall() hw.Err {
	p := k.effectiveCurrent()
	if k.isNoProcess(p) {
		return hw.OK
	}

	switch p.A {
	case hw.SysRead:
		k.sysRead(p)
	case hw.SysWrite:
		k.sysWrite(p)
	case hw.SysSpawn:
		k.sysSpawn(p)
	case hw.SysKill:
		k.sysKill(p)
	case hw.SysWait:
		k.sysWait(p)
	default:
		p.Err = hw.InvalidInstruction
	}
	return hw.OK
}

// deviceSlot computes the device slot of the given kind for terminal,
// following original_source's non-overlapping stride-4 layout (terminal
// id occupies slots id*4..id*4+3) rather than spec.md §6's overlapping
// 2t..2t+3 formula.
func deviceSlot(terminal, kind int) int {
	return terminal*4 + kind
}

const (
	slotDataIn = iota
	slotStatusIn
	slotDataOut
	slotStatusOut
)

// sysRead and sysWrite both use the caller's own id as the terminal-group
// index (spec.md §3: id "doubles as terminal-group index"), not an
// argument register -- matching original_source's so_chamada_le/
// so_chamada_escr, which compute `terminal = processoAtual->id * 4`
// unconditionally rather than letting the caller name a device.

func (k *Kernel) sysRead(p *Process) {
	term := p.ID
	status := deviceSlot(term, slotStatusIn)
	if !k.console.Ready(status) {
		p.transition(StateBlocked, k.ticks)
		p.Block = Block{Kind: BlockIO, Device: term}
		return
	}
	p.A = k.console.ReadByte(deviceSlot(term, slotDataIn))
}

func (k *Kernel) sysWrite(p *Process) {
	term := p.ID
	status := deviceSlot(term, slotStatusOut)
	if !k.console.Ready(status) {
		p.transition(StateBlocked, k.ticks)
		p.Block = Block{Kind: BlockIO, Device: term, HasDatum: true, Datum: p.X}
		return
	}
	k.console.WriteByte(deviceSlot(term, slotDataOut), p.X)
}

// copyProgramName implements spec.md §2's "string copy through MMU"
// component: SPAWN's X register is a virtual address in the caller's own
// space, not a value the kernel can read directly. Each word is read
// through the MMU in user mode -- exactly the translation a real load
// instruction in the calling process would get -- one byte per word,
// until a NUL word or maxProgramName is hit.
func (k *Kernel) copyProgramName(vaddr int) (string, error) {
	b := make([]byte, 0, maxProgramName)
	for i := 0; i < maxProgramName; i++ {
		w, err := k.mmu.Read(vaddr+i, hw.ModeUser)
		if err != nil {
			return "", fmt.Errorf("kernel: copy program name at %d: %w", vaddr, err)
		}
		if w == 0 {
			return string(b), nil
		}
		b = append(b, byte(w))
	}
	return "", fmt.Errorf("kernel: program name at %d exceeds %d bytes", vaddr, maxProgramName)
}

func (k *Kernel) sysSpawn(p *Process) {
	name, err := k.copyProgramName(p.X)
	if err != nil {
		p.A = -1
		return
	}

	id := k.table.LowestFree()
	if id < 0 {
		p.A = -1 // no free slot; caller sees -1 the way a failed fork does
		return
	}
	child := k.table.Slot(id)
	child.Live = true
	// Residency counts from this spawn, not from tick 0 or a previous
	// incarnation of the slot.
	child.stateTicks = [stateCount]int{}
	child.enteredAt = k.ticks
	child.transition(StateReady, k.ticks)
	child.Priority = 0.5
	child.Quantum = hw.Quantum
	child.Table = pagetable.New()
	child.Block = Block{}

	addr, err := k.loadImage(child, name)
	if err != nil {
		k.log.Error("spawn: failed to load program", "program", name, "err", err)
		// spec.md §4.2: on a failed load, the caller's A remains -1 and
		// the slot is NOT freed -- a known issue in the source this
		// kernel is faithful to, not one this implementation papers over.
		p.A = -1
		return
	}
	child.PC = addr
	k.stats.Spawned++
	child.stats.Spawns++
	child.stats.noteReady(k.ticks)
	k.ready.Push(queue.Ref(child.ID))
	p.A = child.ID
}

// sysKill implements spec.md §4.2's KILL: it always terminates the calling
// process itself (the caller's X register carries no target, matching
// original_source's so_chamada_mata_proc, which only ever acts on
// processoAtual). Killing a peer by id is an operator-console operation
// (Kill), not a syscall a process can perform on another.
func (k *Kernel) sysKill(p *Process) {
	k.terminate(p)
}

// sysWait implements spec.md §4.2's WAIT. A peer that has already stopped
// is resolved immediately; otherwise the caller blocks unconditionally,
// including when X names a slot that was never spawned into -- per
// spec.md §7, waiting on a non-existent peer is accepted behaviour and
// blocks forever, matching original_source's so_chamada_espera, which
// never validates the target id before blocking.
func (k *Kernel) sysWait(p *Process) {
	if peer := k.table.Slot(p.X); peer != nil && peer.State == StateStopped {
		return // already terminated, nothing to wait for
	}
	p.transition(StateBlocked, k.ticks)
	p.Block = Block{Kind: BlockWaitPeer, Peer: p.X}
}

// Kill terminates the live process at id directly, bypassing the SYSTEM
// trap a running process would otherwise need to make the same request
// of itself or a peer. This is what the operator console's "kill"
// command drives; it reaches the same terminate path a SysKill syscall
// does.
func (k *Kernel) Kill(id int) bool {
	p := k.table.Slot(id)
	if p == nil || !p.Live || k.isNoProcess(p) {
		return false
	}
	k.terminate(p)
	return true
}

// terminate tears a process down to STOPPED: cleared from the ready
// queue, liveness dropped, page table released. It returns without
// touching anything when handed the idle descriptor or nil, so every
// caller is safe against a nil or idle current (spec.md §9's double-kill
// fix).
func (k *Kernel) terminate(p *Process) {
	if p == nil || k.isNoProcess(p) {
		return
	}
	k.ready.Remove(queue.Ref(p.ID))
	residency := p.residency(k.ticks)
	p.transition(StateStopped, k.ticks)
	p.Live = false
	p.Table = nil
	if k.current == p {
		k.current = nil
	}
	// KILL clears liveness immediately (spec.md §4.2), which frees the
	// slot for reuse and drops it out of Table.Live() -- latch its final
	// counters now so the statistics report still accounts for it.
	k.finalReports = append(k.finalReports, ProcessReport{
		ID:          p.ID,
		Spawns:      p.stats.Spawns,
		Preemptions: p.stats.Preemptions,
		MeanReady:   p.stats.meanReady,
		StateTicks:  residency,
		StateEntry:  p.stateEntry,
	})
}
