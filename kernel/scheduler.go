package kernel

import (
	"github.com/oslab/maqvm/hw"
	"github.com/oslab/maqvm/queue"
)

// schedule implements spec.md §4.3's decision procedure, run every trap
// right after resolvePending.
func (k *Kernel) schedule() {
	noProcess := k.isNoProcess(k.current)

	switch {
	case k.ready.Len() == 0 && noProcess:
		k.stats.IdleTicks++
		if !k.anyLiveNonStopped() {
			k.emitStatsOnce()
		}
		k.setCurrentIdle()

	case noProcess:
		ref, ok := k.ready.Pop()
		if !ok {
			k.setCurrentIdle()
			return
		}
		p := k.table.Slot(int(ref))
		if p == nil || p.State != StateReady {
			k.setCurrentIdle()
			return
		}
		p.stats.noteDispatched(k.ticks)
		k.setCurrent(p)
		p.Quantum = hw.Quantum

	case k.current.State == StateBlocked || k.current.Quantum <= 0:
		old := k.current
		k.recomputePriority(old)
		old.Quantum = hw.Quantum
		if old.State == StateReady {
			old.stats.noteReady(k.ticks)
			k.ready.Push(queue.Ref(old.ID))
		}

		ref, ok := k.ready.Pop()
		if !ok {
			k.setCurrentIdle()
			return
		}
		next := k.table.Slot(int(ref))
		if next == nil || next.State != StateReady {
			k.setCurrentIdle()
			return
		}
		next.stats.noteDispatched(k.ticks)
		if next != old {
			k.stats.Preemptions++
			old.stats.Preemptions++
		}
		k.setCurrent(next)
		next.Quantum = hw.Quantum

	default:
		// Keep running current.
	}
}

// recomputePriority applies spec.md §4.3's priority-variant update at a
// preemption point. The FIFO ready queue ignores the result, but it is
// cheap enough to always run so the field stays meaningful if the kernel
// is reconfigured to the priority policy later.
func (k *Kernel) recomputePriority(p *Process) {
	remaining := p.Quantum
	used := float64(hw.Quantum-remaining) / float64(hw.Quantum)
	p.Priority = (p.Priority + used) / 2
}

// anyLiveNonStopped reports whether any process-table slot is both live
// and not STOPPED -- the condition the statistics collector waits for
// before reporting a fully idle system.
func (k *Kernel) anyLiveNonStopped() bool {
	for _, p := range k.table.Live() {
		if p.State != StateStopped {
			return true
		}
	}
	return false
}

func (k *Kernel) setCurrent(p *Process) {
	k.current = p
}

func (k *Kernel) setCurrentIdle() {
	k.current = k.table.Idle()
}

func (k *Kernel) isNoProcess(p *Process) bool {
	return p == nil || p == k.table.Idle()
}

func (k *Kernel) effectiveCurrent() *Process {
	if k.current == nil {
		return k.table.Idle()
	}
	return k.current
}
