package kernel

import "github.com/oslab/maqvm/queue"

// resolvePending implements spec.md §4's third pipeline phase: after the
// trap that caused it has been dispatched, walk every BLOCKED descriptor
// and see whether the condition it's waiting on has since become true.
// This is what wakes a process once its terminal becomes ready or the
// peer it waits on stops, without the blocked process needing to poll.
func (k *Kernel) resolvePending() {
	for _, p := range k.table.Live() {
		if p.State != StateBlocked {
			continue
		}
		switch p.Block.Kind {
		case BlockIO:
			k.resolveIO(p)
		case BlockWaitPeer:
			k.resolveWaitPeer(p)
		}
	}
}

func (k *Kernel) resolveIO(p *Process) {
	term := p.Block.Device
	if p.Block.HasDatum {
		status := deviceSlot(term, slotStatusOut)
		if !k.console.Ready(status) {
			return
		}
		k.console.WriteByte(deviceSlot(term, slotDataOut), p.Block.Datum)
	} else {
		status := deviceSlot(term, slotStatusIn)
		if !k.console.Ready(status) {
			return
		}
		p.A = k.console.ReadByte(deviceSlot(term, slotDataIn))
	}
	k.unblock(p)
}

func (k *Kernel) resolveWaitPeer(p *Process) {
	peer := k.table.Slot(p.Block.Peer)
	if peer != nil && peer.State == StateStopped {
		k.unblock(p)
	}
}

func (k *Kernel) unblock(p *Process) {
	p.transition(StateReady, k.ticks)
	p.Block = Block{}
	p.stats.noteReady(k.ticks)
	k.ready.Push(queue.Ref(p.ID))
}
