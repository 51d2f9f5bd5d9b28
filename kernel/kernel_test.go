package kernel

import (
	"fmt"
	"strings"
	"testing"

	"github.com/oslab/maqvm/hw"
	"github.com/oslab/maqvm/pagetable"
	"github.com/oslab/maqvm/program"
)

// fakeMemory is a flat word array big enough for IRQ slots plus a few
// pages of frames, used as both the kernel's Memory and the pager's
// frame-write target.
type fakeMemory struct {
	cells [256]int
}

func (m *fakeMemory) Read(addr int) (int, error) {
	if addr < 0 || addr >= len(m.cells) {
		return 0, fmt.Errorf("fakeMemory: out of range %d", addr)
	}
	return m.cells[addr], nil
}

func (m *fakeMemory) Write(addr, word int) error {
	if addr < 0 || addr >= len(m.cells) {
		return fmt.Errorf("fakeMemory: out of range %d", addr)
	}
	m.cells[addr] = word
	return nil
}

// fakeMMU records the installed page table and, separately, a flat
// user-space word map SPAWN's copyProgramName reads a NUL-terminated name
// out of -- standing in for whatever frame a real page table would
// resolve the name's virtual address to.
type fakeMMU struct {
	installed *pagetable.Table
	userSpace map[int]int
}

func (m *fakeMMU) SetPageTable(pt *pagetable.Table) { m.installed = pt }

func (m *fakeMMU) Read(vaddr int, mode hw.Mode) (int, error) {
	if mode != hw.ModeUser {
		return 0, fmt.Errorf("fakeMMU: Read called outside user mode")
	}
	w, ok := m.userSpace[vaddr]
	if !ok {
		return 0, fmt.Errorf("fakeMMU: no user mapping for vaddr %d", vaddr)
	}
	return w, nil
}

// putProgramName writes name as a NUL-terminated byte-per-word string
// into the fake MMU's user space starting at vaddr, the shape
// copyProgramName expects to read back.
func (m *fakeMMU) putProgramName(vaddr int, name string) {
	if m.userSpace == nil {
		m.userSpace = map[int]int{}
	}
	for i := 0; i < len(name); i++ {
		m.userSpace[vaddr+i] = int(name[i])
	}
	m.userSpace[vaddr+len(name)] = 0
}

type fakeDisk struct {
	cells [1024]int
}

func (d *fakeDisk) Read(addr int) (int, error) {
	if addr < 0 || addr >= len(d.cells) {
		return 0, fmt.Errorf("fakeDisk: out of range %d", addr)
	}
	return d.cells[addr], nil
}

func (d *fakeDisk) Write(addr, word int) error {
	if addr < 0 || addr >= len(d.cells) {
		return fmt.Errorf("fakeDisk: out of range %d", addr)
	}
	d.cells[addr] = word
	return nil
}

type fakeConsole struct {
	readyIn  map[int]bool
	readyOut map[int]bool
	in       map[int]int
	out      map[int]int
}

func newFakeConsole() *fakeConsole {
	return &fakeConsole{
		readyIn:  map[int]bool{},
		readyOut: map[int]bool{},
		in:       map[int]int{},
		out:      map[int]int{},
	}
}

func (c *fakeConsole) Ready(slot int) bool {
	if v, ok := c.readyIn[slot]; ok {
		return v
	}
	return c.readyOut[slot]
}

func (c *fakeConsole) ReadByte(slot int) int  { return c.in[slot] }
func (c *fakeConsole) WriteByte(slot, v int)  { c.out[slot] = v }

type fakeClock struct {
	regs map[int]int
}

func newFakeClock() *fakeClock { return &fakeClock{regs: map[int]int{}} }

func (c *fakeClock) WriteRegister(reg, value int) { c.regs[reg] = value }

// childNameVAddr is the virtual address tests write "child.maq" at before
// issuing a SPAWN with X=childNameVAddr.
const childNameVAddr = 100

// testLoader returns a loadProgram func that serves canned images by name.
func testLoader(images map[string]*program.Image) func(string) (*program.Image, error) {
	return func(name string) (*program.Image, error) {
		img, ok := images[name]
		if !ok {
			return nil, fmt.Errorf("no such program %q", name)
		}
		return img, nil
	}
}

func newTestKernel(t *testing.T, images map[string]*program.Image) (*Kernel, *fakeMemory, *fakeMMU, *fakeDisk, *fakeConsole, *fakeClock) {
	t.Helper()
	mem := &fakeMemory{}
	mmu := &fakeMMU{}
	mmu.putProgramName(childNameVAddr, "child.maq")
	disk := &fakeDisk{}
	con := newFakeConsole()
	clk := newFakeClock()

	var out strings.Builder
	k := NewKernel(Config{
		Memory:      mem,
		MMU:         mmu,
		Disk:        disk,
		Console:     con,
		Clock:       clk,
		LoadProgram: testLoader(images),
		InitProgram: "init.maq",
		StatsOut:    &out,
	})
	return k, mem, mmu, disk, con, clk
}

func smallImage(loadAddr int, n int) *program.Image {
	words := make([]int, n)
	for i := range words {
		words[i] = i + 1
	}
	return &program.Image{LoadAddr: loadAddr, Words: words}
}

func TestResetBootsProcessZero(t *testing.T) {
	images := map[string]*program.Image{"init.maq": smallImage(0, 4)}
	k, _, mmu, _, _, _ := newTestKernel(t, images)

	k.Trap(hw.KindReset)

	p0 := k.Table().Slot(0)
	if !p0.Live || p0.State != StateReady {
		t.Fatalf("process 0 after RESET: live=%v state=%v, want live=true state=READY", p0.Live, p0.State)
	}
	if k.Current().ID != 0 {
		t.Fatalf("current after RESET = %d, want 0", k.Current().ID)
	}
	if mmu.installed != p0.Table {
		t.Fatalf("installed page table does not match process 0's table")
	}
}

func TestResetClearsPriorTable(t *testing.T) {
	images := map[string]*program.Image{"init.maq": smallImage(0, 4)}
	k, _, _, _, _, _ := newTestKernel(t, images)
	k.Trap(hw.KindReset)
	k.Table().Slot(0).State = StateStopped
	k.Table().Slot(0).Live = false

	k.Trap(hw.KindReset)

	p0 := k.Table().Slot(0)
	if !p0.Live || p0.State != StateReady {
		t.Fatalf("second RESET did not reboot process 0: live=%v state=%v", p0.Live, p0.State)
	}
}

func TestPageFaultInstallsFrame(t *testing.T) {
	images := map[string]*program.Image{"init.maq": smallImage(0, 4)}
	k, mem, _, _, _, _ := newTestKernel(t, images)
	k.Trap(hw.KindReset)

	p0 := k.Table().Slot(0)
	mem.cells[hw.SlotErr] = int(hw.PageAbsent)
	mem.cells[hw.SlotCompl] = 0 // page 0

	errCode := k.Trap(hw.KindCPUError)
	if errCode != hw.OK {
		t.Fatalf("Trap(CPU_ERROR) on page fault = %v, want OK", errCode)
	}
	if frame, ok := p0.Table.Frame(0); !ok || frame == pagetable.Absent {
		t.Fatalf("page 0 frame = (%d, %v), want a real frame", frame, ok)
	}
}

func TestCPUErrorTerminatesOnNonPageFault(t *testing.T) {
	images := map[string]*program.Image{"init.maq": smallImage(0, 4)}
	k, mem, _, _, _, _ := newTestKernel(t, images)
	k.Trap(hw.KindReset)

	mem.cells[hw.SlotErr] = int(hw.InvalidInstruction)
	k.Trap(hw.KindCPUError)

	p0 := k.Table().Slot(0)
	if p0.State != StateStopped || p0.Live {
		t.Fatalf("process 0 after fatal CPU_ERROR: state=%v live=%v, want STOPPED/false", p0.State, p0.Live)
	}
}

func TestCPUErrorOnIdleIsNoop(t *testing.T) {
	images := map[string]*program.Image{}
	k, mem, _, _, _, _ := newTestKernel(t, images)
	// No RESET: current stays nil/idle.
	mem.cells[hw.SlotErr] = int(hw.InvalidInstruction)
	got := k.Trap(hw.KindCPUError)
	if got != hw.OK {
		t.Fatalf("Trap(CPU_ERROR) with no current process = %v, want OK", got)
	}
	if k.Current().ID != -1 {
		t.Fatalf("Current().ID = %d, want -1 (idle)", k.Current().ID)
	}
}

func TestSpawnCreatesChildAndReturnsItsID(t *testing.T) {
	images := map[string]*program.Image{
		"init.maq":  smallImage(0, 4),
		"child.maq": smallImage(0, 4),
	}
	k, mem, _, _, _, _ := newTestKernel(t, images)
	k.Trap(hw.KindReset)

	mem.cells[hw.SlotA] = hw.SysSpawn
	mem.cells[hw.SlotX] = childNameVAddr
	k.Trap(hw.KindSystem)

	child := k.Table().Slot(1)
	if !child.Live || child.State != StateReady {
		t.Fatalf("child after SPAWN: live=%v state=%v, want true/READY", child.Live, child.State)
	}
	if mem.cells[hw.SlotA] != 1 {
		t.Fatalf("A register after SPAWN = %d, want 1 (child id)", mem.cells[hw.SlotA])
	}
}

func TestKillTerminatesTarget(t *testing.T) {
	images := map[string]*program.Image{
		"init.maq":  smallImage(0, 4),
		"child.maq": smallImage(0, 4),
	}
	k, mem, _, _, _, _ := newTestKernel(t, images)
	k.Trap(hw.KindReset)
	mem.cells[hw.SlotA] = hw.SysSpawn
	mem.cells[hw.SlotX] = childNameVAddr
	k.Trap(hw.KindSystem)

	if !k.Kill(1) {
		t.Fatalf("Kill(1) = false, want true")
	}
	if k.Table().Slot(1).State != StateStopped {
		t.Fatalf("child state after Kill = %v, want STOPPED", k.Table().Slot(1).State)
	}
}

func TestKillIdleIsRejected(t *testing.T) {
	k, _, _, _, _, _ := newTestKernel(t, map[string]*program.Image{})
	if k.Kill(-1) {
		t.Fatalf("Kill(-1) on the idle sentinel = true, want false")
	}
}

func TestReadBlocksWhenTerminalNotReady(t *testing.T) {
	images := map[string]*program.Image{"init.maq": smallImage(0, 4)}
	k, mem, _, _, con, _ := newTestKernel(t, images)
	k.Trap(hw.KindReset)
	// Process 0's own id selects its terminal -- spec.md §3 ("id doubles as
	// terminal-group index"); READ/WRITE take no terminal argument.
	con.readyIn[deviceSlot(0, slotStatusIn)] = false

	mem.cells[hw.SlotA] = hw.SysRead
	k.Trap(hw.KindSystem)

	p0 := k.Table().Slot(0)
	if p0.State != StateBlocked || p0.Block.Kind != BlockIO || p0.Block.Device != 0 {
		t.Fatalf("process 0 after blocking READ: state=%v block=%+v", p0.State, p0.Block)
	}
}

func TestWriteUsesCallerIDAsTerminalAndXAsDatum(t *testing.T) {
	images := map[string]*program.Image{"init.maq": smallImage(0, 4)}
	k, mem, _, _, con, _ := newTestKernel(t, images)
	k.Trap(hw.KindReset)
	con.readyOut[deviceSlot(0, slotStatusOut)] = true

	mem.cells[hw.SlotA] = hw.SysWrite
	mem.cells[hw.SlotX] = 65
	k.Trap(hw.KindSystem)

	if got := con.out[deviceSlot(0, slotDataOut)]; got != 65 {
		t.Fatalf("console data-out for process 0's terminal = %d, want 65 (X register)", got)
	}
}

func TestWriteBlocksWithXAsPendingDatum(t *testing.T) {
	images := map[string]*program.Image{"init.maq": smallImage(0, 4)}
	k, mem, _, _, con, _ := newTestKernel(t, images)
	k.Trap(hw.KindReset)
	con.readyOut[deviceSlot(0, slotStatusOut)] = false

	mem.cells[hw.SlotA] = hw.SysWrite
	mem.cells[hw.SlotX] = 65
	k.Trap(hw.KindSystem)

	p0 := k.Table().Slot(0)
	if p0.State != StateBlocked || !p0.Block.HasDatum || p0.Block.Datum != 65 || p0.Block.Device != 0 {
		t.Fatalf("process 0 after blocking WRITE: state=%v block=%+v, want blocked with datum=65 device=0", p0.State, p0.Block)
	}
}

func TestResolvePendingUnblocksReadyIO(t *testing.T) {
	images := map[string]*program.Image{
		"init.maq":  smallImage(0, 4),
		"child.maq": smallImage(0, 4),
	}
	k, mem, _, _, con, _ := newTestKernel(t, images)
	k.Trap(hw.KindReset)
	mem.cells[hw.SlotA] = hw.SysSpawn
	mem.cells[hw.SlotX] = childNameVAddr
	k.Trap(hw.KindSystem)

	child := k.Table().Slot(1)
	child.State = StateBlocked
	child.Block = Block{Kind: BlockIO, Device: 2}
	con.readyIn[deviceSlot(2, slotStatusIn)] = true
	con.in[deviceSlot(2, slotDataIn)] = 42

	// Any trap re-runs resolvePending.
	k.Trap(hw.KindClock)

	if child.State != StateReady {
		t.Fatalf("child state after resolvePending = %v, want READY", child.State)
	}
	if child.A != 42 {
		t.Fatalf("child.A after unblock = %d, want 42", child.A)
	}
}

func TestWaitBlocksUntilPeerStops(t *testing.T) {
	images := map[string]*program.Image{
		"init.maq":  smallImage(0, 4),
		"child.maq": smallImage(0, 4),
	}
	k, mem, _, _, _, _ := newTestKernel(t, images)
	k.Trap(hw.KindReset)
	mem.cells[hw.SlotA] = hw.SysSpawn
	mem.cells[hw.SlotX] = childNameVAddr
	k.Trap(hw.KindSystem)

	// Process 0 waits on process 1.
	mem.cells[hw.SlotA] = hw.SysWait
	mem.cells[hw.SlotX] = 1
	k.Trap(hw.KindSystem)

	p0 := k.Table().Slot(0)
	if p0.State != StateBlocked || p0.Block.Kind != BlockWaitPeer {
		t.Fatalf("process 0 after WAIT: state=%v block=%+v", p0.State, p0.Block)
	}

	k.Kill(1)
	k.Trap(hw.KindClock) // drives resolvePending again

	if p0.State != StateReady {
		t.Fatalf("process 0 after peer stopped = %v, want READY", p0.State)
	}
}

func TestQuantumExhaustionRotatesReadyQueue(t *testing.T) {
	images := map[string]*program.Image{
		"init.maq":  smallImage(0, 4),
		"child.maq": smallImage(0, 4),
	}
	k, mem, _, _, _, _ := newTestKernel(t, images)
	k.Trap(hw.KindReset)
	mem.cells[hw.SlotA] = hw.SysSpawn
	mem.cells[hw.SlotX] = childNameVAddr
	k.Trap(hw.KindSystem)

	if k.Current().ID != 0 {
		t.Fatalf("current after spawn = %d, want 0 (spawning process keeps the CPU)", k.Current().ID)
	}

	for i := 0; i < hw.Quantum; i++ {
		mem.cells[hw.SlotA] = 0
		k.Trap(hw.KindClock)
	}

	if k.Current().ID != 1 {
		t.Fatalf("current after quantum exhaustion = %d, want 1", k.Current().ID)
	}
}

func TestSpawnWithBadNameAddressReturnsMinusOne(t *testing.T) {
	images := map[string]*program.Image{"init.maq": smallImage(0, 4)}
	k, mem, _, _, _, _ := newTestKernel(t, images)
	k.Trap(hw.KindReset)

	mem.cells[hw.SlotA] = hw.SysSpawn
	mem.cells[hw.SlotX] = 9999 // no mapping in fakeMMU's user space
	k.Trap(hw.KindSystem)

	if mem.cells[hw.SlotA] != -1 {
		t.Fatalf("A register after SPAWN with unreadable name = %d, want -1", mem.cells[hw.SlotA])
	}
	if k.Table().Slot(1).Live {
		t.Fatalf("slot 1 should still be free after a failed name copy")
	}
}

func TestWaitOnNeverSpawnedPeerBlocksForever(t *testing.T) {
	images := map[string]*program.Image{"init.maq": smallImage(0, 4)}
	k, mem, _, _, _, _ := newTestKernel(t, images)
	k.Trap(hw.KindReset)

	mem.cells[hw.SlotA] = hw.SysWait
	mem.cells[hw.SlotX] = 3 // slot never spawned into
	k.Trap(hw.KindSystem)

	p0 := k.Table().Slot(0)
	if p0.State != StateBlocked || p0.Block.Kind != BlockWaitPeer {
		t.Fatalf("process 0 after WAIT on a never-spawned peer: state=%v block=%+v", p0.State, p0.Block)
	}

	for i := 0; i < 3; i++ {
		k.Trap(hw.KindClock)
	}
	if p0.State != StateBlocked {
		t.Fatalf("process 0 should still be blocked on a peer that never existed, got %v", p0.State)
	}
}

func TestStateResidencySumsToTicksSinceSpawn(t *testing.T) {
	images := map[string]*program.Image{
		"init.maq":  smallImage(0, 4),
		"child.maq": smallImage(0, 4),
	}
	k, mem, _, _, con, _ := newTestKernel(t, images)
	k.Trap(hw.KindReset)
	mem.cells[hw.SlotA] = hw.SysSpawn
	mem.cells[hw.SlotX] = childNameVAddr
	k.Trap(hw.KindSystem)
	spawnTick := k.ticks

	child := k.Table().Slot(1)

	// Block the child on a READ, then let a few clock ticks pass with the
	// terminal still not ready before unblocking it.
	con.readyIn[deviceSlot(1, slotStatusIn)] = false
	mem.cells[hw.SlotA] = hw.SysRead
	mem.cells[hw.SlotX] = 1
	// Force child to be current so its own syscall trap is attributed to it.
	k.current = child
	k.Trap(hw.KindSystem)

	for i := 0; i < 3; i++ {
		k.Trap(hw.KindClock)
	}
	con.readyIn[deviceSlot(1, slotStatusIn)] = true
	con.in[deviceSlot(1, slotDataIn)] = 7
	k.Trap(hw.KindClock)

	var total int
	for _, r := range k.Report() {
		if r.ID != child.ID {
			continue
		}
		total = r.StateTicks[StateReady] + r.StateTicks[StateBlocked] + r.StateTicks[StateStopped]
	}
	want := k.ticks - spawnTick
	if total != want {
		t.Fatalf("sum of per-state residency = %d, want %d ticks since spawn", total, want)
	}
}

func TestIRQCountsTallyByKind(t *testing.T) {
	images := map[string]*program.Image{"init.maq": smallImage(0, 4)}
	k, mem, _, _, _, _ := newTestKernel(t, images)
	k.Trap(hw.KindReset)
	mem.cells[hw.SlotA] = 0
	k.Trap(hw.KindClock)
	k.Trap(hw.KindClock)

	if got := k.Stats().IRQCounts[hw.KindReset.String()]; got != 1 {
		t.Fatalf("RESET irq count = %d, want 1", got)
	}
	if got := k.Stats().IRQCounts[hw.KindClock.String()]; got != 2 {
		t.Fatalf("CLOCK irq count = %d, want 2", got)
	}
}

func TestKillOnlyTerminatesCaller(t *testing.T) {
	images := map[string]*program.Image{
		"init.maq":  smallImage(0, 4),
		"child.maq": smallImage(0, 4),
	}
	k, mem, _, _, _, _ := newTestKernel(t, images)
	k.Trap(hw.KindReset)
	mem.cells[hw.SlotA] = hw.SysSpawn
	mem.cells[hw.SlotX] = childNameVAddr
	k.Trap(hw.KindSystem)

	// Process 1 is READY but not current; process 0 is current and calls KILL.
	mem.cells[hw.SlotA] = hw.SysKill
	mem.cells[hw.SlotX] = 1
	k.Trap(hw.KindSystem)

	if k.Table().Slot(0).State != StateStopped {
		t.Fatalf("caller after KILL = %v, want STOPPED", k.Table().Slot(0).State)
	}
	if k.Table().Slot(1).State != StateReady {
		t.Fatalf("peer after caller's KILL = %v, want unaffected READY", k.Table().Slot(1).State)
	}
}
