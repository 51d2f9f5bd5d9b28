// Package mmu is the simulated memory-management unit: it holds whichever
// page table the kernel has installed and translates virtual addresses for
// user-mode accesses, surfacing an untranslated page as hw.PageAbsent the
// same way spec.md §6 describes. Supervisor-mode accesses go straight to
// physical memory, matching how the kernel's own low-memory IRQ slots are
// documented to work. Grounded on the
// address-resolution style of the teacher's emu/sys_channel (explicit
// error returns, no panics).
package mmu

import (
	"fmt"

	"github.com/oslab/maqvm/hw"
	"github.com/oslab/maqvm/pagetable"
	"github.com/oslab/maqvm/vm/memory"
)

// PageAbsentError is returned when a virtual address translates to a page
// that has not been faulted into a frame yet. VAddr is recorded exactly as
// the kernel's saved complement register needs it for the pager.
type PageAbsentError struct {
	VAddr int
}

func (e *PageAbsentError) Error() string {
	return fmt.Sprintf("mmu: page absent for virtual address %d", e.VAddr)
}

// MMU translates virtual addresses through the currently installed page
// table and performs the resulting physical access against mem.
type MMU struct {
	mem   *memory.Memory
	table *pagetable.Table
}

// New returns an MMU with no page table installed.
func New(mem *memory.Memory) *MMU {
	return &MMU{mem: mem}
}

// SetPageTable installs pt as the table consulted for subsequent user-mode
// accesses. A nil table means no process is current.
func (m *MMU) SetPageTable(pt *pagetable.Table) {
	m.table = pt
}

// Read returns the word at vaddr. In supervisor mode vaddr is treated as a
// physical address; in user mode it is translated through the installed
// page table and may return a *PageAbsentError.
func (m *MMU) Read(vaddr int, mode hw.Mode) (int, error) {
	addr, err := m.translate(vaddr, mode)
	if err != nil {
		return 0, err
	}
	return m.mem.Read(addr)
}

// Write stores word at vaddr, translated the same way Read is.
func (m *MMU) Write(vaddr, word int, mode hw.Mode) error {
	addr, err := m.translate(vaddr, mode)
	if err != nil {
		return err
	}
	return m.mem.Write(addr, word)
}

func (m *MMU) translate(vaddr int, mode hw.Mode) (int, error) {
	if mode == hw.ModeSupervisor {
		return vaddr, nil
	}
	if m.table == nil {
		return 0, &PageAbsentError{VAddr: vaddr}
	}
	page := vaddr / hw.PageSize
	offset := vaddr % hw.PageSize
	frame, ok := m.table.Frame(page)
	if !ok || frame == pagetable.Absent {
		return 0, &PageAbsentError{VAddr: vaddr}
	}
	return frame*hw.PageSize + offset, nil
}
