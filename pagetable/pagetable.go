// Package pagetable implements the per-process page-number-to-frame
// mapping the kernel owns and the MMU consults. It is a leaf package: no
// dependency on the kernel or the simulated hardware, so both sides can
// import it without a cycle.
package pagetable

// Absent marks a page that has not been faulted in since the owning
// process was created.
const Absent = -1

// Table is a mapping page-number -> frame-number for one process.
type Table struct {
	frames map[int]int
}

// New returns an empty page table.
func New() *Table {
	return &Table{frames: make(map[int]int)}
}

// MarkAbsent installs the Absent sentinel for page. Used when the loader
// lays out the virtual page range of a freshly spawned process.
func (t *Table) MarkAbsent(page int) {
	t.frames[page] = Absent
}

// SetFrame installs the page -> frame mapping, e.g. once a page fault has
// been serviced.
func (t *Table) SetFrame(page, frame int) {
	t.frames[page] = frame
}

// Frame returns the frame mapped to page, or (Absent, false) if the page
// has never been declared part of this process's address space.
func (t *Table) Frame(page int) (int, bool) {
	f, ok := t.frames[page]
	return f, ok
}

// IsAbsent reports whether page is declared but not yet resident.
func (t *Table) IsAbsent(page int) bool {
	f, ok := t.frames[page]
	return ok && f == Absent
}
