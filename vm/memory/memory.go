// Package memory is the word-addressed main-memory collaborator: a flat
// array the CPU, MMU, kernel (for the IRQ slots) and program loader all
// read and write through bounds-checked accessors. Grounded on the
// teacher's emu/memory package, trimmed of the 370 storage-key bookkeeping
// this kernel has no use for.
package memory

import "fmt"

// Memory is main storage, sized in words at construction.
type Memory struct {
	cells []int
}

// New returns size words of zeroed memory.
func New(size int) *Memory {
	return &Memory{cells: make([]int, size)}
}

// Size reports the number of addressable words.
func (m *Memory) Size() int {
	return len(m.cells)
}

// Read returns the word at addr. An out-of-range address is a programming
// error in this simulated machine (real hardware would fault, but nothing
// upstream of main() ever constructs an address that size-checks can't
// catch ahead of time), so it is reported rather than panicking silently.
func (m *Memory) Read(addr int) (int, error) {
	if addr < 0 || addr >= len(m.cells) {
		return 0, fmt.Errorf("memory: read out of range: %d", addr)
	}
	return m.cells[addr], nil
}

// Write stores word at addr.
func (m *Memory) Write(addr, word int) error {
	if addr < 0 || addr >= len(m.cells) {
		return fmt.Errorf("memory: write out of range: %d", addr)
	}
	m.cells[addr] = word
	return nil
}
