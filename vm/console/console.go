// Package console is the simulated four-terminal operator console:
// terminal t owns the four non-overlapping device slots 4t (data in),
// 4t+1 (status in), 4t+2 (data out), 4t+3 (status out). Grounded on the
// teacher's emu/model1052 (the IBM console device), trimmed down to the
// ready/read/write polling surface the kernel's READ/WRITE syscalls and
// the pending-work resolver need -- no telnet transport, no BCD
// translation, no sense bytes.
package console

const slotsPerTerminal = 4

const (
	kindDataIn = iota
	kindStatusIn
	kindDataOut
	kindStatusOut
)

type terminal struct {
	in  []int // bytes waiting to be read by the owning process
	out []int // bytes the owning process has written, for inspection
	// busy simulates a terminal that cannot accept output yet; tests
	// flip it to exercise the WRITE-syscall blocking path.
	busy bool
}

// Console is a fixed bank of terminals, one per process slot.
type Console struct {
	terminals []terminal
}

// New returns a console with n terminals, all idle.
func New(n int) *Console {
	return &Console{terminals: make([]terminal, n)}
}

func (c *Console) terminalFor(slot int) (*terminal, int) {
	t := slot / slotsPerTerminal
	kind := slot % slotsPerTerminal
	if t < 0 || t >= len(c.terminals) {
		return nil, kind
	}
	return &c.terminals[t], kind
}

// Ready reports whether the status slot at slot currently reads ready.
// slot must be a status-in (kind 1) or status-out (kind 3) slot.
func (c *Console) Ready(slot int) bool {
	t, kind := c.terminalFor(slot)
	if t == nil {
		return false
	}
	switch kind {
	case kindStatusIn:
		return len(t.in) > 0
	case kindStatusOut:
		return !t.busy
	default:
		return false
	}
}

// ReadByte pops the next pending input byte for the data-in slot at slot.
// Callers must check Ready on the matching status slot first.
func (c *Console) ReadByte(slot int) int {
	t, kind := c.terminalFor(slot)
	if t == nil || kind != kindDataIn || len(t.in) == 0 {
		return 0
	}
	b := t.in[0]
	t.in = t.in[1:]
	return b
}

// WriteByte appends value to the data-out slot's output history. Callers
// must check Ready on the matching status slot first.
func (c *Console) WriteByte(slot int, value int) {
	t, kind := c.terminalFor(slot)
	if t == nil || kind != kindDataOut {
		return
	}
	t.out = append(t.out, value)
}

// Feed queues an input byte for terminal t, as if a key had been pressed.
func (c *Console) Feed(t int, b int) {
	if t < 0 || t >= len(c.terminals) {
		return
	}
	c.terminals[t].in = append(c.terminals[t].in, b)
}

// Output returns the bytes written so far to terminal t's output.
func (c *Console) Output(t int) []int {
	if t < 0 || t >= len(c.terminals) {
		return nil
	}
	return c.terminals[t].out
}

// SetBusy marks terminal t's output device as busy (Ready returns false
// on its status-out slot) or idle.
func (c *Console) SetBusy(t int, busy bool) {
	if t < 0 || t >= len(c.terminals) {
		return
	}
	c.terminals[t].busy = busy
}
