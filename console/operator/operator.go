// Package operator is the interactive operator console: a small
// read-eval-print loop over the running kernel, built on
// github.com/peterh/liner for line editing and history the same way the
// teacher wires liner into its own command reader. It never mutates
// kernel state beyond what RESET/boot and KILL already expose -- this
// package only observes the process table and drives the CPU's run loop.
package operator

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/oslab/maqvm/kernel"
	"github.com/oslab/maqvm/vm/cpu"
)

// maxRunSteps bounds the "run" command's loop so a user program that never
// halts or blocks can't wedge the operator console forever; the teacher's
// "start"/"continue" can be cancelled from another goroutine via "stop"
// (emu/core.SendStop), but this kernel's CPU.Step is driven synchronously
// from the same REPL goroutine that reads the next command, so there is no
// other thread to send it a stop signal from.
const maxRunSteps = 1_000_000

// Console drives a liner-backed command loop against a kernel and its
// CPU. Commands: boot, step [n], run, ps, stats, kill <id>, quit.
type Console struct {
	out  io.Writer
	k    *kernel.Kernel
	c    *cpu.CPU
	line *liner.State
}

// New returns an operator console wired to k and c, writing output to out.
func New(out io.Writer, k *kernel.Kernel, c *cpu.CPU) *Console {
	l := liner.NewLiner()
	l.SetCtrlCAborts(true)
	return &Console{out: out, k: k, c: c, line: l}
}

// Close releases the underlying liner state.
func (co *Console) Close() error {
	return co.line.Close()
}

// Run reads commands from the operator until "quit" or EOF/interrupt.
func (co *Console) Run() {
	for {
		text, err := co.line.Prompt("maqvm> ")
		if err != nil {
			return
		}
		co.line.AppendHistory(text)
		if co.dispatch(strings.TrimSpace(text)) {
			return
		}
	}
}

// dispatch runs one command line and reports whether the loop should
// stop.
func (co *Console) dispatch(text string) (quit bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "boot":
		co.c.Boot()
		fmt.Fprintln(co.out, "reset delivered")
	case "step":
		co.step(fields[1:])
	case "run":
		co.run()
	case "ps":
		co.ps()
	case "stats":
		co.stats()
	case "kill":
		if len(fields) != 2 {
			fmt.Fprintln(co.out, "usage: kill <id>")
			return false
		}
		co.kill(fields[1])
	case "quit", "exit":
		return true
	default:
		fmt.Fprintf(co.out, "unknown command %q\n", fields[0])
	}
	return false
}

// step runs the CPU's fetch-execute loop for n instructions (default 1),
// the operator's equivalent of the teacher's single-step debugging
// commands. Each call to cpu.CPU.Step is what actually lets a booted
// process execute -- without it, RESET only ever installs process 0 in
// the ready queue and nothing ever runs.
func (co *Console) step(args []string) {
	n := 1
	if len(args) == 1 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v < 1 {
			fmt.Fprintf(co.out, "invalid step count %q\n", args[0])
			return
		}
		n = v
	}
	for i := 0; i < n; i++ {
		if _, err := co.c.Step(); err != nil {
			fmt.Fprintf(co.out, "step %d: %v\n", i, err)
			return
		}
	}
	fmt.Fprintf(co.out, "stepped %d instruction(s)\n", n)
}

// run drives the CPU continuously, the way the teacher's "start"/
// "continue" commands drive emu/core's run loop, until the CPU reports
// Halted (the idle descriptor is current, or the program executed a halt
// instruction) or maxRunSteps is hit as a safety backstop.
func (co *Console) run() {
	steps := 0
	for ; steps < maxRunSteps; steps++ {
		if _, err := co.c.Step(); err != nil {
			fmt.Fprintf(co.out, "run: %v after %d steps\n", err, steps)
			return
		}
		if co.c.Halted() {
			break
		}
	}
	if steps >= maxRunSteps {
		fmt.Fprintf(co.out, "run: stopped after %d steps without halting\n", steps)
		return
	}
	fmt.Fprintf(co.out, "halted after %d steps\n", steps+1)
}

func (co *Console) ps() {
	for _, p := range co.k.Table().Live() {
		fmt.Fprintf(co.out, "%2d %-8s pc=%d quantum=%d priority=%.2f\n",
			p.ID, p.State, p.PC, p.Quantum, p.Priority)
	}
}

func (co *Console) stats() {
	s := co.k.Stats()
	fmt.Fprintf(co.out, "spawned=%d preemptions=%d idle_ticks=%d\n",
		s.Spawned, s.Preemptions, s.IdleTicks)
	for _, r := range co.k.Report() {
		fmt.Fprintf(co.out, "  proc %d: spawns=%d preemptions=%d mean_ready=%.2f\n",
			r.ID, r.Spawns, r.Preemptions, r.MeanReady)
	}
}

func (co *Console) kill(idText string) {
	id, err := strconv.Atoi(idText)
	if err != nil {
		fmt.Fprintf(co.out, "invalid id %q\n", idText)
		return
	}
	if !co.k.Kill(id) {
		fmt.Fprintf(co.out, "no live process %d\n", id)
		return
	}
	fmt.Fprintf(co.out, "killed %d\n", id)
}
