// Command maqvm boots the simulated machine and its kernel, wiring the
// configuration file, the vm/* hardware collaborators and the operator
// console together. Flag handling follows the teacher's own
// pborman/getopt surface.
package main

import (
	"fmt"
	"log/slog"
	"os"

	getopt "github.com/pborman/getopt/v2"

	"github.com/oslab/maqvm/config/machineconfig"
	"github.com/oslab/maqvm/console/operator"
	"github.com/oslab/maqvm/kernel"
	"github.com/oslab/maqvm/program"
	"github.com/oslab/maqvm/util/logger"
	"github.com/oslab/maqvm/vm/clock"
	"github.com/oslab/maqvm/vm/console"
	"github.com/oslab/maqvm/vm/cpu"
	"github.com/oslab/maqvm/vm/disk"
	"github.com/oslab/maqvm/vm/memory"
	"github.com/oslab/maqvm/vm/mmu"
)

func main() {
	configPath := getopt.StringLong("config", 'c', "machine.conf", "machine configuration file")
	logPath := getopt.StringLong("log", 'l', "", "log file (default: stderr)")
	programPath := getopt.StringLong("program", 'p', "", "initial program image (overrides the config file's init= key)")
	help := getopt.BoolLong("help", 'h', "show usage")
	getopt.Parse()

	if *help {
		getopt.Usage()
		return
	}

	logOut := os.Stderr
	if *logPath != "" {
		f, err := os.Create(*logPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "maqvm: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		logOut = f
	}
	log := logger.NewLogger(logOut, slog.LevelInfo)
	slog.SetDefault(log)

	// spec.md §6: the statistics report is written to stats.log, distinct
	// from whatever the -l/--log flag points the slog output at.
	statsFile, err := os.Create("stats.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "maqvm: %v\n", err)
		os.Exit(1)
	}
	defer statsFile.Close()

	cfg, err := machineconfig.Load(*configPath)
	if err != nil {
		log.Warn("using default machine configuration", "reason", err)
		cfg = machineconfig.Default()
	}
	if *programPath != "" {
		cfg.InitProgram = *programPath
	}

	mem := memory.New(cfg.MemSize)
	m := mmu.New(mem)
	d := disk.New(cfg.DiskSize)
	con := console.New(cfg.Terminals)
	clk := clock.New()

	policy := kernel.FIFOPolicy
	if cfg.Policy == machineconfig.PolicyPriority {
		policy = kernel.PriorityPolicy
	}

	k := kernel.NewKernel(kernel.Config{
		Memory:      mem,
		MMU:         m,
		Disk:        d,
		Console:     con,
		Clock:       clk,
		LoadProgram: program.Load,
		InitProgram: cfg.InitProgram,
		Policy:      policy,
		Log:         log,
		StatsOut:    statsFile,
	})

	c := cpu.New(m, clk, k)
	c.Boot()

	co := operator.New(os.Stdout, k, c)
	defer co.Close()
	co.Run()
}
