// Package machineconfig reads the kernel's line-oriented configuration
// file: "#" comments, blank lines ignored, "key = value" pairs otherwise.
// Grounded directly on the teacher's own config/configparser, which
// reaches for bufio.Scanner and strings.Cut rather than a third-party
// config library -- this module follows that precedent rather than
// introducing a dependency the teacher itself didn't reach for.
package machineconfig

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Policy selects the scheduler's ready-queue implementation.
type Policy string

const (
	PolicyRoundRobin Policy = "roundrobin"
	PolicyPriority   Policy = "priority"
)

// Config is the parsed contents of a machine configuration file.
type Config struct {
	Policy      Policy
	InitProgram string
	DiskSize    int
	MemSize     int
	Terminals   int
}

// Default returns the configuration spec.md §6 pins down when no config
// file is present at all.
func Default() Config {
	return defaults()
}

// defaults mirrors the values spec.md §6 pins down when the config file
// is silent on a setting.
func defaults() Config {
	return Config{
		Policy:      PolicyRoundRobin,
		InitProgram: "init.maq",
		DiskSize:    4096,
		MemSize:     2048,
		Terminals:   4,
	}
}

// Read parses a configuration file from r.
func Read(r io.Reader) (Config, error) {
	cfg := defaults()
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		key, value, ok := strings.Cut(text, "=")
		if !ok {
			return cfg, fmt.Errorf("machineconfig: line %d: expected key = value, got %q", line, text)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if err := cfg.apply(key, value); err != nil {
			return cfg, fmt.Errorf("machineconfig: line %d: %w", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return cfg, fmt.Errorf("machineconfig: %w", err)
	}
	return cfg, nil
}

func (cfg *Config) apply(key, value string) error {
	switch {
	case key == "policy":
		switch Policy(value) {
		case PolicyRoundRobin, PolicyPriority:
			cfg.Policy = Policy(value)
		default:
			return fmt.Errorf("unknown policy %q", value)
		}
	case key == "init":
		cfg.InitProgram = value
	case key == "disk_size":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid disk_size %q: %w", value, err)
		}
		cfg.DiskSize = n
	case key == "mem_size":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid mem_size %q: %w", value, err)
		}
		cfg.MemSize = n
	case key == "terminals":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid terminals %q: %w", value, err)
		}
		cfg.Terminals = n
	default:
		return fmt.Errorf("unknown key %q", key)
	}
	return nil
}

// Load opens name and parses it as a machine configuration file.
func Load(name string) (Config, error) {
	f, err := os.Open(name)
	if err != nil {
		return Config{}, fmt.Errorf("machineconfig: open %s: %w", name, err)
	}
	defer f.Close()
	return Read(f)
}
