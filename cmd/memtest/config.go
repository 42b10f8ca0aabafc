package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/codahale/memtest"
	"github.com/codahale/memtest/internal/pcbc"
	flag "github.com/spf13/pflag"
	"github.com/tailscale/hujson"
)

var (
	errNoMemory      = errors.New("memory size is required (-m)")
	errInvalidConfig = errors.New("invalid config file")
	errBadPattern    = errors.New("pattern must be 32 hex digits")
)

// settings are the command's options, read from an optional JSONC config file and then overridden by flags.
type settings struct {
	MemoryMiB     int      `json:"memory_mib"`
	Threads       int      `json:"threads"`
	Iterations    int      `json:"iterations"`
	Rounds        int      `json:"rounds"`
	Pattern       string   `json:"pattern"`
	Software      bool     `json:"software"`
	RequirePinned bool     `json:"require_pinned"`
	Interval      duration `json:"interval"`
	Duration      duration `json:"duration"`
	Seed          uint64   `json:"seed"`
	Verbose       bool     `json:"verbose"`
}

func defaultSettings() settings {
	return settings{
		Iterations: memtest.DefaultIterations,
		Rounds:     pcbc.DefaultRounds,
		Pattern:    hex.EncodeToString(make([]byte, pcbc.LaneSize)),
		Interval:   duration(memtest.DefaultReportInterval),
	}
}

// duration is a time.Duration which is written as a string like "1m30s" in config files.
type duration time.Duration

func (d *duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}

	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

// parseArgs parses the command line, loading the config file named by -c first if there is one.
func parseArgs(args []string, stderr io.Writer) (settings, error) {
	fs := flag.NewFlagSet("memtest", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		_, _ = fmt.Fprintf(stderr, "Usage: memtest -m MiB [options]\n\n%s", fs.FlagUsages())
	}

	var (
		f          = defaultSettings()
		configPath string
		interval   time.Duration
		runFor     time.Duration
	)
	fs.StringVarP(&configPath, "config", "c", "", "JSONC config file; flags take precedence")
	fs.IntVarP(&f.MemoryMiB, "memory", "m", 0, "amount of memory to test in MiB")
	fs.IntVarP(&f.Threads, "threads", "t", 0, "number of worker threads (default: number of CPUs)")
	fs.IntVar(&f.Iterations, "iterations", f.Iterations, "encryption rounds per cycle")
	fs.IntVar(&f.Rounds, "rounds", f.Rounds, fmt.Sprintf("AES rounds per lane (1-%d)", pcbc.MaxRounds))
	fs.StringVar(&f.Pattern, "pattern", f.Pattern, "baseline lane pattern, as 32 hex digits")
	fs.BoolVar(&f.Software, "software", false, "allow the software AES fallback on CPUs without AES instructions")
	fs.BoolVar(&f.RequirePinned, "require-pinned", false, "fail if the test buffer cannot be pinned in RAM")
	fs.DurationVar(&interval, "interval", time.Duration(f.Interval), "interval between progress reports")
	fs.DurationVarP(&runFor, "duration", "d", 0, "stop after this long (default: run until interrupted)")
	fs.Uint64Var(&f.Seed, "seed", 0, "seed for deterministic keys (default: random)")
	fs.BoolVarP(&f.Verbose, "verbose", "v", false, "enable debug logging")

	if err := fs.Parse(args); err != nil {
		return settings{}, err
	}
	if fs.NArg() > 0 {
		return settings{}, fmt.Errorf("unexpected arguments: %q", fs.Args())
	}

	s := defaultSettings()
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return settings{}, fmt.Errorf("%w %s: %w", errInvalidConfig, configPath, err)
		}

		s, err = parseSettings(data, s)
		if err != nil {
			return settings{}, fmt.Errorf("%w %s: %w", errInvalidConfig, configPath, err)
		}
	}

	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "memory":
			s.MemoryMiB = f.MemoryMiB
		case "threads":
			s.Threads = f.Threads
		case "iterations":
			s.Iterations = f.Iterations
		case "rounds":
			s.Rounds = f.Rounds
		case "pattern":
			s.Pattern = f.Pattern
		case "software":
			s.Software = f.Software
		case "require-pinned":
			s.RequirePinned = f.RequirePinned
		case "interval":
			s.Interval = duration(interval)
		case "duration":
			s.Duration = duration(runFor)
		case "seed":
			s.Seed = f.Seed
		case "verbose":
			s.Verbose = f.Verbose
		}
	})

	if s.MemoryMiB <= 0 {
		return settings{}, errNoMemory
	}
	return s, nil
}

// parseSettings decodes a JSONC config file over base.
func parseSettings(data []byte, base settings) (settings, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return settings{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(standardized))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&base); err != nil {
		return settings{}, fmt.Errorf("invalid JSON: %w", err)
	}
	return base, nil
}

// config converts settings into a memtest.Config.
func (s settings) config() (memtest.Config, error) {
	raw, err := hex.DecodeString(s.Pattern)
	if err != nil || len(raw) != pcbc.LaneSize {
		return memtest.Config{}, fmt.Errorf("%w: %q", errBadPattern, s.Pattern)
	}

	return memtest.Config{
		Memory:  s.MemoryMiB << 20,
		Workers: s.Threads,
		Options: memtest.Options{
			Iterations: s.Iterations,
			Rounds:     s.Rounds,
			Baseline:   [pcbc.LaneSize]byte(raw),
		},
		Seed:           s.Seed,
		AllowSoftware:  s.Software,
		RequirePinned:  s.RequirePinned,
		ReportInterval: time.Duration(s.Interval),
	}, nil
}
