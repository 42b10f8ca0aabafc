// Command memtest tests RAM for bit flips by encrypting and decrypting a pinned buffer until interrupted.
//
// It exits with status 0 if no corruption was detected, 1 if any was, and 2 if the test could not be run.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codahale/memtest"
	flag "github.com/spf13/pflag"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	s, err := parseArgs(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "memtest:", err)
		return 2
	}

	level := slog.LevelInfo
	if s.Verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := s.config()
	if err != nil {
		log.Error("invalid configuration", "err", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if s.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.Duration))
		defer cancel()
	}

	stats, err := memtest.Run(ctx, cfg, log, func(st memtest.Stats) {
		log.Info("progress",
			"passes", fmt.Sprintf("%.2f", st.Passes()),
			"errors", st.Errors,
			"mib_per_sec", fmt.Sprintf("%.0f", st.Throughput()/(1<<20)),
			"elapsed", st.Elapsed.Round(time.Second))
	})
	if err != nil {
		log.Error("test failed", "err", err)
		return 2
	}

	log.Info("test finished",
		"passes", fmt.Sprintf("%.2f", stats.Passes()),
		"errors", stats.Errors,
		"elapsed", stats.Elapsed.Round(time.Millisecond))
	if stats.Errors > 0 {
		return 1
	}
	return 0
}
