package memtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime"
	"sync"
	"time"

	"github.com/codahale/memtest/internal/buffer"
	"github.com/codahale/memtest/internal/evict"
	"github.com/codahale/memtest/internal/mpsc"
	"github.com/codahale/memtest/internal/pcbc"
)

var (
	// ErrNoAES is returned by Run when the CPU lacks AES instructions and the software fallback wasn't allowed.
	ErrNoAES = errors.New("memtest: CPU does not support AES instructions")

	// ErrNotPinned is returned by Run when the buffer could not be pinned and Config.RequirePinned is set.
	ErrNotPinned = errors.New("memtest: could not pin test buffer")

	// ErrTooSmall is returned by Run when the buffer can't hold a single block.
	ErrTooSmall = errors.New("memtest: memory size is smaller than one block")
)

// DefaultReportInterval is the default interval between progress reports.
const DefaultReportInterval = time.Second

// Config controls a test run.
type Config struct {
	// Memory is the number of bytes to test. It's rounded down to a whole number of blocks.
	Memory int

	// Workers is the number of partitions tested in parallel. Zero means runtime.NumCPU.
	Workers int

	// Options are passed to every Worker.
	Options Options

	// Seed, if non-zero, makes the keys drawn by every Worker deterministic.
	Seed uint64

	// AllowSoftware permits running on CPUs without AES instructions, using the much slower software AES round.
	AllowSoftware bool

	// RequirePinned makes failing to pin the buffer into RAM fatal instead of a warning.
	RequirePinned bool

	// ReportInterval is the minimum time between calls to the report function. Zero means DefaultReportInterval.
	ReportInterval time.Duration
}

// Stats are the running totals of a test run.
type Stats struct {
	// BufferBytes is the size of the test buffer.
	BufferBytes uint64

	// CoveredBytes is the sum of every CoveredBytes message received.
	CoveredBytes uint64

	// Errors is the number of CorruptionDetected messages received.
	Errors uint64

	// Elapsed is the time since the workers started.
	Elapsed time.Duration
}

// Passes returns the number of times the whole buffer has been covered.
func (s Stats) Passes() float64 {
	if s.BufferBytes == 0 {
		return 0
	}
	return float64(s.CoveredBytes) / float64(s.BufferBytes)
}

// Throughput returns the covered bytes per second.
func (s Stats) Throughput() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.CoveredBytes) / s.Elapsed.Seconds()
}

// Partition splits n blocks into at most workers contiguous, non-overlapping [start, end) ranges of nearly equal size.
// The first n%workers ranges are one block longer than the rest.
func Partition(n, workers int) [][2]int {
	if workers < 1 {
		panic("memtest: invalid worker count")
	}
	workers = min(workers, n)

	parts := make([][2]int, 0, workers)
	start := 0
	for i := range workers {
		size := n / workers
		if i < n%workers {
			size++
		}
		parts = append(parts, [2]int{start, start + size})
		start += size
	}
	return parts
}

// Run allocates and pins a test buffer, fills it with the baseline pattern, and tests it with one Worker per
// partition until ctx is done. report, if non-nil, is called with running totals at most once per ReportInterval
// and once more with the final totals.
//
// When ctx is done, each Worker finishes its current cycle before stopping, and their remaining messages are counted.
// Run returns the final totals. Detected corruption is reported in Stats.Errors, not as an error.
func Run(ctx context.Context, cfg Config, log *slog.Logger, report func(Stats)) (Stats, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Options.validate(); err != nil {
		return Stats{}, err
	}

	if !pcbc.UseAESNI {
		if !cfg.AllowSoftware {
			return Stats{}, ErrNoAES
		}
		log.Warn("CPU lacks AES instructions, using software AES")
	}
	if !evict.Flushing {
		log.Warn("no cache flush instruction, using best-effort eviction")
	}

	n := cfg.Memory / BlockSize
	if n == 0 {
		return Stats{}, ErrTooSmall
	}

	buf, err := buffer.Alloc(n * BlockSize)
	if err != nil {
		return Stats{}, err
	}
	defer func() {
		if err := buf.Close(); err != nil {
			log.Error("error releasing test buffer", "err", err)
		}
	}()

	if err := buf.Lock(); err != nil {
		if cfg.RequirePinned {
			return Stats{}, fmt.Errorf("%w: %w", ErrNotPinned, err)
		}
		log.Warn("test buffer is not pinned and may be swapped", "err", err)
	}

	blocks := BlocksOf(buf.Bytes())
	Fill(blocks, cfg.Options.Baseline)

	parts := Partition(len(blocks), cfg.Workers)
	log.Info("starting test",
		"bytes", buf.Len(), "workers", len(parts), "pinned", buf.Pinned(),
		"aesni", pcbc.UseAESNI, "clflush", evict.Flushing)

	seeds := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	if cfg.Seed == 0 {
		seeds = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tx, rx := mpsc.New[Message]()
	defer rx.Close()

	var (
		wg   sync.WaitGroup
		errs = make([]error, len(parts))
	)
	for i, p := range parts {
		w := NewWorker(i, blocks[p[0]:p[1]], tx.Clone(), rand.NewPCG(seeds.Uint64(), seeds.Uint64()), cfg.Options)
		wg.Go(func() {
			errs[i] = w.Run(wctx)
		})
	}
	tx.Close()

	stats := Stats{BufferBytes: uint64(buf.Len())}
	start := time.Now()
	last := start
	for {
		m, err := rx.Recv(context.Background())
		if errors.Is(err, mpsc.ErrDisconnected) {
			break
		}

		switch m.Kind {
		case CoveredBytes:
			stats.CoveredBytes += m.Bytes
		case CorruptionDetected:
			stats.Errors++
			log.Warn("memory corruption detected", "worker", m.Worker, "cycle", m.Cycle, "errors", stats.Errors)
		}

		if now := time.Now(); report != nil && now.Sub(last) >= cfg.ReportInterval {
			stats.Elapsed = now.Sub(start)
			report(stats)
			last = now
		}
	}
	wg.Wait()

	stats.Elapsed = time.Since(start)
	if report != nil {
		report(stats)
	}
	return stats, errors.Join(errs...)
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.ReportInterval <= 0 {
		c.ReportInterval = DefaultReportInterval
	}
	c.Options = c.Options.withDefaults()
	return c
}
