package memtest

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/codahale/memtest/internal/evict"
	"github.com/codahale/memtest/internal/mpsc"
	"github.com/codahale/memtest/internal/pcbc"
)

// DefaultIterations is the default number of encryption rounds per cycle.
const DefaultIterations = 4

// Options control how a Worker tests its partition.
type Options struct {
	// Iterations is the number of rounds in each direction per cycle. Zero means DefaultIterations.
	Iterations int

	// Rounds is the cipher's AES round count. Zero means pcbc.DefaultRounds.
	Rounds int

	// Baseline is the lane pattern a partition holds between cycles.
	Baseline [pcbc.LaneSize]byte
}

func (o Options) withDefaults() Options {
	if o.Iterations == 0 {
		o.Iterations = DefaultIterations
	}
	if o.Rounds == 0 {
		o.Rounds = pcbc.DefaultRounds
	}
	return o
}

// ErrInvalidOptions is returned when Options are out of range.
var ErrInvalidOptions = errors.New("memtest: invalid options")

func (o Options) validate() error {
	if o.Iterations < 1 {
		return fmt.Errorf("%w: %d iterations", ErrInvalidOptions, o.Iterations)
	}
	if o.Rounds < 1 || o.Rounds > pcbc.MaxRounds {
		return fmt.Errorf("%w: %d rounds, must be between 1 and %d", ErrInvalidOptions, o.Rounds, pcbc.MaxRounds)
	}
	return nil
}

// Worker tests a single partition of the buffer. A Worker has exclusive ownership of its partition and is not safe for
// concurrent use.
type Worker struct {
	id     int
	blocks []Block
	tx     *mpsc.Sender[Message]
	rng    *rand.Rand
	opts   Options
	cycle  uint64

	keys  [][pcbc.LaneSize]byte
	seeds [][pcbc.LaneSize]byte

	// afterForward, if set, is called between the forward and reverse passes.
	afterForward func()
}

// NewWorker returns a Worker which tests blocks and reports to tx, drawing keys from src.
//
// The blocks must already hold opts.Baseline in every lane. Fill does this.
func NewWorker(id int, blocks []Block, tx *mpsc.Sender[Message], src rand.Source, opts Options) *Worker {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		panic(err)
	}

	return &Worker{
		id:     id,
		blocks: blocks,
		tx:     tx,
		rng:    rand.New(src),
		opts:   opts,
		keys:   make([][pcbc.LaneSize]byte, opts.Iterations),
		seeds:  make([][pcbc.LaneSize]byte, opts.Iterations+1),
	}
}

// Run tests the partition, one cycle after another, until ctx is done or the receiver disconnects. Cancellation is
// checked between cycles, so the partition is always left holding its baseline when Run returns nil. Run closes the
// Worker's Sender before returning.
func (w *Worker) Run(ctx context.Context) error {
	defer w.tx.Close()

	for ctx.Err() == nil {
		if err := w.Cycle(); err != nil {
			return fmt.Errorf("memtest: worker %d: %w", w.id, err)
		}
	}
	return nil
}

// Cycle runs one full cycle over the partition: Iterations encryption rounds with fresh keys, then the matching
// decryption rounds in reverse. Only the last decryption round, which should restore the baseline, is verified.
//
// If verification fails, a CorruptionDetected message is sent and the partition is refilled with the baseline so the
// next cycle starts from a known state. Covered bytes are reported after every round.
//
// The only error Cycle returns is mpsc.ErrDisconnected.
func (w *Worker) Cycle() error {
	k := w.opts.Iterations
	for i := range k {
		w.keys[i] = w.random()
	}
	w.seeds[0] = w.random()

	total := w.Bytes()
	for i := range k {
		w.seeds[i+1] = EncryptRound(w.blocks, w.keys[i], w.seeds[i], w.opts.Rounds)
		if err := w.progress(i, CoveragePerRound(total, k, i)); err != nil {
			return err
		}
	}

	if w.afterForward != nil {
		w.afterForward()
	}

	for i := k - 1; i >= 0; i-- {
		var expect *[pcbc.LaneSize]byte
		if i == 0 {
			expect = &w.opts.Baseline
		}

		if !DecryptRound(w.blocks, w.keys[i], w.seeds[i], w.opts.Rounds, expect) {
			if err := w.send(Message{Kind: CorruptionDetected, Round: i}); err != nil {
				return err
			}
			Fill(w.blocks, w.opts.Baseline)
		}

		if err := w.progress(i, CoveragePerRound(total, k, 2*k-1-i)); err != nil {
			return err
		}
	}

	evict.Slice(w.blocks)
	w.cycle++
	return nil
}

// Cycles returns the number of completed cycles.
func (w *Worker) Cycles() uint64 {
	return w.cycle
}

// Bytes returns the size of the Worker's partition in bytes.
func (w *Worker) Bytes() uint64 {
	return uint64(len(w.blocks)) * BlockSize
}

func (w *Worker) progress(round int, n uint64) error {
	return w.send(Message{Kind: CoveredBytes, Bytes: n, Round: round})
}

func (w *Worker) send(m Message) error {
	m.Worker = w.id
	m.Cycle = w.cycle
	return w.tx.Send(m)
}

func (w *Worker) random() (x [pcbc.LaneSize]byte) {
	binary.LittleEndian.PutUint64(x[:8], w.rng.Uint64())
	binary.LittleEndian.PutUint64(x[8:], w.rng.Uint64())
	return x
}

// CoveragePerRound returns the bytes of progress attributed to round j of a cycle of 2k rounds over a total-byte
// partition. Each round is credited with half the partition divided by k, since a cycle passes over the partition
// twice. The shares of any remainder are spread so that the rounds of one cycle always sum to exactly total.
func CoveragePerRound(total uint64, k, j int) uint64 {
	n := uint64(2 * k)
	return share(total, uint64(j+1), n) - share(total, uint64(j), n)
}

// share returns floor(total*i/n) without overflowing.
func share(total, i, n uint64) uint64 {
	return total/n*i + total%n*i/n
}
