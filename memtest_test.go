package memtest //nolint:testpackage // testing unexported internals

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/codahale/memtest/internal/buffer"
	"github.com/codahale/memtest/internal/mpsc"
	"github.com/codahale/memtest/internal/pcbc"
	"github.com/google/go-cmp/cmp"
)

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	for _, rounds := range []int{1, pcbc.DefaultRounds, pcbc.MaxRounds} {
		blocks := make([]Block, 4)
		key, seed := randomLane(rng), randomLane(rng)

		EncryptRound(blocks, key, seed, rounds)
		if isFilled(blocks, [pcbc.LaneSize]byte{}) {
			t.Fatalf("rounds=%d: EncryptRound left blocks unchanged", rounds)
		}

		if !DecryptRound(blocks, key, seed, rounds, &[pcbc.LaneSize]byte{}) {
			t.Errorf("rounds=%d: DecryptRound failed verification", rounds)
		}
		if !isFilled(blocks, [pcbc.LaneSize]byte{}) {
			t.Errorf("rounds=%d: blocks not restored to zero", rounds)
		}
	}
}

func TestChainingSymmetry(t *testing.T) {
	rng := rand.New(rand.NewPCG(2, 2))
	blocks := make([]Block, 3)
	keys := [][pcbc.LaneSize]byte{randomLane(rng), randomLane(rng)}

	// Two chained forward rounds, then reverse: the second reverse round consumes the first forward round's output.
	seed0 := randomLane(rng)
	seed1 := EncryptRound(blocks, keys[0], seed0, pcbc.DefaultRounds)
	EncryptRound(blocks, keys[1], seed1, pcbc.DefaultRounds)

	if !DecryptRound(blocks, keys[1], seed1, pcbc.DefaultRounds, nil) {
		t.Fatal("unverified DecryptRound returned false")
	}

	// The content is now exactly the output of the first forward round.
	c := pcbc.New(keys[0], seed0)
	for i := range blocks {
		if c.DecryptLanes(blocks[i][:], &[pcbc.LaneSize]byte{}) != -1 {
			t.Fatalf("block %d did not decrypt to zero", i)
		}
	}
	if got := c.ChainingValue(); got != seed1 {
		t.Errorf("reverse chaining value = %x, want = %x", got, seed1)
	}
}

func TestDecryptRoundVerifiesBaseline(t *testing.T) {
	pattern := [pcbc.LaneSize]byte{0xde, 0xad, 0xbe, 0xef}
	blocks := make([]Block, 2)
	Fill(blocks, pattern)

	var key, seed [pcbc.LaneSize]byte
	EncryptRound(blocks, key, seed, pcbc.DefaultRounds)
	if DecryptRound(append([]Block(nil), blocks...), key, seed, pcbc.DefaultRounds, &[pcbc.LaneSize]byte{}) {
		t.Error("DecryptRound verified against the wrong baseline")
	}
	if !DecryptRound(blocks, key, seed, pcbc.DefaultRounds, &pattern) {
		t.Error("DecryptRound failed against the right baseline")
	}
}

func TestCorruptionSensitivity(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 3))
	for range 20 {
		blocks := make([]Block, 4)
		key, seed := randomLane(rng), randomLane(rng)
		EncryptRound(blocks, key, seed, pcbc.DefaultRounds)

		b, l, bit := rng.IntN(len(blocks)), rng.IntN(LanesPerBlock), rng.IntN(128)
		blocks[b][l][bit/8] ^= 1 << (bit % 8)
		after := append([]Block(nil), blocks[b+1:]...)

		if DecryptRound(blocks, key, seed, pcbc.DefaultRounds, &[pcbc.LaneSize]byte{}) {
			t.Fatalf("flip of block %d lane %d bit %d was not detected", b, l, bit)
		}

		// The round stops in the block containing the flip.
		for i := range after {
			if after[i] != blocks[b+1+i] {
				t.Fatalf("block %d was decrypted after the flip in block %d", b+1+i, b)
			}
		}
	}
}

func TestScenarioA(t *testing.T) {
	blocks := make([]Block, 16)
	msgs, w := runCycle(t, blocks, nil)

	if n := count(msgs, CorruptionDetected); n != 0 {
		t.Errorf("got %d corruption messages, want 0", n)
	}
	if !isFilled(blocks, [pcbc.LaneSize]byte{}) {
		t.Error("buffer was not restored to all zeros")
	}
	if got, want := w.Cycles(), uint64(1); got != want {
		t.Errorf("Cycles() = %d, want = %d", got, want)
	}
}

func TestScenarioB(t *testing.T) {
	blocks := make([]Block, 16)
	msgs, _ := runCycle(t, blocks, func() {
		blocks[3][100][5] ^= 0x20
	})

	if n := count(msgs, CorruptionDetected); n != 1 {
		t.Fatalf("got %d corruption messages, want 1", n)
	}

	// The corruption is reported by the final, verified round, after the covered-bytes messages of the other three
	// reverse rounds.
	var kinds []MessageKind
	var rounds []int
	for _, m := range msgs[DefaultIterations:] {
		kinds = append(kinds, m.Kind)
		rounds = append(rounds, m.Round)
	}
	wantKinds := []MessageKind{CoveredBytes, CoveredBytes, CoveredBytes, CorruptionDetected, CoveredBytes}
	if diff := cmp.Diff(wantKinds, kinds); diff != "" {
		t.Errorf("reverse pass messages (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{3, 2, 1, 0, 0}, rounds); diff != "" {
		t.Errorf("reverse pass rounds (-want +got):\n%s", diff)
	}

	// The baseline is restored, so the next cycle is clean.
	if !isFilled(blocks, [pcbc.LaneSize]byte{}) {
		t.Error("buffer was not refilled with the baseline")
	}
}

func TestNextCycleAfterCorruptionIsClean(t *testing.T) {
	blocks := make([]Block, 4)
	tx, rx := mpsc.New[Message]()
	w := NewWorker(0, blocks, tx, rand.NewPCG(9, 9), Options{})
	w.afterForward = func() { blocks[0][0][0] ^= 1 }

	if err := w.Cycle(); err != nil {
		t.Fatal(err)
	}
	w.afterForward = nil
	if err := w.Cycle(); err != nil {
		t.Fatal(err)
	}
	tx.Close()

	var cycles []uint64
	for _, m := range drain(t, rx) {
		if m.Kind == CorruptionDetected {
			cycles = append(cycles, m.Cycle)
		}
	}
	if diff := cmp.Diff([]uint64{0}, cycles); diff != "" {
		t.Errorf("corruption cycles (-want +got):\n%s", diff)
	}
}

func TestCoverageAccounting(t *testing.T) {
	for _, k := range []int{1, 2, 3, 4, 7} {
		for _, n := range []int{1, 3, 16} {
			blocks := make([]Block, n)
			tx, rx := mpsc.New[Message]()
			w := NewWorker(0, blocks, tx, rand.NewPCG(uint64(k), uint64(n)), Options{Iterations: k})
			if err := w.Cycle(); err != nil {
				t.Fatal(err)
			}
			tx.Close()

			var sum uint64
			msgs := drain(t, rx)
			for _, m := range msgs {
				sum += m.Bytes
			}
			if got, want := sum, uint64(n*BlockSize); got != want {
				t.Errorf("k=%d, blocks=%d: covered %d bytes, want %d", k, n, got, want)
			}
			if got, want := count(msgs, CoveredBytes), 2*k; got != want {
				t.Errorf("k=%d, blocks=%d: %d covered-bytes messages, want %d", k, n, got, want)
			}
		}
	}
}

func TestCoveragePerRound(t *testing.T) {
	// Evenly divisible partitions get half the partition divided by k per round.
	if got, want := CoveragePerRound(16*BlockSize, 4, 0), uint64(16*BlockSize/8); got != want {
		t.Errorf("CoveragePerRound() = %d, want = %d", got, want)
	}

	for _, total := range []uint64{0, 1, 7, 1000, 1<<63 + 12345} {
		for k := 1; k <= 9; k++ {
			var sum uint64
			for j := range 2 * k {
				sum += CoveragePerRound(total, k, j)
			}
			if sum != total {
				t.Errorf("total=%d, k=%d: sum = %d", total, k, sum)
			}
		}
	}
}

func TestRunStopsOnDisconnect(t *testing.T) {
	tx, rx := mpsc.New[Message]()
	rx.Close()

	w := NewWorker(0, make([]Block, 1), tx, rand.NewPCG(1, 2), Options{})
	if err := w.Run(t.Context()); !errors.Is(err, mpsc.ErrDisconnected) {
		t.Errorf("Run() = %v, want = %v", err, mpsc.ErrDisconnected)
	}
}

func TestNewWorkerPanics(t *testing.T) {
	tx, _ := mpsc.New[Message]()
	for _, opts := range []Options{{Iterations: -1}, {Rounds: pcbc.MaxRounds + 1}} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("NewWorker(%+v) did not panic", opts)
				}
			}()
			NewWorker(0, nil, tx, rand.NewPCG(1, 2), opts)
		}()
	}
}

func TestBlocksOf(t *testing.T) {
	buf, err := buffer.Alloc(4 * BlockSize)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = buf.Close() }()

	blocks := BlocksOf(buf.Bytes())
	if len(blocks) != 4 {
		t.Fatalf("len(BlocksOf()) = %d, want 4", len(blocks))
	}

	blocks[1][0][0] = 0xff
	if got := buf.Bytes()[BlockSize]; got != 0xff {
		t.Errorf("BlocksOf() does not alias the buffer: %#x", got)
	}

	if BlocksOf(nil) != nil {
		t.Error("BlocksOf(nil) != nil")
	}

	for _, b := range [][]byte{buf.Bytes()[:100], buf.Bytes()[16 : 16+BlockSize]} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("BlocksOf(len=%d) did not panic", len(b))
				}
			}()
			BlocksOf(b)
		}()
	}
}

func TestMessageKindString(t *testing.T) {
	for k, want := range map[MessageKind]string{
		CoveredBytes:       "covered-bytes",
		CorruptionDetected: "corruption-detected",
		MessageKind(99):    "unknown",
	} {
		if got := k.String(); got != want {
			t.Errorf("%d.String() = %q, want = %q", k, got, want)
		}
	}
}

// runCycle runs a single cycle of a fresh worker over blocks, calling afterForward between the passes, and returns
// the messages it sent.
func runCycle(t *testing.T, blocks []Block, afterForward func()) ([]Message, *Worker) {
	t.Helper()

	tx, rx := mpsc.New[Message]()
	w := NewWorker(0, blocks, tx, rand.NewPCG(42, 42), Options{Iterations: DefaultIterations})
	w.afterForward = afterForward
	if err := w.Cycle(); err != nil {
		t.Fatal(err)
	}
	tx.Close()

	return drain(t, rx), w
}

func drain(t *testing.T, rx *mpsc.Receiver[Message]) []Message {
	t.Helper()

	var msgs []Message
	for {
		m, err := rx.Recv(t.Context())
		if errors.Is(err, mpsc.ErrDisconnected) {
			return msgs
		}
		if err != nil {
			t.Fatal(err)
		}
		msgs = append(msgs, m)
	}
}

func count(msgs []Message, kind MessageKind) int {
	n := 0
	for _, m := range msgs {
		if m.Kind == kind {
			n++
		}
	}
	return n
}

func isFilled(blocks []Block, pattern [pcbc.LaneSize]byte) bool {
	for i := range blocks {
		for j := range blocks[i] {
			if blocks[i][j] != pattern {
				return false
			}
		}
	}
	return true
}

func randomLane(rng *rand.Rand) (x [pcbc.LaneSize]byte) {
	for i := range x {
		x[i] = byte(rng.Uint32())
	}
	return x
}
