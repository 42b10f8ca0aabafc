// Package memtest detects bit flips and transient faults in RAM by repeatedly pushing a test buffer through a
// reduced-round AES-PCBC cipher and checking that decryption recovers the original contents exactly.
//
// The buffer is split into partitions, one per Worker. Each cycle, a Worker encrypts its partition K times with fresh
// random keys, then decrypts it K times in reverse. Every block is evicted from the CPU cache after each pass over it,
// so the ciphertext makes a round trip through DRAM between rounds. Because the cipher chains every lane into the
// next, a single flipped bit anywhere in a partition garbles the rest of that partition's final decryption, which is
// then compared against the known baseline pattern.
//
// This is not encryption, and nothing about the keys or the cipher is secret.
package memtest

import (
	"unsafe"

	"github.com/codahale/memtest/internal/pcbc"
)

const (
	// BlockSize is the size of a Block in bytes.
	BlockSize = 8192

	// BlockAlign is the alignment of Blocks allocated by BlocksOf.
	BlockAlign = 4096

	// LanesPerBlock is the number of 128-bit lanes in a Block.
	LanesPerBlock = BlockSize / pcbc.LaneSize
)

// Block is the unit of memory under test. It is encrypted and decrypted one lane at a time and evicted from the cache
// as a whole.
type Block [LanesPerBlock][pcbc.LaneSize]byte

// BlocksOf returns a view of b as a slice of Blocks. b must be BlockAlign-aligned and a multiple of BlockSize long.
func BlocksOf(b []byte) []Block {
	if len(b)%BlockSize != 0 {
		panic("memtest: buffer is not a whole number of blocks")
	}
	if len(b) == 0 {
		return nil
	}

	p := unsafe.Pointer(unsafe.SliceData(b))
	if uintptr(p)%BlockAlign != 0 {
		panic("memtest: buffer is not aligned")
	}
	return unsafe.Slice((*Block)(p), len(b)/BlockSize)
}

// Fill sets every lane of blocks to pattern.
func Fill(blocks []Block, pattern [pcbc.LaneSize]byte) {
	for i := range blocks {
		for j := range blocks[i] {
			blocks[i][j] = pattern
		}
	}
}

// MessageKind is the type of a Message.
type MessageKind int

const (
	// CoveredBytes reports progress: a round has been completed over Message.Bytes bytes' share of a partition.
	CoveredBytes MessageKind = iota

	// CorruptionDetected reports that a verified round failed to recover the baseline pattern.
	CorruptionDetected
)

func (k MessageKind) String() string {
	switch k {
	case CoveredBytes:
		return "covered-bytes"
	case CorruptionDetected:
		return "corruption-detected"
	default:
		return "unknown"
	}
}

// Message is an event sent by a Worker.
type Message struct {
	Kind MessageKind

	// Bytes is the progress attributed to a CoveredBytes round.
	Bytes uint64

	// Worker is the index of the partition which sent the message.
	Worker int

	// Cycle is the worker's cycle count when the message was sent, starting at zero.
	Cycle uint64

	// Round is the index of the key used in the round which produced the message.
	Round int
}
