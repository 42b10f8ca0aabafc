package memtest

import (
	"github.com/codahale/memtest/internal/evict"
	"github.com/codahale/memtest/internal/pcbc"
)

// EncryptRound encrypts every lane of blocks in order, starting from the chaining value seed, and evicts each block
// from the cache once it's done. It returns the final chaining value, which seeds the next round.
func EncryptRound(blocks []Block, key, seed [pcbc.LaneSize]byte, rounds int) [pcbc.LaneSize]byte {
	c := pcbc.NewWithRounds(key, seed, rounds)
	for i := range blocks {
		c.EncryptLanes(blocks[i][:])
		evict.Slice(blocks[i][:])
	}
	return c.ChainingValue()
}

// DecryptRound reverses an EncryptRound with the same key and seed, evicting each block from the cache once it's done.
//
// If expect is non-nil, every decrypted lane is checked against it. At the first lane which differs, the round stops
// and DecryptRound returns false, leaving the rest of blocks as they were. Otherwise, it returns true.
func DecryptRound(blocks []Block, key, seed [pcbc.LaneSize]byte, rounds int, expect *[pcbc.LaneSize]byte) bool {
	c := pcbc.NewWithRounds(key, seed, rounds)
	for i := range blocks {
		bad := c.DecryptLanes(blocks[i][:], expect)
		evict.Slice(blocks[i][:])
		if bad >= 0 {
			return false
		}
	}
	return true
}
