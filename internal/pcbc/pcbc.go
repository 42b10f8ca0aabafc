// Package pcbc implements a reduced-round AES block cipher in propagating cipher-block chaining mode, used to mix test
// patterns through memory.
//
// It is NOT an encryption primitive. The round count is reduced for throughput: all that's required of it is strong
// diffusion, so that a single flipped bit in memory scrambles every lane decrypted after it, and exact invertibility.
//
// Each Cipher carries a chaining value which is updated after every lane as output XOR input, in both directions.
// Decrypting a sequence of lanes with the same key and starting chaining value used to encrypt them recovers the
// original lanes and leaves both ciphers with the same final chaining value.
//
// On amd64, lanes are processed with AES-NI assembly. Elsewhere, or if the CPU lacks AES-NI, a software AES round is
// used. The two are bit-for-bit identical; only throughput differs.
package pcbc

import "github.com/codahale/memtest/internal/aesni"

const (
	// LaneSize is the size of a lane in bytes.
	LaneSize = 16

	// DefaultRounds is the number of AES rounds applied to each lane, a little under half of AES-128's 10.
	DefaultRounds = 5

	// MaxRounds is the largest supported round count. With MaxRounds rounds and an all-zero chaining value, a single
	// lane is encrypted with standard AES-128.
	MaxRounds = 10
)

// Cipher is a reduced-round AES-PCBC cipher. It is not safe for concurrent use.
type Cipher struct {
	enc, dec [MaxRounds + 1][LaneSize]byte
	rounds   int
	cv       [LaneSize]byte
}

// New returns a Cipher with DefaultRounds rounds for the given key and initial chaining value.
func New(key, cv [LaneSize]byte) *Cipher {
	return NewWithRounds(key, cv, DefaultRounds)
}

// NewWithRounds returns a Cipher with the given number of rounds, which must be between 1 and MaxRounds.
func NewWithRounds(key, cv [LaneSize]byte, rounds int) *Cipher {
	if rounds < 1 || rounds > MaxRounds {
		panic("memtest/pcbc: invalid round count")
	}

	c := &Cipher{rounds: rounds, cv: cv}
	for i, k := range aesni.ExpandKey128(key, rounds) {
		c.enc[i] = k
		if i == 0 || i == rounds {
			c.dec[i] = k
		} else {
			c.dec[i] = aesni.AESIMC(k)
		}
	}
	return c
}

// Rounds returns the cipher's round count.
func (c *Cipher) Rounds() int {
	return c.rounds
}

// ChainingValue returns the cipher's current chaining value.
func (c *Cipher) ChainingValue() [LaneSize]byte {
	return c.cv
}

// Encrypt encrypts a single lane and advances the chaining value.
func (c *Cipher) Encrypt(x [LaneSize]byte) [LaneSize]byte {
	lanes := [1][LaneSize]byte{x}
	c.EncryptLanes(lanes[:])
	return lanes[0]
}

// Decrypt decrypts a single lane and advances the chaining value.
func (c *Cipher) Decrypt(y [LaneSize]byte) [LaneSize]byte {
	lanes := [1][LaneSize]byte{y}
	c.DecryptLanes(lanes[:], nil)
	return lanes[0]
}

// EncryptLanes encrypts lanes in place, in order.
func (c *Cipher) EncryptLanes(lanes [][LaneSize]byte) {
	encryptLanes(&c.enc, c.rounds, &c.cv, lanes)
}

// DecryptLanes decrypts lanes in place, in order.
//
// If expect is non-nil, each decrypted lane is compared against it. On the first lane which differs, decryption stops
// and the index of that lane is returned; the lanes after it are left untouched. Otherwise, -1 is returned.
func (c *Cipher) DecryptLanes(lanes [][LaneSize]byte, expect *[LaneSize]byte) int {
	return decryptLanes(&c.dec, c.rounds, &c.cv, lanes, expect)
}
