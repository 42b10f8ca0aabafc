package pcbc

import "github.com/codahale/memtest/internal/aesni"

func encryptLanesGeneric(keys *[MaxRounds + 1][LaneSize]byte, rounds int, cv *[LaneSize]byte, lanes [][LaneSize]byte) {
	for i := range lanes {
		x := lanes[i]

		b := x
		for j := range LaneSize {
			b[j] ^= cv[j] ^ keys[0][j]
		}
		for r := 1; r < rounds; r++ {
			b = aesni.AESENC(b, keys[r])
		}
		b = aesni.AESENCLAST(b, keys[rounds])

		lanes[i] = b
		for j := range LaneSize {
			cv[j] = b[j] ^ x[j]
		}
	}
}

func decryptLanesGeneric(
	keys *[MaxRounds + 1][LaneSize]byte, rounds int, cv *[LaneSize]byte, lanes [][LaneSize]byte, expect *[LaneSize]byte,
) int {
	for i := range lanes {
		y := lanes[i]

		b := y
		for j := range LaneSize {
			b[j] ^= keys[rounds][j]
		}
		for r := rounds - 1; r > 0; r-- {
			b = aesni.AESDEC(b, keys[r])
		}
		b = aesni.AESDECLAST(b, keys[0])
		for j := range LaneSize {
			b[j] ^= cv[j]
		}

		lanes[i] = b
		for j := range LaneSize {
			cv[j] = b[j] ^ y[j]
		}

		if expect != nil && b != *expect {
			return i
		}
	}
	return -1
}
