// Package aesni provides portable implementations of the AES-NI round instructions.
//
// Each function computes exactly what the identically-named x86 instruction computes when its operands are loaded from
// memory in the order given, so code written against these functions can be swapped for the hardware instructions
// without changing results. State bytes are in FIPS 197 order: byte 4c+r is row r of column c.
package aesni

// AESENC performs one AES encryption round: ShiftRows, SubBytes, MixColumns, AddRoundKey.
func AESENC(state, key [16]byte) [16]byte {
	state = subBytes(shiftRows(state))
	state = mixColumns(state)
	return xor(state, key)
}

// AESENCLAST performs the final AES encryption round, which omits MixColumns.
func AESENCLAST(state, key [16]byte) [16]byte {
	return xor(subBytes(shiftRows(state)), key)
}

// AESDEC performs one AES decryption round of the equivalent inverse cipher: InvShiftRows, InvSubBytes,
// InvMixColumns, AddRoundKey. The key is expected to have been passed through AESIMC.
func AESDEC(state, key [16]byte) [16]byte {
	state = invSubBytes(invShiftRows(state))
	state = invMixColumns(state)
	return xor(state, key)
}

// AESDECLAST performs the final AES decryption round, which omits InvMixColumns.
func AESDECLAST(state, key [16]byte) [16]byte {
	return xor(invSubBytes(invShiftRows(state)), key)
}

// AESIMC applies InvMixColumns to a round key, converting an encryption round key into one usable with AESDEC.
func AESIMC(key [16]byte) [16]byte {
	return invMixColumns(key)
}

// ExpandKey128 derives rounds+1 AES-128 round keys from key. The full AES-128 schedule has 11 keys (rounds = 10);
// smaller round counts yield a prefix of it.
func ExpandKey128(key [16]byte, rounds int) [][16]byte {
	if rounds < 1 || rounds > 10 {
		panic("memtest/aesni: invalid round count")
	}

	w := make([][4]byte, 4*(rounds+1))
	for i := range 4 {
		copy(w[i][:], key[4*i:4*i+4])
	}

	rcon := byte(0x01)
	for i := 4; i < len(w); i++ {
		t := w[i-1]
		if i%4 == 0 {
			t = [4]byte{sbox[t[1]] ^ rcon, sbox[t[2]], sbox[t[3]], sbox[t[0]]}
			rcon = xtime(rcon)
		}
		for j := range 4 {
			w[i][j] = w[i-4][j] ^ t[j]
		}
	}

	keys := make([][16]byte, rounds+1)
	for i := range keys {
		for j := range 4 {
			copy(keys[i][4*j:], w[4*i+j][:])
		}
	}
	return keys
}

func xor(a, b [16]byte) [16]byte {
	for i := range 16 {
		a[i] ^= b[i]
	}
	return a
}

func subBytes(s [16]byte) [16]byte {
	for i := range 16 {
		s[i] = sbox[s[i]]
	}
	return s
}

func invSubBytes(s [16]byte) [16]byte {
	for i := range 16 {
		s[i] = invSbox[s[i]]
	}
	return s
}

// shiftRows rotates row r left by r columns.
func shiftRows(s [16]byte) (out [16]byte) {
	for c := range 4 {
		for r := range 4 {
			out[4*c+r] = s[4*((c+r)%4)+r]
		}
	}
	return out
}

func invShiftRows(s [16]byte) (out [16]byte) {
	for c := range 4 {
		for r := range 4 {
			out[4*((c+r)%4)+r] = s[4*c+r]
		}
	}
	return out
}

func mixColumns(s [16]byte) [16]byte {
	for c := range 4 {
		a0, a1, a2, a3 := s[4*c], s[4*c+1], s[4*c+2], s[4*c+3]
		s[4*c] = mul(a0, 2) ^ mul(a1, 3) ^ a2 ^ a3
		s[4*c+1] = a0 ^ mul(a1, 2) ^ mul(a2, 3) ^ a3
		s[4*c+2] = a0 ^ a1 ^ mul(a2, 2) ^ mul(a3, 3)
		s[4*c+3] = mul(a0, 3) ^ a1 ^ a2 ^ mul(a3, 2)
	}
	return s
}

func invMixColumns(s [16]byte) [16]byte {
	for c := range 4 {
		a0, a1, a2, a3 := s[4*c], s[4*c+1], s[4*c+2], s[4*c+3]
		s[4*c] = mul(a0, 14) ^ mul(a1, 11) ^ mul(a2, 13) ^ mul(a3, 9)
		s[4*c+1] = mul(a0, 9) ^ mul(a1, 14) ^ mul(a2, 11) ^ mul(a3, 13)
		s[4*c+2] = mul(a0, 13) ^ mul(a1, 9) ^ mul(a2, 14) ^ mul(a3, 11)
		s[4*c+3] = mul(a0, 11) ^ mul(a1, 13) ^ mul(a2, 9) ^ mul(a3, 14)
	}
	return s
}

// xtime multiplies by x in GF(2^8) modulo x^8 + x^4 + x^3 + x + 1.
func xtime(b byte) byte {
	return b<<1 ^ (b>>7)*0x1b
}

func mul(a, b byte) byte {
	var p byte
	for b != 0 {
		p ^= a * (b & 1)
		a = xtime(a)
		b >>= 1
	}
	return p
}

var sbox, invSbox = sboxes() //nolint:gochecknoglobals // computed once

// sboxes builds the S-box by walking the multiplicative group with generator 3, pairing each element with its inverse.
func sboxes() (s, inv [256]byte) {
	p, q := byte(1), byte(1)
	for {
		p ^= xtime(p)

		q ^= q << 1
		q ^= q << 2
		q ^= q << 4
		if q&0x80 != 0 {
			q ^= 0x09
		}

		x := q ^ rotl(q, 1) ^ rotl(q, 2) ^ rotl(q, 3) ^ rotl(q, 4) ^ 0x63
		s[p] = x
		inv[x] = p

		if p == 1 {
			break
		}
	}
	s[0] = 0x63
	inv[0x63] = 0
	return s, inv
}

func rotl(b byte, n uint) byte {
	return b<<n | b>>(8-n)
}
