//go:build amd64 && !purego

package pcbc

import "golang.org/x/sys/cpu"

// UseAESNI is set if the current CPU supports AES instructions.
var UseAESNI = cpu.X86.HasAES //nolint:gochecknoglobals // should only check once

//go:noescape
//goland:noinspection GoUnusedParameter
func encryptLanesAsm(keys *[MaxRounds + 1][LaneSize]byte, rounds int, cv *[LaneSize]byte, lanes *[LaneSize]byte, n int)

//go:noescape
//goland:noinspection GoUnusedParameter
func decryptLanesAsm(
	keys *[MaxRounds + 1][LaneSize]byte, rounds int, cv *[LaneSize]byte, lanes *[LaneSize]byte, n int,
	expect *[LaneSize]byte,
) int

func encryptLanes(keys *[MaxRounds + 1][LaneSize]byte, rounds int, cv *[LaneSize]byte, lanes [][LaneSize]byte) {
	if !UseAESNI {
		encryptLanesGeneric(keys, rounds, cv, lanes)
		return
	}

	if len(lanes) > 0 {
		encryptLanesAsm(keys, rounds, cv, &lanes[0], len(lanes))
	}
}

func decryptLanes(
	keys *[MaxRounds + 1][LaneSize]byte, rounds int, cv *[LaneSize]byte, lanes [][LaneSize]byte, expect *[LaneSize]byte,
) int {
	if !UseAESNI {
		return decryptLanesGeneric(keys, rounds, cv, lanes, expect)
	}

	if len(lanes) == 0 {
		return -1
	}
	return decryptLanesAsm(keys, rounds, cv, &lanes[0], len(lanes), expect)
}
