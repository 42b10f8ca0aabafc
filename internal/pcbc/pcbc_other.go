//go:build !amd64 || purego

package pcbc

// UseAESNI is set if the current CPU supports AES instructions.
var UseAESNI = false //nolint:gochecknoglobals // should only check once

func encryptLanes(keys *[MaxRounds + 1][LaneSize]byte, rounds int, cv *[LaneSize]byte, lanes [][LaneSize]byte) {
	encryptLanesGeneric(keys, rounds, cv, lanes)
}

func decryptLanes(
	keys *[MaxRounds + 1][LaneSize]byte, rounds int, cv *[LaneSize]byte, lanes [][LaneSize]byte, expect *[LaneSize]byte,
) int {
	return decryptLanesGeneric(keys, rounds, cv, lanes, expect)
}
