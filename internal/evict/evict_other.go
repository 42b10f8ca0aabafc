//go:build !amd64 || purego

package evict

// Flushing is set if eviction uses an explicit cache-line flush instruction.
var Flushing = false //nolint:gochecknoglobals // should only check once

func evict(p []byte) {
	evictGeneric(p)
}
