package evict

import (
	"sync"
	"sync/atomic"
)

const (
	// scratchSize is the size of the shared eviction set. It should be larger than the last-level cache.
	scratchSize = 32 << 20

	// spread is the number of eviction set bytes read per byte evicted.
	spread = 8
)

//nolint:gochecknoglobals // shared by all goroutines
var (
	scratch = sync.OnceValue(func() []byte {
		// Untouched anonymous pages are all backed by the zero page, which would make for a very small eviction set.
		b := make([]byte, scratchSize)
		for i := range b {
			b[i] = byte(i>>6) | 1
		}
		return b
	})

	cursor  atomic.Uint64
	barrier atomic.Uint64
)

// evictGeneric displaces p from the cache by reading a window of the eviction set, one load per line. Atomic
// read-modify-writes on barrier serve as the fences.
func evictGeneric(p []byte) {
	barrier.Add(0)

	s := scratch()
	n := min(len(p)*spread, len(s))
	off := int(cursor.Add(uint64(n)) % uint64(len(s)))

	var acc byte
	for i := 0; i < n; i += LineSize {
		acc ^= s[(off+i)%len(s)]
	}

	barrier.Add(uint64(acc))
}
