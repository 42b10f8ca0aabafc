// Package evict forces ranges of memory out of the CPU cache, so that subsequent loads and stores are served by
// DRAM instead of a cached copy.
//
// On amd64, each cache line in the range is flushed with CLFLUSH between two MFENCE barriers. Elsewhere, or when built
// with the purego tag, eviction is best-effort: the range is followed by reads of an eviction set of unrelated memory
// large enough to displace it, which usually but not always pushes the range out of the cache. Tests run in that mode
// are more likely to measure the cache than the memory behind it; Flushing reports which mode is in use.
//
// Eviction never changes the contents of memory, only where it is cached.
package evict

import "unsafe"

// LineSize is the cache line stride used when flushing.
const LineSize = 64

// Range evicts every cache line which overlaps p.
func Range(p []byte) {
	if len(p) == 0 {
		return
	}
	evict(p)
}

// Slice evicts the memory backing the elements of s.
func Slice[T any](s []T) {
	if len(s) == 0 {
		return
	}

	var zero T
	n := len(s) * int(unsafe.Sizeof(zero))
	Range(unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), n))
}
