//go:build amd64 && !purego

package evict

import "golang.org/x/sys/cpu"

// Flushing is set if eviction uses an explicit cache-line flush instruction.
var Flushing = cpu.X86.HasSSE2 //nolint:gochecknoglobals // should only check once

// flushAsm issues MFENCE, CLFLUSH for every line in [p, p+n), and MFENCE.
//
//go:noescape
//goland:noinspection GoUnusedParameter
func flushAsm(p *byte, n uintptr)

func evict(p []byte) {
	if Flushing {
		flushAsm(&p[0], uintptr(len(p)))
	} else {
		evictGeneric(p)
	}
}
