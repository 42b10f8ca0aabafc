// Package buffer allocates the memory under test: a page-aligned, zero-filled region which can be pinned in RAM so it
// is never paged out while being tested.
package buffer

import "errors"

// ErrPinUnsupported is returned by Lock on platforms which cannot pin memory.
var ErrPinUnsupported = errors.New("memtest/buffer: pinning memory is not supported on this platform")

// Buffer is a region of memory allocated directly from the operating system.
type Buffer struct {
	mem    []byte
	pinned bool
	free   func([]byte) error
}

// Bytes returns the buffer's memory. It is page-aligned and, until written to, zero-filled.
func (b *Buffer) Bytes() []byte {
	return b.mem
}

// Len returns the size of the buffer in bytes.
func (b *Buffer) Len() int {
	return len(b.mem)
}

// Pinned reports whether the buffer has been locked into RAM.
func (b *Buffer) Pinned() bool {
	return b.pinned
}

// Close unpins and releases the buffer. The buffer's memory must not be used afterward.
func (b *Buffer) Close() error {
	if b.mem == nil {
		return nil
	}

	var errs []error
	if b.pinned {
		errs = append(errs, unlock(b.mem))
		b.pinned = false
	}
	if b.free != nil {
		errs = append(errs, b.free(b.mem))
	}
	b.mem = nil
	return errors.Join(errs...)
}

// Lock pins the buffer into RAM.
func (b *Buffer) Lock() error {
	if b.pinned {
		return nil
	}
	if err := lock(b.mem); err != nil {
		return err
	}
	b.pinned = true
	return nil
}

// roundUp rounds n up to a multiple of align, which must be a power of two.
func roundUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}
