//go:build unix

package buffer

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Alloc maps size bytes, rounded up to a whole number of pages, of anonymous private memory.
func Alloc(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("memtest/buffer: invalid size %d", size)
	}

	mem, err := unix.Mmap(-1, 0, roundUp(size, unix.Getpagesize()), unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("memtest/buffer: mmap %d bytes: %w", size, err)
	}

	return &Buffer{mem: mem[:size], free: func(b []byte) error {
		return unix.Munmap(b[:cap(b)])
	}}, nil
}

// PageSize returns the operating system's page size.
func PageSize() int {
	return unix.Getpagesize()
}

func lock(b []byte) error {
	if err := unix.Mlock(b); err != nil {
		return fmt.Errorf("memtest/buffer: mlock %d bytes: %w", len(b), err)
	}
	return nil
}

func unlock(b []byte) error {
	return unix.Munlock(b)
}
