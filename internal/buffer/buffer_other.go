//go:build !unix

package buffer

import (
	"fmt"
	"unsafe"
)

const pageSize = 4096

// Alloc allocates size bytes from the Go heap, aligned to a page boundary.
func Alloc(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("memtest/buffer: invalid size %d", size)
	}

	raw := make([]byte, size+pageSize)
	off := roundUp(int(uintptr(unsafe.Pointer(unsafe.SliceData(raw)))), pageSize) -
		int(uintptr(unsafe.Pointer(unsafe.SliceData(raw))))
	return &Buffer{mem: raw[off : off+size : off+size]}, nil
}

// PageSize returns the assumed page size.
func PageSize() int {
	return pageSize
}

func lock([]byte) error {
	return ErrPinUnsupported
}

func unlock([]byte) error {
	return nil
}
