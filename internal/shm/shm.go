// File: internal/shm/shm.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package shm provides anonymous shared mappings. A mapping created before a
// process forks stays visible, at the same address, to both sides.

package shm

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Region is one anonymous MAP_SHARED mapping.
type Region struct {
	mu   sync.Mutex
	mem  []byte
	size int
}

// Map creates a zero-filled shared region of at least size bytes,
// rounded up to the page size.
func Map(size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("shm: invalid size %d", size)
	}
	page := unix.Getpagesize()
	size = (size + page - 1) / page * page
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("shm: mmap %d bytes: %w", size, err)
	}
	return &Region{mem: mem, size: size}, nil
}

// Size returns the mapped length.
func (r *Region) Size() int { return r.size }

// Bytes returns the mapping, or nil after Unmap.
func (r *Region) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mem
}

// Pointer returns the address at offset off. It panics if the region is
// unmapped or off is out of range, since either means corrupted bookkeeping.
func (r *Region) Pointer(off uintptr) unsafe.Pointer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mem == nil || off >= uintptr(len(r.mem)) {
		panic(fmt.Sprintf("shm: offset %d outside region of %d bytes", off, len(r.mem)))
	}
	return unsafe.Pointer(&r.mem[off])
}

// Unmap releases the region. Only the creating process may call it.
func (r *Region) Unmap() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mem == nil {
		return nil
	}
	err := unix.Munmap(r.mem)
	r.mem = nil
	if err != nil {
		return fmt.Errorf("shm: munmap: %w", err)
	}
	return nil
}
