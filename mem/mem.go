//go:build linux

// Package mem provides mmap-backed guest memory and kernel-shared register
// pages for the CMDQV device model.
package mem

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

var (
	ErrAlloc  = errors.New("mem: allocation failed")
	ErrBounds = errors.New("mem: address out of bounds")
)

// Region is an anonymous mapping standing in for guest RAM.
type Region struct {
	p []byte
}

// New allocates a region of guest memory.
// size must be a positive multiple of the host page size.
func New(size int) (*Region, error) {
	if pgsz := os.Getpagesize(); size <= 0 || size%pgsz != 0 {
		return nil, fmt.Errorf("%w: size must be a positive multiple of the host page size", ErrAlloc)
	}

	p, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAlloc, err)
	}

	return &Region{p: p}, nil
}

// At returns the size bytes of guest memory at addr.
// It fails if any part of the range falls outside the region.
func (r *Region) At(addr uint64, size int) ([]byte, error) {
	end := addr + uint64(size)
	if size < 0 || end < addr || end > uint64(len(r.p)) {
		return nil, fmt.Errorf("%w: %#x+%d", ErrBounds, addr, size)
	}

	return r.p[addr:end], nil
}

// Size returns the size of the region in bytes.
func (r *Region) Size() int {
	return len(r.p)
}

// Close releases the mapping. The region must not be used afterward.
func (r *Region) Close() error {
	p := r.p
	r.p = nil
	return unix.Munmap(p)
}

// SharedPage allocates a page-aligned shared mapping of the given size, as
// the kernel hands out for queue register pages.
func SharedPage(size int) ([]byte, error) {
	p, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED|unix.MAP_ANONYMOUS)

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAlloc, err)
	}

	return p, nil
}

// ReleasePage unmaps a page returned by SharedPage.
func ReleasePage(p []byte) error {
	return unix.Munmap(p)
}
