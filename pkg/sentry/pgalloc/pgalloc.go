// Copyright 2026 The rvkernel Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package pgalloc provides the physical page arena: a contiguous block of
// host memory standing in for the machine's RAM, handed out in fixed-size
// pages by index.
package pgalloc

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"rvkernel.dev/rvkernel/pkg/bitmap"
	"rvkernel.dev/rvkernel/pkg/hostarch"
)

// BasePhys is the physical address of the first arena page.
const BasePhys = 0x8000_0000

// ErrOutOfMemory is returned when the arena cannot satisfy an allocation.
var ErrOutOfMemory = errors.New("out of physical memory")

// Arena is the physical page arena.
//
// Arena is not safe for concurrent use; the kernel drives it from a single
// goroutine.
type Arena struct {
	// mem is the backing memory, mapped anonymously from the host.
	mem []byte

	// base is the first page number in the arena.
	base hostarch.PPN

	// used has a bit set for every allocated page, indexed from base.
	used bitmap.Bitmap
}

// New maps an arena of the given number of pages.
func New(pages int) (*Arena, error) {
	if pages <= 0 {
		return nil, fmt.Errorf("invalid arena size %d pages", pages)
	}
	mem, err := unix.Mmap(-1, 0, pages*hostarch.PageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap arena of %d pages: %w", pages, err)
	}
	return &Arena{
		mem:  mem,
		base: hostarch.PhysToPPN(BasePhys),
		used: bitmap.New(uint32(pages)),
	}, nil
}

// Close unmaps the arena. Pages handed out must no longer be used.
func (a *Arena) Close() error {
	if a.mem == nil {
		return nil
	}
	err := unix.Munmap(a.mem)
	a.mem = nil
	return err
}

// Pages returns the arena size in pages.
func (a *Arena) Pages() int {
	return int(a.used.Size())
}

// Used returns the number of allocated pages.
func (a *Arena) Used() int {
	return int(a.used.GetNumOnes())
}

// Base returns the first page number of the arena.
func (a *Arena) Base() hostarch.PPN {
	return a.base
}

// Contains returns true if ppn lies in the arena.
func (a *Arena) Contains(ppn hostarch.PPN) bool {
	return ppn >= a.base && uint64(ppn-a.base) < uint64(a.used.Size())
}

// Allocate returns one zeroed page.
func (a *Arena) Allocate() (hostarch.PPN, error) {
	return a.AllocateContiguous(1)
}

// AllocateContiguous returns the first of n zeroed, physically contiguous
// pages.
func (a *Arena) AllocateContiguous(n int) (hostarch.PPN, error) {
	if n <= 0 {
		return 0, fmt.Errorf("invalid allocation of %d pages", n)
	}
	idx, err := a.used.ZeroRun(0, uint32(n))
	if err != nil {
		return 0, ErrOutOfMemory
	}
	a.used.AddRange(idx, idx+uint32(n))
	ppn := a.base + hostarch.PPN(idx)
	for i := 0; i < n; i++ {
		clear(a.Page(ppn + hostarch.PPN(i)))
	}
	return ppn, nil
}

// Free returns a page to the arena. Freeing a page that is not allocated is a
// kernel bug and panics.
func (a *Arena) Free(ppn hostarch.PPN) {
	if !a.Contains(ppn) {
		panic(fmt.Sprintf("free of page %#x outside arena", uint64(ppn)))
	}
	idx := uint32(ppn - a.base)
	if !a.used.IsSet(idx) {
		panic(fmt.Sprintf("double free of page %#x", uint64(ppn)))
	}
	a.used.Remove(idx)
}

// FreeRange frees n pages starting at ppn.
func (a *Arena) FreeRange(ppn hostarch.PPN, n int) {
	for i := 0; i < n; i++ {
		a.Free(ppn + hostarch.PPN(i))
	}
}

// Allocated returns true if ppn is in the arena and allocated.
func (a *Arena) Allocated(ppn hostarch.PPN) bool {
	return a.Contains(ppn) && a.used.IsSet(uint32(ppn-a.base))
}

// Page returns the bytes of page ppn. It panics if ppn is outside the arena.
func (a *Arena) Page(ppn hostarch.PPN) []byte {
	if !a.Contains(ppn) {
		panic(fmt.Sprintf("page %#x outside arena", uint64(ppn)))
	}
	off := uint64(ppn-a.base) << hostarch.PageShift
	return a.mem[off : off+hostarch.PageSize : off+hostarch.PageSize]
}

// Slice returns n bytes of physical memory starting at pa. ok is false if
// any byte lies outside the arena.
func (a *Arena) Slice(pa uint64, n int) (b []byte, ok bool) {
	if pa < BasePhys || n < 0 {
		return nil, false
	}
	off := pa - BasePhys
	if off+uint64(n) > uint64(len(a.mem)) || off+uint64(n) < off {
		return nil, false
	}
	return a.mem[off : off+uint64(n)], true
}
