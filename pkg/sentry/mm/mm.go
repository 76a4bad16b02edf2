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

// Package mm implements user address spaces: a page-table root plus an ordered
// set of areas, each owning the physical pages that back it.
package mm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/btree"

	"rvkernel.dev/rvkernel/pkg/hostarch"
	"rvkernel.dev/rvkernel/pkg/ring0/pagetables"
	"rvkernel.dev/rvkernel/pkg/sentry/pgalloc"
	"rvkernel.dev/rvkernel/pkg/sentry/platform"
)

var (
	// ErrOverlap is returned when a mapping would overlap an existing area
	// or the trampoline.
	ErrOverlap = errors.New("mapping overlaps an existing area")

	// ErrOverflow is returned when initial data does not fit in the range.
	ErrOverflow = errors.New("data overflows the mapped range")

	// ErrInvalidRange is returned for empty or out of bounds page ranges.
	ErrInvalidRange = errors.New("invalid page range")
)

// area is a contiguous range of virtual pages with uniform flags.
type area struct {
	vpns  hostarch.VPNRange
	flags hostarch.PTEFlags

	// pages backs the area; pages[i] maps vpns.Start+i.
	pages []hostarch.PPN
}

func areaLess(a, b *area) bool {
	return a.vpns.Start < b.vpns.Start
}

// AddressSpace is a user address space.
//
// An AddressSpace exclusively owns the pages of its areas and its page-table
// nodes. The portal page is shared and never freed here.
type AddressSpace struct {
	arena  *pgalloc.Arena
	pt     *pagetables.PageTables
	areas  *btree.BTreeG[*area]
	portal hostarch.PPN
}

// New returns an address space with only the trampoline mapped, to portal.
func New(arena *pgalloc.Arena, portal hostarch.PPN) (*AddressSpace, error) {
	pt, err := pagetables.New(pagetables.NewArenaAllocator(arena))
	if err != nil {
		return nil, err
	}
	as := &AddressSpace{
		arena: arena,
		pt:    pt,
		areas: btree.NewG[*area](8, areaLess),
	}
	if err := as.MapPortal(portal); err != nil {
		pt.Release()
		return nil, err
	}
	return as, nil
}

// RootSelector returns the satp value selecting this address space.
func (as *AddressSpace) RootSelector() uint64 {
	return hostarch.Satp(as.pt.Root())
}

// Arena returns the arena backing the address space.
func (as *AddressSpace) Arena() *pgalloc.Arena {
	return as.arena
}

// Portal returns the page mapped at the trampoline.
func (as *AddressSpace) Portal() hostarch.PPN {
	return as.portal
}

// MapPortal (re)installs the trampoline mapping to ppn.
func (as *AddressSpace) MapPortal(ppn hostarch.PPN) error {
	r := hostarch.VPNRange{Start: hostarch.TrampolineVPN, End: hostarch.TrampolineVPN + 1}
	if pte, ok := as.pt.Lookup(hostarch.TrampolineVPN); ok {
		if pte.PPN() == ppn {
			return nil
		}
		as.pt.Unmap(r)
	}
	if err := as.pt.Map(r, ppn, hostarch.TrampolineFlags); err != nil {
		return err
	}
	as.portal = ppn
	return nil
}

// checkRange validates r against the user half and existing areas.
func (as *AddressSpace) checkRange(r hostarch.VPNRange) error {
	if r.Start >= r.End {
		return fmt.Errorf("%w: %v", ErrInvalidRange, r)
	}
	switch {
	case r.End > hostarch.TrampolineVPN+1:
		return fmt.Errorf("%w: %v", ErrInvalidRange, r)
	case r.End > hostarch.TrampolineVPN:
		return fmt.Errorf("%w: %v covers the trampoline", ErrOverlap, r)
	}
	var conflict *area
	pivot := &area{vpns: hostarch.VPNRange{Start: r.Start}}
	as.areas.DescendLessOrEqual(pivot, func(a *area) bool {
		if a.vpns.Overlaps(r) {
			conflict = a
		}
		return false
	})
	if conflict == nil {
		as.areas.AscendGreaterOrEqual(pivot, func(a *area) bool {
			if a.vpns.Overlaps(r) {
				conflict = a
			}
			return false
		})
	}
	if conflict != nil {
		return fmt.Errorf("%w: %v overlaps %v", ErrOverlap, r, conflict.vpns)
	}
	return nil
}

// install maps every page of a and records it. On failure nothing is left
// mapped.
func (as *AddressSpace) install(a *area) error {
	for i, ppn := range a.pages {
		vpn := a.vpns.Start + hostarch.VPN(i)
		if err := as.pt.Map(hostarch.VPNRange{Start: vpn, End: vpn + 1}, ppn, a.flags); err != nil {
			as.pt.Unmap(hostarch.VPNRange{Start: a.vpns.Start, End: vpn})
			return err
		}
	}
	as.areas.ReplaceOrInsert(a)
	return nil
}

// Map allocates zeroed pages for r, copies data into them starting at
// pageOffset bytes into the first page, and maps them with flags. A failed
// Map leaves nothing mapped and no pages allocated.
func (as *AddressSpace) Map(r hostarch.VPNRange, data []byte, pageOffset uint64, flags hostarch.PTEFlags) error {
	if err := as.checkRange(r); err != nil {
		return err
	}
	if pageOffset+uint64(len(data)) > r.Len()*hostarch.PageSize {
		return fmt.Errorf("%w: %d bytes at offset %d into %d pages", ErrOverflow, len(data), pageOffset, r.Len())
	}
	a := &area{vpns: r, flags: flags, pages: make([]hostarch.PPN, 0, r.Len())}
	for i := uint64(0); i < r.Len(); i++ {
		ppn, err := as.arena.Allocate()
		if err != nil {
			as.freePages(a.pages)
			return err
		}
		a.pages = append(a.pages, ppn)
	}
	for off := uint64(0); off < uint64(len(data)); {
		pos := pageOffset + off
		page := as.arena.Page(a.pages[pos/hostarch.PageSize])
		off += uint64(copy(page[pos%hostarch.PageSize:], data[off:]))
	}
	if err := as.install(a); err != nil {
		as.freePages(a.pages)
		return err
	}
	return nil
}

// MapExtern maps r onto the physically contiguous pages starting at ppn,
// which the caller allocated from the same arena. Ownership of the pages
// passes to the address space, including when MapExtern fails.
func (as *AddressSpace) MapExtern(r hostarch.VPNRange, ppn hostarch.PPN, flags hostarch.PTEFlags) error {
	a := &area{vpns: r, flags: flags, pages: make([]hostarch.PPN, 0, r.Len())}
	for i := uint64(0); i < r.Len(); i++ {
		p := ppn + hostarch.PPN(i)
		if !as.arena.Allocated(p) {
			as.freePages(a.pages)
			return fmt.Errorf("%w: page %#x is not allocated from the arena", ErrInvalidRange, uint64(p))
		}
		a.pages = append(a.pages, p)
	}
	if err := as.checkRange(r); err != nil {
		as.freePages(a.pages)
		return err
	}
	if err := as.install(a); err != nil {
		as.freePages(a.pages)
		return err
	}
	return nil
}

func (as *AddressSpace) freePages(pages []hostarch.PPN) {
	for _, p := range pages {
		as.arena.Free(p)
	}
}

// CloneInto deep-copies every area of as into fresh pages of other,
// preserving ranges and flags, and maps other's trampoline to the same
// portal. On failure other may hold some of the areas; the caller releases
// it.
func (as *AddressSpace) CloneInto(other *AddressSpace) error {
	var err error
	as.areas.Ascend(func(a *area) bool {
		if err = other.checkRange(a.vpns); err != nil {
			return false
		}
		c := &area{vpns: a.vpns, flags: a.flags, pages: make([]hostarch.PPN, 0, len(a.pages))}
		for _, src := range a.pages {
			var dst hostarch.PPN
			if dst, err = other.arena.Allocate(); err != nil {
				other.freePages(c.pages)
				return false
			}
			copy(other.arena.Page(dst), as.arena.Page(src))
			c.pages = append(c.pages, dst)
		}
		if err = other.install(c); err != nil {
			other.freePages(c.pages)
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	return other.MapPortal(as.portal)
}

// Translate returns the physical address of va for a user-mode access of
// the given type.
func (as *AddressSpace) Translate(va hostarch.Addr, at platform.AccessType) (uint64, error) {
	if !va.Canonical() {
		return 0, platform.SegmentationFault{Addr: va}
	}
	pte, ok := as.pt.Lookup(va.VPN())
	if !ok {
		return 0, platform.SegmentationFault{Addr: va}
	}
	flags := pte.Flags()
	var need hostarch.PTEFlags
	switch at {
	case platform.Fetch:
		need = hostarch.User | hostarch.Execute
	case platform.Load:
		need = hostarch.User | hostarch.Read
	case platform.Store:
		need = hostarch.User | hostarch.Write
	}
	if flags&need != need {
		return 0, platform.SegmentationFault{Addr: va}
	}
	return pte.PPN().Addr() | va.PageOffset(), nil
}

// userBytes returns the bytes of the page containing va, starting at va,
// after a user-mode access check.
func (as *AddressSpace) userBytes(va hostarch.Addr, at platform.AccessType) ([]byte, error) {
	pa, err := as.Translate(va, at)
	if err != nil {
		return nil, err
	}
	page := as.arena.Page(hostarch.PhysToPPN(pa))
	return page[va.PageOffset():], nil
}

// CopyIn copies len(dst) bytes from user memory at va. It returns the
// number of bytes copied and a SegmentationFault at the first inaccessible
// byte.
func (as *AddressSpace) CopyIn(va hostarch.Addr, dst []byte) (int, error) {
	n := 0
	for n < len(dst) {
		src, err := as.userBytes(va+hostarch.Addr(n), platform.Load)
		if err != nil {
			return n, err
		}
		n += copy(dst[n:], src)
	}
	return n, nil
}

// CopyOut copies src to user memory at va. It returns the number of bytes
// copied and a SegmentationFault at the first inaccessible byte.
func (as *AddressSpace) CopyOut(va hostarch.Addr, src []byte) (int, error) {
	n := 0
	for n < len(src) {
		dst, err := as.userBytes(va+hostarch.Addr(n), platform.Store)
		if err != nil {
			return n, err
		}
		n += copy(dst, src[n:])
	}
	return n, nil
}

// Release frees every owned page and page-table node. The address space
// must not be used afterwards.
func (as *AddressSpace) Release() {
	as.areas.Ascend(func(a *area) bool {
		as.freePages(a.pages)
		return true
	})
	as.areas.Clear(false)
	as.pt.Release()
}

// Area describes one mapped area.
type Area struct {
	VPNs  hostarch.VPNRange
	Flags hostarch.PTEFlags
	Pages []hostarch.PPN
}

// Areas returns the mapped areas in ascending order.
func (as *AddressSpace) Areas() []Area {
	out := make([]Area, 0, as.areas.Len())
	as.areas.Ascend(func(a *area) bool {
		out = append(out, Area{VPNs: a.vpns, Flags: a.flags, Pages: append([]hostarch.PPN(nil), a.pages...)})
		return true
	})
	return out
}

// String renders the areas, one per line, for debug logs.
func (as *AddressSpace) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "AddressSpace satp=%#x", as.RootSelector())
	as.areas.Ascend(func(a *area) bool {
		fmt.Fprintf(&b, "\n  %v %s first=%#x", a.vpns, a.flags, uint64(a.pages[0]))
		return true
	})
	fmt.Fprintf(&b, "\n  trampoline %s -> %#x", hostarch.TrampolineFlags, uint64(as.portal))
	return b.String()
}
