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

// Package hostarch describes the Sv39 address layout of the machine the kernel
// runs on: virtual and physical page numbers, page-table entry flags, and the
// fixed addresses shared by every address space.
package hostarch

import "fmt"

const (
	// PageShift is the binary log of the page size.
	PageShift = 12

	// PageSize is the size of a page in bytes.
	PageSize = 1 << PageShift

	// PageMask masks the offset within a page.
	PageMask = PageSize - 1

	// VABits is the number of significant virtual address bits under Sv39.
	VABits = 39

	// VPNBits is the width of a virtual page number.
	VPNBits = VABits - PageShift

	// Levels is the depth of an Sv39 page table.
	Levels = 3

	// EntriesPerTable is the number of entries in one page-table node.
	EntriesPerTable = 512

	// PTESize is the size of a page-table entry in bytes.
	PTESize = 8
)

// Addr represents a virtual address.
type Addr uint64

// RoundDown returns the address rounded down to the nearest page boundary.
func (v Addr) RoundDown() Addr {
	return v &^ PageMask
}

// RoundUp returns the address rounded up to the nearest page boundary. ok is
// false if rounding up overflows.
func (v Addr) RoundUp() (addr Addr, ok bool) {
	addr = (v + PageMask).RoundDown()
	ok = addr >= v
	return
}

// PageOffset returns the offset of v into the current page.
func (v Addr) PageOffset() uint64 {
	return uint64(v & PageMask)
}

// IsPageAligned returns true if v.PageOffset() == 0.
func (v Addr) IsPageAligned() bool {
	return v.PageOffset() == 0
}

// Canonical reports whether v is a valid Sv39 address: bits 63..39 must all
// equal bit 38.
func (v Addr) Canonical() bool {
	top := int64(v) >> (VABits - 1)
	return top == 0 || top == -1
}

// VPN returns the virtual page number containing v. Sign-extension bits are
// dropped.
func (v Addr) VPN() VPN {
	return VPN(uint64(v)>>PageShift) & (1<<VPNBits - 1)
}

// String implements fmt.Stringer.String.
func (v Addr) String() string {
	return fmt.Sprintf("%#x", uint64(v))
}

// VPN is a virtual page number.
type VPN uint64

// Addr returns the canonical address of the first byte of the page.
func (n VPN) Addr() Addr {
	a := uint64(n) << PageShift
	if a&(1<<(VABits-1)) != 0 {
		a |= ^uint64(1<<VABits - 1)
	}
	return Addr(a)
}

// Index returns the page-table index of n at the given level, where level 2
// is the root.
func (n VPN) Index(level int) int {
	return int(uint64(n)>>(9*level)) & (EntriesPerTable - 1)
}

// PPN is a physical page number.
type PPN uint64

// Addr returns the physical address of the first byte of the page.
func (n PPN) Addr() uint64 {
	return uint64(n) << PageShift
}

// PhysToPPN returns the physical page containing pa.
func PhysToPPN(pa uint64) PPN {
	return PPN(pa >> PageShift)
}

// VPNRange is a half-open range of virtual pages [Start, End).
type VPNRange struct {
	Start VPN
	End   VPN
}

// Len returns the number of pages in the range.
func (r VPNRange) Len() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return uint64(r.End - r.Start)
}

// Contains returns true if n is in the range.
func (r VPNRange) Contains(n VPN) bool {
	return r.Start <= n && n < r.End
}

// Overlaps returns true if r and o share at least one page.
func (r VPNRange) Overlaps(o VPNRange) bool {
	return r.Start < o.End && o.Start < r.End
}

// WellFormed returns true if r.Start <= r.End.
func (r VPNRange) WellFormed() bool {
	return r.Start <= r.End
}

// String implements fmt.Stringer.String.
func (r VPNRange) String() string {
	return fmt.Sprintf("[%#x, %#x)", uint64(r.Start), uint64(r.End))
}

// PageRange returns the pages spanned by the bytes [start, end).
func PageRange(start, end Addr) VPNRange {
	last, _ := end.RoundUp()
	return VPNRange{Start: start.VPN(), End: VPN(uint64(last) >> PageShift)}
}
