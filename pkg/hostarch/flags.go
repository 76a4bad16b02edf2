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

package hostarch

import (
	"fmt"
	"strings"
)

// PTEFlags are the low bits of an Sv39 page-table entry.
type PTEFlags uint8

const (
	// Valid marks an entry as present.
	Valid PTEFlags = 1 << iota
	// Read permits loads.
	Read
	// Write permits stores.
	Write
	// Execute permits instruction fetch.
	Execute
	// User makes the page reachable from user mode.
	User
	// Global marks a mapping shared by every address space.
	Global
	// Accessed is set when the page has been touched.
	Accessed
	// Dirty is set when the page has been written.
	Dirty
)

// flagLetters names each flag bit, most significant first.
const flagLetters = "DAGUXWRV"

// Leaf reports whether an entry with these flags maps a page rather than
// pointing at the next table level.
func (f PTEFlags) Leaf() bool {
	return f&(Read|Write|Execute) != 0
}

// String renders f in the compact right-aligned letter form: one character
// per bit from the highest set bit down to V, with '_' for clear bits. For
// example User|Write|Read|Valid is "U_WRV".
func (f PTEFlags) String() string {
	if f == 0 {
		return "_"
	}
	top := 7
	for f&(1<<top) == 0 {
		top--
	}
	var b strings.Builder
	for bit := top; bit >= 0; bit-- {
		if f&(1<<bit) != 0 {
			b.WriteByte(flagLetters[7-bit])
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// ParseFlags parses the letter form produced by String. The string is
// right-aligned against V, so "U_WRV" and "___U_WRV" are equivalent.
func ParseFlags(s string) (PTEFlags, error) {
	if len(s) == 0 || len(s) > len(flagLetters) {
		return 0, fmt.Errorf("invalid flags %q: length %d out of range", s, len(s))
	}
	var f PTEFlags
	for i := 0; i < len(s); i++ {
		bit := len(s) - 1 - i
		switch s[i] {
		case '_':
		case flagLetters[7-bit]:
			f |= 1 << bit
		default:
			return 0, fmt.Errorf("invalid flags %q: unexpected %q at position %d", s, s[i], i)
		}
	}
	return f, nil
}

// MustParseFlags is ParseFlags for constant strings. It panics on error.
func MustParseFlags(s string) PTEFlags {
	f, err := ParseFlags(s)
	if err != nil {
		panic(err)
	}
	return f
}

// PTE is a raw Sv39 page-table entry.
type PTE uint64

// MakePTE builds an entry mapping ppn with flags.
func MakePTE(ppn PPN, flags PTEFlags) PTE {
	return PTE(uint64(ppn)<<10 | uint64(flags))
}

// Flags returns the flag bits.
func (p PTE) Flags() PTEFlags {
	return PTEFlags(p & 0xff)
}

// PPN returns the physical page the entry points to.
func (p PTE) PPN() PPN {
	return PPN((uint64(p) >> 10) & (1<<44 - 1))
}

// Valid returns true if the entry is present.
func (p PTE) Valid() bool {
	return p.Flags()&Valid != 0
}

// String implements fmt.Stringer.String.
func (p PTE) String() string {
	return fmt.Sprintf("ppn=%#x flags=%s", uint64(p.PPN()), p.Flags())
}
