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

package emu

import (
	"encoding/binary"

	"rvkernel.dev/rvkernel/pkg/hostarch"
	"rvkernel.dev/rvkernel/pkg/sentry/platform"
)

// exception is a synchronous trap raised by an instruction.
type exception struct {
	code uint64
	tval uint64
}

func pageFault(at platform.AccessType, va uint64) exception {
	switch at {
	case platform.Fetch:
		return exception{hostarch.ExceptionInstructionPageFault, va}
	case platform.Load:
		return exception{hostarch.ExceptionLoadPageFault, va}
	default:
		return exception{hostarch.ExceptionStorePageFault, va}
	}
}

func accessFault(at platform.AccessType, va uint64) exception {
	switch at {
	case platform.Fetch:
		return exception{hostarch.ExceptionInstructionFault, va}
	case platform.Load:
		return exception{hostarch.ExceptionLoadFault, va}
	default:
		return exception{hostarch.ExceptionStoreFault, va}
	}
}

// Translate implements platform.Hart.Translate.
func (m *Machine) Translate(va hostarch.Addr, at platform.AccessType, priv platform.Privilege) (uint64, bool) {
	pa, _, trapped := m.translate(uint64(va), at, priv)
	if trapped {
		return 0, false
	}
	if _, ok := m.arena.Slice(pa, 1); !ok {
		return 0, false
	}
	return pa, true
}

// translate maps va to a physical address for an access of type at.
// Physical bounds are checked by the caller.
func (m *Machine) translate(va uint64, at platform.AccessType, priv platform.Privilege) (uint64, exception, bool) {
	if hostarch.SatpMode(m.satp) != hostarch.SatpModeSv39 {
		return va, exception{}, false
	}
	addr := hostarch.Addr(va)
	if !addr.Canonical() {
		return 0, pageFault(at, va), true
	}
	vpn := addr.VPN()
	pte, ok := m.tlb[vpn]
	if !ok {
		var exc exception
		var trapped bool
		pte, exc, trapped = m.walk(vpn, at, va)
		if trapped {
			return 0, exc, true
		}
		m.tlb[vpn] = pte
	}
	if !permitted(pte.Flags(), at, priv) {
		return 0, pageFault(at, va), true
	}
	return pte.PPN().Addr() | addr.PageOffset(), exception{}, false
}

// walk performs the Sv39 table walk for vpn and returns a 4K leaf. A
// superpage is returned as the 4K page it covers.
func (m *Machine) walk(vpn hostarch.VPN, at platform.AccessType, va uint64) (hostarch.PTE, exception, bool) {
	table := hostarch.SatpPPN(m.satp)
	for level := hostarch.Levels - 1; level >= 0; level-- {
		b, ok := m.arena.Slice(table.Addr()+uint64(vpn.Index(level))*hostarch.PTESize, hostarch.PTESize)
		if !ok {
			return 0, accessFault(at, va), true
		}
		pte := hostarch.PTE(binary.LittleEndian.Uint64(b))
		flags := pte.Flags()
		if !pte.Valid() || (flags&hostarch.Read == 0 && flags&hostarch.Write != 0) {
			return 0, pageFault(at, va), true
		}
		if !flags.Leaf() {
			table = pte.PPN()
			continue
		}
		if level > 0 {
			span := hostarch.PPN(1)<<(9*level) - 1
			if pte.PPN()&span != 0 {
				// Misaligned superpage.
				return 0, pageFault(at, va), true
			}
			return hostarch.MakePTE(pte.PPN()|hostarch.PPN(vpn)&span, flags), exception{}, false
		}
		return pte, exception{}, false
	}
	return 0, pageFault(at, va), true
}

// permitted checks leaf flags against an access.
func permitted(flags hostarch.PTEFlags, at platform.AccessType, priv platform.Privilege) bool {
	switch at {
	case platform.Fetch:
		if flags&hostarch.Execute == 0 {
			return false
		}
	case platform.Load:
		if flags&hostarch.Read == 0 {
			return false
		}
	case platform.Store:
		if flags&hostarch.Write == 0 {
			return false
		}
	}
	user := flags&hostarch.User != 0
	if priv == platform.UserMode {
		return user
	}
	// Supervisor accesses to user pages are not permitted.
	return !user
}

// access returns the physical bytes for [va, va+n) when they fall in one
// page. Accesses spanning pages are split by the callers.
func (m *Machine) access(va uint64, n int, at platform.AccessType) ([]byte, exception, bool) {
	pa, exc, trapped := m.translate(va, at, m.priv)
	if trapped {
		return nil, exc, true
	}
	b, ok := m.arena.Slice(pa, n)
	if !ok {
		return nil, accessFault(at, va), true
	}
	return b, exception{}, false
}

// load reads a little-endian value of size bytes.
func (m *Machine) load(va uint64, size int) (uint64, exception, bool) {
	if va&hostarch.PageMask+uint64(size) <= hostarch.PageSize {
		b, exc, trapped := m.access(va, size, platform.Load)
		if trapped {
			return 0, exc, true
		}
		return decodeLE(b), exception{}, false
	}
	var v uint64
	for i := 0; i < size; i++ {
		b, exc, trapped := m.access(va+uint64(i), 1, platform.Load)
		if trapped {
			return 0, exc, true
		}
		v |= uint64(b[0]) << (8 * i)
	}
	return v, exception{}, false
}

// store writes the low size bytes of v, little-endian. A store that faults
// part way through a page crossing leaves no bytes written.
func (m *Machine) store(va uint64, size int, v uint64) (exception, bool) {
	if va&hostarch.PageMask+uint64(size) <= hostarch.PageSize {
		b, exc, trapped := m.access(va, size, platform.Store)
		if trapped {
			return exc, true
		}
		encodeLE(b, v)
		return exception{}, false
	}
	var parts [8][]byte
	for i := 0; i < size; i++ {
		b, exc, trapped := m.access(va+uint64(i), 1, platform.Store)
		if trapped {
			return exc, true
		}
		parts[i] = b
	}
	for i := 0; i < size; i++ {
		parts[i][0] = byte(v >> (8 * i))
	}
	return exception{}, false
}

// fetch reads the instruction at pc.
func (m *Machine) fetch(pc uint64) (uint32, exception, bool) {
	b, exc, trapped := m.access(pc, 4, platform.Fetch)
	if trapped {
		return 0, exc, true
	}
	return binary.LittleEndian.Uint32(b), exception{}, false
}

func decodeLE(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	default:
		return binary.LittleEndian.Uint64(b)
	}
}

func encodeLE(b []byte, v uint64) {
	switch len(b) {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	default:
		binary.LittleEndian.PutUint64(b, v)
	}
}
