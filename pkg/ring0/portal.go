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

package ring0

import (
	"encoding/binary"
	"fmt"

	"rvkernel.dev/rvkernel/pkg/hostarch"
	"rvkernel.dev/rvkernel/pkg/sentry/pgalloc"
	"rvkernel.dev/rvkernel/pkg/sentry/platform"
)

// Transit cache layout at the start of the portal page.
const (
	cacheRegs    = 0
	cacheSepc    = 31 * 8
	cacheSstatus = 32 * 8
	cacheSatp    = 33 * 8
	cacheSize    = 34 * 8
)

// Portal is the shared trampoline page.
type Portal struct {
	arena *pgalloc.Arena
	ppn   hostarch.PPN
	cache []byte
}

// NewPortal allocates the portal page from arena.
func NewPortal(arena *pgalloc.Arena) (*Portal, error) {
	ppn, err := arena.Allocate()
	if err != nil {
		return nil, fmt.Errorf("allocating portal page: %w", err)
	}
	return &Portal{
		arena: arena,
		ppn:   ppn,
		cache: arena.Page(ppn)[:cacheSize:cacheSize],
	}, nil
}

// PPN returns the portal's physical page.
func (p *Portal) PPN() hostarch.PPN {
	return p.ppn
}

// Release returns the portal page to the arena. No address space may still
// map it.
func (p *Portal) Release() {
	p.arena.Free(p.ppn)
	p.cache = nil
}

func (p *Portal) get(off int) uint64 {
	return binary.LittleEndian.Uint64(p.cache[off:])
}

func (p *Portal) put(off int, v uint64) {
	binary.LittleEndian.PutUint64(p.cache[off:], v)
}

// Enter runs ctx on hart h until the next trap and returns its cause. On
// return ctx holds the registers and pc at the trap, and the hart is back on
// the bare selector.
//
// If ctx.Satp does not map the trampoline to this portal, the kernel's
// view of the world is broken and Enter panics.
func (p *Portal) Enter(h platform.Hart, ctx *ForeignContext) Cause {
	for i, r := range ctx.Regs {
		p.put(cacheRegs+8*i, r)
	}
	p.put(cacheSepc, ctx.Sepc)
	p.put(cacheSstatus, ctx.sstatus())
	p.put(cacheSatp, ctx.Satp)

	h.SetSatp(p.get(cacheSatp))
	if pa, ok := h.Translate(hostarch.TrampolineAddr, platform.Fetch, platform.SupervisorMode); !ok || hostarch.PhysToPPN(pa) != p.ppn {
		h.SetSatp(hostarch.SatpBare)
		panic(fmt.Sprintf("trampoline not mapped to portal %#x under satp %#x", uint64(p.ppn), ctx.Satp))
	}

	for i := 1; i < 32; i++ {
		h.SetReg(i, p.get(cacheRegs+8*(i-1)))
	}
	h.SetSepc(p.get(cacheSepc))
	h.SetSstatus(p.get(cacheSstatus))

	scause, stval := h.SRet()

	for i := 1; i < 32; i++ {
		p.put(cacheRegs+8*(i-1), h.Reg(i))
	}
	p.put(cacheSepc, h.Sepc())
	h.SetSatp(hostarch.SatpBare)

	for i := range ctx.Regs {
		ctx.Regs[i] = p.get(cacheRegs + 8*i)
	}
	ctx.Sepc = p.get(cacheSepc)
	return DecodeCause(scause, stval)
}
