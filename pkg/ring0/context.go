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

// Package ring0 is the context-switch engine: it carries a saved user context
// across the privilege boundary and back.
//
// The only way into user mode is Portal.Enter. The portal owns one physical
// page, mapped at the same virtual address in every address space, whose
// first bytes are the transit cache the hart's registers pass through on the
// way in and out.
package ring0

import (
	"fmt"

	"rvkernel.dev/rvkernel/pkg/hostarch"
	"rvkernel.dev/rvkernel/pkg/sentry/platform"
)

// Register indexes by ABI name.
const (
	RegRA = 1
	RegSP = 2
	RegA0 = 10
	RegA7 = 17
)

// LocalContext is a saved hart context: x1..x31, sepc, and the privilege and
// interrupt-enable state to return with.
type LocalContext struct {
	// Regs holds x1..x31; Regs[0] is x1.
	Regs [31]uint64

	// Sepc is the pc to resume at.
	Sepc uint64

	// Supervisor resumes in S-mode instead of U-mode.
	Supervisor bool

	// Interrupts enables supervisor interrupts after the return.
	Interrupts bool
}

// User returns a user-mode context that starts at entry with interrupts
// enabled.
func User(entry uint64) LocalContext {
	return LocalContext{Sepc: entry, Interrupts: true}
}

// X returns register x[i]. X(0) is zero.
func (c *LocalContext) X(i int) uint64 {
	if i == 0 {
		return 0
	}
	return c.Regs[i-1]
}

// SetX sets register x[i]. Writes to x0 are dropped.
func (c *LocalContext) SetX(i int, v uint64) {
	if i != 0 {
		c.Regs[i-1] = v
	}
}

// A returns argument register a[i].
func (c *LocalContext) A(i int) uint64 {
	return c.X(RegA0 + i)
}

// SetA sets argument register a[i].
func (c *LocalContext) SetA(i int, v uint64) {
	c.SetX(RegA0+i, v)
}

// SP returns the stack pointer.
func (c *LocalContext) SP() uint64 {
	return c.X(RegSP)
}

// SetSP sets the stack pointer.
func (c *LocalContext) SetSP(v uint64) {
	c.SetX(RegSP, v)
}

// MoveNext advances sepc past the trapping instruction.
func (c *LocalContext) MoveNext() {
	c.Sepc += 4
}

// sstatus returns the sstatus value to install before sret.
func (c *LocalContext) sstatus() uint64 {
	var v uint64
	if c.Supervisor {
		v |= platform.SstatusSPP
	}
	if c.Interrupts {
		v |= platform.SstatusSPIE
	}
	return v
}

// ForeignContext is a context that runs in another address space. It is
// never restored without installing Satp first.
type ForeignContext struct {
	LocalContext

	// Satp selects the address space.
	Satp uint64
}

// String implements fmt.Stringer.String.
func (c *ForeignContext) String() string {
	return fmt.Sprintf("pc=%#x sp=%#x a0=%#x satp=%#x", c.Sepc, c.SP(), c.A(0), c.Satp)
}

// userStackTop is the stack pointer of a fresh user context.
const userStackTop = uint64(hostarch.UserStackTop)

// NewUser returns a foreign user context starting at entry with the initial
// user stack, running under satp.
func NewUser(entry, satp uint64) ForeignContext {
	ctx := ForeignContext{LocalContext: User(entry), Satp: satp}
	ctx.SetSP(userStackTop)
	return ctx
}
