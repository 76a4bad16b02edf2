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

// Package emu is an emulated single-hart RV64IM machine: an Sv39 MMU over a
// physical page arena, a free-running time counter with a compare register,
// and a firmware interface for the timer, console and power.
//
// Only U-mode and S-mode code runs on the emulated hart. The supervisor is
// the Go kernel itself: a trap into S-mode returns from SRet to the caller.
package emu

import (
	"io"
	"math"

	"rvkernel.dev/rvkernel/pkg/hostarch"
	"rvkernel.dev/rvkernel/pkg/log"
	"rvkernel.dev/rvkernel/pkg/sentry/pgalloc"
	"rvkernel.dev/rvkernel/pkg/sentry/platform"
)

// Machine is the emulated machine. It implements platform.Machine.
type Machine struct {
	// arena is physical memory.
	arena *pgalloc.Arena

	// console receives firmware console output.
	console io.Writer

	// x holds the general purpose registers. x[0] is kept zero.
	x [32]uint64

	// pc is the program counter while the hart is running.
	pc uint64

	// priv is the current privilege.
	priv platform.Privilege

	// Supervisor CSRs.
	satp    uint64
	sepc    uint64
	sstatus uint64

	// time is the time counter; timecmp the timer compare value.
	time    uint64
	timecmp uint64

	// cycle counts steps; instret counts retired instructions.
	cycle   uint64
	instret uint64

	// tlb caches leaf translations for the installed satp.
	tlb map[hostarch.VPN]hostarch.PTE

	halted bool
	reason platform.ResetReason
}

var _ platform.Machine = (*Machine)(nil)

// New returns a machine whose physical memory is arena. Console output is
// written to console.
func New(arena *pgalloc.Arena, console io.Writer) *Machine {
	return &Machine{
		arena:   arena,
		console: console,
		priv:    platform.SupervisorMode,
		timecmp: math.MaxUint64,
		tlb:     make(map[hostarch.VPN]hostarch.PTE),
	}
}

// Reg implements platform.Hart.Reg.
func (m *Machine) Reg(i int) uint64 {
	return m.x[i]
}

// SetReg implements platform.Hart.SetReg.
func (m *Machine) SetReg(i int, v uint64) {
	if i != 0 {
		m.x[i] = v
	}
}

// Satp implements platform.Hart.Satp.
func (m *Machine) Satp() uint64 {
	return m.satp
}

// SetSatp implements platform.Hart.SetSatp.
func (m *Machine) SetSatp(satp uint64) {
	m.satp = satp
	clear(m.tlb)
}

// Sepc implements platform.Hart.Sepc.
func (m *Machine) Sepc() uint64 {
	return m.sepc
}

// SetSepc implements platform.Hart.SetSepc.
func (m *Machine) SetSepc(pc uint64) {
	m.sepc = pc
}

// Sstatus implements platform.Hart.Sstatus.
func (m *Machine) Sstatus() uint64 {
	return m.sstatus
}

// SetSstatus implements platform.Hart.SetSstatus.
func (m *Machine) SetSstatus(v uint64) {
	m.sstatus = v
}

// Privilege returns the current privilege level.
func (m *Machine) Privilege() platform.Privilege {
	return m.priv
}

// SRet implements platform.Hart.SRet.
func (m *Machine) SRet() (scause, stval uint64) {
	if m.halted {
		panic("hart resumed after shutdown")
	}
	if m.priv != platform.SupervisorMode {
		panic("sret outside supervisor mode")
	}
	if m.sstatus&platform.SstatusSPP != 0 {
		m.priv = platform.SupervisorMode
	} else {
		m.priv = platform.UserMode
	}
	m.sstatus &^= platform.SstatusSIE | platform.SstatusSPP
	if m.sstatus&platform.SstatusSPIE != 0 {
		m.sstatus |= platform.SstatusSIE
	}
	m.sstatus |= platform.SstatusSPIE
	m.pc = m.sepc

	for {
		if m.timerPending() {
			return m.trap(hostarch.ScauseInterrupt|hostarch.InterruptSupervisorTimer, 0)
		}
		exc, trapped := m.step()
		m.time++
		m.cycle++
		if trapped {
			return m.trap(exc.code, exc.tval)
		}
		m.instret++
	}
}

// timerPending returns true if a timer interrupt would be taken now.
func (m *Machine) timerPending() bool {
	if m.time < m.timecmp {
		return false
	}
	return m.priv == platform.UserMode || m.sstatus&platform.SstatusSIE != 0
}

// trap enters S-mode with the given cause.
func (m *Machine) trap(scause, stval uint64) (uint64, uint64) {
	m.sepc = m.pc
	m.sstatus &^= platform.SstatusSPP | platform.SstatusSPIE
	if m.priv == platform.SupervisorMode {
		m.sstatus |= platform.SstatusSPP
	}
	if m.sstatus&platform.SstatusSIE != 0 {
		m.sstatus |= platform.SstatusSPIE
	}
	m.sstatus &^= platform.SstatusSIE
	m.priv = platform.SupervisorMode
	return scause, stval
}

// SetTimer implements platform.Firmware.SetTimer.
func (m *Machine) SetTimer(deadline uint64) {
	m.timecmp = deadline
}

// ReadTime implements platform.Firmware.ReadTime.
func (m *Machine) ReadTime() uint64 {
	return m.time
}

// Advance moves the time counter forward by ticks.
func (m *Machine) Advance(ticks uint64) {
	m.time += ticks
}

// ConsolePutChar implements platform.Firmware.ConsolePutChar.
func (m *Machine) ConsolePutChar(c byte) {
	if m.console == nil {
		return
	}
	m.console.Write([]byte{c})
}

// Shutdown implements platform.Firmware.Shutdown.
func (m *Machine) Shutdown(reason platform.ResetReason) {
	if m.halted {
		return
	}
	log.Debugf("Machine shutdown: %v", reason)
	m.halted = true
	m.reason = reason
}

// Halted returns whether the machine was shut down, and the reason given.
func (m *Machine) Halted() (platform.ResetReason, bool) {
	return m.reason, m.halted
}

// Counters returns the cycle and retired instruction counters.
func (m *Machine) Counters() (cycle, instret uint64) {
	return m.cycle, m.instret
}
