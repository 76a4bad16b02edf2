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

// Package platform provides the contracts between the kernel and the machine
// it runs on.
//
// The kernel never looks inside the machine. It drives a single Hart through
// the register, CSR and translation accessors below, and reaches the
// firmware through Firmware. An implementation may be real hardware or an
// emulator; see package emu.
package platform

import (
	"fmt"

	"rvkernel.dev/rvkernel/pkg/hostarch"
)

// Privilege is a hart privilege level.
type Privilege uint8

const (
	// UserMode is U-mode.
	UserMode Privilege = 0

	// SupervisorMode is S-mode.
	SupervisorMode Privilege = 1
)

// String implements fmt.Stringer.String.
func (p Privilege) String() string {
	switch p {
	case UserMode:
		return "U"
	case SupervisorMode:
		return "S"
	default:
		return fmt.Sprintf("Privilege(%d)", uint8(p))
	}
}

// AccessType is the kind of memory access being translated.
type AccessType uint8

const (
	// Fetch is an instruction fetch.
	Fetch AccessType = iota

	// Load is a data read.
	Load

	// Store is a data write.
	Store
)

// String implements fmt.Stringer.String.
func (a AccessType) String() string {
	switch a {
	case Fetch:
		return "fetch"
	case Load:
		return "load"
	case Store:
		return "store"
	default:
		return fmt.Sprintf("AccessType(%d)", uint8(a))
	}
}

// sstatus bits used by the kernel.
const (
	// SstatusSIE enables supervisor interrupts while in S-mode.
	SstatusSIE = 1 << 1

	// SstatusSPIE holds the interrupt enable to restore on sret.
	SstatusSPIE = 1 << 5

	// SstatusSPP holds the privilege to return to on sret: set for S-mode.
	SstatusSPP = 1 << 8
)

// Hart is one hardware thread.
//
// All methods are called from the single kernel goroutine.
type Hart interface {
	// Reg returns general purpose register x[i]. Reg(0) is always zero.
	Reg(i int) uint64

	// SetReg sets x[i]. Writes to x0 are ignored.
	SetReg(i int, v uint64)

	// Satp returns the current address-space selector.
	Satp() uint64

	// SetSatp installs an address-space selector and flushes any cached
	// translations.
	SetSatp(satp uint64)

	// Sepc returns the exception program counter.
	Sepc() uint64

	// SetSepc sets the exception program counter.
	SetSepc(pc uint64)

	// Sstatus returns the supervisor status register.
	Sstatus() uint64

	// SetSstatus sets the supervisor status register.
	SetSstatus(v uint64)

	// Translate walks the current selector's page table for an access of
	// the given type at the given privilege. ok is false if the access
	// would fault.
	Translate(va hostarch.Addr, at AccessType, priv Privilege) (pa uint64, ok bool)

	// SRet returns from the supervisor to the privilege in sstatus.SPP at
	// sepc and runs until the next trap into the supervisor. It returns the
	// trap's scause and stval; sepc holds the trapping pc.
	SRet() (scause, stval uint64)
}

// ResetReason is the reason passed to Firmware.Shutdown.
type ResetReason uint32

const (
	// NoReason is a normal shutdown.
	NoReason ResetReason = iota

	// SystemFailure is a shutdown after a kernel failure.
	SystemFailure
)

// String implements fmt.Stringer.String.
func (r ResetReason) String() string {
	switch r {
	case NoReason:
		return "no reason"
	case SystemFailure:
		return "system failure"
	default:
		return fmt.Sprintf("ResetReason(%d)", uint32(r))
	}
}

// Firmware is the supervisor binary interface of the machine.
type Firmware interface {
	// SetTimer programs the next timer interrupt for when the time counter
	// reaches deadline. math.MaxUint64 disarms the timer.
	SetTimer(deadline uint64)

	// ReadTime returns the free-running time counter.
	ReadTime() uint64

	// ConsolePutChar writes one byte to the firmware console.
	ConsolePutChar(c byte)

	// Shutdown powers the machine off. The hart must not be resumed
	// afterwards.
	Shutdown(reason ResetReason)
}

// Machine is a hart together with its firmware.
type Machine interface {
	Hart
	Firmware
}

// SegmentationFault is an error returned by user memory accessors when an
// access touches an unmapped page, or a mapped page with insufficient
// permissions.
type SegmentationFault struct {
	// Addr is the address at which the fault occurred.
	Addr hostarch.Addr
}

// Error implements error.Error.
func (f SegmentationFault) Error() string {
	return fmt.Sprintf("segmentation fault at %#x", uint64(f.Addr))
}
