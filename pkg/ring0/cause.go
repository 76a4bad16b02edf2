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
	"fmt"

	"rvkernel.dev/rvkernel/pkg/hostarch"
)

// Cause is a decoded trap cause.
type Cause struct {
	// Interrupt is true for asynchronous traps.
	Interrupt bool

	// Code is the interrupt or exception code. Codes the kernel does not
	// know are kept verbatim.
	Code uint64

	// Value is stval: the faulting address or instruction, if any.
	Value uint64
}

// DecodeCause decodes scause and stval.
func DecodeCause(scause, stval uint64) Cause {
	return Cause{
		Interrupt: scause&hostarch.ScauseInterrupt != 0,
		Code:      scause &^ hostarch.ScauseInterrupt,
		Value:     stval,
	}
}

// Scause re-encodes the cause.
func (c Cause) Scause() uint64 {
	if c.Interrupt {
		return c.Code | hostarch.ScauseInterrupt
	}
	return c.Code
}

// IsTimer returns true for the supervisor timer interrupt.
func (c Cause) IsTimer() bool {
	return c.Interrupt && c.Code == hostarch.InterruptSupervisorTimer
}

// IsUserEcall returns true for an environment call from U-mode.
func (c Cause) IsUserEcall() bool {
	return !c.Interrupt && c.Code == hostarch.ExceptionUserEnvCall
}

// IsPageFault returns true for any of the three page faults.
func (c Cause) IsPageFault() bool {
	if c.Interrupt {
		return false
	}
	switch c.Code {
	case hostarch.ExceptionInstructionPageFault, hostarch.ExceptionLoadPageFault, hostarch.ExceptionStorePageFault:
		return true
	}
	return false
}

var interruptNames = map[uint64]string{
	hostarch.InterruptSupervisorSoftware: "SupervisorSoft",
	hostarch.InterruptSupervisorTimer:    "SupervisorTimer",
	hostarch.InterruptSupervisorExternal: "SupervisorExternal",
}

var exceptionNames = map[uint64]string{
	hostarch.ExceptionInstructionMisaligned: "InstructionMisaligned",
	hostarch.ExceptionInstructionFault:      "InstructionFault",
	hostarch.ExceptionIllegalInstruction:    "IllegalInstruction",
	hostarch.ExceptionBreakpoint:            "Breakpoint",
	hostarch.ExceptionLoadMisaligned:        "LoadMisaligned",
	hostarch.ExceptionLoadFault:             "LoadFault",
	hostarch.ExceptionStoreMisaligned:       "StoreMisaligned",
	hostarch.ExceptionStoreFault:            "StoreFault",
	hostarch.ExceptionUserEnvCall:           "UserEnvCall",
	hostarch.ExceptionSupervisorEnvCall:     "SupervisorEnvCall",
	hostarch.ExceptionInstructionPageFault:  "InstructionPageFault",
	hostarch.ExceptionLoadPageFault:         "LoadPageFault",
	hostarch.ExceptionStorePageFault:        "StorePageFault",
}

// String implements fmt.Stringer.String.
func (c Cause) String() string {
	if c.Interrupt {
		if n, ok := interruptNames[c.Code]; ok {
			return "Interrupt(" + n + ")"
		}
		return fmt.Sprintf("Interrupt(%d)", c.Code)
	}
	if n, ok := exceptionNames[c.Code]; ok {
		return "Exception(" + n + ")"
	}
	return fmt.Sprintf("Exception(%d)", c.Code)
}
