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

// ScauseInterrupt is set in scause when the trap is an interrupt.
const ScauseInterrupt = 1 << 63

// Interrupt codes.
const (
	InterruptSupervisorSoftware = 1
	InterruptSupervisorTimer    = 5
	InterruptSupervisorExternal = 9
)

// Exception codes.
const (
	ExceptionInstructionMisaligned = 0
	ExceptionInstructionFault      = 1
	ExceptionIllegalInstruction    = 2
	ExceptionBreakpoint            = 3
	ExceptionLoadMisaligned        = 4
	ExceptionLoadFault             = 5
	ExceptionStoreMisaligned       = 6
	ExceptionStoreFault            = 7
	ExceptionUserEnvCall           = 8
	ExceptionSupervisorEnvCall     = 9
	ExceptionInstructionPageFault  = 12
	ExceptionLoadPageFault         = 13
	ExceptionStorePageFault        = 15
)

// Counter CSRs readable from user mode.
const (
	CSRCycle   = 0xc00
	CSRTime    = 0xc01
	CSRInstret = 0xc02
)
