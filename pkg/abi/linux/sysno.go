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

// Package linux contains the constants and types the kernel shares with user
// programs: syscall numbers, clock identifiers and the layout of values that
// cross the user boundary.
package linux

// Syscall numbers, following the RISC-V Linux numbering. The number is
// passed in a7; arguments in a0..a5; the result comes back in a0.
const (
	SYS_WRITE         = 64
	SYS_EXIT          = 93
	SYS_CLOCK_GETTIME = 113
	SYS_SCHED_YIELD   = 124
	SYS_GETPID        = 172
	SYS_CLONE         = 220
	SYS_EXECVE        = 221
	SYS_WAIT4         = 260
)

// SYS_FORK is the number user programs issue to fork. There is no separate
// fork number on RISC-V; a bare clone forks.
const SYS_FORK = SYS_CLONE

// Sysno is a syscall number.
type Sysno uint64

var sysnoNames = map[Sysno]string{
	SYS_WRITE:         "write",
	SYS_EXIT:          "exit",
	SYS_CLOCK_GETTIME: "clock_gettime",
	SYS_SCHED_YIELD:   "sched_yield",
	SYS_GETPID:        "getpid",
	SYS_CLONE:         "fork",
	SYS_EXECVE:        "exec",
	SYS_WAIT4:         "wait4",
}

// String implements fmt.Stringer.String.
func (s Sysno) String() string {
	if n, ok := sysnoNames[s]; ok {
		return n
	}
	return "unknown"
}

// Known reports whether s names a syscall the kernel ABI defines.
func (s Sysno) Known() bool {
	_, ok := sysnoNames[s]
	return ok
}

// Sysnos returns every syscall number in the ABI, in ascending order.
func Sysnos() []Sysno {
	return []Sysno{
		SYS_WRITE,
		SYS_EXIT,
		SYS_CLOCK_GETTIME,
		SYS_SCHED_YIELD,
		SYS_GETPID,
		SYS_CLONE,
		SYS_EXECVE,
		SYS_WAIT4,
	}
}

// Standard file descriptors. Output goes to descriptor 0 in this ABI, which
// is how the console is wired.
const (
	FDConsole = 0
)

// Wait4 sentinel values.
const (
	// WaitAny selects any child in wait4.
	WaitAny = -1

	// WaitStillRunning is returned by wait4 when a matching child exists but
	// has not exited.
	WaitStillRunning = -2
)
