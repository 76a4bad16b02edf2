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

package apps

import (
	"rvkernel.dev/rvkernel/pkg/abi/linux"
	"rvkernel.dev/rvkernel/pkg/rvasm"
)

// sleepNsec is how long the sleep app waits.
const sleepNsec = 10_000_000

// monotonicNsec leaves the monotonic time in nanoseconds in rd, using the
// 16 bytes at sp as scratch.
func monotonicNsec(a *rvasm.Assembler, rd rvasm.Reg) {
	a.LI(rvasm.A0, linux.CLOCK_MONOTONIC)
	a.MV(rvasm.A1, rvasm.SP)
	syscall(a, linux.SYS_CLOCK_GETTIME)
	a.LD(rvasm.T0, rvasm.SP, 0)
	a.LD(rvasm.T1, rvasm.SP, 8)
	a.LI(rvasm.T2, 1_000_000_000)
	a.MUL(rvasm.T0, rvasm.T0, rvasm.T2)
	a.ADD(rd, rvasm.T0, rvasm.T1)
}

func init() {
	register(App{
		Name:        "hello",
		Description: "prints a greeting and exits 0",
		ABI:         ">= 1.0.0",
		build: func(a *rvasm.Assembler) {
			puts(a, "msg", "Hello, world!\n")
			exit(a, 0)
		},
	})

	register(App{
		Name:        "exit42",
		Description: "exits with code 42",
		ABI:         ">= 1.0.0",
		build: func(a *rvasm.Assembler) {
			exit(a, 42)
		},
	})

	register(App{
		Name:        "yield",
		Description: "prints three lines, yielding between them",
		ABI:         ">= 1.0.0",
		build: func(a *rvasm.Assembler) {
			a.LI(rvasm.S0, 3)
			a.Label("loop")
			puts(a, "msg", "yield\n")
			syscall(a, linux.SYS_SCHED_YIELD)
			a.ADDI(rvasm.S0, rvasm.S0, -1)
			a.BNEZ(rvasm.S0, "loop")
			exit(a, 0)
		},
	})

	register(App{
		Name:        "sleep",
		Description: "yields until 10ms of monotonic time have passed",
		ABI:         ">= 1.0.0",
		build: func(a *rvasm.Assembler) {
			a.ADDI(rvasm.SP, rvasm.SP, -16)
			monotonicNsec(a, rvasm.S0)
			a.LI(rvasm.T3, sleepNsec)
			a.ADD(rvasm.S1, rvasm.S0, rvasm.T3)
			a.Label("loop")
			syscall(a, linux.SYS_SCHED_YIELD)
			monotonicNsec(a, rvasm.S2)
			a.BLT(rvasm.S2, rvasm.S1, "loop")
			puts(a, "msg", "Test sleep OK!\n")
			exit(a, 0)
		},
	})

	register(App{
		Name:        "spin",
		Description: "loops forever without yielding",
		ABI:         ">= 1.0.0",
		Manual:      true,
		build: func(a *rvasm.Assembler) {
			a.Label("spin")
			a.J("spin")
		},
	})

	register(App{
		Name:        "illegal",
		Description: "executes an illegal instruction",
		ABI:         ">= 1.0.0",
		build: func(a *rvasm.Assembler) {
			a.Word(0)
			exit(a, 0)
		},
	})

	register(App{
		Name:        "segv",
		Description: "stores to an unmapped address",
		ABI:         ">= 1.0.0",
		build: func(a *rvasm.Assembler) {
			a.SD(rvasm.X0, rvasm.X0, 0)
			exit(a, 0)
		},
	})

	register(App{
		Name:        "forktest",
		Description: "forks a child exiting 7 and reaps it",
		ABI:         ">= 1.1.0",
		build: func(a *rvasm.Assembler) {
			syscall(a, linux.SYS_FORK)
			a.BNEZ(rvasm.A0, "parent")
			puts(a, "child", "forktest child\n")
			exit(a, 7)

			a.Label("parent")
			a.MV(rvasm.S0, rvasm.A0)
			a.ADDI(rvasm.SP, rvasm.SP, -16)
			a.Label("wait")
			a.LI(rvasm.A0, linux.WaitAny)
			a.MV(rvasm.A1, rvasm.SP)
			syscall(a, linux.SYS_WAIT4)
			a.LI(rvasm.T0, linux.WaitStillRunning)
			a.BNE(rvasm.A0, rvasm.T0, "reaped")
			syscall(a, linux.SYS_SCHED_YIELD)
			a.J("wait")

			a.Label("reaped")
			a.BNE(rvasm.A0, rvasm.S0, "fail")
			a.LW(rvasm.T1, rvasm.SP, 0)
			a.LI(rvasm.T2, 7)
			a.BNE(rvasm.T1, rvasm.T2, "fail")
			puts(a, "ok", "forktest OK\n")
			exit(a, 0)
			a.Label("fail")
			puts(a, "failmsg", "forktest FAIL\n")
			exit(a, 1)
		},
	})

	register(App{
		Name:        "exectest",
		Description: "replaces itself with hello",
		ABI:         ">= 1.1.0",
		build: func(a *rvasm.Assembler) {
			const path = "hello"
			a.Data("path", []byte(path))
			a.LA(rvasm.A0, "path")
			a.LI(rvasm.A1, int64(len(path)))
			syscall(a, linux.SYS_EXECVE)
			puts(a, "failmsg", "exec failed\n")
			exit(a, 1)
		},
	})
}
