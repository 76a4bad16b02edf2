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

// Package kernel ties processes, address spaces and the syscall registry
// together: it boots program images and runs them round-robin on the
// machine's single hart until every process has finished.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"time"

	"rvkernel.dev/rvkernel/pkg/abi/linux"
	"rvkernel.dev/rvkernel/pkg/log"
	"rvkernel.dev/rvkernel/pkg/ring0"
	"rvkernel.dev/rvkernel/pkg/sentry/console"
	"rvkernel.dev/rvkernel/pkg/sentry/fs"
	"rvkernel.dev/rvkernel/pkg/sentry/pgalloc"
	"rvkernel.dev/rvkernel/pkg/sentry/platform"
	"rvkernel.dev/rvkernel/pkg/sentry/syscalls"
)

// Defaults for Config.
const (
	DefaultQuantum  = 12500
	DefaultMaxTasks = 32
)

// ExitKilled is the exit code recorded for processes killed by a fault or
// an unsupported syscall.
const ExitKilled = -1

// ErrTableFull is returned by Boot when the task table has no free slot.
var ErrTableFull = errors.New("task table full")

// Config configures a Kernel.
type Config struct {
	// Quantum is the timer slice in ticks. Zero means DefaultQuantum.
	Quantum uint64

	// Cooperative disables timer preemption.
	Cooperative bool

	// MaxTasks is the task table capacity. Zero means DefaultMaxTasks.
	MaxTasks int
}

// Kernel owns the task table and the capabilities behind the syscall
// registry.
type Kernel struct {
	cfg      Config
	machine  platform.Machine
	arena    *pgalloc.Arena
	portal   *ring0.Portal
	console  console.Console
	storage  fs.Storage
	registry *syscalls.Registry

	// tasks is the round-robin table. Finished processes keep their slot.
	tasks []*Process
	byPID map[TaskID]*Process

	// remaining counts unfinished processes.
	remaining int

	// exitCodes holds the codes of finished processes until their parent
	// reaps them. Codes of boot processes are kept for the kernel's owner;
	// codes of children whose parent has finished are not kept at all.
	exitCodes map[TaskID]int32

	timeouts log.Logger
}

// New returns a kernel running on m, allocating from arena. storage may be
// nil, in which case exec always fails. The kernel installs its
// capabilities in registry; slots that are already populated keep their
// implementation.
func New(cfg Config, m platform.Machine, arena *pgalloc.Arena, con console.Console, storage fs.Storage, registry *syscalls.Registry) (*Kernel, error) {
	if cfg.Quantum == 0 {
		cfg.Quantum = DefaultQuantum
	}
	if cfg.MaxTasks <= 0 {
		cfg.MaxTasks = DefaultMaxTasks
	}
	portal, err := ring0.NewPortal(arena)
	if err != nil {
		return nil, err
	}
	k := &Kernel{
		cfg:       cfg,
		machine:   m,
		arena:     arena,
		portal:    portal,
		console:   con,
		storage:   storage,
		registry:  registry,
		byPID:     make(map[TaskID]*Process),
		exitCodes: make(map[TaskID]int32),
		timeouts:  log.RateLimitedLogger(log.Log(), time.Second),
	}
	registry.InitProcess(k)
	registry.InitIO(k)
	registry.InitScheduling(k)
	registry.InitClock(k)
	registry.InitLifecycle(k)
	return k, nil
}

// Boot loads image as a new process at the end of the table.
func (k *Kernel) Boot(name string, image []byte) (*Process, error) {
	if len(k.tasks) >= k.cfg.MaxTasks {
		return nil, fmt.Errorf("booting %s: %w", name, ErrTableFull)
	}
	p, err := NewProcess(k.arena, k.portal.PPN(), image)
	if err != nil {
		return nil, fmt.Errorf("booting %s: %w", name, err)
	}
	log.Infof("load app%d (%s) to %#x", p.PID, name, p.Context.Sepc)
	k.add(p)
	return p, nil
}

func (k *Kernel) add(p *Process) {
	k.tasks = append(k.tasks, p)
	k.byPID[p.PID] = p
	k.remaining++
}

// Task returns the process with the given pid.
func (k *Kernel) Task(pid TaskID) (*Process, bool) {
	p, ok := k.byPID[pid]
	return p, ok
}

// Tasks returns the task table.
func (k *Kernel) Tasks() []*Process {
	return k.tasks
}

// Remaining returns the number of unfinished processes.
func (k *Kernel) Remaining() int {
	return k.remaining
}

// ExitCode returns the exit code of a finished, unreaped process.
func (k *Kernel) ExitCode(pid TaskID) (int32, bool) {
	code, ok := k.exitCodes[pid]
	return code, ok
}

// finish ends p with code.
func (k *Kernel) finish(p *Process, code int32) {
	p.Exit()
	k.remaining--
	// Nobody can reap p's children anymore.
	for _, child := range p.Children {
		delete(k.exitCodes, child)
	}
	p.Children = nil
	if parent, ok := k.byPID[p.Parent]; ok && parent.Finished() {
		return
	}
	k.exitCodes[p.PID] = code
}

// PanicError is returned by Run when kernel code panicked.
type PanicError struct {
	// Value is the value passed to panic.
	Value any

	// Stack is the panicking goroutine's stack.
	Stack []byte
}

// Error implements error.Error.
func (e *PanicError) Error() string {
	return fmt.Sprintf("kernel panic: %v", e.Value)
}

// Run schedules the booted processes until all have finished or ctx is
// done, then shuts the machine down. A panic in kernel code is reported on
// the console, shuts the machine down with SystemFailure and is returned as
// a *PanicError.
func (k *Kernel) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			console.Printf(k.console, "kernel panic: %v\n", r)
			log.Warningf("Kernel panic: %v\n%s", r, stack)
			k.machine.Shutdown(platform.SystemFailure)
			err = &PanicError{Value: r, Stack: stack}
		}
	}()

	for i := 0; k.remaining > 0; i = (i + 1) % len(k.tasks) {
		if err := ctx.Err(); err != nil {
			log.Infof("Stopping with %d tasks remaining: %v", k.remaining, err)
			k.machine.Shutdown(platform.NoReason)
			return err
		}
		if p := k.tasks[i]; !p.Finished() {
			k.turn(p)
		}
	}
	k.machine.Shutdown(platform.NoReason)
	return nil
}

// turn runs p until it yields, exits, faults or its quantum expires.
func (k *Kernel) turn(p *Process) {
	if !k.cfg.Cooperative {
		k.machine.SetTimer(k.machine.ReadTime() + k.cfg.Quantum)
	}
	for {
		cause := p.ResumeOnce(k.portal, k.machine)
		switch {
		case cause.IsTimer():
			k.machine.SetTimer(math.MaxUint64)
			k.timeouts.Debugf("app%d timeout", p.PID)
			return
		case cause.IsUserEcall():
			if !k.syscall(p) {
				return
			}
		default:
			log.Warningf("app%d was killed by %v (stval %#x, %v)", p.PID, cause, cause.Value, &p.Context)
			k.finish(p, ExitKilled)
			return
		}
	}
}

// syscall serves the ecall p trapped with. It returns true if p should be
// resumed within the same turn.
func (k *Kernel) syscall(p *Process) bool {
	c := &p.Context
	c.MoveNext()
	sysno := linux.Sysno(c.A(7))
	var args [6]uint64
	for i := range args {
		args[i] = c.A(i)
	}
	caller := syscalls.Caller{Entity: uint64(p.PID), Flow: uint64(p.PID)}
	ret, err := k.registry.Handle(caller, sysno, args)
	if err != nil {
		log.Warningf("app%d call an unsupported syscall %d: %v", p.PID, uint64(sysno), err)
		k.finish(p, ExitKilled)
		return false
	}
	switch sysno {
	case linux.SYS_EXIT:
		log.Infof("app%d exit with code %d", p.PID, ret)
		k.finish(p, int32(ret))
		return false
	case linux.SYS_SCHED_YIELD:
		c.SetA(0, uint64(ret))
		log.Debugf("app%d yield", p.PID)
		return false
	default:
		c.SetA(0, uint64(ret))
		return true
	}
}

// Release frees every remaining address space and the portal. The kernel
// must not be used afterwards.
func (k *Kernel) Release() {
	for _, p := range k.tasks {
		p.Exit()
	}
	k.portal.Release()
}
