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

// Package syscalls is the interface from user programs to the kernel.
//
// A Registry routes each syscall number to one of a small set of capability
// slots. A slot holds the implementation of one family of services and is
// installed at most once: the first installation wins and later attempts are
// ignored, so a capability cannot be swapped out from under running tasks.
package syscalls

import (
	"fmt"
	"sync/atomic"

	"rvkernel.dev/rvkernel/pkg/abi/linux"
	"rvkernel.dev/rvkernel/pkg/hostarch"
)

// Caller identifies the task issuing a syscall.
type Caller struct {
	// Entity is the process id.
	Entity uint64

	// Flow is the thread id. It equals Entity for single-threaded tasks.
	Flow uint64
}

// Process implements process termination.
type Process interface {
	// Exit terminates the caller and returns the status to report.
	Exit(c Caller, status int32) int64
}

// IO implements console output.
type IO interface {
	// Write writes n bytes at buf to descriptor fd.
	Write(c Caller, fd int32, buf hostarch.Addr, n uint64) int64
}

// Scheduling implements voluntary yielding.
type Scheduling interface {
	// SchedYield gives up the rest of the caller's turn.
	SchedYield(c Caller) int64
}

// Clock implements time queries.
type Clock interface {
	// ClockGettime writes the time of clock to tp.
	ClockGettime(c Caller, clock int32, tp hostarch.Addr) int64
}

// Lifecycle implements process creation and reaping.
type Lifecycle interface {
	// Getpid returns the caller's pid.
	Getpid(c Caller) int64

	// Fork duplicates the caller. The parent receives the child's pid.
	Fork(c Caller) int64

	// Exec replaces the caller's image with the program at the path of
	// length n at path.
	Exec(c Caller, path hostarch.Addr, n uint64) int64

	// Wait4 reaps an exited child.
	Wait4(c Caller, pid int64, status hostarch.Addr) int64
}

// Slot names a capability slot.
type Slot int

// Capability slots.
const (
	SlotProcess Slot = iota
	SlotIO
	SlotScheduling
	SlotClock
	SlotLifecycle
)

// String implements fmt.Stringer.String.
func (s Slot) String() string {
	switch s {
	case SlotProcess:
		return "process"
	case SlotIO:
		return "io"
	case SlotScheduling:
		return "scheduling"
	case SlotClock:
		return "clock"
	case SlotLifecycle:
		return "lifecycle"
	default:
		return fmt.Sprintf("Slot(%d)", int(s))
	}
}

// slots maps each syscall number to the slot that serves it.
var slots = map[linux.Sysno]Slot{
	linux.SYS_EXIT:          SlotProcess,
	linux.SYS_WRITE:         SlotIO,
	linux.SYS_SCHED_YIELD:   SlotScheduling,
	linux.SYS_CLOCK_GETTIME: SlotClock,
	linux.SYS_GETPID:        SlotLifecycle,
	linux.SYS_CLONE:         SlotLifecycle,
	linux.SYS_EXECVE:        SlotLifecycle,
	linux.SYS_WAIT4:         SlotLifecycle,
}

// UnsupportedError is returned by Handle for syscalls that have no
// implementation.
type UnsupportedError struct {
	// Sysno is the requested syscall number.
	Sysno linux.Sysno

	// Slot is the slot that would serve Sysno, if it is known.
	Slot Slot

	// Known is false for numbers outside the ABI.
	Known bool
}

// Error implements error.Error.
func (e *UnsupportedError) Error() string {
	if !e.Known {
		return fmt.Sprintf("unsupported syscall %d", uint64(e.Sysno))
	}
	return fmt.Sprintf("syscall %s (%d): no %s capability installed", e.Sysno, uint64(e.Sysno), e.Slot)
}

// Registry holds the capability slots.
//
// All methods are safe for concurrent use.
type Registry struct {
	process    atomic.Pointer[Process]
	io         atomic.Pointer[IO]
	scheduling atomic.Pointer[Scheduling]
	clock      atomic.Pointer[Clock]
	lifecycle  atomic.Pointer[Lifecycle]
}

// NewRegistry returns a registry with every slot empty.
func NewRegistry() *Registry {
	return &Registry{}
}

// install stores v in p unless p is already set. It reports whether v was
// installed.
func install[T any](p *atomic.Pointer[T], v T) bool {
	return p.CompareAndSwap(nil, &v)
}

// InitProcess installs the Process capability.
func (r *Registry) InitProcess(v Process) bool { return install(&r.process, v) }

// InitIO installs the IO capability.
func (r *Registry) InitIO(v IO) bool { return install(&r.io, v) }

// InitScheduling installs the Scheduling capability.
func (r *Registry) InitScheduling(v Scheduling) bool { return install(&r.scheduling, v) }

// InitClock installs the Clock capability.
func (r *Registry) InitClock(v Clock) bool { return install(&r.clock, v) }

// InitLifecycle installs the Lifecycle capability.
func (r *Registry) InitLifecycle(v Lifecycle) bool { return install(&r.lifecycle, v) }

// Installed reports whether slot s is populated.
func (r *Registry) Installed(s Slot) bool {
	switch s {
	case SlotProcess:
		return r.process.Load() != nil
	case SlotIO:
		return r.io.Load() != nil
	case SlotScheduling:
		return r.scheduling.Load() != nil
	case SlotClock:
		return r.clock.Load() != nil
	case SlotLifecycle:
		return r.lifecycle.Load() != nil
	}
	return false
}

// Handle dispatches syscall sysno with args on behalf of c. It returns the
// value for a0, or an *UnsupportedError if sysno is unknown or its slot is
// empty.
func (r *Registry) Handle(c Caller, sysno linux.Sysno, args [6]uint64) (int64, error) {
	slot, ok := slots[sysno]
	if !ok {
		return 0, &UnsupportedError{Sysno: sysno}
	}
	switch sysno {
	case linux.SYS_EXIT:
		if p := r.process.Load(); p != nil {
			return (*p).Exit(c, int32(args[0])), nil
		}
	case linux.SYS_WRITE:
		if p := r.io.Load(); p != nil {
			return (*p).Write(c, int32(args[0]), hostarch.Addr(args[1]), args[2]), nil
		}
	case linux.SYS_SCHED_YIELD:
		if p := r.scheduling.Load(); p != nil {
			return (*p).SchedYield(c), nil
		}
	case linux.SYS_CLOCK_GETTIME:
		if p := r.clock.Load(); p != nil {
			return (*p).ClockGettime(c, int32(args[0]), hostarch.Addr(args[1])), nil
		}
	case linux.SYS_GETPID:
		if p := r.lifecycle.Load(); p != nil {
			return (*p).Getpid(c), nil
		}
	case linux.SYS_CLONE:
		if p := r.lifecycle.Load(); p != nil {
			return (*p).Fork(c), nil
		}
	case linux.SYS_EXECVE:
		if p := r.lifecycle.Load(); p != nil {
			return (*p).Exec(c, hostarch.Addr(args[0]), args[1]), nil
		}
	case linux.SYS_WAIT4:
		if p := r.lifecycle.Load(); p != nil {
			return (*p).Wait4(c, int64(args[0]), hostarch.Addr(args[1])), nil
		}
	}
	return 0, &UnsupportedError{Sysno: sysno, Slot: slot, Known: true}
}

// Entry describes how one syscall is served.
type Entry struct {
	Sysno     linux.Sysno
	Slot      Slot
	Installed bool
}

// Table returns an entry for every syscall in the ABI.
func (r *Registry) Table() []Entry {
	var out []Entry
	for _, s := range linux.Sysnos() {
		slot := slots[s]
		out = append(out, Entry{Sysno: s, Slot: slot, Installed: r.Installed(slot)})
	}
	return out
}

// Default is the process-wide registry.
var Default = NewRegistry()

// InitProcess installs the Process capability in Default.
func InitProcess(v Process) bool { return Default.InitProcess(v) }

// InitIO installs the IO capability in Default.
func InitIO(v IO) bool { return Default.InitIO(v) }

// InitScheduling installs the Scheduling capability in Default.
func InitScheduling(v Scheduling) bool { return Default.InitScheduling(v) }

// InitClock installs the Clock capability in Default.
func InitClock(v Clock) bool { return Default.InitClock(v) }

// InitLifecycle installs the Lifecycle capability in Default.
func InitLifecycle(v Lifecycle) bool { return Default.InitLifecycle(v) }
