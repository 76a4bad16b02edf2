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

package kernel

import (
	"encoding/binary"

	"rvkernel.dev/rvkernel/pkg/abi/linux"
	"rvkernel.dev/rvkernel/pkg/hostarch"
	"rvkernel.dev/rvkernel/pkg/log"
	"rvkernel.dev/rvkernel/pkg/sentry/fs"
	"rvkernel.dev/rvkernel/pkg/sentry/platform"
	"rvkernel.dev/rvkernel/pkg/sentry/syscalls"
)

// maxPathLen bounds exec paths.
const maxPathLen = 256

// writeChunk is the unit WRITE copies user buffers in.
const writeChunk = 256

func (k *Kernel) caller(c syscalls.Caller) *Process {
	p, ok := k.byPID[TaskID(c.Entity)]
	if !ok || p.Finished() {
		panic("syscall from unknown or finished task " + TaskID(c.Entity).String())
	}
	return p
}

// Exit implements syscalls.Process.Exit. The scheduler finishes the caller
// with the returned code.
func (k *Kernel) Exit(_ syscalls.Caller, status int32) int64 {
	return int64(status)
}

// Write implements syscalls.IO.Write.
func (k *Kernel) Write(c syscalls.Caller, fd int32, buf hostarch.Addr, n uint64) int64 {
	p := k.caller(c)
	if fd != linux.FDConsole {
		log.Warningf("app%d: unsupported fd: %d", p.PID, fd)
		return -1
	}
	end := buf + hostarch.Addr(n)
	if end < buf {
		return -1
	}
	// Check the whole range first so a bad buffer prints nothing.
	as := p.MemoryManager()
	for va := buf.RoundDown(); va < end; va += hostarch.PageSize {
		if _, err := as.Translate(va, platform.Load); err != nil {
			log.Debugf("app%d: write from bad buffer: %v", p.PID, err)
			return -1
		}
	}
	var chunk [writeChunk]byte
	for off := uint64(0); off < n; {
		m := min(n-off, writeChunk)
		if _, err := as.CopyIn(buf+hostarch.Addr(off), chunk[:m]); err != nil {
			return -1
		}
		for _, b := range chunk[:m] {
			k.console.PutChar(b)
		}
		off += m
	}
	return int64(n)
}

// SchedYield implements syscalls.Scheduling.SchedYield.
func (k *Kernel) SchedYield(syscalls.Caller) int64 {
	return 0
}

// ClockGettime implements syscalls.Clock.ClockGettime.
func (k *Kernel) ClockGettime(c syscalls.Caller, clock int32, tp hostarch.Addr) int64 {
	p := k.caller(c)
	if clock != linux.CLOCK_MONOTONIC {
		return -1
	}
	ts := linux.TicksToTimespec(k.machine.ReadTime())
	var b [linux.SizeOfTimespec]byte
	ts.MarshalBytes(b[:])
	if _, err := p.MemoryManager().CopyOut(tp, b[:]); err != nil {
		log.Debugf("app%d: clock_gettime to bad address: %v", p.PID, err)
		return -1
	}
	return 0
}

// Getpid implements syscalls.Lifecycle.Getpid.
func (k *Kernel) Getpid(c syscalls.Caller) int64 {
	return int64(k.caller(c).PID)
}

// Fork implements syscalls.Lifecycle.Fork. The child starts after the
// fork with a0 = 0 and runs after every task already in the table.
func (k *Kernel) Fork(c syscalls.Caller) int64 {
	p := k.caller(c)
	if len(k.tasks) >= k.cfg.MaxTasks {
		log.Warningf("app%d: fork: %v", p.PID, ErrTableFull)
		return -1
	}
	child, err := p.Fork()
	if err != nil {
		log.Warningf("app%d: fork: %v", p.PID, err)
		return -1
	}
	child.Context.SetA(0, 0)
	k.add(child)
	log.Debugf("app%d forked app%d", p.PID, child.PID)
	return int64(child.PID)
}

// Exec implements syscalls.Lifecycle.Exec.
func (k *Kernel) Exec(c syscalls.Caller, path hostarch.Addr, n uint64) int64 {
	p := k.caller(c)
	if n == 0 || n > maxPathLen {
		return -1
	}
	name := make([]byte, n)
	if _, err := p.MemoryManager().CopyIn(path, name); err != nil {
		return -1
	}
	if k.storage == nil {
		log.Warningf("app%d: exec %q: no storage", p.PID, name)
		return -1
	}
	h, err := k.storage.Open(string(name), fs.RDONLY)
	if err != nil {
		log.Warningf("app%d: exec %q: %v", p.PID, name, err)
		return -1
	}
	image, err := fs.ReadAll(h)
	if err != nil {
		log.Warningf("app%d: exec %q: %v", p.PID, name, err)
		return -1
	}
	if err := p.Exec(image); err != nil {
		log.Warningf("app%d: exec %q: %v", p.PID, name, err)
		return -1
	}
	log.Debugf("app%d exec %q at %#x", p.PID, name, p.Context.Sepc)
	return 0
}

// Wait4 implements syscalls.Lifecycle.Wait4.
func (k *Kernel) Wait4(c syscalls.Caller, pid int64, status hostarch.Addr) int64 {
	p := k.caller(c)
	found := false
	for _, child := range p.Children {
		if pid != linux.WaitAny && TaskID(pid) != child {
			continue
		}
		found = true
		code, ok := k.exitCodes[child]
		if !ok {
			continue
		}
		if status != 0 {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], uint32(code))
			if _, err := p.MemoryManager().CopyOut(status, b[:]); err != nil {
				return -1
			}
		}
		p.removeChild(child)
		delete(k.exitCodes, child)
		return int64(child)
	}
	if found {
		return linux.WaitStillRunning
	}
	return -1
}

var (
	_ syscalls.Process    = (*Kernel)(nil)
	_ syscalls.IO         = (*Kernel)(nil)
	_ syscalls.Scheduling = (*Kernel)(nil)
	_ syscalls.Clock      = (*Kernel)(nil)
	_ syscalls.Lifecycle  = (*Kernel)(nil)
)
