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
	"fmt"
	"math"
	"sync/atomic"

	"rvkernel.dev/rvkernel/pkg/hostarch"
	"rvkernel.dev/rvkernel/pkg/ring0"
	"rvkernel.dev/rvkernel/pkg/sentry/loader"
	"rvkernel.dev/rvkernel/pkg/sentry/mm"
	"rvkernel.dev/rvkernel/pkg/sentry/pgalloc"
	"rvkernel.dev/rvkernel/pkg/sentry/platform"
)

// TaskID identifies a process. It doubles as the thread id of the process's
// only thread.
type TaskID uint64

// NoParent is the parent of processes created at boot.
const NoParent TaskID = math.MaxUint64

// lastTaskID is the next TaskID to hand out.
var lastTaskID atomic.Uint64

// NextTaskID returns a fresh TaskID. IDs start at 0 and are never reused.
func NextTaskID() TaskID {
	return TaskID(lastTaskID.Add(1) - 1)
}

// String implements fmt.Stringer.String.
func (id TaskID) String() string {
	if id == NoParent {
		return "none"
	}
	return fmt.Sprintf("%d", uint64(id))
}

// Process is a process control block.
type Process struct {
	// PID is immutable.
	PID TaskID

	// Parent is the pid of the forking process, or NoParent.
	Parent TaskID

	// Children are the pids of forked children, oldest first, until they
	// are reaped or p finishes.
	Children []TaskID

	// Context is the saved user context.
	Context ring0.ForeignContext

	mm       *mm.AddressSpace
	finished bool
}

// NewProcess loads image into a fresh address space whose trampoline maps
// portal.
func NewProcess(arena *pgalloc.Arena, portal hostarch.PPN, image []byte) (*Process, error) {
	as, err := mm.New(arena, portal)
	if err != nil {
		return nil, err
	}
	entry, err := loader.Load(as, image)
	if err != nil {
		return nil, err
	}
	return &Process{
		PID:     NextTaskID(),
		Parent:  NoParent,
		Context: ring0.NewUser(uint64(entry), as.RootSelector()),
		mm:      as,
	}, nil
}

// MemoryManager returns the process's address space, or nil once it has
// exited.
func (p *Process) MemoryManager() *mm.AddressSpace {
	return p.mm
}

// Finished returns whether the process has exited.
func (p *Process) Finished() bool {
	return p.finished
}

// Fork returns a child with a copy of p's address space and context. The
// child is recorded in p.Children.
func (p *Process) Fork() (*Process, error) {
	as, err := mm.New(p.mm.Arena(), p.mm.Portal())
	if err != nil {
		return nil, err
	}
	if err := p.mm.CloneInto(as); err != nil {
		as.Release()
		return nil, fmt.Errorf("cloning address space: %w", err)
	}
	child := &Process{
		PID:     NextTaskID(),
		Parent:  p.PID,
		Context: p.Context,
		mm:      as,
	}
	child.Context.Satp = as.RootSelector()
	p.Children = append(p.Children, child.PID)
	return child, nil
}

// Exec replaces p's image. On failure p is unchanged.
func (p *Process) Exec(image []byte) error {
	as, err := mm.New(p.mm.Arena(), p.mm.Portal())
	if err != nil {
		return err
	}
	entry, err := loader.Load(as, image)
	if err != nil {
		return err
	}
	old := p.mm
	p.mm = as
	p.Context = ring0.NewUser(uint64(entry), as.RootSelector())
	old.Release()
	return nil
}

// Exit marks p finished and releases its address space.
func (p *Process) Exit() {
	if p.finished {
		return
	}
	p.finished = true
	p.mm.Release()
	p.mm = nil
}

// ResumeOnce runs p until the next trap.
func (p *Process) ResumeOnce(portal *ring0.Portal, h platform.Hart) ring0.Cause {
	return portal.Enter(h, &p.Context)
}

// removeChild drops pid from p.Children.
func (p *Process) removeChild(pid TaskID) {
	for i, c := range p.Children {
		if c == pid {
			p.Children = append(p.Children[:i], p.Children[i+1:]...)
			return
		}
	}
}
