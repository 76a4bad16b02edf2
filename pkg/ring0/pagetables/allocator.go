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

package pagetables

import (
	"rvkernel.dev/rvkernel/pkg/hostarch"
	"rvkernel.dev/rvkernel/pkg/sentry/pgalloc"
)

// ArenaAllocator allocates table nodes from a physical page arena.
type ArenaAllocator struct {
	Arena *pgalloc.Arena
}

// NewArenaAllocator returns an allocator backed by a.
func NewArenaAllocator(a *pgalloc.Arena) *ArenaAllocator {
	return &ArenaAllocator{Arena: a}
}

// NewPTEs implements Allocator.NewPTEs.
func (a *ArenaAllocator) NewPTEs() (hostarch.PPN, error) {
	return a.Arena.Allocate()
}

// LookupPTEs implements Allocator.LookupPTEs.
func (a *ArenaAllocator) LookupPTEs(ppn hostarch.PPN) []byte {
	return a.Arena.Page(ppn)
}

// FreePTEs implements Allocator.FreePTEs.
func (a *ArenaAllocator) FreePTEs(ppn hostarch.PPN) {
	a.Arena.Free(ppn)
}
