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

// Package pagetables builds Sv39 page tables in arena pages.
//
// Page-table nodes live in physical pages handed out by an Allocator and are
// only reached through the page's byte slice, so every entry access is bounds
// checked. Only 4K leaves are created.
package pagetables

import (
	"encoding/binary"
	"fmt"

	"rvkernel.dev/rvkernel/pkg/hostarch"
)

// Allocator provides page-table nodes.
type Allocator interface {
	// NewPTEs returns a zeroed page for a new table node.
	NewPTEs() (hostarch.PPN, error)

	// LookupPTEs returns the bytes of a table node.
	LookupPTEs(ppn hostarch.PPN) []byte

	// FreePTEs returns a table node to the allocator.
	FreePTEs(ppn hostarch.PPN)
}

// PTEs is a view of one table node.
type PTEs []byte

// Get returns entry i.
func (p PTEs) Get(i int) hostarch.PTE {
	return hostarch.PTE(binary.LittleEndian.Uint64(p[i*hostarch.PTESize:]))
}

// Set writes entry i.
func (p PTEs) Set(i int, pte hostarch.PTE) {
	binary.LittleEndian.PutUint64(p[i*hostarch.PTESize:], uint64(pte))
}

// PageTables is a three-level Sv39 page table.
type PageTables struct {
	// Allocator is used to allocate and free nodes.
	Allocator Allocator

	// root is the root node.
	root hostarch.PPN

	// nodes counts live nodes, the root included.
	nodes int
}

// New returns a new page table with an empty root.
func New(a Allocator) (*PageTables, error) {
	root, err := a.NewPTEs()
	if err != nil {
		return nil, err
	}
	return &PageTables{Allocator: a, root: root, nodes: 1}, nil
}

// Root returns the root node's page.
func (p *PageTables) Root() hostarch.PPN {
	return p.root
}

// Nodes returns the number of table nodes, the root included.
func (p *PageTables) Nodes() int {
	return p.nodes
}

// visitor is called for every leaf slot in a walked range.
type visitor interface {
	// visit is called for the leaf slot of vpn. Returning false stops the
	// walk.
	visit(vpn hostarch.VPN, entries PTEs, index int) bool

	// requiresAlloc indicates that missing intermediate nodes must be
	// allocated. If false, pages without a leaf slot are skipped.
	requiresAlloc() bool
}

// walker walks a range of virtual pages.
type walker struct {
	pageTables *PageTables
	visitor    visitor
}

// iterateRange walks [start, end). It returns an error only if a node
// allocation failed.
func (w *walker) iterateRange(start, end hostarch.VPN) error {
	for vpn := start; vpn < end; {
		entries := PTEs(w.pageTables.Allocator.LookupPTEs(w.pageTables.root))
		skip := hostarch.VPN(0)
		for level := hostarch.Levels - 1; level > 0; level-- {
			i := vpn.Index(level)
			pte := entries.Get(i)
			if !pte.Valid() {
				if !w.visitor.requiresAlloc() {
					// Skip everything this missing node would cover.
					skip = hostarch.VPN(1) << (9 * level)
					break
				}
				next, err := w.pageTables.Allocator.NewPTEs()
				if err != nil {
					return err
				}
				w.pageTables.nodes++
				pte = hostarch.MakePTE(next, hostarch.Valid)
				entries.Set(i, pte)
			} else if pte.Flags().Leaf() {
				panic(fmt.Sprintf("unexpected superpage at level %d for vpn %#x", level, uint64(vpn)))
			}
			entries = PTEs(w.pageTables.Allocator.LookupPTEs(pte.PPN()))
		}
		if skip != 0 {
			vpn = (vpn &^ (skip - 1)) + skip
			continue
		}
		if !w.visitor.visit(vpn, entries, vpn.Index(0)) {
			return nil
		}
		vpn++
	}
	return nil
}

type mapVisitor struct {
	ppn   hostarch.PPN
	base  hostarch.VPN
	flags hostarch.PTEFlags
}

func (v *mapVisitor) visit(vpn hostarch.VPN, entries PTEs, i int) bool {
	if old := entries.Get(i); old.Valid() {
		panic(fmt.Sprintf("remap of vpn %#x (old %v)", uint64(vpn), old))
	}
	entries.Set(i, hostarch.MakePTE(v.ppn+hostarch.PPN(vpn-v.base), v.flags))
	return true
}

func (*mapVisitor) requiresAlloc() bool { return true }

// Map installs leaves mapping r onto the physical pages starting at ppn.
// Remapping a valid leaf is a kernel bug and panics. flags must describe a
// valid leaf.
func (p *PageTables) Map(r hostarch.VPNRange, ppn hostarch.PPN, flags hostarch.PTEFlags) error {
	if !flags.Leaf() || flags&hostarch.Valid == 0 {
		panic(fmt.Sprintf("invalid leaf flags %s", flags))
	}
	w := walker{
		pageTables: p,
		visitor:    &mapVisitor{ppn: ppn, base: r.Start, flags: flags},
	}
	return w.iterateRange(r.Start, r.End)
}

type unmapVisitor struct {
	count int
}

func (v *unmapVisitor) visit(_ hostarch.VPN, entries PTEs, i int) bool {
	if entries.Get(i).Valid() {
		entries.Set(i, 0)
		v.count++
	}
	return true
}

func (*unmapVisitor) requiresAlloc() bool { return false }

// Unmap clears every leaf in r and returns how many were present.
// Intermediate nodes are kept until Release.
func (p *PageTables) Unmap(r hostarch.VPNRange) int {
	v := unmapVisitor{}
	w := walker{pageTables: p, visitor: &v}
	w.iterateRange(r.Start, r.End)
	return v.count
}

type lookupVisitor struct {
	pte hostarch.PTE
}

func (v *lookupVisitor) visit(_ hostarch.VPN, entries PTEs, i int) bool {
	v.pte = entries.Get(i)
	return false
}

func (*lookupVisitor) requiresAlloc() bool { return false }

// Lookup returns the leaf entry for vpn, if one is valid.
func (p *PageTables) Lookup(vpn hostarch.VPN) (hostarch.PTE, bool) {
	v := lookupVisitor{}
	w := walker{pageTables: p, visitor: &v}
	w.iterateRange(vpn, vpn+1)
	return v.pte, v.pte.Valid()
}

// Leaf is one valid leaf found by Walk.
type Leaf struct {
	VPN hostarch.VPN
	PTE hostarch.PTE
}

// Walk calls fn for every valid leaf in ascending VPN order. Returning false
// from fn stops the walk.
func (p *PageTables) Walk(fn func(Leaf) bool) {
	p.walkNode(p.root, hostarch.Levels-1, 0, fn)
}

func (p *PageTables) walkNode(node hostarch.PPN, level int, prefix hostarch.VPN, fn func(Leaf) bool) bool {
	entries := PTEs(p.Allocator.LookupPTEs(node))
	for i := 0; i < hostarch.EntriesPerTable; i++ {
		pte := entries.Get(i)
		if !pte.Valid() {
			continue
		}
		vpn := prefix | hostarch.VPN(i)<<(9*level)
		if level == 0 {
			if !fn(Leaf{VPN: vpn, PTE: pte}) {
				return false
			}
			continue
		}
		if !p.walkNode(pte.PPN(), level-1, vpn, fn) {
			return false
		}
	}
	return true
}

// Release frees every table node, the root included. Leaf pages belong to
// the caller and are not freed. The page table must not be used afterwards.
func (p *PageTables) Release() {
	p.releaseNode(p.root, hostarch.Levels-1)
	p.nodes = 0
}

func (p *PageTables) releaseNode(node hostarch.PPN, level int) {
	if level > 0 {
		entries := PTEs(p.Allocator.LookupPTEs(node))
		for i := 0; i < hostarch.EntriesPerTable; i++ {
			if pte := entries.Get(i); pte.Valid() {
				p.releaseNode(pte.PPN(), level-1)
			}
		}
	}
	p.Allocator.FreePTEs(node)
}
