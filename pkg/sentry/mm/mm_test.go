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

package mm

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"rvkernel.dev/rvkernel/pkg/hostarch"
	"rvkernel.dev/rvkernel/pkg/sentry/pgalloc"
	"rvkernel.dev/rvkernel/pkg/sentry/platform"
	"rvkernel.dev/rvkernel/pkg/sentry/platform/emu"
)

var userRW = hostarch.MustParseFlags("U_WRV")

func newArena(t *testing.T, pages int) (*pgalloc.Arena, hostarch.PPN) {
	t.Helper()
	arena, err := pgalloc.New(pages)
	if err != nil {
		t.Fatalf("pgalloc.New failed: %v", err)
	}
	t.Cleanup(func() { arena.Close() })
	portal, err := arena.Allocate()
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	return arena, portal
}

func newSpace(t *testing.T, arena *pgalloc.Arena, portal hostarch.PPN) *AddressSpace {
	t.Helper()
	as, err := New(arena, portal)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return as
}

func pages(start, end uint64) hostarch.VPNRange {
	return hostarch.VPNRange{Start: hostarch.VPN(start), End: hostarch.VPN(end)}
}

func TestTrampolineSharedByEverySpace(t *testing.T) {
	arena, portal := newArena(t, 64)
	hart := emu.New(arena, nil)
	for i := 0; i < 3; i++ {
		as := newSpace(t, arena, portal)
		hart.SetSatp(as.RootSelector())
		pa, ok := hart.Translate(hostarch.TrampolineAddr, platform.Fetch, platform.SupervisorMode)
		if !ok || pa != portal.Addr() {
			t.Errorf("space %d: trampoline translates to (%#x, %t), want (%#x, true)", i, pa, ok, portal.Addr())
		}
		if _, ok := hart.Translate(hostarch.TrampolineAddr, platform.Load, platform.UserMode); ok {
			t.Errorf("space %d: trampoline is user accessible", i)
		}
		as.Release()
	}
	if got := arena.Used(); got != 1 {
		t.Errorf("Used after release = %d, want 1", got)
	}
}

func TestMapPlacesData(t *testing.T) {
	arena, portal := newArena(t, 64)
	as := newSpace(t, arena, portal)
	defer as.Release()

	data := bytes.Repeat([]byte{0xab}, hostarch.PageSize)
	if err := as.Map(pages(0x10, 0x12), data, 0x800, userRW); err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	got := make([]byte, 2*hostarch.PageSize)
	if _, err := as.CopyIn(hostarch.VPN(0x10).Addr(), got); err != nil {
		t.Fatalf("CopyIn failed: %v", err)
	}
	want := make([]byte, 2*hostarch.PageSize)
	copy(want[0x800:], data)
	if !bytes.Equal(got, want) {
		t.Errorf("mapped contents differ from data at offset 0x800")
	}
}

func TestMapErrors(t *testing.T) {
	arena, portal := newArena(t, 64)
	as := newSpace(t, arena, portal)
	defer as.Release()
	if err := as.Map(pages(0x10, 0x14), nil, 0, userRW); err != nil {
		t.Fatalf("Map failed: %v", err)
	}

	for _, tc := range []struct {
		name   string
		r      hostarch.VPNRange
		data   []byte
		offset uint64
		want   error
	}{
		{name: "overlap start", r: pages(0x13, 0x15), want: ErrOverlap},
		{name: "overlap end", r: pages(0xf, 0x11), want: ErrOverlap},
		{name: "contained", r: pages(0x11, 0x12), want: ErrOverlap},
		{name: "covering", r: pages(0x8, 0x20), want: ErrOverlap},
		{name: "trampoline", r: pages(uint64(hostarch.TrampolineVPN)-1, uint64(hostarch.TrampolineVPN)+1), want: ErrOverlap},
		{name: "empty", r: pages(0x20, 0x20), want: ErrInvalidRange},
		{name: "beyond", r: pages(1<<27, 1<<27+1), want: ErrInvalidRange},
		{name: "overflow", r: pages(0x20, 0x21), data: make([]byte, 16), offset: hostarch.PageSize - 8, want: ErrOverflow},
	} {
		t.Run(tc.name, func(t *testing.T) {
			used := arena.Used()
			if err := as.Map(tc.r, tc.data, tc.offset, userRW); !errors.Is(err, tc.want) {
				t.Errorf("Map(%v) = %v, want %v", tc.r, err, tc.want)
			}
			if got := arena.Used(); got != used {
				t.Errorf("Used = %d after failed Map, want %d", got, used)
			}
		})
	}
	if got := len(as.Areas()); got != 1 {
		t.Errorf("len(Areas) = %d, want 1", got)
	}
}

func TestMapOutOfMemoryLeavesNothing(t *testing.T) {
	arena, portal := newArena(t, 16)
	as := newSpace(t, arena, portal)
	defer as.Release()
	// Populate the leaf table covering pages 0x10..0x1ff so the failing Map
	// needs no new table nodes.
	if err := as.Map(pages(0x10, 0x11), nil, 0, userRW); err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	used := arena.Used()
	free := uint64(arena.Pages() - used)
	r := pages(0x20, 0x20+free+1)
	if err := as.Map(r, nil, 0, userRW); !errors.Is(err, pgalloc.ErrOutOfMemory) {
		t.Fatalf("Map = %v, want ErrOutOfMemory", err)
	}
	if got := arena.Used(); got != used {
		t.Errorf("Used = %d, want %d", got, used)
	}
	if _, err := as.Translate(hostarch.VPN(0x20).Addr(), platform.Load); err == nil {
		t.Errorf("page 0x20 is mapped after a failed Map")
	}
}

func TestMapExtern(t *testing.T) {
	arena, portal := newArena(t, 64)
	as := newSpace(t, arena, portal)
	base, err := arena.AllocateContiguous(2)
	if err != nil {
		t.Fatalf("AllocateContiguous failed: %v", err)
	}
	copy(arena.Page(base+1), "extern")
	if err := as.MapExtern(pages(0x30, 0x32), base, userRW); err != nil {
		t.Fatalf("MapExtern failed: %v", err)
	}
	got := make([]byte, 6)
	if _, err := as.CopyIn(hostarch.VPN(0x31).Addr(), got); err != nil {
		t.Fatalf("CopyIn failed: %v", err)
	}
	if string(got) != "extern" {
		t.Errorf("CopyIn = %q, want %q", got, "extern")
	}
	as.Release()
	if arena.Allocated(base) || arena.Allocated(base+1) {
		t.Errorf("extern pages not freed by Release")
	}
}

func TestCloneInto(t *testing.T) {
	arena, portal := newArena(t, 64)
	parent := newSpace(t, arena, portal)
	defer parent.Release()
	if err := parent.Map(pages(0x10, 0x12), []byte("text"), 0, hostarch.MustParseFlags("UX_RV")); err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	if err := parent.Map(hostarch.UserStack, nil, 0, hostarch.UserStackFlags); err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	sp := hostarch.UserStackTop - 8
	if _, err := parent.CopyOut(sp, []byte("parent!!")); err != nil {
		t.Fatalf("CopyOut failed: %v", err)
	}

	child := newSpace(t, arena, portal)
	defer child.Release()
	if err := parent.CloneInto(child); err != nil {
		t.Fatalf("CloneInto failed: %v", err)
	}

	type shape struct {
		VPNs  hostarch.VPNRange
		Flags hostarch.PTEFlags
	}
	shapes := func(as *AddressSpace) []shape {
		var out []shape
		for _, a := range as.Areas() {
			out = append(out, shape{a.VPNs, a.Flags})
		}
		return out
	}
	if diff := cmp.Diff(shapes(parent), shapes(child)); diff != "" {
		t.Errorf("child areas mismatch (-parent +child):\n%s", diff)
	}
	for i, pa := range parent.Areas() {
		ca := child.Areas()[i]
		for j := range pa.Pages {
			if pa.Pages[j] == ca.Pages[j] {
				t.Errorf("area %v page %d shared between parent and child", pa.VPNs, j)
			}
			if !bytes.Equal(arena.Page(pa.Pages[j]), arena.Page(ca.Pages[j])) {
				t.Errorf("area %v page %d contents differ", pa.VPNs, j)
			}
		}
	}

	if _, err := child.CopyOut(sp, []byte("child!!!")); err != nil {
		t.Fatalf("CopyOut failed: %v", err)
	}
	got := make([]byte, 8)
	parent.CopyIn(sp, got)
	if string(got) != "parent!!" {
		t.Errorf("parent stack = %q after child write, want %q", got, "parent!!")
	}
	if child.Portal() != portal {
		t.Errorf("child portal = %#x, want %#x", uint64(child.Portal()), uint64(portal))
	}
}

func TestCopyFaults(t *testing.T) {
	arena, portal := newArena(t, 64)
	as := newSpace(t, arena, portal)
	defer as.Release()
	if err := as.Map(pages(0x10, 0x11), []byte("ro"), 0, hostarch.MustParseFlags("U__RV")); err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	if err := as.Map(pages(0x11, 0x12), nil, 0, userRW); err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	if err := as.Map(pages(0x12, 0x13), nil, 0, hostarch.MustParseFlags("WRV")); err != nil {
		t.Fatalf("Map failed: %v", err)
	}

	var segv platform.SegmentationFault
	// Crossing from the writable page into the kernel-only page.
	end := hostarch.VPN(0x12).Addr()
	n, err := as.CopyOut(end-4, make([]byte, 8))
	if !errors.As(err, &segv) || segv.Addr != end || n != 4 {
		t.Errorf("CopyOut across boundary = (%d, %v), want (4, fault at %v)", n, err, end)
	}
	if _, err := as.CopyOut(hostarch.VPN(0x10).Addr(), []byte("x")); !errors.As(err, &segv) {
		t.Errorf("CopyOut to read-only page = %v, want SegmentationFault", err)
	}
	if _, err := as.CopyIn(hostarch.TrampolineAddr, make([]byte, 1)); !errors.As(err, &segv) {
		t.Errorf("CopyIn from trampoline = %v, want SegmentationFault", err)
	}
	if _, err := as.CopyIn(0x1000_0000_0000, make([]byte, 1)); !errors.As(err, &segv) {
		t.Errorf("CopyIn from non-canonical address = %v, want SegmentationFault", err)
	}
	buf := make([]byte, 2)
	if _, err := as.CopyIn(hostarch.VPN(0x10).Addr(), buf); err != nil || string(buf) != "ro" {
		t.Errorf("CopyIn = (%q, %v), want (\"ro\", nil)", buf, err)
	}
}

func TestRelease(t *testing.T) {
	arena, portal := newArena(t, 64)
	as := newSpace(t, arena, portal)
	if err := as.Map(pages(0x10, 0x18), nil, 0, userRW); err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	if err := as.Map(hostarch.UserStack, nil, 0, hostarch.UserStackFlags); err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	as.Release()
	if got := arena.Used(); got != 1 {
		t.Errorf("Used after Release = %d, want 1 (portal)", got)
	}
	if !arena.Allocated(portal) {
		t.Errorf("portal freed by Release")
	}
}
