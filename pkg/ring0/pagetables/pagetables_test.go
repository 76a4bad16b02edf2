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
	"testing"

	"github.com/google/go-cmp/cmp"

	"rvkernel.dev/rvkernel/pkg/hostarch"
	"rvkernel.dev/rvkernel/pkg/sentry/pgalloc"
)

type mapping struct {
	vpn   hostarch.VPN
	ppn   hostarch.PPN
	flags hostarch.PTEFlags
}

func checkMappings(t *testing.T, pt *PageTables, want []mapping) {
	t.Helper()
	var got []mapping
	pt.Walk(func(l Leaf) bool {
		got = append(got, mapping{vpn: l.VPN, ppn: l.PTE.PPN(), flags: l.PTE.Flags()})
		return true
	})
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(mapping{})); diff != "" {
		t.Errorf("mappings mismatch (-want +got):\n%s", diff)
	}
}

func newTables(t *testing.T) (*pgalloc.Arena, *PageTables) {
	t.Helper()
	arena, err := pgalloc.New(64)
	if err != nil {
		t.Fatalf("pgalloc.New failed: %v", err)
	}
	t.Cleanup(func() { arena.Close() })
	pt, err := New(NewArenaAllocator(arena))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return arena, pt
}

func TestUnmap(t *testing.T) {
	_, pt := newTables(t)
	rw := hostarch.MustParseFlags("U_WRV")
	pt.Map(hostarch.VPNRange{Start: 0x400, End: 0x401}, 0x80042, rw)
	if n := pt.Unmap(hostarch.VPNRange{Start: 0x400, End: 0x401}); n != 1 {
		t.Errorf("Unmap = %d, want 1", n)
	}
	checkMappings(t, pt, nil)
}

func TestMapRange(t *testing.T) {
	_, pt := newTables(t)
	rx := hostarch.MustParseFlags("UX_RV")
	if err := pt.Map(hostarch.VPNRange{Start: 0x1fe, End: 0x202}, 0x80010, rx); err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	checkMappings(t, pt, []mapping{
		{0x1fe, 0x80010, rx},
		{0x1ff, 0x80011, rx},
		{0x200, 0x80012, rx},
		{0x201, 0x80013, rx},
	})
	// The range crosses a level-0 node boundary: root + one level-1 node +
	// two level-0 nodes.
	if got := pt.Nodes(); got != 4 {
		t.Errorf("Nodes() = %d, want 4", got)
	}
}

func TestLowAndTrampoline(t *testing.T) {
	_, pt := newTables(t)
	rw := hostarch.MustParseFlags("U_WRV")
	pt.Map(hostarch.VPNRange{Start: 0x10, End: 0x11}, 0x80020, rw)
	pt.Map(hostarch.VPNRange{Start: hostarch.TrampolineVPN, End: hostarch.TrampolineVPN + 1}, 0x80030, hostarch.TrampolineFlags)

	checkMappings(t, pt, []mapping{
		{0x10, 0x80020, rw},
		{hostarch.TrampolineVPN, 0x80030, hostarch.TrampolineFlags},
	})
	pte, ok := pt.Lookup(hostarch.TrampolineVPN)
	if !ok || pte.PPN() != 0x80030 {
		t.Errorf("Lookup(trampoline) = %v, %v", pte, ok)
	}
	if _, ok := pt.Lookup(0x11); ok {
		t.Errorf("Lookup(0x11) found a mapping")
	}
	if _, ok := pt.Lookup(0x4000_000); ok {
		t.Errorf("Lookup in a missing subtree found a mapping")
	}
}

func TestRemapPanics(t *testing.T) {
	_, pt := newTables(t)
	r := hostarch.VPNRange{Start: 1, End: 2}
	pt.Map(r, 0x80001, hostarch.MustParseFlags("RV"))
	defer func() {
		if recover() == nil {
			t.Errorf("remap did not panic")
		}
	}()
	pt.Map(r, 0x80002, hostarch.MustParseFlags("RV"))
}

func TestRelease(t *testing.T) {
	arena, pt := newTables(t)
	pt.Map(hostarch.VPNRange{Start: 0, End: 3}, 0x80100, hostarch.MustParseFlags("RV"))
	pt.Map(hostarch.VPNRange{Start: hostarch.TrampolineVPN, End: hostarch.TrampolineVPN + 1}, 0x80101, hostarch.TrampolineFlags)
	if got := arena.Used(); got != pt.Nodes() {
		t.Fatalf("arena.Used() = %d, want %d", got, pt.Nodes())
	}
	pt.Release()
	if got := arena.Used(); got != 0 {
		t.Errorf("arena.Used() after Release = %d, want 0", got)
	}
}
