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

package ring0

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"rvkernel.dev/rvkernel/pkg/hostarch"
	"rvkernel.dev/rvkernel/pkg/ring0/pagetables"
	"rvkernel.dev/rvkernel/pkg/rvasm"
	"rvkernel.dev/rvkernel/pkg/sentry/pgalloc"
	"rvkernel.dev/rvkernel/pkg/sentry/platform"
	"rvkernel.dev/rvkernel/pkg/sentry/platform/emu"
)

type fixture struct {
	arena  *pgalloc.Arena
	portal *Portal
	hart   *emu.Machine
	pt     *pagetables.PageTables
}

// newFixture maps the assembled program at rvasm.TextBase, with the
// trampoline when withPortal is set.
func newFixture(t *testing.T, a *rvasm.Assembler, withPortal bool) *fixture {
	t.Helper()
	arena, err := pgalloc.New(32)
	if err != nil {
		t.Fatalf("pgalloc.New failed: %v", err)
	}
	t.Cleanup(func() { arena.Close() })
	portal, err := NewPortal(arena)
	if err != nil {
		t.Fatalf("NewPortal failed: %v", err)
	}
	pt, err := pagetables.New(pagetables.NewArenaAllocator(arena))
	if err != nil {
		t.Fatalf("pagetables.New failed: %v", err)
	}
	text, err := a.Assemble()
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	code, err := arena.Allocate()
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	copy(arena.Page(code), text)
	vpn := hostarch.Addr(rvasm.TextBase).VPN()
	pt.Map(hostarch.VPNRange{Start: vpn, End: vpn + 1}, code, hostarch.MustParseFlags("UX_RV"))
	if withPortal {
		pt.Map(hostarch.VPNRange{Start: hostarch.TrampolineVPN, End: hostarch.TrampolineVPN + 1}, portal.PPN(), hostarch.TrampolineFlags)
	}
	return &fixture{arena: arena, portal: portal, hart: emu.New(arena, nil), pt: pt}
}

func (f *fixture) context() ForeignContext {
	return NewUser(rvasm.TextBase, hostarch.Satp(f.pt.Root()))
}

func TestEnterPreservesContext(t *testing.T) {
	a := rvasm.New()
	a.ECALL()
	f := newFixture(t, a, true)

	ctx := f.context()
	for i := range ctx.Regs {
		ctx.Regs[i] = uint64(0x1000 + i)
	}
	want := ctx

	cause := f.portal.Enter(f.hart, &ctx)
	if !cause.IsUserEcall() {
		t.Fatalf("cause = %v, want UserEnvCall", cause)
	}
	if diff := cmp.Diff(want, ctx); diff != "" {
		t.Errorf("context mismatch (-want +got):\n%s", diff)
	}
	if got := f.hart.Satp(); got != hostarch.SatpBare {
		t.Errorf("satp after trap = %#x, want bare", got)
	}
}

func TestEnterWithoutTrampolinePanics(t *testing.T) {
	a := rvasm.New()
	a.ECALL()
	f := newFixture(t, a, false)
	ctx := f.context()

	defer func() {
		if recover() == nil {
			t.Errorf("Enter without a trampoline did not panic")
		}
		if got := f.hart.Satp(); got != hostarch.SatpBare {
			t.Errorf("satp after failed check = %#x, want bare", got)
		}
	}()
	f.portal.Enter(f.hart, &ctx)
}

func TestEnterRoundTrips(t *testing.T) {
	a := rvasm.New()
	a.Label("loop")
	a.ADDI(rvasm.A0, rvasm.A0, 1)
	a.ECALL()
	a.J("loop")
	f := newFixture(t, a, true)

	ctx := f.context()
	for i := range ctx.Regs {
		ctx.Regs[i] = uint64(i) << 32
	}
	ctx.SetA(0, 0)
	want := ctx

	const rounds = 1000
	for i := 0; i < rounds; i++ {
		if cause := f.portal.Enter(f.hart, &ctx); !cause.IsUserEcall() {
			t.Fatalf("round %d: cause = %v", i, cause)
		}
		ctx.MoveNext()
	}
	want.SetA(0, rounds)
	want.Sepc = ctx.Sepc
	if diff := cmp.Diff(want, ctx); diff != "" {
		t.Errorf("context mismatch (-want +got):\n%s", diff)
	}
}

func TestEnterReportsFault(t *testing.T) {
	a := rvasm.New()
	a.LD(rvasm.A0, rvasm.X0, 8)
	f := newFixture(t, a, true)
	ctx := f.context()

	cause := f.portal.Enter(f.hart, &ctx)
	want := Cause{Code: hostarch.ExceptionLoadPageFault, Value: 8}
	if cause != want {
		t.Errorf("cause = %v, want %v", cause, want)
	}
	if ctx.Sepc != rvasm.TextBase {
		t.Errorf("sepc = %#x, want %#x", ctx.Sepc, rvasm.TextBase)
	}
}

func TestCauseString(t *testing.T) {
	for _, tc := range []struct {
		scause uint64
		want   string
	}{
		{hostarch.ScauseInterrupt | hostarch.InterruptSupervisorTimer, "Interrupt(SupervisorTimer)"},
		{hostarch.ScauseInterrupt | 13, "Interrupt(13)"},
		{hostarch.ExceptionUserEnvCall, "Exception(UserEnvCall)"},
		{hostarch.ExceptionIllegalInstruction, "Exception(IllegalInstruction)"},
		{24, "Exception(24)"},
	} {
		c := DecodeCause(tc.scause, 0)
		if got := c.String(); got != tc.want {
			t.Errorf("DecodeCause(%#x).String() = %q, want %q", tc.scause, got, tc.want)
		}
		if c.Scause() != tc.scause {
			t.Errorf("Scause() = %#x, want %#x", c.Scause(), tc.scause)
		}
	}
	if !DecodeCause(hostarch.ExceptionStorePageFault, 0).IsPageFault() {
		t.Errorf("StorePageFault is not a page fault")
	}
}

func TestUserContext(t *testing.T) {
	ctx := NewUser(0x1234, hostarch.Satp(7))
	if ctx.SP() != uint64(hostarch.UserStackTop) || ctx.Sepc != 0x1234 || ctx.Supervisor || !ctx.Interrupts {
		t.Errorf("NewUser = %+v", ctx)
	}
	if got := ctx.sstatus(); got != platform.SstatusSPIE {
		t.Errorf("sstatus = %#x, want SPIE only", got)
	}
	ctx.SetX(0, 5)
	if ctx.X(0) != 0 {
		t.Errorf("x0 = %d, want 0", ctx.X(0))
	}
}
