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

package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"rvkernel.dev/rvkernel/pkg/hostarch"
	"rvkernel.dev/rvkernel/pkg/rvasm"
	"rvkernel.dev/rvkernel/pkg/sentry/mm"
	"rvkernel.dev/rvkernel/pkg/sentry/pgalloc"
)

// Offsets into the first program header of images built by rvasm.
const (
	phdrFilesz = 64 + 32
	phdrMemsz  = 64 + 40
)

func newSpace(t *testing.T) (*pgalloc.Arena, *mm.AddressSpace) {
	t.Helper()
	arena, err := pgalloc.New(64)
	if err != nil {
		t.Fatalf("pgalloc.New failed: %v", err)
	}
	t.Cleanup(func() { arena.Close() })
	portal, err := arena.Allocate()
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	as, err := mm.New(arena, portal)
	if err != nil {
		t.Fatalf("mm.New failed: %v", err)
	}
	return arena, as
}

func program(t *testing.T) []byte {
	t.Helper()
	a := rvasm.New()
	a.LI(rvasm.A0, 7)
	a.LI(rvasm.A7, 93)
	a.ECALL()
	img, err := rvasm.Program(a, rvasm.Segment{
		Vaddr:   0x20010,
		Data:    []byte("initialized"),
		MemSize: 0x2000,
		Flags:   elf.PF_R | elf.PF_W,
	})
	if err != nil {
		t.Fatalf("Program failed: %v", err)
	}
	return img
}

type area struct {
	VPNs  hostarch.VPNRange
	Flags string
}

func areas(as *mm.AddressSpace) []area {
	var out []area
	for _, a := range as.Areas() {
		out = append(out, area{a.VPNs, a.Flags.String()})
	}
	return out
}

func TestLoad(t *testing.T) {
	_, as := newSpace(t)
	defer as.Release()
	entry, err := Load(as, program(t))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if entry != rvasm.TextBase {
		t.Errorf("entry = %#x, want %#x", entry, rvasm.TextBase)
	}
	want := []area{
		{hostarch.VPNRange{Start: 0x10, End: 0x11}, "UX_RV"},
		{hostarch.VPNRange{Start: 0x20, End: 0x23}, "U_WRV"},
		{hostarch.UserStack, "U_WRV"},
	}
	if diff := cmp.Diff(want, areas(as)); diff != "" {
		t.Errorf("areas mismatch (-want +got):\n%s", diff)
	}

	got := make([]byte, 0x20)
	if _, err := as.CopyIn(0x20000, got); err != nil {
		t.Fatalf("CopyIn failed: %v", err)
	}
	wantData := make([]byte, 0x20)
	copy(wantData[0x10:], "initialized")
	if !bytes.Equal(got, wantData) {
		t.Errorf("data page = %q, want %q", got, wantData)
	}
	bss := make([]byte, 16)
	if _, err := as.CopyIn(0x22000, bss); err != nil || !bytes.Equal(bss, make([]byte, 16)) {
		t.Errorf("bss = (%v, %v), want zeroes", bss, err)
	}
	if _, err := as.CopyOut(hostarch.UserStackTop-8, []byte("stack!!!")); err != nil {
		t.Errorf("stack not writable: %v", err)
	}
}

func TestLoadErrors(t *testing.T) {
	patch := func(off int, v uint64) func([]byte) []byte {
		return func(b []byte) []byte {
			binary.LittleEndian.PutUint64(b[off:], v)
			return b
		}
	}
	text := []byte{0x73, 0, 0, 0}
	for _, tc := range []struct {
		name  string
		img   rvasm.Image
		patch []func([]byte) []byte
		want  error
	}{
		{
			name: "wrong machine",
			img:  rvasm.Image{Machine: elf.EM_X86_64, Segments: []rvasm.Segment{{Vaddr: 0x10000, Data: text, Flags: elf.PF_X}}},
			want: ErrBadHeader,
		},
		{
			name: "shared object",
			img:  rvasm.Image{Type: elf.ET_DYN, Segments: []rvasm.Segment{{Vaddr: 0x10000, Data: text, Flags: elf.PF_X}}},
			want: ErrBadHeader,
		},
		{
			name: "misaligned",
			img:  rvasm.Image{Misalign: 8, Segments: []rvasm.Segment{{Vaddr: 0x10000, Data: text, Flags: elf.PF_X}}},
			want: ErrMisaligned,
		},
		{
			name: "overlapping segments",
			img: rvasm.Image{Segments: []rvasm.Segment{
				{Vaddr: 0x10000, Data: text, Flags: elf.PF_X},
				{Vaddr: 0x10800, Data: text, Flags: elf.PF_R},
			}},
			want: mm.ErrOverlap,
		},
		{
			name:  "filesz exceeds memsz",
			img:   rvasm.Image{Segments: []rvasm.Segment{{Vaddr: 0x10000, Data: text, Flags: elf.PF_X}}},
			patch: []func([]byte) []byte{patch(phdrMemsz, 2)},
			want:  ErrBadSegment,
		},
		{
			name: "file range beyond end",
			img:  rvasm.Image{Segments: []rvasm.Segment{{Vaddr: 0x10000, Data: text, Flags: elf.PF_X}}},
			patch: []func([]byte) []byte{
				patch(phdrFilesz, 1<<20),
				patch(phdrMemsz, 1<<20),
			},
			want: ErrBadSegment,
		},
		{
			name: "stack overlap",
			img:  rvasm.Image{Segments: []rvasm.Segment{{Vaddr: uint64(hostarch.UserStack.Start.Addr()), Data: text, Flags: elf.PF_R}}},
			want: mm.ErrOverlap,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			arena, as := newSpace(t)
			b, err := tc.img.Bytes()
			if err != nil {
				t.Fatalf("Bytes failed: %v", err)
			}
			for _, p := range tc.patch {
				b = p(b)
			}
			if _, err := Load(as, b); !errors.Is(err, tc.want) {
				t.Errorf("Load = %v, want %v", err, tc.want)
			}
			if got := arena.Used(); got != 1 {
				t.Errorf("Used after failed Load = %d, want 1", got)
			}
		})
	}
}

func TestLoadGarbage(t *testing.T) {
	_, as := newSpace(t)
	if _, err := Load(as, []byte("#!/bin/sh\necho hi\n")); !errors.Is(err, ErrBadHeader) {
		t.Errorf("Load = %v, want ErrBadHeader", err)
	}
}
