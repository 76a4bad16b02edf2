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

package rvasm

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
)

const (
	pageSize   = 4096
	headerSize = 64
	phdrSize   = 56
)

// Segment is one PT_LOAD segment.
type Segment struct {
	// Vaddr is the virtual address of the first byte.
	Vaddr uint64

	// Data is the file-backed contents.
	Data []byte

	// MemSize is the size in memory. If smaller than len(Data), the
	// length of Data is used.
	MemSize uint64

	// Flags are the segment permissions.
	Flags elf.ProgFlag
}

// Image describes a static executable.
type Image struct {
	// Entry is the entry point.
	Entry uint64

	// Machine defaults to EM_RISCV.
	Machine elf.Machine

	// Type defaults to ET_EXEC.
	Type elf.Type

	// Segments are laid out in the file in order, each at a file offset
	// congruent to its address modulo the page size.
	Segments []Segment

	// Misalign shifts every segment's file offset by this many bytes,
	// breaking the offset/address congruence. It exists for tests.
	Misalign uint64
}

// Bytes encodes the image as an ELF64 little-endian file.
func (img *Image) Bytes() ([]byte, error) {
	machine := img.Machine
	if machine == 0 {
		machine = elf.EM_RISCV
	}
	typ := img.Type
	if typ == 0 {
		typ = elf.ET_EXEC
	}

	hdr := elf.Header64{
		Type:      uint16(typ),
		Machine:   uint16(machine),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     img.Entry,
		Phoff:     headerSize,
		Ehsize:    headerSize,
		Phentsize: phdrSize,
		Phnum:     uint16(len(img.Segments)),
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	progs := make([]elf.Prog64, len(img.Segments))
	off := uint64(headerSize + phdrSize*len(img.Segments))
	for i, s := range img.Segments {
		memsz := s.MemSize
		if memsz < uint64(len(s.Data)) {
			memsz = uint64(len(s.Data))
		}
		// Next offset congruent to Vaddr.
		off = (off+pageSize-1)&^(pageSize-1) + s.Vaddr%pageSize + img.Misalign
		progs[i] = elf.Prog64{
			Type:   uint32(elf.PT_LOAD),
			Flags:  uint32(s.Flags),
			Off:    off,
			Vaddr:  s.Vaddr,
			Paddr:  s.Vaddr,
			Filesz: uint64(len(s.Data)),
			Memsz:  memsz,
			Align:  pageSize,
		}
		off += uint64(len(s.Data))
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("writing ELF header: %w", err)
	}
	for i := range progs {
		if err := binary.Write(&buf, binary.LittleEndian, &progs[i]); err != nil {
			return nil, fmt.Errorf("writing program header %d: %w", i, err)
		}
	}
	out := make([]byte, off)
	copy(out, buf.Bytes())
	for i, s := range img.Segments {
		copy(out[progs[i].Off:], s.Data)
	}
	return out, nil
}

// TextBase is the address programs built by Program are linked at.
const TextBase = 0x10000

// Program assembles a and wraps the result in a single read-execute segment
// at TextBase with the entry at its first instruction. Extra segments are
// appended as given.
func Program(a *Assembler, extra ...Segment) ([]byte, error) {
	text, err := a.Assemble()
	if err != nil {
		return nil, err
	}
	img := Image{
		Entry: TextBase,
		Segments: append([]Segment{{
			Vaddr: TextBase,
			Data:  text,
			Flags: elf.PF_R | elf.PF_X,
		}}, extra...),
	}
	return img.Bytes()
}
