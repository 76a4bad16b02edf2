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

// Package loader loads static ELF executables into user address spaces.
package loader

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"

	"rvkernel.dev/rvkernel/pkg/hostarch"
	"rvkernel.dev/rvkernel/pkg/log"
	"rvkernel.dev/rvkernel/pkg/sentry/mm"
)

var (
	// ErrBadHeader is returned for images that are not RV64 static
	// executables.
	ErrBadHeader = errors.New("bad ELF header")

	// ErrMisaligned is returned when a segment's file offset and virtual
	// address disagree modulo the page size.
	ErrMisaligned = errors.New("misaligned ELF segment")

	// ErrBadSegment is returned for segments whose sizes or file range are
	// inconsistent.
	ErrBadSegment = errors.New("bad ELF segment")
)

// elfInfo contains the metadata needed to load an ELF binary.
type elfInfo struct {
	entry hostarch.Addr
	phdrs []elf.ProgHeader
}

// parseHeader parses the ELF header and program headers of image.
func parseHeader(image []byte) (elfInfo, error) {
	f, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		return elfInfo{}, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS64 || f.Data != elf.ELFDATA2LSB {
		log.Infof("Unsupported ELF class %v, data %v", f.Class, f.Data)
		return elfInfo{}, fmt.Errorf("%w: class %v, data %v", ErrBadHeader, f.Class, f.Data)
	}
	if f.Type != elf.ET_EXEC {
		log.Infof("Unsupported ELF type %v", f.Type)
		return elfInfo{}, fmt.Errorf("%w: type %v", ErrBadHeader, f.Type)
	}
	if f.Machine != elf.EM_RISCV {
		log.Infof("Unsupported ELF machine %v", f.Machine)
		return elfInfo{}, fmt.Errorf("%w: machine %v", ErrBadHeader, f.Machine)
	}

	info := elfInfo{entry: hostarch.Addr(f.Entry)}
	for _, p := range f.Progs {
		info.phdrs = append(info.phdrs, p.ProgHeader)
	}
	return info, nil
}

// segmentFlags returns the PTE flags of a PT_LOAD segment.
func segmentFlags(f elf.ProgFlag) hostarch.PTEFlags {
	flags := hostarch.User | hostarch.Valid
	if f&elf.PF_R != 0 {
		flags |= hostarch.Read
	}
	if f&elf.PF_W != 0 {
		flags |= hostarch.Write
	}
	if f&elf.PF_X != 0 {
		flags |= hostarch.Execute
	}
	return flags
}

// mapSegment maps one PT_LOAD segment.
func mapSegment(as *mm.AddressSpace, image []byte, phdr elf.ProgHeader) error {
	if phdr.Off%hostarch.PageSize != phdr.Vaddr%hostarch.PageSize {
		log.Warningf("PT_LOAD segment offset %#x and address %#x are misaligned", phdr.Off, phdr.Vaddr)
		return fmt.Errorf("%w: offset %#x, vaddr %#x", ErrMisaligned, phdr.Off, phdr.Vaddr)
	}
	if phdr.Filesz > phdr.Memsz {
		log.Warningf("PT_LOAD segment filesz %#x > memsz %#x", phdr.Filesz, phdr.Memsz)
		return fmt.Errorf("%w: filesz %#x exceeds memsz %#x", ErrBadSegment, phdr.Filesz, phdr.Memsz)
	}
	fileEnd := phdr.Off + phdr.Filesz
	if fileEnd < phdr.Off || fileEnd > uint64(len(image)) {
		log.Warningf("PT_LOAD segment file range [%#x, %#x) beyond end of file %#x", phdr.Off, fileEnd, len(image))
		return fmt.Errorf("%w: file range [%#x, %#x) out of bounds", ErrBadSegment, phdr.Off, fileEnd)
	}
	start := hostarch.Addr(phdr.Vaddr)
	end := start + hostarch.Addr(phdr.Memsz)
	if end < start || !start.Canonical() || !(end - 1).Canonical() {
		return fmt.Errorf("%w: address range [%#x, %#x) not addressable", ErrBadSegment, phdr.Vaddr, uint64(end))
	}
	if phdr.Memsz == 0 {
		return nil
	}

	r := hostarch.PageRange(start, end)
	flags := segmentFlags(phdr.Flags)
	if err := as.Map(r, image[phdr.Off:fileEnd], start.PageOffset(), flags); err != nil {
		return fmt.Errorf("mapping segment at %#x: %w", phdr.Vaddr, err)
	}
	log.Debugf("Mapped segment %v %s", r, flags)
	return nil
}

// Load maps every PT_LOAD segment of image into as, followed by the initial
// user stack, and returns the entry point.
//
// On failure as is released and must not be used.
func Load(as *mm.AddressSpace, image []byte) (hostarch.Addr, error) {
	entry, err := load(as, image)
	if err != nil {
		as.Release()
		return 0, err
	}
	return entry, nil
}

func load(as *mm.AddressSpace, image []byte) (hostarch.Addr, error) {
	info, err := parseHeader(image)
	if err != nil {
		return 0, err
	}
	for _, phdr := range info.phdrs {
		if phdr.Type != elf.PT_LOAD {
			continue
		}
		if err := mapSegment(as, image, phdr); err != nil {
			return 0, err
		}
	}

	arena := as.Arena()
	stack, err := arena.AllocateContiguous(hostarch.UserStackPages)
	if err != nil {
		return 0, fmt.Errorf("allocating user stack: %w", err)
	}
	if err := as.MapExtern(hostarch.UserStack, stack, hostarch.UserStackFlags); err != nil {
		return 0, fmt.Errorf("mapping user stack: %w", err)
	}
	return info.entry, nil
}
