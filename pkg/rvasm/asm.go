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

// Package rvasm assembles RV64IM machine code and wraps it in static ELF
// images.
//
// It is a small two-pass assembler: instructions are encoded as they are
// emitted, and branch, jump and address references to labels are patched
// when Assemble is called.
package rvasm

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

// Reg is an integer register.
type Reg uint8

// Registers by ABI name.
const (
	X0 Reg = iota
	RA
	SP
	GP
	TP
	T0
	T1
	T2
	S0
	S1
	A0
	A1
	A2
	A3
	A4
	A5
	A6
	A7
	S2
	S3
	S4
	S5
	S6
	S7
	S8
	S9
	S10
	S11
	T3
	T4
	T5
	T6
)

// Zero is an alias of X0.
const Zero = X0

type fixupKind int

const (
	fixBranch fixupKind = iota
	fixJump
	fixPCRel
)

type fixup struct {
	// at is the byte offset of the instruction to patch.
	at    int
	label string
	kind  fixupKind
}

type blob struct {
	label string
	data  []byte
}

// Assembler accumulates a program. The zero value is not usable; call New.
type Assembler struct {
	text   []uint32
	labels map[string]int
	fixups []fixup
	data   []blob
	err    error
}

// New returns an empty assembler.
func New() *Assembler {
	return &Assembler{labels: make(map[string]int)}
}

func (a *Assembler) fail(format string, v ...any) {
	if a.err == nil {
		a.err = fmt.Errorf(format, v...)
	}
}

// Offset returns the byte offset of the next instruction.
func (a *Assembler) Offset() int {
	return 4 * len(a.text)
}

// Label defines name at the next instruction.
func (a *Assembler) Label(name string) {
	if _, ok := a.labels[name]; ok {
		a.fail("duplicate label %q", name)
		return
	}
	a.labels[name] = a.Offset()
}

// Data places b after the instructions, 8-byte aligned, under label name.
func (a *Assembler) Data(name string, b []byte) {
	a.data = append(a.data, blob{label: name, data: b})
}

// Word emits a raw instruction word.
func (a *Assembler) Word(insn uint32) {
	a.text = append(a.text, insn)
}

func (a *Assembler) ref(label string, kind fixupKind) {
	a.fixups = append(a.fixups, fixup{at: a.Offset(), label: label, kind: kind})
}

// Assemble resolves labels and returns the machine code followed by the data
// blobs.
func (a *Assembler) Assemble() ([]byte, error) {
	if a.err != nil {
		return nil, a.err
	}
	labels := make(map[string]int, len(a.labels)+len(a.data))
	for k, v := range a.labels {
		labels[k] = v
	}
	off := a.Offset()
	for _, d := range a.data {
		off = (off + 7) &^ 7
		if _, ok := labels[d.label]; ok {
			return nil, fmt.Errorf("duplicate label %q", d.label)
		}
		labels[d.label] = off
		off += len(d.data)
	}

	text := append([]uint32(nil), a.text...)
	for _, f := range a.fixups {
		target, ok := labels[f.label]
		if !ok {
			return nil, fmt.Errorf("undefined label %q", f.label)
		}
		rel := int64(target - f.at)
		i := f.at / 4
		switch f.kind {
		case fixBranch:
			if rel < -4096 || rel >= 4096 {
				return nil, fmt.Errorf("branch to %q out of range (%d)", f.label, rel)
			}
			text[i] |= encodeB(0, 0, 0, 0, rel)
		case fixJump:
			if rel < -(1<<20) || rel >= 1<<20 {
				return nil, fmt.Errorf("jump to %q out of range (%d)", f.label, rel)
			}
			text[i] |= encodeJ(0, 0, rel)
		case fixPCRel:
			hi, lo := splitHiLo(rel)
			text[i] |= uint32(hi&0xfffff) << 12
			text[i+1] |= uint32(lo&0xfff) << 20
		}
	}

	out := make([]byte, off)
	for i, w := range text {
		binary.LittleEndian.PutUint32(out[4*i:], w)
	}
	for _, d := range a.data {
		copy(out[labels[d.label]:], d.data)
	}
	return out, nil
}

// splitHiLo splits v into a 20-bit upper part and a sign-extended 12-bit
// lower part such that hi<<12 + lo == v.
func splitHiLo(v int64) (hi, lo int64) {
	hi = (v + 0x800) >> 12
	lo = v - hi<<12
	return
}

func encodeR(opcode, funct3, funct7 uint32, rd, rs1, rs2 Reg) uint32 {
	return funct7<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 | funct3<<12 | uint32(rd)<<7 | opcode
}

func encodeI(opcode, funct3 uint32, rd, rs1 Reg, imm int64) uint32 {
	return uint32(imm&0xfff)<<20 | uint32(rs1)<<15 | funct3<<12 | uint32(rd)<<7 | opcode
}

func encodeS(opcode, funct3 uint32, rs1, rs2 Reg, imm int64) uint32 {
	return uint32(imm>>5&0x7f)<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 | funct3<<12 | uint32(imm&0x1f)<<7 | opcode
}

func encodeB(opcode, funct3 uint32, rs1, rs2 Reg, imm int64) uint32 {
	return uint32(imm>>12&1)<<31 | uint32(imm>>5&0x3f)<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 |
		funct3<<12 | uint32(imm>>1&0xf)<<8 | uint32(imm>>11&1)<<7 | opcode
}

func encodeU(opcode uint32, rd Reg, imm20 int64) uint32 {
	return uint32(imm20&0xfffff)<<12 | uint32(rd)<<7 | opcode
}

func encodeJ(opcode uint32, rd Reg, imm int64) uint32 {
	return uint32(imm>>20&1)<<31 | uint32(imm>>1&0x3ff)<<21 | uint32(imm>>11&1)<<20 |
		uint32(imm>>12&0xff)<<12 | uint32(rd)<<7 | opcode
}

func (a *Assembler) immI(imm int64) int64 {
	if imm < -2048 || imm > 2047 {
		a.fail("immediate %d out of 12-bit range", imm)
	}
	return imm
}

func (a *Assembler) opI(funct3 uint32, rd, rs1 Reg, imm int64) {
	a.Word(encodeI(0x13, funct3, rd, rs1, a.immI(imm)))
}

func (a *Assembler) op(funct3, funct7 uint32, rd, rs1, rs2 Reg) {
	a.Word(encodeR(0x33, funct3, funct7, rd, rs1, rs2))
}

func (a *Assembler) op32(funct3, funct7 uint32, rd, rs1, rs2 Reg) {
	a.Word(encodeR(0x3b, funct3, funct7, rd, rs1, rs2))
}

// LUI loads imm20<<12, sign-extended, into rd.
func (a *Assembler) LUI(rd Reg, imm20 int64) { a.Word(encodeU(0x37, rd, imm20)) }

// AUIPC adds imm20<<12 to the pc into rd.
func (a *Assembler) AUIPC(rd Reg, imm20 int64) { a.Word(encodeU(0x17, rd, imm20)) }

// ADDI emits addi.
func (a *Assembler) ADDI(rd, rs1 Reg, imm int64) { a.opI(0, rd, rs1, imm) }

// SLTI emits slti.
func (a *Assembler) SLTI(rd, rs1 Reg, imm int64) { a.opI(2, rd, rs1, imm) }

// SLTIU emits sltiu.
func (a *Assembler) SLTIU(rd, rs1 Reg, imm int64) { a.opI(3, rd, rs1, imm) }

// XORI emits xori.
func (a *Assembler) XORI(rd, rs1 Reg, imm int64) { a.opI(4, rd, rs1, imm) }

// ORI emits ori.
func (a *Assembler) ORI(rd, rs1 Reg, imm int64) { a.opI(6, rd, rs1, imm) }

// ANDI emits andi.
func (a *Assembler) ANDI(rd, rs1 Reg, imm int64) { a.opI(7, rd, rs1, imm) }

// SLLI emits slli.
func (a *Assembler) SLLI(rd, rs1 Reg, shamt uint) { a.Word(encodeI(0x13, 1, rd, rs1, int64(shamt&0x3f))) }

// SRLI emits srli.
func (a *Assembler) SRLI(rd, rs1 Reg, shamt uint) { a.Word(encodeI(0x13, 5, rd, rs1, int64(shamt&0x3f))) }

// SRAI emits srai.
func (a *Assembler) SRAI(rd, rs1 Reg, shamt uint) {
	a.Word(encodeI(0x13, 5, rd, rs1, int64(shamt&0x3f)|0x400))
}

// ADDIW emits addiw.
func (a *Assembler) ADDIW(rd, rs1 Reg, imm int64) { a.Word(encodeI(0x1b, 0, rd, rs1, a.immI(imm))) }

// ADD emits add.
func (a *Assembler) ADD(rd, rs1, rs2 Reg) { a.op(0, 0, rd, rs1, rs2) }

// SUB emits sub.
func (a *Assembler) SUB(rd, rs1, rs2 Reg) { a.op(0, 0x20, rd, rs1, rs2) }

// SLL emits sll.
func (a *Assembler) SLL(rd, rs1, rs2 Reg) { a.op(1, 0, rd, rs1, rs2) }

// SLT emits slt.
func (a *Assembler) SLT(rd, rs1, rs2 Reg) { a.op(2, 0, rd, rs1, rs2) }

// SLTU emits sltu.
func (a *Assembler) SLTU(rd, rs1, rs2 Reg) { a.op(3, 0, rd, rs1, rs2) }

// XOR emits xor.
func (a *Assembler) XOR(rd, rs1, rs2 Reg) { a.op(4, 0, rd, rs1, rs2) }

// SRL emits srl.
func (a *Assembler) SRL(rd, rs1, rs2 Reg) { a.op(5, 0, rd, rs1, rs2) }

// SRA emits sra.
func (a *Assembler) SRA(rd, rs1, rs2 Reg) { a.op(5, 0x20, rd, rs1, rs2) }

// OR emits or.
func (a *Assembler) OR(rd, rs1, rs2 Reg) { a.op(6, 0, rd, rs1, rs2) }

// AND emits and.
func (a *Assembler) AND(rd, rs1, rs2 Reg) { a.op(7, 0, rd, rs1, rs2) }

// MUL emits mul.
func (a *Assembler) MUL(rd, rs1, rs2 Reg) { a.op(0, 1, rd, rs1, rs2) }

// MULH emits mulh.
func (a *Assembler) MULH(rd, rs1, rs2 Reg) { a.op(1, 1, rd, rs1, rs2) }

// MULHU emits mulhu.
func (a *Assembler) MULHU(rd, rs1, rs2 Reg) { a.op(3, 1, rd, rs1, rs2) }

// DIV emits div.
func (a *Assembler) DIV(rd, rs1, rs2 Reg) { a.op(4, 1, rd, rs1, rs2) }

// DIVU emits divu.
func (a *Assembler) DIVU(rd, rs1, rs2 Reg) { a.op(5, 1, rd, rs1, rs2) }

// REM emits rem.
func (a *Assembler) REM(rd, rs1, rs2 Reg) { a.op(6, 1, rd, rs1, rs2) }

// REMU emits remu.
func (a *Assembler) REMU(rd, rs1, rs2 Reg) { a.op(7, 1, rd, rs1, rs2) }

// ADDW emits addw.
func (a *Assembler) ADDW(rd, rs1, rs2 Reg) { a.op32(0, 0, rd, rs1, rs2) }

// SUBW emits subw.
func (a *Assembler) SUBW(rd, rs1, rs2 Reg) { a.op32(0, 0x20, rd, rs1, rs2) }

// DIVW emits divw.
func (a *Assembler) DIVW(rd, rs1, rs2 Reg) { a.op32(4, 1, rd, rs1, rs2) }

// REMW emits remw.
func (a *Assembler) REMW(rd, rs1, rs2 Reg) { a.op32(6, 1, rd, rs1, rs2) }

func (a *Assembler) load(funct3 uint32, rd, rs1 Reg, imm int64) {
	a.Word(encodeI(0x03, funct3, rd, rs1, a.immI(imm)))
}

func (a *Assembler) store(funct3 uint32, rs2, rs1 Reg, imm int64) {
	a.Word(encodeS(0x23, funct3, rs1, rs2, a.immI(imm)))
}

// LB emits lb rd, imm(rs1).
func (a *Assembler) LB(rd, rs1 Reg, imm int64) { a.load(0, rd, rs1, imm) }

// LH emits lh rd, imm(rs1).
func (a *Assembler) LH(rd, rs1 Reg, imm int64) { a.load(1, rd, rs1, imm) }

// LW emits lw rd, imm(rs1).
func (a *Assembler) LW(rd, rs1 Reg, imm int64) { a.load(2, rd, rs1, imm) }

// LD emits ld rd, imm(rs1).
func (a *Assembler) LD(rd, rs1 Reg, imm int64) { a.load(3, rd, rs1, imm) }

// LBU emits lbu rd, imm(rs1).
func (a *Assembler) LBU(rd, rs1 Reg, imm int64) { a.load(4, rd, rs1, imm) }

// LWU emits lwu rd, imm(rs1).
func (a *Assembler) LWU(rd, rs1 Reg, imm int64) { a.load(6, rd, rs1, imm) }

// SB emits sb rs2, imm(rs1).
func (a *Assembler) SB(rs2, rs1 Reg, imm int64) { a.store(0, rs2, rs1, imm) }

// SH emits sh rs2, imm(rs1).
func (a *Assembler) SH(rs2, rs1 Reg, imm int64) { a.store(1, rs2, rs1, imm) }

// SW emits sw rs2, imm(rs1).
func (a *Assembler) SW(rs2, rs1 Reg, imm int64) { a.store(2, rs2, rs1, imm) }

// SD emits sd rs2, imm(rs1).
func (a *Assembler) SD(rs2, rs1 Reg, imm int64) { a.store(3, rs2, rs1, imm) }

func (a *Assembler) branch(funct3 uint32, rs1, rs2 Reg, label string) {
	a.ref(label, fixBranch)
	a.Word(encodeB(0x63, funct3, rs1, rs2, 0))
}

// BEQ branches to label if rs1 == rs2.
func (a *Assembler) BEQ(rs1, rs2 Reg, label string) { a.branch(0, rs1, rs2, label) }

// BNE branches to label if rs1 != rs2.
func (a *Assembler) BNE(rs1, rs2 Reg, label string) { a.branch(1, rs1, rs2, label) }

// BLT branches to label if rs1 < rs2, signed.
func (a *Assembler) BLT(rs1, rs2 Reg, label string) { a.branch(4, rs1, rs2, label) }

// BGE branches to label if rs1 >= rs2, signed.
func (a *Assembler) BGE(rs1, rs2 Reg, label string) { a.branch(5, rs1, rs2, label) }

// BLTU branches to label if rs1 < rs2, unsigned.
func (a *Assembler) BLTU(rs1, rs2 Reg, label string) { a.branch(6, rs1, rs2, label) }

// BGEU branches to label if rs1 >= rs2, unsigned.
func (a *Assembler) BGEU(rs1, rs2 Reg, label string) { a.branch(7, rs1, rs2, label) }

// BEQZ branches to label if rs == 0.
func (a *Assembler) BEQZ(rs Reg, label string) { a.BEQ(rs, X0, label) }

// BNEZ branches to label if rs != 0.
func (a *Assembler) BNEZ(rs Reg, label string) { a.BNE(rs, X0, label) }

// JAL jumps to label, linking into rd.
func (a *Assembler) JAL(rd Reg, label string) {
	a.ref(label, fixJump)
	a.Word(encodeJ(0x6f, rd, 0))
}

// J jumps to label.
func (a *Assembler) J(label string) { a.JAL(X0, label) }

// CALL calls label, linking into ra.
func (a *Assembler) CALL(label string) { a.JAL(RA, label) }

// JALR jumps to rs1+imm, linking into rd.
func (a *Assembler) JALR(rd, rs1 Reg, imm int64) { a.Word(encodeI(0x67, 0, rd, rs1, a.immI(imm))) }

// RET returns through ra.
func (a *Assembler) RET() { a.JALR(X0, RA, 0) }

// LA loads the address of label into rd, pc-relative.
func (a *Assembler) LA(rd Reg, label string) {
	a.ref(label, fixPCRel)
	a.Word(encodeU(0x17, rd, 0))
	a.Word(encodeI(0x13, 0, rd, rd, 0))
}

// MV copies rs into rd.
func (a *Assembler) MV(rd, rs Reg) { a.ADDI(rd, rs, 0) }

// NOP does nothing.
func (a *Assembler) NOP() { a.ADDI(X0, X0, 0) }

// LI loads an arbitrary 64-bit constant into rd.
func (a *Assembler) LI(rd Reg, imm int64) {
	if imm >= -2048 && imm <= 2047 {
		a.ADDI(rd, X0, imm)
		return
	}
	if int64(int32(imm)) == imm {
		hi, lo := splitHiLo(imm)
		a.LUI(rd, hi)
		if lo != 0 {
			a.ADDIW(rd, rd, lo)
		}
		return
	}
	lo := imm << 52 >> 52
	hi := (imm - lo) >> 12
	shift := uint(12 + bits.TrailingZeros64(uint64(hi)))
	hi >>= shift - 12
	a.LI(rd, hi)
	a.SLLI(rd, rd, shift)
	if lo != 0 {
		a.ADDI(rd, rd, lo)
	}
}

// ECALL emits ecall.
func (a *Assembler) ECALL() { a.Word(0x00000073) }

// EBREAK emits ebreak.
func (a *Assembler) EBREAK() { a.Word(0x00100073) }

// WFI emits wfi.
func (a *Assembler) WFI() { a.Word(0x10500073) }

// SRET emits sret.
func (a *Assembler) SRET() { a.Word(0x10200073) }

// FENCE emits a full fence.
func (a *Assembler) FENCE() { a.Word(0x0ff0000f) }

// CSRRS emits csrrs rd, csr, rs1.
func (a *Assembler) CSRRS(rd Reg, csr uint16, rs1 Reg) {
	a.Word(uint32(csr)<<20 | uint32(rs1)<<15 | 2<<12 | uint32(rd)<<7 | 0x73)
}

// CSRRW emits csrrw rd, csr, rs1.
func (a *Assembler) CSRRW(rd Reg, csr uint16, rs1 Reg) {
	a.Word(uint32(csr)<<20 | uint32(rs1)<<15 | 1<<12 | uint32(rd)<<7 | 0x73)
}

// RDTIME reads the time counter.
func (a *Assembler) RDTIME(rd Reg) { a.CSRRS(rd, 0xc01, X0) }

// RDCYCLE reads the cycle counter.
func (a *Assembler) RDCYCLE(rd Reg) { a.CSRRS(rd, 0xc00, X0) }

// RDINSTRET reads the retired instruction counter.
func (a *Assembler) RDINSTRET(rd Reg) { a.CSRRS(rd, 0xc02, X0) }
