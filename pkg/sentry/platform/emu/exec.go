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

package emu

import (
	"math"
	"math/bits"

	"rvkernel.dev/rvkernel/pkg/hostarch"
	"rvkernel.dev/rvkernel/pkg/sentry/platform"
)

// Major opcodes.
const (
	opLoad     = 0x03
	opMiscMem  = 0x0f
	opImm      = 0x13
	opAuipc    = 0x17
	opImm32    = 0x1b
	opStore    = 0x23
	opOp       = 0x33
	opLui      = 0x37
	opOp32     = 0x3b
	opBranch   = 0x63
	opJalr     = 0x67
	opJal      = 0x6f
	opSystem   = 0x73
	insnEcall  = 0x00000073
	insnEbreak = 0x00100073
	insnSret   = 0x10200073
	insnWfi    = 0x10500073
)

func immI(insn uint32) uint64 {
	return uint64(int64(int32(insn)) >> 20)
}

func immS(insn uint32) uint64 {
	return uint64(int64(int32(insn))>>25<<5 | int64(insn>>7&0x1f))
}

func immB(insn uint32) uint64 {
	return uint64(int64(int32(insn))>>31<<12 |
		int64(insn>>7&1)<<11 |
		int64(insn>>25&0x3f)<<5 |
		int64(insn>>8&0xf)<<1)
}

func immU(insn uint32) uint64 {
	return uint64(int64(int32(insn & 0xfffff000)))
}

func immJ(insn uint32) uint64 {
	return uint64(int64(int32(insn))>>31<<20 |
		int64(insn>>12&0xff)<<12 |
		int64(insn>>20&1)<<11 |
		int64(insn>>21&0x3ff)<<1)
}

func sext32(v uint64) uint64 {
	return uint64(int64(int32(uint32(v))))
}

// step executes one instruction at m.pc.
func (m *Machine) step() (exception, bool) {
	pc := m.pc
	if pc&3 != 0 {
		return exception{hostarch.ExceptionInstructionMisaligned, pc}, true
	}
	insn, exc, trapped := m.fetch(pc)
	if trapped {
		return exc, true
	}
	illegal := exception{hostarch.ExceptionIllegalInstruction, uint64(insn)}

	var (
		rd     = int(insn >> 7 & 0x1f)
		funct3 = insn >> 12 & 0x7
		rs1    = int(insn >> 15 & 0x1f)
		rs2    = int(insn >> 20 & 0x1f)
		funct7 = insn >> 25
		a      = m.x[rs1]
		b      = m.x[rs2]
		next   = pc + 4
	)

	switch insn & 0x7f {
	case opLui:
		m.SetReg(rd, immU(insn))

	case opAuipc:
		m.SetReg(rd, pc+immU(insn))

	case opJal:
		m.SetReg(rd, next)
		next = pc + immJ(insn)

	case opJalr:
		if funct3 != 0 {
			return illegal, true
		}
		target := (a + immI(insn)) &^ 1
		m.SetReg(rd, next)
		next = target

	case opBranch:
		var taken bool
		switch funct3 {
		case 0:
			taken = a == b
		case 1:
			taken = a != b
		case 4:
			taken = int64(a) < int64(b)
		case 5:
			taken = int64(a) >= int64(b)
		case 6:
			taken = a < b
		case 7:
			taken = a >= b
		default:
			return illegal, true
		}
		if taken {
			next = pc + immB(insn)
		}

	case opLoad:
		var size int
		var signed bool
		switch funct3 {
		case 0:
			size, signed = 1, true
		case 1:
			size, signed = 2, true
		case 2:
			size, signed = 4, true
		case 3:
			size = 8
		case 4:
			size = 1
		case 5:
			size = 2
		case 6:
			size = 4
		default:
			return illegal, true
		}
		v, exc, trapped := m.load(a+immI(insn), size)
		if trapped {
			return exc, true
		}
		if signed && size < 8 {
			shift := 64 - 8*size
			v = uint64(int64(v<<shift) >> shift)
		}
		m.SetReg(rd, v)

	case opStore:
		if funct3 > 3 {
			return illegal, true
		}
		if exc, trapped := m.store(a+immS(insn), 1<<funct3, b); trapped {
			return exc, true
		}

	case opImm:
		imm := immI(insn)
		shamt := insn >> 20 & 0x3f
		switch funct3 {
		case 0:
			m.SetReg(rd, a+imm)
		case 1:
			if insn>>26 != 0 {
				return illegal, true
			}
			m.SetReg(rd, a<<shamt)
		case 2:
			m.SetReg(rd, boolToReg(int64(a) < int64(imm)))
		case 3:
			m.SetReg(rd, boolToReg(a < imm))
		case 4:
			m.SetReg(rd, a^imm)
		case 5:
			switch insn >> 26 {
			case 0:
				m.SetReg(rd, a>>shamt)
			case 0x10:
				m.SetReg(rd, uint64(int64(a)>>shamt))
			default:
				return illegal, true
			}
		case 6:
			m.SetReg(rd, a|imm)
		case 7:
			m.SetReg(rd, a&imm)
		}

	case opImm32:
		shamt := insn >> 20 & 0x1f
		switch {
		case funct3 == 0:
			m.SetReg(rd, sext32(a+immI(insn)))
		case funct3 == 1 && funct7 == 0:
			m.SetReg(rd, sext32(a<<shamt))
		case funct3 == 5 && funct7 == 0:
			m.SetReg(rd, sext32(uint64(uint32(a)>>shamt)))
		case funct3 == 5 && funct7 == 0x20:
			m.SetReg(rd, uint64(int64(int32(a)>>shamt)))
		default:
			return illegal, true
		}

	case opOp:
		v, ok := execOp(funct7, funct3, a, b)
		if !ok {
			return illegal, true
		}
		m.SetReg(rd, v)

	case opOp32:
		v, ok := execOp32(funct7, funct3, a, b)
		if !ok {
			return illegal, true
		}
		m.SetReg(rd, v)

	case opMiscMem:
		// FENCE and FENCE.I: the hart is in-order with no caches to sync.
		if funct3 > 1 {
			return illegal, true
		}

	case opSystem:
		return m.execSystem(insn, funct3, rd, rs1, illegal)

	default:
		return illegal, true
	}

	m.pc = next
	return exception{}, false
}

func boolToReg(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// execOp executes an OP instruction, including the M extension.
func execOp(funct7, funct3 uint32, a, b uint64) (uint64, bool) {
	switch funct7 {
	case 0:
		switch funct3 {
		case 0:
			return a + b, true
		case 1:
			return a << (b & 0x3f), true
		case 2:
			return boolToReg(int64(a) < int64(b)), true
		case 3:
			return boolToReg(a < b), true
		case 4:
			return a ^ b, true
		case 5:
			return a >> (b & 0x3f), true
		case 6:
			return a | b, true
		case 7:
			return a & b, true
		}
	case 0x20:
		switch funct3 {
		case 0:
			return a - b, true
		case 5:
			return uint64(int64(a) >> (b & 0x3f)), true
		}
	case 1:
		switch funct3 {
		case 0:
			return a * b, true
		case 1:
			return mulh(a, b), true
		case 2:
			return mulhsu(a, b), true
		case 3:
			hi, _ := bits.Mul64(a, b)
			return hi, true
		case 4:
			return uint64(div(int64(a), int64(b))), true
		case 5:
			if b == 0 {
				return math.MaxUint64, true
			}
			return a / b, true
		case 6:
			return uint64(rem(int64(a), int64(b))), true
		case 7:
			if b == 0 {
				return a, true
			}
			return a % b, true
		}
	}
	return 0, false
}

// execOp32 executes an OP-32 instruction, including the M extension.
func execOp32(funct7, funct3 uint32, a, b uint64) (uint64, bool) {
	shamt := b & 0x1f
	switch funct7 {
	case 0:
		switch funct3 {
		case 0:
			return sext32(a + b), true
		case 1:
			return sext32(a << shamt), true
		case 5:
			return sext32(uint64(uint32(a) >> shamt)), true
		}
	case 0x20:
		switch funct3 {
		case 0:
			return sext32(a - b), true
		case 5:
			return uint64(int64(int32(a) >> shamt)), true
		}
	case 1:
		x, y := int32(a), int32(b)
		switch funct3 {
		case 0:
			return sext32(uint64(x * y)), true
		case 4:
			switch {
			case y == 0:
				return math.MaxUint64, true
			case x == math.MinInt32 && y == -1:
				return uint64(int64(x)), true
			}
			return uint64(int64(x / y)), true
		case 5:
			if uint32(b) == 0 {
				return math.MaxUint64, true
			}
			return sext32(uint64(uint32(a) / uint32(b))), true
		case 6:
			switch {
			case y == 0:
				return uint64(int64(x)), true
			case x == math.MinInt32 && y == -1:
				return 0, true
			}
			return uint64(int64(x % y)), true
		case 7:
			if uint32(b) == 0 {
				return sext32(a), true
			}
			return sext32(uint64(uint32(a) % uint32(b))), true
		}
	}
	return 0, false
}

func div(a, b int64) int64 {
	switch {
	case b == 0:
		return -1
	case a == math.MinInt64 && b == -1:
		return a
	}
	return a / b
}

func rem(a, b int64) int64 {
	switch {
	case b == 0:
		return a
	case a == math.MinInt64 && b == -1:
		return 0
	}
	return a % b
}

// mulh returns the high 64 bits of the signed product.
func mulh(a, b uint64) uint64 {
	hi, _ := bits.Mul64(a, b)
	if int64(a) < 0 {
		hi -= b
	}
	if int64(b) < 0 {
		hi -= a
	}
	return hi
}

// mulhsu returns the high 64 bits of signed a times unsigned b.
func mulhsu(a, b uint64) uint64 {
	hi, _ := bits.Mul64(a, b)
	if int64(a) < 0 {
		hi -= b
	}
	return hi
}

// execSystem executes ECALL, EBREAK, SRET, WFI and the counter CSR reads.
func (m *Machine) execSystem(insn, funct3 uint32, rd, rs1 int, illegal exception) (exception, bool) {
	if funct3 == 0 {
		switch insn {
		case insnEcall:
			if m.priv == platform.UserMode {
				return exception{hostarch.ExceptionUserEnvCall, 0}, true
			}
			return exception{hostarch.ExceptionSupervisorEnvCall, 0}, true
		case insnEbreak:
			return exception{hostarch.ExceptionBreakpoint, m.pc}, true
		case insnWfi:
			if m.priv == platform.UserMode {
				return illegal, true
			}
			m.pc += 4
			return exception{}, false
		default:
			// SRET from S-mode code would leave the emulator; the kernel
			// never runs supervisor code on the hart.
			return illegal, true
		}
	}

	// CSRRS/CSRRC with rs1 == x0 and CSRRSI/CSRRCI with a zero immediate
	// are pure reads. Every other CSR access is illegal.
	op := funct3 & 3
	if funct3 == 4 || op == 1 || rs1 != 0 {
		return illegal, true
	}
	var v uint64
	switch insn >> 20 {
	case hostarch.CSRCycle:
		v = m.cycle
	case hostarch.CSRTime:
		v = m.time
	case hostarch.CSRInstret:
		v = m.instret
	default:
		return illegal, true
	}
	m.SetReg(rd, v)
	m.pc += 4
	return exception{}, false
}
