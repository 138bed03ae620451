package rv64

import "github.com/tinyrange/sbirt/internal/riscv"

// Encoders for the 32-bit forms that compressed instructions expand to.
func encI(imm uint32, rs1, f3, rd, op uint32) uint32 {
	return imm<<20 | rs1<<15 | f3<<12 | rd<<7 | op
}

func encS(imm uint32, rs1, rs2, f3, op uint32) uint32 {
	return (imm>>5&0x7f)<<25 | rs2<<20 | rs1<<15 | f3<<12 | (imm&0x1f)<<7 | op
}

func encR(f7, rs2, rs1, f3, rd, op uint32) uint32 {
	return f7<<25 | rs2<<20 | rs1<<15 | f3<<12 | rd<<7 | op
}

func encB(imm uint32, rs1, rs2, f3 uint32) uint32 {
	return (imm>>12&1)<<31 | (imm>>5&0x3f)<<25 | rs2<<20 | rs1<<15 |
		f3<<12 | (imm>>1&0xf)<<8 | (imm>>11&1)<<7 | opBranch
}

func encJ(imm uint32, rd uint32) uint32 {
	return (imm>>20&1)<<31 | (imm>>1&0x3ff)<<21 | (imm>>11&1)<<20 |
		(imm>>12&0xff)<<12 | rd<<7 | opJal
}

// bit extracts insn[hi:lo] and places it at position to.
func bit(insn uint16, hi, lo, to uint) uint32 {
	n := hi - lo + 1
	return (uint32(insn) >> lo & (1<<n - 1)) << to
}

// sext sign-extends the low n bits of v as a 32-bit immediate.
func sext(v uint32, n uint) uint32 {
	return uint32(int32(v<<(32-n)) >> (32 - n))
}

func creg(insn uint16, lo uint) uint32 { return uint32(insn>>lo&7) + 8 }

func cillegal(insn uint16) error {
	return exception(riscv.CauseIllegalInsn, uint64(insn))
}

// expandCompressed maps an RVC encoding to its RV64 equivalent. Floating
// point forms are rejected since the hart has no FPU.
func expandCompressed(insn uint16) (uint32, error) {
	rdFull := uint32(insn>>7) & 0x1f
	rs2Full := uint32(insn>>2) & 0x1f
	imm6 := sext(bit(insn, 12, 12, 5)|bit(insn, 6, 2, 0), 6)
	ldImm := bit(insn, 12, 10, 3) | bit(insn, 6, 5, 6)
	lwImm := bit(insn, 12, 10, 3) | bit(insn, 6, 6, 2) | bit(insn, 5, 5, 6)

	switch insn&3<<3 | insn>>13 {
	case 0<<3 | 0: // c.addi4spn
		imm := bit(insn, 12, 11, 4) | bit(insn, 10, 7, 6) | bit(insn, 6, 6, 2) | bit(insn, 5, 5, 3)
		if imm == 0 {
			return 0, cillegal(insn)
		}
		return encI(imm, riscv.RegSP, 0, creg(insn, 2), opOpImm), nil
	case 0<<3 | 2: // c.lw
		return encI(lwImm, creg(insn, 7), 2, creg(insn, 2), opLoad), nil
	case 0<<3 | 3: // c.ld
		return encI(ldImm, creg(insn, 7), 3, creg(insn, 2), opLoad), nil
	case 0<<3 | 6: // c.sw
		return encS(lwImm, creg(insn, 7), creg(insn, 2), 2, opStore), nil
	case 0<<3 | 7: // c.sd
		return encS(ldImm, creg(insn, 7), creg(insn, 2), 3, opStore), nil

	case 1<<3 | 0: // c.addi, c.nop
		return encI(imm6&0xfff, rdFull, 0, rdFull, opOpImm), nil
	case 1<<3 | 1: // c.addiw
		if rdFull == 0 {
			return 0, cillegal(insn)
		}
		return encI(imm6&0xfff, rdFull, 0, rdFull, opOpImm32), nil
	case 1<<3 | 2: // c.li
		return encI(imm6&0xfff, 0, 0, rdFull, opOpImm), nil
	case 1<<3 | 3:
		if rdFull == riscv.RegSP { // c.addi16sp
			imm := sext(bit(insn, 12, 12, 9)|bit(insn, 6, 6, 4)|bit(insn, 5, 5, 6)|
				bit(insn, 4, 3, 7)|bit(insn, 2, 2, 5), 10)
			if imm == 0 {
				return 0, cillegal(insn)
			}
			return encI(imm&0xfff, riscv.RegSP, 0, riscv.RegSP, opOpImm), nil
		}
		if rdFull == 0 || imm6 == 0 { // c.lui
			return 0, cillegal(insn)
		}
		return imm6<<12 | rdFull<<7 | opLui, nil
	case 1<<3 | 4:
		return expandArith(insn)
	case 1<<3 | 5: // c.j
		return encJ(cjImm(insn), 0), nil
	case 1<<3 | 6, 1<<3 | 7: // c.beqz, c.bnez
		imm := sext(bit(insn, 12, 12, 8)|bit(insn, 11, 10, 3)|bit(insn, 6, 5, 6)|
			bit(insn, 4, 3, 1)|bit(insn, 2, 2, 5), 9)
		return encB(imm, creg(insn, 7), 0, uint32(insn>>13)&1), nil

	case 2<<3 | 0: // c.slli
		if rdFull == 0 {
			return 0, cillegal(insn)
		}
		return encI(bit(insn, 12, 12, 5)|rs2Full, rdFull, 1, rdFull, opOpImm), nil
	case 2<<3 | 2: // c.lwsp
		if rdFull == 0 {
			return 0, cillegal(insn)
		}
		imm := bit(insn, 12, 12, 5) | bit(insn, 6, 4, 2) | bit(insn, 3, 2, 6)
		return encI(imm, riscv.RegSP, 2, rdFull, opLoad), nil
	case 2<<3 | 3: // c.ldsp
		if rdFull == 0 {
			return 0, cillegal(insn)
		}
		imm := bit(insn, 12, 12, 5) | bit(insn, 6, 5, 3) | bit(insn, 4, 2, 6)
		return encI(imm, riscv.RegSP, 3, rdFull, opLoad), nil
	case 2<<3 | 4:
		return expandJumpAdd(insn, rdFull, rs2Full)
	case 2<<3 | 6: // c.swsp
		imm := bit(insn, 12, 9, 2) | bit(insn, 8, 7, 6)
		return encS(imm, riscv.RegSP, rs2Full, 2, opStore), nil
	case 2<<3 | 7: // c.sdsp
		imm := bit(insn, 12, 10, 3) | bit(insn, 9, 7, 6)
		return encS(imm, riscv.RegSP, rs2Full, 3, opStore), nil
	}
	return 0, cillegal(insn)
}

func cjImm(insn uint16) uint32 {
	return sext(bit(insn, 12, 12, 11)|bit(insn, 11, 11, 4)|bit(insn, 10, 9, 8)|
		bit(insn, 8, 8, 10)|bit(insn, 7, 7, 6)|bit(insn, 6, 6, 7)|
		bit(insn, 5, 3, 1)|bit(insn, 2, 2, 5), 12)
}

func expandArith(insn uint16) (uint32, error) {
	rd := creg(insn, 7)
	shamt := bit(insn, 12, 12, 5) | uint32(insn>>2)&0x1f
	switch insn >> 10 & 3 {
	case 0: // c.srli
		return encI(shamt, rd, 5, rd, opOpImm), nil
	case 1: // c.srai
		return encI(0x400|shamt, rd, 5, rd, opOpImm), nil
	case 2: // c.andi
		imm := sext(bit(insn, 12, 12, 5)|uint32(insn>>2)&0x1f, 6)
		return encI(imm&0xfff, rd, 7, rd, opOpImm), nil
	}
	rs2 := creg(insn, 2)
	switch insn>>12&1<<2 | insn>>5&3 {
	case 0: // c.sub
		return encR(0x20, rs2, rd, 0, rd, opOp), nil
	case 1: // c.xor
		return encR(0, rs2, rd, 4, rd, opOp), nil
	case 2: // c.or
		return encR(0, rs2, rd, 6, rd, opOp), nil
	case 3: // c.and
		return encR(0, rs2, rd, 7, rd, opOp), nil
	case 4: // c.subw
		return encR(0x20, rs2, rd, 0, rd, opOp32), nil
	case 5: // c.addw
		return encR(0, rs2, rd, 0, rd, opOp32), nil
	}
	return 0, cillegal(insn)
}

func expandJumpAdd(insn uint16, rs1, rs2 uint32) (uint32, error) {
	if insn>>12&1 == 0 {
		switch {
		case rs2 == 0 && rs1 == 0:
			return 0, cillegal(insn)
		case rs2 == 0: // c.jr
			return encI(0, rs1, 0, 0, opJalr), nil
		default: // c.mv
			return encR(0, rs2, 0, 0, rs1, opOp), nil
		}
	}
	switch {
	case rs2 == 0 && rs1 == 0:
		return riscv.InsnEbreak, nil
	case rs2 == 0: // c.jalr
		return encI(0, rs1, 0, riscv.RegRA, opJalr), nil
	default: // c.add
		return encR(0, rs2, rs1, 0, rs1, opOp), nil
	}
}
