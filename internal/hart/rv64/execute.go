package rv64

import (
	"math/bits"

	"github.com/tinyrange/sbirt/internal/riscv"
)

const (
	opLoad    = 0b0000011
	opMiscMem = 0b0001111
	opOpImm   = 0b0010011
	opAuipc   = 0b0010111
	opOpImm32 = 0b0011011
	opStore   = 0b0100011
	opAMO     = 0b0101111
	opOp      = 0b0110011
	opLui     = 0b0110111
	opOp32    = 0b0111011
	opBranch  = 0b1100011
	opJalr    = 0b1100111
	opJal     = 0b1101111
	opSystem  = 0b1110011
)

func rd(insn uint32) uint32     { return (insn >> 7) & 0x1f }
func funct3(insn uint32) uint32 { return (insn >> 12) & 7 }
func rs1(insn uint32) uint32    { return (insn >> 15) & 0x1f }
func rs2(insn uint32) uint32    { return (insn >> 20) & 0x1f }
func funct7(insn uint32) uint32 { return insn >> 25 }

func immI(insn uint32) uint64 { return signExtend(uint64(insn>>20), 12) }

func immS(insn uint32) uint64 {
	return signExtend(uint64(insn>>25)<<5|uint64(insn>>7)&0x1f, 12)
}

func immB(insn uint32) uint64 {
	v := uint64(insn>>31)<<12 | uint64(insn>>7&1)<<11 |
		uint64(insn>>25&0x3f)<<5 | uint64(insn>>8&0xf)<<1
	return signExtend(v, 13)
}

func immU(insn uint32) uint64 { return sext32(uint64(insn & 0xfffff000)) }

func immJ(insn uint32) uint64 {
	v := uint64(insn>>31)<<20 | uint64(insn>>12&0xff)<<12 |
		uint64(insn>>20&1)<<11 | uint64(insn>>21&0x3ff)<<1
	return signExtend(v, 21)
}

func (c *CPU) execute(insn uint32) error {
	switch insn & 0x7f {
	case opLui:
		c.setReg(rd(insn), immU(insn))
	case opAuipc:
		c.setReg(rd(insn), c.pc+immU(insn))
	case opJal:
		c.setReg(rd(insn), c.next)
		c.next = c.pc + immJ(insn)
	case opJalr:
		if funct3(insn) != 0 {
			return c.illegal()
		}
		target := (c.reg(rs1(insn)) + immI(insn)) &^ 1
		c.setReg(rd(insn), c.next)
		c.next = target
	case opBranch:
		return c.branch(insn)
	case opLoad:
		return c.execLoad(insn)
	case opStore:
		return c.execStore(insn)
	case opOpImm:
		return c.opImm(insn)
	case opOpImm32:
		return c.opImm32(insn)
	case opOp:
		return c.op(insn)
	case opOp32:
		return c.op32(insn)
	case opMiscMem:
		// FENCE and FENCE.I are no-ops on a single in-order hart.
		if f := funct3(insn); f > 1 {
			return c.illegal()
		}
	case opAMO:
		return c.amo(insn)
	case opSystem:
		return c.system(insn)
	default:
		return c.illegal()
	}
	return nil
}

func (c *CPU) branch(insn uint32) error {
	a, b := c.reg(rs1(insn)), c.reg(rs2(insn))
	var taken bool
	switch funct3(insn) {
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
		return c.illegal()
	}
	if taken {
		c.next = c.pc + immB(insn)
	}
	return nil
}

func (c *CPU) execLoad(insn uint32) error {
	addr := c.reg(rs1(insn)) + immI(insn)
	f := funct3(insn)
	size := 1 << (f & 3)
	if f == 7 {
		return c.illegal()
	}
	v, err := c.load(addr, size)
	if err != nil {
		return err
	}
	if f < 4 && size < 8 {
		v = signExtend(v, uint(size*8))
	}
	c.setReg(rd(insn), v)
	return nil
}

func (c *CPU) execStore(insn uint32) error {
	f := funct3(insn)
	if f > 3 {
		return c.illegal()
	}
	return c.store(c.reg(rs1(insn))+immS(insn), 1<<f, c.reg(rs2(insn)))
}

func (c *CPU) opImm(insn uint32) error {
	a := c.reg(rs1(insn))
	imm := immI(insn)
	shamt := uint(insn>>20) & 0x3f
	var v uint64
	switch funct3(insn) {
	case 0:
		v = a + imm
	case 1:
		if insn>>26 != 0 {
			return c.illegal()
		}
		v = a << shamt
	case 2:
		v = b2u(int64(a) < int64(imm))
	case 3:
		v = b2u(a < imm)
	case 4:
		v = a ^ imm
	case 5:
		switch insn >> 26 {
		case 0:
			v = a >> shamt
		case 0x10:
			v = uint64(int64(a) >> shamt)
		default:
			return c.illegal()
		}
	case 6:
		v = a | imm
	case 7:
		v = a & imm
	}
	c.setReg(rd(insn), v)
	return nil
}

func (c *CPU) opImm32(insn uint32) error {
	a := uint32(c.reg(rs1(insn)))
	shamt := (insn >> 20) & 0x1f
	var v uint32
	switch funct3(insn) {
	case 0:
		v = a + uint32(immI(insn))
	case 1:
		if funct7(insn) != 0 {
			return c.illegal()
		}
		v = a << shamt
	case 5:
		switch funct7(insn) {
		case 0:
			v = a >> shamt
		case 0x20:
			v = uint32(int32(a) >> shamt)
		default:
			return c.illegal()
		}
	default:
		return c.illegal()
	}
	c.setReg(rd(insn), sext32(uint64(v)))
	return nil
}

func (c *CPU) op(insn uint32) error {
	a, b := c.reg(rs1(insn)), c.reg(rs2(insn))
	f3 := funct3(insn)
	var v uint64
	switch funct7(insn) {
	case 0:
		switch f3 {
		case 0:
			v = a + b
		case 1:
			v = a << (b & 63)
		case 2:
			v = b2u(int64(a) < int64(b))
		case 3:
			v = b2u(a < b)
		case 4:
			v = a ^ b
		case 5:
			v = a >> (b & 63)
		case 6:
			v = a | b
		case 7:
			v = a & b
		}
	case 0x20:
		switch f3 {
		case 0:
			v = a - b
		case 5:
			v = uint64(int64(a) >> (b & 63))
		default:
			return c.illegal()
		}
	case 1:
		v = mulDiv(f3, a, b)
	default:
		return c.illegal()
	}
	c.setReg(rd(insn), v)
	return nil
}

func (c *CPU) op32(insn uint32) error {
	a, b := uint32(c.reg(rs1(insn))), uint32(c.reg(rs2(insn)))
	f3 := funct3(insn)
	var v uint32
	switch funct7(insn) {
	case 0:
		switch f3 {
		case 0:
			v = a + b
		case 1:
			v = a << (b & 31)
		case 5:
			v = a >> (b & 31)
		default:
			return c.illegal()
		}
	case 0x20:
		switch f3 {
		case 0:
			v = a - b
		case 5:
			v = uint32(int32(a) >> (b & 31))
		default:
			return c.illegal()
		}
	case 1:
		var ok bool
		if v, ok = mulDiv32(f3, a, b); !ok {
			return c.illegal()
		}
	default:
		return c.illegal()
	}
	c.setReg(rd(insn), sext32(uint64(v)))
	return nil
}

func mulDiv(f3 uint32, a, b uint64) uint64 {
	sa, sb := int64(a), int64(b)
	switch f3 {
	case 0:
		return a * b
	case 1:
		hi, _ := bits.Mul64(a, b)
		if sa < 0 {
			hi -= b
		}
		if sb < 0 {
			hi -= a
		}
		return hi
	case 2:
		hi, _ := bits.Mul64(a, b)
		if sa < 0 {
			hi -= b
		}
		return hi
	case 3:
		hi, _ := bits.Mul64(a, b)
		return hi
	case 4:
		switch {
		case b == 0:
			return ^uint64(0)
		case sa == -1<<63 && sb == -1:
			return a
		}
		return uint64(sa / sb)
	case 5:
		if b == 0 {
			return ^uint64(0)
		}
		return a / b
	case 6:
		switch {
		case b == 0:
			return a
		case sa == -1<<63 && sb == -1:
			return 0
		}
		return uint64(sa % sb)
	default:
		if b == 0 {
			return a
		}
		return a % b
	}
}

func mulDiv32(f3 uint32, a, b uint32) (uint32, bool) {
	sa, sb := int32(a), int32(b)
	switch f3 {
	case 0:
		return a * b, true
	case 4:
		switch {
		case b == 0:
			return ^uint32(0), true
		case sa == -1<<31 && sb == -1:
			return a, true
		}
		return uint32(sa / sb), true
	case 5:
		if b == 0 {
			return ^uint32(0), true
		}
		return a / b, true
	case 6:
		switch {
		case b == 0:
			return a, true
		case sa == -1<<31 && sb == -1:
			return 0, true
		}
		return uint32(sa % sb), true
	case 7:
		if b == 0 {
			return a, true
		}
		return a % b, true
	}
	return 0, false
}

func (c *CPU) system(insn uint32) error {
	if funct3(insn) != 0 {
		if funct3(insn) == 4 {
			return c.illegal()
		}
		return c.csrOp(insn)
	}
	if rd(insn) != 0 {
		return c.illegal()
	}

	if funct7(insn) == 0x09 {
		if c.priv == riscv.PrivUser ||
			(c.priv == riscv.PrivSupervisor && c.csr.mstatus&riscv.MstatusTVM != 0) {
			return c.illegal()
		}
		c.mmu.flush()
		return nil
	}

	switch insn {
	case riscv.InsnEcall:
		switch c.priv {
		case riscv.PrivUser:
			return exception(riscv.CauseEcallFromU, 0)
		case riscv.PrivSupervisor:
			return exception(riscv.CauseEcallFromS, 0)
		}
		return exception(riscv.CauseEcallFromM, 0)
	case riscv.InsnEbreak:
		if c.quirks.BreakpointIllegal {
			return c.illegal()
		}
		return exception(riscv.CauseBreakpoint, c.pc)
	case riscv.InsnMret:
		if c.priv != riscv.PrivMachine {
			return c.illegal()
		}
		c.mret()
	case riscv.InsnSret:
		if c.priv == riscv.PrivUser ||
			(c.priv == riscv.PrivSupervisor && c.csr.mstatus&riscv.MstatusTSR != 0) {
			return c.illegal()
		}
		c.sret()
	case riscv.InsnWfi:
		if c.priv == riscv.PrivUser ||
			(c.priv == riscv.PrivSupervisor && c.csr.mstatus&riscv.MstatusTW != 0) {
			return c.illegal()
		}
		c.wfi = true
	default:
		return c.illegal()
	}
	return nil
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
