package rv64

import "github.com/tinyrange/sbirt/internal/riscv"

const (
	amoAdd  = 0b00000
	amoSwap = 0b00001
	amoLR   = 0b00010
	amoSC   = 0b00011
	amoXor  = 0b00100
	amoOr   = 0b01000
	amoAnd  = 0b01100
	amoMin  = 0b10000
	amoMax  = 0b10100
	amoMinU = 0b11000
	amoMaxU = 0b11100
)

func (c *CPU) amo(insn uint32) error {
	var size int
	switch funct3(insn) {
	case 2:
		size = 4
	case 3:
		size = 8
	default:
		return c.illegal()
	}
	addr := c.reg(rs1(insn))
	if addr&uint64(size-1) != 0 {
		if insn>>27 == amoLR {
			return exception(riscv.CauseLoadAddrMisaligned, addr)
		}
		return exception(riscv.CauseStoreAddrMisaligned, addr)
	}

	switch op := insn >> 27; op {
	case amoLR:
		v, err := c.load(addr, size)
		if err != nil {
			return err
		}
		pa, _ := c.mmu.translate(addr, accessLoad)
		c.reservation, c.reservationValid = pa&^7, true
		c.setReg(rd(insn), widen(v, size))
		return nil
	case amoSC:
		pa, err := c.mmu.translate(addr, accessStore)
		if err != nil {
			return err
		}
		if !c.reservationValid || c.reservation != pa&^7 {
			c.setReg(rd(insn), 1)
			return nil
		}
		if err := c.store(addr, size, c.reg(rs2(insn))); err != nil {
			return err
		}
		c.reservationValid = false
		c.setReg(rd(insn), 0)
		return nil
	default:
		// AMOs need write permission even for the read half.
		if _, err := c.mmu.translate(addr, accessStore); err != nil {
			return err
		}
		old, err := c.load(addr, size)
		if err != nil {
			return exception(riscv.CauseStoreAccessFault, addr)
		}
		old = widen(old, size)
		src := widen(c.reg(rs2(insn)), size)
		var v uint64
		switch op {
		case amoAdd:
			v = old + src
		case amoSwap:
			v = src
		case amoXor:
			v = old ^ src
		case amoOr:
			v = old | src
		case amoAnd:
			v = old & src
		case amoMin:
			v = choose(int64(old) < int64(src), old, src)
		case amoMax:
			v = choose(int64(old) > int64(src), old, src)
		case amoMinU:
			v = choose(old < src, old, src)
		case amoMaxU:
			v = choose(old > src, old, src)
		default:
			return c.illegal()
		}
		if err := c.store(addr, size, v); err != nil {
			return err
		}
		c.setReg(rd(insn), old)
		return nil
	}
}

// widen sign-extends word-sized AMO operands.
func widen(v uint64, size int) uint64 {
	if size == 4 {
		return sext32(v)
	}
	return v
}

func choose(cond bool, a, b uint64) uint64 {
	if cond {
		return a
	}
	return b
}
