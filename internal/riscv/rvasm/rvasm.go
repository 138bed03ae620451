// Package rvasm assembles small RV64 guest programs. It covers the subset
// needed to drive the monitor from tests and boot stubs.
package rvasm

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/tinyrange/sbirt/internal/riscv"
)

type fixup struct {
	at    int
	label string
	kind  byte // 'j' or 'b'
	insn  uint32
}

// Program is an instruction stream under construction. The first error is
// kept and returned by Bytes.
type Program struct {
	code   []byte
	labels map[string]int
	fixups []fixup
	err    error
}

func (p *Program) setErr(err error) {
	if p.err == nil {
		p.err = err
	}
}

// Len is the current size in bytes.
func (p *Program) Len() int { return len(p.code) }

// Word emits a raw 32-bit instruction.
func (p *Program) Word(w uint32) {
	p.code = binary.LittleEndian.AppendUint32(p.code, w)
}

// Half emits a raw 16-bit instruction.
func (p *Program) Half(h uint16) {
	p.code = binary.LittleEndian.AppendUint16(p.code, h)
}

func encodeI(imm int64, rs1, funct3, rd, opcode uint32) (uint32, error) {
	if imm < -2048 || imm > 2047 {
		return 0, fmt.Errorf("rvasm: immediate %d out of range for I-type", imm)
	}
	return uint32(imm)&0xfff<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode, nil
}

func encodeS(imm int64, rs1, rs2, funct3, opcode uint32) (uint32, error) {
	if imm < -2048 || imm > 2047 {
		return 0, fmt.Errorf("rvasm: immediate %d out of range for S-type", imm)
	}
	u := uint32(imm) & 0xfff
	return u>>5<<25 | rs2<<20 | rs1<<15 | funct3<<12 | u&0x1f<<7 | opcode, nil
}

func (p *Program) emitI(imm int64, rs1, funct3, rd, opcode uint32) {
	insn, err := encodeI(imm, rs1, funct3, rd, opcode)
	if err != nil {
		p.setErr(err)
		return
	}
	p.Word(insn)
}

func reg(r int) uint32 { return uint32(r) & 0x1f }

// Addi emits addi rd, rs1, imm.
func (p *Program) Addi(rd, rs1 int, imm int64) { p.emitI(imm, reg(rs1), 0, reg(rd), 0x13) }

// Addiw emits addiw rd, rs1, imm.
func (p *Program) Addiw(rd, rs1 int, imm int64) { p.emitI(imm, reg(rs1), 0, reg(rd), 0x1b) }

// Slli emits slli rd, rs1, shamt.
func (p *Program) Slli(rd, rs1 int, shamt uint) {
	p.Word(uint32(shamt&63)<<20 | reg(rs1)<<15 | 1<<12 | reg(rd)<<7 | 0x13)
}

// Lui emits lui rd, imm20.
func (p *Program) Lui(rd int, imm20 int64) {
	p.Word(uint32(imm20)&0xfffff<<12 | reg(rd)<<7 | 0x37)
}

// Li loads an arbitrary 64-bit constant using lui/addiw/slli/addi.
func (p *Program) Li(rd int, v uint64) {
	p.li(rd, int64(v))
}

func (p *Program) li(rd int, v int64) {
	if v >= -2048 && v <= 2047 {
		p.Addi(rd, riscv.RegZero, v)
		return
	}
	if v == int64(int32(v)) {
		lo := v << 52 >> 52
		hi := (v - lo) >> 12
		p.Lui(rd, hi)
		if lo != 0 {
			p.Addiw(rd, rd, lo)
		}
		return
	}
	lo := v << 52 >> 52
	rest := (v - lo) >> 12
	shift := 12 + bits.TrailingZeros64(uint64(rest))
	rest >>= uint(shift - 12)
	p.li(rd, rest)
	p.Slli(rd, rd, uint(shift))
	if lo != 0 {
		p.Addi(rd, rd, lo)
	}
}

// Ld emits ld rd, off(rs1).
func (p *Program) Ld(rd, rs1 int, off int64) { p.emitI(off, reg(rs1), 3, reg(rd), 0x03) }

// Lw emits lw rd, off(rs1).
func (p *Program) Lw(rd, rs1 int, off int64) { p.emitI(off, reg(rs1), 2, reg(rd), 0x03) }

// Sd emits sd rs2, off(rs1).
func (p *Program) Sd(rs2, rs1 int, off int64) {
	insn, err := encodeS(off, reg(rs1), reg(rs2), 3, 0x23)
	if err != nil {
		p.setErr(err)
		return
	}
	p.Word(insn)
}

// Csrr emits csrrs rd, csr, x0.
func (p *Program) Csrr(rd int, csr uint16) {
	p.Word(uint32(csr)<<20 | 2<<12 | reg(rd)<<7 | 0x73)
}

// Csrw emits csrrw x0, csr, rs1.
func (p *Program) Csrw(csr uint16, rs1 int) {
	p.Word(uint32(csr)<<20 | reg(rs1)<<15 | 1<<12 | 0x73)
}

// Rdtime emits rdtime rd.
func (p *Program) Rdtime(rd int) { p.Csrr(rd, riscv.CSRTime) }

func (p *Program) Ecall()     { p.Word(riscv.InsnEcall) }
func (p *Program) Ebreak()    { p.Word(riscv.InsnEbreak) }
func (p *Program) CEbreak()   { p.Half(uint16(riscv.InsnCEbreak)) }
func (p *Program) Wfi()       { p.Word(riscv.InsnWfi) }
func (p *Program) Sret()      { p.Word(riscv.InsnSret) }
func (p *Program) SfenceVMA() { p.Word(0x1200_0073) }

// Label binds name to the current position.
func (p *Program) Label(name string) {
	if p.labels == nil {
		p.labels = make(map[string]int)
	}
	if _, dup := p.labels[name]; dup {
		p.setErr(fmt.Errorf("rvasm: duplicate label %q", name))
	}
	p.labels[name] = len(p.code)
}

// J emits jal x0, label.
func (p *Program) J(label string) { p.Jal(riscv.RegZero, label) }

// Jal emits jal rd, label.
func (p *Program) Jal(rd int, label string) {
	p.fixups = append(p.fixups, fixup{at: len(p.code), label: label, kind: 'j', insn: reg(rd)<<7 | 0x6f})
	p.Word(0)
}

// Bne emits bne rs1, rs2, label.
func (p *Program) Bne(rs1, rs2 int, label string) { p.branch(1, rs1, rs2, label) }

// Beq emits beq rs1, rs2, label.
func (p *Program) Beq(rs1, rs2 int, label string) { p.branch(0, rs1, rs2, label) }

func (p *Program) branch(funct3 uint32, rs1, rs2 int, label string) {
	insn := reg(rs2)<<20 | reg(rs1)<<15 | funct3<<12 | 0x63
	p.fixups = append(p.fixups, fixup{at: len(p.code), label: label, kind: 'b', insn: insn})
	p.Word(0)
}

// Bytes resolves labels and returns the machine code.
func (p *Program) Bytes() ([]byte, error) {
	if p.err != nil {
		return nil, p.err
	}
	out := append([]byte(nil), p.code...)
	for _, f := range p.fixups {
		target, ok := p.labels[f.label]
		if !ok {
			return nil, fmt.Errorf("rvasm: undefined label %q", f.label)
		}
		off := uint32(int32(target - f.at))
		insn := f.insn
		switch f.kind {
		case 'j':
			if int32(off) < -(1<<20) || int32(off) >= 1<<20 {
				return nil, fmt.Errorf("rvasm: jump to %q out of range", f.label)
			}
			insn |= off>>20&1<<31 | off>>1&0x3ff<<21 | off>>11&1<<20 | off>>12&0xff<<12
		case 'b':
			if int32(off) < -(1<<12) || int32(off) >= 1<<12 {
				return nil, fmt.Errorf("rvasm: branch to %q out of range", f.label)
			}
			insn |= off>>12&1<<31 | off>>5&0x3f<<25 | off>>1&0xf<<8 | off>>11&1<<7
		}
		binary.LittleEndian.PutUint32(out[f.at:], insn)
	}
	return out, nil
}

// MustBytes is Bytes for fixed programs whose assembly cannot fail.
func (p *Program) MustBytes() []byte {
	b, err := p.Bytes()
	if err != nil {
		panic(err)
	}
	return b
}
