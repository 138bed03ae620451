package rvasm

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tinyrange/sbirt/internal/riscv"
)

func words(t *testing.T, p *Program) []uint32 {
	t.Helper()
	b, err := p.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	var out []uint32
	for i := 0; i+4 <= len(b); i += 4 {
		out = append(out, binary.LittleEndian.Uint32(b[i:]))
	}
	return out
}

func TestLi(t *testing.T) {
	tests := []struct {
		name string
		v    uint64
		want []uint32
	}{
		{"small", 5, []uint32{0x0050_0513}},
		{"negative", ^uint64(0), []uint32{0xFFF0_0513}},
		{"lui only", 0x1000, []uint32{0x0000_1537}},
		{"lui addiw", 0x1234, []uint32{0x0000_1537, 0x2345_051B}},
		// lui a0, 0x80000 sign-extends, so 0x8000_0000 needs a shift
		{"ram base", 0x8000_0000, []uint32{0x0010_0513, 0x01F5_1513}},
	}
	for _, tt := range tests {
		p := &Program{}
		p.Li(riscv.RegA0, tt.v)
		if diff := cmp.Diff(tt.want, words(t, p)); diff != "" {
			t.Errorf("%s: Li(%#x) (-want +got):\n%s", tt.name, tt.v, diff)
		}
	}
}

func TestBranchFixups(t *testing.T) {
	p := &Program{}
	p.Label("top")
	p.Ecall()
	p.Bne(riscv.RegA0, riscv.RegZero, "top")
	p.J("end")
	p.Wfi()
	p.Label("end")
	p.Beq(riscv.RegA0, riscv.RegA1, "end")

	want := []uint32{
		riscv.InsnEcall,
		0xFE05_1EE3, // bne a0, zero, -4
		0x0080_006F, // j +8
		riscv.InsnWfi,
		0x00B5_0063, // beq a0, a1, 0
	}
	if diff := cmp.Diff(want, words(t, p)); diff != "" {
		t.Errorf("fixups (-want +got):\n%s", diff)
	}
}

func TestErrors(t *testing.T) {
	p := &Program{}
	p.J("missing")
	if _, err := p.Bytes(); err == nil {
		t.Error("undefined label accepted")
	}

	p = &Program{}
	p.Addi(riscv.RegA0, riscv.RegA0, 4096)
	p.Ecall()
	if _, err := p.Bytes(); err == nil {
		t.Error("out of range immediate accepted")
	}

	p = &Program{}
	p.Label("x")
	p.Label("x")
	if _, err := p.Bytes(); err == nil {
		t.Error("duplicate label accepted")
	}
}

func TestCompressedAndCSR(t *testing.T) {
	p := &Program{}
	p.CEbreak()
	p.Half(0x0001)
	p.Csrr(riscv.RegA0, riscv.CSRTime)
	p.Csrw(riscv.CSRSscratch, riscv.RegT0)
	if p.Len() != 12 {
		t.Fatalf("Len = %d, want 12", p.Len())
	}
	b := p.MustBytes()
	if got := binary.LittleEndian.Uint16(b); uint32(got) != riscv.InsnCEbreak {
		t.Errorf("c.ebreak = %#x", got)
	}
	if got := binary.LittleEndian.Uint32(b[4:]); got != 0xC010_2573 {
		t.Errorf("csrr a0, time = %#x", got)
	}
	if got := binary.LittleEndian.Uint32(b[8:]); got != 0x1402_9073 {
		t.Errorf("csrw sscratch, t0 = %#x", got)
	}
}
