package feature

import (
	"testing"

	"github.com/tinyrange/sbirt/internal/hart"
	"github.com/tinyrange/sbirt/internal/hart/rv64"
	"github.com/tinyrange/sbirt/internal/riscv"
)

func newHart(t *testing.T) (*rv64.Hart, *rv64.CLINT, *rv64.ManualClock) {
	t.Helper()
	clock := &rv64.ManualClock{}
	clint := rv64.NewCLINT(clock, 1)
	bus := &rv64.Bus{}
	if err := bus.Map(0x8000_0000, rv64.NewMemory(0x1000)); err != nil {
		t.Fatal(err)
	}
	h, err := rv64.New(rv64.Config{Bus: bus, CLINT: clint})
	if err != nil {
		t.Fatal(err)
	}
	return h, clint, clock
}

func TestEmulateRdtime(t *testing.T) {
	h, clint, clock := newHart(t)
	clock.Advance(99)
	s := &Set{Clint: clint}

	ctx := &hart.Context{Mepc: 0x8000_0000}
	if !s.EmulateRdtime(h, ctx, 0xC010_2573) { // rdtime a0
		t.Fatal("rdtime a0 not emulated")
	}
	if ctx.Reg(riscv.RegA0) != 99 || ctx.Mepc != 0x8000_0004 {
		t.Errorf("a0 = %d, mepc = %#x", ctx.Reg(riscv.RegA0), ctx.Mepc)
	}

	// rdtime x0 is emulated and discards the value.
	if !s.EmulateRdtime(h, ctx, 0xC010_2073) || ctx.Reg(0) != 0 {
		t.Error("rdtime x0 mishandled")
	}

	for _, insn := range []uint32{
		0xC000_2573,         // rdcycle a0
		0xC010_2573 | 1<<15, // csrrs a0, time, ra
		riscv.InsnEbreak,
	} {
		ctx := &hart.Context{}
		if s.EmulateRdtime(h, ctx, insn) {
			t.Errorf("EmulateRdtime(%#x) = true", insn)
		}
		if ctx.Mepc != 0 {
			t.Errorf("EmulateRdtime(%#x) moved mepc", insn)
		}
	}

	if (&Set{}).EmulateRdtime(h, &hart.Context{}, 0xC010_2573) {
		t.Error("rdtime emulated without a CLINT")
	}
}

func TestEmulateSfenceVMA(t *testing.T) {
	h, _, _ := newHart(t)
	s := &Set{}
	ctx := &hart.Context{Mepc: 0x100}
	if !s.EmulateSfenceVMA(h, ctx, 0x12B5_0073) { // sfence.vma a0, a1
		t.Fatal("sfence.vma a0, a1 not emulated")
	}
	if ctx.Mepc != 0x104 {
		t.Errorf("mepc = %#x, want 0x104", ctx.Mepc)
	}
	if s.EmulateSfenceVMA(h, ctx, riscv.InsnSret) {
		t.Error("sret emulated as sfence.vma")
	}
}

func TestShouldTransferTrap(t *testing.T) {
	s := &Set{}
	for _, tt := range []struct {
		priv uint8
		want bool
	}{
		{riscv.PrivUser, true},
		{riscv.PrivSupervisor, true},
		{riscv.PrivMachine, false},
	} {
		ctx := &hart.Context{Mstatus: riscv.WithMPP(0, tt.priv)}
		if got := s.ShouldTransferTrap(ctx); got != tt.want {
			t.Errorf("ShouldTransferTrap(MPP=%d) = %v, want %v", tt.priv, got, tt.want)
		}
	}
}

func TestDoTransferTrapFromUser(t *testing.T) {
	h, _, _ := newHart(t)
	h.WriteCSR(riscv.CSRStvec, 0x8000_0201) // vectored mode bit is ignored
	s := &Set{}

	ctx := &hart.Context{
		Mstatus: riscv.WithMPP(riscv.MstatusSPP, riscv.PrivUser),
		Mepc:    0x1_0000,
	}
	s.DoTransferTrap(h, ctx, riscv.CauseInsnPageFault, 0x1_0000)

	if ctx.Mepc != 0x8000_0200 {
		t.Errorf("mepc = %#x, want 0x80000200", ctx.Mepc)
	}
	if ctx.Mstatus&riscv.MstatusSPP != 0 {
		t.Error("SPP set for a trap from U-mode")
	}
	if ctx.Mstatus&(riscv.MstatusSPIE|riscv.MstatusSIE) != 0 {
		t.Errorf("mstatus = %#x, SPIE/SIE should be clear", ctx.Mstatus)
	}
	if riscv.MPP(ctx.Mstatus) != riscv.PrivSupervisor {
		t.Errorf("MPP = %d, want S", riscv.MPP(ctx.Mstatus))
	}
	if got := h.ReadCSR(riscv.CSRSepc); got != 0x1_0000 {
		t.Errorf("sepc = %#x", got)
	}
	if got := riscv.Cause(h.ReadCSR(riscv.CSRScause)); got != riscv.CauseInsnPageFault {
		t.Errorf("scause = %s", got)
	}
	if got := h.ReadCSR(riscv.CSRStval); got != 0x1_0000 {
		t.Errorf("stval = %#x", got)
	}
}
