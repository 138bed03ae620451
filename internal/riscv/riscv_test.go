package riscv

import "testing"

func TestInsnLength(t *testing.T) {
	for _, tt := range []struct {
		insn uint32
		want uint64
	}{
		{InsnEbreak, 4},
		{InsnCEbreak, 2},
		{0x0001, 2},
		{0x4515, 2},
		{0x0000_0013, 4},
	} {
		if got := InsnLength(tt.insn); got != tt.want {
			t.Errorf("InsnLength(%#x) = %d, want %d", tt.insn, got, tt.want)
		}
	}
}

func TestIsBreakpoint(t *testing.T) {
	for _, tt := range []struct {
		insn uint32
		want bool
	}{
		{InsnEbreak, true},
		{InsnCEbreak, true},
		// upper halfword is garbage when only 16 bits were fetched
		{0xDEAD_9002, true},
		{InsnEcall, false},
		{0x9082, false}, // c.jalr ra
		{0x0010_0173, false},
	} {
		if got := IsBreakpoint(tt.insn); got != tt.want {
			t.Errorf("IsBreakpoint(%#x) = %v, want %v", tt.insn, got, tt.want)
		}
	}
}

func TestIsRdtime(t *testing.T) {
	for _, tt := range []struct {
		insn   uint32
		wantRd int
		wantOK bool
	}{
		{0xC010_2573, RegA0, true},
		{0xC010_2F73, 30, true},
		{0xC010_2073, RegZero, true},
		{0xC000_2573, 0, false}, // rdcycle
		{0xC010_A573, 0, false}, // csrrs a0, time, ra
		{0xC010_1573, 0, false}, // csrrw a0, time, zero
	} {
		rd, ok := IsRdtime(tt.insn)
		if rd != tt.wantRd || ok != tt.wantOK {
			t.Errorf("IsRdtime(%#x) = %d, %v, want %d, %v", tt.insn, rd, ok, tt.wantRd, tt.wantOK)
		}
	}
}

func TestIsSfenceVMA(t *testing.T) {
	for _, tt := range []struct {
		insn uint32
		want bool
	}{
		{0x1200_0073, true},
		{0x12B5_0073, true},
		{InsnSret, false},
		{InsnWfi, false},
		{0x1200_0FF3, false},
	} {
		if got := IsSfenceVMA(tt.insn); got != tt.want {
			t.Errorf("IsSfenceVMA(%#x) = %v, want %v", tt.insn, got, tt.want)
		}
	}
}

func TestCauseString(t *testing.T) {
	for _, tt := range []struct {
		c    Cause
		want string
	}{
		{CauseIllegalInsn, "illegal instruction"},
		{CauseLoadPageFault, "load page fault"},
		{CauseMTimerInt, "machine timer interrupt"},
		{Interrupt(5), "supervisor timer interrupt"},
		{Interrupt(13), "interrupt 13"},
		{14, "exception 14"},
		{40, "exception 40"},
	} {
		if got := tt.c.String(); got != tt.want {
			t.Errorf("Cause(%#x).String() = %q, want %q", uint64(tt.c), got, tt.want)
		}
	}
	if !CauseMTimerInt.IsInterrupt() || CauseMTimerInt.Code() != 7 {
		t.Errorf("CauseMTimerInt = %#x", uint64(CauseMTimerInt))
	}
}

func TestMPP(t *testing.T) {
	s := WithMPP(MstatusMPRV|MstatusSIE, PrivSupervisor)
	if MPP(s) != PrivSupervisor {
		t.Errorf("MPP = %d, want S", MPP(s))
	}
	s = WithMPP(s, PrivUser)
	if MPP(s) != PrivUser || s&(MstatusMPRV|MstatusSIE) != MstatusMPRV|MstatusSIE {
		t.Errorf("WithMPP(U) = %#x", s)
	}
}

func TestCSRPmpcfgFor(t *testing.T) {
	for _, tt := range []struct {
		i     int
		csr   uint16
		shift uint
	}{
		{0, CSRPmpcfg0, 0},
		{3, CSRPmpcfg0, 24},
		{7, CSRPmpcfg0, 56},
		{8, CSRPmpcfg2, 0},
		{15, CSRPmpcfg2, 56},
	} {
		csr, shift := CSRPmpcfgFor(tt.i)
		if csr != tt.csr || shift != tt.shift {
			t.Errorf("CSRPmpcfgFor(%d) = %#x, %d, want %#x, %d", tt.i, csr, shift, tt.csr, tt.shift)
		}
	}
	if CSRPmpaddr(15) != CSRPmpaddr0+15 {
		t.Errorf("CSRPmpaddr(15) = %#x", CSRPmpaddr(15))
	}
}

func TestPte(t *testing.T) {
	pte := MakePte(0x8020_3000, PteV|PteR|PteW)
	if got := PtePPN(pte) << PageShift; got != 0x8020_3000 {
		t.Errorf("PtePPN<<12 = %#x", got)
	}
	va := uint64(0x100<<30 | 0x101<<21 | 0x102<<12 | 0x18)
	if VPN(va, 2) != 0x100 || VPN(va, 1) != 0x101 || VPN(va, 0) != 0x102 {
		t.Errorf("VPN(%#x) = %#x %#x %#x", va, VPN(va, 2), VPN(va, 1), VPN(va, 0))
	}
	satp := SatpModeSv39<<SatpModeShift | 0x80001
	if SatpMode(satp) != SatpModeSv39 {
		t.Errorf("SatpMode = %d", SatpMode(satp))
	}
}
