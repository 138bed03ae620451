package monitor

import (
	"testing"

	"github.com/tinyrange/sbirt/internal/hart/rv64"
	"github.com/tinyrange/sbirt/internal/riscv"
)

// Page tables for the classifier tests:
//
//	root  ramBase+0x1000
//	l1    ramBase+0x2000
//	l0    ramBase+0x3000
//
// 0x8000_0000 is mapped by a 4 KiB leaf, 0x0 by an aligned 1 GiB
// superpage and 0xC000_0000 by a misaligned one. 0x1_0000_0000 is an
// aligned gigapage with reserved high bits set.
func buildTables(t *testing.T, m *testMachine) uint64 {
	t.Helper()
	root := ramBase + 0x1000
	l1 := ramBase + 0x2000
	l0 := ramBase + 0x3000
	leaf := riscv.PteV | riscv.PteR | riscv.PteW | riscv.PteX | riscv.PteA | riscv.PteD

	writes := []struct{ addr, pte uint64 }{
		{root + riscv.VPN(0x8000_0000, 2)*8, riscv.MakePte(l1, riscv.PteV)},
		{l1 + riscv.VPN(0x8000_0000, 1)*8, riscv.MakePte(l0, riscv.PteV)},
		{l0 + riscv.VPN(0x8000_0000, 0)*8, riscv.MakePte(0x8000_0000, leaf)},
		{root + riscv.VPN(0x0, 2)*8, riscv.MakePte(0x0, leaf)},
		{root + riscv.VPN(0xC000_0000, 2)*8, riscv.MakePte(0x20_0000, leaf)},
		{root + riscv.VPN(0x4000_0000, 2)*8, riscv.MakePte(0x4000_0000, riscv.PteV|riscv.PteW)},
		{root + riscv.VPN(0x1_0000_0000, 2)*8, riscv.MakePte(0x1_0000_0000, leaf) | 1<<61},
	}
	for _, w := range writes {
		if err := m.bus.Write64(w.addr, w.pte); err != nil {
			t.Fatalf("write pte at %#x: %v", w.addr, err)
		}
	}
	return riscv.SatpModeSv39<<riscv.SatpModeShift | root>>riscv.PageShift
}

func TestIsPageFault(t *testing.T) {
	m := newTestMachine(t, rv64.Config{})
	m.hart.WriteCSR(riscv.CSRSatp, buildTables(t, m))

	tests := []struct {
		name  string
		vaddr uint64
		want  bool
	}{
		{"mapped leaf", 0x8000_0500, false},
		{"mapped leaf start", 0x8000_0000, false},
		{"next page unmapped", 0x8000_1000, true},
		{"unmapped gigapage", 0x9000_0000, true},
		{"aligned superpage", 0x1234, false},
		{"misaligned superpage", 0xC000_0000, true},
		{"write without read", 0x4000_0000, true},
		{"reserved pte bits", 0x1_0000_0080, true},
		{"non-canonical", 0x0000_0080_0000_0000, true},
		{"canonical high half", 0xFFFF_FFC0_0000_0000, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPageFault(m.hart, tt.vaddr); got != tt.want {
				t.Errorf("IsPageFault(%#x) = %v, want %v", tt.vaddr, got, tt.want)
			}
		})
	}
}

func TestIsPageFaultPagingDisabled(t *testing.T) {
	m := newTestMachine(t, rv64.Config{})
	for _, vaddr := range []uint64{0, 0x8000_0000, 0x9000_0000, 0x0000_0080_0000_0000} {
		if IsPageFault(m.hart, vaddr) {
			t.Errorf("IsPageFault(%#x) = true with satp=0", vaddr)
		}
	}
}

func TestIsPageFaultUnreadableTable(t *testing.T) {
	m := newTestMachine(t, rv64.Config{})
	// Root table in a hole of the physical address space.
	m.hart.WriteCSR(riscv.CSRSatp, riscv.SatpModeSv39<<riscv.SatpModeShift|0x4000_0000>>riscv.PageShift)
	status := m.hart.ReadCSR(riscv.CSRMstatus)

	if !IsPageFault(m.hart, 0x8000_0000) {
		t.Error("IsPageFault = false for a table in unmapped memory")
	}
	if got := m.hart.ReadCSR(riscv.CSRMtvec); got != m.hart.TrapVector() {
		t.Errorf("mtvec = %#x after probe, want %#x", got, m.hart.TrapVector())
	}
	if got := m.hart.ReadCSR(riscv.CSRMstatus); got != status {
		t.Errorf("mstatus = %#x after probe, want %#x", got, status)
	}
}
