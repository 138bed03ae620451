package monitor

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tinyrange/sbirt/internal/hart/rv64"
	"github.com/tinyrange/sbirt/internal/riscv"
)

func programPMP(m *testMachine) {
	h := m.hart
	// pmp0: TOR [0, 0x8000_0000) rwx
	// pmp1: NAPOT 1 MiB at 0x8000_0000 r
	// pmp2: NA4 at 0x1000 rw, locked
	h.WriteCSR(riscv.CSRPmpaddr(0), 0x8000_0000>>2)
	h.WriteCSR(riscv.CSRPmpaddr(1), (0x8000_0000+(1<<20)/2-1)>>2)
	h.WriteCSR(riscv.CSRPmpaddr(2), 0x1000>>2)
	h.WriteCSR(riscv.CSRPmpcfg0, 0x0F|0x19<<8|0x93<<16)
}

func TestDecodePMP(t *testing.T) {
	m := newTestMachine(t, rv64.Config{})
	programPMP(m)

	want := []PMPRegion{
		{Index: 0, Mode: PMPTOR, R: true, W: true, X: true, Start: 0, End: 0x8000_0000},
		{Index: 1, Mode: PMPNAPOT, R: true, Start: 0x8000_0000, End: 0x8010_0000},
		{Index: 2, Mode: PMPNA4, R: true, W: true, Locked: true, Start: 0x1000, End: 0x1004},
	}
	if diff := cmp.Diff(want, DecodePMP(m.hart)); diff != "" {
		t.Errorf("DecodePMP (-want +got):\n%s", diff)
	}
}

func TestDecodePMPUnimplemented(t *testing.T) {
	m := newTestMachine(t, rv64.Config{})
	if got := DecodePMP(m.hart); len(got) != 0 {
		t.Errorf("DecodePMP on reset state = %v, want no regions", got)
	}
}

func TestNAPOT(t *testing.T) {
	tests := []struct {
		addr       uint64
		start, end uint64
	}{
		{0x2000_0000, 0x8000_0000, 0x8000_0008},
		{0x2000_0001, 0x8000_0000, 0x8000_0010},
		{0x2001_FFFF, 0x8000_0000, 0x8010_0000},
		{^uint64(0), 0, ^uint64(0)},
	}
	for _, tt := range tests {
		start, end := napot(tt.addr)
		if start != tt.start || end != tt.end {
			t.Errorf("napot(%#x) = [%#x, %#x), want [%#x, %#x)", tt.addr, start, end, tt.start, tt.end)
		}
	}
}

func TestWriteDiagnostics(t *testing.T) {
	m := newTestMachine(t, rv64.Config{VendorID: 0x5b7, ArchID: 0x8000_0000_0000_0000})
	programPMP(m)

	var buf bytes.Buffer
	if err := WriteDiagnostics(&buf, m.hart); err != nil {
		t.Fatalf("WriteDiagnostics: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"hart 0: rv64acimsu",
		"mvendorid=0x5b7",
		"mideleg=0x222 (supervisor software interrupt, supervisor timer interrupt, supervisor external interrupt)",
		"pmp1  NAPOT r--  [0x80000000, 0x80100000)",
		"pmp2  NA4   rw-L [0x1000, 0x1004)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("diagnostics missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "illegal instruction") {
		t.Errorf("illegal instruction listed as delegated:\n%s", out)
	}
}

func TestLogDiagnostics(t *testing.T) {
	m := newTestMachine(t, rv64.Config{})
	programPMP(m)

	var buf bytes.Buffer
	LogDiagnostics(slog.New(slog.NewTextHandler(&buf, nil)), m.hart)
	out := buf.String()
	if n := strings.Count(out, `msg="pmp region"`); n != 3 {
		t.Errorf("logged %d pmp regions, want 3:\n%s", n, out)
	}
	if !strings.Contains(out, "isa=rv64acimsu") {
		t.Errorf("isa not logged:\n%s", out)
	}
}
