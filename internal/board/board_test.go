package board

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tinyrange/sbirt/internal/hart/rv64"
	"github.com/tinyrange/sbirt/internal/monitor"
	"github.com/tinyrange/sbirt/internal/riscv"
	"github.com/tinyrange/sbirt/internal/riscv/rvasm"
	"github.com/tinyrange/sbirt/internal/sbi"
)

func testConfig(t *testing.T, yaml string) Config {
	t.Helper()
	cfg, err := ParseConfig([]byte(yaml))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	return cfg
}

func testBoard(t *testing.T, cfg Config) (*Board, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	b, err := newBoard(cfg, NewConsole(&out, 16), &rv64.ManualClock{})
	if err != nil {
		t.Fatalf("newBoard: %v", err)
	}
	return b, &out
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseConfigDefaults(t *testing.T) {
	cfg := testConfig(t, "payload:\n  path: kernel.bin\n")
	want := Config{
		Memory:  MemoryConfig{Base: DefaultMemoryBase, SizeMB: DefaultMemoryMB},
		Clint:   ClintConfig{Base: DefaultClintBase, TimebaseHz: DefaultTimebaseHz},
		UART:    UARTConfig{Base: DefaultUARTBase},
		Payload: PayloadConfig{Path: "kernel.bin", LoadAddr: 0x8020_0000},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config (-want +got):\n%s", diff)
	}
}

func TestParseConfig(t *testing.T) {
	cfg := testConfig(t, `
memory:
  base: 0x80000000
  sizeMB: 64
hart:
  vendorID: 0x5b7
  breakpointIllegal: true
  vendorCSRs:
    0x7c1: 0x109
payload:
  path: fw.elf
dtb:
  path: board.dtb
pmp:
  - mode: tor
    base: 0
    size: 0x80000000
    perms: rwx
  - mode: napot
    base: 0x80000000
    size: 0x200000
    perms: r
diagnostics: true
`)
	if cfg.DTB.LoadAddr != 0x8000_0000+64<<20-0x20_0000 {
		t.Errorf("dtb load address = %#x", cfg.DTB.LoadAddr)
	}
	if cfg.Hart.VendorCSRs[riscv.CSRMhcr] != 0x109 || !cfg.Hart.BreakpointIllegal {
		t.Errorf("hart = %+v", cfg.Hart)
	}
	if len(cfg.PMP) != 2 || !cfg.Diagnostics {
		t.Errorf("pmp = %+v, diagnostics = %v", cfg.PMP, cfg.Diagnostics)
	}
}

func TestParseConfigErrors(t *testing.T) {
	for _, tt := range []struct {
		name, yaml, want string
	}{
		{"bad yaml", "memory: [", "parse board config"},
		{"second hart", "hart:\n  id: 1\n", "only hart 0"},
		{"tiny memory", "memory:\n  sizeMB: 2\n", "too small"},
		{"payload outside ram", "payload:\n  loadAddr: 0x1000\n", "outside RAM"},
		{"tor gap", "pmp:\n  - {mode: tor, base: 0x1000, size: 0x1000}\n", "must start at 0x0"},
		{"napot misaligned", "pmp:\n  - {mode: napot, base: 0x1100, size: 0x1000}\n", "not aligned"},
		{"napot size", "pmp:\n  - {mode: napot, base: 0x1000, size: 0x3000}\n", "power of two"},
		{"write only", "pmp:\n  - {mode: na4, base: 0x1000, size: 4, perms: w}\n", "reserved"},
		{"bad mode", "pmp:\n  - {mode: off, base: 0, size: 4}\n", "unknown mode"},
	} {
		_, err := ParseConfig([]byte(tt.yaml))
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: err = %v, want %q", tt.name, err, tt.want)
		}
	}
}

func TestProgramPMP(t *testing.T) {
	cfg := testConfig(t, `
memory:
  sizeMB: 8
pmp:
  - {mode: tor, base: 0, size: 0x80000000, perms: rwx}
  - {mode: napot, base: 0x80000000, size: 0x100000, perms: r}
  - {mode: na4, base: 0x80100000, size: 4, perms: rw, locked: true}
`)
	b, _ := testBoard(t, cfg)

	want := []monitor.PMPRegion{
		{Index: 0, Mode: monitor.PMPTOR, R: true, W: true, X: true, Start: 0, End: 0x8000_0000},
		{Index: 1, Mode: monitor.PMPNAPOT, R: true, Start: 0x8000_0000, End: 0x8010_0000},
		{Index: 2, Mode: monitor.PMPNA4, R: true, W: true, Locked: true, Start: 0x8010_0000, End: 0x8010_0004},
	}
	if diff := cmp.Diff(want, monitor.DecodePMP(b.Hart)); diff != "" {
		t.Errorf("pmp (-want +got):\n%s", diff)
	}
}

func TestLoadRawPayload(t *testing.T) {
	cfg := testConfig(t, "memory:\n  sizeMB: 8\n")
	cfg.SetPayload(writeFile(t, "payload.bin", []byte{1, 2, 3, 4, 5, 6, 7, 8}))
	b, _ := testBoard(t, cfg)
	var progress bytes.Buffer
	b.Progress = &progress

	if err := b.LoadPayload(); err != nil {
		t.Fatalf("LoadPayload: %v", err)
	}
	if b.Entry != 0x8020_0000 {
		t.Errorf("entry = %#x, want the load address", b.Entry)
	}
	if v, _ := b.Bus.Read64(0x8020_0000); v != 0x0807_0605_0403_0201 {
		t.Errorf("loaded word = %#x", v)
	}
}

// elfImage builds a minimal riscv64 executable with one PT_LOAD segment.
func elfImage(paddr, entry uint64, code []byte, bss uint64) []byte {
	const ehsize, phsize = 64, 56
	var buf bytes.Buffer
	buf.Write([]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	le := binary.LittleEndian
	binary.Write(&buf, le, struct {
		Type, Machine              uint16
		Version                    uint32
		Entry, Phoff, Shoff        uint64
		Flags                      uint32
		Ehsize, Phentsize, Phnum   uint16
		Shentsize, Shnum, Shstrndx uint16
	}{2, 243, 1, entry, ehsize, 0, 0, ehsize, phsize, 1, 64, 0, 0})
	binary.Write(&buf, le, struct {
		Type, Flags                          uint32
		Off, Vaddr, Paddr, Filesz, Memsz, Al uint64
	}{1, 5, ehsize + phsize, paddr, paddr, uint64(len(code)), uint64(len(code)) + bss, 0x1000})
	buf.Write(code)
	return buf.Bytes()
}

func TestLoadELFPayload(t *testing.T) {
	cfg := testConfig(t, "memory:\n  sizeMB: 8\n")
	code := []byte{0x73, 0x00, 0x00, 0x00} // ecall
	cfg.SetPayload(writeFile(t, "payload.elf", elfImage(0x8040_0000, 0x8040_0000, code, 12)))
	b, _ := testBoard(t, cfg)
	if err := b.Bus.Write64(0x8040_0008, ^uint64(0)); err != nil {
		t.Fatal(err)
	}

	if err := b.LoadPayload(); err != nil {
		t.Fatalf("LoadPayload: %v", err)
	}
	if b.Entry != 0x8040_0000 {
		t.Errorf("entry = %#x", b.Entry)
	}
	if v, _ := b.Bus.Read(0x8040_0000, 4); uint32(v) != riscv.InsnEcall {
		t.Errorf("code = %#x", v)
	}
	if v, _ := b.Bus.Read64(0x8040_0008); v != 0 {
		t.Errorf("bss not cleared: %#x", v)
	}

	cfg.Payload.Entry = 0x8040_0004
	cfg.SetPayload(writeFile(t, "outside.elf", elfImage(0x1000, 0x1000, code, 0)))
	b, _ = testBoard(t, cfg)
	if err := b.LoadPayload(); err == nil || !strings.Contains(err.Error(), "outside RAM") {
		t.Errorf("segment outside RAM: err = %v", err)
	}

	// A segment whose end wraps past 2^64.
	cfg.SetPayload(writeFile(t, "wrap.elf", elfImage(^uint64(0)-1, 0x8040_0000, code, 0)))
	b, _ = testBoard(t, cfg)
	if err := b.LoadPayload(); err == nil || !strings.Contains(err.Error(), "outside RAM") {
		t.Errorf("wrapping segment: err = %v", err)
	}
}

func TestLoadDTB(t *testing.T) {
	cfg := testConfig(t, "memory:\n  sizeMB: 8\n")
	b, _ := testBoard(t, cfg)
	if err := b.LoadDTB(); err != nil || b.DTBAddr != 0 {
		t.Fatalf("LoadDTB without a dtb = %v, addr %#x", err, b.DTBAddr)
	}

	if err := cfg.SetDTB(writeFile(t, "board.dtb", []byte{0xd0, 0x0d, 0xfe, 0xed})); err != nil {
		t.Fatal(err)
	}
	b, _ = testBoard(t, cfg)
	if err := b.LoadDTB(); err != nil {
		t.Fatalf("LoadDTB: %v", err)
	}
	if b.DTBAddr != 0x8060_0000 {
		t.Errorf("dtb address = %#x", b.DTBAddr)
	}
	if v, _ := b.Bus.Read(b.DTBAddr, 4); v != 0xedfe0dd0 {
		t.Errorf("dtb magic = %#x", v)
	}
}

func TestGeneratedDTB(t *testing.T) {
	cfg := testConfig(t, `
memory:
  sizeMB: 8
pmp:
  - {mode: napot, base: 0x80000000, size: 0x20000}
  - {mode: napot, base: 0, size: 0x100000000, perms: rwx}
`)
	if err := cfg.SetDTB("generate"); err != nil {
		t.Fatal(err)
	}
	b, _ := testBoard(t, cfg)
	if err := b.LoadDTB(); err != nil {
		t.Fatalf("LoadDTB: %v", err)
	}
	if b.DTBAddr != 0x8060_0000 {
		t.Errorf("dtb address = %#x", b.DTBAddr)
	}
	if v, _ := b.Bus.Read(b.DTBAddr, 4); v != 0xedfe0dd0 {
		t.Errorf("dtb magic = %#x", v)
	}

	blob, err := b.DeviceTree()
	if err != nil {
		t.Fatalf("DeviceTree: %v", err)
	}
	be := binary.BigEndian
	if got := be.Uint32(blob[4:]); int(got) != len(blob) {
		t.Errorf("totalsize = %d, blob is %d bytes", got, len(blob))
	}
	rsv := blob[be.Uint32(blob[16:]):]
	if be.Uint64(rsv) != 0x8000_0000 || be.Uint64(rsv[8:]) != 0x20000 {
		t.Errorf("reservation = %x, want the inaccessible pmp region", rsv[:16])
	}
	if be.Uint64(rsv[16:]) != 0 {
		t.Error("only the inaccessible region should be reserved")
	}
	for _, want := range []string{
		"rv64imac_zicsr_zifencei",
		"riscv,clint0",
		"ns16550a",
		"/soc/serial@10000000",
		"memory@80000000",
	} {
		if !bytes.Contains(blob, []byte(want)) {
			t.Errorf("device tree missing %q", want)
		}
	}
}

func TestConsolePump(t *testing.T) {
	c := NewConsole(io.Discard, 4)
	if _, ok := c.TryReadByte(); ok {
		t.Fatal("input before pump")
	}
	if err := c.Pump(context.Background(), strings.NewReader("ab")); err != nil {
		t.Fatalf("Pump: %v", err)
	}
	var got []byte
	for {
		b, ok := c.TryReadByte()
		if !ok {
			break
		}
		got = append(got, b)
	}
	if string(got) != "ab" {
		t.Errorf("input = %q", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Pump(ctx, strings.NewReader("more than four bytes")); err != context.Canceled {
		t.Errorf("Pump after cancel = %v", err)
	}
}

func TestConsoleFlushesLines(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(&out, 1)
	for _, b := range []byte("hi") {
		c.WriteByte(b)
	}
	if out.Len() != 0 {
		t.Errorf("output %q written before newline", out.String())
	}
	c.WriteByte('\n')
	if out.String() != "hi\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestConsoleFlushesOnInputPoll(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(&out, 1)
	for _, b := range []byte("$ ") {
		c.WriteByte(b)
	}
	if _, ok := c.TryReadByte(); ok {
		t.Fatal("TryReadByte returned input from an empty queue")
	}
	if out.String() != "$ " {
		t.Errorf("output after input poll = %q, want the prompt", out.String())
	}
}

func TestBoot(t *testing.T) {
	p := &rvasm.Program{}
	for _, c := range []byte("ok\n") {
		p.Li(riscv.RegA0, uint64(c))
		p.Li(riscv.RegA7, sbi.ExtLegacyConsolePutchar)
		p.Ecall()
	}
	// The hart id and dtb address arrive in a0 and a1; stash them for the
	// checks below before the shutdown call clobbers them.
	p.Addi(riscv.RegT0+1, riscv.RegA1, 0)
	p.Li(riscv.RegA0, sbi.ResetColdBoot)
	p.Li(riscv.RegA1, sbi.ReasonSystemFailure)
	p.Li(riscv.RegA6, 0)
	p.Li(riscv.RegA7, sbi.ExtSRST)
	p.Ecall()

	cfg := testConfig(t, "memory:\n  sizeMB: 8\ndiagnostics: true\n")
	cfg.SetPayload(writeFile(t, "payload.bin", p.MustBytes()))
	if err := cfg.SetDTB(writeFile(t, "board.dtb", []byte{0xd0, 0x0d, 0xfe, 0xed})); err != nil {
		t.Fatal(err)
	}
	b, out := testBoard(t, cfg)
	if err := b.LoadPayload(); err != nil {
		t.Fatal(err)
	}
	if err := b.LoadDTB(); err != nil {
		t.Fatal(err)
	}

	var logs bytes.Buffer
	exit := b.Boot(slog.New(slog.NewTextHandler(&logs, nil)))

	if want := (monitor.Exit{ResetType: sbi.ResetColdBoot, ResetReason: sbi.ReasonSystemFailure}); exit != want {
		t.Errorf("exit = %v, want %v", exit, want)
	}
	if out.String() != "ok\n" {
		t.Errorf("console = %q", out.String())
	}
	if got := b.Hart.Reg(riscv.RegT0 + 1); got != b.DTBAddr {
		t.Errorf("a1 at entry = %#x, want dtb address %#x", got, b.DTBAddr)
	}
	for _, want := range []string{`msg="hart identity"`, `msg="booting supervisor"`} {
		if !strings.Contains(logs.String(), want) {
			t.Errorf("log missing %s:\n%s", want, logs.String())
		}
	}
}
