package monitor

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"gvisor.dev/gvisor/pkg/bits"

	"github.com/tinyrange/sbirt/internal/hart"
	"github.com/tinyrange/sbirt/internal/riscv"
)

// PMPMode is the address-matching mode of a PMP entry.
type PMPMode uint8

const (
	PMPOff PMPMode = iota
	PMPTOR
	PMPNA4
	PMPNAPOT
)

func (m PMPMode) String() string {
	return [...]string{"OFF", "TOR", "NA4", "NAPOT"}[m&3]
}

// pmpcfg byte fields.
const (
	pmpR      = 1 << 0
	pmpW      = 1 << 1
	pmpX      = 1 << 2
	pmpAShift = 3
	pmpL      = 1 << 7
)

// PMPRegion is the decoded form of one PMP entry. End is exclusive; a
// region covering the whole address space has End == ^0.
type PMPRegion struct {
	Index   int
	Mode    PMPMode
	R, W, X bool
	Locked  bool
	Start   uint64
	End     uint64
}

func (r PMPRegion) perms() string {
	p := []byte("---")
	if r.R {
		p[0] = 'r'
	}
	if r.W {
		p[1] = 'w'
	}
	if r.X {
		p[2] = 'x'
	}
	if r.Locked {
		p = append(p, 'L')
	}
	return string(p)
}

func (r PMPRegion) String() string {
	return fmt.Sprintf("pmp%-2d %-5s %-4s [%#x, %#x)", r.Index, r.Mode, r.perms(), r.Start, r.End)
}

// DecodePMP reads the PMP CSRs and returns the active entries. Harts
// without PMP read back zero and yield no regions.
func DecodePMP(h hart.Hart) []PMPRegion {
	var regions []PMPRegion
	var prev uint64
	for i := 0; i < riscv.PMPEntries; i++ {
		csr, shift := riscv.CSRPmpcfgFor(i)
		cfg := uint8(h.ReadCSR(csr) >> shift)
		addr := h.ReadCSR(riscv.CSRPmpaddr(i))

		r := PMPRegion{
			Index:  i,
			Mode:   PMPMode(cfg >> pmpAShift & 3),
			R:      cfg&pmpR != 0,
			W:      cfg&pmpW != 0,
			X:      cfg&pmpX != 0,
			Locked: cfg&pmpL != 0,
		}
		switch r.Mode {
		case PMPTOR:
			r.Start, r.End = prev<<2, addr<<2
		case PMPNA4:
			r.Start, r.End = addr<<2, addr<<2+4
		case PMPNAPOT:
			r.Start, r.End = napot(addr)
		}
		prev = addr
		if r.Mode != PMPOff {
			regions = append(regions, r)
		}
	}
	return regions
}

// napot decodes a naturally aligned power-of-two range. The number of
// trailing ones in pmpaddr gives a size of 2^(ones+3) bytes.
func napot(addr uint64) (start, end uint64) {
	ones := bits.TrailingZeros64(^addr)
	if ones+3 >= 64 {
		return 0, ^uint64(0)
	}
	size := uint64(1) << (ones + 3)
	start = (addr << 2) &^ (size - 1)
	return start, start + size
}

func misaString(misa uint64) string {
	var sb strings.Builder
	switch misa >> 62 {
	case riscv.MXL32:
		sb.WriteString("rv32")
	case riscv.MXL64:
		sb.WriteString("rv64")
	default:
		sb.WriteString("rv??")
	}
	bits.ForEachSetBit64(misa&(1<<26-1), func(i int) {
		sb.WriteByte(byte('a' + i))
	})
	return sb.String()
}

func causeNames(mask uint64, interrupt bool) string {
	var names []string
	bits.ForEachSetBit64(mask, func(i int) {
		c := riscv.Cause(i)
		if interrupt {
			c = riscv.Interrupt(uint64(i))
		}
		names = append(names, c.String())
	})
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}

// WriteDiagnostics prints the machine identity, trap delegation and PMP
// state of h.
func WriteDiagnostics(w io.Writer, h hart.Hart) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "hart %d: %s\n", h.ReadCSR(riscv.CSRMhartid), misaString(h.ReadCSR(riscv.CSRMisa)))
	fmt.Fprintf(&buf, "  mvendorid=%#x marchid=%#x mimpid=%#x\n",
		h.ReadCSR(riscv.CSRMvendorid), h.ReadCSR(riscv.CSRMarchid), h.ReadCSR(riscv.CSRMimpid))

	mideleg := h.ReadCSR(riscv.CSRMideleg)
	medeleg := h.ReadCSR(riscv.CSRMedeleg)
	fmt.Fprintf(&buf, "  mideleg=%#x (%s)\n", mideleg, causeNames(mideleg, true))
	fmt.Fprintf(&buf, "  medeleg=%#x (%s)\n", medeleg, causeNames(medeleg, false))
	fmt.Fprintf(&buf, "  mie=%#x\n", h.ReadCSR(riscv.CSRMie))
	for _, r := range DecodePMP(h) {
		fmt.Fprintf(&buf, "  %s\n", r)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// LogDiagnostics reports the same information as WriteDiagnostics through
// a structured logger.
func LogDiagnostics(logger *slog.Logger, h hart.Hart) {
	mideleg := h.ReadCSR(riscv.CSRMideleg)
	medeleg := h.ReadCSR(riscv.CSRMedeleg)
	logger.Info("hart identity",
		"hartid", h.ReadCSR(riscv.CSRMhartid),
		"isa", misaString(h.ReadCSR(riscv.CSRMisa)),
		"mvendorid", fmt.Sprintf("%#x", h.ReadCSR(riscv.CSRMvendorid)),
		"marchid", fmt.Sprintf("%#x", h.ReadCSR(riscv.CSRMarchid)),
		"mimpid", fmt.Sprintf("%#x", h.ReadCSR(riscv.CSRMimpid)),
	)
	logger.Info("trap delegation",
		"mideleg", causeNames(mideleg, true),
		"medeleg", causeNames(medeleg, false),
		"mie", fmt.Sprintf("%#x", h.ReadCSR(riscv.CSRMie)),
	)
	for _, r := range DecodePMP(h) {
		logger.Info("pmp region",
			"index", r.Index,
			"mode", r.Mode.String(),
			"perms", r.perms(),
			"start", fmt.Sprintf("%#x", r.Start),
			"end", fmt.Sprintf("%#x", r.End),
		)
	}
}
