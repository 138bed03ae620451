package board

import (
	"errors"
	"fmt"
	"strings"

	"gvisor.dev/gvisor/pkg/bits"

	"github.com/tinyrange/sbirt/internal/hart"
	"github.com/tinyrange/sbirt/internal/riscv"
)

const maxPMPEntries = riscv.PMPEntries

// pmpcfg bit layout.
const (
	pmpR     = 1 << 0
	pmpW     = 1 << 1
	pmpX     = 1 << 2
	pmpTOR   = 1 << 3
	pmpNA4   = 2 << 3
	pmpNAPOT = 3 << 3
	pmpL     = 1 << 7
)

// PMPEntry is a boot-time PMP region.
type PMPEntry struct {
	// Mode is tor, na4 or napot.
	Mode string `yaml:"mode"`
	Base uint64 `yaml:"base"`
	Size uint64 `yaml:"size"`
	// Perms is a subset of "rwx".
	Perms  string `yaml:"perms,omitempty"`
	Locked bool   `yaml:"locked,omitempty"`
}

// encode returns the pmpaddr and pmpcfg byte for e. prev is the end of the
// preceding entry, which a TOR region starts from.
func (e PMPEntry) encode(prev uint64) (addr uint64, cfg byte, err error) {
	for _, c := range e.Perms {
		switch c {
		case 'r':
			cfg |= pmpR
		case 'w':
			cfg |= pmpW
		case 'x':
			cfg |= pmpX
		default:
			return 0, 0, fmt.Errorf("unknown permission %q", c)
		}
	}
	if cfg&(pmpW|pmpR) == pmpW {
		return 0, 0, errors.New("write without read is reserved")
	}
	if e.Locked {
		cfg |= pmpL
	}

	switch strings.ToLower(e.Mode) {
	case "tor":
		if e.Base != prev {
			return 0, 0, fmt.Errorf("tor region must start at %#x, where the previous entry ends", prev)
		}
		end := e.Base + e.Size
		if e.Size == 0 || end&3 != 0 {
			return 0, 0, fmt.Errorf("tor end %#x not 4-byte aligned", end)
		}
		return end >> 2, cfg | pmpTOR, nil
	case "na4":
		if e.Size != 4 || e.Base&3 != 0 {
			return 0, 0, fmt.Errorf("na4 region [%#x, +%#x) is not one aligned word", e.Base, e.Size)
		}
		return e.Base >> 2, cfg | pmpNA4, nil
	case "napot":
		if e.Size < 8 || !bits.IsPowerOfTwo64(e.Size) {
			return 0, 0, fmt.Errorf("napot size %#x is not a power of two of at least 8", e.Size)
		}
		if e.Base&(e.Size-1) != 0 {
			return 0, 0, fmt.Errorf("napot base %#x not aligned to size %#x", e.Base, e.Size)
		}
		return (e.Base | (e.Size/2 - 1)) >> 2, cfg | pmpNAPOT, nil
	}
	return 0, 0, fmt.Errorf("unknown mode %q", e.Mode)
}

// ProgramPMP writes entries into PMP slots 0.. in order. Remaining slots
// are left untouched.
func ProgramPMP(h hart.Hart, entries []PMPEntry) error {
	if len(entries) > maxPMPEntries {
		return fmt.Errorf("board: %d pmp entries, at most %d", len(entries), maxPMPEntries)
	}
	var prev uint64
	for i, e := range entries {
		addr, cfg, err := e.encode(prev)
		if err != nil {
			return fmt.Errorf("board: pmp entry %d: %w", i, err)
		}
		prev = e.Base + e.Size

		csr, shift := riscv.CSRPmpcfgFor(i)
		h.WriteCSR(riscv.CSRPmpaddr(i), addr)
		h.ClearCSR(csr, 0xff<<shift)
		h.SetCSR(csr, uint64(cfg)<<shift)
	}
	return nil
}
