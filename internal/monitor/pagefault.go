package monitor

import (
	"github.com/tinyrange/sbirt/internal/hart"
	"github.com/tinyrange/sbirt/internal/riscv"
)

// IsPageFault reports whether a supervisor access to vaddr would raise a
// page fault under the current satp. It walks the Sv39 table itself
// through fault-tolerant loads, so a table in unreadable memory counts
// as a page fault rather than crashing the monitor. Without Sv39 paging
// nothing is a page fault.
func IsPageFault(h hart.Hart, vaddr uint64) bool {
	satp := h.ReadCSR(riscv.CSRSatp)
	if riscv.SatpMode(satp) != riscv.SatpModeSv39 {
		return false
	}
	// Bits 63..39 must replicate bit 38.
	if uint64(int64(vaddr<<25)>>25) != vaddr {
		return true
	}

	table := (satp & riscv.SatpPPNMask) << riscv.PageShift
	for level := riscv.Sv39Levels - 1; level >= 0; level-- {
		pte, err := hart.LoadPhysical(h, table+riscv.VPN(vaddr, level)*riscv.PteSize, 8)
		if err != nil {
			return true
		}
		if pte&riscv.PteV == 0 {
			return true
		}
		if (pte&riscv.PteR == 0 && pte&riscv.PteW != 0) || pte&riscv.PteReservedMask != 0 {
			return true
		}
		ppn := riscv.PtePPN(pte)
		if pte&(riscv.PteR|riscv.PteX) != 0 {
			// Superpage leaves must be aligned to their size.
			return ppn&(1<<(uint(level)*riscv.VPNBits)-1) != 0
		}
		table = ppn << riscv.PageShift
	}
	return true
}
