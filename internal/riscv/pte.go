package riscv

// satp modes.
const (
	SatpModeBare uint64 = 0
	SatpModeSv39 uint64 = 8
	SatpModeSv48 uint64 = 9
)

const (
	SatpModeShift        = 60
	SatpPPNMask   uint64 = 1<<44 - 1
)

// SatpMode extracts the translation mode from satp.
func SatpMode(satp uint64) uint64 { return satp >> SatpModeShift }

// Page table entry flags.
const (
	PteV uint64 = 1 << 0
	PteR uint64 = 1 << 1
	PteW uint64 = 1 << 2
	PteX uint64 = 1 << 3
	PteU uint64 = 1 << 4
	PteG uint64 = 1 << 5
	PteA uint64 = 1 << 6
	PteD uint64 = 1 << 7

	// PteReservedMask covers bits 63..54, which must be zero without
	// Svpbmt and Svnapot.
	PteReservedMask uint64 = 0x3ff << 54
)

const (
	PageShift         = 12
	PageSize   uint64 = 1 << PageShift
	PteSize           = 8
	PteShift          = 10
	PtePPNMask uint64 = 1<<44 - 1
	Sv39Levels        = 3
	VPNBits           = 9
)

// PtePPN returns the physical page number of a PTE.
func PtePPN(pte uint64) uint64 { return (pte >> PteShift) & PtePPNMask }

// MakePte builds a PTE pointing at physical address pa.
func MakePte(pa uint64, flags uint64) uint64 {
	return (pa>>PageShift)<<PteShift | flags
}

// VPN returns the virtual page number slice for level (0 is the leaf level).
func VPN(vaddr uint64, level int) uint64 {
	return (vaddr >> (PageShift + uint(level)*VPNBits)) & ((1 << VPNBits) - 1)
}
