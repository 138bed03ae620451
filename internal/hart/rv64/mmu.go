package rv64

import "github.com/tinyrange/sbirt/internal/riscv"

type access int

const (
	accessLoad access = iota
	accessStore
	accessFetch
)

func (a access) pageFault(va uint64) error {
	switch a {
	case accessStore:
		return exception(riscv.CauseStorePageFault, va)
	case accessFetch:
		return exception(riscv.CauseInsnPageFault, va)
	}
	return exception(riscv.CauseLoadPageFault, va)
}

func (a access) accessFault(va uint64) error {
	switch a {
	case accessStore:
		return exception(riscv.CauseStoreAccessFault, va)
	case accessFetch:
		return exception(riscv.CauseInsnAccessFault, va)
	}
	return exception(riscv.CauseLoadAccessFault, va)
}

type tlbEntry struct {
	valid bool
	vpn   uint64
	asid  uint64
	// page is the physical address of the 4 KiB frame backing vpn.
	page  uint64
	flags uint64
}

// mmu implements Sv39 and Sv48 translation with a small direct-mapped TLB.
type mmu struct {
	cpu *CPU
	tlb [256]tlbEntry
}

func (m *mmu) flush() {
	for i := range m.tlb {
		m.tlb[i].valid = false
	}
}

// effectivePriv applies mstatus.MPRV to data accesses made in M-mode.
func (m *mmu) effectivePriv(a access) uint8 {
	c := m.cpu
	if c.priv == riscv.PrivMachine && a != accessFetch && c.csr.mstatus&riscv.MstatusMPRV != 0 {
		return riscv.MPP(c.csr.mstatus)
	}
	return c.priv
}

func (m *mmu) translate(va uint64, a access) (uint64, error) {
	c := m.cpu
	mode := riscv.SatpMode(c.csr.satp)
	priv := m.effectivePriv(a)
	if priv == riscv.PrivMachine || mode == riscv.SatpModeBare {
		return va, nil
	}

	vpn := va >> riscv.PageShift
	asid := (c.csr.satp >> 44) & 0xffff
	e := &m.tlb[vpn%uint64(len(m.tlb))]
	if e.valid && e.vpn == vpn && (e.asid == asid || e.flags&riscv.PteG != 0) {
		needsWalk := e.flags&riscv.PteA == 0 || (a == accessStore && e.flags&riscv.PteD == 0)
		if !needsWalk {
			if !m.permitted(e.flags, a, priv) {
				return 0, a.pageFault(va)
			}
			return e.page | va&(riscv.PageSize-1), nil
		}
	}

	pa, flags, err := m.walk(va, a, priv, mode)
	if err != nil {
		return 0, err
	}
	*e = tlbEntry{valid: true, vpn: vpn, asid: asid, page: pa &^ (riscv.PageSize - 1), flags: flags}
	return pa, nil
}

func (m *mmu) walk(va uint64, a access, priv uint8, mode uint64) (uint64, uint64, error) {
	levels := riscv.Sv39Levels
	if mode == riscv.SatpModeSv48 {
		levels = 4
	}
	vaBits := uint(riscv.PageShift + levels*riscv.VPNBits)
	if signExtend(va, vaBits) != va {
		return 0, 0, a.pageFault(va)
	}

	bus := m.cpu.bus
	table := (m.cpu.csr.satp & riscv.SatpPPNMask) << riscv.PageShift
	for level := levels - 1; level >= 0; level-- {
		pteAddr := table + riscv.VPN(va, level)*riscv.PteSize
		pte, err := bus.Read64(pteAddr)
		if err != nil {
			return 0, 0, a.accessFault(va)
		}
		if pte&riscv.PteV == 0 || (pte&riscv.PteR == 0 && pte&riscv.PteW != 0) || pte&riscv.PteReservedMask != 0 {
			return 0, 0, a.pageFault(va)
		}
		ppn := riscv.PtePPN(pte)
		if pte&(riscv.PteR|riscv.PteX) == 0 {
			table = ppn << riscv.PageShift
			continue
		}

		span := uint64(1)<<(uint(level)*riscv.VPNBits) - 1
		if ppn&span != 0 {
			return 0, 0, a.pageFault(va)
		}
		if !m.permitted(pte, a, priv) {
			return 0, 0, a.pageFault(va)
		}
		if pte&riscv.PteA == 0 || (a == accessStore && pte&riscv.PteD == 0) {
			pte |= riscv.PteA
			if a == accessStore {
				pte |= riscv.PteD
			}
			if err := bus.Write64(pteAddr, pte); err != nil {
				return 0, 0, a.accessFault(va)
			}
		}
		ppn |= (va >> riscv.PageShift) & span
		return ppn<<riscv.PageShift | va&(riscv.PageSize-1), pte, nil
	}
	return 0, 0, a.pageFault(va)
}

func (m *mmu) permitted(pte uint64, a access, priv uint8) bool {
	st := m.cpu.csr.mstatus
	if priv == riscv.PrivUser {
		if pte&riscv.PteU == 0 {
			return false
		}
	} else if pte&riscv.PteU != 0 {
		if a == accessFetch || st&riscv.MstatusSUM == 0 {
			return false
		}
	}
	switch a {
	case accessLoad:
		return pte&riscv.PteR != 0 || (st&riscv.MstatusMXR != 0 && pte&riscv.PteX != 0)
	case accessStore:
		return pte&riscv.PteW != 0
	default:
		return pte&riscv.PteX != 0
	}
}
