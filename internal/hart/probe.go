package hart

import (
	"fmt"

	"gvisor.dev/gvisor/pkg/cleanup"

	"github.com/tinyrange/sbirt/internal/riscv"
)

// AccessFaultError is returned when a probe load traps.
type AccessFaultError struct {
	Addr uint64
}

func (e *AccessFaultError) Error() string {
	return fmt.Sprintf("hart: access fault at %#x", e.Addr)
}

// probe performs one load with mtvec pointing at the probe vector so a
// fault is reported instead of recursing into the trap entry. mtvec and
// mstatus are restored on every path. With translate set the load is
// translated as an access from priv (MPRV with MPP=priv, MXR for
// execute-only pages).
func probe(h Hart, addr uint64, size int, translate bool, priv uint8) (uint64, error) {
	tvec := h.ReadCSR(riscv.CSRMtvec)
	status := h.ReadCSR(riscv.CSRMstatus)
	cu := cleanup.Make(func() {
		h.WriteCSR(riscv.CSRMstatus, status)
		h.WriteCSR(riscv.CSRMtvec, tvec)
	})
	defer cu.Clean()

	h.WriteCSR(riscv.CSRMtvec, h.ProbeVector())
	st := status &^ riscv.MstatusMPRV
	if translate {
		st = riscv.WithMPP(st, priv) | riscv.MstatusMPRV | riscv.MstatusMXR
	}
	h.WriteCSR(riscv.CSRMstatus, st)

	v, faulted := h.RawLoad(addr, size)
	if faulted {
		return 0, &AccessFaultError{Addr: addr}
	}
	return v, nil
}

// LoadPhysical reads size bytes at a physical address, tolerating faults.
func LoadPhysical(h Hart, paddr uint64, size int) (uint64, error) {
	return probe(h, paddr, size, false, riscv.PrivMachine)
}

// LoadSupervisor reads size bytes at a supervisor virtual address,
// tolerating faults.
func LoadSupervisor(h Hart, vaddr uint64, size int) (uint64, error) {
	return LoadVirtual(h, vaddr, size, riscv.PrivSupervisor)
}

// LoadVirtual reads size bytes at vaddr with the permissions of priv,
// tolerating faults. User pages are only readable with priv U, or with
// priv S when the supervisor has set mstatus.SUM.
func LoadVirtual(h Hart, vaddr uint64, size int, priv uint8) (uint64, error) {
	return probe(h, vaddr, size, true, priv)
}

// ReadInstruction fetches the instruction at vaddr as code running at
// priv sees it, normally the MPP of the trapped context. The upper half
// of a 32-bit encoding is read separately so an instruction straddling a
// page boundary is handled.
func ReadInstruction(h Hart, vaddr uint64, priv uint8) (uint32, error) {
	lo, err := LoadVirtual(h, vaddr, 2, priv)
	if err != nil {
		return 0, err
	}
	if riscv.InsnLength(uint32(lo)) == 2 {
		return uint32(lo), nil
	}
	hi, err := LoadVirtual(h, vaddr+2, 2, priv)
	if err != nil {
		return 0, err
	}
	return uint32(lo) | uint32(hi)<<16, nil
}
