// Package feature provides the platform-specific pieces of trap handling
// that sit beside the core dispatch loop: emulation of instructions a
// supervisor kernel expects to work and the software trap transfer used
// to hand an exception back to the supervisor.
package feature

import (
	"github.com/tinyrange/sbirt/internal/hart"
	"github.com/tinyrange/sbirt/internal/riscv"
)

// Set is the default feature set for boards with a CLINT.
type Set struct {
	// Clint supplies mtime for rdtime emulation. A nil Clint disables it.
	Clint hart.Clint
}

// EmulateRdtime emulates rdtime on cores that trap it (mcounteren.TM
// clear or no time CSR at all).
func (s *Set) EmulateRdtime(h hart.Hart, ctx *hart.Context, insn uint32) bool {
	if s.Clint == nil {
		return false
	}
	rd, ok := riscv.IsRdtime(insn)
	if !ok {
		return false
	}
	ctx.SetReg(rd, s.Clint.MTime())
	ctx.Mepc += 4
	return true
}

// EmulateSfenceVMA performs sfence.vma on behalf of a supervisor running
// with mstatus.TVM set. Address and ASID operands are ignored; the whole
// TLB is flushed.
func (s *Set) EmulateSfenceVMA(h hart.Hart, ctx *hart.Context, insn uint32) bool {
	if !riscv.IsSfenceVMA(insn) {
		return false
	}
	h.FlushTLB()
	ctx.Mepc += 4
	return true
}

// ShouldTransferTrap reports whether the trap came from a lower privilege
// level and can therefore be redirected to the supervisor.
func (s *Set) ShouldTransferTrap(ctx *hart.Context) bool {
	return riscv.MPP(ctx.Mstatus) != riscv.PrivMachine
}

// DoTransferTrap performs the supervisor trap entry the hardware would
// have done had cause been delegated: sepc, scause and stval are written,
// SPP records the trapped privilege, SIE moves to SPIE, and the context
// resumes at stvec in S-mode.
func (s *Set) DoTransferTrap(h hart.Hart, ctx *hart.Context, cause riscv.Cause, tval uint64) {
	h.WriteCSR(riscv.CSRSepc, ctx.Mepc)
	h.WriteCSR(riscv.CSRScause, uint64(cause))
	h.WriteCSR(riscv.CSRStval, tval)

	st := ctx.Mstatus &^ (riscv.MstatusSPP | riscv.MstatusSPIE | riscv.MstatusSIE)
	if riscv.MPP(ctx.Mstatus) != riscv.PrivUser {
		st |= riscv.MstatusSPP
	}
	if ctx.Mstatus&riscv.MstatusSIE != 0 {
		st |= riscv.MstatusSPIE
	}
	ctx.Mstatus = riscv.WithMPP(st, riscv.PrivSupervisor)
	ctx.Mepc = h.ReadCSR(riscv.CSRStvec) &^ 0b11
}
