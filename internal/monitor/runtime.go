package monitor

import (
	"fmt"
	"sync/atomic"

	"github.com/tinyrange/sbirt/internal/hart"
	"github.com/tinyrange/sbirt/internal/riscv"
)

// TrapKind classifies why the supervisor stopped.
type TrapKind int

const (
	TrapSBICall TrapKind = iota
	TrapIllegalInstruction
	TrapExternalInterrupt
	TrapMachineTimer
	TrapMachineSoft
	TrapInstructionFault
	TrapLoadFault
	TrapStoreFault
	TrapInstructionPageFault
	TrapLoadPageFault
	TrapStorePageFault
)

var trapKindNames = [...]string{
	TrapSBICall:              "sbi call",
	TrapIllegalInstruction:   "illegal instruction",
	TrapExternalInterrupt:    "external interrupt",
	TrapMachineTimer:         "machine timer",
	TrapMachineSoft:          "machine soft",
	TrapInstructionFault:     "instruction fault",
	TrapLoadFault:            "load fault",
	TrapStoreFault:           "store fault",
	TrapInstructionPageFault: "instruction page fault",
	TrapLoadPageFault:        "load page fault",
	TrapStorePageFault:       "store page fault",
}

func (k TrapKind) String() string {
	if k >= 0 && int(k) < len(trapKindNames) {
		return trapKindNames[k]
	}
	return fmt.Sprintf("TrapKind(%d)", int(k))
}

// Trap is the result of one Resume. Addr is the faulting address for the
// fault kinds and zero otherwise.
type Trap struct {
	Kind TrapKind
	Addr uint64
}

// IsFault reports whether the trap carries a faulting address.
func (t Trap) IsFault() bool { return t.Kind >= TrapInstructionFault }

// Runtime runs one supervisor on one hart as a resumable computation.
type Runtime struct {
	hart    hart.Hart
	ctx     hart.Context
	running atomic.Bool
}

// NewRuntime prepares a supervisor that starts at entry with a0 and a1
// set. The supervisor starts with interrupts disabled and paging off, as
// it would after a reset into a boot loader.
func NewRuntime(h hart.Hart, entry, a0, a1 uint64) *Runtime {
	rt := &Runtime{hart: h}
	st := h.ReadCSR(riscv.CSRMstatus) &^ (riscv.MstatusMIE | riscv.MstatusMPIE |
		riscv.MstatusSIE | riscv.MstatusSPIE | riscv.MstatusMPRV)
	rt.ctx.Mstatus = riscv.WithMPP(st, riscv.PrivSupervisor)
	rt.ctx.Mepc = entry
	rt.ctx.SetReg(riscv.RegA0, a0)
	rt.ctx.SetReg(riscv.RegA1, a1)
	return rt
}

// Context exposes the saved supervisor state between resumes.
func (rt *Runtime) Context() *hart.Context { return &rt.ctx }

// Hart returns the hart the runtime executes on.
func (rt *Runtime) Hart() hart.Hart { return rt.hart }

// Resume runs the supervisor until its next trap into the monitor.
// Causes the monitor cannot represent abort with a FatalError.
func (rt *Runtime) Resume() Trap {
	if !rt.running.CompareAndSwap(false, true) {
		panic("monitor: Resume re-entered while the supervisor is running")
	}
	rt.hart.EnterSupervisor(&rt.ctx)
	rt.running.Store(false)

	cause := riscv.Cause(rt.hart.ReadCSR(riscv.CSRMcause))
	tval := rt.hart.ReadCSR(riscv.CSRMtval)
	if t, ok := classify(cause, tval); ok {
		return t
	}
	panic(fatal(rt.hart, &rt.ctx, fmt.Sprintf("unhandled trap: %s", cause), cause, tval))
}

func classify(cause riscv.Cause, tval uint64) (Trap, bool) {
	switch cause {
	case riscv.CauseEcallFromS:
		return Trap{Kind: TrapSBICall}, true
	case riscv.CauseIllegalInsn:
		return Trap{Kind: TrapIllegalInstruction}, true
	case riscv.CauseMExternalInt:
		return Trap{Kind: TrapExternalInterrupt}, true
	case riscv.CauseMTimerInt:
		return Trap{Kind: TrapMachineTimer}, true
	case riscv.CauseMSoftwareInt:
		return Trap{Kind: TrapMachineSoft}, true
	case riscv.CauseInsnAccessFault:
		return Trap{Kind: TrapInstructionFault, Addr: tval}, true
	case riscv.CauseLoadAccessFault:
		return Trap{Kind: TrapLoadFault, Addr: tval}, true
	case riscv.CauseStoreAccessFault:
		return Trap{Kind: TrapStoreFault, Addr: tval}, true
	case riscv.CauseInsnPageFault:
		return Trap{Kind: TrapInstructionPageFault, Addr: tval}, true
	case riscv.CauseLoadPageFault:
		return Trap{Kind: TrapLoadPageFault, Addr: tval}, true
	case riscv.CauseStorePageFault:
		return Trap{Kind: TrapStorePageFault, Addr: tval}, true
	}
	return Trap{}, false
}
