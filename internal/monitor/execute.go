package monitor

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/tinyrange/sbirt/internal/hart"
	"github.com/tinyrange/sbirt/internal/riscv"
	"github.com/tinyrange/sbirt/internal/sbi"
)

// Features is the platform module consulted for traps the monitor does not
// service itself.
type Features interface {
	// EmulateRdtime and EmulateSfenceVMA complete insn on behalf of the
	// supervisor and report whether they did. On success they have
	// advanced ctx.Mepc.
	EmulateRdtime(h hart.Hart, ctx *hart.Context, insn uint32) bool
	EmulateSfenceVMA(h hart.Hart, ctx *hart.Context, insn uint32) bool

	ShouldTransferTrap(ctx *hart.Context) bool
	DoTransferTrap(h hart.Hart, ctx *hart.Context, cause riscv.Cause, tval uint64)
}

// Platform bundles the collaborators of the dispatch loop.
type Platform struct {
	Console  io.ByteWriter
	SBI      sbi.Handler
	Features Features
	Logger   *slog.Logger
}

// Exit is the system reset that ended ExecuteSupervisor.
type Exit struct {
	ResetType   uint32
	ResetReason uint64
}

func (e Exit) String() string {
	return fmt.Sprintf("%s (reason %#x)", sbi.ResetTypeName(e.ResetType), e.ResetReason)
}

// ExecuteSupervisor boots the supervisor at entry with a0 and a1 and
// services its traps until it requests a system reset. Delegation must
// already be configured on h. Unrecoverable conditions panic with a
// *FatalError.
func ExecuteSupervisor(h hart.Hart, entry, a0, a1 uint64, p Platform) Exit {
	s := newSupervisor(NewRuntime(h, entry, a0, a1), p)
	for {
		if exit, done := s.step(); done {
			return exit
		}
	}
}

type supervisor struct {
	rt  *Runtime
	h   hart.Hart
	ctx *hart.Context
	p   Platform
	log *slog.Logger
}

func newSupervisor(rt *Runtime, p Platform) *supervisor {
	log := p.Logger
	if log == nil {
		log = slog.Default()
	}
	return &supervisor{rt: rt, h: rt.Hart(), ctx: rt.Context(), p: p, log: log}
}

// step resumes the supervisor once and handles the resulting trap.
func (s *supervisor) step() (Exit, bool) {
	trap := s.rt.Resume()
	switch trap.Kind {
	case TrapSBICall:
		return s.sbiCall()
	case TrapIllegalInstruction:
		s.illegalInstruction()
	case TrapMachineTimer:
		// Hand the tick to the supervisor and mask the machine timer
		// until the next set_timer call re-arms it.
		s.h.SetCSR(riscv.CSRMip, riscv.MipSTIP)
		s.h.ClearCSR(riscv.CSRMie, riscv.MieMTIE)
	case TrapExternalInterrupt, TrapMachineSoft:
	default:
		s.log.Debug("monitor: ignoring fault", "kind", trap.Kind, "addr", fmt.Sprintf("%#x", trap.Addr),
			"mepc", fmt.Sprintf("%#x", s.ctx.Mepc))
	}
	return Exit{}, false
}

func (s *supervisor) sbiCall() (Exit, bool) {
	ctx := s.ctx
	var args [6]uint64
	for i := range args {
		args[i] = ctx.Reg(riscv.RegA0 + i)
	}
	fid := ctx.Reg(riscv.RegA6)
	ext := ctx.Reg(riscv.RegA7)

	var ret sbi.Ret
	switch ext {
	case ExtPrivate:
		ret = handlePrivate(s.h, fid, args)
	case sbi.ExtLegacyConsolePutchar:
		if s.p.Console != nil {
			_ = s.p.Console.WriteByte(byte(args[0]))
		}
	default:
		if s.p.SBI == nil {
			ret = sbi.Err(sbi.ErrNotSupported)
		} else {
			ret = s.p.SBI.Handle(s.h, ext, fid, args)
		}
	}

	if sbi.IsReset(ret.Error) {
		exit := Exit{ResetType: uint32(ret.Error), ResetReason: ret.Value}
		s.log.Info("monitor: supervisor requested reset", "type", sbi.ResetTypeName(exit.ResetType),
			"reason", exit.ResetReason)
		return exit, true
	}
	ctx.SetReg(riscv.RegA0, ret.Error)
	// Legacy calls return only a0 and preserve every other register.
	if ext >= sbi.ExtBase {
		ctx.SetReg(riscv.RegA1, ret.Value)
	}
	ctx.Mepc += 4
	return Exit{}, false
}

func (s *supervisor) illegalInstruction() {
	ctx := s.ctx
	insn, readErr := hart.ReadInstruction(s.h, ctx.Mepc, riscv.MPP(ctx.Mstatus))
	if readErr == nil {
		if riscv.IsBreakpoint(insn) {
			ctx.Mepc += riscv.InsnLength(insn)
			return
		}
		if f := s.p.Features; f != nil {
			if f.EmulateRdtime(s.h, ctx, insn) || f.EmulateSfenceVMA(s.h, ctx, insn) {
				return
			}
		}
	}

	if f := s.p.Features; f != nil && f.ShouldTransferTrap(ctx) {
		if readErr != nil && IsPageFault(s.h, ctx.Mepc) {
			s.log.Debug("monitor: forwarding instruction page fault", "mepc", fmt.Sprintf("%#x", ctx.Mepc))
			f.DoTransferTrap(s.h, ctx, riscv.CauseInsnPageFault, ctx.Mepc)
			return
		}
		s.log.Debug("monitor: forwarding illegal instruction", "mepc", fmt.Sprintf("%#x", ctx.Mepc),
			"insn", fmt.Sprintf("%#x", insn))
		f.DoTransferTrap(s.h, ctx, riscv.CauseIllegalInsn, uint64(insn))
		return
	}

	reason := fmt.Sprintf("unhandled illegal instruction %#x", insn)
	if readErr != nil {
		reason = fmt.Sprintf("unhandled illegal instruction (unreadable: %v)", readErr)
	}
	err := fatal(s.h, ctx, reason, riscv.CauseIllegalInsn, uint64(insn))
	s.log.Error("monitor: fatal", "reason", reason, "dump", err.Dump())
	panic(err)
}
