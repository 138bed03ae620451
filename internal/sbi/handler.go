package sbi

import (
	"log/slog"

	"github.com/tinyrange/sbirt/internal/hart"
	"github.com/tinyrange/sbirt/internal/riscv"
)

// Default implementation identity reported by the base extension.
const (
	DefaultImplID      = 0x5342
	DefaultImplVersion = 0x0001_0000
)

// Config wires the generic handler to its board.
type Config struct {
	Console Console
	Clint   hart.Clint

	// Harts is the number of harts on the board; hart ids are dense
	// from zero.
	Harts uint64

	ImplID      uint64
	ImplVersion uint64

	Logger *slog.Logger
}

// Generic is the board-independent SBI implementation.
type Generic struct {
	cfg Config
	log *slog.Logger
}

var _ Handler = (*Generic)(nil)

// New returns a handler for cfg, filling defaults.
func New(cfg Config) *Generic {
	if cfg.Harts == 0 {
		cfg.Harts = 1
	}
	if cfg.ImplID == 0 {
		cfg.ImplID = DefaultImplID
	}
	if cfg.ImplVersion == 0 {
		cfg.ImplVersion = DefaultImplVersion
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Generic{cfg: cfg, log: log}
}

// Handle implements Handler.
func (g *Generic) Handle(h hart.Hart, ext, fid uint64, args [6]uint64) Ret {
	switch ext {
	case ExtBase:
		return g.base(h, fid, args)
	case ExtTimer:
		if fid != 0 {
			return Err(ErrNotSupported)
		}
		return g.setTimer(h, args[0])
	case ExtIPI:
		if fid != 0 {
			return Err(ErrNotSupported)
		}
		return g.sendIPI(h, args[0], args[1])
	case ExtRFence:
		return g.rfence(h, fid, args)
	case ExtHSM:
		return g.hsm(h, fid, args)
	case ExtSRST:
		if fid != 0 {
			return Err(ErrNotSupported)
		}
		return g.systemReset(args[0], args[1])

	case ExtLegacySetTimer:
		g.setTimer(h, args[0])
		return Ret{}
	case ExtLegacyConsolePutchar:
		if g.cfg.Console != nil {
			_ = g.cfg.Console.WriteByte(byte(args[0]))
		}
		return Ret{}
	case ExtLegacyConsoleGetchar:
		return g.getchar()
	case ExtLegacyClearIPI:
		h.ClearCSR(riscv.CSRMip, riscv.MipSSIP)
		return Ret{}
	case ExtLegacySendIPI:
		return g.legacyMask(h, args[0], func(mask uint64) Ret { return g.sendIPI(h, mask, 0) })
	case ExtLegacyRemoteFenceI:
		return g.legacyMask(h, args[0], func(uint64) Ret { return Ret{} })
	case ExtLegacyRemoteSfenceVMA, ExtLegacyRemoteSfenceVMAASID:
		return g.legacyMask(h, args[0], func(uint64) Ret {
			h.FlushTLB()
			return Ret{}
		})
	case ExtLegacyShutdown:
		return Reset(ResetShutdown, ReasonNone)
	}
	g.log.Debug("sbi: unsupported extension", "ext", ext, "fid", fid)
	return Err(ErrNotSupported)
}

func (g *Generic) getchar() Ret {
	if g.cfg.Console != nil {
		if b, ok := g.cfg.Console.TryReadByte(); ok {
			return Ret{Error: uint64(b)}
		}
	}
	return Ret{Error: ^uint64(0)}
}

// legacyMask reads the hart mask the legacy calls pass by reference. A
// zero pointer means all harts.
func (g *Generic) legacyMask(h hart.Hart, ptr uint64, f func(mask uint64) Ret) Ret {
	mask := uint64(1)<<g.cfg.Harts - 1
	if ptr != 0 {
		v, err := hart.LoadSupervisor(h, ptr, 8)
		if err != nil {
			g.log.Debug("sbi: unreadable legacy hart mask", "addr", ptr)
			return Err(ErrInvalidAddress)
		}
		mask = v
	}
	r := f(mask)
	// Legacy calls return only a0.
	return Ret{Error: r.Error}
}

// forEachHart visits the harts selected by (mask, base). base == -1
// selects every hart.
func (g *Generic) forEachHart(mask, base uint64, f func(id uint64) bool) bool {
	if base == ^uint64(0) {
		for id := uint64(0); id < g.cfg.Harts; id++ {
			if !f(id) {
				return false
			}
		}
		return true
	}
	for i := uint64(0); i < 64; i++ {
		if mask&(1<<i) == 0 {
			continue
		}
		id := base + i
		if id >= g.cfg.Harts || !f(id) {
			return false
		}
	}
	return true
}
