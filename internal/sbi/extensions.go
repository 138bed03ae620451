package sbi

import (
	"github.com/tinyrange/sbirt/internal/hart"
	"github.com/tinyrange/sbirt/internal/riscv"
)

// Base extension functions.
const (
	baseGetSpecVersion = 0
	baseGetImplID      = 1
	baseGetImplVersion = 2
	baseProbeExtension = 3
	baseGetMvendorID   = 4
	baseGetMarchID     = 5
	baseGetMimpID      = 6
)

var supported = map[uint64]bool{
	ExtBase:                      true,
	ExtTimer:                     true,
	ExtIPI:                       true,
	ExtRFence:                    true,
	ExtHSM:                       true,
	ExtSRST:                      true,
	ExtLegacySetTimer:            true,
	ExtLegacyConsolePutchar:      true,
	ExtLegacyConsoleGetchar:      true,
	ExtLegacyClearIPI:            true,
	ExtLegacySendIPI:             true,
	ExtLegacyRemoteFenceI:        true,
	ExtLegacyRemoteSfenceVMA:     true,
	ExtLegacyRemoteSfenceVMAASID: true,
	ExtLegacyShutdown:            true,
}

func (g *Generic) base(h hart.Hart, fid uint64, args [6]uint64) Ret {
	switch fid {
	case baseGetSpecVersion:
		return Ok(SpecVersion)
	case baseGetImplID:
		return Ok(g.cfg.ImplID)
	case baseGetImplVersion:
		return Ok(g.cfg.ImplVersion)
	case baseProbeExtension:
		if supported[args[0]] {
			return Ok(1)
		}
		return Ok(0)
	case baseGetMvendorID:
		return Ok(h.ReadCSR(riscv.CSRMvendorid))
	case baseGetMarchID:
		return Ok(h.ReadCSR(riscv.CSRMarchid))
	case baseGetMimpID:
		return Ok(h.ReadCSR(riscv.CSRMimpid))
	}
	return Err(ErrNotSupported)
}

// setTimer programs the next supervisor timer event. The pending
// supervisor timer is cleared and the machine timer re-armed; the monitor
// converts the machine timer interrupt back into STIP when it fires.
func (g *Generic) setTimer(h hart.Hart, stime uint64) Ret {
	if g.cfg.Clint == nil {
		return Err(ErrNotSupported)
	}
	g.cfg.Clint.SetTimecmp(h.ReadCSR(riscv.CSRMhartid), stime)
	h.ClearCSR(riscv.CSRMip, riscv.MipSTIP)
	h.SetCSR(riscv.CSRMie, riscv.MieMTIE)
	return Ret{}
}

// sendIPI raises a supervisor software interrupt on the selected harts.
// Only the calling hart can be signalled directly.
func (g *Generic) sendIPI(h hart.Hart, mask, base uint64) Ret {
	self := h.ReadCSR(riscv.CSRMhartid)
	ok := g.forEachHart(mask, base, func(id uint64) bool {
		if id != self {
			return false
		}
		h.SetCSR(riscv.CSRMip, riscv.MipSSIP)
		return true
	})
	if !ok {
		return Err(ErrInvalidParam)
	}
	return Ret{}
}

// Remote fence functions.
const (
	rfenceFenceI         = 0
	rfenceSfenceVMA      = 1
	rfenceSfenceVMAASID  = 2
	rfenceHfenceGVMAVMID = 3
	rfenceHfenceGVMA     = 4
	rfenceHfenceVVMAASID = 5
	rfenceHfenceVVMA     = 6
)

func (g *Generic) rfence(h hart.Hart, fid uint64, args [6]uint64) Ret {
	self := h.ReadCSR(riscv.CSRMhartid)
	var fence func()
	switch fid {
	case rfenceFenceI:
		fence = func() {}
	case rfenceSfenceVMA, rfenceSfenceVMAASID:
		fence = h.FlushTLB
	default:
		return Err(ErrNotSupported)
	}
	ok := g.forEachHart(args[0], args[1], func(id uint64) bool {
		if id != self {
			return false
		}
		fence()
		return true
	})
	if !ok {
		return Err(ErrInvalidParam)
	}
	return Ret{}
}

// Hart state management.
const (
	hsmHartStart   = 0
	hsmHartStop    = 1
	hsmHartStatus  = 2
	hsmHartSuspend = 3

	hsmStarted = 0

	suspendRetentive = 0
)

func (g *Generic) hsm(h hart.Hart, fid uint64, args [6]uint64) Ret {
	self := h.ReadCSR(riscv.CSRMhartid)
	switch fid {
	case hsmHartStart:
		if args[0] == self {
			return Err(ErrAlreadyAvailable)
		}
		return Err(ErrInvalidParam)
	case hsmHartStop:
		// The boot hart cannot be parked without another hart to
		// restart it.
		return Err(ErrFailed)
	case hsmHartStatus:
		if args[0] == self {
			return Ok(hsmStarted)
		}
		return Err(ErrInvalidParam)
	case hsmHartSuspend:
		if args[0] == suspendRetentive {
			return Ret{}
		}
		return Err(ErrNotSupported)
	}
	return Err(ErrNotSupported)
}

func (g *Generic) systemReset(resetType, reason uint64) Ret {
	if !validResetType(resetType) || !validResetReason(reason) {
		return Err(ErrInvalidParam)
	}
	g.log.Info("sbi: system reset requested", "type", ResetTypeName(uint32(resetType)), "reason", reason)
	return Reset(uint32(resetType), reason)
}
