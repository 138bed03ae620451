package sbi

// ResetSentinel in the upper 32 bits of a result's error word tells the
// dispatch loop to stop and report a system reset instead of returning to
// the supervisor. The lower 32 bits carry the reset type and the value
// word the reset reason.
const ResetSentinel uint64 = 0x114514 << 32

const sentinelMask uint64 = 0xFFFFFFFF_00000000

// Reset types.
const (
	ResetShutdown  = 0
	ResetColdBoot  = 1
	ResetWarmBoot  = 2
	resetVendorMin = 0xF0000000
)

// Reset reasons.
const (
	ReasonNone          = 0
	ReasonSystemFailure = 1
	reasonImplMin       = 0xE0000000
)

// IsReset reports whether an error word carries the reset sentinel.
func IsReset(err uint64) bool {
	return err&sentinelMask == ResetSentinel
}

// Reset builds the result that ends the dispatch loop.
func Reset(resetType uint32, reason uint64) Ret {
	return Ret{Error: ResetSentinel | uint64(resetType), Value: reason}
}

func validResetType(t uint64) bool {
	return t <= ResetWarmBoot || (t >= resetVendorMin && t <= 0xFFFFFFFF)
}

func validResetReason(r uint64) bool {
	return r <= ReasonSystemFailure || (r >= reasonImplMin && r <= 0xFFFFFFFF)
}

// ResetTypeName names a reset type for logs.
func ResetTypeName(t uint32) string {
	switch t {
	case ResetShutdown:
		return "shutdown"
	case ResetColdBoot:
		return "cold reboot"
	case ResetWarmBoot:
		return "warm reboot"
	}
	if t >= resetVendorMin {
		return "vendor reset"
	}
	return "reserved"
}
