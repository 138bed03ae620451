package riscv

// Fixed instruction encodings recognised by the monitor.
const (
	InsnEbreak  uint32 = 0x0010_0073
	InsnCEbreak uint32 = 0x9002
	InsnEcall   uint32 = 0x0000_0073
	InsnMret    uint32 = 0x3020_0073
	InsnSret    uint32 = 0x1020_0073
	InsnWfi     uint32 = 0x1050_0073
)

const (
	rdtimeMask    uint32 = 0xFFFF_F07F
	rdtimeMatch   uint32 = 0xC010_2073 // csrrs rd, time, x0
	sfenceVMAMask uint32 = 0xFE00_7FFF
	sfenceVMAOp   uint32 = 0x1200_0073
)

// InsnLength returns the encoded length in bytes of the instruction whose
// low halfword is insn. Only 16- and 32-bit encodings exist on supported
// cores.
func InsnLength(insn uint32) uint64 {
	if insn&0b11 == 0b11 {
		return 4
	}
	return 2
}

// IsBreakpoint reports whether insn is ebreak or c.ebreak.
func IsBreakpoint(insn uint32) bool {
	if InsnLength(insn) == 2 {
		return insn&0xFFFF == InsnCEbreak
	}
	return insn == InsnEbreak
}

// IsRdtime matches csrrs rd, time, x0 and returns rd.
func IsRdtime(insn uint32) (rd int, ok bool) {
	if insn&rdtimeMask != rdtimeMatch {
		return 0, false
	}
	return int(insn>>7) & 0x1f, true
}

// IsSfenceVMA matches sfence.vma rs1, rs2.
func IsSfenceVMA(insn uint32) bool {
	return insn&sfenceVMAMask == sfenceVMAOp
}
