// Package riscv holds the RV64 privileged-architecture constants shared by
// the monitor, the software hart and the bare-metal hart.
package riscv

// Privilege levels.
const (
	PrivUser       uint8 = 0
	PrivSupervisor uint8 = 1
	PrivMachine    uint8 = 3
)

// ISA extension bits for misa.
const (
	MisaA uint64 = 1 << 0
	MisaC uint64 = 1 << 2
	MisaD uint64 = 1 << 3
	MisaF uint64 = 1 << 5
	MisaI uint64 = 1 << 8
	MisaM uint64 = 1 << 12
	MisaS uint64 = 1 << 18
	MisaU uint64 = 1 << 20
)

// MXL values for misa.
const (
	MXL32 uint64 = 1
	MXL64 uint64 = 2
)

// mstatus bits.
const (
	MstatusSIE  uint64 = 1 << 1
	MstatusMIE  uint64 = 1 << 3
	MstatusSPIE uint64 = 1 << 5
	MstatusMPIE uint64 = 1 << 7
	MstatusSPP  uint64 = 1 << 8
	MstatusMPP  uint64 = 3 << 11
	MstatusFS   uint64 = 3 << 13
	MstatusMPRV uint64 = 1 << 17
	MstatusSUM  uint64 = 1 << 18
	MstatusMXR  uint64 = 1 << 19
	MstatusTVM  uint64 = 1 << 20
	MstatusTW   uint64 = 1 << 21
	MstatusTSR  uint64 = 1 << 22
	MstatusSD   uint64 = 1 << 63
)

// mstatus field positions.
const (
	MstatusSPPShift = 8
	MstatusMPPShift = 11
)

// MPP returns the previous privilege recorded in mstatus.
func MPP(mstatus uint64) uint8 {
	return uint8((mstatus & MstatusMPP) >> MstatusMPPShift)
}

// WithMPP returns mstatus with MPP replaced by priv.
func WithMPP(mstatus uint64, priv uint8) uint64 {
	return mstatus&^MstatusMPP | uint64(priv)<<MstatusMPPShift
}

// mip/mie bits.
const (
	MipSSIP uint64 = 1 << 1
	MipMSIP uint64 = 1 << 3
	MipSTIP uint64 = 1 << 5
	MipMTIP uint64 = 1 << 7
	MipSEIP uint64 = 1 << 9
	MipMEIP uint64 = 1 << 11
)

// Interrupt-enable bits share the mip layout.
const (
	MieSSIE = MipSSIP
	MieMSIE = MipMSIP
	MieSTIE = MipSTIP
	MieMTIE = MipMTIP
	MieSEIE = MipSEIP
	MieMEIE = MipMEIP
)

// mcounteren bits.
const (
	CounterCY uint64 = 1 << 0
	CounterTM uint64 = 1 << 1
	CounterIR uint64 = 1 << 2
)

// CSR addresses.
const (
	CSRCycle      uint16 = 0xC00
	CSRTime       uint16 = 0xC01
	CSRInstret    uint16 = 0xC02
	CSRSstatus    uint16 = 0x100
	CSRSie        uint16 = 0x104
	CSRStvec      uint16 = 0x105
	CSRScounteren uint16 = 0x106
	CSRSscratch   uint16 = 0x140
	CSRSepc       uint16 = 0x141
	CSRScause     uint16 = 0x142
	CSRStval      uint16 = 0x143
	CSRSip        uint16 = 0x144
	CSRSatp       uint16 = 0x180
	CSRMstatus    uint16 = 0x300
	CSRMisa       uint16 = 0x301
	CSRMedeleg    uint16 = 0x302
	CSRMideleg    uint16 = 0x303
	CSRMie        uint16 = 0x304
	CSRMtvec      uint16 = 0x305
	CSRMcounteren uint16 = 0x306
	CSRMscratch   uint16 = 0x340
	CSRMepc       uint16 = 0x341
	CSRMcause     uint16 = 0x342
	CSRMtval      uint16 = 0x343
	CSRMip        uint16 = 0x344
	CSRPmpcfg0    uint16 = 0x3A0
	CSRPmpcfg2    uint16 = 0x3A2
	CSRPmpaddr0   uint16 = 0x3B0
	CSRMcycle     uint16 = 0xB00
	CSRMinstret   uint16 = 0xB02
	CSRMvendorid  uint16 = 0xF11
	CSRMarchid    uint16 = 0xF12
	CSRMimpid     uint16 = 0xF13
	CSRMhartid    uint16 = 0xF14
)

// Vendor CSRs of the T-Head C906/C910 cores.
const (
	CSRMxstatus uint16 = 0x7C0
	CSRMhcr     uint16 = 0x7C1
	CSRMcor     uint16 = 0x7C2
	CSRMhint    uint16 = 0x7C5
)

// PMPEntries is the number of PMP entries an RV64 hart can expose.
const PMPEntries = 16

// CSRPmpaddr returns the address of pmpaddr<i>.
func CSRPmpaddr(i int) uint16 {
	return CSRPmpaddr0 + uint16(i)
}

// CSRPmpcfgFor returns the pmpcfg register holding entry i and the byte
// offset of its configuration inside that register. RV64 packs eight
// entries per even-numbered pmpcfg.
func CSRPmpcfgFor(i int) (uint16, uint) {
	return CSRPmpcfg0 + uint16(i/8)*2, uint(i%8) * 8
}

// CSRName returns the assembler name for well-known CSRs.
func CSRName(csr uint16) string {
	if n, ok := csrNames[csr]; ok {
		return n
	}
	return ""
}

var csrNames = map[uint16]string{
	CSRCycle:      "cycle",
	CSRTime:       "time",
	CSRInstret:    "instret",
	CSRSstatus:    "sstatus",
	CSRSie:        "sie",
	CSRStvec:      "stvec",
	CSRScounteren: "scounteren",
	CSRSscratch:   "sscratch",
	CSRSepc:       "sepc",
	CSRScause:     "scause",
	CSRStval:      "stval",
	CSRSip:        "sip",
	CSRSatp:       "satp",
	CSRMstatus:    "mstatus",
	CSRMisa:       "misa",
	CSRMedeleg:    "medeleg",
	CSRMideleg:    "mideleg",
	CSRMie:        "mie",
	CSRMtvec:      "mtvec",
	CSRMcounteren: "mcounteren",
	CSRMscratch:   "mscratch",
	CSRMepc:       "mepc",
	CSRMcause:     "mcause",
	CSRMtval:      "mtval",
	CSRMip:        "mip",
	CSRPmpcfg0:    "pmpcfg0",
	CSRPmpcfg2:    "pmpcfg2",
	CSRMcycle:     "mcycle",
	CSRMinstret:   "minstret",
	CSRMvendorid:  "mvendorid",
	CSRMarchid:    "marchid",
	CSRMimpid:     "mimpid",
	CSRMhartid:    "mhartid",
	CSRMxstatus:   "mxstatus",
	CSRMhcr:       "mhcr",
	CSRMcor:       "mcor",
	CSRMhint:      "mhint",
}
