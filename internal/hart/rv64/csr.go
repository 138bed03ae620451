package rv64

import "github.com/tinyrange/sbirt/internal/riscv"

type csrFile struct {
	mstatus    uint64
	misa       uint64
	medeleg    uint64
	mideleg    uint64
	mie        uint64
	mip        uint64
	mtvec      uint64
	mcounteren uint64
	mscratch   uint64
	mepc       uint64
	mcause     uint64
	mtval      uint64

	stvec      uint64
	scounteren uint64
	sscratch   uint64
	sepc       uint64
	scause     uint64
	stval      uint64
	satp       uint64

	mvendorid uint64
	marchid   uint64
	mimpid    uint64
	mhartid   uint64

	cycle   uint64
	instret uint64

	pmpcfg  [2]uint64
	pmpaddr [riscv.PMPEntries]uint64

	// vendor holds the custom machine CSRs 0x7c0-0x7ff.
	vendor map[uint16]uint64
}

const (
	medelegMask = 0xb3ff
	midelegMask = riscv.MipSSIP | riscv.MipSTIP | riscv.MipSEIP
	mieMask     = riscv.MipSSIP | riscv.MipMSIP | riscv.MipSTIP |
		riscv.MipMTIP | riscv.MipSEIP | riscv.MipMEIP
	mipWritable = riscv.MipSSIP | riscv.MipSTIP | riscv.MipSEIP

	mstatusWritable = riscv.MstatusSIE | riscv.MstatusMIE | riscv.MstatusSPIE |
		riscv.MstatusMPIE | riscv.MstatusSPP | riscv.MstatusMPP |
		riscv.MstatusMPRV | riscv.MstatusSUM | riscv.MstatusMXR |
		riscv.MstatusTVM | riscv.MstatusTW | riscv.MstatusTSR
	sstatusMask = riscv.MstatusSIE | riscv.MstatusSPIE | riscv.MstatusSPP |
		riscv.MstatusFS | riscv.MstatusSUM | riscv.MstatusMXR | riscv.MstatusSD

	// UXL and SXL are fixed at 64 bits.
	mstatusXLEN = 2<<32 | 2<<34
)

func isVendorCSR(csr uint16) bool {
	return csr >= 0x7c0 && csr <= 0x7ff
}

// checkAccess applies the privilege, read-only and counter-enable rules
// for an instruction-level CSR access.
func (c *CPU) checkAccess(csr uint16, write bool) error {
	if uint8((csr>>8)&3) > c.priv {
		return c.illegal()
	}
	if write && csr>>10 == 3 {
		return c.illegal()
	}
	switch csr {
	case riscv.CSRCycle, riscv.CSRTime, riscv.CSRInstret:
		bit := uint64(1) << (csr - riscv.CSRCycle)
		if c.priv < riscv.PrivMachine && c.csr.mcounteren&bit == 0 {
			return c.illegal()
		}
		if c.priv == riscv.PrivUser && c.csr.scounteren&bit == 0 {
			return c.illegal()
		}
	case riscv.CSRSatp:
		if c.priv == riscv.PrivSupervisor && c.csr.mstatus&riscv.MstatusTVM != 0 {
			return c.illegal()
		}
	}
	return nil
}

// readCSR returns the value of csr without access checks. Unimplemented
// CSRs read as zero.
func (c *CPU) readCSR(csr uint16) uint64 {
	f := &c.csr
	switch csr {
	case riscv.CSRCycle, riscv.CSRMcycle:
		return f.cycle
	case riscv.CSRInstret, riscv.CSRMinstret:
		return f.instret
	case riscv.CSRTime:
		return c.time()

	case riscv.CSRSstatus:
		return (f.mstatus | mstatusXLEN) & (sstatusMask | 3<<32)
	case riscv.CSRSie:
		return f.mie & f.mideleg
	case riscv.CSRStvec:
		return f.stvec
	case riscv.CSRScounteren:
		return f.scounteren
	case riscv.CSRSscratch:
		return f.sscratch
	case riscv.CSRSepc:
		return f.sepc
	case riscv.CSRScause:
		return f.scause
	case riscv.CSRStval:
		return f.stval
	case riscv.CSRSip:
		return f.mip & f.mideleg
	case riscv.CSRSatp:
		return f.satp

	case riscv.CSRMstatus:
		return f.mstatus | mstatusXLEN
	case riscv.CSRMisa:
		return f.misa
	case riscv.CSRMedeleg:
		return f.medeleg
	case riscv.CSRMideleg:
		return f.mideleg
	case riscv.CSRMie:
		return f.mie
	case riscv.CSRMtvec:
		return f.mtvec
	case riscv.CSRMcounteren:
		return f.mcounteren
	case riscv.CSRMscratch:
		return f.mscratch
	case riscv.CSRMepc:
		return f.mepc
	case riscv.CSRMcause:
		return f.mcause
	case riscv.CSRMtval:
		return f.mtval
	case riscv.CSRMip:
		return f.mip
	case riscv.CSRMvendorid:
		return f.mvendorid
	case riscv.CSRMarchid:
		return f.marchid
	case riscv.CSRMimpid:
		return f.mimpid
	case riscv.CSRMhartid:
		return f.mhartid
	case riscv.CSRPmpcfg0:
		return f.pmpcfg[0]
	case riscv.CSRPmpcfg2:
		return f.pmpcfg[1]
	}
	if csr >= riscv.CSRPmpaddr0 && csr < riscv.CSRPmpaddr0+riscv.PMPEntries {
		return f.pmpaddr[csr-riscv.CSRPmpaddr0]
	}
	if isVendorCSR(csr) {
		return f.vendor[csr]
	}
	return 0
}

// writeCSR stores val into csr, applying WARL masks.
func (c *CPU) writeCSR(csr uint16, val uint64) {
	f := &c.csr
	switch csr {
	case riscv.CSRSstatus:
		f.mstatus = f.mstatus&^sstatusMask | val&sstatusMask&mstatusWritable
	case riscv.CSRSie:
		f.mie = f.mie&^f.mideleg | val&f.mideleg
	case riscv.CSRStvec:
		f.stvec = val &^ 2
	case riscv.CSRScounteren:
		f.scounteren = val & 7
	case riscv.CSRSscratch:
		f.sscratch = val
	case riscv.CSRSepc:
		f.sepc = val &^ 1
	case riscv.CSRScause:
		f.scause = val
	case riscv.CSRStval:
		f.stval = val
	case riscv.CSRSip:
		f.mip = f.mip&^riscv.MipSSIP | val&riscv.MipSSIP&f.mideleg
	case riscv.CSRSatp:
		mode := riscv.SatpMode(val)
		if mode == riscv.SatpModeBare || mode == riscv.SatpModeSv39 || mode == riscv.SatpModeSv48 {
			f.satp = val
			c.mmu.flush()
		}

	case riscv.CSRMstatus:
		f.mstatus = f.mstatus&^mstatusWritable | val&mstatusWritable
		if riscv.MPP(f.mstatus) == 2 {
			f.mstatus = riscv.WithMPP(f.mstatus, riscv.PrivUser)
		}
	case riscv.CSRMedeleg:
		f.medeleg = val & medelegMask
	case riscv.CSRMideleg:
		f.mideleg = val & midelegMask
	case riscv.CSRMie:
		f.mie = val & mieMask
	case riscv.CSRMtvec:
		f.mtvec = val &^ 2
	case riscv.CSRMcounteren:
		f.mcounteren = val & 7
	case riscv.CSRMscratch:
		f.mscratch = val
	case riscv.CSRMepc:
		f.mepc = val &^ 1
	case riscv.CSRMcause:
		f.mcause = val
	case riscv.CSRMtval:
		f.mtval = val
	case riscv.CSRMip:
		f.mip = f.mip&^mipWritable | val&mipWritable
	case riscv.CSRMcycle:
		f.cycle = val
	case riscv.CSRMinstret:
		f.instret = val
	case riscv.CSRPmpcfg0:
		f.pmpcfg[0] = lockedCfg(f.pmpcfg[0], val)
	case riscv.CSRPmpcfg2:
		f.pmpcfg[1] = lockedCfg(f.pmpcfg[1], val)
	default:
		if csr >= riscv.CSRPmpaddr0 && csr < riscv.CSRPmpaddr0+riscv.PMPEntries {
			i := int(csr - riscv.CSRPmpaddr0)
			reg, shift := riscv.CSRPmpcfgFor(i)
			if (c.readCSR(reg)>>shift)&0x80 == 0 {
				f.pmpaddr[i] = val & (1<<54 - 1)
			}
		} else if isVendorCSR(csr) {
			f.vendor[csr] = val
		}
	}
}

// lockedCfg keeps the bytes of locked PMP entries.
func lockedCfg(old, val uint64) uint64 {
	for i := uint(0); i < 8; i++ {
		if (old>>(i*8))&0x80 != 0 {
			val = val&^(0xff<<(i*8)) | old&(0xff<<(i*8))
		}
	}
	return val
}

// csrOp executes one of the Zicsr instructions.
func (c *CPU) csrOp(insn uint32) error {
	csr := uint16(insn >> 20)
	rd := (insn >> 7) & 0x1f
	rs1 := (insn >> 15) & 0x1f
	funct3 := (insn >> 12) & 7

	src := c.reg(rs1)
	if funct3 >= 5 {
		src = uint64(rs1)
	}
	write := true
	switch funct3 & 3 {
	case 2, 3:
		write = rs1 != 0
	}
	if err := c.checkAccess(csr, write); err != nil {
		return err
	}

	old := c.readCSR(csr)
	if write {
		switch funct3 & 3 {
		case 1:
			c.writeCSR(csr, src)
		case 2:
			c.writeCSR(csr, old|src)
		case 3:
			c.writeCSR(csr, old&^src)
		}
	}
	c.setReg(rd, old)
	return nil
}
