// Package rv64 is a software RV64IMAC hart with machine, supervisor and
// user privilege. It implements hart.Hart so the monitor can be driven on
// a development host exactly as it is on hardware.
package rv64

import (
	"errors"
	"fmt"

	"github.com/tinyrange/sbirt/internal/riscv"
)

// Exception is a synchronous trap raised while executing an instruction.
type Exception struct {
	Cause riscv.Cause
	Tval  uint64
}

func (e *Exception) Error() string {
	return fmt.Sprintf("rv64: %s (tval=%#x)", e.Cause, e.Tval)
}

func exception(cause riscv.Cause, tval uint64) error {
	return &Exception{Cause: cause, Tval: tval}
}

// Quirks select core-specific deviations from the base architecture.
type Quirks struct {
	// BreakpointIllegal reports ebreak and c.ebreak as illegal
	// instructions instead of breakpoints.
	BreakpointIllegal bool
}

// CPU is the architectural state of one hart.
type CPU struct {
	x    [32]uint64
	pc   uint64
	next uint64
	priv uint8

	csr csrFile
	mmu mmu
	bus *Bus

	// raw holds the undecoded instruction for tval reporting.
	raw uint32

	reservation      uint64
	reservationValid bool

	wfi    bool
	quirks Quirks

	// time supplies the mtime value visible through the time CSR.
	time func() uint64
}

func newCPU(bus *Bus, hartID uint64, q Quirks) *CPU {
	c := &CPU{
		bus:    bus,
		priv:   riscv.PrivMachine,
		quirks: q,
		time:   func() uint64 { return 0 },
	}
	c.csr.misa = riscv.MXL64<<62 | riscv.MisaI | riscv.MisaM | riscv.MisaA |
		riscv.MisaC | riscv.MisaS | riscv.MisaU
	c.csr.mhartid = hartID
	c.csr.vendor = make(map[uint16]uint64)
	c.mmu.cpu = c
	return c
}

func (c *CPU) reg(n uint32) uint64 {
	return c.x[n]
}

func (c *CPU) setReg(n uint32, v uint64) {
	if n != 0 {
		c.x[n] = v
	}
}

// trap enters the handler for cause, honouring medeleg and mideleg.
func (c *CPU) trap(cause riscv.Cause, tval uint64) {
	code := cause.Code()
	deleg := c.csr.medeleg
	if cause.IsInterrupt() {
		deleg = c.csr.mideleg
	}
	c.wfi = false
	c.reservationValid = false

	if c.priv <= riscv.PrivSupervisor && deleg&(1<<code) != 0 {
		c.csr.sepc = c.pc
		c.csr.scause = uint64(cause)
		c.csr.stval = tval
		st := c.csr.mstatus &^ (riscv.MstatusSPIE | riscv.MstatusSPP)
		if st&riscv.MstatusSIE != 0 {
			st |= riscv.MstatusSPIE
		}
		if c.priv == riscv.PrivSupervisor {
			st |= riscv.MstatusSPP
		}
		c.csr.mstatus = st &^ riscv.MstatusSIE
		c.priv = riscv.PrivSupervisor
		c.pc = vector(c.csr.stvec, cause)
		return
	}

	c.csr.mepc = c.pc
	c.csr.mcause = uint64(cause)
	c.csr.mtval = tval
	st := c.csr.mstatus &^ riscv.MstatusMPIE
	if st&riscv.MstatusMIE != 0 {
		st |= riscv.MstatusMPIE
	}
	c.csr.mstatus = riscv.WithMPP(st&^riscv.MstatusMIE, c.priv)
	c.priv = riscv.PrivMachine
	c.pc = vector(c.csr.mtvec, cause)
}

func vector(tvec uint64, cause riscv.Cause) uint64 {
	base := tvec &^ 3
	if tvec&3 == 1 && cause.IsInterrupt() {
		return base + 4*cause.Code()
	}
	return base
}

func (c *CPU) mret() {
	st := c.csr.mstatus
	prev := riscv.MPP(st)
	st &^= riscv.MstatusMIE
	if st&riscv.MstatusMPIE != 0 {
		st |= riscv.MstatusMIE
	}
	st |= riscv.MstatusMPIE
	st = riscv.WithMPP(st, riscv.PrivUser)
	if prev != riscv.PrivMachine {
		st &^= riscv.MstatusMPRV
	}
	c.csr.mstatus = st
	c.priv = prev
	c.next = c.csr.mepc
}

func (c *CPU) sret() {
	st := c.csr.mstatus
	prev := riscv.PrivUser
	if st&riscv.MstatusSPP != 0 {
		prev = riscv.PrivSupervisor
	}
	st &^= riscv.MstatusSIE
	if st&riscv.MstatusSPIE != 0 {
		st |= riscv.MstatusSIE
	}
	st |= riscv.MstatusSPIE
	st &^= riscv.MstatusSPP | riscv.MstatusMPRV
	c.csr.mstatus = st
	c.priv = prev
	c.next = c.csr.sepc
}

// pendingInterrupt picks the highest priority interrupt that is both
// pending and enabled at the current privilege.
func (c *CPU) pendingInterrupt() (riscv.Cause, bool) {
	pending := c.csr.mip & c.csr.mie
	if pending == 0 {
		return 0, false
	}

	mEnabled := c.priv < riscv.PrivMachine || c.csr.mstatus&riscv.MstatusMIE != 0
	sEnabled := c.priv < riscv.PrivSupervisor ||
		(c.priv == riscv.PrivSupervisor && c.csr.mstatus&riscv.MstatusSIE != 0)

	machine := pending &^ c.csr.mideleg
	super := pending & c.csr.mideleg
	if mEnabled && machine != 0 {
		return pick(machine, riscv.CauseMExternalInt, riscv.CauseMSoftwareInt, riscv.CauseMTimerInt,
			riscv.CauseSExternalInt, riscv.CauseSSoftwareInt, riscv.CauseSTimerInt)
	}
	if sEnabled && super != 0 {
		return pick(super, riscv.CauseSExternalInt, riscv.CauseSSoftwareInt, riscv.CauseSTimerInt)
	}
	return 0, false
}

func pick(bits uint64, order ...riscv.Cause) (riscv.Cause, bool) {
	for _, c := range order {
		if bits&(1<<c.Code()) != 0 {
			return c, true
		}
	}
	return 0, false
}

// step executes one instruction or takes one interrupt.
func (c *CPU) step() {
	if cause, ok := c.pendingInterrupt(); ok {
		c.trap(cause, 0)
		return
	}
	if c.wfi {
		if c.csr.mip&c.csr.mie == 0 {
			return
		}
		c.wfi = false
	}

	err := c.stepInsn()
	if err == nil {
		c.pc = c.next
		c.csr.instret++
		c.csr.cycle++
		return
	}
	var exc *Exception
	if !errors.As(err, &exc) {
		panic(err)
	}
	c.trap(exc.Cause, exc.Tval)
}

func (c *CPU) stepInsn() error {
	insn, err := c.fetch(c.pc)
	if err != nil {
		return err
	}
	c.raw = insn
	if insn&3 != 3 {
		c.next = c.pc + 2
		expanded, err := expandCompressed(uint16(insn))
		if err != nil {
			return err
		}
		return c.execute(expanded)
	}
	c.next = c.pc + 4
	return c.execute(insn)
}

func (c *CPU) fetch(pc uint64) (uint32, error) {
	lo, err := c.fetch16(pc)
	if err != nil {
		return 0, err
	}
	if lo&3 != 3 {
		return lo, nil
	}
	hi, err := c.fetch16(pc + 2)
	if err != nil {
		return 0, err
	}
	return lo | hi<<16, nil
}

func (c *CPU) fetch16(va uint64) (uint32, error) {
	pa, err := c.mmu.translate(va, accessFetch)
	if err != nil {
		return 0, err
	}
	v, err := c.bus.Read(pa, 2)
	if err != nil {
		return 0, exception(riscv.CauseInsnAccessFault, va)
	}
	return uint32(v), nil
}

func (c *CPU) load(va uint64, size int) (uint64, error) {
	pa, err := c.mmu.translate(va, accessLoad)
	if err != nil {
		return 0, err
	}
	v, err := c.bus.Read(pa, size)
	if err != nil {
		return 0, exception(riscv.CauseLoadAccessFault, va)
	}
	return v, nil
}

func (c *CPU) store(va uint64, size int, v uint64) error {
	pa, err := c.mmu.translate(va, accessStore)
	if err != nil {
		return err
	}
	if c.reservationValid && c.reservation == pa&^7 {
		c.reservationValid = false
	}
	if err := c.bus.Write(pa, size, v); err != nil {
		return exception(riscv.CauseStoreAccessFault, va)
	}
	return nil
}

func (c *CPU) illegal() error {
	return exception(riscv.CauseIllegalInsn, uint64(c.raw))
}

func signExtend(v uint64, bits uint) uint64 {
	shift := 64 - bits
	return uint64(int64(v<<shift) >> shift)
}

func sext32(v uint64) uint64 {
	return uint64(int64(int32(uint32(v))))
}
