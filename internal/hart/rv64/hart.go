package rv64

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/tinyrange/sbirt/internal/hart"
	"github.com/tinyrange/sbirt/internal/riscv"
)

// ErrHalted is raised (as a panic value) by EnterSupervisor once Halt has
// been called.
var ErrHalted = errors.New("rv64: hart halted")

// Default monitor vector addresses. They lie outside any device so a
// stray jump there faults instead of executing garbage.
const (
	DefaultTrapVector  uint64 = 0x0000_1000
	DefaultProbeVector uint64 = 0x0000_1100
	DefaultMonitorSP   uint64 = 0x0000_2000
)

// tickInterval is the number of steps between timer and halt checks.
const tickInterval = 256

// Config describes one software hart.
type Config struct {
	HartID      uint64
	Bus         *Bus
	CLINT       *CLINT
	Quirks      Quirks
	TrapVector  uint64
	ProbeVector uint64

	// Vendor CSR values exposed through mvendorid, marchid, mimpid and
	// the custom 0x7c0-0x7ff range.
	VendorID   uint64
	ArchID     uint64
	ImplID     uint64
	VendorCSRs map[uint16]uint64
}

// VectorError reports a trap that did not land on the installed vector,
// which would have run arbitrary code on hardware.
type VectorError struct {
	PC    uint64
	Cause riscv.Cause
	Tval  uint64
}

func (e *VectorError) Error() string {
	return fmt.Sprintf("rv64: trap %q (tval=%#x) entered machine mode at %#x, not at the trap vector",
		e.Cause, e.Tval, e.PC)
}

// Hart is a software hart implementing hart.Hart.
type Hart struct {
	cpu   *CPU
	bus   *Bus
	clint *CLINT
	id    uint64

	trapVector  uint64
	probeVector uint64

	halted atomic.Bool
}

var _ hart.Hart = (*Hart)(nil)

// New creates a hart in machine mode.
func New(cfg Config) (*Hart, error) {
	if cfg.Bus == nil || cfg.CLINT == nil {
		return nil, fmt.Errorf("rv64: hart %d needs a bus and a CLINT", cfg.HartID)
	}
	if cfg.HartID >= uint64(len(cfg.CLINT.harts)) {
		return nil, fmt.Errorf("rv64: hart %d outside CLINT range", cfg.HartID)
	}
	if cfg.TrapVector == 0 {
		cfg.TrapVector = DefaultTrapVector
	}
	if cfg.ProbeVector == 0 {
		cfg.ProbeVector = DefaultProbeVector
	}

	cpu := newCPU(cfg.Bus, cfg.HartID, cfg.Quirks)
	cpu.csr.mvendorid = cfg.VendorID
	cpu.csr.marchid = cfg.ArchID
	cpu.csr.mimpid = cfg.ImplID
	for csr, v := range cfg.VendorCSRs {
		if !isVendorCSR(csr) {
			return nil, fmt.Errorf("rv64: CSR %#x is not a custom machine CSR", csr)
		}
		cpu.csr.vendor[csr] = v
	}
	cfg.CLINT.attach(cfg.HartID, cpu)

	return &Hart{
		cpu:         cpu,
		bus:         cfg.Bus,
		clint:       cfg.CLINT,
		id:          cfg.HartID,
		trapVector:  cfg.TrapVector,
		probeVector: cfg.ProbeVector,
	}, nil
}

// ReadCSR implements hart.Hart.
func (h *Hart) ReadCSR(csr uint16) uint64 { return h.cpu.readCSR(csr) }

// WriteCSR implements hart.Hart.
func (h *Hart) WriteCSR(csr uint16, val uint64) { h.cpu.writeCSR(csr, val) }

// SetCSR implements hart.Hart.
func (h *Hart) SetCSR(csr uint16, mask uint64) {
	h.cpu.writeCSR(csr, h.cpu.readCSR(csr)|mask)
}

// ClearCSR implements hart.Hart.
func (h *Hart) ClearCSR(csr uint16, mask uint64) {
	h.cpu.writeCSR(csr, h.cpu.readCSR(csr)&^mask)
}

func (h *Hart) TrapVector() uint64  { return h.trapVector }
func (h *Hart) ProbeVector() uint64 { return h.probeVector }

// FlushTLB implements hart.Hart.
func (h *Hart) FlushTLB() { h.cpu.mmu.flush() }

// Halt makes the running EnterSupervisor call panic with ErrHalted at its
// next check. It is safe to call from any goroutine.
func (h *Hart) Halt() { h.halted.Store(true) }

// EnterSupervisor implements hart.Hart.
//
// The entry half mirrors the assembly path: publish the context in
// mscratch, load mstatus and mepc, load x1..x31 and mret. Execution then
// continues until a trap reaches machine mode, at which point the trap
// entry saves the supervisor state into the context held in mscratch.
func (h *Hart) EnterSupervisor(ctx *hart.Context) {
	c := h.cpu
	ctx.Msp = DefaultMonitorSP
	c.csr.mscratch = ctx.Addr()
	c.writeCSR(riscv.CSRMstatus, ctx.Mstatus)
	c.writeCSR(riscv.CSRMepc, ctx.Mepc)
	for i := 1; i < 32; i++ {
		c.x[i] = ctx.X[i-1]
	}
	c.mret()
	c.pc = c.next
	if c.priv == riscv.PrivMachine {
		panic(fmt.Errorf("rv64: mret from monitor stayed in machine mode (mstatus=%#x)", ctx.Mstatus))
	}

	h.run()

	if c.pc != h.trapVector {
		panic(&VectorError{PC: c.pc, Cause: riscv.Cause(c.csr.mcause), Tval: c.csr.mtval})
	}
	if c.csr.mscratch != ctx.Addr() {
		panic(fmt.Errorf("rv64: mscratch changed while supervisor ran: %#x", c.csr.mscratch))
	}
	for i := 1; i < 32; i++ {
		ctx.X[i-1] = c.x[i]
	}
	ctx.Mstatus = c.readCSR(riscv.CSRMstatus)
	ctx.Mepc = c.csr.mepc
	c.pc = h.trapVector
}

// run steps the hart until it traps into machine mode.
func (h *Hart) run() {
	c := h.cpu
	for n := 0; ; n++ {
		if n%tickInterval == 0 {
			if h.halted.Load() {
				panic(ErrHalted)
			}
			h.clint.update(h.id)
		}
		c.step()
		if c.priv == riscv.PrivMachine {
			return
		}
	}
}

// RawLoad implements hart.Hart. A failing access is taken as a trap to
// mtvec exactly as the hardware would; only the probe vector handler is
// modelled, any other vector is a nested fault in the monitor.
func (h *Hart) RawLoad(addr uint64, size int) (uint64, bool) {
	c := h.cpu
	prev := c.priv
	c.priv = riscv.PrivMachine
	defer func() { c.priv = prev }()

	v, err := c.load(addr, size)
	if err == nil {
		return v, false
	}
	var exc *Exception
	if !errors.As(err, &exc) {
		panic(err)
	}
	if c.csr.mtvec&^3 != h.probeVector {
		panic(fmt.Errorf("rv64: monitor load at %#x faulted (%s) with mtvec=%#x", addr, exc.Cause, c.csr.mtvec))
	}
	c.csr.mcause = uint64(exc.Cause)
	c.csr.mtval = exc.Tval
	return 0, true
}

// Bus returns the hart's physical bus.
func (h *Hart) Bus() *Bus { return h.bus }

// Privilege returns the current privilege level.
func (h *Hart) Privilege() uint8 { return h.cpu.priv }

// Reg returns xN of the live register file.
func (h *Hart) Reg(n int) uint64 { return h.cpu.x[n] }
