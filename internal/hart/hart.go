// Package hart defines the boundary between the monitor and the machine it
// runs on: the saved supervisor register file and the handful of
// privileged operations that must be implemented per backend.
package hart

import "unsafe"

// Context is the supervisor register file saved on every trap into the
// monitor. The layout is shared with assembly and must not change:
//
//	0    monitor stack pointer
//	8    x1..x31 (xN at 8*N)
//	256  mstatus
//	264  mepc
//
// While the supervisor runs, mscratch holds the address of its Context.
type Context struct {
	Msp     uint64
	X       [31]uint64
	Mstatus uint64
	Mepc    uint64
}

// Layout offsets used by the trap entry code.
const (
	OffsetMsp     = 0
	OffsetX       = 8
	OffsetMstatus = 256
	OffsetMepc    = 264
	ContextSize   = 272
)

// Reg returns xN; x0 reads as zero.
func (c *Context) Reg(n int) uint64 {
	if n == 0 {
		return 0
	}
	return c.X[n-1]
}

// SetReg writes xN; writes to x0 are dropped.
func (c *Context) SetReg(n int, v uint64) {
	if n != 0 {
		c.X[n-1] = v
	}
}

// Addr is the value stored in mscratch while this context is live.
func (c *Context) Addr() uint64 {
	return uint64(uintptr(unsafe.Pointer(c)))
}

// Hart is a machine-mode view of one hardware thread.
type Hart interface {
	ReadCSR(csr uint16) uint64
	WriteCSR(csr uint16, val uint64)
	SetCSR(csr uint16, mask uint64)
	ClearCSR(csr uint16, mask uint64)

	// TrapVector is the address of the trap entry that saves into the
	// context published in mscratch.
	TrapVector() uint64

	// ProbeVector is the address of a trap handler that skips the
	// faulting load and flags the failure instead of re-entering the
	// monitor.
	ProbeVector() uint64

	// EnterSupervisor restores ctx, executes mret and returns once the
	// next trap has saved the supervisor state back into ctx.
	EnterSupervisor(ctx *Context)

	// RawLoad performs a machine-mode load of size bytes. It honours the
	// current mstatus.MPRV and reports whether the access trapped to
	// the probe vector.
	RawLoad(addr uint64, size int) (val uint64, faulted bool)

	// FlushTLB executes sfence.vma with no arguments.
	FlushTLB()
}

// Clint is the core-local interruptor of a board.
type Clint interface {
	MTime() uint64
	SetTimecmp(hartID, val uint64)
	SetSoft(hartID uint64, pending bool)
}
