//go:build tamago && riscv64

package metal

import (
	"sync"
	"unsafe"

	"github.com/tinyrange/sbirt/internal/hart"
	"github.com/tinyrange/sbirt/internal/riscv"
)

// defined in hart_riscv64.s
func callStub(fn uintptr, val uint64) uint64
func enterSupervisor(ctx *hart.Context)
func rawLoad(addr uint64, size int, mprv uint64) (val uint64, faulted bool)
func sfenceVMA()
func trapVector() uint64
func probeVector() uint64

// csrrs t0, csr, x0 and friends, with t0 as the operand register.
const (
	opRead  uint32 = 0x0000_22f3
	opWrite uint32 = 0x0002_9073
	opSet   uint32 = 0x0002_a073
	opClear uint32 = 0x0002_b073

	insnRet uint32 = 0x0000_8067 // jalr x0, 0(ra)
)

// stub is patched with one CSR instruction followed by ret. CSR numbers
// are immediates, so this avoids an assembly routine per register.
var stub [2]uint32

// Hart is the current hardware thread.
type Hart struct {
	mu sync.Mutex

	// mprv holds mstatus.MPRV while it is logically set. Go code would
	// have its own loads translated, so the bit only reaches the CSR for
	// the duration of RawLoad.
	mprv uint64
}

var _ hart.Hart = (*Hart)(nil)

// New returns the hart the caller is running on.
func New() *Hart { return &Hart{} }

func (h *Hart) csr(op uint32, csr uint16, val uint64) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	stub[0] = uint32(csr)<<20 | op
	stub[1] = insnRet
	return callStub(uintptr(unsafe.Pointer(&stub[0])), val)
}

func (h *Hart) ReadCSR(csr uint16) uint64 {
	v := h.csr(opRead, csr, 0)
	if csr == riscv.CSRMstatus {
		v |= h.mprv
	}
	return v
}

func (h *Hart) WriteCSR(csr uint16, val uint64) {
	if csr == riscv.CSRMstatus {
		h.mprv = val & riscv.MstatusMPRV
		val &^= riscv.MstatusMPRV
	}
	h.csr(opWrite, csr, val)
}

func (h *Hart) SetCSR(csr uint16, mask uint64) {
	if csr == riscv.CSRMstatus {
		h.mprv |= mask & riscv.MstatusMPRV
		mask &^= riscv.MstatusMPRV
	}
	h.csr(opSet, csr, mask)
}

func (h *Hart) ClearCSR(csr uint16, mask uint64) {
	if csr == riscv.CSRMstatus {
		h.mprv &^= mask
	}
	h.csr(opClear, csr, mask)
}

func (h *Hart) TrapVector() uint64  { return trapVector() }
func (h *Hart) ProbeVector() uint64 { return probeVector() }

// EnterSupervisor implements hart.Hart. The Go stack pointer and g are
// parked in ctx.Msp while the supervisor runs; the trap vector restores
// them and returns here.
func (h *Hart) EnterSupervisor(ctx *hart.Context) {
	enterSupervisor(ctx)
}

// RawLoad implements hart.Hart. mtvec must point at the probe vector.
func (h *Hart) RawLoad(addr uint64, size int) (uint64, bool) {
	switch size {
	case 1, 2, 4, 8:
	default:
		panic("metal: bad load size")
	}
	return rawLoad(addr, size, h.mprv)
}

func (h *Hart) FlushTLB() { sfenceVMA() }
