//go:build tamago && riscv64

package metal

import (
	"sync/atomic"
	"unsafe"
)

// SiFive CLINT register offsets.
const (
	clintMsip     = 0x0000
	clintMtimecmp = 0x4000
	clintMtime    = 0xbff8
)

func reg64(addr uintptr) *uint64 { return (*uint64)(unsafe.Pointer(addr)) }
func reg32(addr uintptr) *uint32 { return (*uint32)(unsafe.Pointer(addr)) }
func reg8(addr uintptr) *uint8   { return (*uint8)(unsafe.Pointer(addr)) }

// Clint drives a memory-mapped CLINT. It implements hart.Clint.
type Clint struct {
	Base uintptr
}

func (c *Clint) MTime() uint64 {
	return atomic.LoadUint64(reg64(c.Base + clintMtime))
}

func (c *Clint) SetTimecmp(hartID, val uint64) {
	atomic.StoreUint64(reg64(c.Base+clintMtimecmp+uintptr(hartID)*8), val)
}

func (c *Clint) SetSoft(hartID uint64, pending bool) {
	var v uint32
	if pending {
		v = 1
	}
	atomic.StoreUint32(reg32(c.Base+clintMsip+uintptr(hartID)*4), v)
}

// 16550 registers, byte spaced.
const (
	uartTHR = 0
	uartRBR = 0
	uartLSR = 5

	lsrDataReady = 1 << 0
	lsrTHREmpty  = 1 << 5
)

// UART is a polled 16550 console. It implements sbi.Console.
type UART struct {
	Base uintptr
}

func (u *UART) lsr() uint8 {
	return *reg8(u.Base + uartLSR)
}

func (u *UART) WriteByte(b byte) error {
	for u.lsr()&lsrTHREmpty == 0 {
	}
	*reg8(u.Base + uartTHR) = b
	return nil
}

func (u *UART) TryReadByte() (byte, bool) {
	if u.lsr()&lsrDataReady == 0 {
		return 0, false
	}
	return *reg8(u.Base + uartRBR), true
}
