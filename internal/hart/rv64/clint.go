package rv64

import (
	"sync/atomic"
	"time"

	"github.com/tinyrange/sbirt/internal/riscv"
)

// CLINT register layout.
const (
	CLINTSize     uint64 = 0x10000
	clintMsip            = 0x0000
	clintMtimecmp        = 0x4000
	clintMtime           = 0xbff8
)

// Clock is the source of mtime.
type Clock interface {
	Now() uint64
}

// WallClock derives mtime from the host monotonic clock.
type WallClock struct {
	start time.Time
	freq  uint64
}

// NewWallClock returns a clock ticking at freq Hz.
func NewWallClock(freq uint64) *WallClock {
	return &WallClock{start: time.Now(), freq: freq}
}

func (w *WallClock) Now() uint64 {
	ns := uint64(time.Since(w.start).Nanoseconds())
	return ns / 1000 * w.freq / 1_000_000
}

// ManualClock only advances when told to. Tests use it for determinism.
type ManualClock struct {
	now atomic.Uint64
}

func (m *ManualClock) Now() uint64 { return m.now.Load() }

// Advance moves the clock forward by d ticks.
func (m *ManualClock) Advance(d uint64) { m.now.Add(d) }

// CLINT is the core-local interruptor: per-hart software interrupt and
// timer compare registers plus the shared mtime.
type CLINT struct {
	clock    Clock
	harts    []*CPU
	msip     []bool
	mtimecmp []uint64
}

// NewCLINT creates a CLINT serving nharts harts.
func NewCLINT(clock Clock, nharts int) *CLINT {
	c := &CLINT{
		clock:    clock,
		harts:    make([]*CPU, nharts),
		msip:     make([]bool, nharts),
		mtimecmp: make([]uint64, nharts),
	}
	for i := range c.mtimecmp {
		c.mtimecmp[i] = ^uint64(0)
	}
	return c
}

func (c *CLINT) attach(id uint64, cpu *CPU) {
	c.harts[id] = cpu
	cpu.time = c.MTime
}

func (c *CLINT) Size() uint64 { return CLINTSize }

// MTime implements hart.Clint.
func (c *CLINT) MTime() uint64 { return c.clock.Now() }

// SetTimecmp implements hart.Clint.
func (c *CLINT) SetTimecmp(hartID, val uint64) {
	if hartID >= uint64(len(c.harts)) {
		return
	}
	c.mtimecmp[hartID] = val
	c.update(hartID)
}

// SetSoft implements hart.Clint.
func (c *CLINT) SetSoft(hartID uint64, pending bool) {
	if hartID >= uint64(len(c.harts)) {
		return
	}
	c.msip[hartID] = pending
	c.update(hartID)
}

// update recomputes mip.MTIP and mip.MSIP for a hart.
func (c *CLINT) update(id uint64) {
	cpu := c.harts[id]
	if cpu == nil {
		return
	}
	mip := cpu.csr.mip &^ (riscv.MipMTIP | riscv.MipMSIP)
	if c.clock.Now() >= c.mtimecmp[id] {
		mip |= riscv.MipMTIP
	}
	if c.msip[id] {
		mip |= riscv.MipMSIP
	}
	cpu.csr.mip = mip
}

func (c *CLINT) Read(offset uint64, size int) (uint64, error) {
	n := uint64(len(c.harts))
	switch {
	case offset >= clintMtime:
		return c.clock.Now() >> ((offset - clintMtime) * 8), nil
	case offset >= clintMtimecmp && offset < clintMtimecmp+8*n:
		i := (offset - clintMtimecmp) / 8
		return c.mtimecmp[i] >> (offset % 8 * 8), nil
	case offset < 4*n:
		return b2u(c.msip[offset/4]), nil
	}
	return 0, nil
}

func (c *CLINT) Write(offset uint64, size int, value uint64) error {
	n := uint64(len(c.harts))
	switch {
	case offset >= clintMtimecmp && offset < clintMtimecmp+8*n:
		i := (offset - clintMtimecmp) / 8
		v := c.mtimecmp[i]
		if size == 4 {
			shift := offset % 8 * 8
			v = v&^(0xffffffff<<shift) | (value&0xffffffff)<<shift
		} else {
			v = value
		}
		c.SetTimecmp(i, v)
	case offset < 4*n:
		c.SetSoft(offset/4, value&1 != 0)
	}
	return nil
}
