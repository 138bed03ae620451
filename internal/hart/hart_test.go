package hart

import (
	"testing"
	"unsafe"
)

func TestContextLayout(t *testing.T) {
	var c Context
	for _, tc := range []struct {
		name string
		got  uintptr
		want uintptr
	}{
		{"Msp", unsafe.Offsetof(c.Msp), OffsetMsp},
		{"X", unsafe.Offsetof(c.X), OffsetX},
		{"Mstatus", unsafe.Offsetof(c.Mstatus), OffsetMstatus},
		{"Mepc", unsafe.Offsetof(c.Mepc), OffsetMepc},
		{"size", unsafe.Sizeof(c), ContextSize},
	} {
		if tc.got != tc.want {
			t.Errorf("%s: got %d, want %d", tc.name, tc.got, tc.want)
		}
	}

	base := uintptr(unsafe.Pointer(&c))
	for n := 1; n < 32; n++ {
		off := uintptr(unsafe.Pointer(&c.X[n-1])) - base
		if off != uintptr(8*n) {
			t.Fatalf("x%d at offset %d, want %d", n, off, 8*n)
		}
	}
}

func TestContextRegisters(t *testing.T) {
	var c Context
	c.SetReg(0, 42)
	if got := c.Reg(0); got != 0 {
		t.Fatalf("x0 = %d after write", got)
	}
	c.SetReg(10, 0xdead)
	if c.X[9] != 0xdead || c.Reg(10) != 0xdead {
		t.Fatalf("a0 not stored at X[9]: %#x", c.X[9])
	}
	if c.Addr() != uint64(uintptr(unsafe.Pointer(&c))) {
		t.Fatalf("Addr mismatch")
	}
}
