package monitor

import (
	"bytes"
	"fmt"

	"github.com/tinyrange/sbirt/internal/hart"
	"github.com/tinyrange/sbirt/internal/riscv"
)

// FatalError is the panic value used when the monitor cannot continue.
// Its message is a full dump of the supervisor context.
type FatalError struct {
	Reason  string
	Cause   riscv.Cause
	Tval    uint64
	Context hart.Context

	// CSRs captured at the time of the failure.
	Satp, Stvec, Mtvec, Mie, Mip uint64
}

func (e *FatalError) Error() string {
	return "monitor: " + e.Reason + "\n" + e.Dump()
}

// Dump renders the saved registers and key CSRs.
func (e *FatalError) Dump() string {
	var buf bytes.Buffer
	c := &e.Context

	fmt.Fprintf(&buf, "mepc:    0x%016x  mstatus: 0x%016x  (prev %s)\n",
		c.Mepc, c.Mstatus, privName(riscv.MPP(c.Mstatus)))
	fmt.Fprintf(&buf, "mcause:  0x%016x  (%s)\n", uint64(e.Cause), e.Cause)
	fmt.Fprintf(&buf, "mtval:   0x%016x  satp:    0x%016x\n", e.Tval, e.Satp)
	fmt.Fprintf(&buf, "mtvec:   0x%016x  stvec:   0x%016x\n", e.Mtvec, e.Stvec)
	fmt.Fprintf(&buf, "mie:     0x%016x  mip:     0x%016x\n", e.Mie, e.Mip)
	for i := 0; i < 32; i += 4 {
		for j := i; j < i+4; j++ {
			fmt.Fprintf(&buf, "x%-2d(%-4s) = 0x%016x  ", j, riscv.RegNames[j], c.Reg(j))
		}
		buf.WriteString("\n")
	}
	return buf.String()
}

func privName(p uint8) string {
	switch p {
	case riscv.PrivUser:
		return "U"
	case riscv.PrivSupervisor:
		return "S"
	case riscv.PrivMachine:
		return "M"
	}
	return "?"
}

func fatal(h hart.Hart, ctx *hart.Context, reason string, cause riscv.Cause, tval uint64) *FatalError {
	return &FatalError{
		Reason:  reason,
		Cause:   cause,
		Tval:    tval,
		Context: *ctx,
		Satp:    h.ReadCSR(riscv.CSRSatp),
		Stvec:   h.ReadCSR(riscv.CSRStvec),
		Mtvec:   h.ReadCSR(riscv.CSRMtvec),
		Mie:     h.ReadCSR(riscv.CSRMie),
		Mip:     h.ReadCSR(riscv.CSRMip),
	}
}
