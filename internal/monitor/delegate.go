package monitor

import (
	"gvisor.dev/gvisor/pkg/bits"

	"github.com/tinyrange/sbirt/internal/hart"
	"github.com/tinyrange/sbirt/internal/riscv"
)

func causeBit(c riscv.Cause) int { return int(c.Code()) }

// DelegatedExceptions are the synchronous traps the supervisor handles
// without involving the monitor. Illegal instructions, breakpoints and
// supervisor/machine ecalls always reach the monitor.
var DelegatedExceptions = bits.Mask64(
	causeBit(riscv.CauseInsnAddrMisaligned),
	causeBit(riscv.CauseInsnAccessFault),
	causeBit(riscv.CauseLoadAddrMisaligned),
	causeBit(riscv.CauseLoadAccessFault),
	causeBit(riscv.CauseStoreAddrMisaligned),
	causeBit(riscv.CauseStoreAccessFault),
	causeBit(riscv.CauseEcallFromU),
	causeBit(riscv.CauseInsnPageFault),
	causeBit(riscv.CauseLoadPageFault),
	causeBit(riscv.CauseStorePageFault),
)

// DelegatedInterrupts are the supervisor-level interrupts.
const DelegatedInterrupts = riscv.MipSSIP | riscv.MipSTIP | riscv.MipSEIP

// MachineInterrupts are enabled so the monitor sees timer, software and
// external events while the supervisor runs.
const MachineInterrupts = riscv.MieMEIE | riscv.MieMTIE | riscv.MieMSIE

// ConfigureDelegation programs mideleg, medeleg, mtvec and mie. It must
// run once per hart before the first Resume.
func ConfigureDelegation(h hart.Hart) {
	h.SetCSR(riscv.CSRMideleg, DelegatedInterrupts)
	h.SetCSR(riscv.CSRMedeleg, DelegatedExceptions)
	h.WriteCSR(riscv.CSRMtvec, h.TrapVector())
	h.SetCSR(riscv.CSRMie, MachineInterrupts)
}
