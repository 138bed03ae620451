package board

import (
	"fmt"
	"strings"

	"github.com/tinyrange/sbirt/internal/fdt"
	"github.com/tinyrange/sbirt/internal/hart/rv64"
	"github.com/tinyrange/sbirt/internal/riscv"
)

const (
	cpuIntcPhandle = 1
	uartClockHz    = 3_686_400
)

// isaString renders misa as a riscv,isa value, e.g. "rv64imac".
func isaString(misa uint64) string {
	var sb strings.Builder
	sb.WriteString("rv64")
	for _, ext := range "imafdqc" {
		if misa&(1<<(ext-'a')) != 0 {
			sb.WriteRune(ext)
		}
	}
	sb.WriteString("_zicsr_zifencei")
	return sb.String()
}

// DeviceTree describes the board to the supervisor: one hart, RAM, the
// CLINT, and the console UART.
func (b *Board) DeviceTree() ([]byte, error) {
	cfg := b.Config
	uartName := fmt.Sprintf("serial@%x", cfg.UART.Base)
	isa := isaString(b.Hart.ReadCSR(riscv.CSRMisa))

	cpu := fdt.Node{Name: fmt.Sprintf("cpu@%d", cfg.Hart.ID)}.Prop(
		fdt.String("device_type", "cpu"),
		fdt.U32("reg", uint32(cfg.Hart.ID)),
		fdt.String("status", "okay"),
		fdt.String("compatible", "riscv"),
		fdt.String("riscv,isa", isa),
		fdt.String("mmu-type", "riscv,sv39"),
	).Child(
		fdt.Node{Name: "interrupt-controller"}.Prop(
			fdt.U32("#interrupt-cells", 1),
			fdt.Flag("interrupt-controller"),
			fdt.String("compatible", "riscv,cpu-intc"),
			fdt.U32("phandle", cpuIntcPhandle),
		),
	)

	root := fdt.Node{}.Prop(
		fdt.U32("#address-cells", 2),
		fdt.U32("#size-cells", 2),
		fdt.String("compatible", "tinyrange,sbirt"),
		fdt.String("model", "sbirt"),
	).Child(
		fdt.Node{Name: "chosen"}.Prop(
			fdt.String("stdout-path", "/soc/"+uartName),
		),
		fdt.Node{Name: fmt.Sprintf("memory@%x", cfg.Memory.Base)}.Prop(
			fdt.String("device_type", "memory"),
			fdt.U64("reg", cfg.Memory.Base, cfg.MemorySize()),
		),
		fdt.Node{Name: "cpus"}.Prop(
			fdt.U32("#address-cells", 1),
			fdt.U32("#size-cells", 0),
			fdt.U32("timebase-frequency", uint32(cfg.Clint.TimebaseHz)),
		).Child(cpu),
		fdt.Node{Name: "soc"}.Prop(
			fdt.U32("#address-cells", 2),
			fdt.U32("#size-cells", 2),
			fdt.String("compatible", "simple-bus"),
			fdt.Flag("ranges"),
		).Child(
			fdt.Node{Name: fmt.Sprintf("clint@%x", cfg.Clint.Base)}.Prop(
				fdt.Strings("compatible", "sifive,clint0", "riscv,clint0"),
				fdt.U64("reg", cfg.Clint.Base, rv64.CLINTSize),
				fdt.U32("interrupts-extended",
					cpuIntcPhandle, uint32(riscv.CauseMSoftwareInt.Code()),
					cpuIntcPhandle, uint32(riscv.CauseMTimerInt.Code())),
			),
			fdt.Node{Name: uartName}.Prop(
				fdt.String("compatible", "ns16550a"),
				fdt.U64("reg", cfg.UART.Base, rv64.UARTSize),
				fdt.U32("clock-frequency", uartClockHz),
			),
		),
	)

	return fdt.Tree{
		Root:     root,
		Reserved: b.reservedMemory(),
		BootCPU:  uint32(cfg.Hart.ID),
	}.Build()
}

// reservedMemory lists PMP regions in RAM the supervisor has no access to.
func (b *Board) reservedMemory() []fdt.Reservation {
	var out []fdt.Reservation
	for _, e := range b.Config.PMP {
		if e.Perms != "" || !b.Config.inRAM(e.Base) {
			continue
		}
		out = append(out, fdt.Reservation{Address: e.Base, Size: e.Size})
	}
	return out
}
