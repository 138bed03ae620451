//go:build tamago && riscv64

// Command sbirt-metal is the machine-mode firmware image for the QEMU
// virt board. It is built with the TamaGo toolchain, linked at the start
// of RAM, and boots a supervisor payload placed in memory by the loader:
//
//	GOOS=tamago GOARCH=riscv64 go build -ldflags "-T 0x80010000 -R 0x1000 \
//	    -X main.payloadAddr=0x82000000 -X main.dtbAddr=0x87e00000" ./cmd/sbirt-metal
package main

import (
	"log/slog"
	"os"
	"strconv"
	_ "unsafe"

	"github.com/tinyrange/sbirt/internal/feature"
	"github.com/tinyrange/sbirt/internal/hart/metal"
	"github.com/tinyrange/sbirt/internal/monitor"
	"github.com/tinyrange/sbirt/internal/riscv"
	"github.com/tinyrange/sbirt/internal/sbi"
)

// QEMU virt memory map.
const (
	clintBase = 0x0200_0000
	uartBase  = 0x1000_0000

	firmwareBase = 0x8000_0000
	firmwareSize = 0x0200_0000

	// mtime ticks at 10 MHz.
	nsPerTick = 100
)

var (
	payloadAddr = "0x82000000"
	dtbAddr     = "0x0"
)

var (
	clint   = &metal.Clint{Base: clintBase}
	console = &metal.UART{Base: uartBase}
)

//go:linkname ramStart runtime.ramStart
var ramStart uint64 = firmwareBase

//go:linkname ramSize runtime.ramSize
var ramSize uint64 = firmwareSize

//go:linkname ramStackOffset runtime.ramStackOffset
var ramStackOffset uint64 = 0x100

//go:linkname hwinit runtime.hwinit
func hwinit() {}

//go:linkname printk runtime.printk
func printk(c byte) {
	if c == '\n' {
		console.WriteByte('\r')
	}
	console.WriteByte(c)
}

//go:linkname nanotime1 runtime.nanotime1
func nanotime1() int64 {
	return int64(clint.MTime() * nsPerTick)
}

var rngState uint64 = 0x9e37_79b9_7f4a_7c15

//go:linkname getRandomData runtime.getRandomData
func getRandomData(b []byte) {
	for i := range b {
		rngState ^= clint.MTime()
		rngState ^= rngState << 13
		rngState ^= rngState >> 7
		rngState ^= rngState << 17
		b[i] = byte(rngState)
	}
}

type consoleWriter struct{}

func (consoleWriter) Write(p []byte) (int, error) {
	for _, c := range p {
		printk(c)
	}
	return len(p), nil
}

func mustAddr(s string) uint64 {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		panic("sbirt-metal: bad address " + s)
	}
	return v
}

// protectFirmware denies the supervisor access to the firmware image and
// grants it everything else.
func protectFirmware(h *metal.Hart) {
	// pmp0: NAPOT over the firmware, no permissions. Unlocked, so M-mode
	// keeps access.
	h.WriteCSR(riscv.CSRPmpaddr(0), (firmwareBase|(firmwareSize/2-1))>>2)
	// pmp1: NAPOT over the whole address space, rwx.
	h.WriteCSR(riscv.CSRPmpaddr(1), ^uint64(0)>>10)
	h.WriteCSR(riscv.CSRPmpcfg0, 0x18|(0x18|0x07)<<8)
	h.FlushTLB()
}

func main() {
	logger := slog.New(slog.NewTextHandler(consoleWriter{}, nil))
	slog.SetDefault(logger)

	h := metal.New()
	protectFirmware(h)
	monitor.ConfigureDelegation(h)
	monitor.LogDiagnostics(logger, h)

	hartID := h.ReadCSR(riscv.CSRMhartid)
	p := monitor.Platform{
		Console: console,
		SBI: sbi.New(sbi.Config{
			Console: console,
			Clint:   clint,
			Harts:   1,
			Logger:  logger,
		}),
		Features: &feature.Set{Clint: clint},
		Logger:   logger,
	}

	entry := mustAddr(payloadAddr)
	logger.Info("booting supervisor", "entry", payloadAddr, "hart", hartID, "dtb", dtbAddr)
	exit := monitor.ExecuteSupervisor(h, entry, hartID, mustAddr(dtbAddr), p)
	logger.Info("supervisor requested reset", "reset", exit.String())

	if exit.ResetReason == sbi.ReasonSystemFailure {
		os.Exit(1)
	}
	os.Exit(0)
}
