// Package board assembles an emulated single-hart RISC-V machine from a
// YAML description: RAM, a CLINT, a 16550 UART and one rv64 hart, with
// the payload and device tree loaded into memory.
package board

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/tinyrange/sbirt/internal/feature"
	"github.com/tinyrange/sbirt/internal/hart/rv64"
	"github.com/tinyrange/sbirt/internal/monitor"
	"github.com/tinyrange/sbirt/internal/sbi"
)

// Board is an assembled machine ready to boot.
type Board struct {
	Config  Config
	Hart    *rv64.Hart
	Bus     *rv64.Bus
	Clint   *rv64.CLINT
	Console *Console

	// Entry is the supervisor entry point once a payload is loaded.
	Entry uint64
	// DTBAddr is the device tree address passed in a1, 0 if none.
	DTBAddr uint64

	// Progress receives load progress bars when set.
	Progress io.Writer
}

// New builds the machine described by cfg around console. It does not
// load the payload.
func New(cfg Config, console *Console) (*Board, error) {
	return newBoard(cfg, console, rv64.NewWallClock(cfg.Clint.TimebaseHz))
}

func newBoard(cfg Config, console *Console, clock rv64.Clock) (*Board, error) {
	b := &Board{Config: cfg, Bus: &rv64.Bus{}, Console: console}
	b.Clint = rv64.NewCLINT(clock, 1)

	for _, m := range []struct {
		name string
		base uint64
		dev  rv64.Device
	}{
		{"ram", cfg.Memory.Base, rv64.NewMemory(cfg.MemorySize())},
		{"clint", cfg.Clint.Base, b.Clint},
		{"uart", cfg.UART.Base, rv64.NewUART(console)},
	} {
		if err := b.Bus.Map(m.base, m.dev); err != nil {
			return nil, fmt.Errorf("board: map %s: %w", m.name, err)
		}
	}

	h, err := rv64.New(rv64.Config{
		HartID:     cfg.Hart.ID,
		Bus:        b.Bus,
		CLINT:      b.Clint,
		Quirks:     rv64.Quirks{BreakpointIllegal: cfg.Hart.BreakpointIllegal},
		VendorID:   cfg.Hart.VendorID,
		ArchID:     cfg.Hart.ArchID,
		ImplID:     cfg.Hart.ImplID,
		VendorCSRs: cfg.Hart.VendorCSRs,
	})
	if err != nil {
		return nil, fmt.Errorf("board: %w", err)
	}
	b.Hart = h

	if err := ProgramPMP(h, cfg.PMP); err != nil {
		return nil, err
	}
	return b, nil
}

// Platform returns the dispatch loop collaborators wired to this board.
func (b *Board) Platform(logger *slog.Logger) monitor.Platform {
	return monitor.Platform{
		Console: b.Console,
		SBI: sbi.New(sbi.Config{
			Console: b.Console,
			Clint:   b.Clint,
			Harts:   1,
			Logger:  logger,
		}),
		Features: &feature.Set{Clint: b.Clint},
		Logger:   logger,
	}
}

// Boot configures delegation and runs the supervisor until it requests a
// reset. It panics with *monitor.FatalError or rv64.ErrHalted like
// monitor.ExecuteSupervisor.
func (b *Board) Boot(logger *slog.Logger) monitor.Exit {
	monitor.ConfigureDelegation(b.Hart)
	if b.Config.Diagnostics {
		monitor.LogDiagnostics(logger, b.Hart)
	}
	logger.Info("booting supervisor",
		"entry", fmt.Sprintf("%#x", b.Entry),
		"hart", b.Config.Hart.ID,
		"dtb", fmt.Sprintf("%#x", b.DTBAddr))
	return monitor.ExecuteSupervisor(b.Hart, b.Entry, b.Config.Hart.ID, b.DTBAddr, b.Platform(logger))
}
