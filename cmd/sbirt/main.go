// Command sbirt boots a supervisor payload on an emulated RISC-V board
// under the sbirt machine-mode runtime.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/tinyrange/sbirt/internal/board"
	"github.com/tinyrange/sbirt/internal/hart/rv64"
	"github.com/tinyrange/sbirt/internal/monitor"
	"github.com/tinyrange/sbirt/internal/sbi"
)

// exitError carries the process status requested by the guest.
type exitError struct {
	Code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.Code) }

var errInterrupted = errors.New("interrupted")

func main() {
	if err := run(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		fmt.Fprintf(os.Stderr, "sbirt: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Board description (YAML); built-in defaults when empty")
	payload := flag.String("payload", "", "Supervisor payload, raw binary or ELF (overrides the config)")
	dtb := flag.String("dtb", "", "Device tree blob passed in a1, or \"generate\" to describe the board (overrides the config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	diag := flag.Bool("diag", false, "Print hart diagnostics and exit without booting")
	quiet := flag.Bool("quiet", false, "Hide load progress")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := board.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = board.LoadConfig(*configPath); err != nil {
			return err
		}
	}
	if *payload != "" {
		cfg.SetPayload(*payload)
	}
	if *dtb != "" {
		if err := cfg.SetDTB(*dtb); err != nil {
			return err
		}
	}

	console := board.NewConsole(os.Stdout, 256)
	b, err := board.New(cfg, console)
	if err != nil {
		return err
	}

	if *diag {
		monitor.ConfigureDelegation(b.Hart)
		return monitor.WriteDiagnostics(os.Stdout, b.Hart)
	}

	if !*quiet {
		b.Progress = os.Stderr
	}
	if err := b.LoadPayload(); err != nil {
		return err
	}
	if err := b.LoadDTB(); err != nil {
		return err
	}

	restore, err := board.MakeRaw(os.Stdin)
	if err != nil {
		return err
	}
	defer restore()

	ctx, stop := notifyContext(context.Background())
	defer stop()
	exit, err := boot(ctx, b, logger)
	if err != nil {
		return err
	}

	logger.Info("supervisor requested reset", "type", sbi.ResetTypeName(exit.ResetType), "reason", exit.ResetReason)
	if exit.ResetReason == sbi.ReasonSystemFailure {
		return &exitError{Code: 1}
	}
	return nil
}

// boot runs the hart until the guest resets or ctx is cancelled.
func boot(ctx context.Context, b *board.Board, logger *slog.Logger) (monitor.Exit, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	var exit monitor.Exit
	g.Go(func() error {
		defer cancel()
		return runHart(b, logger, &exit)
	})
	g.Go(func() error {
		<-gctx.Done()
		b.Hart.Halt()
		return nil
	})
	// Reads from stdin cannot be cancelled, so the pump is not waited for.
	go func() {
		if err := b.Console.Pump(gctx, os.Stdin); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("console input stopped", "err", err)
		}
	}()

	if err := g.Wait(); err != nil {
		if errors.Is(err, errInterrupted) && ctx.Err() != nil {
			return monitor.Exit{}, fmt.Errorf("%w: %w", errInterrupted, context.Cause(ctx))
		}
		return monitor.Exit{}, err
	}
	return exit, nil
}

func runHart(b *board.Board, logger *slog.Logger, exit *monitor.Exit) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		b.Console.Flush()
		if fe, ok := r.(*monitor.FatalError); ok {
			err = fe
			return
		}
		if e, ok := r.(error); ok && errors.Is(e, rv64.ErrHalted) {
			err = errInterrupted
			return
		}
		panic(r)
	}()

	*exit = b.Boot(logger)
	return b.Console.Flush()
}
