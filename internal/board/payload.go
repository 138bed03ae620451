package board

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"

	"github.com/tinyrange/sbirt/internal/hart/rv64"
)

// busWriter streams bytes into guest physical memory.
type busWriter struct {
	bus  *rv64.Bus
	addr uint64
}

func (w *busWriter) Write(p []byte) (int, error) {
	if err := w.bus.Load(w.addr, p); err != nil {
		return 0, err
	}
	w.addr += uint64(len(p))
	return len(p), nil
}

// copyIn writes data at addr, reporting progress to b.Progress if set.
func (b *Board) copyIn(title string, addr uint64, data []byte) error {
	if end := addr + uint64(len(data)); end < addr || addr < b.Config.Memory.Base || end > b.Config.MemoryEnd() {
		return fmt.Errorf("%s [%#x, %#x) outside RAM", title, addr, end)
	}
	var w io.Writer = &busWriter{bus: b.Bus, addr: addr}
	if b.Progress != nil {
		bar := progressbar.NewOptions64(int64(len(data)),
			progressbar.OptionSetWriter(b.Progress),
			progressbar.OptionSetDescription(title),
			progressbar.OptionShowBytes(true),
			progressbar.OptionClearOnFinish(),
		)
		defer bar.Close()
		w = io.MultiWriter(w, bar)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("copy %s: %w", title, err)
	}
	return nil
}

// LoadPayload loads the configured payload and sets b.Entry. ELF images
// are placed at their physical segment addresses; anything else is a raw
// image at the configured load address.
func (b *Board) LoadPayload() error {
	p := b.Config.Payload
	if p.Path == "" {
		return errors.New("board: no payload configured")
	}
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return fmt.Errorf("board: read payload: %w", err)
	}

	entry := p.LoadAddr
	if bytes.HasPrefix(data, []byte(elf.ELFMAG)) {
		entry, err = b.loadELF(data)
	} else {
		err = b.copyIn("payload", p.LoadAddr, data)
	}
	if err != nil {
		return fmt.Errorf("board: load payload: %w", err)
	}
	if p.Entry != 0 {
		entry = p.Entry
	}
	b.Entry = entry
	return nil
}

func (b *Board) loadELF(data []byte) (uint64, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("open elf: %w", err)
	}
	defer f.Close()

	if f.Machine != elf.EM_RISCV || f.Class != elf.ELFCLASS64 {
		return 0, fmt.Errorf("unsupported ELF %v/%v (want riscv64)", f.Class, f.Machine)
	}

	loaded := 0
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || prog.Memsz == 0 {
			continue
		}
		if prog.Filesz > prog.Memsz {
			return 0, fmt.Errorf("ELF segment file size %#x exceeds mem size %#x", prog.Filesz, prog.Memsz)
		}
		seg := make([]byte, prog.Memsz)
		if _, err := prog.ReadAt(seg[:prog.Filesz], 0); err != nil {
			return 0, fmt.Errorf("read ELF segment @%#x: %w", prog.Off, err)
		}
		if err := b.copyIn(fmt.Sprintf("segment %d", loaded), prog.Paddr, seg); err != nil {
			return 0, err
		}
		loaded++
	}
	if loaded == 0 {
		return 0, errors.New("ELF has no loadable segments")
	}
	return f.Entry, nil
}

// LoadDTB loads the configured or generated device tree blob and sets
// b.DTBAddr. It is a no-op without one.
func (b *Board) LoadDTB() error {
	d := b.Config.DTB
	var (
		data []byte
		err  error
	)
	switch {
	case d.Path != "":
		data, err = os.ReadFile(d.Path)
		if err != nil {
			return fmt.Errorf("board: read dtb: %w", err)
		}
	case d.Generate:
		data, err = b.DeviceTree()
		if err != nil {
			return fmt.Errorf("board: generate dtb: %w", err)
		}
	default:
		return nil
	}
	if err := b.copyIn("dtb", d.LoadAddr, data); err != nil {
		return fmt.Errorf("board: load dtb: %w", err)
	}
	b.DTBAddr = d.LoadAddr
	return nil
}
