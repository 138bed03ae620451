package board

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"
)

// Console is the host end of the board's serial line. Output is written
// through to w; input arrives from Pump on another goroutine and is
// consumed without blocking by the hart.
type Console struct {
	mu  sync.Mutex
	out *bufio.Writer

	input chan byte
}

// NewConsole returns a console writing to w with room for n bytes of
// queued input.
func NewConsole(w io.Writer, n int) *Console {
	return &Console{out: bufio.NewWriter(w), input: make(chan byte, n)}
}

// WriteByte implements io.ByteWriter. Output is flushed at each newline.
func (c *Console) WriteByte(b byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.out.WriteByte(b); err != nil {
		return err
	}
	if b == '\n' {
		return c.out.Flush()
	}
	return nil
}

// Flush writes out any buffered output.
func (c *Console) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Flush()
}

// TryReadByte returns the next queued input byte, if any. Polling an
// empty queue flushes pending output, so a prompt without a trailing
// newline is visible while the guest waits for input.
func (c *Console) TryReadByte() (byte, bool) {
	select {
	case b := <-c.input:
		return b, true
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.out.Buffered() > 0 {
		_ = c.out.Flush()
	}
	return 0, false
}

// Pump copies r into the input queue until r fails or ctx is done. A
// closed reader ends the pump without error.
func (c *Console) Pump(ctx context.Context, r io.Reader) error {
	buf := make([]byte, 1024)
	for {
		n, err := r.Read(buf)
		for i := 0; i < n; i++ {
			select {
			case c.input <- buf[i]:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("board: console input: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// MakeRaw puts f into raw mode when it is a terminal, so that the guest
// sees individual keystrokes. The returned function restores it.
func MakeRaw(f *os.File) (restore func(), err error) {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return func() {}, nil
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("board: raw console: %w", err)
	}
	return func() { term.Restore(fd, state) }, nil
}
