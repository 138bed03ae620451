package rv64

import "io"

// UARTSize is the span of the 16550 register window.
const UARTSize uint64 = 0x100

const (
	uartRBR = 0
	uartIER = 1
	uartIIR = 2
	uartLCR = 3
	uartMCR = 4
	uartLSR = 5
	uartMSR = 6
	uartSCR = 7

	lsrDataReady = 1 << 0
	lsrTHREmpty  = 1 << 5
	lsrTxEmpty   = 1 << 6
	lcrDLAB      = 1 << 7
)

// Serial is the host side of a console line.
type Serial interface {
	io.ByteWriter
	// TryReadByte returns the next input byte, if any is queued.
	TryReadByte() (byte, bool)
}

// UART is a 16550-compatible serial port without interrupts.
type UART struct {
	line Serial

	ier, lcr, mcr, scr byte
	dll, dlh           byte
	pending            []byte
}

// NewUART attaches a 16550 to line.
func NewUART(line Serial) *UART {
	return &UART{line: line}
}

func (u *UART) Size() uint64 { return UARTSize }

func (u *UART) poll() {
	if len(u.pending) == 0 {
		if b, ok := u.line.TryReadByte(); ok {
			u.pending = append(u.pending, b)
		}
	}
}

func (u *UART) Read(offset uint64, size int) (uint64, error) {
	dlab := u.lcr&lcrDLAB != 0
	switch offset {
	case uartRBR:
		if dlab {
			return uint64(u.dll), nil
		}
		u.poll()
		if len(u.pending) == 0 {
			return 0, nil
		}
		b := u.pending[0]
		u.pending = u.pending[1:]
		return uint64(b), nil
	case uartIER:
		if dlab {
			return uint64(u.dlh), nil
		}
		return uint64(u.ier), nil
	case uartIIR:
		return 1, nil
	case uartLCR:
		return uint64(u.lcr), nil
	case uartMCR:
		return uint64(u.mcr), nil
	case uartLSR:
		u.poll()
		lsr := uint64(lsrTHREmpty | lsrTxEmpty)
		if len(u.pending) > 0 {
			lsr |= lsrDataReady
		}
		return lsr, nil
	case uartMSR:
		return 0, nil
	case uartSCR:
		return uint64(u.scr), nil
	}
	return 0, nil
}

func (u *UART) Write(offset uint64, size int, value uint64) error {
	b := byte(value)
	dlab := u.lcr&lcrDLAB != 0
	switch offset {
	case uartRBR:
		if dlab {
			u.dll = b
			return nil
		}
		return u.line.WriteByte(b)
	case uartIER:
		if dlab {
			u.dlh = b
			return nil
		}
		u.ier = b
	case uartLCR:
		u.lcr = b
	case uartMCR:
		u.mcr = b
	case uartSCR:
		u.scr = b
	}
	return nil
}
