// Package sbi implements the generic Supervisor Binary Interface
// extensions: base, timer, IPI, remote fence, hart state management,
// system reset and the legacy console/timer/shutdown calls.
package sbi

import (
	"io"

	"github.com/tinyrange/sbirt/internal/hart"
)

// Extension IDs.
const (
	ExtLegacySetTimer            = 0x00
	ExtLegacyConsolePutchar      = 0x01
	ExtLegacyConsoleGetchar      = 0x02
	ExtLegacyClearIPI            = 0x03
	ExtLegacySendIPI             = 0x04
	ExtLegacyRemoteFenceI        = 0x05
	ExtLegacyRemoteSfenceVMA     = 0x06
	ExtLegacyRemoteSfenceVMAASID = 0x07
	ExtLegacyShutdown            = 0x08
	ExtBase                      = 0x10
	ExtTimer                     = 0x54494D45 // "TIME"
	ExtIPI                       = 0x735049   // "sPI"
	ExtRFence                    = 0x52464E43 // "RFNC"
	ExtHSM                       = 0x48534D   // "HSM"
	ExtSRST                      = 0x53525354 // "SRST"
)

// Error codes.
const (
	Success             = 0
	ErrFailed           = -1
	ErrNotSupported     = -2
	ErrInvalidParam     = -3
	ErrDenied           = -4
	ErrInvalidAddress   = -5
	ErrAlreadyAvailable = -6
	ErrAlreadyStarted   = -7
	ErrAlreadyStopped   = -8
)

// SpecVersion is SBI v1.0.
const SpecVersion = 1<<24 | 0

// Ret is the (a0, a1) pair returned to the supervisor.
type Ret struct {
	Error uint64
	Value uint64
}

// Ok returns a successful result carrying v.
func Ok(v uint64) Ret { return Ret{Value: v} }

// Err returns a failed result with the given error code.
func Err(code int64) Ret { return Ret{Error: uint64(code)} }

// Handler services one ecall. args holds a0..a5.
type Handler interface {
	Handle(h hart.Hart, ext, fid uint64, args [6]uint64) Ret
}

// Console is the byte-oriented console used by the legacy calls.
type Console interface {
	io.ByteWriter
	TryReadByte() (byte, bool)
}
