package monitor

import (
	"github.com/tinyrange/sbirt/internal/hart"
	"github.com/tinyrange/sbirt/internal/riscv"
	"github.com/tinyrange/sbirt/internal/sbi"
)

// Firmware-private SBI extension used by the board's bring-up tools.
const (
	ExtPrivate       = 0x0A02_3B00
	FidReadVendorCSR = 0x023A_DC52
)

// vendorCSRs are the machine-mode vendor registers readable through
// FidReadVendorCSR, selected by their CSR number in a0.
var vendorCSRs = map[uint64]uint16{
	uint64(riscv.CSRMxstatus): riscv.CSRMxstatus,
	uint64(riscv.CSRMhcr):     riscv.CSRMhcr,
	uint64(riscv.CSRMcor):     riscv.CSRMcor,
	uint64(riscv.CSRMhint):    riscv.CSRMhint,
}

func handlePrivate(h hart.Hart, fid uint64, args [6]uint64) sbi.Ret {
	if fid != FidReadVendorCSR {
		return sbi.Err(sbi.ErrNotSupported)
	}
	csr, ok := vendorCSRs[args[0]]
	if !ok {
		return sbi.Ret{Error: 1}
	}
	return sbi.Ok(h.ReadCSR(csr))
}
