// Package metal implements hart.Hart on the RISC-V core the firmware is
// running on, in machine mode, for TamaGo riscv64 builds. CSR access,
// the trap and probe vectors and the mret path are written in assembly;
// the CLINT and the 16550 console are plain MMIO.
package metal
