package riscv

import "fmt"

// Cause is an mcause/scause value. Bit 63 marks interrupts.
type Cause uint64

const causeInterrupt Cause = 1 << 63

// Exception causes.
const (
	CauseInsnAddrMisaligned  Cause = 0
	CauseInsnAccessFault     Cause = 1
	CauseIllegalInsn         Cause = 2
	CauseBreakpoint          Cause = 3
	CauseLoadAddrMisaligned  Cause = 4
	CauseLoadAccessFault     Cause = 5
	CauseStoreAddrMisaligned Cause = 6
	CauseStoreAccessFault    Cause = 7
	CauseEcallFromU          Cause = 8
	CauseEcallFromS          Cause = 9
	CauseEcallFromM          Cause = 11
	CauseInsnPageFault       Cause = 12
	CauseLoadPageFault       Cause = 13
	CauseStorePageFault      Cause = 15
)

// Interrupt causes.
const (
	CauseSSoftwareInt = causeInterrupt | 1
	CauseMSoftwareInt = causeInterrupt | 3
	CauseSTimerInt    = causeInterrupt | 5
	CauseMTimerInt    = causeInterrupt | 7
	CauseSExternalInt = causeInterrupt | 9
	CauseMExternalInt = causeInterrupt | 11
)

// Interrupt returns the cause for interrupt number code.
func Interrupt(code uint64) Cause { return causeInterrupt | Cause(code) }

// IsInterrupt reports whether c is an asynchronous cause.
func (c Cause) IsInterrupt() bool { return c&causeInterrupt != 0 }

// Code strips the interrupt flag.
func (c Cause) Code() uint64 { return uint64(c &^ causeInterrupt) }

var exceptionNames = [...]string{
	CauseInsnAddrMisaligned:  "instruction address misaligned",
	CauseInsnAccessFault:     "instruction access fault",
	CauseIllegalInsn:         "illegal instruction",
	CauseBreakpoint:          "breakpoint",
	CauseLoadAddrMisaligned:  "load address misaligned",
	CauseLoadAccessFault:     "load access fault",
	CauseStoreAddrMisaligned: "store/AMO address misaligned",
	CauseStoreAccessFault:    "store/AMO access fault",
	CauseEcallFromU:          "environment call from U-mode",
	CauseEcallFromS:          "environment call from S-mode",
	10:                       "",
	CauseEcallFromM:          "environment call from M-mode",
	CauseInsnPageFault:       "instruction page fault",
	CauseLoadPageFault:       "load page fault",
	14:                       "",
	CauseStorePageFault:      "store/AMO page fault",
}

var interruptNames = [...]string{
	1:  "supervisor software interrupt",
	3:  "machine software interrupt",
	5:  "supervisor timer interrupt",
	7:  "machine timer interrupt",
	9:  "supervisor external interrupt",
	11: "machine external interrupt",
}

func (c Cause) String() string {
	code := c.Code()
	if c.IsInterrupt() {
		if code < uint64(len(interruptNames)) && interruptNames[code] != "" {
			return interruptNames[code]
		}
		return fmt.Sprintf("interrupt %d", code)
	}
	if code < uint64(len(exceptionNames)) && exceptionNames[code] != "" {
		return exceptionNames[code]
	}
	return fmt.Sprintf("exception %d", code)
}
