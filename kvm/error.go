package kvm

import "errors"

var (
	// ErrUnexpectedExitReason is any VM exit this dispatcher does not
	// recognize or does not expect in this harness's scope.
	ErrUnexpectedExitReason = errors.New("unexpected kvm exit reason")

	// ErrGuestHalted is a real (non-synthetic) HLT: the guest halted the
	// CPU directly rather than through the magic interrupt trampoline.
	ErrGuestHalted = errors.New("guest executed hlt outside the interrupt trampoline")
)

// ExitType is a VM exit reason, per struct kvm_run's exit_reason field.
//
//go:generate stringer -type=ExitType
type ExitType uint32

const (
	ExitUnknown       ExitType = 0
	ExitException     ExitType = 1
	ExitIO            ExitType = 2
	ExitHypercall     ExitType = 3
	ExitDebug         ExitType = 4
	ExitHlt           ExitType = 5
	ExitMMIO          ExitType = 6
	ExitIRQWindowOpen ExitType = 7
	ExitShutdown      ExitType = 8
	ExitFailEntry     ExitType = 9
	ExitIntr          ExitType = 10
	ExitSetTPR        ExitType = 11
	ExitTPRAccess     ExitType = 12
	ExitInternalError ExitType = 17
)

// I/O direction as reported by RunData.IO().
const (
	IODirIn  = 0
	IODirOut = 1
)
