package kvm

import "fmt"

// Capability is a KVM_CHECK_EXTENSION capability identifier. Only the
// handful this harness actually depends on or reports via `kvikdos
// probe` are named; add more as needed.
type Capability int

const (
	CapIRQChip       Capability = 0
	CapUserMemory    Capability = 3
	CapSetTSSAddr    Capability = 4
	CapExtCPUID      Capability = 7
	CapNRMemSlots    Capability = 10
	CapMPState       Capability = 14
	CapIOMMU         Capability = 18
	CapIRQRouting    Capability = 25
	CapKVMClockCtrl  Capability = 76
	CapImmediateExit Capability = 136
)

var capabilityNames = map[Capability]string{
	CapIRQChip:       "CapIRQChip",
	CapUserMemory:    "CapUserMemory",
	CapSetTSSAddr:    "CapSetTSSAddr",
	CapExtCPUID:      "CapExtCPUID",
	CapNRMemSlots:    "CapNRMemSlots",
	CapMPState:       "CapMPState",
	CapIOMMU:         "CapIOMMU",
	CapIRQRouting:    "CapIRQRouting",
	CapKVMClockCtrl:  "CapKVMClockCtrl",
	CapImmediateExit: "CapImmediateExit",
}

// String implements fmt.Stringer, falling back to "Capability(N)" for
// values this package does not name, the same fallback shape a
// go:generate stringer output would produce.
func (c Capability) String() string {
	if name, ok := capabilityNames[c]; ok {
		return name
	}

	return fmt.Sprintf("Capability(%d)", int(c))
}

// Supported reports whether the host's KVM instance advertises cap.
func Supported(kvmFd uintptr, cap Capability) (bool, error) {
	ret, err := CheckExtension(kvmFd, cap)
	if err != nil {
		return false, err
	}

	return int(ret) > 0, nil
}
