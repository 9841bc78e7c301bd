package machine

import (
	"golang.org/x/arch/x86/x86asm"
)

// trace logs one dispatched interrupt when debugging is enabled,
// disassembling the two-byte "INT n" instruction the guest trapped on
// so a trace reads like a disassembly listing rather than a raw
// register dump.
func (m *Machine) trace(intNum, ah uint8, frame returnFrame) {
	if frame.ip < 2 {
		m.logf("int %#02x ah=%#02x at %04x:%04x", intNum, ah, frame.cs, frame.ip)
		return
	}

	instAddr := frame.ip - 2

	raw, err := m.mem.ReadBytes(frame.cs, instAddr, 8)
	if err != nil {
		m.logf("int %#02x ah=%#02x at %04x:%04x", intNum, ah, frame.cs, frame.ip)
		return
	}

	inst, err := x86asm.Decode(raw, 16)
	if err != nil {
		m.logf("int %#02x ah=%#02x at %04x:%04x (disassembly failed: %v)", intNum, ah, frame.cs, instAddr, err)
		return
	}

	m.logf("int %#02x ah=%#02x at %04x:%04x: %s", intNum, ah, frame.cs, instAddr, x86asm.GNUSyntax(inst, uint64(instAddr), nil))
}
