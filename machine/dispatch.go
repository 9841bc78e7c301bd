package machine

import (
	"encoding/binary"
	"fmt"

	"github.com/kvikdos/kvikdos/arena"
	"github.com/kvikdos/kvikdos/kvm"
)

// returnFrame is the CS:IP:FLAGS triple an x86 INT pushes onto the
// stack, read back so the dispatcher can synthesize the IRET the
// trampoline's HLT never performed.
type returnFrame struct {
	ip    uint16
	cs    uint16
	flags uint16
}

// dispatchHalt handles one KVM_EXIT_HLT: it identifies which synthetic
// interrupt trapped (via CS:IP into the trampoline page), routes it to a
// DOS service handler, and synthesizes the IRET back into guest code.
// done reports whether a termination service ended the guest; code is
// only meaningful when done is true.
func (m *Machine) dispatchHalt() (code int, done bool, err error) {
	regs, err := kvm.GetRegs(m.vcpu)
	if err != nil {
		return 0, false, fmt.Errorf("get regs on halt: %w", err)
	}

	sregs, err := kvm.GetSregs(m.vcpu)
	if err != nil {
		return 0, false, fmt.Errorf("get sregs on halt: %w", err)
	}

	if sregs.CS.Selector != arena.TrampolineSelector || regs.RIP < 1 || regs.RIP > 0x100 {
		return 0, false, fmt.Errorf("%w: halted at %04x:%04x", kvm.ErrGuestHalted, sregs.CS.Selector, regs.RIP)
	}

	intNum := uint8(regs.RIP - 1)

	frame, err := m.readReturnFrame(sregs, regs)
	if err != nil {
		return 0, false, err
	}

	if m.debugEnabled() {
		m.trace(intNum, regs.AH(), frame)
	}

	d := &dispatch{m: m, regs: regs, sregs: sregs, intNum: intNum}

	code, done, err = d.handle()
	if err != nil {
		return 0, false, err
	}

	sregs.CS.SetReal(frame.cs)
	regs.RIP = uint64(frame.ip)
	regs.RSP += 6
	// FLAGS is deliberately not restored from frame.flags: the handler's
	// own CF (and any flags KVM tracks internally) carry through to the
	// resumed guest instead of the caller's pre-INT flags.

	if err := kvm.SetSregs(m.vcpu, sregs); err != nil {
		return 0, false, fmt.Errorf("set sregs after dispatch: %w", err)
	}

	if err := kvm.SetRegs(m.vcpu, regs); err != nil {
		return 0, false, fmt.Errorf("set regs after dispatch: %w", err)
	}

	return code, done, nil
}

// readReturnFrame reads the three words INT pushed at SS:SP.
func (m *Machine) readReturnFrame(sregs *kvm.Sregs, regs *kvm.Regs) (returnFrame, error) {
	raw, err := m.mem.ReadBytes(sregs.SS.Selector, uint16(regs.RSP), 6)
	if err != nil {
		return returnFrame{}, fmt.Errorf("read interrupt return frame: %w", err)
	}

	return returnFrame{
		ip:    binary.LittleEndian.Uint16(raw[0:2]),
		cs:    binary.LittleEndian.Uint16(raw[2:4]),
		flags: binary.LittleEndian.Uint16(raw[4:6]),
	}, nil
}
