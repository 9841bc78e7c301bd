package kvm

import "unsafe"

const numInterrupts = 0x100

// Regs are the VCPU's general-purpose registers. KVM always represents
// them as the full 64-bit register file even though this harness only
// ever runs the VCPU in real mode and only the low 16 bits of each are
// architecturally meaningful there.
type Regs struct {
	RAX    uint64
	RBX    uint64
	RCX    uint64
	RDX    uint64
	RSI    uint64
	RDI    uint64
	RSP    uint64
	RBP    uint64
	R8     uint64
	R9     uint64
	R10    uint64
	R11    uint64
	R12    uint64
	R13    uint64
	R14    uint64
	R15    uint64
	RIP    uint64
	RFLAGS uint64
}

// AX16 is the 16-bit AX register (RAX truncated), the DOS calling
// convention's function-selector register.
func (r *Regs) AX16() uint16 { return uint16(r.RAX) }

// AH is bits [15:8] of AX, DOS's INT 21h subfunction selector.
func (r *Regs) AH() uint8 { return uint8(r.RAX >> 8) }

// AL is bits [7:0] of AX.
func (r *Regs) AL() uint8 { return uint8(r.RAX) }

// SetAX replaces the low 16 bits of RAX, leaving the upper bits zero;
// no guest in this project's scope runs in a mode where they matter.
func (r *Regs) SetAX(v uint16) { r.RAX = uint64(v) }

// SetCF sets or clears bit 0 of RFLAGS, the guest-visible carry flag
// used by INT 21h to report success/failure.
func (r *Regs) SetCF(carry bool) {
	if carry {
		r.RFLAGS |= 1
	} else {
		r.RFLAGS &^= 1
	}
}

// Segment is an x86 segment descriptor as KVM represents it.
type Segment struct {
	Base     uint64
	Limit    uint32
	Selector uint16
	Typ      uint8
	Present  uint8
	DPL      uint8
	DB       uint8
	S        uint8
	L        uint8
	G        uint8
	AVL      uint8
	Unusable uint8
	_        uint8
}

// SetReal points a segment at the given real-mode paragraph, keeping the
// base == selector << 4 invariant that a real 16-bit segment load
// instruction would itself maintain.
func (s *Segment) SetReal(paragraph uint16) {
	s.Selector = paragraph
	s.Base = uint64(paragraph) << 4
}

// Descriptor describes the GDT/IDT pseudo-descriptor pair (base + limit).
type Descriptor struct {
	Base  uint64
	Limit uint16
	_     [3]uint16
}

// Sregs are the VCPU's segment and control registers.
type Sregs struct {
	CS              Segment
	DS              Segment
	ES              Segment
	FS              Segment
	GS              Segment
	SS              Segment
	TR              Segment
	LDT             Segment
	GDT             Descriptor
	IDT             Descriptor
	CR0             uint64
	CR2             uint64
	CR3             uint64
	CR4             uint64
	CR8             uint64
	EFER            uint64
	ApicBase        uint64
	InterruptBitmap [(numInterrupts + 63) / 64]uint64
}

// GetRegs gets the general-purpose registers for a VCPU.
func GetRegs(vcpuFd uintptr) (*Regs, error) {
	regs := &Regs{}
	_, err := Ioctl(vcpuFd, IIOR(kvmGetRegs, unsafe.Sizeof(*regs)), uintptr(unsafe.Pointer(regs)))

	return regs, err
}

// SetRegs sets the general-purpose registers for a VCPU.
func SetRegs(vcpuFd uintptr, regs *Regs) error {
	_, err := Ioctl(vcpuFd, IIOW(kvmSetRegs, unsafe.Sizeof(*regs)), uintptr(unsafe.Pointer(regs)))

	return err
}

// GetSregs gets the segment/control registers for a VCPU.
func GetSregs(vcpuFd uintptr) (*Sregs, error) {
	sregs := &Sregs{}
	_, err := Ioctl(vcpuFd, IIOR(kvmGetSregs, unsafe.Sizeof(*sregs)), uintptr(unsafe.Pointer(sregs)))

	return sregs, err
}

// SetSregs sets the segment/control registers for a VCPU.
func SetSregs(vcpuFd uintptr, sregs *Sregs) error {
	_, err := Ioctl(vcpuFd, IIOW(kvmSetSregs, unsafe.Sizeof(*sregs)), uintptr(unsafe.Pointer(sregs)))

	return err
}
