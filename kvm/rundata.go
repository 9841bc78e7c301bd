package kvm

// RunData mirrors struct kvm_run, the page KVM shares with userspace to
// report the reason for the most recent VM exit. The fixed header is
// laid out field by field; the exit-specific union is exposed as a raw
// array of 64-bit words and decoded field-by-field in IO()/MMIO()
// rather than via a Go union type.
type RunData struct {
	RequestInterruptWindow uint8
	ImmediateExit          uint8
	_                      [6]uint8

	ExitReason uint32

	ReadyForInterruptInjection uint8
	IfFlag                     uint8
	_                          [2]uint8

	CR8      uint64
	ApicBase uint64

	Data [32]uint64
}

// IO decodes the KVM_EXIT_IO union: direction, operand size in bytes,
// port number, repeat count, and the byte offset (from the start of this
// RunData) of the transferred data.
func (r *RunData) IO() (direction, size, port, count, offset uint64) {
	direction = r.Data[0] & 0xFF
	size = (r.Data[0] >> 8) & 0xFF
	port = (r.Data[0] >> 16) & 0xFFFF
	count = (r.Data[0] >> 32) & 0xFFFFFFFF
	offset = r.Data[1]

	return direction, size, port, count, offset
}

// MMIO decodes the KVM_EXIT_MMIO union: physical address, length, and
// whether this was a write. The union is { phys_addr uint64; data [8]byte;
// len uint32; is_write uint8 }, so Data[0] is phys_addr and Data[1] is
// the 8-byte data payload; len/is_write fall in the low bytes of Data[2].
func (r *RunData) MMIO() (physAddr uint64, length uint32, isWrite bool) {
	physAddr = r.Data[0]
	length = uint32(r.Data[2] & 0xFFFFFFFF)
	isWrite = (r.Data[2]>>32)&0xFF != 0

	return physAddr, length, isWrite
}
