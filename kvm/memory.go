package kvm

import "unsafe"

// UserspaceMemoryRegion describes one guest-physical memory slot backed
// by a userspace mapping, per KVM_SET_USER_MEMORY_REGION.
type UserspaceMemoryRegion struct {
	Slot          uint32
	Flags         uint32
	GuestPhysAddr uint64
	MemorySize    uint64
	UserspaceAddr uint64
}

// SetMemReadonly marks the slot as read-only from the guest's point of
// view, used to physically enforce immutability of the interrupt vector
// table and trampoline page.
func (r *UserspaceMemoryRegion) SetMemReadonly() {
	r.Flags |= 1 << 1
}

// SetUserMemoryRegion registers or updates a memory slot on the VM.
func SetUserMemoryRegion(vmFd uintptr, region *UserspaceMemoryRegion) error {
	_, err := Ioctl(vmFd, IIOW(kvmSetUserMemoryRegion, unsafe.Sizeof(*region)), uintptr(unsafe.Pointer(region)))

	return err
}
