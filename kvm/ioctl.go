// Package kvm provides raw ioctl bindings for the subset of the Linux
// /dev/kvm API this project needs: VM/VCPU creation, memory-slot
// registration, and general/special register access.
package kvm

import (
	"golang.org/x/sys/unix"
)

const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	kvmIOCMagic = 0xAE
)

// ioc mirrors the Linux kernel's _IOC() macro. KVM ioctls whose payload
// size is fixed at compile time (registers, sregs, memory regions) are
// encoded this way rather than hardcoded, so adding a new ioctl is a
// one-line IIOR/IIOW/IIOWR call instead of another magic number.
func ioc(dir, typ, nr uintptr, size uintptr) uintptr {
	return (dir << iocDirShift) | (typ << iocTypeShift) | (nr << iocNRShift) | (size << iocSizeShift)
}

// IIO builds a no-payload ioctl request code.
func IIO(nr uintptr) uintptr {
	return ioc(iocNone, kvmIOCMagic, nr, 0)
}

// IIOR builds a "read from kernel" ioctl request code for a payload of the given size.
func IIOR(nr uintptr, size uintptr) uintptr {
	return ioc(iocRead, kvmIOCMagic, nr, size)
}

// IIOW builds a "write to kernel" ioctl request code for a payload of the given size.
func IIOW(nr uintptr, size uintptr) uintptr {
	return ioc(iocWrite, kvmIOCMagic, nr, size)
}

// IIOWR builds a read-write ioctl request code for a payload of the given size.
func IIOWR(nr uintptr, size uintptr) uintptr {
	return ioc(iocRead|iocWrite, kvmIOCMagic, nr, size)
}

const (
	kvmGetAPIVersion       = 0x00
	kvmCreateVM            = 0x01
	kvmCreateVCPU          = 0x41
	kvmRun                 = 0x80
	kvmGetVCPUMMapSize     = 0x04
	kvmSetUserMemoryRegion = 0x46

	kvmGetRegs  = 0x81
	kvmSetRegs  = 0x82
	kvmGetSregs = 0x83
	kvmSetSregs = 0x84

	kvmCheckExtension = 0x03
)

// Ioctl issues a single ioctl, retrying transparently on EINTR the way
// long-running host ioctls (notably KVM_RUN) are documented to require.
func Ioctl(fd uintptr, op uintptr, arg uintptr) (uintptr, error) {
	for {
		res, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, op, arg)
		if errno == unix.EINTR {
			continue
		}

		if errno != 0 {
			return res, errno
		}

		return res, nil
	}
}

// GetAPIVersion returns the KVM API version, expected to be 12.
func GetAPIVersion(kvmFd uintptr) (uintptr, error) {
	return Ioctl(kvmFd, IIO(kvmGetAPIVersion), 0)
}

// CreateVM creates a new VM and returns its file descriptor.
func CreateVM(kvmFd uintptr) (uintptr, error) {
	return Ioctl(kvmFd, IIO(kvmCreateVM), 0)
}

// CreateVCPU creates VCPU 0 on the given VM and returns its file descriptor.
// This harness runs exactly one VCPU, so there is no index parameter.
func CreateVCPU(vmFd uintptr) (uintptr, error) {
	return Ioctl(vmFd, IIO(kvmCreateVCPU), 0)
}

// Run resumes the VCPU until the next VM exit.
func Run(vcpuFd uintptr) error {
	_, err := Ioctl(vcpuFd, IIO(kvmRun), 0)

	return err
}

// GetVCPUMMmapSize returns the size, in bytes, of the shared kvm_run page.
func GetVCPUMMmapSize(kvmFd uintptr) (uintptr, error) {
	return Ioctl(kvmFd, IIO(kvmGetVCPUMMapSize), 0)
}

// CheckExtension reports whether the host supports the given capability,
// per KVM_CHECK_EXTENSION semantics: <=0 means unsupported, >0 carries a
// capability-specific value (often just 1).
func CheckExtension(kvmFd uintptr, cap Capability) (uintptr, error) {
	return Ioctl(kvmFd, IIO(kvmCheckExtension), uintptr(cap))
}
