// Package arena implements the Guest Memory Arena: a single 2 MiB
// region of guest-physical memory, and the one checked
// (segment, offset) -> host-slice translation every DOS service
// handler and bootstrap step goes through. No handler ever computes a
// raw pointer into guest memory itself.
package arena

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/kvikdos/kvikdos/kvm"
)

const (
	// Size is the total size of guest physical memory: exactly 2 MiB,
	// page-aligned.
	Size = 2 << 20

	// ModuleStart is GUEST_MEM_MODULE_START: the boundary between the
	// read-only IVT/trampoline page and the writable general-DOS-memory
	// slot. It must be a host-page-size multiple; 0x1000 satisfies that
	// with room to spare.
	ModuleStart = 0x1000

	// IVTSize is the size in bytes of the 256-entry magic interrupt
	// vector table (256 * 4-byte far pointers).
	IVTSize = 0x400

	// TrampolineOffset and TrampolineSize describe the 256-byte page of
	// HLT instructions the IVT points every vector at.
	TrampolineOffset = 0x400
	TrampolineSize   = 0x100

	// TrampolineSelector is the segment selector (0x0040) every IVT
	// entry uses, and the value the dispatcher checks CS against to
	// recognize a synthetic INT.
	TrampolineSelector = 0x0040

	// HaltOpcode is the single-byte HLT instruction (0xF4) that fills
	// the trampoline page.
	HaltOpcode = 0xF4

	// upperMemoryStart is where the general DOS memory region ends and
	// the unused-but-mapped upper memory region begins.
	upperMemoryStart = 0xA0000
)

var (
	// ErrBoundsExceeded is returned when a translated guest address, or
	// the requested length starting at it, would fall outside the
	// arena.
	ErrBoundsExceeded = errors.New("guest memory access exceeds arena bounds")

	// ErrImageTooLarge is returned when a .com image does not fit
	// between its load offset and the top of general DOS memory.
	ErrImageTooLarge = errors.New("guest image exceeds available memory")
)

// Arena owns the 2 MiB byte buffer that backs guest physical memory.
type Arena struct {
	buf []byte
}

// New allocates and zeroes a fresh 2 MiB arena via an anonymous mmap.
func New() (*Arena, error) {
	buf, err := unix.Mmap(-1, 0, Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("mmap guest arena: %w", err)
	}

	return &Arena{buf: buf}, nil
}

// Translate returns a host-side view of length bytes starting at
// seg*16+off, or ErrBoundsExceeded if any part of that range falls
// outside the arena. This is the single translation point: every
// caller, bootstrap or handler, goes through here.
func (a *Arena) Translate(seg, off uint16, length int) ([]byte, error) {
	if length < 0 {
		return nil, ErrBoundsExceeded
	}

	start := uint32(seg)<<4 + uint32(off)
	end := start + uint32(length)

	if length > 0 && end <= start {
		return nil, ErrBoundsExceeded // 32-bit overflow
	}

	if end > uint32(len(a.buf)) {
		return nil, ErrBoundsExceeded
	}

	return a.buf[start:end], nil
}

// ReadBytes copies n bytes starting at seg:off out of the arena.
func (a *Arena) ReadBytes(seg, off uint16, n int) ([]byte, error) {
	src, err := a.Translate(seg, off, n)
	if err != nil {
		return nil, err
	}

	out := make([]byte, n)
	copy(out, src)

	return out, nil
}

// WriteBytes copies data into the arena starting at seg:off.
func (a *Arena) WriteBytes(seg, off uint16, data []byte) error {
	dst, err := a.Translate(seg, off, len(data))
	if err != nil {
		return err
	}

	copy(dst, data)

	return nil
}

// WritePOD little-endian-encodes v (a fixed-size struct or slice of
// them) and writes it at seg:off.
func (a *Arena) WritePOD(seg, off uint16, v any) error {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		return fmt.Errorf("encode POD for guest write: %w", err)
	}

	return a.WriteBytes(seg, off, buf.Bytes())
}

// ReadPOD reads len(v)-worth of bytes at seg:off and little-endian
// decodes them into v, a pointer to a fixed-size struct.
func (a *Arena) ReadPOD(seg, off uint16, v any) error {
	size := int(binary.Size(v))
	if size < 0 {
		return fmt.Errorf("%w: type has no fixed binary size", ErrBoundsExceeded)
	}

	raw, err := a.ReadBytes(seg, off, size)
	if err != nil {
		return err
	}

	return binary.Read(bytes.NewReader(raw), binary.LittleEndian, v)
}

// MaxImageSize returns the largest .com image that can be loaded at
// baseParagraph without spilling past the end of general DOS memory.
func MaxImageSize(baseParagraph uint16, loadOffset int) int {
	return upperMemoryStart - int(baseParagraph)*16 - loadOffset
}

// ReadOnlySlot describes the [0, ModuleStart) region: the magic IVT and
// trampoline page, mapped read-only so guest code cannot corrupt the
// interrupt dispatch mechanism it depends on.
func (a *Arena) ReadOnlySlot() kvm.UserspaceMemoryRegion {
	region := kvm.UserspaceMemoryRegion{
		Slot:          0,
		GuestPhysAddr: 0,
		MemorySize:    ModuleStart,
		UserspaceAddr: uint64(uintptr(unsafe.Pointer(&a.buf[0]))),
	}
	region.SetMemReadonly()

	return region
}

// WritableSlot describes the [ModuleStart, Size) region: general and
// upper DOS memory, writable by the guest.
func (a *Arena) WritableSlot() kvm.UserspaceMemoryRegion {
	return kvm.UserspaceMemoryRegion{
		Slot:          1,
		GuestPhysAddr: ModuleStart,
		MemorySize:    Size - ModuleStart,
		UserspaceAddr: uint64(uintptr(unsafe.Pointer(&a.buf[ModuleStart]))),
	}
}
