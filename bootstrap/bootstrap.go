// Package bootstrap implements the Initial-State Builder and Interrupt
// Trampoline: it lays out the magic interrupt vector table, the PSP,
// and the loaded program image in a freshly-created arena.Arena, and
// computes the register and segment state the VCPU should start in.
//
// Order matters: the IVT and trampoline page are written before
// anything else, the image is loaded next, then the PSP, then the
// command-line tail, and finally the register state is derived from
// all of the above.
package bootstrap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/kvikdos/kvikdos/arena"
	"github.com/kvikdos/kvikdos/kvm"
)

const (
	// BaseParagraph is BASE_PARA from the reference source: the
	// paragraph number of the PSP, chosen so the PSP plus a loaded
	// image comfortably fits below the top of general DOS memory.
	BaseParagraph uint16 = 0x0500

	// ImageLoadOffset is the fixed offset within the program's segment
	// at which a .com image is loaded and begins execution.
	ImageLoadOffset = 0x0100

	// PSPSize is the size in bytes of the Program Segment Prefix.
	PSPSize = 0x100

	// pspCmdlineOffset is the offset of the command-line tail length
	// byte within the PSP.
	pspCmdlineOffset = 0x80

	// MaxCmdlineLen is the largest command-line tail (in encoded bytes,
	// not counting the length byte) the tail region can hold. The tail
	// lives in the last 0x80 bytes of the PSP alongside its length byte;
	// the CR terminator following it is allowed to land one byte past
	// the nominal 256-byte PSP, at the start of the loaded image, which
	// is why this is PSPSize - pspCmdlineOffset - 1 and not - 2.
	MaxCmdlineLen = PSPSize - pspCmdlineOffset - 1

	// topOfMemoryParagraph is the value DOS reports at PSP+0x02: the
	// paragraph number one past the top of the arena's general-DOS
	// memory region.
	topOfMemoryParagraph = 0xA000

	// initialSP is the stack pointer DOS programs start with: the top
	// of the program's own (BASE_PARA-relative) segment, minus the two
	// bytes reserved for the synthetic return address pushed below.
	initialSP = 0xFFFE

	// initialIP is the fixed .com entry point.
	initialIP = ImageLoadOffset

	// reservedFlagsBit is EFLAGS bit 1, architecturally always set.
	reservedFlagsBit = 1 << 1
)

// ErrImageTooLarge is returned when the guest image does not fit
// between ImageLoadOffset and the top of general DOS memory.
var ErrImageTooLarge = errors.New("guest image too large to load")

// ErrCmdlineTooLong is returned when the encoded command-line tail
// would overflow the PSP.
var ErrCmdlineTooLong = errors.New("command-line tail exceeds 127 bytes")

// State is the VCPU register and segment state derived by Build. Regs
// is complete and ready to hand to kvm.SetRegs; Sregs sets only each
// segment register's selector and base, and its other fields are zero.
type State struct {
	Regs  kvm.Regs
	Sregs kvm.Sregs
}

// Build writes the magic IVT, trampoline page, PSP, and program image
// into a, and returns the initial VCPU state. args are the DOS
// command-line tail words (host argv after the image path).
func Build(a *arena.Arena, image []byte, args []string) (*State, error) {
	if err := writeIVTAndTrampoline(a); err != nil {
		return nil, err
	}

	if err := loadImage(a, image); err != nil {
		return nil, err
	}

	if err := writePSP(a, args); err != nil {
		return nil, err
	}

	st := &State{}
	initSregs(&st.Sregs)

	if err := initRegs(a, &st.Regs); err != nil {
		return nil, err
	}

	return st, nil
}

// writeIVTAndTrampoline fills the 256 four-byte IVT entries (each
// pointing at TrampolineSelector:i) and the 256-byte HLT trampoline
// page they all point into.
func writeIVTAndTrampoline(a *arena.Arena) error {
	ivt := make([]byte, arena.IVTSize)

	for i := 0; i < 256; i++ {
		binary.LittleEndian.PutUint32(ivt[4*i:], uint32(arena.TrampolineSelector)<<16|uint32(i))
	}

	if err := a.WriteBytes(0, 0, ivt); err != nil {
		return fmt.Errorf("write magic IVT: %w", err)
	}

	trampoline := make([]byte, arena.TrampolineSize)
	for i := range trampoline {
		trampoline[i] = arena.HaltOpcode
	}

	if err := a.WriteBytes(0, arena.TrampolineOffset, trampoline); err != nil {
		return fmt.Errorf("write trampoline page: %w", err)
	}

	return nil
}

// loadImage copies the .com image verbatim to BaseParagraph:0x0100.
func loadImage(a *arena.Arena, image []byte) error {
	max := arena.MaxImageSize(BaseParagraph, ImageLoadOffset)
	if len(image) > max {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrImageTooLarge, len(image), max)
	}

	if err := a.WriteBytes(BaseParagraph, ImageLoadOffset, image); err != nil {
		return fmt.Errorf("load guest image: %w", err)
	}

	return nil
}

// writePSP builds the 256-byte Program Segment Prefix: the INT 20h
// fast-termination opcode at offset 0, the top-of-memory paragraph at
// offset 2, and the encoded command-line tail at offset 0x80.
func writePSP(a *arena.Arena, args []string) error {
	if err := a.WriteBytes(BaseParagraph, 0x00, []byte{0xCD, 0x20}); err != nil {
		return fmt.Errorf("write PSP INT 20h opcode: %w", err)
	}

	if err := a.WritePOD(BaseParagraph, 0x02, uint16(topOfMemoryParagraph)); err != nil {
		return fmt.Errorf("write PSP top-of-memory paragraph: %w", err)
	}

	tail := commandLineTail(args)
	if len(tail) > MaxCmdlineLen {
		return fmt.Errorf("%w: %d bytes", ErrCmdlineTooLong, len(tail))
	}

	buf := make([]byte, 0, len(tail)+2)
	buf = append(buf, byte(len(tail)))
	buf = append(buf, tail...)
	buf = append(buf, 0x0D)

	if err := a.WriteBytes(BaseParagraph, pspCmdlineOffset, buf); err != nil {
		return fmt.Errorf("write PSP command-line tail: %w", err)
	}

	return nil
}

// commandLineTail joins args with single spaces, preceded by one
// leading space, per DOS convention.
func commandLineTail(args []string) []byte {
	if len(args) == 0 {
		return nil
	}

	return []byte(" " + strings.Join(args, " "))
}

// initSregs sets every segment register to BaseParagraph, keeping the
// base == selector<<4 invariant a real segment load would maintain.
func initSregs(sregs *kvm.Sregs) {
	for _, seg := range []*kvm.Segment{&sregs.CS, &sregs.DS, &sregs.ES, &sregs.FS, &sregs.GS, &sregs.SS} {
		seg.SetReal(BaseParagraph)
	}
}

// initRegs sets SP, pushes the zero return address a terminating RET
// falls into (landing on the PSP's INT 20h opcode), sets FLAGS, and
// sets the entry IP.
func initRegs(a *arena.Arena, regs *kvm.Regs) error {
	regs.RSP = initialSP

	if err := a.WritePOD(BaseParagraph, initialSP, uint16(0)); err != nil {
		return fmt.Errorf("write synthetic return address: %w", err)
	}

	regs.RFLAGS = reservedFlagsBit
	regs.RIP = initialIP

	return nil
}
