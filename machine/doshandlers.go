package machine

import (
	"errors"
	"fmt"
	"io"

	"github.com/kvikdos/kvikdos/arena"
	"github.com/kvikdos/kvikdos/dosio"
	"github.com/kvikdos/kvikdos/kvm"
)

// dispatch carries the state one trapped interrupt is handled with:
// the registers KVM reported (mutated in place, then written back by
// the caller) and which vector trapped.
type dispatch struct {
	m      *Machine
	regs   *kvm.Regs
	sregs  *kvm.Sregs
	intNum uint8
}

// handle routes to the concrete INT vector, returning done=true with a
// guest exit code for the two termination vectors.
func (d *dispatch) handle() (code int, done bool, err error) {
	switch d.intNum {
	case 0x20:
		return 0, true, nil

	case 0x21:
		return d.int21()

	case 0x29:
		return 0, false, d.writeByte(d.m.Stdout, byte(d.regs.RAX))

	case 0x10:
		if d.regs.AH() == 0x0E {
			return 0, false, d.writeByte(d.m.Stdout, byte(d.regs.RAX))
		}

		return 0, false, fmt.Errorf("%w: INT 10h AH=%#02x", dosio.ErrUnhandledService, d.regs.AH())

	default:
		return 0, false, fmt.Errorf("%w: INT %#02x", dosio.ErrUnhandledService, d.intNum)
	}
}

// int21 implements the AH-indexed INT 21h service table.
func (d *dispatch) int21() (code int, done bool, err error) {
	switch d.regs.AH() {
	case 0x01, 0x02, 0x03, 0x07, 0x08, 0x0A, 0x0B:
		// Character input/status services have no host terminal model
		// in this project; the table allows treating them as no-ops.
		d.regs.SetCF(false)
		return 0, false, nil

	case 0x04:
		return 0, false, d.writeByte(d.m.Stderr, byte(d.regs.RDX))

	case 0x05:
		return 0, false, d.writeByte(d.m.Stdout, byte(d.regs.RDX))

	case 0x06:
		dl := byte(d.regs.RDX)
		if dl != 0xFF {
			return 0, false, d.writeByte(d.m.Stdout, dl)
		}
		// Input form (DL=0xFF) is unimplemented: nothing is read, AL is
		// left unchanged, and only CF is cleared.
		d.regs.SetCF(false)
		return 0, false, nil

	case 0x09:
		return 0, false, d.printDollarString()

	case 0x30:
		d.regs.SetAX(0x0005)
		d.regs.RBX = 0x00FF00
		d.regs.RCX = 0x0000
		d.regs.SetCF(false)
		return 0, false, nil

	case 0x3F:
		return 0, false, d.readHandle()

	case 0x40:
		return 0, false, d.writeHandle()

	case 0x4C:
		return int(byte(d.regs.RAX)), true, nil

	default:
		return 0, false, fmt.Errorf("%w: INT 21h AH=%#02x", dosio.ErrUnhandledService, d.regs.AH())
	}
}

// writeByte writes a single byte to a console-style output and clears
// CF; no documented failure path exists for these services, so a host
// write error is surfaced as a fatal error instead of a guest-visible
// one.
func (d *dispatch) writeByte(w io.ReadWriter, b byte) error {
	if _, err := w.Write([]byte{b}); err != nil {
		return fmt.Errorf("write to host console: %w", err)
	}

	d.regs.SetCF(false)

	return nil
}

// printDollarString implements AH=0x09: print the $-terminated string
// at DS:DX. Reaching the last byte of the segment (offset 0xFFFF)
// without finding '$' is fatal rather than wrapping to offset 0.
func (d *dispatch) printDollarString() error {
	seg := d.sregs.DS.Selector
	off := uint16(d.regs.RDX)

	for {
		b, err := d.m.mem.ReadBytes(seg, off, 1)
		if err != nil {
			return err
		}

		if b[0] == '$' {
			break
		}

		if _, err := d.m.Stdout.Write(b); err != nil {
			return fmt.Errorf("write to host stdout: %w", err)
		}

		if off == 0xFFFF {
			return fmt.Errorf("%w: INT 21h/09 string not terminated within segment", arena.ErrBoundsExceeded)
		}

		off++
	}

	d.regs.SetCF(false)

	return nil
}

// stream maps a DOS file handle number to the host stream it proxies.
func (d *dispatch) stream(handle uint16) (io.ReadWriter, bool) {
	switch handle {
	case dosio.HandleStdin, dosio.HandleStdprn:
		return d.m.Stdin, true
	case dosio.HandleStdout:
		return d.m.Stdout, true
	case dosio.HandleStderr, dosio.HandleStdaux:
		return d.m.Stderr, true
	default:
		return nil, false
	}
}

// readHandle implements AH=0x3F: read CX bytes from handle BX into
// DS:DX. The destination range is bounds-checked before any host read
// is attempted, so a guest cannot use this call to write past its own
// memory.
func (d *dispatch) readHandle() error {
	bx := uint16(d.regs.RBX)
	cx := uint16(d.regs.RCX)
	seg := d.sregs.DS.Selector
	off := uint16(d.regs.RDX)

	if bx > 4 {
		d.regs.SetAX(dosio.ErrInvalidHandle)
		d.regs.SetCF(true)
		return nil
	}

	if cx == 0 {
		d.regs.SetAX(0)
		d.regs.SetCF(false)
		return nil
	}

	if _, err := d.m.mem.Translate(seg, off, int(cx)); err != nil {
		return err
	}

	stream, ok := d.stream(bx)
	if !ok {
		d.regs.SetAX(dosio.ErrReadFault)
		d.regs.SetCF(true)
		return nil
	}

	buf := make([]byte, cx)

	n, err := io.ReadFull(stream, buf)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		n = 0
	case errors.Is(err, io.ErrUnexpectedEOF):
		// partial read at EOF; n already holds the count read.
	default:
		d.regs.SetAX(dosio.ErrReadFault)
		d.regs.SetCF(true)
		return nil
	}

	if n > 0 {
		if err := d.m.mem.WriteBytes(seg, off, buf[:n]); err != nil {
			return err
		}
	}

	d.regs.SetAX(uint16(n))
	d.regs.SetCF(false)

	return nil
}

// writeHandle implements AH=0x40: write CX bytes from DS:DX to handle
// BX. The source range is bounds-checked before the host write.
func (d *dispatch) writeHandle() error {
	bx := uint16(d.regs.RBX)
	cx := uint16(d.regs.RCX)
	seg := d.sregs.DS.Selector
	off := uint16(d.regs.RDX)

	if bx > 4 {
		d.regs.SetAX(dosio.ErrInvalidHandle)
		d.regs.SetCF(true)
		return nil
	}

	if cx == 0 {
		d.regs.SetAX(0)
		d.regs.SetCF(false)
		return nil
	}

	data, err := d.m.mem.ReadBytes(seg, off, int(cx))
	if err != nil {
		return err
	}

	stream, ok := d.stream(bx)
	if !ok {
		d.regs.SetAX(dosio.ErrWriteFault)
		d.regs.SetCF(true)
		return nil
	}

	n, err := stream.Write(data)
	if err != nil {
		d.regs.SetAX(dosio.ErrWriteFault)
		d.regs.SetCF(true)
		return nil
	}

	d.regs.SetAX(uint16(n))
	d.regs.SetCF(false)

	return nil
}
