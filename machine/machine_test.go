package machine_test

import (
	"bytes"
	"testing"

	"github.com/kvikdos/kvikdos/bootstrap"
	"github.com/kvikdos/kvikdos/machine"
)

// newMachine opens the real KVM device, skipping the test when it is
// unavailable or the caller lacks permission, the same pattern the
// kvm and arena packages use.
func newMachine(t *testing.T) *machine.Machine {
	t.Helper()

	m, err := machine.New(machine.DefaultKVMDevice)
	if err != nil {
		t.Skipf("skipping: cannot open %s: %v", machine.DefaultKVMDevice, err)
	}

	t.Cleanup(func() { m.Close() })

	return m
}

// mov dx, imm16; mov ah, 0x09; int 21h; mov ax, 0x4C00; int 21h
func helloWorldImage(msg string) []byte {
	header := []byte{
		0xBA, 0, 0,
		0xB4, 0x09,
		0xCD, 0x21,
		0xB8, 0x00, 0x4C,
		0xCD, 0x21,
	}

	off := bootstrap.ImageLoadOffset + len(header)
	header[1] = byte(off)
	header[2] = byte(off >> 8)

	return append(header, append([]byte(msg), '$')...)
}

// mov ax, (AL=code, AH=0x4C); int 21h
func exitCodeImage(code byte) []byte {
	return []byte{0xB8, code, 0x4C, 0xCD, 0x21}
}

// mov ax, (AL=ch, AH=0x0E); int 10h; mov ax, 0x4C00; int 21h
func teletypeImage(ch byte) []byte {
	return []byte{0xB8, ch, 0x0E, 0xCD, 0x10, 0xB8, 0x00, 0x4C, 0xCD, 0x21}
}

func TestRunPrintsDollarTerminatedString(t *testing.T) {
	t.Parallel()

	m := newMachine(t)

	var stdout bytes.Buffer
	m.Stdout = &stdout

	if err := m.Load(helloWorldImage("HELLO"), nil); err != nil {
		t.Fatal(err)
	}

	code, err := m.Run()
	if err != nil {
		t.Fatal(err)
	}

	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}

	if got := stdout.String(); got != "HELLO" {
		t.Errorf("stdout = %q, want %q", got, "HELLO")
	}
}

func TestRunReturnsGuestExitCode(t *testing.T) {
	t.Parallel()

	m := newMachine(t)

	if err := m.Load(exitCodeImage(0x2A), nil); err != nil {
		t.Fatal(err)
	}

	code, err := m.Run()
	if err != nil {
		t.Fatal(err)
	}

	if code != 0x2A {
		t.Errorf("exit code = %#x, want 0x2a", code)
	}
}

func TestRunHandlesBIOSTeletype(t *testing.T) {
	t.Parallel()

	m := newMachine(t)

	var stdout bytes.Buffer
	m.Stdout = &stdout

	if err := m.Load(teletypeImage('Z'), nil); err != nil {
		t.Fatal(err)
	}

	code, err := m.Run()
	if err != nil {
		t.Fatal(err)
	}

	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}

	if got := stdout.String(); got != "Z" {
		t.Errorf("stdout = %q, want %q", got, "Z")
	}
}

func TestRunFastTerminate(t *testing.T) {
	t.Parallel()

	m := newMachine(t)

	// int 20h
	if err := m.Load([]byte{0xCD, 0x20}, nil); err != nil {
		t.Fatal(err)
	}

	code, err := m.Run()
	if err != nil {
		t.Fatal(err)
	}

	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
}
