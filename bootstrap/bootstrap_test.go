package bootstrap_test

import (
	"strings"
	"testing"

	"github.com/kvikdos/kvikdos/arena"
	"github.com/kvikdos/kvikdos/bootstrap"
)

func newArena(t *testing.T) *arena.Arena {
	t.Helper()

	a, err := arena.New()
	if err != nil {
		t.Skipf("skipping: cannot mmap guest arena: %v", err)
	}

	return a
}

func TestBuildLaysOutIVTAndTrampoline(t *testing.T) {
	t.Parallel()

	a := newArena(t)

	if _, err := bootstrap.Build(a, []byte{0x90}, nil); err != nil {
		t.Fatal(err)
	}

	entry, err := a.ReadBytes(0, 4*0x21, 4)
	if err != nil {
		t.Fatal(err)
	}

	if entry[0] != 0x21 || entry[1] != 0x00 || entry[2] != 0x40 || entry[3] != 0x00 {
		t.Errorf("IVT entry 0x21 = % x, want far pointer 0040:0021", entry)
	}

	halt, err := a.ReadBytes(0, arena.TrampolineOffset+0x21, 1)
	if err != nil {
		t.Fatal(err)
	}

	if halt[0] != arena.HaltOpcode {
		t.Errorf("trampoline byte = %#x, want %#x", halt[0], arena.HaltOpcode)
	}
}

func TestBuildLoadsImageAndSetsEntry(t *testing.T) {
	t.Parallel()

	a := newArena(t)

	image := []byte{0xB4, 0x09, 0xCD, 0x21}

	st, err := bootstrap.Build(a, image, nil)
	if err != nil {
		t.Fatal(err)
	}

	if st.Regs.RIP != 0x0100 {
		t.Errorf("RIP = %#x, want 0x100", st.Regs.RIP)
	}

	got, err := a.ReadBytes(bootstrap.BaseParagraph, 0x0100, len(image))
	if err != nil {
		t.Fatal(err)
	}

	if string(got) != string(image) {
		t.Errorf("loaded image = % x, want % x", got, image)
	}
}

func TestBuildSegmentInvariant(t *testing.T) {
	t.Parallel()

	a := newArena(t)

	st, err := bootstrap.Build(a, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	for _, seg := range []struct {
		name string
		sel  uint16
		base uint64
	}{
		{"CS", st.Sregs.CS.Selector, st.Sregs.CS.Base},
		{"DS", st.Sregs.DS.Selector, st.Sregs.DS.Base},
		{"SS", st.Sregs.SS.Selector, st.Sregs.SS.Base},
	} {
		if seg.base != uint64(seg.sel)<<4 {
			t.Errorf("%s: base %#x != selector %#x << 4", seg.name, seg.base, seg.sel)
		}

		if seg.sel != bootstrap.BaseParagraph {
			t.Errorf("%s: selector = %#x, want %#x", seg.name, seg.sel, bootstrap.BaseParagraph)
		}
	}
}

func TestBuildPSPTerminationOpcode(t *testing.T) {
	t.Parallel()

	a := newArena(t)

	if _, err := bootstrap.Build(a, nil, nil); err != nil {
		t.Fatal(err)
	}

	psp, err := a.ReadBytes(bootstrap.BaseParagraph, 0, 2)
	if err != nil {
		t.Fatal(err)
	}

	if psp[0] != 0xCD || psp[1] != 0x20 {
		t.Errorf("PSP[0:2] = % x, want CD 20 (INT 20h)", psp)
	}
}

func TestBuildStackHoldsSyntheticReturn(t *testing.T) {
	t.Parallel()

	a := newArena(t)

	st, err := bootstrap.Build(a, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	if st.Regs.RSP != 0xFFFE {
		t.Fatalf("SP = %#x, want 0xFFFE", st.Regs.RSP)
	}

	ret, err := a.ReadBytes(bootstrap.BaseParagraph, uint16(st.Regs.RSP), 2)
	if err != nil {
		t.Fatal(err)
	}

	if ret[0] != 0 || ret[1] != 0 {
		t.Errorf("synthetic return address = % x, want 00 00", ret)
	}
}

func TestCommandLineTailBoundary(t *testing.T) {
	t.Parallel()

	a := newArena(t)

	// 127 encoded bytes (126 letters + 1 leading space) is accepted.
	ok := strings.Repeat("a", bootstrap.MaxCmdlineLen-1)
	if _, err := bootstrap.Build(a, nil, []string{ok}); err != nil {
		t.Fatalf("127-byte tail should be accepted: %v", err)
	}

	psp, err := a.ReadBytes(bootstrap.BaseParagraph, 0x80, 1)
	if err != nil {
		t.Fatal(err)
	}

	if int(psp[0]) != bootstrap.MaxCmdlineLen {
		t.Errorf("PSP tail length = %d, want %d", psp[0], bootstrap.MaxCmdlineLen)
	}

	// 128 encoded bytes overflows the PSP and must be rejected.
	tooLong := strings.Repeat("a", bootstrap.MaxCmdlineLen)
	if _, err := bootstrap.Build(a, nil, []string{tooLong}); err == nil {
		t.Fatal("expected 128-byte tail to be rejected")
	}
}

func TestImageTooLargeRejected(t *testing.T) {
	t.Parallel()

	a := newArena(t)

	huge := make([]byte, arena.MaxImageSize(bootstrap.BaseParagraph, bootstrap.ImageLoadOffset)+1)

	if _, err := bootstrap.Build(a, huge, nil); err == nil {
		t.Fatal("expected oversized image to be rejected")
	}
}
