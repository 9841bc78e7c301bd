package kvm_test

import (
	"os"
	"testing"

	"github.com/kvikdos/kvikdos/kvm"
)

func openKVM(t *testing.T) *os.File {
	t.Helper()

	f, err := os.OpenFile("/dev/kvm", os.O_RDWR, 0o644)
	if err != nil {
		t.Skipf("skipping: /dev/kvm unavailable: %v", err)
	}

	return f
}

func TestGetAPIVersion(t *testing.T) {
	t.Parallel()

	f := openKVM(t)
	defer f.Close()

	v, err := kvm.GetAPIVersion(f.Fd())
	if err != nil {
		t.Fatal(err)
	}

	if v != 12 {
		t.Errorf("unexpected KVM API version: %d", v)
	}
}

func TestCreateVMAndVCPU(t *testing.T) {
	t.Parallel()

	f := openKVM(t)
	defer f.Close()

	vmFd, err := kvm.CreateVM(f.Fd())
	if err != nil {
		t.Fatal(err)
	}

	vcpuFd, err := kvm.CreateVCPU(vmFd)
	if err != nil {
		t.Fatal(err)
	}

	regs, err := kvm.GetRegs(vcpuFd)
	if err != nil {
		t.Fatal(err)
	}

	if err := kvm.SetRegs(vcpuFd, regs); err != nil {
		t.Fatal(err)
	}

	sregs, err := kvm.GetSregs(vcpuFd)
	if err != nil {
		t.Fatal(err)
	}

	if err := kvm.SetSregs(vcpuFd, sregs); err != nil {
		t.Fatal(err)
	}
}

func TestCheckExtensionUserMemory(t *testing.T) {
	t.Parallel()

	f := openKVM(t)
	defer f.Close()

	ok, err := kvm.Supported(f.Fd(), kvm.CapUserMemory)
	if err != nil {
		t.Fatal(err)
	}

	if !ok {
		t.Error("expected host to support KVM_CAP_USER_MEMORY")
	}
}
