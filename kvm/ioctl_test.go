package kvm_test

import (
	"os"
	"testing"

	"github.com/kvikdos/kvikdos/kvm"
)

func TestIoctlEINTRRetry(t *testing.T) {
	t.Parallel()

	f, err := os.OpenFile("/dev/kvm", os.O_RDWR, 0o644)
	if err != nil {
		t.Skipf("skipping: /dev/kvm unavailable: %v", err)
	}
	defer f.Close()

	// KVM_GET_API_VERSION exercises the Ioctl retry loop; it must
	// succeed even if the calling goroutine's thread takes a signal
	// mid-syscall.
	if _, err := kvm.GetAPIVersion(f.Fd()); err != nil {
		t.Fatalf("GetAPIVersion failed: %v", err)
	}
}
