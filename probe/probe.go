// Package probe implements "kvikdos probe": a small diagnostic that
// reports which KVM capabilities this harness depends on are actually
// available on the host.
package probe

import (
	"fmt"
	"os"

	"github.com/kvikdos/kvikdos/kvm"
)

// capabilities lists every extension the VM harness and arena depend on.
var capabilities = []kvm.Capability{
	kvm.CapUserMemory,
	kvm.CapNRMemSlots,
	kvm.CapImmediateExit,
}

// Capabilities opens kvmPath and prints a name: bool line for each
// capability this project depends on.
func Capabilities(kvmPath string) error {
	dev, err := os.OpenFile(kvmPath, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", kvmPath, err)
	}
	defer dev.Close()

	fd := dev.Fd()

	for _, c := range capabilities {
		ok, err := kvm.Supported(fd, c)
		if err != nil {
			return fmt.Errorf("check %s: %w", c, err)
		}

		fmt.Printf("%-20s: %t\n", c, ok)
	}

	return nil
}
