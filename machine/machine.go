// Package machine implements the VM Harness and Exit Dispatcher: it owns
// the /dev/kvm file descriptors, wires the guest arena into KVM's two
// memory slots, and drives the VCPU through KVM_RUN until the guest
// terminates or a host-side fault makes continuing unsafe.
package machine

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/kvikdos/kvikdos/arena"
	"github.com/kvikdos/kvikdos/bootstrap"
	"github.com/kvikdos/kvikdos/kvm"
)

// ioPortThrottle is how long the dispatcher sleeps on a KVM_EXIT_IO exit
// before resuming the VCPU unchanged. Nothing in this project's scope
// emulates I/O ports; guests that probe one busy-loop on it, and this
// throttle keeps that from pegging a host CPU.
const ioPortThrottle = time.Second

// DefaultKVMDevice is the device node opened when no override is given.
const DefaultKVMDevice = "/dev/kvm"

// Machine owns one VM with exactly one VCPU and the 2 MiB guest arena
// backing it. There is no SMP and no live migration.
type Machine struct {
	dev  *os.File
	kvm  uintptr
	vm   uintptr
	vcpu uintptr

	mem *arena.Arena
	run *kvm.RunData

	// Debug enables a per-interrupt disassembly trace of synthetic-INT
	// exits, written through the standard log package (process stderr).
	Debug bool

	// Stdin/Stdout/Stderr are the host streams DOS handle and console
	// I/O services read and write. Tests substitute in-memory pipes.
	Stdin  io.ReadWriter
	Stdout io.ReadWriter
	Stderr io.ReadWriter
}

// New opens kvmPath, creates a VM and a single VCPU, and registers the
// guest arena's two memory slots. It leaves the VCPU unstarted; call
// Load before Run.
func New(kvmPath string) (*Machine, error) {
	if kvmPath == "" {
		kvmPath = DefaultKVMDevice
	}

	dev, err := os.OpenFile(kvmPath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", kvmPath, err)
	}

	m := &Machine{
		dev:    dev,
		kvm:    dev.Fd(),
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}

	if err := m.checkMemSlotCapability(); err != nil {
		dev.Close()
		return nil, err
	}

	vmFd, err := kvm.CreateVM(m.kvm)
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("create vm: %w", err)
	}
	m.vm = vmFd

	mem, err := arena.New()
	if err != nil {
		dev.Close()
		return nil, err
	}
	m.mem = mem

	ro := mem.ReadOnlySlot()
	if err := kvm.SetUserMemoryRegion(m.vm, &ro); err != nil {
		dev.Close()
		return nil, fmt.Errorf("register read-only memory slot: %w", err)
	}

	rw := mem.WritableSlot()
	if err := kvm.SetUserMemoryRegion(m.vm, &rw); err != nil {
		dev.Close()
		return nil, fmt.Errorf("register writable memory slot: %w", err)
	}

	vcpuFd, err := kvm.CreateVCPU(m.vm)
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("create vcpu: %w", err)
	}
	m.vcpu = vcpuFd

	mmapSize, err := kvm.GetVCPUMMmapSize(m.kvm)
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("get vcpu mmap size: %w", err)
	}

	runPage, err := unix.Mmap(int(m.vcpu), 0, int(mmapSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("mmap kvm_run page: %w", err)
	}
	m.run = (*kvm.RunData)(unsafe.Pointer(&runPage[0]))

	return m, nil
}

// checkMemSlotCapability rejects a host whose KVM does not advertise at
// least two user memory slots, the minimum this harness's two-slot
// arena layout requires.
func (m *Machine) checkMemSlotCapability() error {
	n, err := kvm.CheckExtension(m.kvm, kvm.CapNRMemSlots)
	if err != nil {
		return fmt.Errorf("query KVM_CAP_NR_MEMSLOTS: %w", err)
	}

	// A kernel that does not report this extension returns 0; treat that
	// as "no advertised limit" rather than "zero slots available".
	if n > 0 && n < 2 {
		return fmt.Errorf("%w: host KVM reports only %d memory slot(s), need 2", ErrInsufficientHost, n)
	}

	return nil
}

// ErrInsufficientHost is returned when the host's KVM instance does not
// meet a precondition this harness depends on.
var ErrInsufficientHost = errors.New("host KVM instance does not meet requirements")

// Load builds the initial guest state (IVT, trampoline, PSP, image) in
// the arena and pushes it into the VCPU's registers.
func (m *Machine) Load(image []byte, args []string) error {
	st, err := bootstrap.Build(m.mem, image, args)
	if err != nil {
		return err
	}

	// Keep the VCPU's real-mode segment attributes and control registers;
	// only each segment's selector and base come from st.
	sregs, err := kvm.GetSregs(m.vcpu)
	if err != nil {
		return fmt.Errorf("get initial sregs: %w", err)
	}

	sregs.CS.SetReal(st.Sregs.CS.Selector)
	sregs.DS.SetReal(st.Sregs.DS.Selector)
	sregs.ES.SetReal(st.Sregs.ES.Selector)
	sregs.FS.SetReal(st.Sregs.FS.Selector)
	sregs.GS.SetReal(st.Sregs.GS.Selector)
	sregs.SS.SetReal(st.Sregs.SS.Selector)

	if err := kvm.SetSregs(m.vcpu, sregs); err != nil {
		return fmt.Errorf("set initial sregs: %w", err)
	}

	if err := kvm.SetRegs(m.vcpu, &st.Regs); err != nil {
		return fmt.Errorf("set initial regs: %w", err)
	}

	return nil
}

// Close releases the /dev/kvm file descriptor. The VM and VCPU
// descriptors and the kvm_run mapping are not closed here; they are
// released when the process exits.
func (m *Machine) Close() error {
	return m.dev.Close()
}

// Run drives the VCPU until a DOS termination service is invoked or a
// host-side fault occurs, returning the guest's exit code in the former
// case.
func (m *Machine) Run() (int, error) {
	for {
		if err := kvm.Run(m.vcpu); err != nil {
			return 252, fmt.Errorf("resume vcpu: %w", err)
		}

		switch kvm.ExitType(m.run.ExitReason) {
		case kvm.ExitIO:
			// No emulated I/O port has any effect; sleep and retry
			// exactly as the reference implementation does.
			time.Sleep(ioPortThrottle)

		case kvm.ExitHlt:
			code, done, err := m.dispatchHalt()
			if err != nil {
				return 252, err
			}

			if done {
				return code, nil
			}

		case kvm.ExitMMIO:
			physAddr, length, isWrite := m.run.MMIO()
			return 252, fmt.Errorf("%w: mmio access phys=%#x len=%d write=%v", kvm.ErrUnexpectedExitReason, physAddr, length, isWrite)

		case kvm.ExitShutdown:
			return 252, fmt.Errorf("%w: triple fault / shutdown", kvm.ErrUnexpectedExitReason)

		default:
			return 252, fmt.Errorf("%w: reason %d", kvm.ErrUnexpectedExitReason, m.run.ExitReason)
		}
	}
}

func (m *Machine) debugEnabled() bool {
	return m.Debug || os.Getenv("DEBUG") != ""
}

func (m *Machine) logf(format string, args ...any) {
	log.Printf("kvikdos: "+format, args...)
}
