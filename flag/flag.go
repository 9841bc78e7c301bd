// Package flag defines kvikdos's kong-based command-line surface: run
// a .com image under KVM, or probe host KVM capabilities.
package flag

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/pkg/profile"

	"github.com/kvikdos/kvikdos/machine"
	"github.com/kvikdos/kvikdos/probe"
)

// ExitError carries a guest's requested exit code: the process should
// exit with Code, not report a failure.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("guest exited with code %d", e.Code)
}

func readImage(path string) ([]byte, error) {
	image, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read guest image: %w", err)
	}

	return image, nil
}

// CLI is the top-level command tree: `kvikdos run ...` / `kvikdos probe`.
type CLI struct {
	Run   RunCMD   `cmd:"" help:"Run a DOS .com image under KVM."`
	Probe ProbeCMD `cmd:"" help:"Report which KVM capabilities this harness needs are available."`
}

// RunCMD is `kvikdos run <image> [<dos-arg>...]`.
type RunCMD struct {
	Image      string   `arg:"" help:"Path to a 16-bit DOS .com executable."`
	Args       []string `arg:"" optional:"" help:"Command-line arguments passed to the guest program."`
	KVMDevice  string   `name:"kvm-device" default:"/dev/kvm" help:"Path of the KVM device node."`
	Debug      bool     `help:"Trace every dispatched interrupt to stderr."`
	CPUProfile string   `name:"cpuprofile" help:"Write a cpu.pprof profile into this directory."`
}

// ProbeCMD is `kvikdos probe`.
type ProbeCMD struct {
	KVMDevice string `name:"kvm-device" default:"/dev/kvm" help:"Path of the KVM device node."`
}

// Parse parses os.Args-style arguments into a CLI and returns the
// selected subcommand's Run() result.
func Parse(args []string) error {
	_, ctx, err := parseArgs(args)
	if err != nil {
		return err
	}

	return ctx.Run()
}

// parseArgs builds the kong parser and parses args without running the
// selected command, so tests can assert on the populated CLI struct.
func parseArgs(args []string) (*CLI, *kong.Context, error) {
	c := &CLI{}

	parser, err := kong.New(c,
		kong.Name("kvikdos"),
		kong.Description("kvikdos runs a 16-bit DOS .com executable directly under KVM."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}))
	if err != nil {
		return nil, nil, err
	}

	ctx, err := parser.Parse(args)
	if err != nil {
		return nil, nil, err
	}

	return c, ctx, nil
}

// Run loads and executes the guest image, returning an *ExitError
// carrying the guest's exit code on a clean termination.
func (r *RunCMD) Run() error {
	if r.CPUProfile != "" {
		stop := profile.Start(profile.CPUProfile, profile.ProfilePath(r.CPUProfile), profile.Quiet)
		defer stop.Stop()
	}

	m, err := machine.New(r.KVMDevice)
	if err != nil {
		return err
	}
	defer m.Close()

	m.Debug = r.Debug

	image, err := readImage(r.Image)
	if err != nil {
		return err
	}

	if err := m.Load(image, r.Args); err != nil {
		return err
	}

	code, err := m.Run()
	if err != nil {
		return err
	}

	return &ExitError{Code: code}
}

// Run reports KVM capability support.
func (p *ProbeCMD) Run() error {
	return probe.Capabilities(p.KVMDevice)
}
