// Command kvikdos runs a 16-bit DOS .com executable directly under
// KVM, using the guest's own INT 20h/21h/29h/10h calls as its only
// interface to the host.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/kvikdos/kvikdos/flag"
)

// fatalExitCode is returned for any host-side failure: a bad image
// path, a KVM precondition the host does not meet, a guest bounds
// violation, or an unrecognized service.
const fatalExitCode = 252

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	err := flag.Parse(args)
	if err == nil {
		return 0
	}

	var exitErr *flag.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	fmt.Fprintln(os.Stderr, "kvikdos:", err)

	return fatalExitCode
}
