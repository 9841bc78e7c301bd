// Package dosio names the small, stable set of sentinel errors and
// handle numbers the DOS service handlers in package machine use, kept
// separate from machine so the "what went wrong" vocabulary can be
// imported without pulling in the whole dispatcher.
package dosio

import "errors"

// ErrUnhandledService is returned for an INT/AH combination outside the
// recognized subset. Callers treat this as fatal.
var ErrUnhandledService = errors.New("unhandled DOS service")

// Standard DOS file handles this project recognizes for AH=0x3F/0x40.
// Handles 3 and 4 have no independent host stream and are folded onto
// stderr and stdin respectively.
const (
	HandleStdin  = 0
	HandleStdout = 1
	HandleStderr = 2
	HandleStdaux = 3
	HandleStdprn = 4
)

// DOS error codes returned in AX on a documented handler failure.
const (
	ErrInvalidHandle = 0x06
	ErrReadFault     = 0x1E
	ErrWriteFault    = 0x1D
)
