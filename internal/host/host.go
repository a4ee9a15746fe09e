// Package host abstracts the process whose call chain the reboot guards
// attach to. The real surface lives in the hooking framework; Sim is an
// in-process stand-in used by tests and the simulate command.
package host

import (
	"errors"

	"github.com/HerbHall/rebootguard/internal/attach"
)

var (
	// ErrLocationAbsent is returned when the host does not expose a location.
	ErrLocationAbsent = errors.New("location absent")
	// ErrSignatureMismatch is returned when a location exists with a
	// different parameter shape.
	ErrSignatureMismatch = errors.New("signature mismatch")
)

// Verdict tells the host what to do with the original call.
type Verdict int

const (
	// Proceed runs the original action unmodified.
	Proceed Verdict = iota
	// Suppress skips the original action and reports success to its caller.
	Suppress
)

// String returns the string representation of a Verdict.
func (v Verdict) String() string {
	if v == Suppress {
		return "suppress"
	}
	return "proceed"
}

// Guard runs synchronously on the caller's goroutine before the original
// action, receiving the raw call arguments.
type Guard func(args []any) Verdict

// Surface is the host attachment surface.
type Surface interface {
	// Version reports the host version used to filter attachment points.
	Version() string
	// Bind installs g in front of location if it exposes sig.
	Bind(location string, sig attach.Signature, g Guard) error
}
