// Package attach describes the places in the host call chain where a reboot
// guard can be installed, ordered from earliest to latest.
package attach

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/HerbHall/rebootguard/internal/classify"
)

// ErrInvalidPoint is returned when a point fails validation.
var ErrInvalidPoint = errors.New("invalid attachment point")

// Signature lists the parameter type names a guard binds against.
type Signature []string

// String renders the signature as a parenthesized parameter list.
func (s Signature) String() string {
	return "(" + strings.Join(s, ", ") + ")"
}

// Equal reports whether two signatures list the same parameter types.
func (s Signature) Equal(other Signature) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Extractor builds a request from the raw arguments of a bound call.
// Implementations must be total: any argument list yields a Request.
type Extractor interface {
	Extract(args []any) classify.Request
}

// Point is a single candidate attachment point.
type Point struct {
	// Chain groups points that sit on the same logical call path. At most
	// one point per chain is installed.
	Chain string
	// Location is the host entry point, e.g. "ShutdownThread.rebootOrShutdown".
	Location string
	// Priority orders points within a chain; lower is earlier.
	Priority int
	// Signature is the parameter shape the guard binds with.
	Signature Signature
	// MinHostVersion and MaxHostVersion bound the host versions that
	// expose this shape. Empty means unbounded.
	MinHostVersion string
	MaxHostVersion string
	Extractor      Extractor
}

// String identifies the point in logs.
func (p Point) String() string {
	return fmt.Sprintf("%s/%s%s", p.Chain, p.Location, p.Signature)
}

// Validate checks that the point is usable.
func (p Point) Validate() error {
	if p.Chain == "" {
		return fmt.Errorf("%w: empty chain for %q", ErrInvalidPoint, p.Location)
	}
	if p.Location == "" {
		return fmt.Errorf("%w: empty location in chain %q", ErrInvalidPoint, p.Chain)
	}
	if p.Extractor == nil {
		return fmt.Errorf("%w: %s has no extractor", ErrInvalidPoint, p)
	}
	if m, ok := p.Extractor.(ArgMap); ok {
		// Without both references no call ever reads as a reboot request.
		if m.Reboot.unset() {
			return fmt.Errorf("%w: %s has no reboot reference", ErrInvalidPoint, p)
		}
		if m.Reason.unset() {
			return fmt.Errorf("%w: %s has no reason reference", ErrInvalidPoint, p)
		}
	}
	for _, v := range []string{p.MinHostVersion, p.MaxHostVersion} {
		if v != "" && !semver.IsValid(canonicalVersion(v)) {
			return fmt.Errorf("%w: %s has malformed host version %q", ErrInvalidPoint, p, v)
		}
	}
	if p.MinHostVersion != "" && p.MaxHostVersion != "" &&
		semver.Compare(canonicalVersion(p.MinHostVersion), canonicalVersion(p.MaxHostVersion)) > 0 {
		return fmt.Errorf("%w: %s min host version above max", ErrInvalidPoint, p)
	}
	return nil
}

// Supports reports whether the point applies to the given host version.
// An empty or unparsable host version is treated as compatible and left
// to the bind attempt to decide.
func (p Point) Supports(hostVersion string) bool {
	hv := canonicalVersion(hostVersion)
	if hostVersion == "" || !semver.IsValid(hv) {
		return true
	}
	if p.MinHostVersion != "" && semver.Compare(hv, canonicalVersion(p.MinHostVersion)) < 0 {
		return false
	}
	if p.MaxHostVersion != "" && semver.Compare(hv, canonicalVersion(p.MaxHostVersion)) > 0 {
		return false
	}
	return true
}

// canonicalVersion accepts "14", "14.1" or "v14.1.0" style versions.
func canonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}
