// Package classify decides whether an observed reboot request is a plain
// user-initiated restart that should be intercepted.
package classify

import "fmt"

// SentinelReason is the reboot reason the power menu passes for a plain
// user-requested restart. It is the only reason that is ever intercepted.
const SentinelReason = "userrequested"

// Distinguished reboot reasons that must always pass through.
const (
	ReasonRecovery   = "recovery"
	ReasonBootloader = "bootloader"
	ReasonFastboot   = "fastboot"
	ReasonSafeMode   = "safemode"
	ReasonQuiescent  = "quiescent"
	ReasonUpdate     = "recovery-update"
	ReasonWatchdog   = "watchdog"
)

// Outcome is the classification result for a single request.
type Outcome int

const (
	// PassThrough leaves the original action untouched. It is the zero
	// value so an uninitialized Outcome never suppresses anything.
	PassThrough Outcome = iota

	// Suppressed replaces the original action with a no-op and hands off
	// to the executor.
	Suppressed
)

// String returns the string representation of an Outcome.
func (o Outcome) String() string {
	switch o {
	case PassThrough:
		return "pass_through"
	case Suppressed:
		return "suppressed"
	default:
		return "unknown"
	}
}

// Request is the snapshot of attributes observed at an attachment point.
// A nil Reason means the host supplied no reason at all.
type Request struct {
	IsReboot bool
	Reason   *string
	Confirm  bool
}

// NewRequest builds a Request with a present reason.
func NewRequest(isReboot bool, reason string, confirm bool) Request {
	return Request{IsReboot: isReboot, Reason: &reason, Confirm: confirm}
}

// ReasonString renders the reason for logging, distinguishing absent from empty.
func (r Request) ReasonString() string {
	if r.Reason == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%q", *r.Reason)
}

// Classifier maps a request to an outcome.
type Classifier interface {
	Classify(req Request) Outcome
}

// Func adapts an ordinary function to the Classifier interface.
type Func func(req Request) Outcome

// Classify calls f(req).
func (f Func) Classify(req Request) Outcome { return f(req) }

// Default is the allow-list classifier.
var Default Classifier = Func(Classify)

// Classify intercepts a reboot only when its reason is exactly the
// sentinel. Power-off, absent, empty and every other reason pass through.
func Classify(req Request) Outcome {
	if !req.IsReboot {
		return PassThrough
	}
	if req.Reason == nil || *req.Reason != SentinelReason {
		return PassThrough
	}
	return Suppressed
}

// Describe explains the decision Classify takes for req.
func Describe(req Request) string {
	switch {
	case !req.IsReboot:
		return "power-off request"
	case req.Reason == nil:
		return "reboot without reason"
	case *req.Reason == "":
		return "reboot with empty reason"
	case *req.Reason == SentinelReason:
		return "user-requested reboot"
	default:
		return "special reboot reason " + *req.Reason
	}
}
