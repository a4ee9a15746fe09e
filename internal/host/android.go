package host

import (
	"sync"

	"github.com/HerbHall/rebootguard/internal/attach"
)

// Locations the simulated system_server exposes beyond the built-in
// attachment layout.
const (
	LocBinderShutdown     = "com.android.server.power.PowerManagerService$BinderService.shutdown"
	LocShutdownThreadHalt = "com.android.server.power.ShutdownThread.shutdown"
)

const (
	simContext         = "system_context"
	simWaitForShutdown = true
)

// LowLevelCall records one call that reached the kernel boundary.
type LowLevelCall struct {
	Reboot bool
	Reason any
}

// Android simulates the reboot call chain of a system_server:
// binder entry, shutdownOrRebootInternal, ShutdownThread and finally
// rebootOrShutdown, which hits the kernel boundary.
type Android struct {
	*Sim

	mu        sync.Mutex
	originals map[string]Original
	absent    map[string]bool
	lowLevel  []LowLevelCall
}

// AndroidOption customizes the simulated host.
type AndroidOption func(*androidOptions)

type androidOptions struct {
	absent     map[string]bool
	signatures map[string]attach.Signature
}

// WithoutLocation hides a location from binding. The host still runs its
// logic, as a build that inlined or renamed the method would.
func WithoutLocation(location string) AndroidOption {
	return func(o *androidOptions) { o.absent[location] = true }
}

// WithSignature exposes location with a different parameter shape, as a
// different host version would. The shape must keep the argument count.
func WithSignature(location string, sig attach.Signature) AndroidOption {
	return func(o *androidOptions) { o.signatures[location] = sig }
}

// NewAndroid builds a simulated system_server reporting version.
func NewAndroid(version string, opts ...AndroidOption) *Android {
	o := &androidOptions{
		absent:     make(map[string]bool),
		signatures: make(map[string]attach.Signature),
	}
	for _, opt := range opts {
		opt(o)
	}

	a := &Android{
		Sim:       NewSim(version),
		originals: make(map[string]Original),
		absent:    o.absent,
	}

	boolStrBool := attach.Signature{attach.TypeBoolean, attach.TypeString, attach.TypeBoolean}
	ctxStrBool := attach.Signature{attach.TypeContext, attach.TypeString, attach.TypeBoolean}

	a.define(o, attach.LocBinderReboot, boolStrBool, func(args []any) error {
		return a.call(attach.LocShutdownOrReboot, int32(attach.HaltModeReboot), args[0], args[1], args[2])
	})
	a.define(o, LocBinderShutdown, boolStrBool, func(args []any) error {
		return a.call(attach.LocShutdownOrReboot, int32(attach.HaltModeShutdown), args[0], args[1], args[2])
	})
	a.define(o, attach.LocShutdownOrReboot,
		attach.Signature{attach.TypeInt, attach.TypeBoolean, attach.TypeString, attach.TypeBoolean},
		func(args []any) error {
			if mode, _ := args[0].(int32); mode == attach.HaltModeShutdown {
				return a.call(LocShutdownThreadHalt, simContext, args[2], args[1])
			}
			return a.call(attach.LocShutdownThreadReboot, simContext, args[2], args[1])
		})
	a.define(o, attach.LocShutdownThreadReboot, ctxStrBool, func(args []any) error {
		return a.call(attach.LocShutdownThreadFinalize, args[0], true, args[1])
	})
	a.define(o, LocShutdownThreadHalt, ctxStrBool, func(args []any) error {
		return a.call(attach.LocShutdownThreadFinalize, args[0], false, args[1])
	})
	a.define(o, attach.LocShutdownThreadFinalize,
		attach.Signature{attach.TypeContext, attach.TypeBoolean, attach.TypeString},
		func(args []any) error {
			reboot, _ := args[1].(bool)
			a.mu.Lock()
			a.lowLevel = append(a.lowLevel, LowLevelCall{Reboot: reboot, Reason: args[2]})
			a.mu.Unlock()
			return nil
		})
	return a
}

func (a *Android) define(o *androidOptions, location string, sig attach.Signature, original Original) {
	a.originals[location] = original
	if o.absent[location] {
		return
	}
	if override, ok := o.signatures[location]; ok {
		sig = override
	}
	a.Expose(location, sig, original)
}

func (a *Android) call(location string, args ...any) error {
	if a.absent[location] {
		return a.originals[location](args)
	}
	_, err := a.Invoke(location, args...)
	return err
}

// Reboot enters the chain at the binder reboot entry. A nil reason models
// a caller that passed no reason.
func (a *Android) Reboot(reason *string, confirm bool) error {
	return a.call(attach.LocBinderReboot, confirm, javaString(reason), simWaitForShutdown)
}

// Shutdown enters the chain at the binder shutdown entry.
func (a *Android) Shutdown(reason *string, confirm bool) error {
	return a.call(LocBinderShutdown, confirm, javaString(reason), simWaitForShutdown)
}

// UIReboot enters the chain at ShutdownThread.reboot, the path taken by
// the power menu running inside system_server.
func (a *Android) UIReboot(reason *string, confirm bool) error {
	return a.call(attach.LocShutdownThreadReboot, simContext, javaString(reason), confirm)
}

// LowLevel returns the calls that reached the kernel boundary.
func (a *Android) LowLevel() []LowLevelCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]LowLevelCall, len(a.lowLevel))
	copy(out, a.lowLevel)
	return out
}

func javaString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
