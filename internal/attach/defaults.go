package attach

// Chain names of the built-in layout.
const (
	ChainPowerService   = "power-service"
	ChainShutdownThread = "shutdown-thread"
)

// Parameter type names used by the built-in signatures.
const (
	TypeContext = "android.content.Context"
	TypeString  = "java.lang.String"
	TypeBoolean = "boolean"
	TypeInt     = "int"
)

// Locations of the built-in layout.
const (
	LocBinderReboot           = "com.android.server.power.PowerManagerService$BinderService.reboot"
	LocShutdownOrReboot       = "com.android.server.power.PowerManagerService.shutdownOrRebootInternal"
	LocShutdownThreadReboot   = "com.android.server.power.ShutdownThread.reboot"
	LocShutdownThreadFinalize = "com.android.server.power.ShutdownThread.rebootOrShutdown"
)

// Halt modes passed to shutdownOrRebootInternal.
const (
	HaltModeShutdown = 0
	HaltModeReboot   = 1
	HaltModeSafeMode = 2
)

// Defaults returns the built-in attachment layout for an Android
// system_server. The binder entry point fires before any broadcast or
// dialog; ShutdownThread.rebootOrShutdown is the last window before the
// kernel reboot call and is kept only as a fallback.
func Defaults() []Point {
	return []Point{
		{
			Chain:     ChainPowerService,
			Location:  LocBinderReboot,
			Priority:  0,
			Signature: Signature{TypeBoolean, TypeString, TypeBoolean},
			Extractor: ArgMap{
				Reboot:  Const(true),
				Reason:  Arg(1),
				Confirm: Arg(0),
			},
		},
		{
			Chain:          ChainPowerService,
			Location:       LocShutdownOrReboot,
			Priority:       10,
			Signature:      Signature{TypeInt, TypeBoolean, TypeString, TypeBoolean},
			MinHostVersion: "9",
			Extractor: ArgMap{
				Reboot:  ArgEquals(0, HaltModeReboot),
				Reason:  Arg(2),
				Confirm: Arg(1),
			},
		},
		{
			Chain:     ChainShutdownThread,
			Location:  LocShutdownThreadReboot,
			Priority:  0,
			Signature: Signature{TypeContext, TypeString, TypeBoolean},
			Extractor: ArgMap{
				Reboot:  Const(true),
				Reason:  Arg(1),
				Confirm: Arg(2),
			},
		},
		{
			Chain:     ChainShutdownThread,
			Location:  LocShutdownThreadFinalize,
			Priority:  10,
			Signature: Signature{TypeContext, TypeBoolean, TypeString},
			Extractor: ArgMap{
				Reboot:  Arg(1),
				Reason:  Arg(2),
				Confirm: Const(false),
			},
		},
	}
}

// DefaultRegistry returns a registry holding Defaults.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(Defaults()...)
	if err != nil {
		panic("attach.DefaultRegistry: " + err.Error())
	}
	return r
}
