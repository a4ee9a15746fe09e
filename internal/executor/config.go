package executor

import (
	"fmt"
	"time"
)

// MountMode selects how the executor makes root-provided mounts visible
// to the privileged action.
type MountMode string

const (
	// MountAuto runs the program directly when it is visible from this
	// context and through an elevated shell otherwise.
	MountAuto MountMode = "auto"
	// MountDirect always execs the program directly.
	MountDirect MountMode = "direct"
	// MountShell always goes through a freshly elevated shell.
	MountShell MountMode = "shell"
)

// Action selects the replacement privileged action.
type Action string

const (
	// ActionScript runs Program with Argument.
	ActionScript Action = "script"
	// ActionFrameworkRestart cycles the framework with stop and start.
	ActionFrameworkRestart Action = "framework-restart"
)

// Config holds executor configuration.
type Config struct {
	Action         Action        `mapstructure:"action"`
	Program        string        `mapstructure:"program"`
	Argument       string        `mapstructure:"argument"`
	GracePeriod    time.Duration `mapstructure:"grace_period"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	MaxPolls       int           `mapstructure:"max_polls"`
	Mount          MountMode     `mapstructure:"mount"`
	Shell          string        `mapstructure:"shell"`
	ShellMountFlag string        `mapstructure:"shell_mount_flag"`
	RestartPause   time.Duration `mapstructure:"restart_pause"`
	ProbePaths     []string      `mapstructure:"probe_paths"`
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{
		Action:         ActionScript,
		Program:        "/data/adb/rebootguard/restart.sh",
		Argument:       "userrequested",
		GracePeriod:    500 * time.Millisecond,
		PollInterval:   time.Second,
		MaxPolls:       12,
		Mount:          MountAuto,
		Shell:          "su",
		ShellMountFlag: "--mount-master",
		RestartPause:   2 * time.Second,
		ProbePaths: []string{
			"/system/bin/sh",
			"/system/bin/su",
			"/sbin/su",
			"/data/adb/magisk",
			"/data/adb/ksu",
		},
	}
}

// Validate checks that the configuration can drive a run.
func (c Config) Validate() error {
	switch c.Action {
	case ActionScript:
		if c.Program == "" {
			return fmt.Errorf("executor: program is required for action %q", c.Action)
		}
	case ActionFrameworkRestart:
		if c.Shell == "" {
			return fmt.Errorf("executor: shell is required for action %q", c.Action)
		}
	default:
		return fmt.Errorf("executor: unknown action %q", c.Action)
	}
	switch c.Mount {
	case MountAuto, MountDirect, MountShell:
	default:
		return fmt.Errorf("executor: unknown mount mode %q", c.Mount)
	}
	if c.Mount != MountDirect && c.Shell == "" {
		return fmt.Errorf("executor: shell is required for mount mode %q", c.Mount)
	}
	if c.GracePeriod < 0 || c.RestartPause < 0 {
		return fmt.Errorf("executor: durations must not be negative")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("executor: poll_interval must be positive, got %v", c.PollInterval)
	}
	if c.MaxPolls <= 0 {
		return fmt.Errorf("executor: max_polls must be positive, got %d", c.MaxPolls)
	}
	return nil
}
