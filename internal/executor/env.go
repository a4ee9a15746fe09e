package executor

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	selfMountNS = "/proc/self/ns/mnt"
	initMountNS = "/proc/1/ns/mnt"
)

// plan is the resolved command line with the reason it was chosen.
type plan struct {
	name   string
	args   []string
	viaSU  bool
	reason string
}

func (p plan) argv() []string {
	return append([]string{p.name}, p.args...)
}

// resolve picks the command line for tag. The program path may only be
// visible from the init mount namespace, where root overlays live, so
// when this process sits in an isolated namespace or cannot see the
// program, the action runs through a freshly elevated shell instead.
func (e *Executor) resolve(tag string) plan {
	arg := e.cfg.Argument
	if arg == "" {
		arg = tag
	}

	if e.cfg.Action == ActionFrameworkRestart {
		script := "stop && sleep " + strconv.FormatFloat(e.cfg.RestartPause.Seconds(), 'f', -1, 64) + " && start"
		return e.shellPlan(script, "framework restart runs through shell")
	}

	direct := plan{name: e.cfg.Program, args: []string{arg}}
	script := shellQuote(e.cfg.Program) + " " + shellQuote(arg)

	switch e.cfg.Mount {
	case MountDirect:
		direct.reason = "mount mode direct"
		return direct
	case MountShell:
		return e.shellPlan(script, "mount mode shell")
	}

	if _, err := e.stat(e.cfg.Program); err != nil {
		return e.shellPlan(script, "program not visible from this context: "+err.Error())
	}
	if isolated, ok := e.isolatedMountNS(); ok && isolated {
		return e.shellPlan(script, "process runs in an isolated mount namespace")
	}
	direct.reason = "program visible from this context"
	return direct
}

func (e *Executor) shellPlan(script, reason string) plan {
	var args []string
	if e.cfg.ShellMountFlag != "" && e.cfg.Mount != MountDirect {
		args = append(args, e.cfg.ShellMountFlag)
	}
	args = append(args, "-c", script)
	return plan{name: e.cfg.Shell, args: args, viaSU: true, reason: reason}
}

// isolatedMountNS compares this process's mount namespace with init's.
// ok is false when either link cannot be read, e.g. without root.
func (e *Executor) isolatedMountNS() (isolated, ok bool) {
	self, err := e.readlink(selfMountNS)
	if err != nil {
		return false, false
	}
	initNS, err := e.readlink(initMountNS)
	if err != nil {
		return false, false
	}
	return self != initNS, true
}

// diagnose collects what is known about the environment after a spawn
// failure.
func (e *Executor) diagnose(p plan) map[string]string {
	out := make(map[string]string)
	out["program"] = describePath(e.stat, e.cfg.Program)
	if path, err := e.lookPath(e.cfg.Shell); err != nil {
		out["shell"] = "not found: " + err.Error()
	} else {
		out["shell"] = path
	}
	if p.name != e.cfg.Shell && p.name != e.cfg.Program {
		out["command"] = describePath(e.stat, p.name)
	}
	for _, path := range e.cfg.ProbePaths {
		out["probe:"+path] = describePath(e.stat, path)
	}
	if isolated, ok := e.isolatedMountNS(); ok {
		out["isolated_mount_ns"] = fmt.Sprintf("%t", isolated)
	} else {
		out["isolated_mount_ns"] = "unknown"
	}
	return out
}

func describePath(stat func(string) (os.FileInfo, error), path string) string {
	if path == "" {
		return "unset"
	}
	fi, err := stat(path)
	if err != nil {
		return "missing: " + err.Error()
	}
	return fi.Mode().String()
}

func shellQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n'\"\\$`;&|<>(){}*?!#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
