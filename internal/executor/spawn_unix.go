//go:build !windows

package executor

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// unixProcess is a detached child polled with wait4(WNOHANG), so the
// executor never blocks on a child that may tear down this process.
type unixProcess struct {
	cmd *exec.Cmd
	pid int
}

// startDetached spawns the command in its own process group with stdout
// and stderr combined into one pipe.
func startDetached(name string, args []string) (process, io.ReadCloser, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("create output pipe: %w", err)
	}

	cmd := exec.Command(name, args...)
	cmd.Stdout = pw
	cmd.Stderr = pw
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	startErr := cmd.Start()
	// The child holds its own copy of the write end.
	pw.Close()
	if startErr != nil {
		pr.Close()
		return nil, nil, startErr
	}
	return &unixProcess{cmd: cmd, pid: cmd.Process.Pid}, pr, nil
}

func (p *unixProcess) Pid() int { return p.pid }

func (p *unixProcess) Poll() (pollResult, error) {
	var ws unix.WaitStatus
	for {
		pid, err := unix.Wait4(p.pid, &ws, unix.WNOHANG, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			// Someone else reaped the child. Fall back to a signal probe.
			if killErr := unix.Kill(p.pid, 0); errors.Is(killErr, unix.ESRCH) {
				return pollResult{exited: true, unknown: true}, nil
			}
			return pollResult{}, fmt.Errorf("wait4 %d: %w", p.pid, err)
		}
		if pid == 0 {
			return pollResult{}, nil
		}
		break
	}

	// The child is reaped; release the handle os/exec keeps for it.
	_ = p.cmd.Process.Release()

	switch {
	case ws.Exited():
		return pollResult{exited: true, status: ws.ExitStatus()}, nil
	case ws.Signaled():
		return pollResult{exited: true, status: 128 + int(ws.Signal()), signaled: true}, nil
	default:
		return pollResult{exited: true, unknown: true}, nil
	}
}
