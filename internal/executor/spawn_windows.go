//go:build windows

package executor

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// windowsProcess reaps the child on a background goroutine; Poll only
// reads the recorded result.
type windowsProcess struct {
	pid  int
	mu   sync.Mutex
	done bool
	code int
}

func startDetached(name string, args []string) (process, io.ReadCloser, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("create output pipe: %w", err)
	}

	cmd := exec.Command(name, args...)
	cmd.Stdout = pw
	cmd.Stderr = pw

	startErr := cmd.Start()
	pw.Close()
	if startErr != nil {
		pr.Close()
		return nil, nil, startErr
	}

	p := &windowsProcess{pid: cmd.Process.Pid}
	go func() {
		_ = cmd.Wait()
		p.mu.Lock()
		p.done = true
		p.code = cmd.ProcessState.ExitCode()
		p.mu.Unlock()
	}()
	return p, pr, nil
}

func (p *windowsProcess) Pid() int { return p.pid }

func (p *windowsProcess) Poll() (pollResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.done {
		return pollResult{}, nil
	}
	return pollResult{exited: true, status: p.code}, nil
}
