//go:build !windows

package executor

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/HerbHall/rebootguard/internal/testutil"
)

func testConfig(program string) Config {
	cfg := DefaultConfig()
	cfg.Program = program
	cfg.Mount = MountDirect
	cfg.GracePeriod = 5 * time.Millisecond
	cfg.PollInterval = 25 * time.Millisecond
	cfg.MaxPolls = 40
	return cfg
}

func newTestExecutor(t *testing.T, cfg Config, opts ...Option) (*Executor, *observer.ObservedLogs) {
	t.Helper()
	logger, logs := testutil.ObservedLogger(zap.DebugLevel)
	e, err := New(cfg, logger, opts...)
	require.NoError(t, err)
	return e, logs
}

// writeScript creates an executable shell script in a temp dir.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "restart.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

// fakeProcess returns scripted poll results, then "running" forever.
type fakeProcess struct {
	mu      sync.Mutex
	results []pollResult
	err     error
	polls   int
}

func (p *fakeProcess) Pid() int { return 4242 }

func (p *fakeProcess) Poll() (pollResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.polls++
	if p.err != nil {
		return pollResult{}, p.err
	}
	if len(p.results) == 0 {
		return pollResult{}, nil
	}
	r := p.results[0]
	p.results = p.results[1:]
	return r, nil
}

func fakeStart(proc process, output string) startFunc {
	return func(string, []string) (process, io.ReadCloser, error) {
		return proc, io.NopCloser(strings.NewReader(output)), nil
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"framework restart", func(c *Config) { c.Action = ActionFrameworkRestart; c.Program = "" }, false},
		{"unknown action", func(c *Config) { c.Action = "explode" }, true},
		{"script without program", func(c *Config) { c.Program = "" }, true},
		{"unknown mount", func(c *Config) { c.Mount = "sideways" }, true},
		{"shell mount without shell", func(c *Config) { c.Mount = MountShell; c.Shell = "" }, true},
		{"direct without shell", func(c *Config) { c.Mount = MountDirect; c.Shell = "" }, false},
		{"zero poll interval", func(c *Config) { c.PollInterval = 0 }, true},
		{"zero max polls", func(c *Config) { c.MaxPolls = 0 }, true},
		{"negative grace", func(c *Config) { c.GracePeriod = -time.Second }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultConfig_Bounds(t *testing.T) {
	cfg := DefaultConfig()
	assert.GreaterOrEqual(t, cfg.GracePeriod, 100*time.Millisecond)
	assert.Less(t, cfg.GracePeriod, time.Second)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.GreaterOrEqual(t, cfg.MaxPolls, 10)
	assert.LessOrEqual(t, cfg.MaxPolls, 15)
}

func TestResolve(t *testing.T) {
	visible := func(string) (os.FileInfo, error) { return os.Stat("/") }
	hidden := func(string) (os.FileInfo, error) { return nil, os.ErrNotExist }
	sameNS := func(string) (string, error) { return "mnt:[4026531840]", nil }
	noNS := func(string) (string, error) { return "", os.ErrPermission }

	tests := []struct {
		name     string
		mount    MountMode
		stat     func(string) (os.FileInfo, error)
		readlink func(string) (string, error)
		wantSU   bool
		wantArgv []string
	}{
		{"direct", MountDirect, hidden, noNS, false, []string{"/data/adb/restart.sh", "userrequested"}},
		{"shell", MountShell, visible, sameNS, true, []string{"su", "--mount-master", "-c", "/data/adb/restart.sh userrequested"}},
		{"auto visible", MountAuto, visible, sameNS, false, []string{"/data/adb/restart.sh", "userrequested"}},
		{"auto hidden", MountAuto, hidden, sameNS, true, []string{"su", "--mount-master", "-c", "/data/adb/restart.sh userrequested"}},
		{"auto namespace unreadable", MountAuto, visible, noNS, false, []string{"/data/adb/restart.sh", "userrequested"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Program = "/data/adb/restart.sh"
			cfg.Mount = tt.mount
			e, _ := newTestExecutor(t, cfg)
			e.stat = tt.stat
			e.readlink = tt.readlink

			p := e.resolve("tag")
			assert.Equal(t, tt.wantSU, p.viaSU)
			assert.Equal(t, tt.wantArgv, p.argv())
			assert.NotEmpty(t, p.reason)
		})
	}
}

func TestResolve_IsolatedNamespaceUsesShell(t *testing.T) {
	cfg := DefaultConfig()
	e, _ := newTestExecutor(t, cfg)
	e.stat = func(string) (os.FileInfo, error) { return os.Stat("/") }
	e.readlink = func(path string) (string, error) {
		if path == selfMountNS {
			return "mnt:[4026532000]", nil
		}
		return "mnt:[4026531840]", nil
	}
	p := e.resolve("tag")
	assert.True(t, p.viaSU)
	assert.Contains(t, p.reason, "isolated mount namespace")
}

func TestResolve_FrameworkRestart(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Action = ActionFrameworkRestart
	e, _ := newTestExecutor(t, cfg)

	p := e.resolve("tag")
	assert.True(t, p.viaSU)
	assert.Equal(t, []string{"su", "--mount-master", "-c", "stop && sleep 2 && start"}, p.argv())
}

func TestResolve_FrameworkRestartFractionalPause(t *testing.T) {
	tests := []struct {
		pause time.Duration
		want  string
	}{
		{1500 * time.Millisecond, "stop && sleep 1.5 && start"},
		{500 * time.Millisecond, "stop && sleep 0.5 && start"},
		{3 * time.Second, "stop && sleep 3 && start"},
	}
	for _, tt := range tests {
		t.Run(tt.pause.String(), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Action = ActionFrameworkRestart
			cfg.RestartPause = tt.pause
			e, _ := newTestExecutor(t, cfg)

			argv := e.resolve("tag").argv()
			assert.Equal(t, tt.want, argv[len(argv)-1])
		})
	}
}

func TestResolve_EmptyArgumentUsesTag(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mount = MountDirect
	cfg.Argument = ""
	e, _ := newTestExecutor(t, cfg)
	assert.Equal(t, []string{cfg.Program, "shutdown-thread"}, e.resolve("shutdown-thread").argv())
}

func TestShellQuote(t *testing.T) {
	tests := map[string]string{
		"/data/adb/restart.sh": "/data/adb/restart.sh",
		"with space":           "'with space'",
		"it's":                 `'it'\''s'`,
		"":                     "''",
		"$(reboot)":            "'$(reboot)'",
	}
	for in, want := range tests {
		if got := shellQuote(in); got != want {
			t.Errorf("shellQuote(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRun_SpawnFailure(t *testing.T) {
	cfg := testConfig("/nonexistent/restart.sh")
	e, logs := newTestExecutor(t, cfg)

	attempt := e.Run(context.Background(), "test")

	assert.Equal(t, StateSpawnFailed, attempt.State)
	assert.True(t, errors.Is(attempt.Err, ErrSpawn), "err = %v", attempt.Err)
	assert.True(t, attempt.Failed())
	assert.Empty(t, attempt.PollTimes)

	errs := logs.FilterLevelExact(zap.ErrorLevel).All()
	require.Len(t, errs, 1)
	fields := errs[0].ContextMap()
	assert.Contains(t, fields["program"], "missing")
	assert.Contains(t, fields, "shell")
	assert.Contains(t, fields, "isolated_mount_ns")
}

func TestRun_ExitZeroDrainsOutput(t *testing.T) {
	script := writeScript(t, `echo "restarting for $1"; echo done >&2; exit 0`)
	cfg := testConfig(script)
	cfg.PollInterval = 50 * time.Millisecond
	e, logs := newTestExecutor(t, cfg)

	attempt := e.Run(context.Background(), "test")

	require.Equal(t, StateExited, attempt.State, "err = %v", attempt.Err)
	require.NotNil(t, attempt.ExitStatus)
	assert.Equal(t, 0, *attempt.ExitStatus)
	assert.False(t, attempt.TimedOut)
	assert.False(t, attempt.Failed())
	assert.Equal(t, 2, attempt.OutputLines)

	lines := logs.FilterMessage("action output").All()
	require.Len(t, lines, 2)
	got := []string{lines[0].ContextMap()["line"].(string), lines[1].ContextMap()["line"].(string)}
	assert.ElementsMatch(t, []string{"restarting for userrequested", "done"}, got)
}

func TestRun_NonZeroExitIsFailure(t *testing.T) {
	script := writeScript(t, `exit 3`)
	e, logs := newTestExecutor(t, testConfig(script))

	attempt := e.Run(context.Background(), "test")

	require.Equal(t, StateFailed, attempt.State)
	require.NotNil(t, attempt.ExitStatus)
	assert.Equal(t, 3, *attempt.ExitStatus)
	assert.False(t, attempt.TimedOut)
	assert.Error(t, attempt.Err)
	assert.True(t, attempt.Failed())
	assert.Len(t, logs.FilterMessage("privileged action failed").All(), 1)
	assert.Empty(t, logs.FilterMessageSnippet("assuming it took over").All())
}

func TestRun_StillRunningIsAssumedTakeover(t *testing.T) {
	script := writeScript(t, `echo started; exec sleep 30`)
	cfg := testConfig(script)
	cfg.PollInterval = 10 * time.Millisecond
	cfg.MaxPolls = 5
	e, logs := newTestExecutor(t, cfg)

	attempt := e.Run(context.Background(), "test")
	t.Cleanup(func() {
		_ = syscall.Kill(-attempt.Pid, syscall.SIGKILL)
		var ws syscall.WaitStatus
		_, _ = syscall.Wait4(attempt.Pid, &ws, 0, nil)
	})

	assert.Equal(t, StateAssumedTakeover, attempt.State)
	assert.True(t, attempt.TimedOut)
	assert.Nil(t, attempt.ExitStatus)
	assert.NoError(t, attempt.Err)
	assert.False(t, attempt.Failed())
	assert.Len(t, attempt.PollTimes, cfg.MaxPolls)
	assert.Empty(t, logs.FilterLevelExact(zap.ErrorLevel).All())
}

func TestRun_PollTimesFollowGraceAndInterval(t *testing.T) {
	proc := &fakeProcess{results: []pollResult{{}, {}, {exited: true, status: 0}}}
	cfg := testConfig("/bin/true")
	cfg.GracePeriod = 30 * time.Millisecond
	cfg.PollInterval = 10 * time.Millisecond
	e, _ := newTestExecutor(t, cfg)
	e.start = fakeStart(proc, "")

	attempt := e.Run(context.Background(), "test")

	require.Equal(t, StateExited, attempt.State)
	require.Len(t, attempt.PollTimes, 3)
	assert.GreaterOrEqual(t, attempt.PollTimes[0].Sub(attempt.StartedAt), cfg.GracePeriod+cfg.PollInterval)
	for i := 1; i < len(attempt.PollTimes); i++ {
		assert.GreaterOrEqual(t, attempt.PollTimes[i].Sub(attempt.PollTimes[i-1]), cfg.PollInterval)
	}
	assert.Equal(t, 3, proc.polls)
}

func TestRun_StampsAttemptWithClock(t *testing.T) {
	clock := testutil.NewClock()
	start := clock.Now()
	proc := &fakeProcess{results: []pollResult{{}, {exited: true, status: 0}}}
	e, _ := newTestExecutor(t, testConfig("/bin/true"))
	e.start = fakeStart(proc, "")
	e.now = clock.Tick(time.Second)

	attempt := e.Run(context.Background(), "test")

	require.Equal(t, StateExited, attempt.State)
	assert.True(t, attempt.StartedAt.Equal(start))
	require.Len(t, attempt.PollTimes, 2)
	assert.Equal(t, start.Add(time.Second), attempt.PollTimes[0])
	assert.Equal(t, start.Add(2*time.Second), attempt.PollTimes[1])
}

func TestRun_SignaledChild(t *testing.T) {
	proc := &fakeProcess{results: []pollResult{{exited: true, status: 137, signaled: true}}}
	e, _ := newTestExecutor(t, testConfig("/bin/true"))
	e.start = fakeStart(proc, "")

	attempt := e.Run(context.Background(), "test")
	assert.Equal(t, StateFailed, attempt.State)
	assert.True(t, attempt.Signaled)
	assert.Equal(t, 137, *attempt.ExitStatus)
}

func TestRun_UnknownExitIsUnreachable(t *testing.T) {
	proc := &fakeProcess{results: []pollResult{{exited: true, unknown: true}}}
	e, _ := newTestExecutor(t, testConfig("/bin/true"))
	e.start = fakeStart(proc, "")

	attempt := e.Run(context.Background(), "test")
	assert.Equal(t, StateUnreachable, attempt.State)
	assert.Nil(t, attempt.ExitStatus)
}

func TestRun_PollErrorStopsPolling(t *testing.T) {
	proc := &fakeProcess{err: errors.New("wait4: no child")}
	e, _ := newTestExecutor(t, testConfig("/bin/true"))
	e.start = fakeStart(proc, "")

	attempt := e.Run(context.Background(), "test")
	assert.Equal(t, StateUnreachable, attempt.State)
	assert.Equal(t, 1, proc.polls)
}

func TestRun_CancelledDuringGrace(t *testing.T) {
	cfg := testConfig("/bin/true")
	cfg.GracePeriod = time.Hour
	e, _ := newTestExecutor(t, cfg)
	started := false
	e.start = func(string, []string) (process, io.ReadCloser, error) {
		started = true
		return nil, nil, errors.New("unreachable")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	attempt := e.Run(ctx, "test")

	assert.Equal(t, StateCancelled, attempt.State)
	assert.False(t, started)
}

func TestRun_CancelledWhilePolling(t *testing.T) {
	proc := &fakeProcess{}
	e, logs := newTestExecutor(t, testConfig("/bin/true"))
	e.start = fakeStart(proc, "")

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	attempt := e.Run(ctx, "test")

	assert.Equal(t, StateCancelled, attempt.State)
	assert.False(t, attempt.TimedOut)
	assert.ErrorIs(t, attempt.Err, context.DeadlineExceeded)
	assert.Less(t, len(attempt.PollTimes), testConfig("").MaxPolls)
	assert.Equal(t, 1, logs.FilterMessage("stopped watching privileged action").Len())
}

func TestExecute_IsAsyncAndObserved(t *testing.T) {
	proc := &fakeProcess{results: []pollResult{{exited: true, status: 0}}}
	done := make(chan Attempt, 1)
	cfg := testConfig("/bin/true")
	cfg.GracePeriod = 50 * time.Millisecond
	e, _ := newTestExecutor(t, cfg, WithObserver(func(a Attempt) { done <- a }))
	e.start = fakeStart(proc, "line one\nline two\n")

	begin := time.Now()
	e.Execute("async")
	assert.Less(t, time.Since(begin), cfg.GracePeriod, "Execute must not block on the run")

	select {
	case a := <-done:
		assert.Equal(t, "async", a.Tag)
		assert.Equal(t, StateExited, a.State)
		assert.Equal(t, 2, a.OutputLines)
		assert.NotEmpty(t, a.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("observer not called")
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPolls = 0
	if _, err := New(cfg, zap.NewNop()); err == nil {
		t.Fatal("New() expected error for invalid config")
	}
}
