// Package executor runs the replacement privileged action after a reboot
// has been suppressed, and watches it for a bounded time.
package executor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HerbHall/rebootguard/internal/metrics"
)

// ErrSpawn is wrapped by the Attempt error when the action could not start.
var ErrSpawn = errors.New("spawn privileged action")

// pollResult is one liveness observation.
type pollResult struct {
	exited   bool
	status   int
	signaled bool
	unknown  bool
}

// process is a started child the executor can poll without blocking.
type process interface {
	Pid() int
	Poll() (pollResult, error)
}

type startFunc func(name string, args []string) (process, io.ReadCloser, error)

// Executor runs the privileged action. It is safe for concurrent use;
// each run owns its own Attempt.
type Executor struct {
	cfg      Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
	observer func(Attempt)

	start    startFunc
	stat     func(string) (os.FileInfo, error)
	lookPath func(string) (string, error)
	readlink func(string) (string, error)
	now      func() time.Time
}

// Option customizes an Executor.
type Option func(*Executor)

// WithMetrics records run outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithObserver registers fn to receive a copy of every finished Attempt.
func WithObserver(fn func(Attempt)) Option {
	return func(e *Executor) { e.observer = fn }
}

// New creates an Executor.
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Executor{
		cfg:      cfg,
		logger:   logger.Named("executor"),
		start:    startDetached,
		stat:     os.Stat,
		lookPath: exec.LookPath,
		readlink: os.Readlink,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the executor configuration.
func (e *Executor) Config() Config { return e.cfg }

// Execute starts a run on its own goroutine and returns immediately.
func (e *Executor) Execute(tag string) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("executor panicked", zap.String("tag", tag), zap.Any("panic", r), zap.Stack("stack"))
			}
		}()
		e.Run(context.Background(), tag)
	}()
}

// Run performs one run synchronously: grace wait, environment
// resolution, detached spawn, output drain and bounded liveness polling.
func (e *Executor) Run(ctx context.Context, tag string) *Attempt {
	attempt := &Attempt{
		ID:          uuid.NewString(),
		Tag:         tag,
		StartedAt:   e.now(),
		GracePeriod: e.cfg.GracePeriod,
		State:       StatePending,
	}
	log := e.logger.With(zap.String("attempt", attempt.ID), zap.String("tag", tag))
	defer e.finish(log, attempt)

	log.Info("executor scheduled", zap.Duration("grace_period", e.cfg.GracePeriod))
	if !sleepCtx(ctx, e.cfg.GracePeriod) {
		attempt.State = StateCancelled
		attempt.Err = ctx.Err()
		return attempt
	}

	p := e.resolve(tag)
	attempt.Command = p.argv()
	log.Info("action resolved",
		zap.Strings("command", attempt.Command),
		zap.Bool("elevated_shell", p.viaSU),
		zap.String("reason", p.reason),
	)

	proc, out, err := e.start(p.name, p.args)
	if err != nil {
		attempt.State = StateSpawnFailed
		attempt.Err = fmt.Errorf("%w: %s: %w", ErrSpawn, p.name, err)
		diag := e.diagnose(p)
		fields := []zap.Field{zap.Strings("command", attempt.Command), zap.Error(err)}
		for k, v := range diag {
			fields = append(fields, zap.String(k, v))
		}
		log.Error("PRIVILEGED ACTION DID NOT START; reboot was suppressed and nothing replaced it", fields...)
		return attempt
	}
	attempt.Pid = proc.Pid()
	log.Info("action spawned", zap.Int("pid", attempt.Pid))

	drained := make(chan int, 1)
	go drain(out, log, drained)

	e.poll(ctx, log, proc, attempt)

	if attempt.State != StateAssumedTakeover && attempt.State != StateCancelled {
		// The child is gone; give the drain one interval to reach EOF.
		// A grandchild holding the pipe open must not stall the run.
		select {
		case n := <-drained:
			attempt.OutputLines = n
		case <-time.After(e.cfg.PollInterval):
			log.Debug("output still open after exit, leaving drain running")
		}
	}
	return attempt
}

func (e *Executor) poll(ctx context.Context, log *zap.Logger, proc process, attempt *Attempt) {
	for i := 0; i < e.cfg.MaxPolls; i++ {
		if !sleepCtx(ctx, e.cfg.PollInterval) {
			// The child keeps running; only the watch stops.
			attempt.State = StateCancelled
			attempt.Err = ctx.Err()
			log.Warn("stopped watching privileged action", zap.Int("pid", attempt.Pid), zap.Error(ctx.Err()))
			return
		}
		attempt.PollTimes = append(attempt.PollTimes, e.now())

		res, err := proc.Poll()
		if err != nil {
			attempt.State = StateUnreachable
			attempt.Err = err
			log.Error("lost track of privileged action", zap.Int("pid", attempt.Pid), zap.Error(err))
			return
		}
		if !res.exited {
			log.Debug("action still running", zap.Int("poll", i+1), zap.Int("max_polls", e.cfg.MaxPolls))
			continue
		}

		if res.unknown {
			attempt.State = StateUnreachable
			log.Warn("privileged action exited with unknown status", zap.Int("pid", attempt.Pid))
			return
		}
		status := res.status
		attempt.ExitStatus = &status
		attempt.Signaled = res.signaled
		if status == 0 {
			attempt.State = StateExited
			log.Info("privileged action exited", zap.Int("exit_status", status))
		} else {
			attempt.State = StateFailed
			attempt.Err = fmt.Errorf("privileged action exited with status %d", status)
			log.Error("privileged action failed",
				zap.Int("exit_status", status),
				zap.Bool("signaled", res.signaled),
			)
		}
		return
	}

	attempt.State = StateAssumedTakeover
	attempt.TimedOut = true
	log.Info("action still running after poll window, assuming it took over",
		zap.Int("pid", attempt.Pid),
		zap.Int("polls", len(attempt.PollTimes)),
	)
}

func (e *Executor) finish(log *zap.Logger, attempt *Attempt) {
	e.metrics.ExecutorFinished(string(attempt.State), len(attempt.PollTimes))
	log.Debug("executor finished", zap.String("state", string(attempt.State)))
	if e.observer != nil {
		e.observer(attempt.clone())
	}
}

// drain logs every output line until EOF and reports the line count.
func drain(r io.ReadCloser, log *zap.Logger, done chan<- int) {
	defer r.Close()
	n := 0
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		n++
		log.Info("action output", zap.String("line", sc.Text()))
	}
	if err := sc.Err(); err != nil {
		log.Warn("action output read failed", zap.Error(err))
	}
	done <- n
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
