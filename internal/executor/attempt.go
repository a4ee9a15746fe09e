package executor

import "time"

// State is the terminal state of one executor run.
type State string

const (
	StatePending         State = "pending"
	StateCancelled       State = "cancelled"
	StateSpawnFailed     State = "spawn_failed"
	StateExited          State = "exited"
	StateFailed          State = "failed"
	StateUnreachable     State = "unreachable"
	StateAssumedTakeover State = "assumed_takeover"
)

// Attempt records one executor run. It is owned by the goroutine running
// it; observers receive a copy when the run ends.
type Attempt struct {
	ID          string
	Tag         string
	Command     []string
	Pid         int
	StartedAt   time.Time
	GracePeriod time.Duration
	PollTimes   []time.Time
	ExitStatus  *int
	Signaled    bool
	TimedOut    bool
	OutputLines int
	State       State
	Err         error
}

// Failed reports whether the run ended in a failure condition. An assumed
// takeover is not a failure.
func (a *Attempt) Failed() bool {
	switch a.State {
	case StateSpawnFailed, StateFailed, StateUnreachable:
		return true
	}
	return false
}

func (a *Attempt) clone() Attempt {
	c := *a
	c.Command = append([]string(nil), a.Command...)
	c.PollTimes = append([]time.Time(nil), a.PollTimes...)
	if a.ExitStatus != nil {
		s := *a.ExitStatus
		c.ExitStatus = &s
	}
	return c
}
