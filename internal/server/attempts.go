package server

import (
	"sync"

	"github.com/HerbHall/rebootguard/internal/executor"
)

// AttemptLog keeps the most recent executor attempts in memory.
type AttemptLog struct {
	mu    sync.Mutex
	max   int
	items []executor.Attempt
}

// NewAttemptLog creates a log holding at most capacity attempts.
func NewAttemptLog(capacity int) *AttemptLog {
	if capacity <= 0 {
		capacity = 32
	}
	return &AttemptLog{max: capacity}
}

// Record appends an attempt, dropping the oldest past capacity. It has
// the shape of an executor observer.
func (l *AttemptLog) Record(a executor.Attempt) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, a)
	if len(l.items) > l.max {
		l.items = l.items[len(l.items)-l.max:]
	}
}

// List returns the recorded attempts, oldest first.
func (l *AttemptLog) List() []executor.Attempt {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]executor.Attempt, len(l.items))
	copy(out, l.items)
	return out
}

// Get returns the attempt with the given ID.
func (l *AttemptLog) Get(id string) (executor.Attempt, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, a := range l.items {
		if a.ID == id {
			return a, true
		}
	}
	return executor.Attempt{}, false
}
