package host

import (
	"fmt"
	"sync"

	"github.com/HerbHall/rebootguard/internal/attach"
)

// Original is the action behind a simulated entry point.
type Original func(args []any) error

type entry struct {
	sig      attach.Signature
	original Original
	guards   []Guard
	calls    int
	skipped  int
}

// Sim is an in-process host with named entry points.
type Sim struct {
	mu      sync.Mutex
	version string
	entries map[string]*entry
}

// NewSim creates an empty simulated host reporting version.
func NewSim(version string) *Sim {
	return &Sim{
		version: version,
		entries: make(map[string]*entry),
	}
}

// Version implements Surface.
func (s *Sim) Version() string { return s.version }

// Expose registers an entry point. Exposing a location twice replaces it.
func (s *Sim) Expose(location string, sig attach.Signature, original Original) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[location] = &entry{sig: sig, original: original}
}

// Bind implements Surface.
func (s *Sim) Bind(location string, sig attach.Signature, g Guard) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[location]
	if !ok {
		return fmt.Errorf("bind %s: %w", location, ErrLocationAbsent)
	}
	if !e.sig.Equal(sig) {
		return fmt.Errorf("bind %s%s: host exposes %s: %w", location, sig, e.sig, ErrSignatureMismatch)
	}
	e.guards = append(e.guards, g)
	return nil
}

// Invoke calls an entry point the way the host would: guards first, then
// the original action unless a guard suppressed it. A suppressed call
// returns nil, as the caller of a no-op would observe.
func (s *Sim) Invoke(location string, args ...any) (Verdict, error) {
	s.mu.Lock()
	e, ok := s.entries[location]
	if !ok {
		s.mu.Unlock()
		return Proceed, fmt.Errorf("invoke %s: %w", location, ErrLocationAbsent)
	}
	if len(args) != len(e.sig) {
		s.mu.Unlock()
		return Proceed, fmt.Errorf("invoke %s: got %d args, want %d: %w", location, len(args), len(e.sig), ErrSignatureMismatch)
	}
	guards := make([]Guard, len(e.guards))
	copy(guards, e.guards)
	s.mu.Unlock()

	for _, g := range guards {
		if g(args) == Suppress {
			s.mu.Lock()
			e.skipped++
			s.mu.Unlock()
			return Suppress, nil
		}
	}

	s.mu.Lock()
	e.calls++
	original := e.original
	s.mu.Unlock()

	if original == nil {
		return Proceed, nil
	}
	return Proceed, original(args)
}

// Calls returns how many times the original action at location ran.
func (s *Sim) Calls(location string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[location]; ok {
		return e.calls
	}
	return 0
}

// Suppressed returns how many calls at location a guard suppressed.
func (s *Sim) Suppressed(location string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[location]; ok {
		return e.skipped
	}
	return 0
}

// Guards returns how many guards are bound at location.
func (s *Sim) Guards(location string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[location]; ok {
		return len(e.guards)
	}
	return 0
}
