package attach

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds candidate attachment points grouped by chain.
type Registry struct {
	mu     sync.RWMutex
	chains map[string][]Point
	order  []string
}

// NewRegistry creates a registry holding the given points.
func NewRegistry(points ...Point) (*Registry, error) {
	r := &Registry{chains: make(map[string][]Point)}
	for _, p := range points {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a point to its chain.
func (r *Registry) Register(p Point) error {
	if err := p.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.chains[p.Chain] {
		if existing.Location == p.Location && existing.Signature.Equal(p.Signature) {
			return fmt.Errorf("%w: %s registered twice", ErrInvalidPoint, p)
		}
	}
	if _, ok := r.chains[p.Chain]; !ok {
		r.order = append(r.order, p.Chain)
	}
	pts := append(r.chains[p.Chain], p)
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].Priority < pts[j].Priority })
	r.chains[p.Chain] = pts
	return nil
}

// Chains returns chain names in first-registration order.
func (r *Registry) Chains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Points returns the points of one chain, earliest first.
func (r *Registry) Points(chain string) []Point {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pts := r.chains[chain]
	out := make([]Point, len(pts))
	copy(out, pts)
	return out
}

// All returns every point, chain by chain, earliest first within a chain.
func (r *Registry) All() []Point {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Point
	for _, chain := range r.order {
		out = append(out, r.chains[chain]...)
	}
	return out
}

// Len returns the total number of registered points.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, pts := range r.chains {
		n += len(pts)
	}
	return n
}
