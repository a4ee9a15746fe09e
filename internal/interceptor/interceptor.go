// Package interceptor installs reboot guards on the host and wires each
// guard to the classifier and the executor.
package interceptor

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/HerbHall/rebootguard/internal/attach"
	"github.com/HerbHall/rebootguard/internal/classify"
	"github.com/HerbHall/rebootguard/internal/host"
	"github.com/HerbHall/rebootguard/internal/metrics"
)

// ErrHostVersion marks a point skipped because of its host version bounds.
var ErrHostVersion = errors.New("host version outside point bounds")

// Launcher starts the replacement action without blocking the caller.
type Launcher interface {
	Execute(tag string)
}

// AttachmentFailure records one candidate that could not be bound.
type AttachmentFailure struct {
	Point attach.Point
	Err   error
}

// Reason classifies the failure for metrics and logs.
func (f AttachmentFailure) Reason() string {
	switch {
	case errors.Is(f.Err, ErrHostVersion):
		return "version"
	case errors.Is(f.Err, host.ErrLocationAbsent):
		return "absent"
	case errors.Is(f.Err, host.ErrSignatureMismatch):
		return "signature"
	default:
		return "other"
	}
}

// InstallResult reports what InstallGuards bound.
type InstallResult struct {
	// Installed maps chain name to the point bound for it.
	Installed map[string]attach.Point
	Failures  []AttachmentFailure
	// Skipped lists chains that already had a guard before this call.
	Skipped []string
}

// Active reports whether any guard is installed.
func (r InstallResult) Active() bool { return len(r.Installed) > 0 }

// Interceptor owns the guards installed in this process.
type Interceptor struct {
	host       host.Surface
	classifier classify.Classifier
	launcher   Launcher
	logger     *zap.Logger
	metrics    *metrics.Metrics

	mu        sync.Mutex
	installed map[string]attach.Point
}

// New creates an Interceptor. m may be nil.
func New(h host.Surface, c classify.Classifier, l Launcher, logger *zap.Logger, m *metrics.Metrics) *Interceptor {
	return &Interceptor{
		host:       h,
		classifier: c,
		launcher:   l,
		logger:     logger.Named("interceptor"),
		metrics:    m,
		installed:  make(map[string]attach.Point),
	}
}

// InstallGuards walks points chain by chain in priority order and binds
// the first point of each chain that the host accepts. Later points of a
// chain are never attempted once one succeeds, and a chain installed by
// an earlier call is left alone.
func (i *Interceptor) InstallGuards(points []attach.Point) InstallResult {
	reg, err := attach.NewRegistry(points...)
	if err != nil {
		i.logger.Error("attachment table rejected, no guards installed", zap.Error(err))
		return InstallResult{Installed: map[string]attach.Point{}}
	}
	return i.InstallRegistry(reg)
}

// InstallRegistry is InstallGuards for an already built registry.
func (i *Interceptor) InstallRegistry(reg *attach.Registry) InstallResult {
	i.mu.Lock()
	defer i.mu.Unlock()

	result := InstallResult{Installed: make(map[string]attach.Point)}
	hostVersion := i.host.Version()

	for _, chain := range reg.Chains() {
		if p, ok := i.installed[chain]; ok {
			i.logger.Warn("chain already guarded, not binding again",
				zap.String("chain", chain), zap.String("location", p.Location))
			result.Skipped = append(result.Skipped, chain)
			continue
		}

		for _, p := range reg.Points(chain) {
			if err := i.bind(p, hostVersion); err != nil {
				f := AttachmentFailure{Point: p, Err: err}
				result.Failures = append(result.Failures, f)
				i.metrics.AttachmentFailed(chain, f.Reason())
				i.logger.Info("attachment point unavailable, trying next",
					zap.String("chain", chain),
					zap.String("location", p.Location),
					zap.Stringer("signature", p.Signature),
					zap.String("reason", f.Reason()),
					zap.Error(err),
				)
				continue
			}

			i.installed[chain] = p
			result.Installed[chain] = p
			i.metrics.GuardInstalled(chain, p.Location)
			i.logger.Info("guard installed",
				zap.String("chain", chain),
				zap.String("location", p.Location),
				zap.Stringer("signature", p.Signature),
				zap.Int("priority", p.Priority),
			)
			break
		}

		if _, ok := result.Installed[chain]; !ok {
			i.logger.Warn("no attachment point matched, chain left unguarded", zap.String("chain", chain))
		}
	}

	if !result.Active() && len(i.installed) == 0 {
		i.logger.Error("no guard installed on any chain, reboots will proceed normally",
			zap.String("host_version", hostVersion),
			zap.Int("failures", len(result.Failures)),
		)
	}
	return result
}

// Installed returns the chains guarded so far in this process.
func (i *Interceptor) Installed() map[string]attach.Point {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make(map[string]attach.Point, len(i.installed))
	for k, v := range i.installed {
		out[k] = v
	}
	return out
}

func (i *Interceptor) bind(p attach.Point, hostVersion string) error {
	if !p.Supports(hostVersion) {
		return fmt.Errorf("%w: host %s, point [%s, %s]", ErrHostVersion, hostVersion, p.MinHostVersion, p.MaxHostVersion)
	}
	return i.host.Bind(p.Location, p.Signature, i.guard(p))
}
