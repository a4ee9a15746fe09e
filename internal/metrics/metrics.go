// Package metrics holds the Prometheus collectors for guard installation,
// classification and executor runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	GuardsInstalled    *prometheus.CounterVec
	ActiveGuards       prometheus.Gauge
	AttachmentFailures *prometheus.CounterVec
	ExtractionFailures *prometheus.CounterVec
	Classifications    *prometheus.CounterVec
	Suppressions       *prometheus.CounterVec
	ExecutorRuns       *prometheus.CounterVec
	ExecutorPolls      prometheus.Histogram
}

// New registers the collectors with reg. A nil reg uses a private
// registry that is never exposed.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		GuardsInstalled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rebootguard_guards_installed_total",
			Help: "Guards successfully bound, by chain and location.",
		}, []string{"chain", "location"}),

		ActiveGuards: f.NewGauge(prometheus.GaugeOpts{
			Name: "rebootguard_active_guards",
			Help: "Number of chains with an installed guard.",
		}),

		AttachmentFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rebootguard_attachment_failures_total",
			Help: "Candidate attachment points that could not be bound.",
		}, []string{"chain", "reason"}), // reasons: version, absent, signature, other

		ExtractionFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rebootguard_extraction_failures_total",
			Help: "Guard invocations whose arguments could not be extracted.",
		}, []string{"chain"}),

		Classifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rebootguard_classifications_total",
			Help: "Classified reboot requests by outcome.",
		}, []string{"chain", "outcome"}),

		Suppressions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rebootguard_suppressions_total",
			Help: "Original reboot actions replaced with a no-op.",
		}, []string{"chain"}),

		ExecutorRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rebootguard_executor_runs_total",
			Help: "Executor runs by terminal state.",
		}, []string{"state"}),

		ExecutorPolls: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "rebootguard_executor_polls",
			Help:    "Liveness polls used per executor run.",
			Buckets: prometheus.LinearBuckets(1, 2, 8),
		}),
	}
}

// GuardInstalled records a successful bind.
func (m *Metrics) GuardInstalled(chain, location string) {
	if m == nil {
		return
	}
	m.GuardsInstalled.WithLabelValues(chain, location).Inc()
	m.ActiveGuards.Inc()
}

// AttachmentFailed records a failed candidate.
func (m *Metrics) AttachmentFailed(chain, reason string) {
	if m == nil {
		return
	}
	m.AttachmentFailures.WithLabelValues(chain, reason).Inc()
}

// ExtractionFailed records a guard invocation whose extractor panicked.
func (m *Metrics) ExtractionFailed(chain string) {
	if m == nil {
		return
	}
	m.ExtractionFailures.WithLabelValues(chain).Inc()
}

// Classified records a classification outcome.
func (m *Metrics) Classified(chain, outcome string) {
	if m == nil {
		return
	}
	m.Classifications.WithLabelValues(chain, outcome).Inc()
}

// Suppressed records a suppressed original action.
func (m *Metrics) Suppressed(chain string) {
	if m == nil {
		return
	}
	m.Suppressions.WithLabelValues(chain).Inc()
}

// ExecutorFinished records the end of an executor run.
func (m *Metrics) ExecutorFinished(state string, polls int) {
	if m == nil {
		return
	}
	m.ExecutorRuns.WithLabelValues(state).Inc()
	m.ExecutorPolls.Observe(float64(polls))
}
