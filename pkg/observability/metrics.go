package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the prometheus collectors of the action core.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	interactions        *prometheus.CounterVec
	interactionDuration *prometheus.HistogramVec
	commits             *prometheus.CounterVec
	pendingCommits      prometheus.Gauge
	outputs             *prometheus.CounterVec
	transfers           *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		interactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tendril",
				Subsystem: "executor",
				Name:      "interactions_total",
				Help:      "Finished interactions by kind and terminal status.",
			},
			[]string{"kind", "status"},
		),
		interactionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tendril",
				Subsystem: "executor",
				Name:      "interaction_duration_seconds",
				Help:      "Duration of interaction actions.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		commits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tendril",
				Subsystem: "scheduler",
				Name:      "commits_total",
				Help:      "Deferred commits by outcome.",
			},
			[]string{"outcome"},
		),
		pendingCommits: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "tendril",
				Subsystem: "scheduler",
				Name:      "pending_commits",
				Help:      "Deferred commits waiting for their undo window to close.",
			},
		),
		outputs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tendril",
				Subsystem: "outputs",
				Name:      "registered_total",
				Help:      "Artifacts registered by producing feature and type.",
			},
			[]string{"feature", "type"},
		),
		transfers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tendril",
				Subsystem: "transfer",
				Name:      "deliveries_total",
				Help:      "Transfer deliveries by target feature and outcome.",
			},
			[]string{"target", "outcome"},
		),
	}

	for _, c := range []prometheus.Collector{
		m.interactions, m.interactionDuration, m.commits, m.pendingCommits, m.outputs, m.transfers,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordInteraction counts a finished interaction.
func (m *Metrics) RecordInteraction(kind, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.interactions.WithLabelValues(kind, status).Inc()
	m.interactionDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordCommit counts a deferred commit outcome.
func (m *Metrics) RecordCommit(outcome string) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(outcome).Inc()
}

// SetPendingCommits reports the size of the deferred commit registry.
func (m *Metrics) SetPendingCommits(n int) {
	if m == nil {
		return
	}
	m.pendingCommits.Set(float64(n))
}

// RecordOutput counts a registered artifact.
func (m *Metrics) RecordOutput(feature, outputType string) {
	if m == nil {
		return
	}
	m.outputs.WithLabelValues(feature, outputType).Inc()
}

// RecordTransfer counts a delivery attempt.
func (m *Metrics) RecordTransfer(target, outcome string) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(target, outcome).Inc()
}
