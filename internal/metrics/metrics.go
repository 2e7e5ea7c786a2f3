// Package metrics exposes Prometheus collectors for the generation
// lifecycle. Label values are drawn from closed sets (catalog model names,
// fixed outcomes and actions) to keep cardinality bounded.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeSuccess  = "success"
	OutcomeFailed   = "failed"
	OutcomeQuota    = "quota_exceeded"
	OutcomeRejected = "rejected"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	generations     *prometheus.CounterVec
	generationTime  *prometheus.HistogramVec
	quotaRejections *prometheus.CounterVec
	followUps       *prometheus.CounterVec
	activeSessions  prometheus.Gauge
}

// New builds the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		generations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imagebot_generations_total",
				Help: "Generation attempts by source (imagine, follow_up) and outcome.",
			},
			[]string{"source", "outcome"},
		),
		generationTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "imagebot_generation_seconds",
				Help:    "Wall-clock time of successful inference calls.",
				Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120},
			},
			[]string{"model"},
		),
		quotaRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imagebot_quota_rejections_total",
				Help: "Requests refused because the daily ceiling was reached.",
			},
			[]string{"tier"},
		),
		followUps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imagebot_followups_total",
				Help: "Interactive follow-up actions by action and outcome.",
			},
			[]string{"action", "outcome"},
		),
		activeSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "imagebot_sessions_active",
				Help: "Interactive result sessions currently accepting follow-ups.",
			},
		),
	}
	reg.MustRegister(m.generations, m.generationTime, m.quotaRejections, m.followUps, m.activeSessions)
	return m
}

func (m *Metrics) Generation(source, outcome string) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) GenerationTime(model string, seconds float64) {
	if m == nil {
		return
	}
	m.generationTime.WithLabelValues(model).Observe(seconds)
}

func (m *Metrics) QuotaRejected(premium bool) {
	if m == nil {
		return
	}
	tier := "free"
	if premium {
		tier = "premium"
	}
	m.quotaRejections.WithLabelValues(tier).Inc()
}

func (m *Metrics) FollowUp(action, outcome string) {
	if m == nil {
		return
	}
	m.followUps.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}
