package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments exposed on /metrics.
type Metrics struct {
	VerifyTotal *prometheus.CounterVec

	VerifyLatency prometheus.Histogram

	CapabilitiesIssuedTotal prometheus.Counter

	AuditIntegrityTotal *prometheus.CounterVec
}

// NewMetrics registers all instruments on reg. A nil reg gets a local
// registry that is never scraped, which keeps tests isolated.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		VerifyTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "kya_verify_total",
			Help: "Total number of verify decisions.",
		}, []string{"decision", "reason_code"}),

		VerifyLatency: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name: "kya_verify_latency_seconds",
			Help: "Latency of verify requests in seconds.",
		}),

		CapabilitiesIssuedTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "kya_capabilities_issued_total",
			Help: "Total number of capabilities issued.",
		}),

		AuditIntegrityTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "kya_audit_integrity_total",
			Help: "Total number of audit integrity checks by verdict.",
		}, []string{"status"}),
	}
}

// ObserveVerify records one verify decision. Allowed decisions carry
// the reason label "NONE" so the label set stays bounded.
func (m *Metrics) ObserveVerify(decision, reasonCode string, latencySeconds float64) {
	if reasonCode == "" {
		reasonCode = "NONE"
	}
	m.VerifyTotal.WithLabelValues(decision, reasonCode).Inc()
	m.VerifyLatency.Observe(latencySeconds)
}
