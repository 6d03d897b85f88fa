// Package metrics defines the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects the engine's counters and histograms. Label "flow" is
// one of split, cash, withdrawal.
type Metrics struct {
	Transfers        *prometheus.CounterVec
	UnitFailures     *prometheus.CounterVec
	RateLimitRetries prometheus.Counter
	CycleDuration    *prometheus.HistogramVec
}

// New registers the engine metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "settlement",
			Name:      "transfers_total",
			Help:      "Transfer intents executed, by flow and outcome.",
		}, []string{"flow", "outcome"}),
		UnitFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "settlement",
			Name:      "unit_failures_total",
			Help:      "Units of work that failed, by flow.",
		}, []string{"flow"}),
		RateLimitRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "settlement",
			Name:      "ledger_rate_limit_retries_total",
			Help:      "Ledger calls retried after a 429 response.",
		}),
		CycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "settlement",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one settlement cycle, by flow.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"flow"}),
	}
	reg.MustRegister(m.Transfers, m.UnitFailures, m.RateLimitRetries, m.CycleDuration)
	return m
}
