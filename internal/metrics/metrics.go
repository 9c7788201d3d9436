// Package metrics holds the Prometheus collectors for the trigger engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "trigger_engine"

// Metrics groups every collector the service exports.
type Metrics struct {
	KeyEvents         *prometheus.CounterVec
	ProviderFailovers *prometheus.CounterVec
	ProviderCalls     *prometheus.CounterVec
	Jobs              *prometheus.CounterVec
	JobDuration       prometheus.Histogram
	ActiveJobs        prometheus.Gauge
}

// New registers the collectors on reg. Tests pass a fresh prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		KeyEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_events_total",
			Help:      "API key cooldowns and disables by pool and reason.",
		}, []string{"pool", "event"}),
		ProviderFailovers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_failovers_total",
			Help:      "Providers skipped or cooled down by the failover engine.",
		}, []string{"engine", "provider", "reason"}),
		ProviderCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Provider calls by engine, provider and outcome.",
		}, []string{"engine", "provider", "outcome"}),
		Jobs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Background job runs by outcome.",
		}, []string{"outcome"}),
		JobDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of background job runs.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		ActiveJobs: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_jobs",
			Help:      "Background job runs in flight.",
		}),
	}
}

// Nop returns collectors bound to a private registry.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}
