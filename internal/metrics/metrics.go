package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plan_cache_hits_total",
			Help: "Plan requests served from the fingerprint cache",
		},
		[]string{"tenant"},
	)

	GenerationCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plan_generation_calls_total",
			Help: "Calls issued to the generation provider",
		},
		[]string{"tenant"},
	)

	GenerationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plan_generation_failures_total",
			Help: "Provider or persistence failures during generation",
		},
		[]string{"tenant"},
	)

	GenerationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plan_generation_duration_seconds",
			Help:    "Wall time of provider calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tenant"},
	)

	PaymentDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_decisions_total",
			Help: "Entitlement decisions by outcome",
		},
		[]string{"tenant", "outcome"},
	)
)

// Init registers the collectors. Call once at startup.
func Init() {
	prometheus.MustRegister(
		CacheHits,
		GenerationCalls,
		GenerationFailures,
		GenerationDuration,
		PaymentDecisions,
	)
}
