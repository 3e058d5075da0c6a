// Package metrics provides the Prometheus collectors for the conversion engine.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// ConversionBuckets covers cache hits in microseconds up to slow multi-provider
// fallbacks of two minutes.
var ConversionBuckets = []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// ConversionsTotal counts finished conversions by outcome
	// (success, cache_hit, or an error kind).
	ConversionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polyglot_conversions_total",
			Help: "Conversions by outcome",
		},
		[]string{"outcome"},
	)

	// ConversionDuration records end-to-end conversion time in seconds.
	ConversionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "polyglot_conversion_duration_seconds",
			Help:    "Conversion duration",
			Buckets: ConversionBuckets,
		},
		[]string{"outcome"},
	)

	// ProviderAttemptsTotal counts per-candidate attempts by outcome.
	ProviderAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polyglot_provider_attempts_total",
			Help: "Provider attempts",
		},
		[]string{"provider", "outcome"},
	)

	// ProviderLatency records provider invocation latency in seconds.
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "polyglot_provider_latency_seconds",
			Help:    "Provider latency",
			Buckets: ConversionBuckets,
		},
		[]string{"provider"},
	)

	// CircuitOpen is 1 while a provider's circuit breaker is open.
	CircuitOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "polyglot_circuit_open",
			Help: "Circuit breaker state",
		},
		[]string{"provider"},
	)

	// CacheLookupsTotal counts result cache lookups by result (hit, miss, corrupt).
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polyglot_cache_lookups_total",
			Help: "Cache lookups",
		},
		[]string{"result"},
	)

	// CacheEntries tracks the number of in-memory cache entries.
	CacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "polyglot_cache_entries",
			Help: "Cached results",
		},
	)

	// BatchItemsTotal counts batch items by status (succeeded, failed, timeout).
	BatchItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polyglot_batch_items_total",
			Help: "Batch items",
		},
		[]string{"status"},
	)

	// BatchDuration records whole-batch wall time in seconds.
	BatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "polyglot_batch_duration_seconds",
			Help:    "Batch duration",
			Buckets: ConversionBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		ConversionsTotal,
		ConversionDuration,
		ProviderAttemptsTotal,
		ProviderLatency,
		CircuitOpen,
		CacheLookupsTotal,
		CacheEntries,
		BatchItemsTotal,
		BatchDuration,
	)
}

// SetCircuit records the breaker state of a provider.
func SetCircuit(provider string, open bool) {
	v := 0.0
	if open {
		v = 1
	}
	CircuitOpen.WithLabelValues(provider).Set(v)
}
