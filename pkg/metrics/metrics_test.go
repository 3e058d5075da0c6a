package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestMetricsRegistered verifies that every collector is visible in the
// default registry once it has been observed.
func TestMetricsRegistered(t *testing.T) {
	ConversionsTotal.WithLabelValues("success").Inc()
	ConversionDuration.WithLabelValues("success").Observe(0.2)
	ProviderAttemptsTotal.WithLabelValues("test", "success").Inc()
	ProviderLatency.WithLabelValues("test").Observe(0.2)
	SetCircuit("test", false)
	CacheLookupsTotal.WithLabelValues("hit").Inc()
	CacheEntries.Set(1)
	BatchItemsTotal.WithLabelValues("succeeded").Inc()
	BatchDuration.Observe(1)

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("unexpected gather error: %v", err)
	}

	expected := map[string]bool{
		"polyglot_conversions_total":           false,
		"polyglot_conversion_duration_seconds": false,
		"polyglot_provider_attempts_total":     false,
		"polyglot_provider_latency_seconds":    false,
		"polyglot_circuit_open":                false,
		"polyglot_cache_lookups_total":         false,
		"polyglot_cache_entries":               false,
		"polyglot_batch_items_total":           false,
		"polyglot_batch_duration_seconds":      false,
	}
	for _, mf := range families {
		if _, ok := expected[mf.GetName()]; ok {
			expected[mf.GetName()] = true
		}
	}
	for name, found := range expected {
		if !found {
			t.Errorf("metric %s not registered", name)
		}
	}
}

func TestSetCircuit(t *testing.T) {
	SetCircuit("flaky", true)
	if got := testutil.ToFloat64(CircuitOpen.WithLabelValues("flaky")); got != 1 {
		t.Errorf("expected 1, got %v", got)
	}
	SetCircuit("flaky", false)
	if got := testutil.ToFloat64(CircuitOpen.WithLabelValues("flaky")); got != 0 {
		t.Errorf("expected 0, got %v", got)
	}
}
