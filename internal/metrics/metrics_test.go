package metrics

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterValue finds a counter by name and label values (in label-name order).
func counterValue(t *testing.T, m *Metrics, name string, values ...string) float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if labelValuesMatch(metric.GetLabel(), values) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelValuesMatch(labels []*dto.LabelPair, values []string) bool {
	if len(labels) != len(values) {
		return false
	}
	for i, l := range labels {
		if l.GetValue() != values[i] {
			return false
		}
	}
	return true
}

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ObserveExtraction("success", 150*time.Millisecond)
	m.ObserveExtraction("success", 20*time.Millisecond)
	m.ObserveExtraction("validation_failed", time.Millisecond)
	m.IncAttempt()
	m.IncRetry("extract")
	m.CacheLookup("risk", true)
	m.CacheLookup("risk", false)
	m.IncAuditFailure("redis")

	assert.Equal(t, 2.0, counterValue(t, m, "claimsagent_extractions_total", "success"))
	assert.Equal(t, 1.0, counterValue(t, m, "claimsagent_extractions_total", "validation_failed"))
	assert.Equal(t, 1.0, counterValue(t, m, "claimsagent_extraction_attempts_total"))
	assert.Equal(t, 1.0, counterValue(t, m, "claimsagent_retries_total", "extract"))
	assert.Equal(t, 1.0, counterValue(t, m, "claimsagent_cache_lookups_total", "risk", "hit"))
	assert.Equal(t, 1.0, counterValue(t, m, "claimsagent_cache_lookups_total", "risk", "miss"))
	assert.Equal(t, 1.0, counterValue(t, m, "claimsagent_audit_emit_failures_total", "redis"))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveExtraction("success", time.Second)
		m.IncAttempt()
		m.IncRetry("extract")
		m.ObserveInference("risk", "heuristic", "success", time.Second)
		m.CacheLookup("risk", true)
		m.IncAuditFailure("log")
	})
}
