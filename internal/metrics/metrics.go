// Package metrics exposes Prometheus collectors for the agent.
// All methods are safe on a nil *Metrics so components can run unmetered.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the agent's collectors.
type Metrics struct {
	Registry *prometheus.Registry

	extractions        *prometheus.CounterVec
	extractionAttempts prometheus.Counter
	extractionLatency  prometheus.Histogram
	retries            *prometheus.CounterVec
	inference          *prometheus.CounterVec
	inferenceLatency   *prometheus.HistogramVec
	cacheLookups       *prometheus.CounterVec
	auditFailures      *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		// extractions counts terminal extraction outcomes by error kind
		extractions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "claimsagent_extractions_total",
				Help: "Total number of claim extractions by result",
			},
			[]string{"result"},
		),

		extractionAttempts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "claimsagent_extraction_attempts_total",
				Help: "Total number of fetch attempts against the claims system",
			},
		),

		extractionLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "claimsagent_extraction_duration_seconds",
				Help:    "End-to-end claim extraction latency in seconds, retries included",
				Buckets: prometheus.DefBuckets,
			},
		),

		retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "claimsagent_retries_total",
				Help: "Total number of retries after transient failures",
			},
			[]string{"operation"},
		),

		inference: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "claimsagent_inference_requests_total",
				Help: "Total number of inference requests by operation and result",
			},
			[]string{"operation", "result"},
		),

		inferenceLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "claimsagent_inference_latency_seconds",
				Help:    "Model backend latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "backend"},
		),

		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "claimsagent_cache_lookups_total",
				Help: "Inference cache lookups by outcome",
			},
			[]string{"operation", "outcome"},
		),

		auditFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "claimsagent_audit_emit_failures_total",
				Help: "Audit events that could not be delivered to a sink",
			},
			[]string{"sink"},
		),
	}
}

// ObserveExtraction records a terminal extraction outcome.
func (m *Metrics) ObserveExtraction(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.extractions.WithLabelValues(result).Inc()
	m.extractionLatency.Observe(elapsed.Seconds())
}

// IncAttempt counts one fetch attempt.
func (m *Metrics) IncAttempt() {
	if m == nil {
		return
	}
	m.extractionAttempts.Inc()
}

// IncRetry counts one retry of operation.
func (m *Metrics) IncRetry(operation string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(operation).Inc()
}

// ObserveInference records a model call.
func (m *Metrics) ObserveInference(operation, backend, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.inference.WithLabelValues(operation, result).Inc()
	if backend != "" {
		m.inferenceLatency.WithLabelValues(operation, backend).Observe(elapsed.Seconds())
	}
}

// CacheLookup records a cache hit or miss.
func (m *Metrics) CacheLookup(operation string, hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.cacheLookups.WithLabelValues(operation, outcome).Inc()
}

// IncAuditFailure counts an undeliverable audit event.
func (m *Metrics) IncAuditFailure(sink string) {
	if m == nil {
		return
	}
	m.auditFailures.WithLabelValues(sink).Inc()
}
