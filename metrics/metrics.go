// Package metrics provides Prometheus metrics for the memory store.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter exports memvault metrics in Prometheus format.
type Exporter struct {
	registry *prometheus.Registry

	// Request metrics
	requestsTotal  *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec

	// Retrieval pipeline metrics
	stageLatency       *prometheus.HistogramVec
	rerankSkipped      prometheus.Counter
	decryptFailures    prometheus.Counter
	candidatesReturned prometheus.Histogram

	// Rate limit metrics
	rateLimited prometheus.Counter
}

// Config configures the exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default metrics configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}
}

// NewExporter creates a new Prometheus metrics exporter.
func NewExporter(cfg Config) *Exporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &Exporter{registry: registry}

	e.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memvault",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of API requests",
		},
		[]string{"operation", "status"},
	)

	e.requestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "memvault",
			Subsystem: "api",
			Name:      "request_latency_seconds",
			Help:      "API request latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"operation"},
	)

	e.stageLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "memvault",
			Subsystem: "retrieval",
			Name:      "stage_latency_seconds",
			Help:      "Retrieval pipeline per-stage latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"stage"},
	)

	e.rerankSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "memvault",
			Subsystem: "retrieval",
			Name:      "rerank_skipped_total",
			Help:      "Queries that fell back to ANN order because reranking timed out or failed",
		},
	)

	e.decryptFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "memvault",
			Subsystem: "retrieval",
			Name:      "decrypt_failures_total",
			Help:      "Candidates dropped because envelope authentication failed",
		},
	)

	e.candidatesReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "memvault",
			Subsystem: "retrieval",
			Name:      "candidates_returned",
			Help:      "Number of candidates returned per query",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 24, 32, 50},
		},
	)

	e.rateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "memvault",
			Subsystem: "api",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		},
	)

	registry.MustRegister(
		e.requestsTotal,
		e.requestLatency,
		e.stageLatency,
		e.rerankSkipped,
		e.decryptFailures,
		e.candidatesReturned,
		e.rateLimited,
	)

	return e
}

// Handler returns the /metrics HTTP handler.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

func (e *Exporter) ObserveRequest(operation, status string, seconds float64) {
	e.requestsTotal.WithLabelValues(operation, status).Inc()
	e.requestLatency.WithLabelValues(operation).Observe(seconds)
}

func (e *Exporter) ObserveStage(stage string, seconds float64) {
	e.stageLatency.WithLabelValues(stage).Observe(seconds)
}

func (e *Exporter) IncRerankSkipped() {
	e.rerankSkipped.Inc()
}

func (e *Exporter) IncDecryptFailure() {
	e.decryptFailures.Inc()
}

func (e *Exporter) ObserveCandidates(n int) {
	e.candidatesReturned.Observe(float64(n))
}

func (e *Exporter) IncRateLimited() {
	e.rateLimited.Inc()
}
