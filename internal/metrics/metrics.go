// Package metrics defines the Prometheus metrics for azdls writes and the
// upload gateway.
package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// registerOnce ensures Register() is idempotent.
var registerOnce sync.Once

// sizeBuckets are exponential buckets for request/response size histograms (bytes).
var sizeBuckets = []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 67108864}

// Write outcomes used as the "outcome" label of WritesTotal.
const (
	OutcomeWritten      = "written"
	OutcomeCreateFailed = "create_failed"
	OutcomeUpdateFailed = "update_failed"
	OutcomeError        = "error"
)

// One-shot write metrics.
var (
	// WritesTotal counts WriteOnce calls by outcome.
	WritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "azdls_writes_total",
			Help: "One-shot writes by outcome",
		},
		[]string{"outcome"},
	)

	// WriteBytesTotal counts payload bytes of successful writes.
	WriteBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "azdls_write_bytes_total",
			Help: "Total bytes committed by successful writes",
		},
	)

	// RequestDuration observes remote round-trip latency per phase.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "azdls_request_duration_seconds",
			Help:    "Remote request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	// ServiceErrorsTotal counts rejected phases by service error code.
	ServiceErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "azdls_service_errors_total",
			Help: "Service errors by phase and code",
		},
		[]string{"phase", "code"},
	)
)

// Gateway HTTP metrics (RED: Rate, Errors, Duration).
var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "azdls_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency in seconds by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "azdls_http_request_duration_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// HTTPRequestSize observes request body size in bytes.
	HTTPRequestSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "azdls_http_request_size_bytes",
			Help:    "Request body size in bytes",
			Buckets: sizeBuckets,
		},
		[]string{"method", "path"},
	)
)

// Register registers all Prometheus collectors with the default registry.
// It is safe to call multiple times; subsequent calls are no-ops.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			WritesTotal,
			WriteBytesTotal,
			RequestDuration,
			ServiceErrorsTotal,
			HTTPRequestsTotal,
			HTTPRequestDuration,
			HTTPRequestSize,
		)
		// Initialize outcomes so they appear in /metrics output before the
		// first write.
		for _, o := range []string{OutcomeWritten, OutcomeCreateFailed, OutcomeUpdateFailed, OutcomeError} {
			WritesTotal.WithLabelValues(o)
		}
	})
}

// NormalizePath maps gateway request paths to low-cardinality labels.
func NormalizePath(path string) string {
	switch path {
	case "/health", "/metrics":
		return path
	case "/docs", "/docs/", "/openapi", "/openapi.json", "/openapi.yaml":
		return "/docs"
	case "/", "":
		return "/"
	}
	if strings.HasPrefix(path, "/docs") || strings.HasPrefix(path, "/schemas") {
		return "/docs"
	}
	if strings.HasPrefix(path, "/files/") {
		return "/files/{path}"
	}
	return "/{path}"
}
