// Package metrics provides Prometheus metrics for the listing API.
package metrics

import (
	"slices"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for API latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Metrics holds all Prometheus metric collectors for the service.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec

	CompressedResponses *prometheus.CounterVec
	CompressionSaved    prometheus.Counter

	routes []string
}

// New creates a Metrics instance with a custom registry and all collectors
// registered. extraRoutes are added to the route label set, e.g. the
// configured exposition path.
func New(extraRoutes ...string) *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,
		routes:   append(slices.Clone(knownRoutes), extraRoutes...),

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carlisting_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "route"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "carlisting_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "route"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "carlisting_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "carlisting_upstream_request_duration_seconds",
			Help:    "Car API call latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"resource"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carlisting_upstream_responses_total",
			Help: "Total car API responses by resource and status code.",
		}, []string{"resource", "status_code"}),

		CompressedResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carlisting_compressed_responses_total",
			Help: "Responses sent with a content encoding, by encoding.",
		}, []string{"encoding"}),

		CompressionSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carlisting_compression_saved_bytes_total",
			Help: "Bytes saved by response compression.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.CompressedResponses,
		m.CompressionSaved,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownRoutes lists the allowed route label values (bounded cardinality).
var knownRoutes = []string{
	"/api/cars/makes",
	"/api/cars/models",
	"/api/cars/years",
	"/health",
	"/stats",
	"/status",
}

// NormalizePath returns a bounded route label for Prometheus metrics.
// Paths outside the known routes are labelled "other".
func (m *Metrics) NormalizePath(path string) string {
	for _, route := range m.routes {
		if route == "" {
			continue
		}
		if path == route || strings.HasPrefix(path, route+"/") {
			return route
		}
	}
	return "other"
}
