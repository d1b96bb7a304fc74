// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"net/url"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for HTTP and policy latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge
	ExchangeSources  *prometheus.CounterVec

	OriginDuration  *prometheus.HistogramVec
	OriginResponses *prometheus.CounterVec

	PolicyDuration  *prometheus.HistogramVec
	PolicyDecisions *prometheus.CounterVec
	PolicyErrors    *prometheus.CounterVec
	ExchangesHeld   prometheus.Gauge
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intercept_proxy_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "target"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "intercept_proxy_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "target"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "intercept_proxy_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		ExchangeSources: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intercept_proxy_exchanges_total",
			Help: "Proxied exchanges by where the delivered response came from.",
		}, []string{"source"}),

		OriginDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "intercept_proxy_origin_request_duration_seconds",
			Help:    "Origin fetch latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		OriginResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intercept_proxy_origin_responses_total",
			Help: "Total origin responses by method and status code.",
		}, []string{"method", "status_code"}),

		PolicyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "intercept_proxy_policy_consult_duration_seconds",
			Help:    "Policy service round-trip latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"event", "mode"}),

		PolicyDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intercept_proxy_policy_decisions_total",
			Help: "Decisions applied, by event and decision kind.",
		}, []string{"event", "decision"}),

		PolicyErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intercept_proxy_policy_errors_total",
			Help: "Events that fell back to pass-through, by event and error kind.",
		}, []string{"event", "kind"}),

		ExchangesHeld: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "intercept_proxy_exchanges_held",
			Help: "Exchanges currently suspended awaiting a decision.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.ExchangeSources,
		m.OriginDuration,
		m.OriginResponses,
		m.PolicyDuration,
		m.PolicyDecisions,
		m.PolicyErrors,
		m.ExchangesHeld,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true, "CONNECT": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownPrefixes lists the local endpoint label values (bounded cardinality).
var knownPrefixes = []string{"/healthz", "/proxy/status", "/metrics"}

// NormalizeTarget returns a bounded target label. Absolute-form requests are
// proxied traffic and all share the "proxy" label.
func NormalizeTarget(u *url.URL) string {
	if u.IsAbs() {
		return "proxy"
	}
	path := u.Path
	for _, prefix := range knownPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return prefix
		}
	}
	return "other"
}
