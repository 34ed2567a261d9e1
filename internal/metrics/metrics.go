// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var durationBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Outcome labels of a proxied request.
const (
	OutcomeForwarded     = "forwarded"
	OutcomeInspectError  = "inspect_error"
	OutcomeUpstreamError = "upstream_error"
	OutcomeBadRequest    = "bad_request"
)

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestsInFlight prometheus.Gauge
	InspectDuration  *prometheus.HistogramVec

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec

	CapturedBytes prometheus.Histogram
	URLRewrites   prometheus.Counter
	PipeSockets   *prometheus.CounterVec

	TunnelsOpen  prometheus.Gauge
	TunnelsTotal *prometheus.CounterVec

	RulesLoaded prometheus.Gauge
}

// New creates a Metrics instance with a custom registry and all collectors
// registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rulegate_requests_total",
			Help: "Proxied HTTP requests by method and outcome.",
		}, []string{"method", "outcome"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rulegate_requests_in_flight",
			Help: "Requests currently being proxied.",
		}),

		InspectDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rulegate_inspect_duration_seconds",
			Help:    "Time spent resolving rules and plugins for a request.",
			Buckets: durationBuckets,
		}, []string{"outcome"}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rulegate_upstream_duration_seconds",
			Help:    "Upstream round trip latency in seconds.",
			Buckets: durationBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rulegate_upstream_responses_total",
			Help: "Upstream responses by method and status code.",
		}, []string{"method", "status_code"}),

		CapturedBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rulegate_captured_body_bytes",
			Help:    "Request body bytes buffered for rule evaluation.",
			Buckets: prometheus.ExponentialBuckets(1, 8, 8),
		}),

		URLRewrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rulegate_url_rewrites_total",
			Help: "Requests whose query string was rewritten by urlParams.",
		}),

		PipeSockets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rulegate_pipe_sockets_total",
			Help: "Plugin pipe sockets opened by direction.",
		}, []string{"direction"}),

		TunnelsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rulegate_tunnels_open",
			Help: "CONNECT tunnels currently open.",
		}),

		TunnelsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rulegate_tunnels_total",
			Help: "CONNECT tunnels by sniffed protocol.",
		}, []string{"protocol"}),

		RulesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rulegate_rules_loaded",
			Help: "Configured rules currently active.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestsInFlight,
		m.InspectDuration,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.CapturedBytes,
		m.URLRewrites,
		m.PipeSockets,
		m.TunnelsOpen,
		m.TunnelsTotal,
		m.RulesLoaded,
	)
	return m
}

var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true, "CONNECT": true,
}

// NormalizeMethod maps non-standard methods to "other" to bound label
// cardinality.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}
