// Package metrics holds the Prometheus metrics exposed on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "codelink"

// Outcome labels for handshake operations.
const (
	OutcomeOK          = "ok"
	OutcomePending     = "pending"
	OutcomeRejected    = "rejected"
	OutcomeInvalid     = "invalid"
	OutcomeUnavailable = "unavailable"
)

// Registry holds all application metrics on a dedicated prometheus.Registry.
type Registry struct {
	reg *prometheus.Registry

	HandshakeOps      *prometheus.CounterVec
	HandshakeDuration *prometheus.HistogramVec
	IssueCollisions   prometheus.Counter

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
	RateLimited  prometheus.Counter
}

// NewRegistry creates and registers every metric plus the Go and process collectors.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		HandshakeOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "handshake",
			Name:      "operations_total",
			Help:      "Handshake operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		HandshakeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "handshake",
			Name:      "operation_duration_seconds",
			Help:      "Handshake operation latency, bcrypt included.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"operation"}),
		IssueCollisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "handshake",
			Name:      "issue_collisions_total",
			Help:      "Login code or fingerprint collisions retried during issuance.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client rate limiter.",
		}),
	}
	r.reg.MustRegister(
		r.HandshakeOps, r.HandshakeDuration, r.IssueCollisions,
		r.HTTPRequests, r.HTTPDuration, r.RateLimited,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ObserveHandshake records one handshake operation. Safe on a nil Registry.
func (r *Registry) ObserveHandshake(operation, outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.HandshakeOps.WithLabelValues(operation, outcome).Inc()
	r.HandshakeDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// IncIssueCollision counts one retried issuance collision. Safe on a nil Registry.
func (r *Registry) IncIssueCollision() {
	if r == nil {
		return
	}
	r.IssueCollisions.Inc()
}

// Gatherer exposes the underlying registry, mainly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}
