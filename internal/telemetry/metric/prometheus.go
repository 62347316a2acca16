package metric

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "captoken"

// Registry holds all application metrics.
type Registry struct {
	reg *prometheus.Registry

	// Token metrics
	TokensIssued    *prometheus.CounterVec
	TokensValidated *prometheus.CounterVec
	TokensConsumed  *prometheus.CounterVec
	TokensRevoked   *prometheus.CounterVec

	// Proximity metrics
	ProximityChecks   *prometheus.CounterVec
	ProximityDistance prometheus.Histogram

	// Sweeper metrics
	SweepRuns       prometheus.Counter
	SweepExpired    *prometheus.CounterVec
	SweepReminders  prometheus.Counter
	SweepFailures   prometheus.Counter
	SweepDuration   prometheus.Histogram
	AuditDroppedCnt prometheus.Counter

	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewRegistry creates a registry with all metrics registered, plus the Go
// runtime and process collectors.
func NewRegistry() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.TokensIssued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "tokens", Name: "issued_total",
		Help: "Tokens issued, by kind.",
	}, []string{"kind"})
	r.TokensValidated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "tokens", Name: "validated_total",
		Help: "Validation attempts, by kind and outcome code.",
	}, []string{"kind", "outcome"})
	r.TokensConsumed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "tokens", Name: "consumed_total",
		Help: "Consumption attempts, by kind and outcome code.",
	}, []string{"kind", "outcome"})
	r.TokensRevoked = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "tokens", Name: "revoked_total",
		Help: "Tokens revoked, by kind.",
	}, []string{"kind"})

	r.ProximityChecks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "proximity", Name: "checks_total",
		Help: "Proximity checks, by kind and result.",
	}, []string{"kind", "result"})
	r.ProximityDistance = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "proximity", Name: "distance_meters",
		Help:    "Distance between presenter and anchor.",
		Buckets: []float64{10, 25, 50, 100, 150, 250, 500, 1000, 5000},
	})

	r.SweepRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "sweeper", Name: "runs_total",
		Help: "Completed sweep cycles.",
	})
	r.SweepExpired = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "sweeper", Name: "expired_total",
		Help: "Rows transitioned to expired, by object.",
	}, []string{"object"})
	r.SweepReminders = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "sweeper", Name: "reminders_total",
		Help: "Reminders sent.",
	})
	r.SweepFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "sweeper", Name: "failures_total",
		Help: "Sweep steps that failed and will be retried.",
	})
	r.SweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "sweeper", Name: "duration_seconds",
		Help:    "Sweep cycle duration.",
		Buckets: prometheus.DefBuckets,
	})
	r.AuditDroppedCnt = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "audit", Name: "dropped_total",
		Help: "Audit entries dropped after retries or on a full queue.",
	})

	r.RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "http", Name: "requests_total",
		Help: "HTTP requests, by method, route and status.",
	}, []string{"method", "route", "status"})
	r.RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	r.reg.MustRegister(
		r.TokensIssued, r.TokensValidated, r.TokensConsumed, r.TokensRevoked,
		r.ProximityChecks, r.ProximityDistance,
		r.SweepRuns, r.SweepExpired, r.SweepReminders, r.SweepFailures, r.SweepDuration,
		r.AuditDroppedCnt,
		r.RequestsTotal, r.RequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Gatherer returns the underlying gatherer.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Registerer returns the registry for backend collectors.
func (r *Registry) Registerer() prometheus.Registerer {
	return r.reg
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// TokenIssued counts an issued token.
func (r *Registry) TokenIssued(kind string) {
	r.TokensIssued.WithLabelValues(kind).Inc()
}

// TokenValidated counts a validation attempt. outcome is "valid" or an
// error code.
func (r *Registry) TokenValidated(kind, outcome string) {
	r.TokensValidated.WithLabelValues(kind, outcome).Inc()
}

// TokenConsumed counts a consumption attempt.
func (r *Registry) TokenConsumed(kind, outcome string) {
	r.TokensConsumed.WithLabelValues(kind, outcome).Inc()
}

// TokenRevoked counts a revocation that changed state.
func (r *Registry) TokenRevoked(kind string) {
	r.TokensRevoked.WithLabelValues(kind).Inc()
}

// ProximityChecked records a proximity check. distance < 0 means no
// distance was computed.
func (r *Registry) ProximityChecked(kind string, distance float64, passed bool) {
	result := "pass"
	if !passed {
		result = "fail"
	}
	r.ProximityChecks.WithLabelValues(kind, result).Inc()
	if distance >= 0 {
		r.ProximityDistance.Observe(distance)
	}
}

// SweepCompleted records one sweep cycle.
func (r *Registry) SweepCompleted(tokens, requests, reminders, failures int, d time.Duration) {
	r.SweepRuns.Inc()
	r.SweepExpired.WithLabelValues("token").Add(float64(tokens))
	r.SweepExpired.WithLabelValues("request").Add(float64(requests))
	r.SweepReminders.Add(float64(reminders))
	r.SweepFailures.Add(float64(failures))
	r.SweepDuration.Observe(d.Seconds())
}

// AuditDropped counts a dropped audit entry.
func (r *Registry) AuditDropped() {
	r.AuditDroppedCnt.Inc()
}

// ObserveHTTP records one HTTP request.
func (r *Registry) ObserveHTTP(method, route string, status int, d time.Duration) {
	r.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.RequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
