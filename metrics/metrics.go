// Package metrics provides Prometheus instrumentation for the daemon.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors groups the daemon's metrics. A nil *Collectors records nothing.
type Collectors struct {
	// RequestsTotal counts completion requests by terminal state.
	RequestsTotal *prometheus.CounterVec
	// RequestDuration tracks time from request to terminal state, debounce included.
	RequestDuration *prometheus.HistogramVec
	// CacheLookupsTotal counts cache lookups by result ("hit" or "miss").
	CacheLookupsTotal *prometheus.CounterVec
	// InflightRequests is the number of backend calls in progress.
	InflightRequests prometheus.Gauge
	// TimeoutsTotal counts timed out operations.
	TimeoutsTotal *prometheus.CounterVec
	// BackendErrorsTotal counts backend failures by kind.
	BackendErrorsTotal *prometheus.CounterVec
	// Sessions is the number of live editor sessions.
	Sessions prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Collectors {
	f := promauto.With(reg)
	return &Collectors{
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ghostline_requests_total",
				Help: "Total number of completion requests by terminal state.",
			},
			[]string{"state"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ghostline_request_duration_seconds",
				Help:    "Completion request latency in seconds, debounce included.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"state"},
		),
		CacheLookupsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ghostline_cache_lookups_total",
				Help: "Total number of completion cache lookups by result.",
			},
			[]string{"result"},
		),
		InflightRequests: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "ghostline_inflight_requests",
				Help: "Number of backend calls currently in flight.",
			},
		),
		TimeoutsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ghostline_timeouts_total",
				Help: "Total number of timed out operations.",
			},
			[]string{"operation", "retried"},
		),
		BackendErrorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ghostline_backend_errors_total",
				Help: "Total number of backend failures by kind.",
			},
			[]string{"kind"},
		),
		Sessions: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "ghostline_sessions",
				Help: "Number of live editor sessions.",
			},
		),
	}
}

// ObserveRequest records a request that ended in state after d.
func (c *Collectors) ObserveRequest(state string, d time.Duration) {
	if c == nil {
		return
	}
	c.RequestsTotal.WithLabelValues(state).Inc()
	c.RequestDuration.WithLabelValues(state).Observe(d.Seconds())
}

// RecordCacheLookup records a cache lookup.
func (c *Collectors) RecordCacheLookup(hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.CacheLookupsTotal.WithLabelValues(result).Inc()
}

// Inflight adjusts the in-flight gauge by delta.
func (c *Collectors) Inflight(delta float64) {
	if c == nil {
		return
	}
	c.InflightRequests.Add(delta)
}

// RecordTimeout records a timed out operation.
func (c *Collectors) RecordTimeout(operation string, retried bool) {
	if c == nil {
		return
	}
	c.TimeoutsTotal.WithLabelValues(operation, strconv.FormatBool(retried)).Inc()
}

// RecordBackendError records a backend failure of the given kind.
func (c *Collectors) RecordBackendError(kind string) {
	if c == nil {
		return
	}
	c.BackendErrorsTotal.WithLabelValues(kind).Inc()
}

// SetSessions sets the live session gauge.
func (c *Collectors) SetSessions(n int) {
	if c == nil {
		return
	}
	c.Sessions.Set(float64(n))
}
