// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for mrest.
//
// All Observe helpers are safe to call on a nil *Metrics, so components can
// take an optional *Metrics without guarding every call site.
package metrics

import (
	"time"

	"github.com/absmach/mrest/pkg/status"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for mrest.
type Metrics struct {
	// Connection metrics
	ActiveConnections  prometheus.Gauge
	TotalConnections   prometheus.Counter
	ConnectionDuration prometheus.Histogram
	Transitions        *prometheus.CounterVec

	// Request metrics
	ResponsesTotal *prometheus.CounterVec
	RequestSize    prometheus.Histogram

	// Handler metrics
	HandlerDuration prometheus.Histogram
	HandlerTimeouts prometheus.Counter
	HandlerPanics   prometheus.Counter

	// Auth metrics
	AuthFailures *prometheus.CounterVec

	// Rate limiter metrics
	RateLimitedRequests *prometheus.CounterVec

	// Sink metrics
	SinkPublishes    *prometheus.CounterVec
	SinkBreakerState *prometheus.GaugeVec

	// Resource metrics
	GoroutinesActive prometheus.Gauge
	MemoryAllocated  *prometheus.GaugeVec
}

// New creates all collectors and registers them with reg. A nil reg uses
// the default Prometheus registerer.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "mrest"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		ActiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Number of connections currently being handled",
		}),
		TotalConnections: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of accepted connections",
		}),
		ConnectionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connection_duration_seconds",
			Help:      "Time from accept to close in seconds",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30, 60},
		}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Connection state machine transitions",
		}, []string{"from", "to"}),
		ResponsesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_total",
			Help:      "Total number of responses by status code",
		}, []string{"status"}),
		RequestSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_size_bytes",
			Help:      "Raw request size in bytes",
			Buckets:   []float64{100, 1000, 10000, 100000, 1000000, 10000000},
		}),
		HandlerDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_duration_seconds",
			Help:      "Request handler duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		HandlerTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_timeouts_total",
			Help:      "Requests answered with 500 because the handler did not return in time",
		}),
		HandlerPanics: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_panics_total",
			Help:      "Handler invocations that panicked and were recovered",
		}),
		AuthFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Total number of rejected Authorization headers",
		}, []string{"reason"}),
		RateLimitedRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_requests_total",
			Help:      "Total number of bodies dropped by rate limiting",
		}, []string{"limiter_type"}),
		SinkPublishes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_publishes_total",
			Help:      "Bodies forwarded to the configured sink",
		}, []string{"sink", "status"}),
		SinkBreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sink_breaker_state",
			Help:      "Sink circuit breaker state (0=closed, 1=half_open, 2=open)",
		}, []string{"sink"}),
		GoroutinesActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutines_active",
			Help:      "Number of goroutines",
		}),
		MemoryAllocated: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_allocated_bytes",
			Help:      "Memory allocated in bytes",
		}, []string{"type"}),
	}
}

// ObserveConnection tracks a connection lifecycle. f returns the status sent
// to the client, or 0 when the connection closed without a response.
func (m *Metrics) ObserveConnection(f func() status.Code) status.Code {
	if m == nil {
		return f()
	}

	m.ActiveConnections.Inc()
	defer m.ActiveConnections.Dec()
	m.TotalConnections.Inc()

	start := time.Now()
	code := f()
	m.ConnectionDuration.Observe(time.Since(start).Seconds())

	if code != 0 {
		m.ResponsesTotal.WithLabelValues(code.String()).Inc()
	}
	return code
}

// ObserveHandler times one handler invocation.
func (m *Metrics) ObserveHandler(f func()) {
	if m == nil {
		f()
		return
	}

	start := time.Now()
	f()
	m.HandlerDuration.Observe(time.Since(start).Seconds())
}

// ObserveTransition counts one state machine transition.
func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to).Inc()
}

// ObserveRequestSize records the raw size of a framed request.
func (m *Metrics) ObserveRequestSize(n int) {
	if m == nil {
		return
	}
	m.RequestSize.Observe(float64(n))
}

// ObserveAuthFailure counts a rejected Authorization header.
func (m *Metrics) ObserveAuthFailure(reason string) {
	if m == nil {
		return
	}
	m.AuthFailures.WithLabelValues(reason).Inc()
}

// ObserveHandlerTimeout counts a handler that outlived its deadline.
func (m *Metrics) ObserveHandlerTimeout() {
	if m == nil {
		return
	}
	m.HandlerTimeouts.Inc()
}

// ObserveHandlerPanic counts a recovered handler panic.
func (m *Metrics) ObserveHandlerPanic() {
	if m == nil {
		return
	}
	m.HandlerPanics.Inc()
}

// ObserveRuntime samples goroutine count and memory usage.
func (m *Metrics) ObserveRuntime(goroutines int, heapAlloc, sys uint64) {
	if m == nil {
		return
	}
	m.GoroutinesActive.Set(float64(goroutines))
	m.MemoryAllocated.WithLabelValues("heap").Set(float64(heapAlloc))
	m.MemoryAllocated.WithLabelValues("sys").Set(float64(sys))
}

// ObserveRateLimited counts a body dropped by the given limiter.
func (m *Metrics) ObserveRateLimited(limiter string) {
	if m == nil {
		return
	}
	m.RateLimitedRequests.WithLabelValues(limiter).Inc()
}

// ObservePublish counts a sink publish attempt.
func (m *Metrics) ObservePublish(sink string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.SinkPublishes.WithLabelValues(sink, result).Inc()
}

// ObserveBreakerState records the circuit breaker state of a sink.
func (m *Metrics) ObserveBreakerState(sink string, state int) {
	if m == nil {
		return
	}
	m.SinkBreakerState.WithLabelValues(sink).Set(float64(state))
}
