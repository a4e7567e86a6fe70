// Package metrics exposes Prometheus instrumentation for the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the gateway's Prometheus collectors
type Metrics struct {
	registry *prometheus.Registry

	SessionsCreated  *prometheus.CounterVec
	SessionsExpired  prometheus.Counter
	CartsReturned    *prometheus.CounterVec
	AuthFailures     *prometheus.CounterVec
	DeliveryFailures prometheus.Counter
	RequestDuration  *prometheus.HistogramVec
}

// New creates a metrics set on a fresh registry
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		SessionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "punchout_sessions_created_total",
			Help: "PunchOut sessions created, by protocol",
		}, []string{"protocol"}),
		SessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "punchout_sessions_expired_total",
			Help: "Sessions removed after TTL expiry",
		}),
		CartsReturned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "punchout_carts_returned_total",
			Help: "Carts returned and persisted, by protocol and delivery method",
		}, []string{"protocol", "method"}),
		AuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "punchout_auth_failures_total",
			Help: "Rejected handshakes, by protocol",
		}, []string{"protocol"}),
		DeliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "punchout_delivery_failures_total",
			Help: "Server-side cart deliveries the receiver did not accept",
		}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "punchout_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}

	registry.MustRegister(
		m.SessionsCreated,
		m.SessionsExpired,
		m.CartsReturned,
		m.AuthFailures,
		m.DeliveryFailures,
		m.RequestDuration,
	)
	return m
}

// Registry returns the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
