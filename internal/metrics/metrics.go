// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "brightpath"

type Metrics struct {
	PaymentsCreated      *prometheus.CounterVec
	WebhookDeliveries    *prometheus.CounterVec
	WebhookConflicts     prometheus.Counter
	WebhookRejected      *prometheus.CounterVec
	SubscriptionsCreated *prometheus.CounterVec
	ProvisioningFailures *prometheus.CounterVec
	ProvisioningBacklog  prometheus.Gauge
	RequestsTotal        *prometheus.CounterVec
	RequestDuration      *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates the collectors and registers them on reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{registry: reg}

	m.PaymentsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payments_created_total",
		Help:      "Checkout sessions created, by provider and plan",
	}, []string{"provider", "plan"})

	m.WebhookDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_deliveries_total",
		Help:      "Payment webhook deliveries, by reported status and outcome",
	}, []string{"status", "outcome"})

	m.WebhookConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_conflicts_total",
		Help:      "Deliveries carrying a terminal status that contradicts the recorded one",
	})

	m.WebhookRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_rejected_total",
		Help:      "Deliveries that failed nonce or amount verification, by reason",
	}, []string{"reason"})

	m.SubscriptionsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "subscriptions_created_total",
		Help:      "Subscriptions created, by plan and source",
	}, []string{"plan", "source"})

	m.ProvisioningFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provisioning_failures_total",
		Help:      "Successful payments whose subscription could not be created",
	}, []string{"reason"})

	m.ProvisioningBacklog = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "provisioning_backlog",
		Help:      "Successful payments still waiting for a subscription",
	})

	m.RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})

	m.RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	reg.MustRegister(
		m.PaymentsCreated,
		m.WebhookDeliveries,
		m.WebhookConflicts,
		m.WebhookRejected,
		m.SubscriptionsCreated,
		m.ProvisioningFailures,
		m.ProvisioningBacklog,
		m.RequestsTotal,
		m.RequestDuration,
	)
	return m
}

// NewNop returns collectors bound to a throwaway registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Middleware records request counts and latency keyed by the chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		m.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
