// Package metrics exposes Prometheus counters for the settlement engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "konsinyasi"

type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	ConsignmentsIssued prometheus.Counter
	Settlements        *prometheus.CounterVec
	ReturnsAll         prometheus.Counter
	SalesPublished     *prometheus.CounterVec
	OperationErrors    *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: registry}

	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)

	m.ConsignmentsIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consignments_issued_total",
			Help:      "Total number of consignments issued",
		},
	)

	m.Settlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Total number of recorded settlements by resulting status",
		},
		[]string{"status"},
	)

	m.ReturnsAll = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consignment_returns_total",
			Help:      "Total number of consignments closed by returning all remaining units",
		},
	)

	m.SalesPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sale_events_published_total",
			Help:      "Total number of sale events handed to the publisher",
		},
		[]string{"status"},
	)

	m.OperationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_errors_total",
			Help:      "Total number of rejected or failed operations",
		},
		[]string{"operation", "reason"},
	)

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ConsignmentsIssued,
		m.Settlements,
		m.ReturnsAll,
		m.SalesPublished,
		m.OperationErrors,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) RecordIssued() {
	if m == nil {
		return
	}
	m.ConsignmentsIssued.Inc()
}

func (m *Metrics) RecordSettlement(status string) {
	if m == nil {
		return
	}
	m.Settlements.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordReturnAll() {
	if m == nil {
		return
	}
	m.ReturnsAll.Inc()
}

func (m *Metrics) RecordSalesPublished(count int, err error) {
	if m == nil || count == 0 {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.SalesPublished.WithLabelValues(status).Add(float64(count))
}

func (m *Metrics) RecordError(operation, reason string) {
	if m == nil {
		return
	}
	m.OperationErrors.WithLabelValues(operation, reason).Inc()
}
