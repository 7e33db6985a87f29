package services

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exports the service-level Prometheus collectors. Each factory
// owns its own registry so tests can build factories independently.
type Metrics struct {
	registry *prometheus.Registry

	QueriesTotal   *prometheus.CounterVec
	QueryDuration  prometheus.Histogram
	IngestsTotal   *prometheus.CounterVec
	ServiceHealthy *prometheus.GaugeVec
	StreamsActive  prometheus.Gauge
	HTTPRequests   *prometheus.CounterVec
	HTTPDuration   *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		QueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zerorag_queries_total",
			Help: "RAG queries by outcome.",
		}, []string{"status"}),
		QueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "zerorag_query_duration_seconds",
			Help:    "End to end RAG query latency.",
			Buckets: prometheus.DefBuckets,
		}),
		IngestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zerorag_ingests_total",
			Help: "Document ingests by outcome.",
		}, []string{"status"}),
		ServiceHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "zerorag_service_healthy",
			Help: "Per-service health, 1 healthy / 0 otherwise.",
		}, []string{"service"}),
		StreamsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zerorag_streams_active",
			Help: "Open streaming connections.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zerorag_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zerorag_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	registry.MustRegister(
		m.QueriesTotal,
		m.QueryDuration,
		m.IngestsTotal,
		m.ServiceHealthy,
		m.StreamsActive,
		m.HTTPRequests,
		m.HTTPDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
