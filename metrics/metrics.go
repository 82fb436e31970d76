// Package metrics exposes a Prometheus metrics server on its own listener and
// the instruments the API server records into.
package metrics

import (
	"context"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer serves /metrics on a dedicated listener and owns the
// service's instrument vectors.
type MetricsServer struct {
	srv      *http.Server
	registry *prometheus.Registry

	// RequestsTotal counts API requests by endpoint name and status code.
	RequestsTotal *prometheus.CounterVec

	// RequestDuration observes API request latency by endpoint name.
	RequestDuration *prometheus.HistogramVec

	// RateLimitRejections counts requests rejected by the rate limiter.
	RateLimitRejections *prometheus.CounterVec

	// KVOperationErrors counts failed key-value store operations by backend
	// and operation.
	KVOperationErrors *prometheus.CounterVec
}

// New creates a metrics server for the given service name listening on addr.
func New(name, addr string) (*MetricsServer, error) {
	namespace := strings.ReplaceAll(name, "-", "_")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &MetricsServer{
		registry: registry,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by endpoint and status code.",
		}, []string{"endpoint", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request latency by endpoint.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		RateLimitRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Requests rejected by the rate limiter, by endpoint.",
		}, []string{"endpoint"}),
		KVOperationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kv_operation_errors_total",
			Help:      "Failed key-value store operations by backend and operation.",
		}, []string{"backend", "operation"}),
	}
	registry.MustRegister(m.RequestsTotal, m.RequestDuration, m.RateLimitRejections, m.KVOperationErrors)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	m.srv = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	return m, nil
}

// ListenAndServe blocks serving /metrics until Shutdown.
func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

// Shutdown gracefully stops the metrics listener.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
