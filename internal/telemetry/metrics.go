// Package telemetry exposes Prometheus collectors for the gateway.
package telemetry

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	gatewayRequestsTotal          *prometheus.CounterVec
	gatewayRequestDurationSeconds *prometheus.HistogramVec
	gatewayCacheEventsTotal       *prometheus.CounterVec
	gatewayProviderFailuresTotal  *prometheus.CounterVec
	gatewayRelayBytesTotal        *prometheus.CounterVec
	gatewayBackupsTotal           *prometheus.CounterVec
	gatewayBreakerTripped         prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		gatewayRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		gatewayRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60, 180},
			},
			[]string{"method", "route"},
		)

		gatewayCacheEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_cache_events_total",
				Help: "Cache lookups, labeled by operation and result (hit, miss, error).",
			},
			[]string{"operation", "result"},
		)

		gatewayProviderFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_provider_failures_total",
				Help: "Total downstream provider failures, labeled by provider.",
			},
			[]string{"provider"},
		)

		gatewayRelayBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_relay_bytes_total",
				Help: "Total bytes relayed to clients, labeled by content kind.",
			},
			[]string{"kind"},
		)

		gatewayBackupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_backups_total",
				Help: "Backup requests, labeled by status.",
			},
			[]string{"status"},
		)

		gatewayBreakerTripped = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_breaker_tripped",
				Help: "1 once the emergency breaker has tripped, otherwise 0.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	gatewayRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	gatewayRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveCacheEvent records one cache lookup outcome.
func ObserveCacheEvent(operation, result string) {
	gatewayCacheEventsTotal.WithLabelValues(operation, result).Inc()
}

// ObserveProviderFailure increments the failure counter for a provider.
func ObserveProviderFailure(provider string) {
	gatewayProviderFailuresTotal.WithLabelValues(provider).Inc()
}

// ObserveRelayBytes adds relayed bytes for the given content kind.
func ObserveRelayBytes(kind string, n int64) {
	if n > 0 {
		gatewayRelayBytesTotal.WithLabelValues(kind).Add(float64(n))
	}
}

// ObserveBackup increments the backup counter for the given status.
func ObserveBackup(status string) {
	gatewayBackupsTotal.WithLabelValues(status).Inc()
}

// MarkBreakerTripped latches the breaker gauge to 1.
func MarkBreakerTripped() {
	gatewayBreakerTripped.Set(1)
}
