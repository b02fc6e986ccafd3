// Package metrics provides Prometheus instrumentation for the validation
// market engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MarketsTotal counts market lifecycle events.
	MarketsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "equinox_markets_total",
		Help: "Market lifecycle events",
	}, []string{"event"}) // created, resolved, cancelled

	// PositionsTotal counts positions taken, partitioned by side.
	PositionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "equinox_positions_total",
		Help: "Total number of positions taken",
	}, []string{"side"})

	// StakeVolume tracks cumulative staked volume per side.
	StakeVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "equinox_stake_volume_total",
		Help: "Cumulative staked volume",
	}, []string{"side"})

	// SettlementLatency tracks how long resolution takes end to end.
	SettlementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "equinox_settlement_latency_seconds",
		Help:    "Market resolution latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// PayoutVolume tracks the cumulative pool volume distributed at
	// resolution.
	PayoutVolume = promauto.NewCounter(prometheus.CounterOpts{
		Name: "equinox_payout_volume_total",
		Help: "Cumulative payout volume distributed",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "equinox_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "equinox_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "equinox_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; route patterns are shallow enough
		// to keep cardinality low.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
