// Package metrics provides Prometheus instrumentation for the
// settlement engine.
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
	// IncreasePositionsTotal counts increasePosition calls, partitioned
	// by index token and side.
	IncreasePositionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_increase_positions_total",
		Help: "Total number of increasePosition calls",
	}, []string{"token", "side"})

	// DecreasePositionsTotal counts decreasePosition calls.
	DecreasePositionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_decrease_positions_total",
		Help: "Total number of decreasePosition calls",
	}, []string{"token", "side"})

	// LiquidationsTotal counts liquidatePosition calls.
	LiquidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_liquidations_total",
		Help: "Total number of liquidatePosition calls",
	}, []string{"token", "side"})

	// FundingRefreshTotal counts refreshCumulativeFundingRate calls
	// that ran a refresh (a full interval had elapsed), including ones
	// where an empty pool left the accumulator unchanged.
	FundingRefreshTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_funding_refresh_total",
		Help: "Total number of funding rate refreshes run after a full funding interval",
	})

	// PositionLatency tracks increase/decrease position latency.
	PositionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_position_latency_seconds",
		Help:    "Position mutation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// OpenPositions tracks the current number of open positions.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settlement_open_positions",
		Help: "Number of currently open positions",
	})

	// PoolAmount tracks the Vault's current pool amount.
	PoolAmount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settlement_pool_amount",
		Help: "Current Vault pool amount",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settlement_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// ExposureLimitRejections counts increasePosition calls rejected by
	// the exposure limiter.
	ExposureLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_exposure_limit_rejections_total",
		Help: "increasePosition calls rejected by the exposure limiter",
	})

	// OrdersCreatedTotal counts OrderBook order creations, partitioned
	// by order kind (increase/decrease).
	OrdersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_orders_created_total",
		Help: "Total number of conditional orders created",
	}, []string{"kind"})

	// OrdersExecutedTotal counts OrderBook order executions.
	OrdersExecutedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_orders_executed_total",
		Help: "Total number of conditional orders executed",
	}, []string{"kind"})

	// OrdersCancelledTotal counts OrderBook order cancellations.
	OrdersCancelledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_orders_cancelled_total",
		Help: "Total number of conditional orders cancelled",
	}, []string{"kind"})

	// RequestsExpiredTotal counts Market delayed requests that were
	// found expired at execution time.
	RequestsExpiredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_requests_expired_total",
		Help: "Total number of delayed requests found expired at execution",
	}, []string{"kind"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
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

func sideLabel(isLong bool) string {
	if isLong {
		return "long"
	}
	return "short"
}

// SideLabel exposes sideLabel to other packages instrumenting by side.
func SideLabel(isLong bool) string { return sideLabel(isLong) }
