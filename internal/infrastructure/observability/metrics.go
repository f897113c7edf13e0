package observability

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// repository calls by method and outcome
	RepositoryCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repository_calls_total",
			Help: "Total number of repository method calls",
		},
		[]string{"method", "status"},
	)

	RepositoryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repository_duration_seconds",
			Help:    "Duration of repository method calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// source: provider|mapping|none, outcome: credited|already_credited|uncredited|failed
	PaymentCaptures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_captures_total",
			Help: "Capture attempts by credit source and outcome",
		},
		[]string{"source", "outcome"},
	)

	PayPalRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paypal_requests_total",
			Help: "Outbound PayPal API calls by operation and HTTP status",
		},
		[]string{"operation", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		RepositoryCalls,
		RepositoryDuration,
		RequestCounter,
		RequestDuration,
		PaymentCaptures,
		PayPalRequests,
	)
}

// InitMetrics serves /metrics on a dedicated listener. An empty addr disables it.
func InitMetrics(addr string) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	return srv
}

// ObserveRepository records a repository call outcome.
func ObserveRepository(method string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	RepositoryCalls.WithLabelValues(method, status).Inc()
	RepositoryDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}
