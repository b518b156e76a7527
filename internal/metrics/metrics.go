// Package metrics defines the Prometheus collectors exported on /metrics.
// All methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	RPCRequests   *prometheus.CounterVec
	RetryAttempts *prometheus.CounterVec
	Transactions  *prometheus.CounterVec
	Runs          *prometheus.CounterVec
	RunDuration   prometheus.Histogram
	TradesBuilt   prometheus.Counter
	CacheLookups  *prometheus.CounterVec
	HTTPRequests  *prometheus.CounterVec
	HTTPDuration  *prometheus.HistogramVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		RPCRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deriverse_rpc_requests_total",
				Help: "Ledger RPC requests by method and outcome.",
			},
			[]string{"method", "outcome"},
		),
		RetryAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deriverse_retry_attempts_total",
				Help: "Retried attempts by operation.",
			},
			[]string{"operation"},
		),
		Transactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deriverse_transactions_total",
				Help: "Transactions processed by outcome (fetched, pruned, failed, decoded).",
			},
			[]string{"outcome"},
		),
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deriverse_runs_total",
				Help: "Reconstruction runs by final status.",
			},
			[]string{"status"},
		),
		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "deriverse_run_duration_seconds",
				Help:    "Duration of reconstruction runs in seconds.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
		),
		TradesBuilt: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "deriverse_trades_reconstructed_total",
				Help: "Trades produced by completed runs.",
			},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deriverse_cache_lookups_total",
				Help: "Result cache lookups by result (hit, miss).",
			},
			[]string{"result"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}

	registry.MustRegister(
		m.RPCRequests, m.RetryAttempts, m.Transactions, m.Runs, m.RunDuration,
		m.TradesBuilt, m.CacheLookups, m.HTTPRequests, m.HTTPDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRPC(method string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.RPCRequests.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) ObserveRetry(operation string) {
	if m == nil {
		return
	}
	m.RetryAttempts.WithLabelValues(operation).Inc()
}

func (m *Metrics) AddTransactions(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Transactions.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) ObserveRun(status string, trades int, duration time.Duration) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(status).Inc()
	m.RunDuration.Observe(duration.Seconds())
	if trades > 0 {
		m.TradesBuilt.Add(float64(trades))
	}
}

func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveHTTP(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
