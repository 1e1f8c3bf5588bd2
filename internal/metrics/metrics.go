package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics метрики сервиса сигналов
type Metrics struct {
	HTTPRequests    *prometheus.CounterVec   // labels: method, route, status
	HTTPDuration    *prometheus.HistogramVec // labels: method, route
	SignalsTotal    *prometheus.CounterVec   // labels: signal, confidence
	BacktestsTotal  prometheus.Counter
	BacktestTrades  prometheus.Histogram
	FetchErrors     *prometheus.CounterVec // labels: source
	CommentaryFails prometheus.Counter

	gatherer prometheus.Gatherer
}

// New создает метрики и регистрирует их в reg
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradesignal_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tradesignal_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradesignal_signals_total",
			Help: "Signals produced by decision and confidence",
		}, []string{"signal", "confidence"}),
		BacktestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradesignal_backtests_total",
			Help: "Backtests completed",
		}),
		BacktestTrades: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tradesignal_backtest_trades",
			Help:    "Closed trades per backtest",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250},
		}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradesignal_candle_fetch_errors_total",
			Help: "Candle provider failures",
		}, []string{"source"}),
		CommentaryFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradesignal_commentary_failures_total",
			Help: "Commentary generation failures",
		}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.HTTPRequests,
		m.HTTPDuration,
		m.SignalsTotal,
		m.BacktestsTotal,
		m.BacktestTrades,
		m.FetchErrors,
		m.CommentaryFails,
	)
	return m
}

// Handler отдает метрики в формате Prometheus
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
