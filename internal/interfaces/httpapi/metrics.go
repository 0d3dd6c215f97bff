package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bundlerelay/internal/domain"
)

// Metrics owns a private prometheus registry so tests and multiple servers
// never collide on the global one.
type Metrics struct {
	registry     *prometheus.Registry
	startTime    time.Time
	latestBlock  prometheus.Gauge
	events       *prometheus.CounterVec
	inFlight     prometheus.Gauge
	attempts     prometheus.Histogram
	feeEstimates *prometheus.CounterVec
	requests     *prometheus.CounterVec
	latency      *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
		latestBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bundlerelay_latest_block",
			Help: "Latest block number observed by the poller.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bundlerelay_bundle_events_total",
			Help: "Bundle lifecycle events by type.",
		}, []string{"type"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bundlerelay_bundles_pending",
			Help: "Bundles currently being relayed.",
		}),
		attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bundlerelay_bundle_attempts",
			Help:    "Submissions needed before a bundle reached a terminal status.",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34},
		}),
		feeEstimates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bundlerelay_fee_estimates_total",
			Help: "Fee estimates by outcome.",
		}, []string{"outcome"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bundlerelay_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bundlerelay_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.latestBlock, m.events, m.inFlight, m.attempts, m.feeEstimates, m.requests, m.latency,
	)
	return m
}

func (m *Metrics) OnLatestBlock(block uint64) {
	m.latestBlock.Set(float64(block))
}

func (m *Metrics) ObserveFeeEstimate(err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.feeEstimates.WithLabelValues(outcome).Inc()
}

// Notify counts bundle events and tracks how many bundles are pending.
func (m *Metrics) Notify(_ context.Context, event domain.BundleEvent) {
	m.events.WithLabelValues(string(event.Type)).Inc()
	switch event.Type {
	case domain.EventSubmitted:
		if event.Attempt == 1 {
			m.inFlight.Inc()
		}
	case domain.EventSuccess, domain.EventError, domain.EventCancelled:
		if event.Attempt > 0 {
			m.inFlight.Dec()
			m.attempts.Observe(float64(event.Attempt))
		}
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}

func (m *Metrics) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.requests.WithLabelValues(method, route, strconv.Itoa(c.Response().Status)).Inc()
			m.latency.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}
