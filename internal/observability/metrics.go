package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the API and campaign run
// flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec
	itemsSentTotal         prometheus.Counter
	itemsFailedTotal       *prometheus.CounterVec
	pacingStopsTotal       *prometheus.CounterVec
	checkpointRetriesTotal prometheus.Counter
	sendDuration           prometheus.Histogram
	runsActive             prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "campaign_engine",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "campaign_engine",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		itemsSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "campaign_engine",
				Name:      "items_sent_total",
				Help:      "Total number of recipient records delivered successfully.",
			},
		),
		itemsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "campaign_engine",
				Name:      "items_failed_total",
				Help:      "Total number of recipient records that ended in failed state.",
			},
			[]string{"reason"},
		),
		pacingStopsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "campaign_engine",
				Name:      "pacing_stops_total",
				Help:      "Total number of runs paused by a pacing stop condition.",
			},
			[]string{"decision"},
		),
		checkpointRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "campaign_engine",
				Name:      "checkpoint_retries_total",
				Help:      "Total number of retried checkpoint writes.",
			},
		),
		sendDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "campaign_engine",
				Name:      "send_duration_seconds",
				Help:      "Provider send duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		runsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "campaign_engine",
				Name:      "runs_active",
				Help:      "Current number of active campaign runs.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.itemsSentTotal,
		m.itemsFailedTotal,
		m.pacingStopsTotal,
		m.checkpointRetriesTotal,
		m.sendDuration,
		m.runsActive,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncItemSent() {
	if m == nil {
		return
	}
	m.itemsSentTotal.Inc()
}

func (m *Metrics) IncItemFailed(reason string) {
	if m == nil {
		return
	}
	reasonLabel := strings.TrimSpace(strings.ToLower(reason))
	if reasonLabel == "" {
		reasonLabel = "unknown"
	}
	m.itemsFailedTotal.WithLabelValues(reasonLabel).Inc()
}

func (m *Metrics) IncPacingStop(decision string) {
	if m == nil {
		return
	}
	decisionLabel := strings.TrimSpace(strings.ToLower(decision))
	if decisionLabel == "" {
		decisionLabel = "unknown"
	}
	m.pacingStopsTotal.WithLabelValues(decisionLabel).Inc()
}

func (m *Metrics) IncCheckpointRetry() {
	if m == nil {
		return
	}
	m.checkpointRetriesTotal.Inc()
}

func (m *Metrics) ObserveSendDuration(duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.sendDuration.Observe(seconds)
}

func (m *Metrics) IncRunsActive() {
	if m == nil {
		return
	}
	m.runsActive.Inc()
}

func (m *Metrics) DecRunsActive() {
	if m == nil {
		return
	}
	m.runsActive.Dec()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}
