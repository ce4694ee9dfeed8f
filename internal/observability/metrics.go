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

// Metrics stores Prometheus collectors used by the HTTP surface, the email
// dispatcher, and the dead-letter reprocessor.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal        *prometheus.CounterVec
	httpRequestDuration      *prometheus.HistogramVec
	emailsSentTotal          *prometheus.CounterVec
	emailsFailedTotal        *prometheus.CounterVec
	emailSendDuration        *prometheus.HistogramVec
	approvalsProcessedTotal  *prometheus.CounterVec
	deadLetterEnqueuedTotal  prometheus.Counter
	deadLetterProcessedTotal *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "approval_engine",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "approval_engine",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		emailsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "approval_engine",
				Name:      "emails_sent_total",
				Help:      "Total number of emails delivered, grouped by transport.",
			},
			[]string{"transport"},
		),
		emailsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "approval_engine",
				Name:      "emails_failed_total",
				Help:      "Total number of email deliveries that exhausted all transports.",
			},
			[]string{"transport", "reason"},
		),
		emailSendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "approval_engine",
				Name:      "email_send_duration_seconds",
				Help:      "SMTP send duration in seconds grouped by transport.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
			},
			[]string{"transport"},
		),
		approvalsProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "approval_engine",
				Name:      "approvals_processed_total",
				Help:      "Total number of processed email approvals grouped by decision.",
			},
			[]string{"decision"},
		),
		deadLetterEnqueuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "approval_engine",
				Name:      "dead_letter_enqueued_total",
				Help:      "Total number of failed email attempts persisted for reprocessing.",
			},
		),
		deadLetterProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "approval_engine",
				Name:      "dead_letter_processed_total",
				Help:      "Total number of reprocessed failed attempts grouped by outcome.",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.emailsSentTotal,
		m.emailsFailedTotal,
		m.emailSendDuration,
		m.approvalsProcessedTotal,
		m.deadLetterEnqueuedTotal,
		m.deadLetterProcessedTotal,
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

func (m *Metrics) IncEmailSent(transport string) {
	if m == nil {
		return
	}
	m.emailsSentTotal.WithLabelValues(normalizeLabel(transport)).Inc()
}

func (m *Metrics) IncEmailFailed(transport string, reason string) {
	if m == nil {
		return
	}
	reasonLabel := strings.TrimSpace(strings.ToLower(reason))
	if reasonLabel == "" {
		reasonLabel = "unknown"
	}
	m.emailsFailedTotal.WithLabelValues(normalizeLabel(transport), reasonLabel).Inc()
}

func (m *Metrics) ObserveEmailSendDuration(transport string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.emailSendDuration.WithLabelValues(normalizeLabel(transport)).Observe(seconds)
}

func (m *Metrics) IncApprovalProcessed(decision string) {
	if m == nil {
		return
	}
	m.approvalsProcessedTotal.WithLabelValues(normalizeLabel(decision)).Inc()
}

func (m *Metrics) IncDeadLetterEnqueued() {
	if m == nil {
		return
	}
	m.deadLetterEnqueuedTotal.Inc()
}

func (m *Metrics) IncDeadLetterProcessed(outcome string) {
	if m == nil {
		return
	}
	m.deadLetterProcessedTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
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

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
