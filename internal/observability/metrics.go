package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ticket_lifecycle"

// Metrics holds the Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	requests      *prometheus.CounterVec
	requestErrors *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	slaJobs       *prometheus.CounterVec
	notifications *prometheus.CounterVec
	bulkItems     *prometheus.CounterVec
}

// NewMetrics registers collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests labeled by route, method and status",
		}, []string{"path", "method", "status"}),
		requestErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "errors_total",
			Help:      "HTTP error responses labeled by error code",
		}, []string{"path", "method", "code"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path", "method"}),
		slaJobs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sla",
			Name:      "jobs_total",
			Help:      "SLA jobs handled, labeled by job type and outcome",
		}, []string{"job_type", "outcome"}),
		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Notification sends labeled by channel and outcome",
		}, []string{"channel", "outcome"}),
		bulkItems: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bulk",
			Name:      "items_total",
			Help:      "Bulk update items labeled by result",
		}, []string{"result"}),
	}
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest counts a finished request.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError counts an error response.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.requestErrors.WithLabelValues(path, method, code).Inc()
}

// RecordSlaJob counts a handled SLA job; outcome is breached, skipped, retried or failed.
func (m *Metrics) RecordSlaJob(jobType, outcome string) {
	if m == nil {
		return
	}
	m.slaJobs.WithLabelValues(jobType, outcome).Inc()
}

// RecordNotification counts a dispatcher outcome.
func (m *Metrics) RecordNotification(channel, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(channel, outcome).Inc()
}

// RecordBulkItem counts a bulk update item result.
func (m *Metrics) RecordBulkItem(result string) {
	if m == nil {
		return
	}
	m.bulkItems.WithLabelValues(result).Inc()
}

// ObserveQueueDepth exports depth() as the pending SLA job gauge, sampled on scrape.
func (m *Metrics) ObserveQueueDepth(depth func() float64) {
	if m == nil {
		return
	}
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sla",
		Name:      "pending_jobs",
		Help:      "SLA jobs waiting in the queue",
	}, depth)
}
