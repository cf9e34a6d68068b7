// Package metrics exposes pool state and request outcomes to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"doubao-api/internal/accountpool"
	"doubao-api/internal/services"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "doubao"

// PoolSource is the pool state read at scrape time.
type PoolSource interface {
	HealthSummary() (healthy, total int)
	Snapshot() []accountpool.Status
}

// SessionSource reports the number of live sessions.
type SessionSource interface {
	Count() int
}

// RequestLogSource reports the request log worker counters.
type RequestLogSource interface {
	Metrics() services.WorkerPoolMetrics
}

// Metrics owns a private registry with the request counters and the pool collector.
type Metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New creates the metrics registry. pool and sessions may be nil.
func New(pool PoolSource, sessions SessionSource) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total routed requests by flow, mode and outcome",
		}, []string{"flow", "mode", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Routed request duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"flow", "mode"}),
	}

	m.registry.MustRegister(m.requests, m.duration)
	if pool != nil || sessions != nil {
		m.registry.MustRegister(&poolCollector{pool: pool, sessions: sessions})
	}
	return m
}

// WatchRequestLog exports the request log queue counters. It is a no-op for a nil source.
func (m *Metrics) WatchRequestLog(src RequestLogSource) {
	if src == nil {
		return
	}
	m.registry.MustRegister(&requestLogCollector{src: src})
}

// ObserveRequest records the outcome of one routed request.
func (m *Metrics) ObserveRequest(flow string, streaming bool, outcome string, elapsed time.Duration) {
	mode := "once"
	if streaming {
		mode = "stream"
	}
	m.requests.WithLabelValues(flow, mode, outcome).Inc()
	m.duration.WithLabelValues(flow, mode).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

var (
	healthyDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "accounts", "healthy"),
		"Number of healthy accounts", nil, nil)
	totalDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "accounts", "total"),
		"Number of configured accounts", nil, nil)
	activeDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "account", "active_connections"),
		"In-flight calls per account", []string{"index", "account"}, nil)
	accountUpDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "account", "healthy"),
		"1 when the account is healthy", []string{"index", "account"}, nil)
	sessionsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "sessions", "active"),
		"Number of live sessions", nil, nil)
)

// poolCollector reads the pool on every scrape.
type poolCollector struct {
	pool     PoolSource
	sessions SessionSource
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- healthyDesc
	ch <- totalDesc
	ch <- activeDesc
	ch <- accountUpDesc
	ch <- sessionsDesc
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	if c.pool != nil {
		healthy, total := c.pool.HealthSummary()
		ch <- prometheus.MustNewConstMetric(healthyDesc, prometheus.GaugeValue, float64(healthy))
		ch <- prometheus.MustNewConstMetric(totalDesc, prometheus.GaugeValue, float64(total))

		for _, s := range c.pool.Snapshot() {
			idx := strconv.Itoa(s.Index)
			up := 0.0
			if s.Healthy {
				up = 1
			}
			ch <- prometheus.MustNewConstMetric(activeDesc, prometheus.GaugeValue, float64(s.ActiveConnections), idx, s.Key)
			ch <- prometheus.MustNewConstMetric(accountUpDesc, prometheus.GaugeValue, up, idx, s.Key)
		}
	}
	if c.sessions != nil {
		ch <- prometheus.MustNewConstMetric(sessionsDesc, prometheus.GaugeValue, float64(c.sessions.Count()))
	}
}

var (
	logQueueDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "request_log", "queue_length"),
		"Request log entries waiting to be written", nil, nil)
	logWrittenDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "request_log", "processed_total"),
		"Request log entries handled, including failed writes", nil, nil)
	logErrorsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "request_log", "errors_total"),
		"Request log entries that could not be written", nil, nil)
)

type requestLogCollector struct {
	src RequestLogSource
}

func (c *requestLogCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- logQueueDesc
	ch <- logWrittenDesc
	ch <- logErrorsDesc
}

func (c *requestLogCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.src.Metrics()
	ch <- prometheus.MustNewConstMetric(logQueueDesc, prometheus.GaugeValue, float64(stats.QueueLength))
	ch <- prometheus.MustNewConstMetric(logWrittenDesc, prometheus.CounterValue, float64(stats.ProcessedCount))
	ch <- prometheus.MustNewConstMetric(logErrorsDesc, prometheus.CounterValue, float64(stats.ErrorCount))
}
