package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns its registry so several instances can live in one test binary
type Metrics struct {
	reg *prometheus.Registry

	chartRequests   *prometheus.CounterVec
	chartDuration   *prometheus.HistogramVec
	searchDuration  prometheus.Histogram
	upstreamLatency *prometheus.HistogramVec
	upstreamStatus  *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{reg: prometheus.NewRegistry()}

	m.chartRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tlcharts_chart_requests_total",
			Help: "Chart requests by answer source and outcome",
		},
		[]string{"source", "outcome"},
	)

	// buckets cover cache hits (sub-ms) up to multi-turn LLM plans
	m.chartDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tlcharts_chart_processing_seconds",
			Help:    "End-to-end chart request processing time",
			Buckets: []float64{0.001, 0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"source"},
	)

	m.searchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tlcharts_search_seconds",
			Help:    "Catalog search latency",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
	)

	m.upstreamLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tlcharts_upstream_request_seconds",
			Help:    "topledger API request latency per attempt",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		},
		[]string{"status"},
	)

	m.upstreamStatus = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tlcharts_upstream_responses_total",
			Help: "topledger API responses by status code",
		},
		[]string{"status"},
	)

	m.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tlcharts_http_requests_total",
			Help: "HTTP requests by route and status class",
		},
		[]string{"route", "code"},
	)

	m.reg.MustRegister(
		m.chartRequests,
		m.chartDuration,
		m.searchDuration,
		m.upstreamLatency,
		m.upstreamStatus,
		m.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveChart(source string, success bool, d time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.chartRequests.WithLabelValues(source, outcome).Inc()
	m.chartDuration.WithLabelValues(source).Observe(d.Seconds())
}

func (m *Metrics) ObserveSearch(d time.Duration) {
	m.searchDuration.Observe(d.Seconds())
}

// ObserveUpstream satisfies topledger.Observer
func (m *Metrics) ObserveUpstream(status string, d time.Duration) {
	m.upstreamLatency.WithLabelValues(status).Observe(d.Seconds())
	m.upstreamStatus.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveHTTP(route string, code int) {
	m.httpRequests.WithLabelValues(route, statusClass(code)).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
