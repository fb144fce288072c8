package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects application metrics on a private Prometheus registry.
// All methods are safe to call on a nil receiver, which disables collection.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	chatRequests    *prometheus.CounterVec
	streamFrames    prometheus.Counter
	upstreamErrors  prometheus.Counter
	upstreamLatency prometheus.Histogram
}

// NewMetrics creates a Metrics instance with all collectors registered under
// the given namespace.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "chatrelay"
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, path and status code.",
		}, []string{"method", "path", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		chatRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_requests_total",
			Help:      "Chat requests by upstream mode and outcome.",
		}, []string{"mode", "outcome"}),
		streamFrames: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_frames_forwarded_total",
			Help:      "SSE frames relayed to browsers.",
		}),
		upstreamErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Failed calls to the upstream conversational API.",
		}),
		upstreamLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Latency of upstream calls, first byte for streams.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
	}
}

// Handler returns the /metrics endpoint handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one completed HTTP request.
func (m *Metrics) ObserveHTTP(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// ObserveChat records the outcome ("ok" or "error") of one chat request.
func (m *Metrics) ObserveChat(mode, outcome string) {
	if m == nil {
		return
	}
	m.chatRequests.WithLabelValues(mode, outcome).Inc()
}

// AddStreamFrames counts frames forwarded to a browser.
func (m *Metrics) AddStreamFrames(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.streamFrames.Add(float64(n))
}

// ObserveUpstreamError counts one failed upstream call.
func (m *Metrics) ObserveUpstreamError() {
	if m == nil {
		return
	}
	m.upstreamErrors.Inc()
}

// ObserveUpstreamLatency records the duration of one upstream call.
func (m *Metrics) ObserveUpstreamLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.upstreamLatency.Observe(d.Seconds())
}
