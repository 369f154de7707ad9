package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-roku/internal/infrastructure/config"
)

// Recorder collects bridge metrics.
type Recorder interface {
	IncCommand(command string)
	IncCommandError(kind string)
	ObservePoll(deviceID string, full bool, duration time.Duration, err error)
	SetAvailable(deviceID string, available bool)
	IncImageCacheHit()
	IncImageCacheMiss()
	IncImageCacheSkip()
	IncRequestsTotal(endpoint string, status int)
	ObserveRequestDuration(endpoint string, duration time.Duration)

	// Handler serves the Prometheus exposition format.
	Handler() http.Handler
}

// Provider is the Prometheus-backed Recorder. It owns its registry so
// several providers can coexist in one process.
type Provider struct {
	registry *prometheus.Registry

	commandsTotal   *prometheus.CounterVec
	commandErrors   *prometheus.CounterVec
	pollsTotal      *prometheus.CounterVec
	pollDuration    *prometheus.HistogramVec
	available       *prometheus.GaugeVec
	imageCacheHits  prometheus.Counter
	imageCacheMiss  prometheus.Counter
	imageCacheSkip  prometheus.Counter
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New returns a Prometheus Recorder, or a no-op one when metrics are disabled.
func New(cfg config.MetricsConfig) Recorder {
	if !cfg.Enabled {
		return noopMetrics{}
	}
	return NewProvider(cfg.Namespace)
}

// NewProvider builds a Provider registering its collectors under namespace.
func NewProvider(namespace string) *Provider {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Provider{
		registry: reg,

		commandsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands dispatched to Roku devices",
		}, []string{"command"}),

		commandErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_errors_total",
			Help:      "Vendor call failures by kind (connection, response)",
		}, []string{"kind"}),

		pollsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Device polls by result",
		}, []string{"device_id", "result"}),

		pollDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Device poll duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"full"}),

		available: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_available",
			Help:      "1 when the last poll of the device succeeded",
		}, []string{"device_id"}),

		imageCacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_cache_hits_total",
			Help:      "Browse image cache hits",
		}),

		imageCacheMiss: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_cache_misses_total",
			Help:      "Browse image cache misses",
		}),

		imageCacheSkip: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_cache_skipped_total",
			Help:      "Fetched browse images too large to cache",
		}),

		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests",
		}, []string{"endpoint", "status"}),

		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP API request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}
}

func (p *Provider) IncCommand(command string) {
	p.commandsTotal.WithLabelValues(command).Inc()
}

func (p *Provider) IncCommandError(kind string) {
	p.commandErrors.WithLabelValues(kind).Inc()
}

func (p *Provider) ObservePoll(deviceID string, full bool, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	p.pollsTotal.WithLabelValues(deviceID, result).Inc()
	p.pollDuration.WithLabelValues(boolLabel(full)).Observe(duration.Seconds())
}

func (p *Provider) SetAvailable(deviceID string, available bool) {
	v := 0.0
	if available {
		v = 1
	}
	p.available.WithLabelValues(deviceID).Set(v)
}

func (p *Provider) IncImageCacheHit() {
	p.imageCacheHits.Inc()
}

func (p *Provider) IncImageCacheMiss() {
	p.imageCacheMiss.Inc()
}

func (p *Provider) IncImageCacheSkip() {
	p.imageCacheSkip.Inc()
}

func (p *Provider) IncRequestsTotal(endpoint string, status int) {
	p.requestsTotal.WithLabelValues(endpoint, httpStatusBucket(status)).Inc()
}

func (p *Provider) ObserveRequestDuration(endpoint string, duration time.Duration) {
	p.requestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// Handler serves this provider's registry.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func httpStatusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// noopMetrics is used when metrics are disabled.
type noopMetrics struct{}

func (noopMetrics) IncCommand(string)                              {}
func (noopMetrics) IncCommandError(string)                         {}
func (noopMetrics) ObservePoll(string, bool, time.Duration, error) {}
func (noopMetrics) SetAvailable(string, bool)                      {}
func (noopMetrics) IncImageCacheHit()                              {}
func (noopMetrics) IncImageCacheMiss()                             {}
func (noopMetrics) IncImageCacheSkip()                             {}
func (noopMetrics) IncRequestsTotal(string, int)                   {}
func (noopMetrics) ObserveRequestDuration(string, time.Duration)   {}

func (noopMetrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "metrics disabled", http.StatusNotFound)
	})
}
