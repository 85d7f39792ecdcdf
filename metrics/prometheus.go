package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vcsd"

// PrometheusMetrics holds the service collectors on a private registry.
// A nil *PrometheusMetrics is valid and records nothing.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInFlight prometheus.Gauge

	// Version control metrics
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	fallbackReads     *prometheus.CounterVec
	mirrorFailures    prometheus.Counter
	repositories      prometheus.Gauge
	recoveries        prometheus.Counter

	// Broadcast metrics
	eventsPublished *prometheus.CounterVec
	eventsDropped   prometheus.Counter
	wsConnections   prometheus.Gauge
}

// NewPrometheusMetrics creates a new metrics instance with Go runtime and
// process collectors registered.
func NewPrometheusMetrics() *PrometheusMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &PrometheusMetrics{
		registry: reg,
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "The total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		httpInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Number of HTTP requests being served",
		}),
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Version control operations by outcome",
		}, []string{"operation", "outcome"}),
		operationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Version control operation latency",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"operation"}),
		fallbackReads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_reads_total",
			Help:      "Reads served from the document store instead of the repository",
		}, []string{"reason"}),
		mirrorFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_failures_total",
			Help:      "Failed document store mirror writes",
		}),
		repositories: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "repositories_open",
			Help:      "Repository handles currently cached",
		}),
		recoveries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repository_recoveries_total",
			Help:      "Repositories re-created after corruption",
		}),
		eventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events published by kind",
		}, []string{"kind"}),
		eventsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped because a queue was full",
		}),
		wsConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Open websocket subscriber connections",
		}),
	}
}

// Registry exposes the underlying registry.
func (p *PrometheusMetrics) Registry() *prometheus.Registry {
	return p.registry
}

// RecordHTTPRequest records an HTTP request
func (p *PrometheusMetrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if p == nil {
		return
	}
	p.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	p.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveOperation records one version control operation. outcome is
// "ok" or an error kind.
func (p *PrometheusMetrics) ObserveOperation(op, outcome string, duration time.Duration) {
	if p == nil {
		return
	}
	p.operations.WithLabelValues(op, outcome).Inc()
	p.operationDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) IncFallbackRead(reason string) {
	if p == nil {
		return
	}
	p.fallbackReads.WithLabelValues(reason).Inc()
}

func (p *PrometheusMetrics) IncMirrorFailure() {
	if p == nil {
		return
	}
	p.mirrorFailures.Inc()
}

// SetRepositoryCount sets the current repository count
func (p *PrometheusMetrics) SetRepositoryCount(count int) {
	if p == nil {
		return
	}
	p.repositories.Set(float64(count))
}

func (p *PrometheusMetrics) IncRecovery() {
	if p == nil {
		return
	}
	p.recoveries.Inc()
}

func (p *PrometheusMetrics) IncEventPublished(kind string) {
	if p == nil {
		return
	}
	p.eventsPublished.WithLabelValues(kind).Inc()
}

func (p *PrometheusMetrics) IncEventDropped() {
	if p == nil {
		return
	}
	p.eventsDropped.Inc()
}

func (p *PrometheusMetrics) IncWebSocketConnections() {
	if p == nil {
		return
	}
	p.wsConnections.Inc()
}

func (p *PrometheusMetrics) DecWebSocketConnections() {
	if p == nil {
		return
	}
	p.wsConnections.Dec()
}

// PrometheusHandler returns a Gin handler serving the registry
func (p *PrometheusMetrics) PrometheusHandler() gin.HandlerFunc {
	h := promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
	return gin.WrapH(h)
}

// GinMiddleware returns a Gin middleware for collecting HTTP metrics.
// Requests are labelled by route template so project IDs do not explode
// label cardinality.
func (p *PrometheusMetrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		p.httpInFlight.Inc()
		defer p.httpInFlight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		p.RecordHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
