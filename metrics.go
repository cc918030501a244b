package kueri

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the request lifecycle and
// the resilience layers. All record methods are nil-safe so instrumentation
// can stay unconditional at call sites.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	retriesTotal *prometheus.CounterVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	cacheSize   *prometheus.GaugeVec

	deduplicationHits *prometheus.CounterVec

	fanOutEntities *prometheus.CounterVec

	sessionExpiredTotal prometheus.Counter

	errorsTotal *prometheus.CounterVec

	registry prometheus.Registerer
}

// NewMetricsCollector creates a metrics collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using the supplied
// registerer.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	mc := &MetricsCollector{
		requestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "kueri_requests_total",
				Help: "Total number of HTTP requests made",
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kueri_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		requestsInFlight: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kueri_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
			[]string{"method", "endpoint"},
		),
		retriesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "kueri_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"query", "attempt"},
		),
		cacheHits: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "kueri_cache_hits_total",
				Help: "Total number of fresh cache hits served without a fetch",
			},
			[]string{"query"},
		),
		cacheMisses: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "kueri_cache_misses_total",
				Help: "Total number of cache misses that triggered a fetch",
			},
			[]string{"query"},
		),
		cacheSize: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kueri_cache_size",
				Help: "Current number of settled entries in the query cache",
			},
			[]string{"name"},
		),
		deduplicationHits: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "kueri_deduplication_hits_total",
				Help: "Total number of callers attached to an in-flight fetch",
			},
			[]string{"query"},
		),
		fanOutEntities: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "kueri_fanout_entities_total",
				Help: "Total number of per-entity fan-out outcomes",
			},
			[]string{"outcome"},
		),
		sessionExpiredTotal: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "kueri_session_expired_total",
				Help: "Total number of session-expiry events fired on 401 responses",
			},
		),
		errorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "kueri_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type", "endpoint"},
		),
		registry: registry,
	}

	return mc
}

// RecordRequest records request count and duration.
func (mc *MetricsCollector) RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if mc == nil {
		return
	}

	mc.requestsTotal.WithLabelValues(method, strconv.Itoa(statusCode), endpoint).Inc()
	mc.requestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordRequestStart increments the in-flight gauge.
func (mc *MetricsCollector) RecordRequestStart(method, endpoint string) {
	if mc == nil {
		return
	}

	mc.requestsInFlight.WithLabelValues(method, endpoint).Inc()
}

// RecordRequestEnd decrements the in-flight gauge.
func (mc *MetricsCollector) RecordRequestEnd(method, endpoint string) {
	if mc == nil {
		return
	}

	mc.requestsInFlight.WithLabelValues(method, endpoint).Dec()
}

// RecordRetry increments the retry counter for an attempt.
func (mc *MetricsCollector) RecordRetry(query string, attempt int) {
	if mc == nil {
		return
	}

	mc.retriesTotal.WithLabelValues(query, strconv.Itoa(attempt)).Inc()
}

// RecordCacheHit increments the fresh-hit counter.
func (mc *MetricsCollector) RecordCacheHit(query string) {
	if mc == nil {
		return
	}

	mc.cacheHits.WithLabelValues(query).Inc()
}

// RecordCacheMiss increments the miss counter.
func (mc *MetricsCollector) RecordCacheMiss(query string) {
	if mc == nil {
		return
	}

	mc.cacheMisses.WithLabelValues(query).Inc()
}

// RecordCacheSize sets the settled-entry gauge.
func (mc *MetricsCollector) RecordCacheSize(name string, size int) {
	if mc == nil {
		return
	}

	mc.cacheSize.WithLabelValues(name).Set(float64(size))
}

// RecordDeduplicationHit increments the attached-waiter counter.
func (mc *MetricsCollector) RecordDeduplicationHit(query string) {
	if mc == nil {
		return
	}

	mc.deduplicationHits.WithLabelValues(query).Inc()
}

// RecordFanOutEntity records one per-entity fan-out outcome
// ("success" or "error").
func (mc *MetricsCollector) RecordFanOutEntity(outcome string) {
	if mc == nil {
		return
	}

	mc.fanOutEntities.WithLabelValues(outcome).Inc()
}

// RecordSessionExpired increments the session-expiry counter.
func (mc *MetricsCollector) RecordSessionExpired() {
	if mc == nil {
		return
	}

	mc.sessionExpiredTotal.Inc()
}

// RecordError increments the error counter by classification.
func (mc *MetricsCollector) RecordError(errorType, endpoint string) {
	if mc == nil {
		return
	}

	mc.errorsTotal.WithLabelValues(errorType, endpoint).Inc()
}
