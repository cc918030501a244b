package kueri

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCollectorRecordsRequests(t *testing.T) {
	registry := prometheus.NewRegistry()
	mc := NewMetricsCollectorWithRegistry(registry)

	mc.RecordRequest("GET", "api.example.com/x", 200, 50*time.Millisecond)
	mc.RecordRequest("GET", "api.example.com/x", 200, 30*time.Millisecond)
	mc.RecordRequest("GET", "api.example.com/x", 502, 10*time.Millisecond)

	ok := testutil.ToFloat64(mc.requestsTotal.WithLabelValues("GET", "200", "api.example.com/x"))
	if ok != 2 {
		t.Errorf("requests_total{200} = %v, want 2", ok)
	}
	failed := testutil.ToFloat64(mc.requestsTotal.WithLabelValues("GET", "502", "api.example.com/x"))
	if failed != 1 {
		t.Errorf("requests_total{502} = %v, want 1", failed)
	}
}

func TestMetricsCollectorInFlightGauge(t *testing.T) {
	registry := prometheus.NewRegistry()
	mc := NewMetricsCollectorWithRegistry(registry)

	mc.RecordRequestStart("GET", "e")
	mc.RecordRequestStart("GET", "e")
	if got := testutil.ToFloat64(mc.requestsInFlight.WithLabelValues("GET", "e")); got != 2 {
		t.Errorf("in flight = %v, want 2", got)
	}
	mc.RecordRequestEnd("GET", "e")
	if got := testutil.ToFloat64(mc.requestsInFlight.WithLabelValues("GET", "e")); got != 1 {
		t.Errorf("in flight = %v, want 1", got)
	}
}

func TestMetricsCollectorCacheAndDedup(t *testing.T) {
	registry := prometheus.NewRegistry()
	mc := NewMetricsCollectorWithRegistry(registry)

	mc.RecordCacheHit("dashboardMetrics")
	mc.RecordCacheHit("dashboardMetrics")
	mc.RecordCacheMiss("dashboardMetrics")
	mc.RecordDeduplicationHit("dashboardMetrics")
	mc.RecordCacheSize("default", 5)

	if got := testutil.ToFloat64(mc.cacheHits.WithLabelValues("dashboardMetrics")); got != 2 {
		t.Errorf("cache hits = %v", got)
	}
	if got := testutil.ToFloat64(mc.cacheMisses.WithLabelValues("dashboardMetrics")); got != 1 {
		t.Errorf("cache misses = %v", got)
	}
	if got := testutil.ToFloat64(mc.deduplicationHits.WithLabelValues("dashboardMetrics")); got != 1 {
		t.Errorf("dedup hits = %v", got)
	}
	if got := testutil.ToFloat64(mc.cacheSize.WithLabelValues("default")); got != 5 {
		t.Errorf("cache size = %v", got)
	}
}

func TestMetricsCollectorRetriesAndErrors(t *testing.T) {
	registry := prometheus.NewRegistry()
	mc := NewMetricsCollectorWithRegistry(registry)

	mc.RecordRetry("flaky", 1)
	mc.RecordRetry("flaky", 2)
	mc.RecordError(ErrorTypeServer, "e")
	mc.RecordSessionExpired()
	mc.RecordFanOutEntity("success")
	mc.RecordFanOutEntity("error")

	if got := testutil.ToFloat64(mc.retriesTotal.WithLabelValues("flaky", "1")); got != 1 {
		t.Errorf("retries{1} = %v", got)
	}
	if got := testutil.ToFloat64(mc.errorsTotal.WithLabelValues(ErrorTypeServer, "e")); got != 1 {
		t.Errorf("errors = %v", got)
	}
	if got := testutil.ToFloat64(mc.sessionExpiredTotal); got != 1 {
		t.Errorf("session expired = %v", got)
	}
	if got := testutil.ToFloat64(mc.fanOutEntities.WithLabelValues("success")); got != 1 {
		t.Errorf("fanout success = %v", got)
	}
}

func TestMetricsCollectorNilSafe(t *testing.T) {
	var mc *MetricsCollector

	// All record methods must be no-ops on a nil collector.
	mc.RecordRequest("GET", "e", 200, time.Millisecond)
	mc.RecordRequestStart("GET", "e")
	mc.RecordRequestEnd("GET", "e")
	mc.RecordRetry("q", 1)
	mc.RecordCacheHit("q")
	mc.RecordCacheMiss("q")
	mc.RecordCacheSize("default", 1)
	mc.RecordDeduplicationHit("q")
	mc.RecordFanOutEntity("success")
	mc.RecordSessionExpired()
	mc.RecordError(ErrorTypeNetwork, "e")
}

func TestStoreRecordsMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	mc := NewMetricsCollectorWithRegistry(registry)

	store := NewStore(testPolicy(), 5*time.Minute, 10*time.Minute)
	store.metrics = mc
	t.Cleanup(store.Close)

	key := K("dashboardMetrics")
	fetch := func(ctx context.Context) (any, error) { return "v", nil }

	if _, err := store.EnsureFresh(context.Background(), key, fetch, EnsureOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.EnsureFresh(context.Background(), key, fetch, EnsureOptions{}); err != nil {
		t.Fatal(err)
	}

	if got := testutil.ToFloat64(mc.cacheMisses.WithLabelValues("dashboardMetrics")); got != 1 {
		t.Errorf("cache misses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(mc.cacheHits.WithLabelValues("dashboardMetrics")); got != 1 {
		t.Errorf("cache hits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(mc.cacheSize.WithLabelValues("default")); got != 1 {
		t.Errorf("cache size = %v, want 1", got)
	}
}
