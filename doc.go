// Package kueri is the data-access and resilience layer for dashboard-style
// API clients. Many independent views poll, fetch, paginate and aggregate
// data from a remote analytics API; kueri gives them one shared set of
// primitives:
//
//   - Transport: base URL, fixed deadline, JSON negotiation, bearer token
//     injection and a global session-expiry side channel on 401
//   - Retry policy with exponential backoff and a ceiling (pure, timing-free)
//   - Query cache with stale-time / cache-time windows, in-flight request
//     de-duplication and stale-while-error semantics
//   - Query handles with explicit Start/Stop lifecycle and interval polling
//   - Pager for incremental page loading, Debouncer for keystroke-driven
//     keys, FanOut for per-entity request batches tolerant of partial failure
//   - Prometheus metrics and lightweight structured debug logging
//
// Design goals:
//   - Small surface area: functional options configure everything
//   - Safe concurrent use of a single *Client instance
//   - Every timer and in-flight operation is cancellable; nothing fires into
//     a stopped scope
//
// Typical usage:
//
//	client := kueri.New("https://api.example.com",
//	    kueri.WithTokenStore(kueri.NewMemoryTokenStore("")),
//	    kueri.WithStaleTime(5*time.Minute),
//	    kueri.WithRetryCount(3),
//	)
//	q := client.Query(kueri.K("dashboardMetrics"), fetchMetrics,
//	    kueri.WithPolling(30*time.Second))
//	q.Start(ctx)
//	defer q.Stop()
//
// Fetch results flow through the shared cache: two views asking for the same
// key before the first fetch resolves produce exactly one network call, and a
// failed refresh keeps the last good value visible alongside the error.
package kueri
