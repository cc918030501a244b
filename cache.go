package kueri

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Entry is a settled query result owned by the Store. Callers only ever see
// Snapshots of it.
type Entry struct {
	Key        Key
	Status     Status
	Data       any
	Err        error
	FetchedAt  time.Time
	StaleAt    time.Time
	RetryCount int
}

// Snapshot returns the read-only view of the entry.
func (e *Entry) Snapshot() Snapshot {
	if e == nil {
		return Snapshot{Status: StatusIdle}
	}
	return Snapshot{
		Key:        e.Key,
		Status:     e.Status,
		Data:       e.Data,
		Err:        e.Err,
		FetchedAt:  e.FetchedAt,
		StaleAt:    e.StaleAt,
		RetryCount: e.RetryCount,
	}
}

// flight is one in-flight fetch shared between the owner and any callers
// that attached while it was running.
type flight struct {
	seq   uint64
	done  chan struct{}
	entry *Entry
}

// wait blocks until the owning fetch completes or ctx cancels.
func (f *flight) wait(ctx context.Context) (*Entry, error) {
	select {
	case <-f.done:
		return f.entry, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Store is the central resilience primitive: a key-addressed cache of query
// results with freshness (stale-time) and retention (cache-time) windows,
// in-flight de-duplication and stale-while-error semantics. Settled entries
// live in a TTL cache whose per-entry lifetime is the cache-time, extended
// on access; unobserved entries age out on their own.
type Store struct {
	mu       sync.Mutex
	results  *ttlcache.Cache[string, *Entry]
	inflight map[string]*flight
	// seq makes the most recently *triggered* fetch authoritative per key:
	// a slower, older fetch that completes after an invalidation must not
	// overwrite fresher state.
	seq map[string]uint64

	policy    RetryPolicy
	staleTime time.Duration
	cacheTime time.Duration

	metrics *MetricsCollector
	logger  Logger
	debug   *DebugConfig
}

// NewStore creates a store with the given retry policy and default
// freshness/retention windows. Callers must Close it when done.
func NewStore(policy RetryPolicy, staleTime, cacheTime time.Duration) *Store {
	results := ttlcache.New(
		ttlcache.WithTTL[string, *Entry](cacheTime),
	)
	go results.Start()

	return &Store{
		results:   results,
		inflight:  make(map[string]*flight),
		seq:       make(map[string]uint64),
		policy:    policy,
		staleTime: staleTime,
		cacheTime: cacheTime,
	}
}

// Close stops the background eviction loop.
func (s *Store) Close() {
	s.results.Stop()
}

// Len returns the number of settled entries currently retained.
func (s *Store) Len() int {
	return s.results.Len()
}

// Get returns the settled snapshot for key without triggering a fetch.
func (s *Store) Get(key Key) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.results.Get(key.Canonical())
	if item == nil {
		return Snapshot{Status: StatusIdle, Key: key}, false
	}
	return item.Value().Snapshot(), true
}

// EnsureFresh returns the cached value for key when it is still fresh;
// otherwise it starts (or attaches to) a fetch. At most one network call is
// ever in flight per key: concurrent callers attach to the same flight and
// receive the same result. On terminal failure the previous data, if any,
// is carried forward so views can keep rendering the last good value.
func (s *Store) EnsureFresh(ctx context.Context, key Key, fetch FetchFunc, opts EnsureOptions) (Snapshot, error) {
	canonical := key.Canonical()
	staleTime := opts.StaleTime
	if staleTime <= 0 {
		staleTime = s.staleTime
	}
	cacheTime := opts.CacheTime
	if cacheTime <= 0 {
		cacheTime = s.cacheTime
	}

	s.mu.Lock()

	var prev *Entry
	if item := s.results.Get(canonical); item != nil {
		prev = item.Value()
	}

	if !opts.Force && prev != nil && prev.Status == StatusSuccess && time.Now().Before(prev.StaleAt) {
		s.mu.Unlock()
		s.metrics.RecordCacheHit(key.name())
		if s.debug.logCache() && s.logger != nil {
			s.logger.Debug("cache hit", "key", canonical)
		}
		return prev.Snapshot(), nil
	}

	// Attach only to a flight that is still authoritative; a superseded one
	// (invalidated mid-flight) no longer satisfies new callers.
	if fl, ok := s.inflight[canonical]; ok && fl.seq == s.seq[canonical] {
		s.mu.Unlock()
		s.metrics.RecordDeduplicationHit(key.name())
		if s.debug.logCache() && s.logger != nil {
			s.logger.Debug("attached to in-flight fetch", "key", canonical)
		}
		entry, err := fl.wait(ctx)
		if err != nil {
			return Snapshot{Key: key, Status: StatusLoading}, err
		}
		return entry.Snapshot(), entry.Err
	}

	s.seq[canonical]++
	fl := &flight{seq: s.seq[canonical], done: make(chan struct{})}
	s.inflight[canonical] = fl
	s.mu.Unlock()

	s.metrics.RecordCacheMiss(key.name())

	// The flight runs detached from the triggering caller: an unmounted view
	// must not abort a fetch that attached siblings are waiting on, and a
	// canceled trigger must never write a cancellation error into the shared
	// cache. The trigger waits like any other caller and may give up alone.
	flightCtx := context.WithoutCancel(ctx)
	go func() {
		entry := s.runFetch(flightCtx, key, fetch, prev, staleTime)
		s.settle(canonical, fl, entry, cacheTime)
	}()

	entry, err := fl.wait(ctx)
	if err != nil {
		return Snapshot{Key: key, Status: StatusLoading}, err
	}
	return entry.Snapshot(), entry.Err
}

// runFetch executes fetch under the retry policy. ctx is the flight's own
// context, not a caller's; backoff sleeps stay context-aware for callers
// that run a fetch under a bounded context directly.
func (s *Store) runFetch(ctx context.Context, key Key, fetch FetchFunc, prev *Entry, staleTime time.Duration) *Entry {
	attempt := 0
	for {
		data, err := fetch(ctx)
		if err == nil {
			now := time.Now()
			return &Entry{
				Key:        key,
				Status:     StatusSuccess,
				Data:       data,
				FetchedAt:  now,
				StaleAt:    now.Add(staleTime),
				RetryCount: attempt,
			}
		}

		delay, retry := s.policy.ShouldRetry(err, attempt)
		if !retry || ctx.Err() != nil {
			return failureEntry(key, err, attempt, prev)
		}

		attempt++
		s.metrics.RecordRetry(key.name(), attempt)
		if s.debug.logRetries() && s.logger != nil {
			s.logger.Info("scheduling retry", "key", key.Canonical(), "attempt", attempt, "backoff", delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return failureEntry(key, ctx.Err(), attempt, prev)
		case <-timer.C:
		}
	}
}

// failureEntry builds a terminal error entry. Stale-while-error: the last
// good value stays queryable next to the surfaced error, and StaleAt stays
// in the past so any new trigger refetches.
func failureEntry(key Key, err error, attempt int, prev *Entry) *Entry {
	entry := &Entry{
		Key:        key,
		Status:     StatusError,
		Err:        err,
		RetryCount: attempt,
	}
	if prev != nil && prev.Data != nil {
		entry.Data = prev.Data
		entry.FetchedAt = prev.FetchedAt
	}
	return entry
}

// settle publishes a completed flight. A flight that was superseded by an
// invalidation still releases its waiters (they asked for that fetch) but
// its result is discarded rather than written over fresher state.
func (s *Store) settle(canonical string, fl *flight, entry *Entry, cacheTime time.Duration) {
	s.mu.Lock()
	if s.seq[canonical] == fl.seq {
		s.results.Set(canonical, entry, cacheTime)
	} else if s.debug.logCache() && s.logger != nil {
		s.logger.Debug("discarding superseded fetch result", "key", canonical)
	}
	if s.inflight[canonical] == fl {
		delete(s.inflight, canonical)
		// No flight left to supersede; dropping the counter keeps the seq
		// map bounded by the number of in-flight keys.
		delete(s.seq, canonical)
	}
	fl.entry = entry
	close(fl.done)
	s.mu.Unlock()

	s.metrics.RecordCacheSize("default", s.results.Len())
}

// Invalidate drops the settled entry for key and marks any in-flight fetch
// for it as superseded.
func (s *Store) Invalidate(key Key) {
	canonical := key.Canonical()

	s.mu.Lock()
	if _, ok := s.inflight[canonical]; ok {
		s.seq[canonical]++
	}
	s.results.Delete(canonical)
	s.mu.Unlock()

	s.metrics.RecordCacheSize("default", s.results.Len())
}

// InvalidateAll drops every settled entry and supersedes all in-flight
// fetches.
func (s *Store) InvalidateAll() {
	s.mu.Lock()
	for canonical := range s.inflight {
		s.seq[canonical]++
	}
	s.results.DeleteAll()
	s.mu.Unlock()

	s.metrics.RecordCacheSize("default", 0)
}
