package kueri

import (
	"context"
	"sync"
	"time"
)

// Query is a scoped-acquisition handle over the Store for one logical
// request. Start arms the initial fetch and, when configured, the polling
// ticker; Stop releases every timer and makes late fetch results no-ops.
// Snapshots are safe to read from any goroutine.
type Query struct {
	store *Store
	fetch KeyedFetchFunc

	staleTime       time.Duration
	cacheTime       time.Duration
	refetchInterval time.Duration
	onUpdate        func(Snapshot)

	logger Logger
	debug  *DebugConfig

	mu      sync.Mutex
	key     Key
	enabled bool
	running bool
	// gen guards against late mutation: results from a superseded key (or
	// a stopped handle) are discarded, never applied to the snapshot.
	gen    uint64
	snap   Snapshot
	ctx    context.Context
	cancel context.CancelFunc
	ticker *time.Ticker
}

// Query creates a handle for key using the client's defaults. The handle
// does nothing until Start is called.
func (c *Client) Query(key Key, fetch KeyedFetchFunc, opts ...QueryOption) *Query {
	q := &Query{
		store:     c.store,
		fetch:     fetch,
		key:       key,
		staleTime: c.staleTime,
		cacheTime: c.cacheTime,
		enabled:   true,
		logger:    c.logger,
		debug:     c.debug,
		snap:      Snapshot{Key: key, Status: StatusIdle},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// WithQueryStaleTime overrides the freshness window for this query.
func WithQueryStaleTime(d time.Duration) QueryOption {
	return func(q *Query) {
		q.staleTime = d
	}
}

// WithQueryCacheTime overrides the retention window for this query.
func WithQueryCacheTime(d time.Duration) QueryOption {
	return func(q *Query) {
		q.cacheTime = d
	}
}

// WithPolling schedules a background refresh on the given period, even when
// the entry is not stale.
func WithPolling(interval time.Duration) QueryOption {
	return func(q *Query) {
		q.refetchInterval = interval
	}
}

// WithEnabled sets the initial enabled flag. Disabled queries never fetch;
// used for dependent queries awaiting a prerequisite value.
func WithEnabled(enabled bool) QueryOption {
	return func(q *Query) {
		q.enabled = enabled
	}
}

// WithOnUpdate registers a callback invoked with each new snapshot. It runs
// outside internal locks; implementations must not block for long.
func WithOnUpdate(fn func(Snapshot)) QueryOption {
	return func(q *Query) {
		q.onUpdate = fn
	}
}

// Start acquires the handle: it performs the initial fetch asynchronously
// and arms the polling ticker when configured. ctx bounds the whole
// lifetime; cancelling it is equivalent to Stop.
func (q *Query) Start(ctx context.Context) {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.ctx, q.cancel = context.WithCancel(ctx)
	gen := q.gen
	runCtx := q.ctx
	enabled := q.enabled
	interval := q.refetchInterval
	q.mu.Unlock()

	if enabled {
		go q.ensure(runCtx, gen, false)
	}
	if interval > 0 {
		q.mu.Lock()
		q.ticker = time.NewTicker(interval)
		ticker := q.ticker
		q.mu.Unlock()
		go q.pollLoop(runCtx, ticker)
	}
}

// Stop releases the handle: the polling ticker stops synchronously and any
// in-flight fetch result is discarded instead of applied.
func (q *Query) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	q.gen++
	if q.ticker != nil {
		q.ticker.Stop()
		q.ticker = nil
	}
	cancel := q.cancel
	q.cancel = nil
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Snapshot returns the current read-only view of the query.
func (q *Query) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snap
}

// Refetch forces a refresh, bypassing the staleness check but never
// in-flight de-duplication. It blocks until the fetch settles.
func (q *Query) Refetch() error {
	return q.trigger(true)
}

// Retry re-triggers the fetch after a failure with a fresh retry budget;
// the new attempt count starts at zero. Views expose this as the explicit
// retry affordance.
func (q *Query) Retry() error {
	return q.trigger(true)
}

// Revalidate refreshes only when the entry is stale, the trigger used on
// focus or visibility regain.
func (q *Query) Revalidate() error {
	return q.trigger(false)
}

func (q *Query) trigger(force bool) error {
	q.mu.Lock()
	if !q.running || q.ctx == nil {
		q.mu.Unlock()
		return nil
	}
	if !q.enabled {
		q.mu.Unlock()
		return ErrQueryDisabled
	}
	gen := q.gen
	runCtx := q.ctx
	q.mu.Unlock()

	return q.ensure(runCtx, gen, force)
}

// SetKey re-keys the query, e.g. when a view's parameters change. The old
// key's in-flight fetch keeps running at the network layer but can no
// longer update this handle: the most recently triggered key wins.
func (q *Query) SetKey(key Key) {
	q.mu.Lock()
	if q.key.Equal(key) {
		q.mu.Unlock()
		return
	}
	q.key = key
	q.gen++
	gen := q.gen
	q.snap = Snapshot{Key: key, Status: StatusIdle}
	running := q.running && q.enabled
	runCtx := q.ctx
	q.mu.Unlock()

	if running {
		go q.ensure(runCtx, gen, false)
	}
}

// SetEnabled flips the enabled flag; enabling a running query triggers an
// immediate fetch.
func (q *Query) SetEnabled(enabled bool) {
	q.mu.Lock()
	wasEnabled := q.enabled
	q.enabled = enabled
	gen := q.gen
	running := q.running
	runCtx := q.ctx
	q.mu.Unlock()

	if enabled && !wasEnabled && running {
		go q.ensure(runCtx, gen, false)
	}
}

// Key returns the current query key.
func (q *Query) Key() Key {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.key
}

func (q *Query) pollLoop(ctx context.Context, ticker *time.Ticker) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.mu.Lock()
			gen := q.gen
			enabled := q.enabled && q.running
			q.mu.Unlock()
			if !enabled {
				continue
			}
			if q.debug.logScheduler() && q.logger != nil {
				q.logger.Debug("polling tick", "key", q.Key().Canonical())
			}
			_ = q.ensure(ctx, gen, true)
		}
	}
}

// ensure runs one EnsureFresh pass and applies the result unless the handle
// moved on (new key, stop) while the fetch was in flight.
func (q *Query) ensure(ctx context.Context, gen uint64, force bool) error {
	q.mu.Lock()
	if gen != q.gen {
		q.mu.Unlock()
		return nil
	}
	key := q.key
	// Entering loading keeps prior data and error visible; views render
	// spinners next to the last good value.
	q.snap.Status = StatusLoading
	q.snap.Key = key
	loading := q.snap
	onUpdate := q.onUpdate
	q.mu.Unlock()

	if onUpdate != nil {
		onUpdate(loading)
	}

	snap, err := q.store.EnsureFresh(ctx, key, func(ctx context.Context) (any, error) {
		return q.fetch(ctx, key)
	}, EnsureOptions{
		StaleTime: q.staleTime,
		CacheTime: q.cacheTime,
		Force:     force,
	})

	q.mu.Lock()
	if gen != q.gen {
		// Superseded while in flight; discard without mutating state.
		q.mu.Unlock()
		return err
	}
	q.snap = snap
	onUpdate = q.onUpdate
	q.mu.Unlock()

	if onUpdate != nil {
		onUpdate(snap)
	}
	return err
}
