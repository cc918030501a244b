package kueri

import (
	"context"
	"sync"
	"time"
)

// Pager drives cursor-style incremental loading over the Store. It owns
// only the page cursor and the has-more latch; caching, de-duplication and
// retries belong to the shared Store, and concatenating pages belongs to
// the caller.
type Pager struct {
	store    *Store
	baseKey  Key
	fetch    PageFetchFunc
	pageSize int

	staleTime time.Duration
	cacheTime time.Duration

	mu       sync.Mutex
	page     int
	hasMore  bool
	inFlight bool
}

// Pager creates a pagination controller using the client's configured page
// size. Page 0 means nothing has been loaded yet; the first LoadMore
// fetches page 1.
func (c *Client) Pager(baseKey Key, fetch PageFetchFunc) *Pager {
	return NewPager(c.store, baseKey, fetch, c.pageSize, c.staleTime, c.cacheTime)
}

// NewPager creates a pagination controller against an explicit store. The
// pager's pageSize is the single source of truth: it is passed to every
// fetch and compared against every returned page.
func NewPager(store *Store, baseKey Key, fetch PageFetchFunc, pageSize int, staleTime, cacheTime time.Duration) *Pager {
	return &Pager{
		store:     store,
		baseKey:   baseKey,
		fetch:     fetch,
		pageSize:  pageSize,
		staleTime: staleTime,
		cacheTime: cacheTime,
		hasMore:   true,
	}
}

// LoadMore fetches the next page and returns its items. It is a no-op
// returning (nil, nil) while a page fetch is in flight or after the list is
// exhausted. A page shorter than pageSize (or empty) latches hasMore=false
// until Reset.
func (p *Pager) LoadMore(ctx context.Context) ([]any, error) {
	p.mu.Lock()
	if p.inFlight || !p.hasMore {
		p.mu.Unlock()
		return nil, nil
	}
	p.inFlight = true
	next := p.page + 1
	pageSize := p.pageSize
	p.mu.Unlock()

	key := p.baseKey.Append("page", next)
	snap, err := p.store.EnsureFresh(ctx, key, func(ctx context.Context) (any, error) {
		items, ferr := p.fetch(ctx, next, pageSize)
		if ferr != nil {
			return nil, ferr
		}
		return items, nil
	}, EnsureOptions{StaleTime: p.staleTime, CacheTime: p.cacheTime})

	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight = false

	if err != nil {
		// The cursor does not advance on failure; the caller may retry the
		// same page.
		return nil, err
	}

	items, _ := snap.Data.([]any)
	p.page = next
	if len(items) < pageSize {
		p.hasMore = false
	}
	return items, nil
}

// Reset returns to the initial state and invalidates every fetched page so
// the next LoadMore refetches from page 1.
func (p *Pager) Reset() {
	p.mu.Lock()
	fetched := p.page
	p.page = 0
	p.hasMore = true
	p.mu.Unlock()

	for i := 1; i <= fetched; i++ {
		p.store.Invalidate(p.baseKey.Append("page", i))
	}
}

// Page returns the last successfully fetched page number, 0 before any.
func (p *Pager) Page() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.page
}

// HasMore reports whether another page may exist.
func (p *Pager) HasMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasMore
}

// InFlight reports whether a page fetch is currently running.
func (p *Pager) InFlight() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

// PageSize returns the configured page size.
func (p *Pager) PageSize() int {
	return p.pageSize
}
