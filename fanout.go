package kueri

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// FanOut issues one query per entity concurrently through the Store and
// returns per-entity results in input order once every fetch has settled.
// One entity's failure is captured in its slot and never aborts or delays
// its siblings; partial failure is the expected outcome here, not an
// exception.
func (c *Client) FanOut(ctx context.Context, baseKey Key, entityIDs []string, fetch EntityFetchFunc) []EntityResult {
	return fanOut(ctx, c.store, baseKey, entityIDs, fetch, fanOutConfig{
		limit:     c.fanOutLimit,
		staleTime: c.staleTime,
		cacheTime: c.cacheTime,
		metrics:   c.metrics,
		logger:    c.logger,
		debug:     c.debug,
	})
}

type fanOutConfig struct {
	limit     int
	staleTime time.Duration
	cacheTime time.Duration
	metrics   *MetricsCollector
	logger    Logger
	debug     *DebugConfig
}

func fanOut(ctx context.Context, store *Store, baseKey Key, entityIDs []string, fetch EntityFetchFunc, cfg fanOutConfig) []EntityResult {
	results := make([]EntityResult, len(entityIDs))

	var g errgroup.Group
	if cfg.limit > 0 {
		g.SetLimit(cfg.limit)
	}

	for i, id := range entityIDs {
		i, id := i, id
		g.Go(func() error {
			snap, err := store.EnsureFresh(ctx, baseKey.Append(id), func(ctx context.Context) (any, error) {
				return fetch(ctx, id)
			}, EnsureOptions{StaleTime: cfg.staleTime, CacheTime: cfg.cacheTime})
			if err != nil {
				results[i] = EntityResult{EntityID: id, Err: err}
				cfg.metrics.RecordFanOutEntity("error")
				if cfg.debug.logFanOut() && cfg.logger != nil {
					cfg.logger.Warn("fan-out entity failed", "entity", id, "error", err.Error())
				}
				return nil
			}
			results[i] = EntityResult{EntityID: id, Data: snap.Data}
			cfg.metrics.RecordFanOutEntity("success")
			return nil
		})
	}

	// Goroutines never return errors; Wait only synchronizes settlement.
	_ = g.Wait()
	return results
}
