package kueri

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func newQueryClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	c := New("http://api.invalid",
		append([]Option{WithRetryCount(0), WithRetryBaseDelay(time.Millisecond)}, opts...)...)
	t.Cleanup(c.Close)
	return c
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestQueryStartFetches(t *testing.T) {
	c := newQueryClient(t)
	var calls int32
	q := c.Query(K("dashboardMetrics"), func(ctx context.Context, key Key) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "metrics", nil
	})

	if snap := q.Snapshot(); snap.Status != StatusIdle {
		t.Errorf("status before Start = %v, want idle", snap.Status)
	}

	q.Start(context.Background())
	defer q.Stop()

	waitFor(t, time.Second, func() bool { return q.Snapshot().IsSuccess() })
	snap := q.Snapshot()
	if snap.Data != "metrics" {
		t.Errorf("data = %v", snap.Data)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("fetch calls = %d, want 1", got)
	}
}

func TestQueryDisabledNeverFetches(t *testing.T) {
	c := newQueryClient(t)
	var calls int32
	q := c.Query(K("deps"), func(ctx context.Context, key Key) (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	}, WithEnabled(false))

	q.Start(context.Background())
	defer q.Stop()

	if err := q.Refetch(); !errors.Is(err, ErrQueryDisabled) {
		t.Errorf("Refetch on disabled query = %v, want ErrQueryDisabled", err)
	}
	time.Sleep(20 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Errorf("fetch calls = %d, want 0", got)
	}

	// Enabling triggers the deferred initial fetch.
	q.SetEnabled(true)
	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&calls) == 1 })
}

func TestQueryRefetchBypassesStaleness(t *testing.T) {
	c := newQueryClient(t)
	var calls int32
	q := c.Query(K("funnel"), func(ctx context.Context, key Key) (any, error) {
		return int(atomic.AddInt32(&calls, 1)), nil
	})

	q.Start(context.Background())
	defer q.Stop()
	waitFor(t, time.Second, func() bool { return q.Snapshot().IsSuccess() })

	if err := q.Refetch(); err != nil {
		t.Fatalf("Refetch failed: %v", err)
	}
	if snap := q.Snapshot(); snap.Data != 2 {
		t.Errorf("data = %v, want refetched value 2", snap.Data)
	}
}

func TestQueryRetryAfterFailure(t *testing.T) {
	c := newQueryClient(t)
	var fail atomic.Bool
	fail.Store(true)
	q := c.Query(K("flaky"), func(ctx context.Context, key Key) (any, error) {
		if fail.Load() {
			return nil, &RequestError{Type: ErrorTypeServer, StatusCode: 500, Message: "boom"}
		}
		return "ok", nil
	})

	q.Start(context.Background())
	defer q.Stop()
	waitFor(t, time.Second, func() bool { return q.Snapshot().IsError() })

	fail.Store(false)
	if err := q.Retry(); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	snap := q.Snapshot()
	if !snap.IsSuccess() || snap.Data != "ok" {
		t.Errorf("snapshot after retry = %+v", snap)
	}
	// The retry started with a fresh budget.
	if snap.RetryCount != 0 {
		t.Errorf("retry count = %d, want 0", snap.RetryCount)
	}
}

func TestQueryPolling(t *testing.T) {
	c := newQueryClient(t)
	var calls int32
	q := c.Query(K("live"), func(ctx context.Context, key Key) (any, error) {
		return int(atomic.AddInt32(&calls, 1)), nil
	}, WithPolling(10*time.Millisecond))

	q.Start(context.Background())
	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&calls) >= 3 })
	q.Stop()

	// After Stop the ticker is released; no further fetches run.
	settled := atomic.LoadInt32(&calls)
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != settled {
		t.Errorf("fetch calls after Stop = %d, want %d", got, settled)
	}
}

func TestQuerySetKeyLastTriggerWins(t *testing.T) {
	c := newQueryClient(t)
	releaseSlow := make(chan struct{})
	slowStarted := make(chan struct{}, 1)

	q := c.Query(K("insights", "slow"), func(ctx context.Context, key Key) (any, error) {
		if key.Equal(K("insights", "slow")) {
			slowStarted <- struct{}{}
			<-releaseSlow
			return "slow result", nil
		}
		return "fast result", nil
	})

	q.Start(context.Background())
	defer q.Stop()
	<-slowStarted

	// Re-key while the slow fetch is still in flight.
	q.SetKey(K("insights", "fast"))
	waitFor(t, time.Second, func() bool {
		snap := q.Snapshot()
		return snap.IsSuccess() && snap.Data == "fast result"
	})

	// The slow result arrives afterwards and must be discarded.
	close(releaseSlow)
	time.Sleep(20 * time.Millisecond)
	snap := q.Snapshot()
	if snap.Data != "fast result" {
		t.Errorf("data = %v, stale result overwrote the fresh one", snap.Data)
	}
	if !snap.Key.Equal(K("insights", "fast")) {
		t.Errorf("key = %v", snap.Key)
	}
}

func TestQuerySetKeySameKeyNoop(t *testing.T) {
	c := newQueryClient(t)
	var calls int32
	q := c.Query(K("same"), func(ctx context.Context, key Key) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "v", nil
	})

	q.Start(context.Background())
	defer q.Stop()
	waitFor(t, time.Second, func() bool { return q.Snapshot().IsSuccess() })

	q.SetKey(K("same"))
	time.Sleep(20 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("fetch calls = %d, want 1", got)
	}
}

func TestQueryStopDiscardsInFlightResult(t *testing.T) {
	c := newQueryClient(t)
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	q := c.Query(K("stopped"), func(ctx context.Context, key Key) (any, error) {
		started <- struct{}{}
		<-release
		return "late", nil
	})

	q.Start(context.Background())
	<-started
	q.Stop()
	close(release)

	time.Sleep(20 * time.Millisecond)
	if snap := q.Snapshot(); snap.IsSuccess() {
		t.Errorf("late result applied after Stop: %+v", snap)
	}
}

func TestQueryLoadingKeepsPriorData(t *testing.T) {
	c := newQueryClient(t)
	release := make(chan struct{})
	var first atomic.Bool
	first.Store(true)

	var sawLoadingWithData atomic.Bool
	q := c.Query(K("spinner"), func(ctx context.Context, key Key) (any, error) {
		if first.Load() {
			first.Store(false)
			return "initial", nil
		}
		<-release
		return "refreshed", nil
	}, WithOnUpdate(func(snap Snapshot) {
		if snap.IsLoading() && snap.Data == "initial" {
			sawLoadingWithData.Store(true)
		}
	}))

	q.Start(context.Background())
	defer q.Stop()
	waitFor(t, time.Second, func() bool { return q.Snapshot().IsSuccess() })

	go func() { _ = q.Refetch() }()
	waitFor(t, time.Second, func() bool { return sawLoadingWithData.Load() })
	close(release)
}

func TestQuerySharedStoreDeduplicatesHandles(t *testing.T) {
	c := newQueryClient(t)
	var calls int32
	fetch := func(ctx context.Context, key Key) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "shared", nil
	}

	q1 := c.Query(K("shared"), fetch)
	q2 := c.Query(K("shared"), fetch)

	q1.Start(context.Background())
	defer q1.Stop()
	waitFor(t, time.Second, func() bool { return q1.Snapshot().IsSuccess() })

	// The second handle is served from the shared cache.
	q2.Start(context.Background())
	defer q2.Stop()
	waitFor(t, time.Second, func() bool { return q2.Snapshot().IsSuccess() })

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("fetch calls = %d, want 1 across handles", got)
	}
}
