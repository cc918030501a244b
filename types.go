package kueri

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Key is an ordered tuple identifying a logical request, e.g.
// K("segmentInsights", segmentID). Two keys address the same cache entry
// when their canonical forms are equal; equality is structural, never
// reference-based.
type Key []any

// K builds a Key from its parts.
func K(parts ...any) Key {
	return Key(parts)
}

// Append returns a new Key with the given parts appended. The receiver is
// not modified.
func (k Key) Append(parts ...any) Key {
	out := make(Key, 0, len(k)+len(parts))
	out = append(out, k...)
	out = append(out, parts...)
	return out
}

// Canonical returns the serialized identity of the key used for cache
// addressing and de-duplication.
func (k Key) Canonical() string {
	b, err := json.Marshal([]any(k))
	if err != nil {
		// Non-serializable parts degrade to their printed form.
		return fmt.Sprintf("%v", []any(k))
	}
	return string(b)
}

// Equal reports whether two keys are structurally equal.
func (k Key) Equal(other Key) bool {
	return k.Canonical() == other.Canonical()
}

// name returns a low-cardinality label for metrics: the first key part when
// it is a string, otherwise the canonical form.
func (k Key) name() string {
	if len(k) > 0 {
		if s, ok := k[0].(string); ok {
			return s
		}
	}
	return k.Canonical()
}

// Status is the lifecycle state of a query entry.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Snapshot is the read-only view of a query entry handed to callers. Data
// and Err may be populated simultaneously: a failed refresh keeps the last
// good value (stale-while-error).
type Snapshot struct {
	Key        Key
	Status     Status
	Data       any
	Err        error
	FetchedAt  time.Time
	StaleAt    time.Time
	RetryCount int
}

// IsLoading reports whether a fetch is in progress for this snapshot.
func (s Snapshot) IsLoading() bool { return s.Status == StatusLoading }

// IsError reports whether the last fetch ended in a terminal failure.
func (s Snapshot) IsError() bool { return s.Status == StatusError }

// IsSuccess reports whether the entry holds a successfully fetched value.
func (s Snapshot) IsSuccess() bool { return s.Status == StatusSuccess }

// FetchFunc loads the value for a key. Implementations must honor ctx.
type FetchFunc func(ctx context.Context) (any, error)

// KeyedFetchFunc loads the value for the key it is given. Query handles use
// it so one function serves a handle whose key changes over time.
type KeyedFetchFunc func(ctx context.Context, key Key) (any, error)

// PageFetchFunc loads one page of a paginated list. The pager passes its own
// page size so there is a single source of truth for the has-more decision.
type PageFetchFunc func(ctx context.Context, page, pageSize int) ([]any, error)

// EntityFetchFunc loads data for a single entity in a fan-out batch.
type EntityFetchFunc func(ctx context.Context, entityID string) (any, error)

// EntityResult is one per-entity outcome of a fan-out. Exactly one of Data
// and Err is set; a failed entity never affects its siblings.
type EntityResult struct {
	EntityID string
	Data     any
	Err      error
}

// Option represents a configuration option for the Client.
type Option func(*Client)

// QueryOption configures an individual Query handle.
type QueryOption func(*Query)

// EnsureOptions controls a single EnsureFresh invocation on the Store.
type EnsureOptions struct {
	// StaleTime overrides the store default when positive.
	StaleTime time.Duration
	// CacheTime overrides the store default when positive.
	CacheTime time.Duration
	// Force bypasses the staleness check, never in-flight de-duplication.
	Force bool
}
