package kueri

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// Analytics is the typed facade the dashboard views use: each method wraps
// the resilience core (cache, retry, de-duplication) around one endpoint of
// the behavioral-analytics API.
type Analytics struct {
	c *Client
}

// Analytics returns the typed API surface for this client.
func (c *Client) Analytics() *Analytics {
	return &Analytics{c: c}
}

// DashboardMetrics is the top-level overview payload.
type DashboardMetrics struct {
	TotalUsers     int     `json:"total_users"`
	TotalSessions  int     `json:"total_sessions"`
	TotalRevenue   float64 `json:"total_revenue"`
	ConversionRate float64 `json:"conversion_rate"`
	ActiveSegments int     `json:"active_segments"`
}

// Segment is one customer segment produced by the clustering service.
type Segment struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Size        int            `json:"size"`
	Criteria    map[string]any `json:"criteria"`
}

// SegmentInsights is the per-segment drill-down used by the fan-out views.
type SegmentInsights struct {
	SegmentID     string             `json:"segment_id"`
	Size          int                `json:"size"`
	AvgOrderValue float64            `json:"avg_order_value"`
	TopCategories []string           `json:"top_categories"`
	Metrics       map[string]float64 `json:"metrics"`
}

// SentimentSummary aggregates review sentiment, optionally per category.
type SentimentSummary struct {
	Positive float64 `json:"positive"`
	Negative float64 `json:"negative"`
	Neutral  float64 `json:"neutral"`
	Reviews  int     `json:"reviews"`
}

// FunnelStage is one step of the conversion funnel.
type FunnelStage struct {
	Stage          string  `json:"stage"`
	Users          int     `json:"users"`
	ConversionRate float64 `json:"conversion_rate"`
}

// RFMCell is one recency/frequency/monetary bucket.
type RFMCell struct {
	Segment   string  `json:"segment"`
	Customers int     `json:"customers"`
	Recency   float64 `json:"recency"`
	Frequency float64 `json:"frequency"`
	Monetary  float64 `json:"monetary"`
}

// DashboardMetrics fetches the overview payload through the cache.
func (a *Analytics) DashboardMetrics(ctx context.Context) (DashboardMetrics, error) {
	snap, err := a.c.store.EnsureFresh(ctx, K("dashboardMetrics"), func(ctx context.Context) (any, error) {
		var out DashboardMetrics
		if err := a.c.transport.Get(ctx, "/api/v1/analytics/dashboard", nil, &out); err != nil {
			return nil, err
		}
		return out, nil
	}, EnsureOptions{})
	if err != nil {
		return DashboardMetrics{}, err
	}
	out, ok := snap.Data.(DashboardMetrics)
	if !ok {
		return decodeAs[DashboardMetrics](snap.Data)
	}
	return out, nil
}

// SentimentAnalysis fetches the sentiment summary, keyed per category so
// different category views cache independently.
func (a *Analytics) SentimentAnalysis(ctx context.Context, category string) (SentimentSummary, error) {
	query := url.Values{}
	if category != "" {
		query.Set("category", category)
	}
	snap, err := a.c.store.EnsureFresh(ctx, K("sentimentAnalysis", category), func(ctx context.Context) (any, error) {
		var out SentimentSummary
		if err := a.c.transport.Get(ctx, "/api/v1/analytics/sentiment-analysis", query, &out); err != nil {
			return nil, err
		}
		return out, nil
	}, EnsureOptions{})
	if err != nil {
		return SentimentSummary{}, err
	}
	out, ok := snap.Data.(SentimentSummary)
	if !ok {
		return decodeAs[SentimentSummary](snap.Data)
	}
	return out, nil
}

// ConversionFunnel fetches the funnel stages.
func (a *Analytics) ConversionFunnel(ctx context.Context) ([]FunnelStage, error) {
	snap, err := a.c.store.EnsureFresh(ctx, K("conversionFunnel"), func(ctx context.Context) (any, error) {
		var out []FunnelStage
		if err := a.c.transport.Get(ctx, "/api/v1/analytics/conversion-funnel", nil, &out); err != nil {
			return nil, err
		}
		return out, nil
	}, EnsureOptions{})
	if err != nil {
		return nil, err
	}
	out, ok := snap.Data.([]FunnelStage)
	if !ok {
		return decodeAs[[]FunnelStage](snap.Data)
	}
	return out, nil
}

// RFMAnalysis fetches the RFM breakdown.
func (a *Analytics) RFMAnalysis(ctx context.Context) ([]RFMCell, error) {
	snap, err := a.c.store.EnsureFresh(ctx, K("rfmAnalysis"), func(ctx context.Context) (any, error) {
		var out []RFMCell
		if err := a.c.transport.Get(ctx, "/api/v1/analytics/rfm-analysis", nil, &out); err != nil {
			return nil, err
		}
		return out, nil
	}, EnsureOptions{})
	if err != nil {
		return nil, err
	}
	out, ok := snap.Data.([]RFMCell)
	if !ok {
		return decodeAs[[]RFMCell](snap.Data)
	}
	return out, nil
}

// SegmentsPager returns a pagination controller over the segment list. The
// backend paginates with skip/limit; the pager's page size is the single
// limit used for both the request and the has-more decision.
func (a *Analytics) SegmentsPager() *Pager {
	return a.c.Pager(K("segments"), func(ctx context.Context, page, pageSize int) ([]any, error) {
		query := url.Values{}
		query.Set("skip", strconv.Itoa((page-1)*pageSize))
		query.Set("limit", strconv.Itoa(pageSize))

		var segments []Segment
		if err := a.c.transport.Get(ctx, "/api/v1/segmentation/", query, &segments); err != nil {
			return nil, err
		}
		items := make([]any, len(segments))
		for i, s := range segments {
			items[i] = s
		}
		return items, nil
	})
}

// SegmentInsightsQuery returns a query handle for one segment's insights,
// suitable for polling views.
func (a *Analytics) SegmentInsightsQuery(segmentID string, opts ...QueryOption) *Query {
	return a.c.Query(K("segmentInsights", segmentID), func(ctx context.Context, _ Key) (any, error) {
		var out SegmentInsights
		path := fmt.Sprintf("/api/v1/segmentation/%s/insights", segmentID)
		if err := a.c.transport.Get(ctx, path, nil, &out); err != nil {
			return nil, err
		}
		return out, nil
	}, opts...)
}

// SegmentInsightsForAll fans out one insights query per segment and returns
// per-segment results in input order; a failed segment occupies its slot
// with an error instead of failing the batch.
func (a *Analytics) SegmentInsightsForAll(ctx context.Context, segmentIDs []string) []EntityResult {
	return a.c.FanOut(ctx, K("segmentInsights"), segmentIDs, func(ctx context.Context, segmentID string) (any, error) {
		var out SegmentInsights
		path := fmt.Sprintf("/api/v1/segmentation/%s/insights", segmentID)
		if err := a.c.transport.Get(ctx, path, nil, &out); err != nil {
			return nil, err
		}
		return out, nil
	})
}
