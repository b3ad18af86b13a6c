package cache

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/sync/singleflight"

	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/adclient"
)

// Source fetches anomalies. [adclient.Client] implements it.
type Source interface {
	Fetch(ctx context.Context, detectorID string, startMs, endMs int64) ([]adclient.Record, error)
}

// Fetcher serves fetches from a [ResultCache] and coalesces concurrent misses
// for the same key into one call to the source. The coalesced call does not
// inherit any caller's cancellation. Errors are not cached.
type Fetcher struct {
	source Source
	cache  *ResultCache
	group  singleflight.Group
	logger *slog.Logger
}

// NewFetcher wraps source. A nil logger uses slog default.
func NewFetcher(source Source, c *ResultCache, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Fetcher{source: source, cache: c, logger: logger}
}

// Fetch implements [Source].
func (f *Fetcher) Fetch(ctx context.Context, detectorID string, startMs, endMs int64) ([]adclient.Record, error) {
	key := Key{DetectorID: detectorID, StartMs: startMs, EndMs: endMs}

	if records, ok := f.cache.Get(key); ok {
		f.logger.DebugContext(ctx, "anomaly cache hit", "detector_id", detectorID)

		return records, nil
	}

	// The shared call outlives any single caller; each caller still stops
	// waiting when its own context ends.
	fetchCtx := context.WithoutCancel(ctx)

	ch := f.group.DoChan(fmt.Sprintf("%s/%d/%d", detectorID, startMs, endMs), func() (any, error) {
		records, fetchErr := f.source.Fetch(fetchCtx, detectorID, startMs, endMs)
		if fetchErr != nil {
			return nil, fetchErr
		}

		f.cache.Put(key, records)

		return records, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}

		if res.Shared {
			f.logger.DebugContext(ctx, "anomaly fetch coalesced", "detector_id", detectorID)
		}

		records, _ := res.Val.([]adclient.Record)

		return slices.Clone(records), nil
	}
}

// Stats returns the statistics of the underlying cache.
func (f *Fetcher) Stats() Stats {
	return f.cache.Stats()
}
