package cache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/adclient"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/cache"
)

func records(n int) []adclient.Record {
	out := make([]adclient.Record, n)
	for i := range out {
		out[i] = adclient.Record{DetectorID: "det", StartTime: int64(i), EndTime: int64(i + 1), AnomalyGrade: 0.5}
	}

	return out
}

func key(start int64) cache.Key {
	return cache.Key{DetectorID: "det", StartMs: start, EndMs: start + 1000}
}

func TestResultCache_GetPut(t *testing.T) {
	t.Parallel()

	c := cache.NewResultCache(100, time.Minute)

	_, ok := c.Get(key(0))
	assert.False(t, ok)

	c.Put(key(0), records(3))

	got, ok := c.Get(key(0))
	require.True(t, ok)
	assert.Len(t, got, 3)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(3), stats.CurrentSize)
	assert.InDelta(t, 0.5, stats.HitRate(), 0.001)
}

func TestResultCache_ReturnsCopies(t *testing.T) {
	t.Parallel()

	c := cache.NewResultCache(100, time.Minute)
	in := records(2)
	c.Put(key(0), in)

	in[0].AnomalyGrade = 0.9

	got, ok := c.Get(key(0))
	require.True(t, ok)
	assert.InDelta(t, 0.5, got[0].AnomalyGrade, 0)

	got[1].AnomalyGrade = 0.1

	again, _ := c.Get(key(0))
	assert.InDelta(t, 0.5, again[1].AnomalyGrade, 0)
}

func TestResultCache_EmptyResultIsCached(t *testing.T) {
	t.Parallel()

	c := cache.NewResultCache(10, time.Minute)
	c.Put(key(0), nil)

	got, ok := c.Get(key(0))
	assert.True(t, ok)
	assert.Empty(t, got)
	assert.Equal(t, int64(1), c.Stats().CurrentSize)
}

func TestResultCache_EvictsWhenFull(t *testing.T) {
	t.Parallel()

	c := cache.NewResultCache(10, time.Minute)
	c.Put(key(0), records(4))
	c.Put(key(1), records(4))
	c.Put(key(2), records(4))

	stats := c.Stats()
	assert.LessOrEqual(t, stats.CurrentSize, int64(10))
	assert.Equal(t, 2, stats.Entries)

	_, ok := c.Get(key(2))
	assert.True(t, ok)
}

func TestResultCache_SkipsOversized(t *testing.T) {
	t.Parallel()

	c := cache.NewResultCache(5, time.Minute)
	c.Put(key(0), records(6))

	_, ok := c.Get(key(0))
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestResultCache_ReplaceAndClear(t *testing.T) {
	t.Parallel()

	c := cache.NewResultCache(100, time.Minute)
	c.Put(key(0), records(5))
	c.Put(key(0), records(2))

	assert.Equal(t, int64(2), c.Stats().CurrentSize)

	c.Clear()

	assert.Equal(t, 0, c.Stats().Entries)
	assert.Equal(t, int64(0), c.Stats().CurrentSize)
}

func TestResultCache_Defaults(t *testing.T) {
	t.Parallel()

	c := cache.NewResultCache(0, 0)
	assert.Equal(t, int64(cache.DefaultMaxRecords), c.Stats().MaxSize)
	assert.InDelta(t, 0.0, c.Stats().HitRate(), 0)
}

type countingSource struct {
	calls   atomic.Int32
	err     error
	release chan struct{}
}

func (s *countingSource) Fetch(_ context.Context, _ string, _, _ int64) ([]adclient.Record, error) {
	s.calls.Add(1)

	if s.release != nil {
		<-s.release
	}

	if s.err != nil {
		return nil, s.err
	}

	return records(2), nil
}

func TestFetcher_CachesResults(t *testing.T) {
	t.Parallel()

	src := &countingSource{}
	f := cache.NewFetcher(src, cache.NewResultCache(100, time.Minute), nil)

	for range 3 {
		got, err := f.Fetch(context.Background(), "det", 0, 1000)
		require.NoError(t, err)
		assert.Len(t, got, 2)
	}

	assert.Equal(t, int32(1), src.calls.Load())

	_, err := f.Fetch(context.Background(), "det", 0, 2000)
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load())
	assert.Equal(t, int64(2), f.Stats().Hits)
}

func TestFetcher_DoesNotCacheErrors(t *testing.T) {
	t.Parallel()

	errDown := errors.New("cluster down")
	src := &countingSource{err: errDown}
	f := cache.NewFetcher(src, cache.NewResultCache(100, time.Minute), nil)

	_, err := f.Fetch(context.Background(), "det", 0, 1000)
	require.ErrorIs(t, err, errDown)

	_, err = f.Fetch(context.Background(), "det", 0, 1000)
	require.ErrorIs(t, err, errDown)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestFetcher_CoalescesConcurrentMisses(t *testing.T) {
	t.Parallel()

	src := &countingSource{release: make(chan struct{})}
	f := cache.NewFetcher(src, cache.NewResultCache(100, time.Minute), nil)

	const callers = 8

	var wg sync.WaitGroup

	started := make(chan struct{}, callers)

	for range callers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			started <- struct{}{}

			got, err := f.Fetch(context.Background(), "det", 0, 1000)
			assert.NoError(t, err)
			assert.Len(t, got, 2)
		}()
	}

	for range callers {
		<-started
	}

	// Give the callers time to join the in-flight fetch.
	time.Sleep(50 * time.Millisecond)
	close(src.release)
	wg.Wait()

	assert.Equal(t, int32(1), src.calls.Load())
}

// blockingSource waits for release or for the fetch context to end.
type blockingSource struct {
	calls   atomic.Int32
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *blockingSource) Fetch(ctx context.Context, _ string, _, _ int64) ([]adclient.Record, error) {
	s.calls.Add(1)
	s.once.Do(func() { close(s.entered) })

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.release:
		return records(3), nil
	}
}

func TestFetcher_CancelledCallerDoesNotFailOthers(t *testing.T) {
	t.Parallel()

	src := &blockingSource{entered: make(chan struct{}), release: make(chan struct{})}
	f := cache.NewFetcher(src, cache.NewResultCache(100, time.Minute), nil)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)

	go func() {
		_, err := f.Fetch(ctxA, "det", 0, 1000)
		errA <- err
	}()

	<-src.entered

	type result struct {
		records []adclient.Record
		err     error
	}

	resB := make(chan result, 1)

	go func() {
		got, err := f.Fetch(context.Background(), "det", 0, 1000)
		resB <- result{got, err}
	}()

	// Let the second caller join the in-flight fetch.
	time.Sleep(50 * time.Millisecond)
	cancelA()

	require.ErrorIs(t, <-errA, context.Canceled)

	close(src.release)

	b := <-resB
	require.NoError(t, b.err)
	assert.Len(t, b.records, 3)
	assert.Equal(t, int32(1), src.calls.Load())
	assert.Equal(t, 1, f.Stats().Entries)
}
