package klines

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tickbot/internal/md"
)

var asOf = time.Date(2021, 6, 1, 12, 0, 30, 0, time.UTC)

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	err   error
	empty bool
}

func (f *fakeFetcher) Candles(ctx context.Context, symbol string, res md.Resolution, start, end time.Time) ([]md.Candle, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.empty {
		return nil, nil
	}
	return []md.Candle{
		{Time: start, Open: 10, High: 12, Low: 8, Close: 11},
		{Time: start.Add(res.Span()), Open: 11, High: 14, Low: 10, Close: 13},
	}, nil
}

func TestCacheFetchesOnceAndReusesDisk(t *testing.T) {
	dir := t.TempDir()
	fetcher := &fakeFetcher{}
	cache := NewCache(dir, fetcher, 30)

	first, err := cache.Rollups(context.Background(), "BTCUSDT", asOf, "backtesting")
	if err != nil {
		t.Fatalf("rollups failed: %v", err)
	}
	if fetcher.calls != 3 {
		t.Fatalf("expected one fetch per resolution, got %d", fetcher.calls)
	}
	if first.Hours.Averages[0].Value != 10 || first.Hours.Lowest[1].Value != 10 || first.Hours.Highest[1].Value != 14 {
		t.Fatalf("unexpected hours series: %+v", first.Hours)
	}

	again := NewCache(dir, fetcher, 30)
	second, err := again.Rollups(context.Background(), "BTCUSDT", asOf.Add(10*time.Second), "backtesting")
	if err != nil {
		t.Fatalf("rollups failed: %v", err)
	}
	if fetcher.calls != 3 {
		t.Fatalf("expected cache hit within the same minute, got %d fetches", fetcher.calls)
	}
	if len(second.Days.Averages) != 2 {
		t.Fatalf("unexpected cached days: %+v", second.Days)
	}
}

func TestCacheKeyIncludesMode(t *testing.T) {
	fetcher := &fakeFetcher{}
	cache := NewCache(t.TempDir(), fetcher, 30)
	if _, err := cache.Rollups(context.Background(), "BTCUSDT", asOf, "backtesting"); err != nil {
		t.Fatalf("rollups failed: %v", err)
	}
	if _, err := cache.Rollups(context.Background(), "BTCUSDT", asOf, "live"); err != nil {
		t.Fatalf("rollups failed: %v", err)
	}
	if fetcher.calls != 6 {
		t.Fatalf("expected separate entries per mode, got %d fetches", fetcher.calls)
	}
}

func TestCacheFetchError(t *testing.T) {
	boom := errors.New("boom")
	cache := NewCache(t.TempDir(), &fakeFetcher{err: boom}, 30)
	if _, err := cache.Rollups(context.Background(), "BTCUSDT", asOf, "live"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped fetch error, got %v", err)
	}
}

func TestEmptyRollups(t *testing.T) {
	cache := NewCache(t.TempDir(), &fakeFetcher{empty: true}, 30)
	rollups, err := cache.Rollups(context.Background(), "LUNAUSDT", asOf, "live")
	if err != nil {
		t.Fatalf("rollups failed: %v", err)
	}
	if !rollups.Empty() {
		t.Fatalf("expected empty rollups")
	}
}

func TestApplySeedsAggregator(t *testing.T) {
	cache := NewCache(t.TempDir(), &fakeFetcher{}, 30)
	rollups, err := cache.Rollups(context.Background(), "BTCUSDT", asOf, "live")
	if err != nil {
		t.Fatalf("rollups failed: %v", err)
	}
	agg := md.NewAggregator(30)
	if err := rollups.Apply(agg); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if agg.Len(md.Minutes) != 2 || agg.Len(md.Hours) != 2 || agg.Len(md.Days) != 2 || agg.Len(md.Seconds) != 0 {
		t.Fatalf("unexpected seeded lengths")
	}
	if got := agg.Averages(md.Days)[1].Value; got != 12 {
		t.Fatalf("expected midpoint average 12, got %v", got)
	}
}
