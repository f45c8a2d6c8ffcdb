package klines

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"tickbot/internal/md"
)

// Series is the bootstrap history of one resolution.
type Series struct {
	Averages []md.Point `json:"averages"`
	Lowest   []md.Point `json:"lowest"`
	Highest  []md.Point `json:"highest"`
}

// Rollups is the bootstrap history of a symbol as of a point in time.
type Rollups struct {
	Minutes Series `json:"minutes"`
	Hours   Series `json:"hours"`
	Days    Series `json:"days"`
}

func (r *Rollups) series(res md.Resolution) *Series {
	switch res {
	case md.Minutes:
		return &r.Minutes
	case md.Hours:
		return &r.Hours
	default:
		return &r.Days
	}
}

// Empty reports whether no history exists, which suggests a delisting.
func (r Rollups) Empty() bool {
	return len(r.Minutes.Averages) == 0 && len(r.Hours.Averages) == 0 && len(r.Days.Averages) == 0
}

// Apply seeds the aggregator's minute, hour and day levels.
func (r Rollups) Apply(a *md.Aggregator) error {
	for _, res := range []md.Resolution{md.Minutes, md.Hours, md.Days} {
		s := r.series(res)
		if len(s.Averages) == 0 {
			continue
		}
		if err := a.Seed(res, s.Averages, s.Lowest, s.Highest); err != nil {
			return err
		}
	}
	return nil
}

// Source provides bootstrap history. Mode is the run mode and only scopes
// cache entries.
type Source interface {
	Rollups(ctx context.Context, symbol string, asOf time.Time, mode string) (Rollups, error)
}

// Fetcher returns raw bars.
type Fetcher interface {
	Candles(ctx context.Context, symbol string, res md.Resolution, start, end time.Time) ([]md.Candle, error)
}

// Cache is a disk-backed Source over a Fetcher. Entries never expire since
// history as of a past instant does not change.
type Cache struct {
	dir     string
	fetcher Fetcher
	days    int
}

func NewCache(dir string, fetcher Fetcher, days int) *Cache {
	if days <= 0 {
		days = md.DefaultDays
	}
	return &Cache{dir: dir, fetcher: fetcher, days: days}
}

func (c *Cache) key(symbol string, asOf time.Time, mode string) string {
	raw := fmt.Sprintf("%s|%s|%s|%d", symbol, asOf.UTC().Format(time.RFC3339), mode, c.days)
	sum := md5.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}

func (c *Cache) Rollups(ctx context.Context, symbol string, asOf time.Time, mode string) (Rollups, error) {
	asOf = asOf.UTC().Truncate(time.Minute)
	key := c.key(symbol, asOf, mode)
	if rollups, err := c.read(key); err == nil {
		return rollups, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("symbol", symbol).Err(err).Msg("klines cache entry unreadable, refetching")
	}

	rollups, err := c.fetch(ctx, symbol, asOf)
	if err != nil {
		return Rollups{}, err
	}
	if err := c.write(key, rollups); err != nil {
		log.Warn().Str("symbol", symbol).Err(err).Msg("klines cache write failed")
	}
	log.Debug().Str("symbol", symbol).Time("as_of", asOf).Int("days", len(rollups.Days.Averages)).Msg("klines fetched")
	return rollups, nil
}

func (c *Cache) fetch(ctx context.Context, symbol string, asOf time.Time) (Rollups, error) {
	spans := map[md.Resolution]time.Duration{
		md.Minutes: 60 * time.Minute,
		md.Hours:   24 * time.Hour,
		md.Days:    time.Duration(c.days) * 24 * time.Hour,
	}

	var rollups Rollups
	g, gctx := errgroup.WithContext(ctx)
	for res, span := range spans {
		s := rollups.series(res)
		g.Go(func() error {
			candles, err := c.fetcher.Candles(gctx, symbol, res, asOf.Add(-span), asOf)
			if err != nil {
				return fmt.Errorf("klines %s %s: %w", symbol, res, err)
			}
			*s = toSeries(candles)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Rollups{}, err
	}
	return rollups, nil
}

// toSeries uses the bar midpoint as the average.
func toSeries(candles []md.Candle) Series {
	s := Series{
		Averages: make([]md.Point, 0, len(candles)),
		Lowest:   make([]md.Point, 0, len(candles)),
		Highest:  make([]md.Point, 0, len(candles)),
	}
	for _, c := range candles {
		s.Averages = append(s.Averages, md.Point{Time: c.Time, Value: (c.High + c.Low) / 2})
		s.Lowest = append(s.Lowest, md.Point{Time: c.Time, Value: c.Low})
		s.Highest = append(s.Highest, md.Point{Time: c.Time, Value: c.High})
	}
	return s
}

func (c *Cache) read(key string) (Rollups, error) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return Rollups{}, err
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	var rollups Rollups
	if err := decoder.Decode(&rollups); err != nil {
		return Rollups{}, fmt.Errorf("decode klines cache: %w", err)
	}
	return rollups, nil
}

func (c *Cache) write(key string, rollups Rollups) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(rollups)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(c.dir, key+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), c.path(key))
}
