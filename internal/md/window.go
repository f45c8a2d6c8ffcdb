package md

import (
	"errors"
	"fmt"
	"time"
)

// ErrInsufficientData is returned by window queries that need more samples
// than are stored. Callers treat it as "condition not met".
var ErrInsufficientData = errors.New("insufficient data")

// Resolution identifies one level of the rollup chain.
type Resolution int

const (
	Seconds Resolution = iota
	Minutes
	Hours
	Days
)

const levelCount = int(Days) + 1

// DefaultDays is the days cap used when none is configured.
const DefaultDays = 1000

func (r Resolution) String() string {
	switch r {
	case Seconds:
		return "s"
	case Minutes:
		return "m"
	case Hours:
		return "h"
	case Days:
		return "d"
	default:
		return fmt.Sprintf("resolution(%d)", int(r))
	}
}

// Span is the width of one bucket at this resolution.
func (r Resolution) Span() time.Duration {
	switch r {
	case Seconds:
		return time.Second
	case Minutes:
		return time.Minute
	case Hours:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

// Point is a timestamped value in a window sequence.
type Point struct {
	Time  time.Time `json:"t"`
	Value float64   `json:"v"`
}

// Level holds the three parallel sequences of one resolution. Entries from
// index Pending onwards have not been rolled up into the next level yet.
type Level struct {
	Averages []Point `json:"averages"`
	Lowest   []Point `json:"lowest"`
	Highest  []Point `json:"highest"`
	Pending  int     `json:"pending"`
	Cap      int     `json:"cap"`
}

func (l *Level) append(t time.Time, avg, low, high float64) {
	l.Averages = append(l.Averages, Point{Time: t, Value: avg})
	l.Lowest = append(l.Lowest, Point{Time: t, Value: low})
	l.Highest = append(l.Highest, Point{Time: t, Value: high})
}

func (l *Level) trim() {
	excess := len(l.Averages) - l.Cap
	if l.Cap <= 0 || excess <= 0 {
		return
	}
	l.Averages = append(l.Averages[:0:0], l.Averages[excess:]...)
	l.Lowest = append(l.Lowest[:0:0], l.Lowest[excess:]...)
	l.Highest = append(l.Highest[:0:0], l.Highest[excess:]...)
	l.Pending -= excess
	if l.Pending < 0 {
		l.Pending = 0
	}
}

// Aggregator folds a tick stream into bounded seconds, minutes, hours and
// days windows of average, lowest and highest prices. It also tracks the
// min/max envelope since the last explicit reset. Zero MinSinceReset means
// no price has been seen since the reset.
type Aggregator struct {
	Levels        [levelCount]Level `json:"levels"`
	MinSinceReset float64           `json:"min_since_reset"`
	MaxSinceReset float64           `json:"max_since_reset"`
}

// NewAggregator returns an empty aggregator keeping at most days daily
// entries. A non-positive days uses DefaultDays.
func NewAggregator(days int) *Aggregator {
	if days <= 0 {
		days = DefaultDays
	}
	a := &Aggregator{}
	a.Levels[Seconds].Cap = 60
	a.Levels[Minutes].Cap = 60
	a.Levels[Hours].Cap = 24
	a.Levels[Days].Cap = days
	return a
}

// Update records one observation.
func (a *Aggregator) Update(t time.Time, price float64) {
	if a.MinSinceReset == 0 || price < a.MinSinceReset {
		a.MinSinceReset = price
	}
	if price > a.MaxSinceReset {
		a.MaxSinceReset = price
	}

	sec := &a.Levels[Seconds]
	low, high := price, price
	n := len(sec.Averages)
	if sec.Pending < n && t.Sub(sec.Averages[sec.Pending].Time) < Minutes.Span() {
		low = min(low, sec.Lowest[n-1].Value)
		high = max(high, sec.Highest[n-1].Value)
	}
	sec.append(t, price, low, high)
	a.rollup(Seconds, t)

	for i := range a.Levels {
		a.Levels[i].trim()
	}
}

// rollup collapses the pending entries of level r, excluding the newest one
// stamped at t, once they span a full bucket of the next resolution.
func (a *Aggregator) rollup(r Resolution, t time.Time) {
	if r == Days {
		return
	}
	lvl := &a.Levels[r]
	newest := len(lvl.Averages) - 1
	if lvl.Pending >= newest {
		return
	}
	start := lvl.Averages[lvl.Pending].Time
	if t.Sub(start) < (r + 1).Span() {
		return
	}

	sum := 0.0
	low := lvl.Lowest[lvl.Pending].Value
	high := lvl.Highest[lvl.Pending].Value
	for i := lvl.Pending; i < newest; i++ {
		sum += lvl.Averages[i].Value
		low = min(low, lvl.Lowest[i].Value)
		high = max(high, lvl.Highest[i].Value)
	}
	mean := sum / float64(newest-lvl.Pending)
	lvl.Pending = newest

	a.Levels[r+1].append(start, mean, low, high)
	a.rollup(r+1, start)
}

// ResetEnvelope re-bases the min/max envelope to price.
func (a *Aggregator) ResetEnvelope(price float64) {
	a.MinSinceReset = price
	a.MaxSinceReset = price
}

// Seed installs bootstrap history for a resolution above seconds. Seeded
// entries count as already rolled up.
func (a *Aggregator) Seed(r Resolution, averages, lowest, highest []Point) error {
	if r == Seconds {
		return fmt.Errorf("seed: seconds level cannot be seeded")
	}
	if len(averages) != len(lowest) || len(averages) != len(highest) {
		return fmt.Errorf("seed %s: mismatched lengths %d/%d/%d", r, len(averages), len(lowest), len(highest))
	}
	lvl := &a.Levels[r]
	lvl.Averages = append([]Point(nil), averages...)
	lvl.Lowest = append([]Point(nil), lowest...)
	lvl.Highest = append([]Point(nil), highest...)
	lvl.Pending = len(lvl.Averages)
	lvl.trim()
	return nil
}

// Len reports how many entries are stored at r.
func (a *Aggregator) Len(r Resolution) int {
	return len(a.Levels[r].Averages)
}

// Averages returns a copy of the averages sequence at r, oldest first.
func (a *Aggregator) Averages(r Resolution) []Point {
	return append([]Point(nil), a.Levels[r].Averages...)
}

// Lowest returns a copy of the lowest sequence at r, oldest first.
func (a *Aggregator) Lowest(r Resolution) []Point {
	return append([]Point(nil), a.Levels[r].Lowest...)
}

// Highest returns a copy of the highest sequence at r, oldest first.
func (a *Aggregator) Highest(r Resolution) []Point {
	return append([]Point(nil), a.Levels[r].Highest...)
}

// Trend returns the last period.Count averages at the period's resolution.
func (a *Aggregator) Trend(period TrendPeriod) ([]Point, error) {
	if period.Count <= 0 {
		return nil, fmt.Errorf("trend period %s: %w", period, ErrInsufficientData)
	}
	avgs := a.Levels[period.Resolution].Averages
	if len(avgs) < period.Count {
		return nil, fmt.Errorf("trend %s has %d samples: %w", period, len(avgs), ErrInsufficientData)
	}
	return append([]Point(nil), avgs[len(avgs)-period.Count:]...), nil
}
