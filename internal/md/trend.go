package md

import (
	"fmt"
	"strconv"
	"strings"
)

// TrendPeriod is a lookback of Count entries at Resolution, e.g. "2h".
type TrendPeriod struct {
	Count      int        `json:"count"`
	Resolution Resolution `json:"resolution"`
}

// IsZero reports whether the period disables trend checks.
func (p TrendPeriod) IsZero() bool {
	return p.Count <= 0
}

func (p TrendPeriod) String() string {
	return strconv.Itoa(p.Count) + p.Resolution.String()
}

// ParseTrendPeriod parses "<count><unit>" with unit one of s, m, h, d.
// An empty string yields the zero period.
func ParseTrendPeriod(value string) (TrendPeriod, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return TrendPeriod{}, nil
	}
	unit := value[len(value)-1]
	count, err := strconv.Atoi(value[:len(value)-1])
	if err != nil || count < 0 {
		return TrendPeriod{}, fmt.Errorf("invalid trend period %q", value)
	}
	var res Resolution
	switch unit {
	case 's':
		res = Seconds
	case 'm':
		res = Minutes
	case 'h':
		res = Hours
	case 'd':
		res = Days
	default:
		return TrendPeriod{}, fmt.Errorf("invalid trend period unit in %q", value)
	}
	return TrendPeriod{Count: count, Resolution: res}, nil
}
