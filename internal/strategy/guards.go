package strategy

import (
	"tickbot/internal/md"
	"tickbot/internal/state"
)

type GuardSettings struct {
	PumpAndDump bool
	// PumpPeriod is the lookback for the pump-and-dump check.
	PumpPeriod md.TrendPeriod
	// PumpFactor is the 100-based rise over the lookback that counts as a pump.
	PumpFactor float64
	NewListing bool
	// NewListingDays is the minimum number of daily entries a symbol needs.
	NewListingDays int
}

// Guarded vetoes buys on recently pumped or newly listed symbols before
// delegating to the wrapped strategy.
type Guarded struct {
	Strategy
	Settings GuardSettings
}

func (g Guarded) Decide(p *state.Position) TradeIntent {
	if g.Settings.NewListing && p.Windows.Len(md.Days) < g.Settings.NewListingDays {
		return hold("new_listing")
	}
	if g.Settings.PumpAndDump && pumpedAndDumping(p, g.Settings.PumpPeriod, g.Settings.PumpFactor) {
		return hold("pump_and_dump")
	}
	return g.Strategy.Decide(p)
}

// pumpedAndDumping reports a rise of at least factor within period that the
// price is now falling back from. Too little history is not a signal.
func pumpedAndDumping(p *state.Position, period md.TrendPeriod, factor float64) bool {
	if period.IsZero() || factor <= 0 {
		return false
	}
	points, err := p.Windows.Trend(period)
	if err != nil {
		return false
	}
	first := points[0].Value
	peak := first
	for _, pt := range points[1:] {
		peak = max(peak, pt.Value)
	}
	return peak > first*factor/100 && p.Price < peak
}
