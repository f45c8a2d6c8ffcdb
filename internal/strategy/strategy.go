package strategy

import (
	"fmt"

	"tickbot/internal/state"
)

type Action string

const (
	Hold Action = "HOLD"
	Buy  Action = "BUY"
)

type TradeIntent struct {
	Action Action
	Reason string
}

func hold(reason string) TradeIntent {
	return TradeIntent{Action: Hold, Reason: reason}
}

func buy(reason string) TradeIntent {
	return TradeIntent{Action: Buy, Reason: reason}
}

// Strategy is the buy-side entry predicate. Decide is only called for
// symbols that are not naughty, not held, and when the wallet has room. It
// may move the position into TARGET_DIP and track the dip.
type Strategy interface {
	Name() string
	Decide(p *state.Position) TradeIntent
}

// Lookup resolves another tracked position, used by strategies that look at
// a reference market.
type Lookup func(symbol string) (*state.Position, bool)

const (
	MoonSellRecovery        = "BuyMoonSellRecoveryStrategy"
	DropSellRecovery        = "BuyDropSellRecoveryStrategy"
	RecoveryDuringGrowth    = "BuyOnRecoveryAfterDropDuringGrowthTrendStrategy"
	DropSellRecoveryBTCIsUp = "BuyDropSellRecoveryStrategyWhenBTCisUp"
)

// New returns the named strategy. reference is the symbol consulted by the
// BTC-is-up variant.
func New(name, reference string, lookup Lookup) (Strategy, error) {
	switch name {
	case MoonSellRecovery:
		return BuyMoon{}, nil
	case DropSellRecovery:
		return BuyDrop{}, nil
	case RecoveryDuringGrowth:
		return BuyDrop{Confirm: growing, name: RecoveryDuringGrowth}, nil
	case DropSellRecoveryBTCIsUp:
		if lookup == nil || reference == "" {
			return nil, fmt.Errorf("strategy %s needs a reference symbol", name)
		}
		confirm := func(*state.Position) (bool, string) {
			ref, ok := lookup(reference)
			if !ok {
				return false, "reference_untracked"
			}
			return growing(ref)
		}
		return BuyDrop{Confirm: confirm, name: DropSellRecoveryBTCIsUp}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}

// growing reports whether the last average over the position's trend period
// is above the first one by the trend slice factor.
func growing(p *state.Position) (bool, string) {
	points, err := p.Windows.Trend(p.TrendPeriod)
	if err != nil {
		return false, "insufficient_data"
	}
	factor := p.TrendSliceChange
	if factor == 0 {
		factor = 100
	}
	if points[len(points)-1].Value > points[0].Value*factor/100 {
		return true, ""
	}
	return false, "no_growth_trend"
}

