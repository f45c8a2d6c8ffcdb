package strategy

import "tickbot/internal/state"

// BuyDrop waits for the price to drop below the buy factor of the highest
// price since the last stats reset, follows the dip down and buys once the
// price recovers by the trail recovery factor. An optional Confirm gate must
// also pass at the recovery point.
type BuyDrop struct {
	Confirm func(p *state.Position) (bool, string)
	name    string
}

func (b BuyDrop) Name() string {
	if b.name == "" {
		return DropSellRecovery
	}
	return b.name
}

func (b BuyDrop) Decide(p *state.Position) TradeIntent {
	th := p.Thresholds
	if p.Status != state.StatusTargetDip {
		if p.Price < p.Windows.MaxSinceReset*th.BuyAt/100 {
			p.Status = state.StatusTargetDip
			p.Dip = p.Price
			return hold("target_dip")
		}
		return hold("no_signal")
	}

	if p.Price < p.Dip {
		p.Dip = p.Price
		return hold("dip_tracking")
	}
	if p.Price <= p.Dip*th.TrailRecovery/100 {
		return hold("waiting_recovery")
	}
	if b.Confirm != nil {
		if ok, reason := b.Confirm(p); !ok {
			return hold(reason)
		}
	}
	return buy("recovered_from_dip")
}
