package strategy

import "tickbot/internal/state"

// BuyMoon buys when the price jumped by the buy factor since the last tick.
type BuyMoon struct{}

func (BuyMoon) Name() string { return MoonSellRecovery }

func (BuyMoon) Decide(p *state.Position) TradeIntent {
	if p.LastPrice > 0 && p.Price > p.LastPrice*p.Thresholds.BuyAt/100 {
		return buy("price_mooned")
	}
	return hold("no_signal")
}
