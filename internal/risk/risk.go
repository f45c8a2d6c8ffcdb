package risk

import (
	"time"

	"github.com/rs/zerolog/log"

	"tickbot/internal/state"
)

// Reason names the trigger behind a sale.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonStopLoss         Reason = "stop_loss"
	ReasonStale            Reason = "stale"
	ReasonGoneUpAndDropped Reason = "gone_up_and_dropped"
	ReasonTargetSell       Reason = "target_sell"
)

type Settings struct {
	// TradingFee is a percentage per side, e.g. 0.1.
	TradingFee        float64
	SellAsSoonItDrops bool
	StopBotOnLoss     bool
	StopBotOnStale    bool
}

// Verdict is the outcome of one evaluation. Status is the marker the
// position takes once the sale is confirmed.
type Verdict struct {
	Sell   bool
	Reason Reason
	Status state.Status
	Halt   bool
}

// Machine drives the sell side of a held position.
type Machine struct {
	settings Settings
}

func New(settings Settings) Machine {
	return Machine{settings: settings}
}

func (m Machine) Settings() Settings {
	return m.settings
}

// ExpireNaughty lifts the buy ban once the timeout has elapsed at now, which
// must be the tick time. It reports whether the ban was lifted.
func (m Machine) ExpireNaughty(p *state.Position, now time.Time) bool {
	if !p.Naughty || now.Sub(p.NaughtySince) < p.NaughtyTimeout {
		return false
	}
	p.Naughty = false
	log.Info().Str("symbol", p.Symbol).Time("since", p.NaughtySince).Msg("naughty timeout expired")
	return true
}

// Evaluate decides whether a held position must be sold this tick. It may
// move HOLD to TARGET_SELL, track the tip and decay thresholds, but it never
// applies sale side effects; see ApplySale.
func (m Machine) Evaluate(p *state.Position, now time.Time) Verdict {
	if !p.Held() {
		return Verdict{}
	}
	th := p.Thresholds

	if p.Price < p.BoughtAt*th.StopLoss/100 {
		return Verdict{Sell: true, Reason: ReasonStopLoss, Status: state.StatusStopLoss, Halt: m.settings.StopBotOnLoss}
	}

	if p.Status != state.StatusTargetSell && p.HardLimit > 0 && p.HoldingDuration > p.HardLimit {
		return Verdict{Sell: true, Reason: ReasonStale, Status: state.StatusStale, Halt: m.settings.StopBotOnStale}
	}

	sellPrice := p.BoughtAt * th.SellAt / 100
	if m.settings.SellAsSoonItDrops &&
		(p.Status == state.StatusTargetSell || p.Status == state.StatusGoneUpAndDropped) &&
		p.Price < sellPrice {
		return Verdict{Sell: true, Reason: ReasonGoneUpAndDropped, Status: state.StatusGoneUpAndDropped}
	}

	if p.Status == state.StatusHold && p.Price > sellPrice {
		p.Status = state.StatusTargetSell
		p.Tip = p.Price
		log.Info().Str("symbol", p.Symbol).Float64("price", p.Price).Float64("sell_at", sellPrice).Msg("target sell reached")
		return Verdict{}
	}

	if p.Status == state.StatusTargetSell {
		p.Tip = max(p.Tip, p.Price)
		if p.Price < p.LastPrice && p.Price < p.Tip*th.TrailTargetSell/100 {
			return Verdict{Sell: true, Reason: ReasonTargetSell, Status: state.StatusTargetSell}
		}
		return Verdict{}
	}

	m.decay(p)
	return Verdict{}
}

// decay relaxes the sell and trail factors linearly between the soft and
// hard holding limits. The sell factor never drops below 100 + 2*fee.
func (m Machine) decay(p *state.Position) {
	if p.SoftLimit <= 0 || p.HardLimit <= p.SoftLimit || p.HoldingDuration <= p.SoftLimit {
		return
	}
	frac := float64(p.HardLimit-p.HoldingDuration) / float64(p.HardLimit-p.SoftLimit)
	frac = min(max(frac, 0), 1)

	base := p.Baseline
	floor := 100 + 2*m.settings.TradingFee
	p.Thresholds.SellAt = max(100+(base.SellAt-100)*frac, floor)
	p.Thresholds.TrailTargetSell = 100 - (100-base.TrailTargetSell)*frac
}

// ApplySale records a confirmed sale on the position: stop-loss and stale
// exits ban the symbol from buying, and all trade state returns to baseline.
// Callers settle the ledger before calling it.
func (m Machine) ApplySale(p *state.Position, v Verdict, now time.Time) {
	if v.Reason == ReasonStopLoss || v.Reason == ReasonStale {
		p.Naughty = true
		p.NaughtySince = now
	}
	log.Info().Str("symbol", p.Symbol).Str("reason", string(v.Reason)).Float64("price", p.Price).Msg("sale applied")
	p.ClearTrade()
}
