package state

import (
	"fmt"
	"time"

	"tickbot/internal/md"
)

type Status string

const (
	StatusEmpty            Status = "EMPTY"
	StatusTargetDip        Status = "TARGET_DIP"
	StatusHold             Status = "HOLD"
	StatusTargetSell       Status = "TARGET_SELL"
	StatusGoneUpAndDropped Status = "GONE_UP_AND_DROPPED"
	StatusStopLoss         Status = "STOP_LOSS"
	StatusStale            Status = "STALE"
)

func (s Status) valid() bool {
	switch s {
	case StatusEmpty, StatusTargetDip, StatusHold, StatusTargetSell,
		StatusGoneUpAndDropped, StatusStopLoss, StatusStale:
		return true
	}
	return false
}

// Thresholds are multiplicative factors in "100 + delta" form, so a sell
// target of +3% is stored as 103.
type Thresholds struct {
	BuyAt           float64 `json:"buy_at"`
	SellAt          float64 `json:"sell_at"`
	StopLoss        float64 `json:"stop_loss"`
	TrailRecovery   float64 `json:"trail_recovery"`
	TrailTargetSell float64 `json:"trail_target_sell"`
}

// Params is the configured behaviour of one symbol.
type Params struct {
	Thresholds       Thresholds
	// A zero SoftLimit disables threshold decay. A zero HardLimit disables
	// both stale exits and decay.
	SoftLimit        time.Duration
	HardLimit        time.Duration
	NaughtyTimeout   time.Duration
	TrendPeriod      md.TrendPeriod
	TrendSliceChange float64
	Days             int
}

// Position is the per-symbol tracking and trade state.
type Position struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	LastPrice float64   `json:"last_price"`
	Date      time.Time `json:"date"`
	Status    Status    `json:"status"`

	Naughty        bool          `json:"naughty"`
	NaughtySince   time.Time     `json:"naughty_since"`
	NaughtyTimeout time.Duration `json:"naughty_timeout"`

	Tip float64 `json:"tip"`
	Dip float64 `json:"dip"`

	BoughtAt        float64       `json:"bought_at"`
	BoughtAtTime    time.Time     `json:"bought_at_time"`
	Volume          float64       `json:"volume"`
	Cost            float64       `json:"cost"`
	Value           float64       `json:"value"`
	Profit          float64       `json:"profit"`
	HoldingDuration time.Duration `json:"holding_duration"`

	Thresholds       Thresholds     `json:"thresholds"`
	Baseline         Thresholds     `json:"baseline"`
	SoftLimit        time.Duration  `json:"soft_limit"`
	HardLimit        time.Duration  `json:"hard_limit"`
	TrendPeriod      md.TrendPeriod `json:"trend_period"`
	TrendSliceChange float64        `json:"trend_slice_change"`

	Windows *md.Aggregator `json:"windows"`
}

func NewPosition(symbol string, params Params) *Position {
	p := &Position{
		Symbol:  symbol,
		Status:  StatusEmpty,
		Windows: md.NewAggregator(params.Days),
	}
	p.Configure(params)
	p.ResetThresholds()
	return p
}

// Configure applies configured parameters without touching trade state.
func (p *Position) Configure(params Params) {
	p.Baseline = params.Thresholds
	p.SoftLimit = params.SoftLimit
	p.HardLimit = params.HardLimit
	p.NaughtyTimeout = params.NaughtyTimeout
	p.TrendPeriod = params.TrendPeriod
	p.TrendSliceChange = params.TrendSliceChange
}

// Observe folds a new price into the position and its windows.
func (p *Position) Observe(t time.Time, price float64) {
	p.LastPrice = p.Price
	if p.LastPrice == 0 {
		p.LastPrice = price
	}
	p.Price = price
	p.Date = t
	if p.Status == StatusHold || p.Status == StatusTargetSell {
		p.HoldingDuration = t.Sub(p.BoughtAtTime)
		p.Value = price * p.Volume
	}
	p.Windows.Update(t, price)
}

// Held reports whether the position currently owns the asset.
func (p *Position) Held() bool {
	switch p.Status {
	case StatusHold, StatusTargetSell, StatusGoneUpAndDropped:
		return true
	}
	return false
}

func (p *Position) ResetThresholds() {
	p.Thresholds = p.Baseline
}

// ClearTrade returns a sold position to EMPTY with baseline thresholds.
func (p *Position) ClearTrade() {
	p.Status = StatusEmpty
	p.Tip = 0
	p.Dip = 0
	p.BoughtAt = 0
	p.BoughtAtTime = time.Time{}
	p.Volume = 0
	p.Cost = 0
	p.Value = 0
	p.Profit = 0
	p.HoldingDuration = 0
	p.ResetThresholds()
}

// ResetStats re-bases the min/max envelope to the current price.
func (p *Position) ResetStats() {
	p.Windows.ResetEnvelope(p.Price)
}

// Merge copies the runtime state of a persisted position onto p, which
// carries the currently configured parameters. Current thresholds are only
// kept while the asset is held since they may have decayed.
func (p *Position) Merge(saved *Position) error {
	if saved.Symbol != p.Symbol {
		return fmt.Errorf("merge %s: saved position is %s", p.Symbol, saved.Symbol)
	}
	if !saved.Status.valid() {
		return fmt.Errorf("merge %s: unknown status %q: %w", p.Symbol, saved.Status, ErrCorruptState)
	}
	p.Price = saved.Price
	p.LastPrice = saved.LastPrice
	p.Date = saved.Date
	p.Status = saved.Status
	p.Naughty = saved.Naughty
	p.NaughtySince = saved.NaughtySince
	p.Tip = saved.Tip
	p.Dip = saved.Dip
	p.BoughtAt = saved.BoughtAt
	p.BoughtAtTime = saved.BoughtAtTime
	p.Volume = saved.Volume
	p.Cost = saved.Cost
	p.Value = saved.Value
	p.Profit = saved.Profit
	p.HoldingDuration = saved.HoldingDuration
	if saved.Held() {
		p.Thresholds = saved.Thresholds
	}
	if saved.Windows != nil {
		for i := range p.Windows.Levels {
			keep := p.Windows.Levels[i].Cap
			p.Windows.Levels[i] = saved.Windows.Levels[i]
			p.Windows.Levels[i].Cap = keep
		}
		p.Windows.MinSinceReset = saved.Windows.MinSinceReset
		p.Windows.MaxSinceReset = saved.Windows.MaxSinceReset
	}
	return nil
}
