package ledger

import (
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"tickbot/internal/state"
)

// Outcome classifies a closed trade for the run accumulators.
type Outcome string

const (
	Win   Outcome = "win"
	Loss  Outcome = "loss"
	Stale Outcome = "stale"
)

type Config struct {
	InitialInvestment float64
	MaxCoins          int
	// TradingFee is a percentage charged on both legs of a trade.
	TradingFee         float64
	ReinvestPercentage float64
}

// Trade is a settled sale.
type Trade struct {
	Symbol   string
	Volume   float64
	BoughtAt float64
	SoldAt   float64
	Cost     float64
	Value    float64
	Profit   float64
	Fee      float64
	Outcome  Outcome
}

// Totals is a copy of the run accumulators.
type Totals struct {
	InitialInvestment float64
	Investment        float64
	Profit            float64
	Fees              float64
	Wins              int
	Losses            int
	Stales            int
}

// Ledger owns the wallet and the run accumulators.
type Ledger struct {
	mu     sync.Mutex
	cfg    Config
	wallet []string
	totals Totals
}

func New(cfg Config) *Ledger {
	return &Ledger{
		cfg: cfg,
		totals: Totals{
			InitialInvestment: cfg.InitialInvestment,
			Investment:        cfg.InitialInvestment,
		},
	}
}

// Restore replaces the wallet with a persisted one, keeping at most
// MaxCoins symbols and dropping duplicates.
func (l *Ledger) Restore(wallet []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.wallet = l.wallet[:0]
	for _, symbol := range wallet {
		if slices.Contains(l.wallet, symbol) {
			continue
		}
		if len(l.wallet) >= l.cfg.MaxCoins {
			log.Warn().Str("symbol", symbol).Int("max_coins", l.cfg.MaxCoins).Msg("restored wallet exceeds capacity")
			continue
		}
		l.wallet = append(l.wallet, symbol)
	}
}

func (l *Ledger) Wallet() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.wallet)
}

func (l *Ledger) Holds(symbol string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Contains(l.wallet, symbol)
}

func (l *Ledger) Full() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.wallet) >= l.cfg.MaxCoins
}

func (l *Ledger) Totals() Totals {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totals
}

// Volume sizes a new position as an equal share of the current investment,
// rounded down to the asset step.
func (l *Ledger) Volume(price, step float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if price <= 0 || l.cfg.MaxCoins <= 0 {
		return 0
	}
	return FloorToStep(l.totals.Investment/float64(l.cfg.MaxCoins)/price, step)
}

// Buy records a filled purchase. It returns false with no changes when the
// symbol is already held, the wallet is full or the symbol is naughty.
func (l *Ledger) Buy(p *state.Position, volume, price float64, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if volume <= 0 || p.Naughty || len(l.wallet) >= l.cfg.MaxCoins || slices.Contains(l.wallet, p.Symbol) {
		return false
	}
	p.Status = state.StatusHold
	p.BoughtAt = price
	p.BoughtAtTime = now
	p.Volume = volume
	p.Cost = price * volume
	p.Value = p.Cost
	p.Tip = price
	p.Dip = 0
	p.Profit = 0
	p.HoldingDuration = 0
	l.wallet = append(l.wallet, p.Symbol)
	return true
}

// Sell settles a filled sale at price. It returns false when the symbol is
// not in the wallet. The position keeps its economics for the caller to
// report; clearing it is the state machine's job.
func (l *Ledger) Sell(p *state.Position, price float64, outcome Outcome) (Trade, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := slices.Index(l.wallet, p.Symbol)
	if i < 0 {
		return Trade{}, false
	}
	p.Value = price * p.Volume
	p.Profit = p.Value - p.Cost
	fee := l.cfg.TradingFee / 100 * (p.Cost + p.Value)

	l.wallet = slices.Delete(l.wallet, i, i+1)
	l.totals.Fees += fee
	l.totals.Profit += p.Profit - fee
	l.totals.Investment = l.totals.InitialInvestment + l.totals.Profit*l.cfg.ReinvestPercentage/100
	switch outcome {
	case Win:
		l.totals.Wins++
	case Loss:
		l.totals.Losses++
	case Stale:
		l.totals.Stales++
	}

	return Trade{
		Symbol:   p.Symbol,
		Volume:   p.Volume,
		BoughtAt: p.BoughtAt,
		SoldAt:   price,
		Cost:     p.Cost,
		Value:    p.Value,
		Profit:   p.Profit,
		Fee:      fee,
		Outcome:  outcome,
	}, true
}

// FloorToStep rounds value down to a multiple of step. A non-positive step
// leaves value unchanged.
func FloorToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	s := decimal.NewFromFloat(step)
	floored, _ := decimal.NewFromFloat(value).Div(s).Floor().Mul(s).Float64()
	return floored
}
