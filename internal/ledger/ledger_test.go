package ledger

import (
	"math"
	"testing"
	"time"

	"tickbot/internal/state"
)

var now = time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)

func position(symbol string) *state.Position {
	return state.NewPosition(symbol, state.Params{Thresholds: state.Thresholds{SellAt: 103, StopLoss: 97}})
}

func TestBuyRejectsWhenWalletFull(t *testing.T) {
	l := New(Config{InitialInvestment: 100, MaxCoins: 2})
	if !l.Buy(position("BTCUSDT"), 1, 10, now) || !l.Buy(position("ETHUSDT"), 1, 10, now) {
		t.Fatalf("expected buys under capacity")
	}
	p := position("XRPUSDT")
	if l.Buy(p, 1, 10, now) {
		t.Fatalf("expected rejection with a full wallet")
	}
	if got := l.Wallet(); len(got) != 2 || got[0] != "BTCUSDT" || got[1] != "ETHUSDT" {
		t.Fatalf("wallet changed: %v", got)
	}
	if p.Status != state.StatusEmpty {
		t.Fatalf("rejected position mutated: %s", p.Status)
	}
}

func TestBuyRejectsHeldAndNaughty(t *testing.T) {
	l := New(Config{InitialInvestment: 100, MaxCoins: 5})
	p := position("BTCUSDT")
	if !l.Buy(p, 1, 10, now) {
		t.Fatalf("expected first buy")
	}
	if l.Buy(p, 1, 11, now) {
		t.Fatalf("expected rejection of a held symbol")
	}

	naughty := position("ETHUSDT")
	naughty.Naughty = true
	if l.Buy(naughty, 1, 10, now) {
		t.Fatalf("expected rejection of a naughty symbol")
	}
}

func TestBuySetsTradeState(t *testing.T) {
	l := New(Config{InitialInvestment: 100, MaxCoins: 5})
	p := position("BTCUSDT")
	l.Buy(p, 2, 10, now)
	if p.Status != state.StatusHold || p.BoughtAt != 10 || p.Cost != 20 || p.Value != 20 || p.Tip != 10 {
		t.Fatalf("unexpected position after buy: %+v", p)
	}
	if !p.BoughtAtTime.Equal(now) || p.HoldingDuration != 0 {
		t.Fatalf("unexpected holding state: %v %v", p.BoughtAtTime, p.HoldingDuration)
	}
}

func TestSellAccounting(t *testing.T) {
	l := New(Config{InitialInvestment: 1000, MaxCoins: 2, TradingFee: 0.1, ReinvestPercentage: 50})
	p := position("BTCUSDT")
	l.Buy(p, 10, 100, now)

	trade, ok := l.Sell(p, 110, Win)
	if !ok {
		t.Fatalf("expected sale")
	}
	if trade.Profit != 100 || math.Abs(trade.Fee-2.1) > 1e-9 {
		t.Fatalf("unexpected trade: %+v", trade)
	}
	totals := l.Totals()
	if math.Abs(totals.Profit-97.9) > 1e-9 || math.Abs(totals.Fees-2.1) > 1e-9 {
		t.Fatalf("unexpected totals: %+v", totals)
	}
	if math.Abs(totals.Investment-1048.95) > 1e-9 {
		t.Fatalf("expected compounded investment 1048.95, got %v", totals.Investment)
	}
	if totals.Wins != 1 || totals.Losses != 0 || totals.Stales != 0 {
		t.Fatalf("unexpected counters: %+v", totals)
	}
	if l.Holds("BTCUSDT") {
		t.Fatalf("sold symbol still in wallet")
	}
	if _, ok := l.Sell(p, 110, Win); ok {
		t.Fatalf("expected rejection of an unheld sale")
	}
}

func TestVolumeFloorsToStep(t *testing.T) {
	l := New(Config{InitialInvestment: 100, MaxCoins: 3})
	if got := l.Volume(7, 0.01); got != 4.76 {
		t.Fatalf("expected 4.76, got %v", got)
	}
	if got := l.Volume(0, 0.01); got != 0 {
		t.Fatalf("expected zero volume for zero price, got %v", got)
	}
}

func TestFloorToStep(t *testing.T) {
	cases := []struct {
		value, step, want float64
	}{
		{1.23456, 0.001, 1.234},
		{1.9, 1, 1},
		{0.00049, 0.001, 0},
		{5, 0, 5},
		{12.5, 0.5, 12.5},
	}
	for _, tc := range cases {
		if got := FloorToStep(tc.value, tc.step); got != tc.want {
			t.Fatalf("FloorToStep(%v, %v) = %v, want %v", tc.value, tc.step, got, tc.want)
		}
	}
}

func TestRestoreDropsDuplicatesAndOverflow(t *testing.T) {
	l := New(Config{MaxCoins: 2})
	l.Restore([]string{"A", "A", "B", "C"})
	if got := l.Wallet(); len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Fatalf("unexpected wallet: %v", got)
	}
}
