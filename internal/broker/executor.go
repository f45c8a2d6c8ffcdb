package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Fill is a completed order.
type Fill struct {
	OrderRef
	Price float64
}

// Executor places limit orders and waits for them to settle.
type Executor struct {
	Gateway Gateway
	// UseTopOfBook prices orders off the live book instead of the tick price.
	UseTopOfBook bool
	PollInterval time.Duration
	PollAttempts int
}

func (e Executor) Buy(ctx context.Context, symbol string, qty, price float64) (Fill, error) {
	return e.execute(ctx, symbol, alpaca.Buy, qty, price)
}

func (e Executor) Sell(ctx context.Context, symbol string, qty, price float64) (Fill, error) {
	return e.execute(ctx, symbol, alpaca.Sell, qty, price)
}

func (e Executor) execute(ctx context.Context, symbol string, side alpaca.Side, qty, price float64) (Fill, error) {
	if e.UseTopOfBook {
		bid, ask, err := e.Gateway.TopOfBook(ctx, symbol)
		if err != nil {
			return Fill{}, fmt.Errorf("top of book %s: %w", symbol, err)
		}
		price = ask
		if side == alpaca.Sell {
			price = bid
		}
	}

	limit := price
	ref, err := e.Gateway.PlaceOrder(ctx, OrderRequest{
		Symbol:        symbol,
		Qty:           qty,
		Side:          side,
		Type:          alpaca.Limit,
		LimitPrice:    &limit,
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		return Fill{}, fmt.Errorf("place %s %s: %w", side, symbol, err)
	}

	attempts := max(e.PollAttempts, 1)
	for i := 0; i < attempts; i++ {
		status, err := e.Gateway.PollOrder(ctx, ref.ID)
		if err != nil {
			return Fill{}, fmt.Errorf("poll order %s: %w", ref.ID, err)
		}
		switch status {
		case OrderFilled:
			return Fill{OrderRef: ref, Price: limit}, nil
		case OrderExpired:
			return Fill{}, fmt.Errorf("%s %s order %s expired: %w", side, symbol, ref.ID, ErrOrderRejected)
		}
		if i < attempts-1 {
			if err := WaitForContext(ctx, e.PollInterval); err != nil {
				return Fill{}, err
			}
		}
	}
	log.Warn().Str("symbol", symbol).Str("order_id", ref.ID).Msg("order still pending after polling")
	return Fill{}, fmt.Errorf("%s %s order %s pending: %w", side, symbol, ref.ID, ErrOrderRejected)
}
