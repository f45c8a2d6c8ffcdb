package broker

import (
	"context"
	"errors"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
)

var (
	// ErrTransient marks a failure that outlived its retries. The caller
	// skips the symbol for this tick.
	ErrTransient = errors.New("transient exchange failure")
	// ErrOrderRejected marks an order that did not fill. Position state
	// stays unchanged and the next tick re-evaluates.
	ErrOrderRejected = errors.New("order rejected")
)

type OrderStatus string

const (
	OrderFilled  OrderStatus = "FILLED"
	OrderExpired OrderStatus = "EXPIRED"
	OrderPending OrderStatus = "PENDING"
)

type OrderRequest struct {
	Symbol        string
	Qty           float64
	Side          alpaca.Side
	Type          alpaca.OrderType
	LimitPrice    *float64
	ClientOrderID string
}

type OrderRef struct {
	ID            string
	ClientOrderID string
	Status        string
}

// Gateway is the exchange as seen by the engine. Implementations must be
// safe to retry: orders carry a client order id.
type Gateway interface {
	StepSize(ctx context.Context, symbol string) (float64, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderRef, error)
	PollOrder(ctx context.Context, orderID string) (OrderStatus, error)
	TopOfBook(ctx context.Context, symbol string) (bid, ask float64, err error)
}

func WaitForContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
