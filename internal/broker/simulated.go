package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var errNoBook = errors.New("simulated gateway has no order book")

// Simulated fills every order immediately at its limit price. It backs
// backtesting runs.
type Simulated struct {
	mu     sync.Mutex
	step   float64
	seq    int
	orders map[string]OrderStatus
}

func NewSimulated(step float64) *Simulated {
	return &Simulated{step: step, orders: make(map[string]OrderStatus)}
}

func (s *Simulated) StepSize(ctx context.Context, symbol string) (float64, error) {
	return s.step, nil
}

func (s *Simulated) PlaceOrder(ctx context.Context, req OrderRequest) (OrderRef, error) {
	if req.Qty <= 0 {
		return OrderRef{}, fmt.Errorf("simulated order for %s: qty %v: %w", req.Symbol, req.Qty, ErrOrderRejected)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := fmt.Sprintf("sim-%d", s.seq)
	s.orders[id] = OrderFilled
	return OrderRef{ID: id, ClientOrderID: req.ClientOrderID, Status: string(OrderFilled)}, nil
}

func (s *Simulated) PollOrder(ctx context.Context, orderID string) (OrderStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.orders[orderID]
	if !ok {
		return "", fmt.Errorf("unknown simulated order %s", orderID)
	}
	return status, nil
}

func (s *Simulated) TopOfBook(ctx context.Context, symbol string) (float64, float64, error) {
	return 0, 0, errNoBook
}
