package md

import (
	"context"
	"time"
)

// Tick is one price observation for a symbol.
type Tick struct {
	Symbol string
	Time   time.Time
	Price  float64
}

// TickSource yields ticks in order and returns io.EOF when exhausted.
type TickSource interface {
	Next() (Tick, error)
}

// PriceSource returns the latest price for each requested symbol. Symbols
// that could not be priced this cycle are absent from the result.
type PriceSource interface {
	Latest(ctx context.Context, symbols []string) (map[string]Tick, error)
}

// Candle is one historical bar.
type Candle struct {
	Time  time.Time `json:"t"`
	Open  float64   `json:"o"`
	High  float64   `json:"h"`
	Low   float64   `json:"l"`
	Close float64   `json:"c"`
}
