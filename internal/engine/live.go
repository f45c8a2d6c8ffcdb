package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"tickbot/internal/broker"
	"tickbot/internal/md"
	"tickbot/internal/state"
)

// Live is the polling loop: fetch every price, update positions in symbol
// order, persist, sleep.
type Live struct {
	Engine   *Engine
	Prices   md.PriceSource
	Store    *state.Store
	Interval time.Duration
	// Now stamps each cycle. Defaults to the wall clock.
	Now func() time.Time
}

func (l Live) Run(ctx context.Context) error {
	now := l.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	for {
		if l.Engine.Quit() {
			log.Warn().Msg("engine halted, leaving live loop")
			return nil
		}
		l.cycle(ctx, now())
		if err := broker.WaitForContext(ctx, l.Interval); err != nil {
			return err
		}
	}
}

func (l Live) cycle(ctx context.Context, at time.Time) {
	symbols := l.Engine.Symbols()
	ticks, err := l.Prices.Latest(ctx, symbols)
	if err != nil {
		log.Warn().Err(err).Msg("price fetch failed, skipping cycle")
		return
	}
	for _, symbol := range symbols {
		tick, ok := ticks[symbol]
		if !ok {
			continue
		}
		tick.Time = at
		l.Engine.OnTick(ctx, tick)
	}
	if l.Store == nil {
		return
	}
	if err := l.Store.Save(l.Engine.Snapshot()); err != nil {
		log.Error().Err(err).Msg("state save failed")
	}
}
