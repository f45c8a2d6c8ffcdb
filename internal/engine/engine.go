package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"tickbot/internal/broker"
	"tickbot/internal/config"
	"tickbot/internal/klines"
	"tickbot/internal/ledger"
	"tickbot/internal/md"
	"tickbot/internal/metrics"
	"tickbot/internal/risk"
	"tickbot/internal/state"
	"tickbot/internal/strategy"
)

// ErrDelisted is returned by Track when a symbol has no bootstrap history
// and is not held. The symbol is dropped for the rest of the run.
var ErrDelisted = errors.New("symbol delisted")

var errUnconfigured = errors.New("symbol not configured")

type Deps struct {
	Executor  broker.Executor
	Klines    klines.Source
	Decisions *DecisionLogger
	Metrics   *metrics.Metrics
}

// Engine runs one strategy parameterisation. Positions are mutated from a
// single goroutine; only the ledger is safe for concurrent readers.
type Engine struct {
	mode      config.Mode
	run       config.Run
	runID     string
	strategy  strategy.Strategy
	machine   risk.Machine
	ledger    *ledger.Ledger
	executor  broker.Executor
	klines    klines.Source
	decisions *DecisionLogger
	metrics   *metrics.Metrics

	positions     map[string]*state.Position
	delisted      map[string]bool
	lastProcessed map[string]time.Time
	quit          bool
}

func New(mode config.Mode, run config.Run, deps Deps) (*Engine, error) {
	e := &Engine{
		mode:  mode,
		run:   run,
		runID: uuid.NewString(),
		machine: risk.New(risk.Settings{
			TradingFee:        run.TradingFee,
			SellAsSoonItDrops: run.SellAsSoonItDrops,
			StopBotOnLoss:     run.StopBotOnLoss,
			StopBotOnStale:    run.StopBotOnStale,
		}),
		ledger: ledger.New(ledger.Config{
			InitialInvestment:  run.InitialInvestment,
			MaxCoins:           run.MaxCoins,
			TradingFee:         run.TradingFee,
			ReinvestPercentage: run.ReinvestPercentage,
		}),
		executor:      deps.Executor,
		klines:        deps.Klines,
		decisions:     deps.Decisions,
		metrics:       deps.Metrics,
		positions:     make(map[string]*state.Position),
		delisted:      make(map[string]bool),
		lastProcessed: make(map[string]time.Time),
	}
	if e.executor.Gateway == nil {
		return nil, fmt.Errorf("engine %s: no gateway", run.Name)
	}
	strat, err := strategy.New(run.Strategy, run.ReferenceSymbol, e.Position)
	if err != nil {
		return nil, fmt.Errorf("engine %s: %w", run.Name, err)
	}
	e.strategy = strategy.Guarded{
		Strategy: strat,
		Settings: strategy.GuardSettings{
			PumpAndDump:    run.PumpAndDumpChecks,
			PumpPeriod:     run.PumpAndDumpPeriod,
			PumpFactor:     run.PumpAndDumpFactor,
			NewListing:     run.NewListingChecks,
			NewListingDays: run.NewListingAgeInDays,
		},
	}
	return e, nil
}

func (e *Engine) RunID() string { return e.runID }

// Quit reports whether a halting sale stopped the engine.
func (e *Engine) Quit() bool { return e.quit }

func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

func (e *Engine) Position(symbol string) (*state.Position, bool) {
	p, ok := e.positions[symbol]
	return p, ok
}

// Symbols lists the symbols that need prices, sorted: configured symbols not
// delisted, plus every held position, configured or not.
func (e *Engine) Symbols() []string {
	symbols := make([]string, 0, len(e.run.Tickers))
	for symbol := range e.run.Tickers {
		if !e.delisted[symbol] {
			symbols = append(symbols, symbol)
		}
	}
	for symbol, p := range e.positions {
		if _, configured := e.run.Tickers[symbol]; !configured && p.Held() {
			symbols = append(symbols, symbol)
		}
	}
	sort.Strings(symbols)
	return symbols
}

// tracks reports whether ticks for symbol should be processed.
func (e *Engine) tracks(symbol string) bool {
	if e.delisted[symbol] {
		return false
	}
	if _, configured := e.run.Tickers[symbol]; configured {
		return true
	}
	p, ok := e.positions[symbol]
	return ok && p.Held()
}

// Track creates the position for symbol and seeds it with bootstrap history.
func (e *Engine) Track(ctx context.Context, symbol string, now time.Time) error {
	if e.delisted[symbol] {
		return ErrDelisted
	}
	if _, ok := e.positions[symbol]; ok {
		return nil
	}
	params, ok := e.run.Tickers[symbol]
	if !ok {
		return errUnconfigured
	}
	p := state.NewPosition(symbol, params)
	if e.klines != nil {
		rollups, err := e.klines.Rollups(ctx, symbol, now, string(e.mode))
		if err != nil {
			return fmt.Errorf("bootstrap %s: %w", symbol, err)
		}
		if rollups.Empty() && !e.ledger.Holds(symbol) {
			e.delisted[symbol] = true
			log.Warn().Str("symbol", symbol).Msg("no bootstrap history, dropping delisted symbol")
			return ErrDelisted
		}
		if err := rollups.Apply(p.Windows); err != nil {
			return fmt.Errorf("bootstrap %s: %w", symbol, err)
		}
	}
	e.positions[symbol] = p
	return nil
}

// OnTick runs one observation through the sell or buy path. Failures are
// logged and leave the position for the next tick to re-evaluate.
func (e *Engine) OnTick(ctx context.Context, tick md.Tick) {
	if e.quit {
		return
	}
	p, ok := e.positions[tick.Symbol]
	if !ok {
		err := e.Track(ctx, tick.Symbol, tick.Time)
		switch {
		case errors.Is(err, errUnconfigured), errors.Is(err, ErrDelisted):
			return
		case err != nil:
			log.Warn().Str("symbol", tick.Symbol).Err(err).Msg("track failed, skipping tick")
			return
		}
		p = e.positions[tick.Symbol]
	}

	p.Observe(tick.Time, tick.Price)
	e.metrics.Tick()
	e.machine.ExpireNaughty(p, tick.Time)

	if p.Held() {
		e.sell(ctx, p, tick)
		return
	}
	e.buy(ctx, p, tick)
}

func outcome(reason risk.Reason) ledger.Outcome {
	switch reason {
	case risk.ReasonStopLoss:
		return ledger.Loss
	case risk.ReasonStale:
		return ledger.Stale
	default:
		return ledger.Win
	}
}

func (e *Engine) decision(p *state.Position, tick md.Tick, side, reason string) Decision {
	return Decision{
		RunID:     e.runID,
		Timestamp: time.Now().UTC(),
		TickTime:  tick.Time,
		Symbol:    p.Symbol,
		Price:     tick.Price,
		Side:      side,
		Status:    string(p.Status),
		Reason:    reason,
	}
}

func (e *Engine) sell(ctx context.Context, p *state.Position, tick md.Tick) {
	v := e.machine.Evaluate(p, tick.Time)
	if !v.Sell {
		return
	}
	decision := e.decision(p, tick, "SELL", string(v.Reason))
	decision.Status = string(v.Status)
	decision.Volume = p.Volume
	wasFull := e.ledger.Full()

	fill, err := e.executor.Sell(ctx, p.Symbol, p.Volume, p.Price)
	if err != nil {
		e.metrics.OrderFailed("sell")
		decision.Result = "order_failed"
		decision.RejectReason = err.Error()
		e.decisions.Append(decision)
		log.Error().Str("symbol", p.Symbol).Str("reason", string(v.Reason)).Err(err).Msg("sell order failed")
		return
	}

	trade, ok := e.ledger.Sell(p, fill.Price, outcome(v.Reason))
	if !ok {
		log.Error().Str("symbol", p.Symbol).Msg("sold a symbol missing from the wallet")
	}
	e.machine.ApplySale(p, v, tick.Time)

	decision.Result = "sold"
	decision.FillPrice = fill.Price
	decision.Profit = trade.Profit
	decision.OrderID = fill.ID
	decision.ClientOrderID = fill.ClientOrderID
	e.decisions.Append(decision)
	e.metrics.Trade("sell", string(v.Reason))
	totals := e.ledger.Totals()
	e.metrics.Wallet(len(e.ledger.Wallet()), totals.Profit)
	log.Info().Str("symbol", p.Symbol).Str("reason", string(v.Reason)).Float64("price", fill.Price).Float64("profit", trade.Profit).Float64("total_profit", totals.Profit).Msg("sold")

	if wasFull && e.run.CleanCoinStatsAtSale {
		e.resetUnheldStats()
	}
	if v.Halt {
		e.quit = true
		log.Warn().Str("symbol", p.Symbol).Str("reason", string(v.Reason)).Msg("halting engine")
	}
}

func (e *Engine) resetUnheldStats() {
	for _, p := range e.positions {
		if !p.Held() {
			p.ResetStats()
		}
	}
}

func (e *Engine) buy(ctx context.Context, p *state.Position, tick md.Tick) {
	if p.Naughty || e.ledger.Full() {
		return
	}
	intent := e.strategy.Decide(p)
	if intent.Action != strategy.Buy {
		return
	}
	decision := e.decision(p, tick, "BUY", intent.Reason)

	step, err := e.executor.Gateway.StepSize(ctx, p.Symbol)
	if err != nil {
		decision.Result = "step_size_failed"
		decision.RejectReason = err.Error()
		e.decisions.Append(decision)
		log.Warn().Str("symbol", p.Symbol).Err(err).Msg("step size lookup failed")
		return
	}
	volume := e.ledger.Volume(p.Price, step)
	decision.Volume = volume
	if volume <= 0 {
		decision.Result = "rejected"
		decision.RejectReason = "volume_below_step"
		e.decisions.Append(decision)
		return
	}

	fill, err := e.executor.Buy(ctx, p.Symbol, volume, p.Price)
	if err != nil {
		e.metrics.OrderFailed("buy")
		decision.Result = "order_failed"
		decision.RejectReason = err.Error()
		e.decisions.Append(decision)
		log.Error().Str("symbol", p.Symbol).Err(err).Msg("buy order failed")
		return
	}
	if !e.ledger.Buy(p, volume, fill.Price, tick.Time) {
		decision.Result = "rejected"
		decision.RejectReason = "ledger_rejected"
		e.decisions.Append(decision)
		log.Error().Str("symbol", p.Symbol).Msg("filled buy rejected by ledger")
		return
	}

	decision.Result = "bought"
	decision.FillPrice = fill.Price
	decision.OrderID = fill.ID
	decision.ClientOrderID = fill.ClientOrderID
	e.decisions.Append(decision)
	e.metrics.Trade("buy", intent.Reason)
	e.metrics.Wallet(len(e.ledger.Wallet()), e.ledger.Totals().Profit)
	log.Info().Str("symbol", p.Symbol).Str("reason", intent.Reason).Float64("price", fill.Price).Float64("volume", volume).Msg("bought")
}

// Restore merges a persisted snapshot onto freshly configured positions.
// Symbols no longer configured are kept only while held.
func (e *Engine) Restore(snapshot state.Snapshot) {
	for symbol, saved := range snapshot.Positions {
		inWallet := slices.Contains(snapshot.Wallet, symbol)
		params, configured := e.run.Tickers[symbol]
		if !configured {
			if !saved.Held() || !inWallet {
				log.Info().Str("symbol", symbol).Msg("discarding unconfigured symbol")
				continue
			}
			if saved.Windows == nil {
				saved.Windows = md.NewAggregator(e.run.KlinesDays)
			}
			e.positions[symbol] = saved
			continue
		}
		p := state.NewPosition(symbol, params)
		if err := p.Merge(saved); err != nil {
			log.Warn().Str("symbol", symbol).Err(err).Msg("discarding unmergeable position")
			continue
		}
		if p.Held() && !inWallet {
			log.Warn().Str("symbol", symbol).Msg("held position missing from wallet, clearing")
			p.ClearTrade()
		}
		if e.run.CleanCoinStatsAtBoot && !p.Held() {
			p.ResetStats()
		}
		e.positions[symbol] = p
	}

	wallet := make([]string, 0, len(snapshot.Wallet))
	for _, symbol := range snapshot.Wallet {
		if p, ok := e.positions[symbol]; ok && p.Held() {
			wallet = append(wallet, symbol)
		}
	}
	e.ledger.Restore(wallet)
	for symbol, p := range e.positions {
		if p.Held() && !e.ledger.Holds(symbol) {
			log.Warn().Str("symbol", symbol).Msg("held position exceeds wallet capacity, clearing")
			p.ClearTrade()
		}
	}
	log.Info().Int("positions", len(e.positions)).Strs("wallet", wallet).Msg("state restored")
}

func (e *Engine) Snapshot() state.Snapshot {
	return state.Snapshot{
		Positions: e.positions,
		Wallet:    e.ledger.Wallet(),
	}
}
