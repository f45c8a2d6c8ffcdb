package engine

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"tickbot/internal/config"
)

// Backtest replays every run concurrently on independent engines and
// returns their ranked summaries. deps builds the collaborators of a run.
func Backtest(ctx context.Context, runs []config.Run, deps func(run config.Run) Deps) ([]Summary, error) {
	var mu sync.Mutex
	summaries := make([]Summary, 0, len(runs))

	g, gctx := errgroup.WithContext(ctx)
	for _, run := range runs {
		g.Go(func() error {
			e, err := New(config.ModeBacktesting, run, deps(run))
			if err != nil {
				return err
			}
			log.Info().Str("run", run.Name).Str("run_id", e.RunID()).Msg("backtest starting")
			if err := e.ReplayLogs(gctx); err != nil {
				return err
			}
			summary := e.Summary()
			log.Info().Str("run", run.Name).Float64("profit", summary.Profit).Int("wins", summary.Wins).Int("losses", summary.Losses).Int("stales", summary.Stales).Msg("backtest finished")
			mu.Lock()
			summaries = append(summaries, summary)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	Rank(summaries)
	return summaries, nil
}
