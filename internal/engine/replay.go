package engine

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"tickbot/internal/md"
)

// Replay feeds source through OnTick. A symbol's tick is processed only when
// pause_for has elapsed since its last processed tick. Replay stops early
// once the engine halts.
func (e *Engine) Replay(ctx context.Context, source md.TickSource) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.quit {
			return nil
		}
		tick, err := source.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if !e.tracks(tick.Symbol) {
			continue
		}
		if last, seen := e.lastProcessed[tick.Symbol]; seen && tick.Time.Sub(last) < e.run.PauseFor {
			continue
		}
		e.lastProcessed[tick.Symbol] = tick.Time
		e.OnTick(ctx, tick)
	}
}

// ReplayLogs replays the configured price logs in order.
func (e *Engine) ReplayLogs(ctx context.Context) error {
	for _, path := range e.run.PriceLogs {
		if e.quit {
			break
		}
		reader, err := md.OpenLog(path)
		if err != nil {
			return fmt.Errorf("replay %s: %w", path, err)
		}
		log.Info().Str("run", e.run.Name).Str("log", path).Msg("replaying price log")
		err = e.Replay(ctx, reader)
		_ = reader.Close()
		if err != nil {
			return fmt.Errorf("replay %s: %w", path, err)
		}
	}
	return nil
}
