package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"tickbot/internal/broker"
	"tickbot/internal/config"
	"tickbot/internal/engine"
	"tickbot/internal/klines"
	"tickbot/internal/metrics"
	"tickbot/internal/state"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("config error")
	}
	setupLogging(cfg)

	decisions, err := engine.NewDecisionLogger(cfg.DecisionsPath)
	if err != nil {
		log.Fatal().Err(err).Msg("decision logger error")
	}
	defer func() {
		if err := decisions.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close decision logger")
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry := prometheus.NewRegistry()
	if cfg.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.MetricsAddr, registry)
	}

	log.Info().Str("mode", string(cfg.Mode)).Int("runs", len(cfg.Runs)).Msg("starting bot")
	if cfg.Mode == config.ModeBacktesting {
		err = backtest(ctx, cfg, registry, decisions)
	} else {
		err = live(ctx, cfg, registry, decisions)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("bot stopped")
		os.Exit(1)
	}
	log.Info().Msg("bot shutdown complete")
}

func setupLogging(cfg config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if cfg.Mode != config.ModeBacktesting {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(registry))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
	}
}

func newClient(cfg config.Config, run config.Run) (*broker.Client, error) {
	return broker.New(broker.Options{
		APIKey:      cfg.APIKey,
		APISecret:   cfg.APISecret,
		BaseURL:     cfg.BaseURL,
		DefaultStep: run.DefaultStep,
	})
}

func backtest(ctx context.Context, cfg config.Config, registry *prometheus.Registry, decisions *engine.DecisionLogger) error {
	var client *broker.Client
	if cfg.APIKey != "" && cfg.APISecret != "" {
		var err error
		if client, err = newClient(cfg, cfg.Runs[0]); err != nil {
			return err
		}
	} else {
		log.Warn().Msg("no exchange credentials, replaying without klines bootstrap")
	}

	summaries, err := engine.Backtest(ctx, cfg.Runs, func(run config.Run) engine.Deps {
		deps := engine.Deps{
			Executor:  broker.Executor{Gateway: broker.NewSimulated(run.DefaultStep)},
			Decisions: decisions,
			Metrics:   metrics.New(registry, run.Name),
		}
		if client != nil {
			deps.Klines = klines.NewCache(cfg.KlinesDir, client, run.KlinesDays)
		}
		return deps
	})
	if err != nil {
		return err
	}
	engine.RenderSummaries(os.Stdout, summaries)
	return nil
}

func live(ctx context.Context, cfg config.Config, registry *prometheus.Registry, decisions *engine.DecisionLogger) error {
	run := cfg.Runs[0]
	client, err := newClient(cfg, run)
	if err != nil {
		return err
	}
	e, err := engine.New(cfg.Mode, run, engine.Deps{
		Executor: broker.Executor{
			Gateway:      client,
			UseTopOfBook: true,
			PollInterval: time.Second,
			PollAttempts: 10,
		},
		Klines:    klines.NewCache(cfg.KlinesDir, client, run.KlinesDays),
		Decisions: decisions,
		Metrics:   metrics.New(registry, run.Name),
	})
	if err != nil {
		return err
	}

	log.Info().Str("run", run.Name).Str("run_id", e.RunID()).Msg("live run starting")

	store := state.NewStore(cfg.StatePath)
	snapshot, err := store.Load()
	if err != nil {
		log.Warn().Err(err).Msg("state unreadable, starting empty")
	}
	e.Restore(snapshot)

	err = engine.Live{
		Engine:   e,
		Prices:   client,
		Store:    store,
		Interval: run.PauseFor,
	}.Run(ctx)

	if saveErr := store.Save(e.Snapshot()); saveErr != nil {
		log.Error().Err(saveErr).Msg("failed to save state")
	}
	engine.RenderSummaries(os.Stdout, []engine.Summary{e.Summary()})
	return err
}
