package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"tickbot/internal/md"
	"tickbot/internal/state"
)

// ErrInvalidConfig marks configuration that must abort startup.
var ErrInvalidConfig = errors.New("invalid config")

type Mode string

const (
	ModeLive        Mode = "live"
	ModeTestnet     Mode = "testnet"
	ModeBacktesting Mode = "backtesting"
)

const (
	liveBaseURL    = "https://api.alpaca.markets"
	testnetBaseURL = "https://paper-api.alpaca.markets"
)

type Config struct {
	Mode          Mode
	ConfigPaths   []string
	StatePath     string
	DecisionsPath string
	KlinesDir     string
	LogLevel      string
	MetricsAddr   string
	BaseURL       string
	APIKey        string
	APISecret     string
	Runs          []Run
}

// Run is one strategy parameterisation read from a YAML file.
type Run struct {
	Name                 string
	Strategy             string
	PauseFor             time.Duration
	InitialInvestment    float64
	MaxCoins             int
	TradingFee           float64
	ReinvestPercentage   float64
	SellAsSoonItDrops    bool
	StopBotOnLoss        bool
	StopBotOnStale       bool
	CleanCoinStatsAtBoot bool
	CleanCoinStatsAtSale bool
	PumpAndDumpChecks    bool
	PumpAndDumpPeriod    md.TrendPeriod
	PumpAndDumpFactor    float64
	NewListingChecks     bool
	NewListingAgeInDays  int
	KlinesDays           int
	DefaultStep          float64
	ReferenceSymbol      string
	PriceLogs            []string
	Tickers              map[string]state.Params
}

// runFile is the on-disk shape. Percentages are deltas, e.g. +3 for 103.
type runFile struct {
	Strategy             string                `yaml:"strategy"`
	PauseFor             float64               `yaml:"pause_for"`
	InitialInvestment    float64               `yaml:"initial_investment"`
	MaxCoins             int                   `yaml:"max_coins"`
	TradingFee           float64               `yaml:"trading_fee"`
	ReinvestPercentage   *float64              `yaml:"re_invest_percentage"`
	SellAsSoonItDrops    bool                  `yaml:"sell_as_soon_it_drops"`
	StopBotOnLoss        bool                  `yaml:"stop_bot_on_loss"`
	StopBotOnStale       bool                  `yaml:"stop_bot_on_stale"`
	CleanCoinStatsAtBoot bool                  `yaml:"clean_coin_stats_at_boot"`
	CleanCoinStatsAtSale bool                  `yaml:"clean_coin_stats_at_sale"`
	PumpAndDumpChecks    bool                  `yaml:"enable_pump_and_dump_checks"`
	PumpAndDumpPeriod    string                `yaml:"pump_and_dump_period"`
	PumpAndDumpPct       float64               `yaml:"pump_and_dump_percentage"`
	NewListingChecks     bool                  `yaml:"enable_new_listing_checks"`
	NewListingAgeInDays  int                   `yaml:"enable_new_listing_checks_age_in_days"`
	KlinesDays           int                   `yaml:"klines_days"`
	DefaultStep          float64               `yaml:"default_step"`
	ReferenceSymbol      string                `yaml:"reference_symbol"`
	PriceLogs            []string              `yaml:"price_logs"`
	Tickers              map[string]tickerFile `yaml:"tickers"`
}

type tickerFile struct {
	BuyAt           *float64 `yaml:"buy_at_percentage"`
	SellAt          *float64 `yaml:"sell_at_percentage"`
	StopLoss        *float64 `yaml:"stop_loss_at_percentage"`
	TrailTargetSell *float64 `yaml:"trail_target_sell_percentage"`
	TrailRecovery   *float64 `yaml:"trail_recovery_percentage"`
	// Holding limits in seconds; 0 turns the limit off.
	SoftLimit       float64  `yaml:"soft_limit_holding_time"`
	HardLimit       float64  `yaml:"hard_limit_holding_time"`
	NaughtyTimeout  float64  `yaml:"naughty_timeout"`
	TrendPeriod     string   `yaml:"klines_trend_period"`
	TrendSlice      float64  `yaml:"klines_slice_percentage_change"`
}

// Load parses flags from args, the .env file and every YAML run file.
func Load(args []string) (Config, error) {
	var cfg Config
	var mode, configs, envPath string

	fs := flag.NewFlagSet("tickbot", flag.ContinueOnError)
	fs.StringVar(&mode, "mode", string(ModeBacktesting), "run mode: live, testnet or backtesting")
	fs.StringVar(&configs, "config", "config.yaml", "comma separated YAML run files")
	fs.StringVar(&envPath, "env", ".env", "path to .env file")
	fs.StringVar(&cfg.StatePath, "state", "state/state.json", "path to state snapshot")
	fs.StringVar(&cfg.DecisionsPath, "decisions", "decisions.ndjson", "path to decisions log")
	fs.StringVar(&cfg.KlinesDir, "klines-cache", "cache", "directory for cached klines")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "log level")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "listen address for /metrics, empty disables")
	if err := fs.Parse(args); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	loadDotEnv(envPath)

	cfg.Mode = Mode(mode)
	cfg.APIKey = os.Getenv("APCA_API_KEY_ID")
	cfg.APISecret = os.Getenv("APCA_API_SECRET_KEY")
	cfg.BaseURL = testnetBaseURL
	if cfg.Mode == ModeLive {
		cfg.BaseURL = liveBaseURL
	}
	for _, path := range strings.Split(configs, ",") {
		if path = strings.TrimSpace(path); path != "" {
			cfg.ConfigPaths = append(cfg.ConfigPaths, path)
		}
	}

	for _, path := range cfg.ConfigPaths {
		run, err := LoadRun(path)
		if err != nil {
			return cfg, err
		}
		cfg.Runs = append(cfg.Runs, run)
	}
	disambiguateRunNames(cfg.Runs, cfg.ConfigPaths)

	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// disambiguateRunNames names runs whose file base names collide after their
// path without extension, so every run gets its own metrics label.
func disambiguateRunNames(runs []Run, paths []string) {
	seen := make(map[string]int, len(runs))
	for _, run := range runs {
		seen[run.Name]++
	}
	for i := range runs {
		if seen[runs[i].Name] > 1 {
			path := filepath.ToSlash(filepath.Clean(paths[i]))
			runs[i].Name = strings.TrimSuffix(path, filepath.Ext(path))
		}
	}
}

// loadDotEnv sets variables from path without overriding the environment.
func loadDotEnv(path string) {
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	_ = godotenv.Load(path)
}

// LoadRun reads one YAML run file. Unknown keys are rejected.
func LoadRun(path string) (Run, error) {
	f, err := os.Open(path)
	if err != nil {
		return Run{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	var file runFile
	if err := decoder.Decode(&file); err != nil {
		return Run{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	run, err := file.toRun(name)
	if err != nil {
		return Run{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	return run, nil
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func (f runFile) toRun(name string) (Run, error) {
	run := Run{
		Name:                 name,
		Strategy:             f.Strategy,
		PauseFor:             seconds(f.PauseFor),
		InitialInvestment:    f.InitialInvestment,
		MaxCoins:             f.MaxCoins,
		TradingFee:           f.TradingFee,
		ReinvestPercentage:   100,
		SellAsSoonItDrops:    f.SellAsSoonItDrops,
		StopBotOnLoss:        f.StopBotOnLoss,
		StopBotOnStale:       f.StopBotOnStale,
		CleanCoinStatsAtBoot: f.CleanCoinStatsAtBoot,
		CleanCoinStatsAtSale: f.CleanCoinStatsAtSale,
		PumpAndDumpChecks:    f.PumpAndDumpChecks,
		PumpAndDumpFactor:    100 + f.PumpAndDumpPct,
		NewListingChecks:     f.NewListingChecks,
		NewListingAgeInDays:  f.NewListingAgeInDays,
		KlinesDays:           f.KlinesDays,
		DefaultStep:          f.DefaultStep,
		ReferenceSymbol:      f.ReferenceSymbol,
		PriceLogs:            f.PriceLogs,
		Tickers:              make(map[string]state.Params, len(f.Tickers)),
	}
	if f.ReinvestPercentage != nil {
		run.ReinvestPercentage = *f.ReinvestPercentage
	}
	if run.KlinesDays <= 0 {
		run.KlinesDays = md.DefaultDays
	}
	period, err := md.ParseTrendPeriod(f.PumpAndDumpPeriod)
	if err != nil {
		return Run{}, err
	}
	run.PumpAndDumpPeriod = period

	for symbol, t := range f.Tickers {
		params, err := t.toParams(run.KlinesDays)
		if err != nil {
			return Run{}, fmt.Errorf("ticker %s: %v", symbol, err)
		}
		run.Tickers[symbol] = params
	}
	return run, nil
}

func (t tickerFile) toParams(days int) (state.Params, error) {
	required := []struct {
		name  string
		value *float64
	}{
		{"buy_at_percentage", t.BuyAt},
		{"sell_at_percentage", t.SellAt},
		{"stop_loss_at_percentage", t.StopLoss},
		{"trail_target_sell_percentage", t.TrailTargetSell},
		{"trail_recovery_percentage", t.TrailRecovery},
	}
	for _, r := range required {
		if r.value == nil {
			return state.Params{}, fmt.Errorf("missing %s", r.name)
		}
	}
	trend, err := md.ParseTrendPeriod(t.TrendPeriod)
	if err != nil {
		return state.Params{}, err
	}
	return state.Params{
		Thresholds: state.Thresholds{
			BuyAt:           100 + *t.BuyAt,
			SellAt:          100 + *t.SellAt,
			StopLoss:        100 + *t.StopLoss,
			TrailRecovery:   100 + *t.TrailRecovery,
			TrailTargetSell: 100 + *t.TrailTargetSell,
		},
		SoftLimit:        seconds(t.SoftLimit),
		HardLimit:        seconds(t.HardLimit),
		NaughtyTimeout:   seconds(t.NaughtyTimeout),
		TrendPeriod:      trend,
		TrendSliceChange: 100 + t.TrendSlice,
		Days:             days,
	}, nil
}

func validate(cfg Config) error {
	switch cfg.Mode {
	case ModeLive, ModeTestnet, ModeBacktesting:
	default:
		return fmt.Errorf("%w: invalid mode: %s", ErrInvalidConfig, cfg.Mode)
	}
	if len(cfg.Runs) == 0 {
		return fmt.Errorf("%w: at least one config file is required", ErrInvalidConfig)
	}
	if cfg.Mode != ModeBacktesting {
		if cfg.APIKey == "" || cfg.APISecret == "" {
			return fmt.Errorf("%w: APCA_API_KEY_ID and APCA_API_SECRET_KEY are required in %s mode", ErrInvalidConfig, cfg.Mode)
		}
		if len(cfg.Runs) > 1 {
			return fmt.Errorf("%w: %s mode takes a single config file", ErrInvalidConfig, cfg.Mode)
		}
		if cfg.StatePath == "" {
			return fmt.Errorf("%w: state path is required in %s mode", ErrInvalidConfig, cfg.Mode)
		}
	}
	names := make(map[string]bool, len(cfg.Runs))
	for _, run := range cfg.Runs {
		if names[run.Name] {
			return fmt.Errorf("%w: run %s is configured twice", ErrInvalidConfig, run.Name)
		}
		names[run.Name] = true
		if err := validateRun(cfg.Mode, run); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, run.Name, err)
		}
	}
	return nil
}

func validateRun(mode Mode, run Run) error {
	if run.Strategy == "" {
		return fmt.Errorf("strategy is required")
	}
	if run.MaxCoins <= 0 {
		return fmt.Errorf("max_coins must be > 0")
	}
	if run.InitialInvestment <= 0 {
		return fmt.Errorf("initial_investment must be > 0")
	}
	if run.TradingFee < 0 {
		return fmt.Errorf("trading_fee must be >= 0")
	}
	if run.PauseFor < 0 {
		return fmt.Errorf("pause_for must be >= 0")
	}
	if len(run.Tickers) == 0 {
		return fmt.Errorf("at least one ticker is required")
	}
	if mode != ModeBacktesting && run.PauseFor <= 0 {
		return fmt.Errorf("pause_for must be > 0 in %s mode", mode)
	}
	if mode == ModeBacktesting && len(run.PriceLogs) == 0 {
		return fmt.Errorf("price_logs are required in backtesting mode")
	}
	for symbol, p := range run.Tickers {
		if p.SoftLimit < 0 || p.HardLimit < p.SoftLimit {
			return fmt.Errorf("ticker %s: hard_limit_holding_time must be >= soft_limit_holding_time", symbol)
		}
		if p.Thresholds.StopLoss >= 100 {
			return fmt.Errorf("ticker %s: stop_loss_at_percentage must be negative", symbol)
		}
	}
	return nil
}
