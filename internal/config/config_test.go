package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tickbot/internal/md"
)

const runYAML = `strategy: BuyDropSellRecoveryStrategy
pause_for: 1
initial_investment: 100
max_coins: 2
trading_fee: 0.1
re_invest_percentage: 50
clean_coin_stats_at_sale: true
enable_pump_and_dump_checks: true
pump_and_dump_period: 2h
pump_and_dump_percentage: 10
klines_days: 30
price_logs:
  - log/20210101.log.gz
tickers:
  BTCUSDT:
    buy_at_percentage: -9
    sell_at_percentage: +3
    stop_loss_at_percentage: -10
    trail_target_sell_percentage: -0.5
    trail_recovery_percentage: +0.5
    soft_limit_holding_time: 7200
    hard_limit_holding_time: 14400
    naughty_timeout: 28800
    klines_trend_period: 3m
    klines_slice_percentage_change: +1
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadRunConvertsPercentages(t *testing.T) {
	path := writeFile(t, t.TempDir(), "drop.yaml", runYAML)
	run, err := LoadRun(path)
	if err != nil {
		t.Fatalf("load run: %v", err)
	}
	if run.Name != "drop" || run.PauseFor != time.Second || run.ReinvestPercentage != 50 {
		t.Fatalf("unexpected run: %+v", run)
	}
	if run.PumpAndDumpPeriod != (md.TrendPeriod{Count: 2, Resolution: md.Hours}) || run.PumpAndDumpFactor != 110 {
		t.Fatalf("unexpected pump and dump settings: %v %v", run.PumpAndDumpPeriod, run.PumpAndDumpFactor)
	}
	p := run.Tickers["BTCUSDT"]
	if p.Thresholds.BuyAt != 91 || p.Thresholds.SellAt != 103 || p.Thresholds.StopLoss != 90 {
		t.Fatalf("unexpected thresholds: %+v", p.Thresholds)
	}
	if p.Thresholds.TrailTargetSell != 99.5 || p.Thresholds.TrailRecovery != 100.5 {
		t.Fatalf("unexpected trail thresholds: %+v", p.Thresholds)
	}
	if p.SoftLimit != 2*time.Hour || p.HardLimit != 4*time.Hour || p.NaughtyTimeout != 8*time.Hour {
		t.Fatalf("unexpected limits: %+v", p)
	}
	if p.TrendPeriod.String() != "3m" || p.TrendSliceChange != 101 || p.Days != 30 {
		t.Fatalf("unexpected trend settings: %+v", p)
	}
}

func TestLoadRunDefaultsReinvestToFull(t *testing.T) {
	body := strings.Replace(runYAML, "re_invest_percentage: 50\n", "", 1)
	run, err := LoadRun(writeFile(t, t.TempDir(), "run.yaml", body))
	if err != nil {
		t.Fatalf("load run: %v", err)
	}
	if run.ReinvestPercentage != 100 {
		t.Fatalf("expected default reinvest 100, got %v", run.ReinvestPercentage)
	}
}

func TestLoadRunRejectsMissingPercentage(t *testing.T) {
	body := strings.Replace(runYAML, "    sell_at_percentage: +3\n", "", 1)
	_, err := LoadRun(writeFile(t, t.TempDir(), "run.yaml", body))
	if !errors.Is(err, ErrInvalidConfig) || !strings.Contains(err.Error(), "sell_at_percentage") {
		t.Fatalf("expected missing sell_at_percentage, got %v", err)
	}
}

func TestLoadRunRejectsUnknownKey(t *testing.T) {
	body := runYAML + "moon_mode: true\n"
	if _, err := LoadRun(writeFile(t, t.TempDir(), "run.yaml", body)); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected unknown key rejection, got %v", err)
	}
}

func TestLoadRunRejectsBadTrendPeriod(t *testing.T) {
	body := strings.Replace(runYAML, "klines_trend_period: 3m", "klines_trend_period: 3w", 1)
	if _, err := LoadRun(writeFile(t, t.TempDir(), "run.yaml", body)); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected trend period rejection, got %v", err)
	}
}

func TestLoadBacktestingWithMultipleRuns(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.yaml", runYAML)
	b := writeFile(t, dir, "b.yaml", strings.Replace(runYAML, "max_coins: 2", "max_coins: 4", 1))

	cfg, err := Load([]string{"-mode", "backtesting", "-config", a + "," + b, "-env", ""})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Runs) != 2 || cfg.Runs[1].MaxCoins != 4 {
		t.Fatalf("unexpected runs: %+v", cfg.Runs)
	}
}

func TestLoadGivesCollidingRunsDistinctNames(t *testing.T) {
	root := t.TempDir()
	for _, sub := range []string{"fast", "slow"} {
		if err := os.Mkdir(filepath.Join(root, sub), 0o700); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	a := writeFile(t, filepath.Join(root, "fast"), "run.yaml", runYAML)
	b := writeFile(t, filepath.Join(root, "slow"), "run.yaml", runYAML)

	cfg, err := Load([]string{"-mode", "backtesting", "-config", a + "," + b, "-env", ""})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Runs[0].Name == cfg.Runs[1].Name {
		t.Fatalf("run names collide: %q", cfg.Runs[0].Name)
	}
	if !strings.HasSuffix(cfg.Runs[0].Name, "fast/run") || !strings.HasSuffix(cfg.Runs[1].Name, "slow/run") {
		t.Fatalf("unexpected run names %q and %q", cfg.Runs[0].Name, cfg.Runs[1].Name)
	}

	if _, err := Load([]string{"-mode", "backtesting", "-config", a + "," + a, "-env", ""}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected duplicate run rejection, got %v", err)
	}
}

func TestLoadLiveRequiresCredentials(t *testing.T) {
	path := writeFile(t, t.TempDir(), "run.yaml", runYAML)
	t.Setenv("APCA_API_KEY_ID", "")
	t.Setenv("APCA_API_SECRET_KEY", "")
	if _, err := Load([]string{"-mode", "live", "-config", path, "-env", ""}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected missing credentials error, got %v", err)
	}
}

func TestLoadReadsDotEnvWithoutOverriding(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "run.yaml", runYAML)
	env := writeFile(t, dir, ".env", "APCA_API_KEY_ID=from_file\nAPCA_API_SECRET_KEY=shh\n")
	t.Setenv("APCA_API_KEY_ID", "from_env")
	t.Setenv("APCA_API_SECRET_KEY", "")
	os.Unsetenv("APCA_API_SECRET_KEY")

	cfg, err := Load([]string{"-mode", "testnet", "-config", path, "-env", env})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIKey != "from_env" || cfg.APISecret != "shh" {
		t.Fatalf("unexpected credentials %q/%q", cfg.APIKey, cfg.APISecret)
	}
	if cfg.BaseURL != testnetBaseURL {
		t.Fatalf("unexpected base url %s", cfg.BaseURL)
	}
}

func TestValidateRejectsInvalidValues(t *testing.T) {
	run, err := LoadRun(writeFile(t, t.TempDir(), "run.yaml", runYAML))
	if err != nil {
		t.Fatalf("load run: %v", err)
	}
	cfg := Config{Mode: ModeBacktesting, Runs: []Run{run}}
	if err := validate(cfg); err != nil {
		t.Fatalf("expected config to be valid, got %v", err)
	}

	run.MaxCoins = 0
	cfg.Runs = []Run{run}
	if err := validate(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected validation error for max_coins")
	}

	cfg.Mode = "paper"
	if err := validate(cfg); err == nil {
		t.Fatalf("expected invalid mode error")
	}
}
