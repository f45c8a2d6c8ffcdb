package state

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"tickbot/internal/md"
)

var t0 = time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC)

func testParams() Params {
	return Params{
		Thresholds: Thresholds{
			BuyAt:           99,
			SellAt:          103,
			StopLoss:        97,
			TrailRecovery:   100.5,
			TrailTargetSell: 99.5,
		},
		SoftLimit:        2 * time.Hour,
		HardLimit:        4 * time.Hour,
		NaughtyTimeout:   time.Hour,
		TrendPeriod:      md.TrendPeriod{Count: 2, Resolution: md.Hours},
		TrendSliceChange: 101,
		Days:             30,
	}
}

func samplePosition() *Position {
	p := NewPosition("BTCUSDT", testParams())
	for i := 0; i < 200; i++ {
		p.Observe(t0.Add(time.Duration(i)*time.Second), 100+float64(i%7))
	}
	p.Status = StatusTargetSell
	p.BoughtAt = 100
	p.BoughtAtTime = t0
	p.Volume = 0.5
	p.Cost = 50
	p.Value = 53
	p.Tip = 106
	p.Naughty = true
	p.NaughtySince = t0.Add(time.Minute)
	p.HoldingDuration = 199 * time.Second
	p.Thresholds.SellAt = 102.2
	return p
}

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "state.json"))
	p := samplePosition()
	snapshot := Snapshot{
		Positions: map[string]*Position{p.Symbol: p},
		Wallet:    []string{p.Symbol},
	}

	if err := store.Save(snapshot); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !reflect.DeepEqual(loaded, snapshot) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", loaded.Positions[p.Symbol], p)
	}
}

func TestStoreMissingFileIsEmpty(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "state.json"))
	snapshot, err := store.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(snapshot.Positions) != 0 || len(snapshot.Wallet) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snapshot)
	}
}

func TestStoreFallsBackToBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewStore(path)
	first := Snapshot{Positions: map[string]*Position{}, Wallet: []string{"ETHUSDT"}}
	if err := store.Save(first); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	second := Snapshot{Positions: map[string]*Position{}, Wallet: []string{"BTCUSDT"}}
	if err := store.Save(second); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := os.WriteFile(path, []byte("{\"positions\": tr"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(loaded.Wallet) != 1 || loaded.Wallet[0] != "ETHUSDT" {
		t.Fatalf("expected backup wallet, got %v", loaded.Wallet)
	}
}

func TestStoreCorruptWithoutBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	loaded, err := NewStore(path).Load()
	if !errors.Is(err, ErrCorruptState) {
		t.Fatalf("expected ErrCorruptState, got %v", err)
	}
	if loaded.Positions == nil || len(loaded.Positions) != 0 {
		t.Fatalf("expected usable empty snapshot, got %+v", loaded)
	}
}

func TestStoreRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	body := `{"positions": {"BTCUSDT": {"symbol": "BTCUSDT", "status": "EMPTY", "moon": 1}}, "wallet": []}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := NewStore(path).Load(); !errors.Is(err, ErrCorruptState) {
		t.Fatalf("expected unknown field rejection, got %v", err)
	}
}

func TestStoreRejectsUnknownStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	body := `{"positions": {"BTCUSDT": {"symbol": "BTCUSDT", "status": "MOON"}}, "wallet": []}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := NewStore(path).Load(); !errors.Is(err, ErrCorruptState) {
		t.Fatalf("expected unknown status rejection, got %v", err)
	}
}

func TestMergeKeepsConfiguredParams(t *testing.T) {
	saved := samplePosition()

	params := testParams()
	params.Thresholds.SellAt = 110
	params.HardLimit = 8 * time.Hour
	params.Days = 10
	fresh := NewPosition("BTCUSDT", params)

	if err := fresh.Merge(saved); err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if fresh.Status != StatusTargetSell || fresh.BoughtAt != 100 || fresh.Tip != 106 || !fresh.Naughty {
		t.Fatalf("runtime state not merged: %+v", fresh)
	}
	if fresh.Baseline.SellAt != 110 || fresh.HardLimit != 8*time.Hour {
		t.Fatalf("configured params overwritten: %+v", fresh.Baseline)
	}
	if fresh.Thresholds.SellAt != 102.2 {
		t.Fatalf("held position should keep decayed thresholds, got %v", fresh.Thresholds.SellAt)
	}
	if fresh.Windows.Levels[md.Days].Cap != 10 {
		t.Fatalf("days cap should come from config, got %d", fresh.Windows.Levels[md.Days].Cap)
	}
	if fresh.Windows.Len(md.Minutes) != saved.Windows.Len(md.Minutes) {
		t.Fatalf("windows not merged")
	}
}

func TestMergeResetsThresholdsWhenNotHeld(t *testing.T) {
	saved := samplePosition()
	saved.Status = StatusEmpty
	fresh := NewPosition("BTCUSDT", testParams())
	if err := fresh.Merge(saved); err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if fresh.Thresholds != fresh.Baseline {
		t.Fatalf("expected baseline thresholds, got %+v", fresh.Thresholds)
	}
}

func TestMergeRejectsMismatchedSymbol(t *testing.T) {
	if err := NewPosition("ETHUSDT", testParams()).Merge(samplePosition()); err == nil {
		t.Fatalf("expected symbol mismatch error")
	}
}

func TestObserveTracksHolding(t *testing.T) {
	p := NewPosition("BTCUSDT", testParams())
	p.Observe(t0, 10)
	if p.LastPrice != 10 || p.Price != 10 {
		t.Fatalf("first observation should seed last price, got %v/%v", p.LastPrice, p.Price)
	}
	p.Status = StatusHold
	p.BoughtAtTime = t0
	p.Volume = 2
	p.Observe(t0.Add(90*time.Second), 12)
	if p.LastPrice != 10 || p.HoldingDuration != 90*time.Second || p.Value != 24 {
		t.Fatalf("unexpected position: last=%v holding=%v value=%v", p.LastPrice, p.HoldingDuration, p.Value)
	}
}
