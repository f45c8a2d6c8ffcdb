package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrCorruptState marks a persisted snapshot that could not be decoded.
var ErrCorruptState = errors.New("corrupt state")

// Snapshot is the persisted form of the engine: positions by symbol and the
// ordered wallet.
type Snapshot struct {
	Positions map[string]*Position `json:"positions"`
	Wallet    []string             `json:"wallet"`
}

// Store persists snapshots to a JSON file. Writes go to a temporary file
// which replaces the current snapshot after the previous one is rotated to
// the backup path.
type Store struct {
	mu   sync.Mutex
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) BackupPath() string {
	return s.path + ".backup"
}

func (s *Store) Save(snapshot Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" {
		return errors.New("empty state path")
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if _, err := os.Stat(s.path); err == nil {
		if err := os.Rename(s.path, s.BackupPath()); err != nil {
			return fmt.Errorf("rotate state backup: %w", err)
		}
	}
	return os.Rename(tmp.Name(), s.path)
}

// Load reads the snapshot, falling back to the backup when the primary is
// unreadable. A missing file yields an empty snapshot. When neither file
// decodes the returned snapshot is empty and the error wraps ErrCorruptState.
func (s *Store) Load() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, primaryErr := readSnapshot(s.path)
	if primaryErr == nil {
		return snapshot, nil
	}
	snapshot, backupErr := readSnapshot(s.BackupPath())
	if backupErr == nil {
		return snapshot, nil
	}
	if errors.Is(primaryErr, os.ErrNotExist) && errors.Is(backupErr, os.ErrNotExist) {
		return emptySnapshot(), nil
	}
	return emptySnapshot(), fmt.Errorf("load %s: %v; backup: %v: %w", s.path, primaryErr, backupErr, ErrCorruptState)
}

func emptySnapshot() Snapshot {
	return Snapshot{Positions: map[string]*Position{}}
}

func readSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	var snapshot Snapshot
	if err := decoder.Decode(&snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("decode: %w", err)
	}
	if snapshot.Positions == nil {
		snapshot.Positions = map[string]*Position{}
	}
	for symbol, p := range snapshot.Positions {
		if p == nil || p.Symbol != symbol {
			return Snapshot{}, fmt.Errorf("position %q does not match its key", symbol)
		}
		if !p.Status.valid() {
			return Snapshot{}, fmt.Errorf("position %s has unknown status %q", symbol, p.Status)
		}
	}
	return snapshot, nil
}
