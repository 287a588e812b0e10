package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/SIR-trading/Core-sub002/internal/model"
)

// snapshot is the on-disk form of the whole book.
type snapshot struct {
	VaultStates  []model.VaultState  `json:"vault_states"`
	OracleStates []model.OracleState `json:"oracle_states"`
	SystemStatus string              `json:"system_status,omitempty"`
	UpdatedAt    string              `json:"updated_at"`
}

// FileStore is a StateStore backed by a single JSON file, written
// atomically via a temp file and rename. It suits single-process
// deployments that do not want a database.
type FileStore struct {
	path string
	mu   sync.Mutex
}

var _ StateStore = (*FileStore)(nil)

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) UpsertVaultStates(_ context.Context, states []model.VaultState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(func(snap *snapshot) {
		for _, st := range states {
			snap.VaultStates = upsertVault(snap.VaultStates, st)
		}
	})
}

func (s *FileStore) UpsertOracleStates(_ context.Context, states []model.OracleState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(func(snap *snapshot) {
		for _, st := range states {
			snap.OracleStates = upsertOracle(snap.OracleStates, st)
		}
	})
}

func (s *FileStore) LoadVaultStates(_ context.Context) ([]model.VaultState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, _, err := s.load()
	if err != nil {
		return nil, err
	}
	return snap.VaultStates, nil
}

func (s *FileStore) LoadOracleStates(_ context.Context) ([]model.OracleState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, _, err := s.load()
	if err != nil {
		return nil, err
	}
	return snap.OracleStates, nil
}

func (s *FileStore) SaveSystemStatus(_ context.Context, status string) error {
	if status == "" {
		return fmt.Errorf("status required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(func(snap *snapshot) {
		snap.SystemStatus = status
	})
}

func (s *FileStore) LoadSystemStatus(_ context.Context) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok, err := s.load()
	if err != nil {
		return "", false, err
	}
	if !ok || snap.SystemStatus == "" {
		return "", false, nil
	}
	return snap.SystemStatus, true, nil
}

func (s *FileStore) update(apply func(*snapshot)) error {
	snap, _, err := s.load()
	if err != nil {
		return err
	}
	apply(&snap)
	return s.save(snap)
}

func (s *FileStore) load() (snapshot, bool, error) {
	stat, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return snapshot{}, false, nil
		}
		return snapshot{}, false, fmt.Errorf("stat snapshot: %w", err)
	}
	if stat.IsDir() {
		return snapshot{}, false, fmt.Errorf("snapshot path is a directory")
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return snapshot{}, false, fmt.Errorf("read snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return snapshot{}, false, fmt.Errorf("parse snapshot: %w", err)
	}
	return snap, true, nil
}

func (s *FileStore) save(snap snapshot) error {
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}

	snap.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot tmp: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

func upsertVault(states []model.VaultState, st model.VaultState) []model.VaultState {
	for i := range states {
		if states[i].VaultID == st.VaultID {
			states[i] = st
			return states
		}
	}
	return append(states, st)
}

func upsertOracle(states []model.OracleState, st model.OracleState) []model.OracleState {
	for i := range states {
		if states[i].TokenA == st.TokenA && states[i].TokenB == st.TokenB {
			states[i] = st
			return states
		}
	}
	return append(states, st)
}
