// Package jsonfile persists batch checkpoints as one JSON document per
// batch. Writes go to a temp file followed by an atomic rename, so a crash
// mid-write leaves the previous checkpoint intact.
package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tmarlin/clipharvest/internal/domain"
	"github.com/tmarlin/clipharvest/internal/port"
)

type Store struct {
	mu  sync.Mutex
	dir string
}

func NewStore(dataDir string) (*Store, error) {
	dir := filepath.Join(dataDir, "checkpoints")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Load(_ context.Context, batchID string) (*domain.BatchCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(batchID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("read checkpoint %s: %w", batchID, err)
	}

	var cp domain.BatchCheckpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", batchID, err)
	}
	if cp.RejectionReasons == nil {
		cp.RejectionReasons = make(map[string]int)
	}
	if cp.Processed == nil {
		cp.Processed = make(map[string]domain.Outcome)
	}
	if cp.Cursors == nil {
		cp.Cursors = make(map[string]string)
	}
	return &cp, nil
}

func (s *Store) Save(_ context.Context, cp *domain.BatchCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", cp.BatchID, err)
	}

	path := s.path(cp.BatchID)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write checkpoint %s: %w", cp.BatchID, err)
	}
	return os.Rename(tmpPath, path)
}

func (s *Store) path(batchID string) string {
	return filepath.Join(s.dir, batchID+".json")
}

var _ port.CheckpointStore = (*Store)(nil)
