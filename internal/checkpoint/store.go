// Package checkpoint provides CheckpointStore implementations: an in-memory
// store for tests and single-process use, plus SQLite and Redis stores for
// durable pause/resume across process restarts.
//
// Checkpoints are serialized as JSON: the variable context is declared data
// only, and JSON round-trips it across every backend and process boundary.
package checkpoint

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/AreteDriver/AI-Orchestra/pkg/api"
)

// ErrNotFound is returned when a checkpoint ID is unknown to the store.
var ErrNotFound = errors.New("checkpoint not found")

// MemoryStore is a goroutine-safe CheckpointStore backed by a map.
type MemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string]*api.Checkpoint
}

var _ api.CheckpointStore = (*MemoryStore)(nil)

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{checkpoints: make(map[string]*api.Checkpoint)}
}

func (s *MemoryStore) Save(ctx context.Context, ckpt *api.Checkpoint) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ckpt.ID == "" {
		ckpt.ID = uuid.NewString()
	}
	// Store a copy so later scheduler mutations cannot leak in.
	cp := *ckpt
	s.checkpoints[cp.ID] = &cp
	return cp.ID, nil
}

func (s *MemoryStore) Load(ctx context.Context, id string) (*api.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ckpt, ok := s.checkpoints[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ckpt
	return &cp, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, id)
	return nil
}
