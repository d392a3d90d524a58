package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"BookmarkScout/internal/domain"
	"BookmarkScout/internal/ports"
)

// MemoryRunStore keeps checkpoints in process memory. Values are deep-copied
// on the way in and out so callers never share maps with the store.
type MemoryRunStore struct {
	mu    sync.RWMutex
	items map[string][]byte
}

var _ ports.RunStore = (*MemoryRunStore)(nil)

// NewMemoryRunStore builds an empty store.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{items: map[string][]byte{}}
}

// Load returns the checkpoint for bookmarkID.
func (s *MemoryRunStore) Load(ctx context.Context, bookmarkID string) (domain.Checkpoint, bool, error) {
	s.mu.RLock()
	raw, ok := s.items[bookmarkID]
	s.mu.RUnlock()
	if !ok {
		return domain.Checkpoint{}, false, nil
	}
	cp, err := decodeCheckpoint(raw)
	if err != nil {
		return domain.Checkpoint{}, false, err
	}
	return cp, true, nil
}

// Save replaces the checkpoint for its bookmark.
func (s *MemoryRunStore) Save(ctx context.Context, checkpoint domain.Checkpoint) error {
	if checkpoint.Run.BookmarkID == "" {
		return fmt.Errorf("save checkpoint: bookmark id is empty")
	}
	raw, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	s.mu.Lock()
	s.items[checkpoint.Run.BookmarkID] = raw
	s.mu.Unlock()
	return nil
}

// Delete forgets a bookmark.
func (s *MemoryRunStore) Delete(ctx context.Context, bookmarkID string) error {
	s.mu.Lock()
	delete(s.items, bookmarkID)
	s.mu.Unlock()
	return nil
}

// List returns the newest runs first; limit <= 0 means all.
func (s *MemoryRunStore) List(ctx context.Context, limit int) ([]domain.PipelineRun, error) {
	s.mu.RLock()
	runs := make([]domain.PipelineRun, 0, len(s.items))
	for _, raw := range s.items {
		cp, err := decodeCheckpoint(raw)
		if err != nil {
			s.mu.RUnlock()
			return nil, err
		}
		runs = append(runs, cp.Run)
	}
	s.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.After(runs[j].StartedAt)
		}
		return runs[i].BookmarkID < runs[j].BookmarkID
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func decodeCheckpoint(raw []byte) (domain.Checkpoint, error) {
	var cp domain.Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return domain.Checkpoint{}, fmt.Errorf("decode checkpoint: %w", err)
	}
	if cp.Run.StageStatus == nil {
		cp.Run.StageStatus = map[domain.Stage]domain.StageStatus{}
	}
	if cp.Run.StageErrors == nil {
		cp.Run.StageErrors = map[string]string{}
	}
	return cp, nil
}
