// Package hintstore keeps writes destined for unreachable replicas until
// they can be delivered.
package hintstore

import (
	"context"
	"sort"
	"sync"

	"github.com/anthanhphan/go-distributed-kv/internal/node/domain"
	"github.com/anthanhphan/go-distributed-kv/internal/node/port"
)

var _ port.HintStore = (*MemoryStore)(nil)

// MemoryStore is a process-local store. Hints are lost on restart.
type MemoryStore struct {
	mu    sync.Mutex
	hints map[string]map[int64]domain.Hint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{hints: make(map[string]map[int64]domain.Hint)}
}

func (s *MemoryStore) Add(_ context.Context, h domain.Hint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.hints[h.Target.Host]
	if !ok {
		byID = make(map[int64]domain.Hint)
		s.hints[h.Target.Host] = byID
	}
	byID[h.ID] = h
	return nil
}

func (s *MemoryStore) List(_ context.Context, target string) ([]domain.Hint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Hint, 0, len(s.hints[target]))
	for _, h := range s.hints[target] {
		out = append(out, h)
	}
	sortByID(out)
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, target string, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := s.hints[target]
	for _, id := range ids {
		delete(byID, id)
	}
	if len(byID) == 0 {
		delete(s.hints, target)
	}
	return nil
}

func (s *MemoryStore) Targets(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.hints))
	for host := range s.hints {
		out = append(out, host)
	}
	sort.Strings(out)
	return out, nil
}

func sortByID(hints []domain.Hint) {
	sort.Slice(hints, func(i, j int) bool { return hints[i].ID < hints[j].ID })
}
