package mandate

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store in memory. Thread-safe via RWMutex.
type MemoryStore struct {
	mu       sync.RWMutex
	mandates map[string]*Mandate
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{mandates: make(map[string]*Mandate)}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Mandate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.mandates[id]
	if !ok {
		return nil, ErrNotFound
	}
	// return copy to avoid race on mutation outside lock
	val := *m
	return &val, nil
}

func (s *MemoryStore) Put(ctx context.Context, m *Mandate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	val := *m
	s.mandates[m.ID] = &val
	return nil
}

func (s *MemoryStore) CompareAndSetStatus(ctx context.Context, id string, expect, next Status, at time.Time, revokeReason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mandates[id]
	if !ok {
		return false, ErrNotFound
	}
	if m.Status != expect {
		return false, nil
	}
	m.Status = next
	m.UpdatedAt = at
	if next == StatusRevoked {
		t := at
		m.RevokedAt = &t
		m.RevokeReason = revokeReason
	}
	return true, nil
}

func (s *MemoryStore) ListActiveByPrincipal(ctx context.Context, principalID string) ([]*Mandate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Mandate
	for _, m := range s.mandates {
		if m.PrincipalID == principalID && m.Status == StatusActive {
			val := *m
			out = append(out, &val)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
