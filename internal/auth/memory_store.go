package auth

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory API key store for development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	byHash map[string]*APIKey
	byID   map[string]*APIKey
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byHash: make(map[string]*APIKey),
		byID:   make(map[string]*APIKey),
	}
}

func (s *MemoryStore) Create(_ context.Context, k *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *k
	s.byHash[k.Hash] = &cp
	s.byID[k.ID] = &cp
	return nil
}

func (s *MemoryStore) GetByHash(_ context.Context, hash string) (*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.byHash[hash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *k
	return &cp, nil
}

func (s *MemoryStore) TouchLastUsed(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.byID[id]; ok {
		t := at
		k.LastUsedAt = &t
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
