package notify

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrSubscriptionNotFound means no subscription exists with the ID.
var ErrSubscriptionNotFound = errors.New("webhook subscription not found")

// MemorySubscriptionStore is an in-memory subscription store.
type MemorySubscriptionStore struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

func NewMemorySubscriptionStore() *MemorySubscriptionStore {
	return &MemorySubscriptionStore{subs: make(map[string]*Subscription)}
}

func (s *MemorySubscriptionStore) Create(_ context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sub
	s.subs[sub.ID] = &cp
	return nil
}

func (s *MemorySubscriptionStore) Get(_ context.Context, id string) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *MemorySubscriptionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[id]; !ok {
		return ErrSubscriptionNotFound
	}
	delete(s.subs, id)
	return nil
}

func (s *MemorySubscriptionStore) ListByUser(_ context.Context, userID string) ([]*Subscription, error) {
	return s.filter(func(sub *Subscription) bool { return sub.UserID == userID })
}

func (s *MemorySubscriptionStore) ListActive(_ context.Context) ([]*Subscription, error) {
	return s.filter(func(sub *Subscription) bool { return sub.Active })
}

func (s *MemorySubscriptionStore) filter(keep func(*Subscription) bool) ([]*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Subscription
	for _, sub := range s.subs {
		if keep(sub) {
			cp := *sub
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

var _ SubscriptionStore = (*MemorySubscriptionStore)(nil)
