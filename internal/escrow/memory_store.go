package escrow

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory escrow store for development and tests.
// Conditional writes hold the lock across check and write, matching the
// guarded-UPDATE semantics of the Postgres store.
type MemoryStore struct {
	mu  sync.RWMutex
	txs map[string]*Transaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{txs: make(map[string]*Transaction)}
}

func (s *MemoryStore) Create(_ context.Context, tx *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.txs {
		if existing.ListingID == tx.ListingID &&
			(existing.Status == StatusHolding || existing.Status == StatusDisputed) {
			return ErrAlreadyOpen
		}
	}
	cp := *tx
	s.txs[tx.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tx
	return &cp, nil
}

func (s *MemoryStore) Transition(_ context.Context, id string, from []Status, to Status, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok {
		return false, nil
	}
	matched := false
	for _, st := range from {
		if tx.Status == st {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}

	now := time.Now().UTC()
	tx.Status = to
	tx.UpdatedAt = now
	if reason != "" {
		tx.ResolutionReason = reason
	}
	if to == StatusReleased {
		t := now
		tx.ReleasedAt = &t
	}
	return true, nil
}

func (s *MemoryStore) HasOpen(_ context.Context, listingID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, tx := range s.txs {
		if tx.ListingID == listingID &&
			(tx.Status == StatusHolding || tx.Status == StatusDisputed) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, status Status, limit int) ([]*Transaction, error) {
	return s.filter(limit, func(tx *Transaction) bool { return tx.Status == status })
}

func (s *MemoryStore) ListBySeller(_ context.Context, sellerID string, limit int) ([]*Transaction, error) {
	return s.filter(limit, func(tx *Transaction) bool { return tx.SellerID == sellerID })
}

func (s *MemoryStore) filter(limit int, keep func(*Transaction) bool) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Transaction
	for _, tx := range s.txs {
		if keep(tx) {
			cp := *tx
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
