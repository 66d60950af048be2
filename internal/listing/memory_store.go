package listing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/quadmarket/quadmarket/internal/pagination"
)

// MemoryStore is an in-memory listing store for development and tests.
// Conditional writes hold the lock across the check and the write, which
// gives the same winner-takes-the-row semantics as the SQL store's
// guarded UPDATE.
type MemoryStore struct {
	mu       sync.RWMutex
	listings map[string]*Listing
}

// NewMemoryStore creates an empty in-memory listing store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{listings: make(map[string]*Listing)}
}

func (s *MemoryStore) Create(_ context.Context, l *Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *l
	s.listings[l.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.listings[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *MemoryStore) Transition(_ context.Context, id string, from, to Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok || l.Status != from {
		return false, nil
	}
	l.Status = to
	l.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) Reject(_ context.Context, id, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok || l.Status != StatusPendingReview {
		return false, nil
	}
	l.Status = StatusRejected
	l.RejectionReason = reason
	l.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string, allowed []Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok {
		return false, nil
	}
	for _, st := range allowed {
		if l.Status == st {
			delete(s.listings, id)
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ListActive(_ context.Context, categoryID string, cursor *pagination.Cursor, limit int) ([]*Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Listing
	for _, l := range s.listings {
		if l.Status != StatusActive {
			continue
		}
		if categoryID != "" && l.CategoryID != categoryID {
			continue
		}
		if cursor != nil && !before(l, cursor) {
			continue
		}
		cp := *l
		out = append(out, &cp)
	}
	sortNewestFirst(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListBySeller(_ context.Context, sellerID string, limit int) ([]*Listing, error) {
	return s.filter(limit, func(l *Listing) bool { return l.SellerID == sellerID })
}

func (s *MemoryStore) ListByStatus(_ context.Context, status Status, limit int) ([]*Listing, error) {
	return s.filter(limit, func(l *Listing) bool { return l.Status == status })
}

func (s *MemoryStore) filter(limit int, keep func(*Listing) bool) ([]*Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Listing
	for _, l := range s.listings {
		if keep(l) {
			cp := *l
			out = append(out, &cp)
		}
	}
	sortNewestFirst(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// before reports whether l sorts strictly after the cursor position in
// (created_at, id) descending order.
func before(l *Listing, c *pagination.Cursor) bool {
	if !l.CreatedAt.Equal(c.CreatedAt) {
		return l.CreatedAt.Before(c.CreatedAt)
	}
	return l.ID < c.ID
}

func sortNewestFirst(ls []*Listing) {
	sort.Slice(ls, func(i, j int) bool {
		if !ls[i].CreatedAt.Equal(ls[j].CreatedAt) {
			return ls[i].CreatedAt.After(ls[j].CreatedAt)
		}
		return ls[i].ID > ls[j].ID
	})
}

var _ Store = (*MemoryStore)(nil)
