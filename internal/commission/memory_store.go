package commission

import (
	"context"
	"sync"

	"github.com/quadmarket/quadmarket/internal/listing"
)

// MemoryStore is an in-memory payment ledger for development and tests.
// It advances the listing through the listing store's own conditional
// transition while holding its lock, mirroring the transactional
// coupling of the Postgres store.
type MemoryStore struct {
	mu        sync.Mutex
	byListing map[string]*Payment
	listings  *listing.MemoryStore
}

func NewMemoryStore(listings *listing.MemoryStore) *MemoryStore {
	return &MemoryStore{
		byListing: make(map[string]*Payment),
		listings:  listings,
	}
}

func (s *MemoryStore) Record(ctx context.Context, p *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byListing[p.ListingID]; exists {
		return ErrAlreadyPaid
	}
	ok, err := s.listings.Transition(ctx, p.ListingID, listing.StatusPendingCommission, listing.StatusPendingReview)
	if err != nil {
		return err
	}
	if !ok {
		return ErrStateChanged
	}
	cp := *p
	s.byListing[p.ListingID] = &cp
	return nil
}

func (s *MemoryStore) GetByListing(_ context.Context, listingID string) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byListing[listingID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

var _ Store = (*MemoryStore)(nil)
