// Package listing owns the marketplace listing lifecycle.
//
// Every listing moves through a commission-gated state machine:
//
//	pending_commission → pending_review → active → sold
//	                            |            |
//	                         rejected     archived
//
// The seller pays a commission to move out of pending_commission
// (internal/commission drives that transition), an admin moderates the
// listing into active or rejected, and a recorded sale marks it sold.
// Only active listings are visible to buyers.
//
// All status changes go through a single conditional update ("set status
// to X where id = I and status = expected"). A transition that affects
// zero rows lost a race and reports the actual current status instead of
// silently rewriting it.
package listing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quadmarket/quadmarket/internal/idgen"
	"github.com/quadmarket/quadmarket/internal/metrics"
	"github.com/quadmarket/quadmarket/internal/money"
	"github.com/quadmarket/quadmarket/internal/pagination"
	"github.com/quadmarket/quadmarket/internal/principal"
	"github.com/quadmarket/quadmarket/internal/retry"
)

var (
	ErrNotFound        = errors.New("listing not found")
	ErrNotOwner        = errors.New("not authorized for this listing")
	ErrNotAdmin        = errors.New("admin role required")
	ErrInvalidStatus   = errors.New("listing status does not allow this operation")
	ErrInvalidPrice    = errors.New("price must be a positive amount")
	ErrUnknownCategory = errors.New("unknown category")
	ErrEmptyTitle      = errors.New("title is required")
	ErrEscrowHeld      = errors.New("listing has funds held in escrow")
)

// Status is the lifecycle state of a listing.
type Status string

const (
	StatusPendingCommission Status = "pending_commission"
	StatusPendingReview     Status = "pending_review"
	StatusActive            Status = "active"
	StatusSold              Status = "sold"
	StatusArchived          Status = "archived"
	StatusRejected          Status = "rejected"
)

// deletableStatuses are the only states a listing may be removed from.
var deletableStatuses = []Status{StatusPendingCommission, StatusRejected, StatusArchived}

// Listing is a seller's item for sale.
type Listing struct {
	ID              string    `json:"id"`
	SellerID        string    `json:"sellerId"`
	CategoryID      string    `json:"categoryId"`
	Title           string    `json:"title"`
	Price           string    `json:"price"` // immutable after creation
	Status          Status    `json:"status"`
	RejectionReason string    `json:"rejectionReason,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// StatusError reports a transition refused because the listing was not
// in the expected state. Callers should re-fetch and re-render; this is
// an expected outcome under concurrent use, not a defect.
type StatusError struct {
	Op      string
	Current Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("cannot %s listing in status %s", e.Op, e.Current)
}

func (e *StatusError) Unwrap() error { return ErrInvalidStatus }

// Store persists listings. Transition and Delete are conditional writes:
// they return false when the row was not in the expected state, and the
// caller decides what that means.
type Store interface {
	Create(ctx context.Context, l *Listing) error
	Get(ctx context.Context, id string) (*Listing, error)
	// Transition performs the atomic conditional status update.
	Transition(ctx context.Context, id string, from, to Status) (bool, error)
	// Reject is Transition(pending_review → rejected) plus the reason.
	Reject(ctx context.Context, id, reason string) (bool, error)
	// Delete removes the listing only while its status is in allowed.
	// The Postgres implementation additionally refuses while an escrow
	// holds funds against the listing.
	Delete(ctx context.Context, id string, allowed []Status) (bool, error)
	ListActive(ctx context.Context, categoryID string, cursor *pagination.Cursor, limit int) ([]*Listing, error)
	ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Listing, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Listing, error)
}

// EscrowChecker reports whether money is in flight for a listing.
// Implemented by the escrow service; the listing package stays unaware
// of escrow internals.
type EscrowChecker interface {
	HasOpen(ctx context.Context, listingID string) (bool, error)
}

// Events receives listing lifecycle notifications. Implementations must
// not block; emission failures never affect the committed transition.
type Events interface {
	ListingCreated(l *Listing)
	ListingApproved(l *Listing)
	ListingRejected(l *Listing, reason string)
	ListingArchived(l *Listing)
	ListingDeleted(id, sellerID string)
}

// CreateRequest contains the parameters for creating a listing.
type CreateRequest struct {
	Title      string `json:"title" binding:"required"`
	Price      string `json:"price" binding:"required"`
	CategoryID string `json:"categoryId" binding:"required"`
}

// Service implements listing business logic.
type Service struct {
	store      Store
	categories CategoryStore
	escrows    EscrowChecker
	events     Events
}

// NewService creates a listing service.
func NewService(store Store, categories CategoryStore) *Service {
	return &Service{store: store, categories: categories}
}

// WithEscrowChecker wires the fund-safety check used by Delete.
func (s *Service) WithEscrowChecker(c EscrowChecker) *Service {
	s.escrows = c
	return s
}

// WithEvents wires lifecycle event emission.
func (s *Service) WithEvents(e Events) *Service {
	s.events = e
	return s
}

// Create validates and stores a new listing in pending_commission.
func (s *Service) Create(ctx context.Context, caller principal.Principal, req CreateRequest) (*Listing, error) {
	if caller.Anonymous() {
		return nil, ErrNotOwner
	}
	if req.Title == "" {
		return nil, ErrEmptyTitle
	}
	if !money.IsPositive(req.Price) {
		return nil, ErrInvalidPrice
	}
	ok, err := s.categories.Exists(ctx, req.CategoryID)
	if err != nil {
		return nil, fmt.Errorf("check category: %w", err)
	}
	if !ok {
		return nil, ErrUnknownCategory
	}

	now := time.Now().UTC()
	l := &Listing{
		ID:         idgen.WithPrefix("lst_"),
		SellerID:   caller.UserID,
		CategoryID: req.CategoryID,
		Title:      req.Title,
		Price:      req.Price,
		Status:     StatusPendingCommission,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := retry.Do(ctx, 2, 50*time.Millisecond, func() error {
		return s.store.Create(ctx, l)
	}); err != nil {
		return nil, fmt.Errorf("create listing: %w", err)
	}

	metrics.ListingTransitionsTotal.WithLabelValues(string(StatusPendingCommission)).Inc()
	if s.events != nil {
		s.events.ListingCreated(l)
	}
	return l, nil
}

// Get returns a listing by ID regardless of status. Callers enforce the
// visibility contract (non-active listings are owner/admin only).
func (s *Service) Get(ctx context.Context, id string) (*Listing, error) {
	return s.store.Get(ctx, id)
}

// Archive transitions an active listing to archived. Seller only.
func (s *Service) Archive(ctx context.Context, id string, caller principal.Principal) (*Listing, error) {
	l, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.Owns(l.SellerID) {
		return nil, ErrNotOwner
	}

	if err := s.transition(ctx, id, "archive", StatusActive, StatusArchived); err != nil {
		return nil, err
	}

	fresh, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.events != nil {
		s.events.ListingArchived(fresh)
	}
	return fresh, nil
}

// Approve transitions a listing awaiting review to active. Admin only.
func (s *Service) Approve(ctx context.Context, id string, caller principal.Principal) (*Listing, error) {
	if !caller.CanModerate() {
		return nil, ErrNotAdmin
	}
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}

	if err := s.transition(ctx, id, "approve", StatusPendingReview, StatusActive); err != nil {
		return nil, err
	}

	fresh, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.events != nil {
		s.events.ListingApproved(fresh)
	}
	return fresh, nil
}

// Reject transitions a listing awaiting review to rejected. Admin only.
// The reason rides along for notification; it does not gate the machine.
func (s *Service) Reject(ctx context.Context, id string, caller principal.Principal, reason string) (*Listing, error) {
	if !caller.CanModerate() {
		return nil, ErrNotAdmin
	}
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}

	var ok bool
	err := retry.Do(ctx, 2, 50*time.Millisecond, func() error {
		var err error
		ok, err = s.store.Reject(ctx, id, reason)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	if !ok {
		return nil, s.statusConflict(ctx, id, "reject")
	}

	metrics.ListingTransitionsTotal.WithLabelValues(string(StatusRejected)).Inc()
	fresh, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.events != nil {
		s.events.ListingRejected(fresh, reason)
	}
	return fresh, nil
}

// Delete removes a listing. Seller only, and only while the listing is
// in pending_commission, rejected, or archived. A listing with funds
// held in escrow cannot be deleted.
func (s *Service) Delete(ctx context.Context, id string, caller principal.Principal) error {
	l, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !caller.Owns(l.SellerID) {
		return ErrNotOwner
	}

	if s.escrows != nil {
		held, err := s.escrows.HasOpen(ctx, id)
		if err != nil {
			return fmt.Errorf("check escrow: %w", err)
		}
		if held {
			return ErrEscrowHeld
		}
	}

	var ok bool
	err = retry.Do(ctx, 2, 50*time.Millisecond, func() error {
		var err error
		ok, err = s.store.Delete(ctx, id, deletableStatuses)
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if !ok {
		return s.statusConflict(ctx, id, "delete")
	}

	if s.events != nil {
		s.events.ListingDeleted(id, l.SellerID)
	}
	return nil
}

// MarkSold flips an active listing to sold. Called by the escrow
// custodian when a sale is recorded; the conditional update makes the
// first concurrent sale the only winner.
func (s *Service) MarkSold(ctx context.Context, id string) (bool, error) {
	ok, err := s.store.Transition(ctx, id, StatusActive, StatusSold)
	if err != nil {
		return false, err
	}
	if ok {
		metrics.ListingTransitionsTotal.WithLabelValues(string(StatusSold)).Inc()
	}
	return ok, nil
}

// RevertSold undoes MarkSold when recording the sale failed afterwards.
// Best-effort compensation; the caller logs failures.
func (s *Service) RevertSold(ctx context.Context, id string) error {
	_, err := s.store.Transition(ctx, id, StatusSold, StatusActive)
	return err
}

// BrowseActive returns buyer-visible listings, newest first.
func (s *Service) BrowseActive(ctx context.Context, categoryID, cursorStr string, limit int) ([]*Listing, string, bool, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	cursor, err := pagination.Decode(cursorStr)
	if err != nil {
		return nil, "", false, err
	}

	items, err := s.store.ListActive(ctx, categoryID, cursor, limit+1)
	if err != nil {
		return nil, "", false, err
	}
	page, next, more := pagination.ComputePage(items, limit, func(l *Listing) (time.Time, string) {
		return l.CreatedAt, l.ID
	})
	return page, next, more, nil
}

// ListBySeller returns a seller's listings in every status. Owner or
// admin only.
func (s *Service) ListBySeller(ctx context.Context, sellerID string, caller principal.Principal, limit int) ([]*Listing, error) {
	if !caller.Owns(sellerID) && !caller.CanModerate() {
		return nil, ErrNotOwner
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListBySeller(ctx, sellerID, limit)
}

// ReviewQueue returns listings awaiting moderation. Admin only.
func (s *Service) ReviewQueue(ctx context.Context, caller principal.Principal, limit int) ([]*Listing, error) {
	if !caller.CanModerate() {
		return nil, ErrNotAdmin
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListByStatus(ctx, StatusPendingReview, limit)
}

// Categories lists the known listing categories.
func (s *Service) Categories(ctx context.Context) ([]*Category, error) {
	return s.categories.List(ctx)
}

// transition runs the conditional update with one storage retry and
// converts a lost race into a StatusError carrying the live status.
func (s *Service) transition(ctx context.Context, id, op string, from, to Status) error {
	var ok bool
	err := retry.Do(ctx, 2, 50*time.Millisecond, func() error {
		var err error
		ok, err = s.store.Transition(ctx, id, from, to)
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if !ok {
		return s.statusConflict(ctx, id, op)
	}
	metrics.ListingTransitionsTotal.WithLabelValues(string(to)).Inc()
	return nil
}

// statusConflict re-reads the listing to report what state actually won.
func (s *Service) statusConflict(ctx context.Context, id, op string) error {
	cur, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("storage: %w", err)
	}
	return &StatusError{Op: op, Current: cur.Status}
}
