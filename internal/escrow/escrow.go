// Package escrow holds sale proceeds between buyer handoff and
// settlement.
//
// When a seller records a sale the listing flips to sold and an escrow
// transaction opens in holding, freezing the sale amount. An admin
// settles it by releasing funds to the seller or refunding the buyer;
// either party can raise a dispute first. Terminal states are released
// and refunded; disputed is a parked state an admin resolves.
//
// Settlement races are decided by the store's conditional transition:
// whichever update matches the expected status first wins, the loser
// sees the final state and changes nothing.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quadmarket/quadmarket/internal/idgen"
	"github.com/quadmarket/quadmarket/internal/listing"
	"github.com/quadmarket/quadmarket/internal/logging"
	"github.com/quadmarket/quadmarket/internal/metrics"
	"github.com/quadmarket/quadmarket/internal/principal"
	"github.com/quadmarket/quadmarket/internal/retry"
	"github.com/quadmarket/quadmarket/internal/traces"
)

var (
	ErrNotFound      = errors.New("escrow transaction not found")
	ErrNotAuthorized = errors.New("not authorized for this escrow transaction")
	ErrInvalidStatus = errors.New("escrow status does not allow this operation")
	ErrAlreadyOpen   = errors.New("an escrow transaction is already open for this listing")
)

// Status is the settlement state of held funds.
type Status string

const (
	StatusHolding  Status = "holding"
	StatusReleased Status = "released"
	StatusRefunded Status = "refunded"
	StatusDisputed Status = "disputed"
)

// Transaction is one escrow hold. Amount is the listing price frozen at
// open time; a later price change can never alter settled funds.
type Transaction struct {
	ID               string     `json:"id"`
	ListingID        string     `json:"listingId"`
	SellerID         string     `json:"sellerId"`
	Amount           string     `json:"amount"`
	BuyerUserID      string     `json:"buyerUserId,omitempty"`
	BuyerName        string     `json:"buyerName"`
	BuyerPhone       string     `json:"buyerPhone,omitempty"`
	BuyerEmail       string     `json:"buyerEmail,omitempty"`
	Status           Status     `json:"status"`
	ResolutionReason string     `json:"resolutionReason,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	ReleasedAt       *time.Time `json:"releasedAt,omitempty"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// StatusError reports a settlement refused because the transaction was
// not in an expected state.
type StatusError struct {
	Op      string
	Current Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("cannot %s escrow in status %s", e.Op, e.Current)
}

func (e *StatusError) Unwrap() error { return ErrInvalidStatus }

// Store persists escrow transactions. Create enforces at most one open
// hold per listing and returns ErrAlreadyOpen otherwise. Transition is
// the conditional settlement write; it records released_at when the
// target state is released.
type Store interface {
	Create(ctx context.Context, tx *Transaction) error
	Get(ctx context.Context, id string) (*Transaction, error)
	Transition(ctx context.Context, id string, from []Status, to Status, reason string) (bool, error)
	// HasOpen reports whether a holding or disputed transaction exists
	// for the listing.
	HasOpen(ctx context.Context, listingID string) (bool, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Transaction, error)
	ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Transaction, error)
}

// Events receives escrow lifecycle notifications.
type Events interface {
	EscrowOpened(tx *Transaction)
	EscrowReleased(tx *Transaction)
	EscrowRefunded(tx *Transaction, reason string)
	EscrowDisputed(tx *Transaction, reason string)
}

// OpenRequest records a sale and the buyer's contact details.
type OpenRequest struct {
	ListingID   string `json:"listingId" binding:"required"`
	BuyerUserID string `json:"buyerUserId"`
	BuyerName   string `json:"buyerName" binding:"required"`
	BuyerPhone  string `json:"buyerPhone"`
	BuyerEmail  string `json:"buyerEmail"`
}

// Service implements escrow business logic.
type Service struct {
	store    Store
	listings *listing.Service
	events   Events
}

// NewService creates an escrow service.
func NewService(store Store, listings *listing.Service) *Service {
	return &Service{store: store, listings: listings}
}

// WithEvents wires notification emission.
func (s *Service) WithEvents(e Events) *Service {
	s.events = e
	return s
}

// Open records a sale: it flips the active listing to sold and creates
// the escrow hold with the price frozen. If creating the hold fails the
// listing flip is compensated best-effort.
func (s *Service) Open(ctx context.Context, caller principal.Principal, req OpenRequest) (*Transaction, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Open",
		traces.ListingID(req.ListingID), traces.UserID(caller.UserID))
	defer span.End()

	l, err := s.listings.Get(ctx, req.ListingID)
	if err != nil {
		return nil, err
	}
	if !caller.Owns(l.SellerID) {
		return nil, ErrNotAuthorized
	}

	// Marking the listing sold first makes the listing the lock: only
	// one concurrent sale can pass this gate.
	sold, err := s.listings.MarkSold(ctx, req.ListingID)
	if err != nil {
		return nil, fmt.Errorf("mark sold: %w", err)
	}
	if !sold {
		fresh, gerr := s.listings.Get(ctx, req.ListingID)
		if gerr != nil {
			return nil, gerr
		}
		if fresh.Status != listing.StatusSold {
			return nil, &listing.StatusError{Op: "record sale for", Current: fresh.Status}
		}
		// The listing stayed sold after an earlier hold fell through.
		// A new hold may be opened; the one-open-hold-per-listing
		// constraint in the store still decides any race here.
		open, herr := s.store.HasOpen(ctx, req.ListingID)
		if herr != nil {
			return nil, fmt.Errorf("check open escrow: %w", herr)
		}
		if open {
			return nil, ErrAlreadyOpen
		}
	}

	now := time.Now().UTC()
	tx := &Transaction{
		ID:          idgen.WithPrefix("esc_"),
		ListingID:   req.ListingID,
		SellerID:    l.SellerID,
		Amount:      l.Price,
		BuyerUserID: req.BuyerUserID,
		BuyerName:   req.BuyerName,
		BuyerPhone:  req.BuyerPhone,
		BuyerEmail:  req.BuyerEmail,
		Status:      StatusHolding,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.Create(ctx, tx); err != nil {
		if errors.Is(err, ErrAlreadyOpen) {
			// Another hold won the race; the listing really is sold.
			return nil, err
		}
		if sold {
			if rerr := s.listings.RevertSold(ctx, req.ListingID); rerr != nil {
				logging.L(ctx).Error("revert sold after escrow create failure",
					"listingId", req.ListingID, "error", rerr)
			}
		}
		return nil, fmt.Errorf("create escrow: %w", err)
	}

	span.SetAttributes(traces.EscrowID(tx.ID), traces.Amount(tx.Amount))
	metrics.EscrowsTotal.WithLabelValues(string(StatusHolding)).Inc()
	if s.events != nil {
		s.events.EscrowOpened(tx)
	}
	return tx, nil
}

// Get returns a transaction. Seller, matching buyer, or admin only.
func (s *Service) Get(ctx context.Context, id string, caller principal.Principal) (*Transaction, error) {
	tx, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.party(tx, caller) && !caller.CanSettleEscrow() {
		return nil, ErrNotAuthorized
	}
	return tx, nil
}

// Release settles held funds to the seller. Admin only; a disputed hold
// can be released as the dispute's resolution.
func (s *Service) Release(ctx context.Context, id string, caller principal.Principal) (*Transaction, error) {
	if !caller.CanSettleEscrow() {
		return nil, ErrNotAuthorized
	}
	return s.settle(ctx, id, "release", StatusReleased, "")
}

// Refund returns held funds to the buyer and puts the listing back on
// the market. Admin only.
func (s *Service) Refund(ctx context.Context, id string, caller principal.Principal, reason string) (*Transaction, error) {
	if !caller.CanSettleEscrow() {
		return nil, ErrNotAuthorized
	}
	tx, err := s.settle(ctx, id, "refund", StatusRefunded, reason)
	if err != nil {
		return nil, err
	}

	// The sale fell through; relist best-effort. A seller who archived
	// meanwhile keeps their state, the conditional update just misses.
	if rerr := s.listings.RevertSold(ctx, tx.ListingID); rerr != nil {
		logging.L(ctx).Error("relist after refund", "listingId", tx.ListingID, "error", rerr)
	}
	return tx, nil
}

// Dispute parks a holding transaction for admin review. Seller, the
// matching buyer, or an admin may raise it.
func (s *Service) Dispute(ctx context.Context, id string, caller principal.Principal, reason string) (*Transaction, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.dispute",
		traces.EscrowID(id), traces.UserID(caller.UserID))
	defer span.End()

	tx, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.party(tx, caller) && !caller.CanSettleEscrow() {
		return nil, ErrNotAuthorized
	}

	if err := s.transition(ctx, id, "dispute", []Status{StatusHolding}, StatusDisputed, reason); err != nil {
		return nil, err
	}

	metrics.EscrowsTotal.WithLabelValues(string(StatusDisputed)).Inc()
	fresh, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.events != nil {
		s.events.EscrowDisputed(fresh, reason)
	}
	return fresh, nil
}

// HasOpen implements the fund-safety check the listing service consults
// before deleting a listing.
func (s *Service) HasOpen(ctx context.Context, listingID string) (bool, error) {
	return s.store.HasOpen(ctx, listingID)
}

// Queue returns transactions in the given status for the admin
// settlement queue. Defaults to disputed.
func (s *Service) Queue(ctx context.Context, caller principal.Principal, status Status, limit int) ([]*Transaction, error) {
	if !caller.CanSettleEscrow() {
		return nil, ErrNotAuthorized
	}
	if status == "" {
		status = StatusDisputed
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListByStatus(ctx, status, limit)
}

// ListBySeller returns a seller's escrow transactions. Owner or admin.
func (s *Service) ListBySeller(ctx context.Context, sellerID string, caller principal.Principal, limit int) ([]*Transaction, error) {
	if !caller.Owns(sellerID) && !caller.CanSettleEscrow() {
		return nil, ErrNotAuthorized
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListBySeller(ctx, sellerID, limit)
}

func (s *Service) settle(ctx context.Context, id, op string, to Status, reason string) (*Transaction, error) {
	ctx, span := traces.StartSpan(ctx, "escrow."+op, traces.EscrowID(id))
	defer span.End()

	tx, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(traces.ListingID(tx.ListingID), traces.Amount(tx.Amount))

	if err := s.transition(ctx, id, op, []Status{StatusHolding, StatusDisputed}, to, reason); err != nil {
		return nil, err
	}

	metrics.EscrowsTotal.WithLabelValues(string(to)).Inc()
	metrics.EscrowHoldDuration.Observe(time.Since(tx.CreatedAt).Seconds())

	fresh, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.events != nil {
		switch to {
		case StatusReleased:
			s.events.EscrowReleased(fresh)
		case StatusRefunded:
			s.events.EscrowRefunded(fresh, reason)
		}
	}
	return fresh, nil
}

func (s *Service) transition(ctx context.Context, id, op string, from []Status, to Status, reason string) error {
	var ok bool
	err := retry.Do(ctx, 2, 50*time.Millisecond, func() error {
		var err error
		ok, err = s.store.Transition(ctx, id, from, to, reason)
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if !ok {
		cur, err := s.store.Get(ctx, id)
		if err != nil {
			return err
		}
		return &StatusError{Op: op, Current: cur.Status}
	}
	return nil
}

// party reports whether the caller is the seller or the recorded buyer.
func (s *Service) party(tx *Transaction, caller principal.Principal) bool {
	if caller.Owns(tx.SellerID) {
		return true
	}
	return tx.BuyerUserID != "" && caller.Owns(tx.BuyerUserID)
}

var _ listing.EscrowChecker = (*Service)(nil)
