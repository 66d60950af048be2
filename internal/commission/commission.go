// Package commission collects the listing fee that gates moderation.
//
// A seller pays price times the configured rate, rounded half-up to the
// cent, exactly once per listing. Recording the payment and advancing
// the listing from pending_commission to pending_review happen in a
// single storage transaction, so a listing can never be paid-but-stuck
// or advanced-but-unpaid.
package commission

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/quadmarket/quadmarket/internal/idgen"
	"github.com/quadmarket/quadmarket/internal/listing"
	"github.com/quadmarket/quadmarket/internal/logging"
	"github.com/quadmarket/quadmarket/internal/metrics"
	"github.com/quadmarket/quadmarket/internal/money"
	"github.com/quadmarket/quadmarket/internal/payment"
	"github.com/quadmarket/quadmarket/internal/principal"
	"github.com/quadmarket/quadmarket/internal/retry"
	"github.com/quadmarket/quadmarket/internal/traces"
)

var (
	// ErrAlreadyPaid means a commission payment already exists for the
	// listing. The payment ledger's uniqueness guarantee, surfaced.
	ErrAlreadyPaid = errors.New("commission already paid for this listing")
	// ErrStateChanged means the listing left pending_commission between
	// the charge and the record. Returned by stores, never by Pay.
	ErrStateChanged = errors.New("listing state changed during payment")
	// ErrPaymentNotFound means no commission payment exists for the
	// listing.
	ErrPaymentNotFound = errors.New("commission payment not found")
)

// Payment is one recorded commission payment. At most one exists per
// listing, enforced by the store.
type Payment struct {
	ID          string    `json:"id"`
	ListingID   string    `json:"listingId"`
	PayerID     string    `json:"payerId"`
	Amount      string    `json:"amount"`
	Rate        string    `json:"rate"`
	ProviderRef string    `json:"providerRef,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store persists commission payments. Record must atomically insert the
// payment and advance the listing out of pending_commission; it returns
// ErrAlreadyPaid when a payment for the listing already exists and
// ErrStateChanged when the listing was not in pending_commission.
type Store interface {
	Record(ctx context.Context, p *Payment) error
	GetByListing(ctx context.Context, listingID string) (*Payment, error)
}

// Calculator computes commission amounts from a fixed rate. The rate is
// parsed once at construction so every computation uses identical
// arithmetic.
type Calculator struct {
	rate    *big.Int
	rateStr string
}

// NewCalculator parses and validates the commission rate.
func NewCalculator(rate string) (*Calculator, error) {
	v, ok := money.Parse(rate)
	if !ok || v.Sign() <= 0 {
		return nil, fmt.Errorf("invalid commission rate %q", rate)
	}
	return &Calculator{rate: v, rateStr: rate}, nil
}

// Rate returns the configured rate string.
func (c *Calculator) Rate() string { return c.rateStr }

// Amount returns the commission for a price: price times rate, rounded
// half-up to the nearest cent.
func (c *Calculator) Amount(price string) (string, error) {
	v, ok := money.Parse(price)
	if !ok {
		return "", fmt.Errorf("invalid price %q", price)
	}
	return money.Format(money.MulRateToCent(v, c.rate)), nil
}

// Events receives commission notifications.
type Events interface {
	CommissionPaid(l *listing.Listing, p *Payment)
}

// Service drives the pay-commission workflow.
type Service struct {
	store     Store
	listings  *listing.Service
	calc      *Calculator
	processor payment.Processor
	timeout   time.Duration
	events    Events
}

// NewService creates a commission service. timeout bounds each call to
// the payment provider.
func NewService(store Store, listings *listing.Service, calc *Calculator, processor payment.Processor, timeout time.Duration) *Service {
	return &Service{
		store:     store,
		listings:  listings,
		calc:      calc,
		processor: processor,
		timeout:   timeout,
	}
}

// WithEvents wires notification emission.
func (s *Service) WithEvents(e Events) *Service {
	s.events = e
	return s
}

// Quote returns the commission a seller would owe for a listing without
// charging anything.
func (s *Service) Quote(ctx context.Context, listingID string, caller principal.Principal) (string, error) {
	l, err := s.listings.Get(ctx, listingID)
	if err != nil {
		return "", err
	}
	if !caller.Owns(l.SellerID) && !caller.CanModerate() {
		return "", listing.ErrNotOwner
	}
	return s.calc.Amount(l.Price)
}

// Pay charges the seller's commission and advances the listing to
// pending_review. The charge happens before the record; if recording
// then loses a race, the provider call was made idempotent with a
// per-listing reference so a retried or concurrent charge does not
// double-bill.
func (s *Service) Pay(ctx context.Context, listingID string, caller principal.Principal, method string) (*Payment, error) {
	ctx, span := traces.StartSpan(ctx, "commission.Pay",
		traces.ListingID(listingID), traces.UserID(caller.UserID))
	defer span.End()

	l, err := s.listings.Get(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if !caller.Owns(l.SellerID) {
		return nil, listing.ErrNotOwner
	}
	if l.Status != listing.StatusPendingCommission {
		if _, perr := s.store.GetByListing(ctx, listingID); perr == nil {
			s.observe("already_paid")
			return nil, ErrAlreadyPaid
		}
		s.observe("invalid_state")
		return nil, &listing.StatusError{Op: "pay commission for", Current: l.Status}
	}

	amount, err := s.calc.Amount(l.Price)
	if err != nil {
		return nil, fmt.Errorf("compute commission: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	charge, err := s.processor.Charge(cctx, payment.Request{
		Amount: amount,
		// One reference per listing: a concurrent or retried charge for
		// the same listing collapses at the provider.
		Reference:   "commission_" + listingID,
		Description: "Listing commission for " + listingID,
		Method:      method,
	})
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrDeclined):
			s.observe("declined")
		default:
			s.observe("unavailable")
		}
		return nil, err
	}

	p := &Payment{
		ID:          idgen.WithPrefix("pay_"),
		ListingID:   listingID,
		PayerID:     caller.UserID,
		Amount:      amount,
		Rate:        s.calc.Rate(),
		ProviderRef: charge.ProviderRef,
		CreatedAt:   time.Now().UTC(),
	}
	span.SetAttributes(traces.PaymentID(p.ID), traces.Amount(amount))

	err = retry.Do(ctx, 2, 50*time.Millisecond, func() error {
		err := s.store.Record(ctx, p)
		if errors.Is(err, ErrAlreadyPaid) || errors.Is(err, ErrStateChanged) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyPaid) {
			s.observe("already_paid")
			return nil, ErrAlreadyPaid
		}
		if errors.Is(err, ErrStateChanged) {
			s.observe("invalid_state")
			fresh, gerr := s.listings.Get(ctx, listingID)
			if gerr != nil {
				return nil, gerr
			}
			return nil, &listing.StatusError{Op: "pay commission for", Current: fresh.Status}
		}
		logging.L(ctx).Error("record commission payment",
			"listingId", listingID, "paymentId", p.ID, "providerRef", p.ProviderRef, "error", err)
		s.observe("error")
		return nil, fmt.Errorf("record payment: %w", err)
	}

	s.observe("paid")
	metrics.ListingTransitionsTotal.WithLabelValues(string(listing.StatusPendingReview)).Inc()
	if s.events != nil {
		fresh, gerr := s.listings.Get(ctx, listingID)
		if gerr == nil {
			s.events.CommissionPaid(fresh, p)
		}
	}
	return p, nil
}

// PaymentFor returns the recorded payment for a listing. Owner or admin.
func (s *Service) PaymentFor(ctx context.Context, listingID string, caller principal.Principal) (*Payment, error) {
	l, err := s.listings.Get(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if !caller.Owns(l.SellerID) && !caller.CanModerate() {
		return nil, listing.ErrNotOwner
	}
	return s.store.GetByListing(ctx, listingID)
}

func (s *Service) observe(result string) {
	metrics.CommissionPaymentsTotal.WithLabelValues(result).Inc()
}
