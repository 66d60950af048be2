// Package notify turns committed state changes into events and delivers
// them to webhook subscribers.
//
// Emission is strictly fire-and-forget: a transition that committed has
// happened whether or not anyone hears about it, so delivery failures
// are logged and counted, never propagated to the caller.
package notify

import (
	"context"
	"time"

	"github.com/quadmarket/quadmarket/internal/idgen"
)

// Event types published by the marketplace.
const (
	EventListingCreated  = "listing.created"
	EventListingApproved = "listing.approved"
	EventListingRejected = "listing.rejected"
	EventListingArchived = "listing.archived"
	EventListingDeleted  = "listing.deleted"
	EventCommissionPaid  = "commission.paid"
	EventEscrowOpened    = "escrow.opened"
	EventEscrowReleased  = "escrow.released"
	EventEscrowRefunded  = "escrow.refunded"
	EventEscrowDisputed  = "escrow.disputed"
)

// Event is one committed state change.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	CreatedAt time.Time      `json:"createdAt"`
	Data      map[string]any `json:"data"`
}

// NewEvent builds an event with a fresh ID and timestamp.
func NewEvent(eventType string, data map[string]any) Event {
	return Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		CreatedAt: time.Now().UTC(),
		Data:      data,
	}
}

// Subscription is a registered webhook endpoint. Secret signs each
// delivery; Events filters which event types are delivered, empty means
// all.
type Subscription struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	URL       string    `json:"url"`
	Secret    string    `json:"-"`
	Events    []string  `json:"events,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

// Wants reports whether the subscription should receive the event type.
func (s *Subscription) Wants(eventType string) bool {
	if !s.Active {
		return false
	}
	if len(s.Events) == 0 {
		return true
	}
	for _, e := range s.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// SubscriptionStore persists webhook subscriptions.
type SubscriptionStore interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	Delete(ctx context.Context, id string) error
	ListByUser(ctx context.Context, userID string) ([]*Subscription, error)
	ListActive(ctx context.Context) ([]*Subscription, error)
}
