package notify

import (
	"github.com/quadmarket/quadmarket/internal/commission"
	"github.com/quadmarket/quadmarket/internal/escrow"
	"github.com/quadmarket/quadmarket/internal/listing"
)

// Sink receives published events. Implemented by the webhook dispatcher
// and the realtime hub.
type Sink interface {
	Publish(event Event)
}

// Emitter adapts domain lifecycle callbacks into events and fans them
// out to every sink. It satisfies the Events interfaces of the listing,
// commission and escrow packages.
type Emitter struct {
	sinks []Sink
}

func NewEmitter(sinks ...Sink) *Emitter {
	return &Emitter{sinks: sinks}
}

func (e *Emitter) publish(eventType string, data map[string]any) {
	event := NewEvent(eventType, data)
	for _, s := range e.sinks {
		s.Publish(event)
	}
}

func (e *Emitter) ListingCreated(l *listing.Listing) {
	e.publish(EventListingCreated, listingData(l))
}

func (e *Emitter) ListingApproved(l *listing.Listing) {
	e.publish(EventListingApproved, listingData(l))
}

func (e *Emitter) ListingRejected(l *listing.Listing, reason string) {
	data := listingData(l)
	data["reason"] = reason
	e.publish(EventListingRejected, data)
}

func (e *Emitter) ListingArchived(l *listing.Listing) {
	e.publish(EventListingArchived, listingData(l))
}

func (e *Emitter) ListingDeleted(id, sellerID string) {
	e.publish(EventListingDeleted, map[string]any{
		"listingId": id,
		"sellerId":  sellerID,
	})
}

func (e *Emitter) CommissionPaid(l *listing.Listing, p *commission.Payment) {
	e.publish(EventCommissionPaid, map[string]any{
		"listingId": l.ID,
		"sellerId":  l.SellerID,
		"paymentId": p.ID,
		"amount":    p.Amount,
		"rate":      p.Rate,
		"status":    l.Status,
	})
}

func (e *Emitter) EscrowOpened(tx *escrow.Transaction) {
	e.publish(EventEscrowOpened, escrowData(tx))
}

func (e *Emitter) EscrowReleased(tx *escrow.Transaction) {
	e.publish(EventEscrowReleased, escrowData(tx))
}

func (e *Emitter) EscrowRefunded(tx *escrow.Transaction, reason string) {
	data := escrowData(tx)
	data["reason"] = reason
	e.publish(EventEscrowRefunded, data)
}

func (e *Emitter) EscrowDisputed(tx *escrow.Transaction, reason string) {
	data := escrowData(tx)
	data["reason"] = reason
	e.publish(EventEscrowDisputed, data)
}

func listingData(l *listing.Listing) map[string]any {
	return map[string]any{
		"listingId": l.ID,
		"sellerId":  l.SellerID,
		"title":     l.Title,
		"price":     l.Price,
		"status":    l.Status,
	}
}

func escrowData(tx *escrow.Transaction) map[string]any {
	return map[string]any{
		"escrowId":  tx.ID,
		"listingId": tx.ListingID,
		"sellerId":  tx.SellerID,
		"amount":    tx.Amount,
		"status":    tx.Status,
	}
}

var (
	_ listing.Events    = (*Emitter)(nil)
	_ commission.Events = (*Emitter)(nil)
	_ escrow.Events     = (*Emitter)(nil)
)
