// Package payment abstracts the external payment collaborator used to
// collect seller commissions. The marketplace never talks to a gateway
// inline in business logic; it calls a Processor with a bounded context
// and treats any failure as a payment error with no state change.
package payment

import (
	"context"
	"errors"
)

var (
	// ErrDeclined means the provider rejected the charge.
	ErrDeclined = errors.New("payment declined")
	// ErrUnavailable means the provider could not be reached in time.
	ErrUnavailable = errors.New("payment provider unavailable")
)

// Request describes a charge to collect.
type Request struct {
	// Amount is the decimal amount to charge.
	Amount string
	// Reference is the caller's idempotency reference (the payment ID).
	Reference string
	// Description appears on the provider's dashboard/statement.
	Description string
	// Method is an optional provider payment-method token.
	Method string
}

// Charge is a successful charge result.
type Charge struct {
	// ProviderRef is the provider-side identifier for the charge.
	ProviderRef string
	// Amount echoes the charged amount.
	Amount string
}

// Processor executes charges against an external payment provider.
// Implementations must honor ctx cancellation and deadlines.
type Processor interface {
	Charge(ctx context.Context, req Request) (*Charge, error)
}
