package payment

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/quadmarket/quadmarket/internal/money"
)

// StripeProcessor charges commissions through Stripe PaymentIntents.
type StripeProcessor struct {
	api      *client.API
	currency string
}

// NewStripe creates a Stripe-backed processor.
func NewStripe(secretKey, currency string) *StripeProcessor {
	api := &client.API{}
	api.Init(secretKey, nil)
	if currency == "" {
		currency = "usd"
	}
	return &StripeProcessor{api: api, currency: currency}
}

// Charge implements Processor. The caller's reference doubles as the
// Stripe idempotency key, so a retried charge after a timeout cannot
// double-bill.
func (p *StripeProcessor) Charge(ctx context.Context, req Request) (*Charge, error) {
	cents, err := toSmallestUnit(req.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeclined, err)
	}

	params := &stripe.PaymentIntentParams{
		Params: stripe.Params{
			Context: ctx,
		},
		Amount:      stripe.Int64(cents),
		Currency:    stripe.String(p.currency),
		Description: stripe.String(req.Description),
		Confirm:     stripe.Bool(true),
	}
	if req.Method != "" {
		params.PaymentMethod = stripe.String(req.Method)
	}
	params.SetIdempotencyKey(req.Reference)

	intent, err := p.api.PaymentIntents.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			return nil, fmt.Errorf("%w: %s", ErrDeclined, stripeErr.Msg)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if intent.Status != stripe.PaymentIntentStatusSucceeded {
		return nil, fmt.Errorf("%w: intent status %s", ErrDeclined, intent.Status)
	}

	return &Charge{
		ProviderRef: intent.ID,
		Amount:      req.Amount,
	}, nil
}

// toSmallestUnit converts a decimal amount to provider smallest units
// (cents). Sub-cent precision is rejected rather than silently rounded;
// commission amounts are already cent-aligned by the calculator.
func toSmallestUnit(amount string) (int64, error) {
	v, ok := money.Parse(amount)
	if !ok || v.Sign() <= 0 {
		return 0, fmt.Errorf("invalid amount %q", amount)
	}
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(money.Precision-money.CurrencyDecimals), nil)
	cents, rem := new(big.Int).QuoRem(v, unit, new(big.Int))
	if rem.Sign() != 0 {
		return 0, fmt.Errorf("amount %q has sub-cent precision", amount)
	}
	if !cents.IsInt64() {
		return 0, fmt.Errorf("amount %q out of range", amount)
	}
	return cents.Int64(), nil
}

var _ Processor = (*StripeProcessor)(nil)
