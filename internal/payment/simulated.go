package payment

import (
	"context"
	"time"

	"github.com/quadmarket/quadmarket/internal/idgen"
	"github.com/quadmarket/quadmarket/internal/money"
)

// Simulated approves charges without contacting any provider. It is the
// default in development and demo mode.
type Simulated struct {
	// Delay adds artificial latency before approving.
	Delay time.Duration
	// DeclineOver, when set, declines charges above the given amount.
	// Useful for exercising the decline path in development.
	DeclineOver string
}

// NewSimulated creates a simulated processor that approves everything.
func NewSimulated() *Simulated {
	return &Simulated{}
}

// Charge implements Processor.
func (s *Simulated) Charge(ctx context.Context, req Request) (*Charge, error) {
	if s.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ErrUnavailable
		case <-time.After(s.Delay):
		}
	}

	if !money.IsPositive(req.Amount) {
		return nil, ErrDeclined
	}
	if s.DeclineOver != "" && money.Cmp(req.Amount, s.DeclineOver) > 0 {
		return nil, ErrDeclined
	}

	return &Charge{
		ProviderRef: idgen.WithPrefix("sim_"),
		Amount:      req.Amount,
	}, nil
}

var _ Processor = (*Simulated)(nil)
