package payment

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSimulated_Approves(t *testing.T) {
	p := NewSimulated()
	ch, err := p.Charge(context.Background(), Request{Amount: "20.00", Reference: "pay_1"})
	if err != nil {
		t.Fatalf("charge failed: %v", err)
	}
	if ch.Amount != "20.00" {
		t.Errorf("amount = %q, want 20.00", ch.Amount)
	}
	if !strings.HasPrefix(ch.ProviderRef, "sim_") {
		t.Errorf("provider ref %q missing sim_ prefix", ch.ProviderRef)
	}
}

func TestSimulated_DeclinesNonPositive(t *testing.T) {
	p := NewSimulated()
	for _, amount := range []string{"0", "-5", "banana"} {
		if _, err := p.Charge(context.Background(), Request{Amount: amount}); !errors.Is(err, ErrDeclined) {
			t.Errorf("amount %q: expected ErrDeclined, got %v", amount, err)
		}
	}
}

func TestSimulated_DeclineOver(t *testing.T) {
	p := &Simulated{DeclineOver: "100"}
	if _, err := p.Charge(context.Background(), Request{Amount: "150"}); !errors.Is(err, ErrDeclined) {
		t.Errorf("expected decline over ceiling, got %v", err)
	}
	if _, err := p.Charge(context.Background(), Request{Amount: "99"}); err != nil {
		t.Errorf("charge under ceiling failed: %v", err)
	}
}

func TestSimulated_HonorsContext(t *testing.T) {
	p := &Simulated{Delay: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.Charge(ctx, Request{Amount: "20.00"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable on deadline, got %v", err)
	}
}

func TestToSmallestUnit(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"20.00", 2000, true},
		{"0.01", 1, true},
		{"199.99", 19999, true},
		{"10.005", 0, false}, // sub-cent precision
		{"0", 0, false},
		{"-1", 0, false},
	}
	for _, tt := range tests {
		got, err := toSmallestUnit(tt.in)
		if tt.ok && (err != nil || got != tt.want) {
			t.Errorf("toSmallestUnit(%q) = %d, %v; want %d", tt.in, got, err, tt.want)
		}
		if !tt.ok && err == nil {
			t.Errorf("toSmallestUnit(%q) accepted", tt.in)
		}
	}
}
