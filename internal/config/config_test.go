package config

import (
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Port:            "8080",
		Env:             "development",
		CommissionRate:  "0.10",
		PaymentProvider: ProviderSimulated,
		PaymentTimeout:  10 * time.Second,
		RateLimitRPM:    120,
	}
}

func TestValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidate_CommissionRate(t *testing.T) {
	tests := []struct {
		rate string
		ok   bool
	}{
		{"0.10", true},
		{"0.025", true},
		{"1", true},
		{"0", false},
		{"-0.1", false},
		{"1.5", false},
		{"ten percent", false},
		{"", false},
	}

	for _, tt := range tests {
		cfg := validConfig()
		cfg.CommissionRate = tt.rate
		err := cfg.Validate()
		if tt.ok && err != nil {
			t.Errorf("rate %q rejected: %v", tt.rate, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("rate %q accepted, want error", tt.rate)
		}
	}
}

func TestValidate_StripeRequiresKey(t *testing.T) {
	cfg := validConfig()
	cfg.PaymentProvider = ProviderStripe
	if err := cfg.Validate(); err == nil {
		t.Fatal("stripe provider without key accepted")
	}
	cfg.StripeSecretKey = "sk_test_123"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("stripe provider with key rejected: %v", err)
	}
}

func TestValidate_UnknownProvider(t *testing.T) {
	cfg := validConfig()
	cfg.PaymentProvider = "paypal"
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown provider accepted")
	}
}

func TestValidate_ProductionNeedsAdminSecret(t *testing.T) {
	cfg := validConfig()
	cfg.Env = "production"
	if err := cfg.Validate(); err == nil {
		t.Fatal("production config without ADMIN_SECRET accepted")
	}
	cfg.AdminSecret = "hunter2"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("production config with ADMIN_SECRET rejected: %v", err)
	}
}
