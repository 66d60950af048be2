// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/quadmarket/quadmarket/internal/money"
)

// Payment provider names accepted in PAYMENT_PROVIDER.
const (
	ProviderSimulated = "simulated"
	ProviderStripe    = "stripe"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database. Empty means in-memory demo mode (data does not persist).
	DatabaseURL string

	// Commission settings
	CommissionRate string // decimal rate applied to listing price, e.g. "0.10"

	// Payment collaborator
	PaymentProvider string // "simulated" or "stripe"
	StripeSecretKey string
	PaymentTimeout  time.Duration // bound on the external charge call

	// Security
	AdminSecret  string // bootstrap secret for issuing admin API keys
	RateLimitRPM int

	// Tracing
	OTLPEndpoint string // empty disables tracing
}

// Defaults.
const (
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultCommissionRate = "0.10"
	DefaultRateLimitRPM   = 120
	DefaultPaymentTimeout = 10 * time.Second
)

// Load reads configuration from environment variables.
// A .env file is loaded first if present (local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", DefaultPort),
		Env:             getEnv("ENV", DefaultEnv),
		LogLevel:        getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		CommissionRate:  getEnv("COMMISSION_RATE", DefaultCommissionRate),
		PaymentProvider: getEnv("PAYMENT_PROVIDER", ProviderSimulated),
		StripeSecretKey: os.Getenv("STRIPE_SECRET_KEY"),
		PaymentTimeout:  time.Duration(getEnvInt64("PAYMENT_TIMEOUT_SECONDS", int64(DefaultPaymentTimeout/time.Second))) * time.Second,
		AdminSecret:     os.Getenv("ADMIN_SECRET"),
		RateLimitRPM:    int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and coherent.
func (c *Config) Validate() error {
	rate, ok := money.Parse(c.CommissionRate)
	if !ok || rate.Sign() <= 0 {
		return fmt.Errorf("COMMISSION_RATE must be a positive decimal, got %q", c.CommissionRate)
	}
	if money.Cmp(c.CommissionRate, "1") > 0 {
		return fmt.Errorf("COMMISSION_RATE must not exceed 1, got %q", c.CommissionRate)
	}

	switch c.PaymentProvider {
	case ProviderSimulated:
	case ProviderStripe:
		if c.StripeSecretKey == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY is required when PAYMENT_PROVIDER=stripe")
		}
	default:
		return fmt.Errorf("PAYMENT_PROVIDER must be %q or %q, got %q", ProviderSimulated, ProviderStripe, c.PaymentProvider)
	}

	if c.PaymentTimeout <= 0 {
		return fmt.Errorf("PAYMENT_TIMEOUT_SECONDS must be positive")
	}

	if c.IsProduction() && c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required in production")
	}

	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}
