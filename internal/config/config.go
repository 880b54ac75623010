// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Payment settings
	PaymentProvider  string // "paystack" or "stripe"; empty disables payments
	PaystackSecret   string
	StripeSecret     string
	PaymentReturnURL string // where the checkout redirects after payment

	// Trials
	TrialDays int

	// Security
	WebhookSecret string // verifies inbound payment provider webhooks
	AdminSecret   string // Admin API secret
	RateLimitRPS  int

	// Tracing
	OTLPEndpoint string // OTLP gRPC collector address (optional)

	// Frontend
	FrontendURL string
}

// Supported payment providers.
const (
	ProviderPaystack = "paystack"
	ProviderStripe   = "stripe"
)

const (
	DefaultPort      = "8080"
	DefaultEnv       = "development"
	DefaultLogLevel  = "info"
	DefaultTrialDays = 30
	DefaultRateLimit = 100
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:      os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		PaymentProvider:  os.Getenv("PAYMENT_PROVIDER"),
		PaystackSecret:   os.Getenv("PAYSTACK_SECRET_KEY"),
		StripeSecret:     os.Getenv("STRIPE_SECRET_KEY"),
		PaymentReturnURL: os.Getenv("PAYMENT_RETURN_URL"),
		TrialDays:        int(getEnvInt64("TRIAL_DAYS", DefaultTrialDays)),
		WebhookSecret:    os.Getenv("WEBHOOK_SECRET"),
		AdminSecret:      os.Getenv("ADMIN_SECRET"),
		RateLimitRPS:     int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		FrontendURL:      getEnv("FRONTEND_URL", "http://localhost:3000"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	switch c.PaymentProvider {
	case "":
		// Payments disabled; trial and manual upgrades still work.
	case ProviderPaystack:
		if c.PaystackSecret == "" {
			return fmt.Errorf("PAYSTACK_SECRET_KEY is required when PAYMENT_PROVIDER=paystack")
		}
	case ProviderStripe:
		if c.StripeSecret == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY is required when PAYMENT_PROVIDER=stripe")
		}
	default:
		return fmt.Errorf("unknown PAYMENT_PROVIDER %q", c.PaymentProvider)
	}

	if c.PaymentProvider != "" && c.WebhookSecret == "" {
		return fmt.Errorf("WEBHOOK_SECRET is required when payments are enabled")
	}

	if c.TrialDays <= 0 {
		return fmt.Errorf("TRIAL_DAYS must be positive")
	}

	if c.IsProduction() && c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required in production")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

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
