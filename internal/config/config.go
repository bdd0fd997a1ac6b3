// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database (optional; in-memory stores are used when unset)
	DatabaseURL string

	// Settlement
	CommissionRate decimal.Decimal // fraction of order amount retained on completion

	// Deposits via the mobile-money gateway
	DepositFXRate   decimal.Decimal // external currency units per ledger unit
	DepositCurrency string          // ISO code the gateway bills in
	GatewayURL      string          // push-payment API base URL (optional)
	GatewayAPIKey   string
	GatewaySecret   string // shared secret the gateway signs callbacks with

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint; tracing disabled when empty
}

// Defaults.
const (
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
	DefaultCommissionRate = "0.05"
	DefaultFXRate         = "1"
	DefaultCurrency       = "KES"
)

// Load reads configuration from environment variables.
// It loads a .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	commission, err := decimal.NewFromString(getEnv("COMMISSION_RATE", DefaultCommissionRate))
	if err != nil {
		return nil, fmt.Errorf("COMMISSION_RATE is not a decimal: %w", err)
	}
	fxRate, err := decimal.NewFromString(getEnv("DEPOSIT_FX_RATE", DefaultFXRate))
	if err != nil {
		return nil, fmt.Errorf("DEPOSIT_FX_RATE is not a decimal: %w", err)
	}

	cfg := &Config{
		Port:            getEnv("PORT", DefaultPort),
		Env:             getEnv("ENV", DefaultEnv),
		LogLevel:        getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:       getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		CommissionRate:  commission,
		DepositFXRate:   fxRate,
		DepositCurrency: getEnv("DEPOSIT_CURRENCY", DefaultCurrency),
		GatewayURL:      os.Getenv("GATEWAY_URL"),
		GatewayAPIKey:   os.Getenv("GATEWAY_API_KEY"),
		GatewaySecret:   os.Getenv("GATEWAY_SECRET"),
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the loaded configuration is coherent.
func (c *Config) Validate() error {
	if c.CommissionRate.IsNegative() || c.CommissionRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("COMMISSION_RATE must be in [0, 1), got %s", c.CommissionRate)
	}
	if !c.DepositFXRate.IsPositive() {
		return fmt.Errorf("DEPOSIT_FX_RATE must be positive, got %s", c.DepositFXRate)
	}
	if c.GatewayURL != "" && c.GatewayAPIKey == "" {
		return fmt.Errorf("GATEWAY_API_KEY is required when GATEWAY_URL is set")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("PORT must be numeric, got %q", c.Port)
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
