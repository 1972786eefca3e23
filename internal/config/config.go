package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Port       string
	DBURL      string
	LogLevel   string
	DBMaxConns int

	LockTTL        time.Duration
	PaymentTTL     time.Duration
	SweepInterval  time.Duration
	CommissionRate decimal.Decimal

	ProviderBaseURL string
	ProviderAPIKey  string
	ProviderTimeout time.Duration

	WebhookSecret string
}

func LoadConfig() (*Config, error) {
	_ = godotenv.Load("config.env")
	return &Config{
		Port:       envOr("APP_PORT", "8080"),
		LogLevel:   os.Getenv("LOG_LEVEL"),
		DBMaxConns: envInt("DB_MAX_CONNS", 8),
		DBURL: fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s",
			os.Getenv("DB_USER"),
			os.Getenv("DB_PASSWORD"),
			os.Getenv("DB_HOST"),
			os.Getenv("DB_PORT"),
			os.Getenv("DB_NAME"),
		),
		LockTTL:         envDuration("LOCK_TTL", 30*time.Minute),
		PaymentTTL:      envDuration("PAYMENT_TTL", 30*time.Minute),
		SweepInterval:   envDuration("SWEEP_INTERVAL", time.Minute),
		CommissionRate:  envDecimal("COMMISSION_RATE", "0.015"),
		ProviderBaseURL: os.Getenv("PROVIDER_BASE_URL"),
		ProviderAPIKey:  os.Getenv("PROVIDER_API_KEY"),
		ProviderTimeout: envDuration("PROVIDER_TIMEOUT", 15*time.Second),
		WebhookSecret:   os.Getenv("WEBHOOK_SECRET"),
	}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envDecimal(key, fallback string) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	d, _ := decimal.NewFromString(fallback)
	return d
}
