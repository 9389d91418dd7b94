package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Database struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	Schema   string
}

// DSN builds the pgx connection string.
func (d Database) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		d.Username, d.Password, d.Host, d.Port, d.Database, d.Schema)
}

type Gateway struct {
	Provider    string
	BaseURL     string
	SecretKey   string
	CallbackURL string
	Timeout     time.Duration
}

type Pricing struct {
	ShippingFlat          decimal.Decimal
	FreeShippingThreshold decimal.Decimal
	TaxRatePercent        decimal.Decimal
}

type Reconcile struct {
	Interval    time.Duration
	StaleAfter  time.Duration
	// ExpireAfter is how long a payment may stay pending at the gateway before it is failed.
	ExpireAfter time.Duration
	BatchSize   int
}

type Config struct {
	ServiceName        string
	Env                string
	ServerPort         string
	Database           Database
	RedisURL           string
	KafkaBroker        string
	KafkaTopic         string
	OtelEndpoint       string
	Gateway            Gateway
	Currency           string
	Pricing            Pricing
	Reconcile          Reconcile
	CORSAllowedOrigins []string
}

func Load() (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "storefront-orders"),
		Env:         getEnv("ENV", "local"),
		ServerPort:  getEnv("SERVER_PORT", "8080"),
		Database: Database{
			Host:     getEnv("BLUEPRINT_DB_HOST", "localhost"),
			Port:     getEnv("BLUEPRINT_DB_PORT", "5432"),
			Username: getEnv("BLUEPRINT_DB_USERNAME", "postgres"),
			Password: getEnv("BLUEPRINT_DB_PASSWORD", "postgres"),
			Database: getEnv("BLUEPRINT_DB_DATABASE", "storefront"),
			Schema:   getEnv("BLUEPRINT_DB_SCHEMA", "public"),
		},
		RedisURL:     getEnv("REDIS_URL", ""),
		KafkaBroker:  getEnv("KAFKA_BROKER", ""),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "order-notifications"),
		OtelEndpoint: getEnv("OTEL_ENDPOINT", ""),
		Gateway: Gateway{
			Provider:    strings.ToLower(getEnv("GATEWAY_PROVIDER", "mock")),
			BaseURL:     getEnv("GATEWAY_BASE_URL", "https://api.paystack.co"),
			SecretKey:   getEnv("GATEWAY_SECRET_KEY", ""),
			CallbackURL: getEnv("GATEWAY_CALLBACK_URL", "http://localhost:8080/payments/callback"),
			Timeout:     getEnvAsDuration("GATEWAY_TIMEOUT", 30*time.Second),
		},
		Currency: strings.ToUpper(getEnv("STORE_CURRENCY", "NGN")),
		Pricing: Pricing{
			ShippingFlat:          getEnvAsDecimal("SHIPPING_FLAT_RATE", decimal.Zero),
			FreeShippingThreshold: getEnvAsDecimal("FREE_SHIPPING_THRESHOLD", decimal.Zero),
			TaxRatePercent:        getEnvAsDecimal("TAX_RATE_PERCENT", decimal.Zero),
		},
		Reconcile: Reconcile{
			Interval:    getEnvAsDuration("RECONCILE_INTERVAL", time.Minute),
			StaleAfter:  getEnvAsDuration("RECONCILE_STALE_AFTER", 15*time.Minute),
			ExpireAfter: getEnvAsDuration("RECONCILE_EXPIRE_AFTER", 24*time.Hour),
			BatchSize:   getEnvAsInt("RECONCILE_BATCH_SIZE", 100),
		},
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Gateway.Provider {
	case "mock":
	case "paystack":
		if c.Gateway.SecretKey == "" {
			errs = append(errs, errors.New("GATEWAY_SECRET_KEY is required for the paystack provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown GATEWAY_PROVIDER %q", c.Gateway.Provider))
	}
	if c.Gateway.Timeout <= 0 {
		errs = append(errs, errors.New("GATEWAY_TIMEOUT must be positive"))
	}
	if c.Pricing.TaxRatePercent.IsNegative() || c.Pricing.ShippingFlat.IsNegative() {
		errs = append(errs, errors.New("pricing values must not be negative"))
	}
	if c.Reconcile.Interval <= 0 {
		errs = append(errs, errors.New("RECONCILE_INTERVAL must be positive"))
	}
	if c.Reconcile.ExpireAfter < c.Reconcile.StaleAfter {
		errs = append(errs, errors.New("RECONCILE_EXPIRE_AFTER must not be shorter than RECONCILE_STALE_AFTER"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
