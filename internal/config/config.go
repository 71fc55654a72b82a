package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Subscription store backends.
const (
	StoreBackend  = "backend"
	StorePostgres = "postgres"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Port   int    `env:"PORT" envDefault:"4001"`
	AppEnv string `env:"APP_ENV" envDefault:"development"`

	JWTSecret     string `env:"JWT_SECRET,required,notEmpty"`
	DatabaseURL   string `env:"DATABASE_URL,required,notEmpty"`
	RedisURL      string `env:"REDIS_URL"`
	EncryptionKey string `env:"ENCRYPTION_KEY,required,notEmpty"`

	CORSOrigins  []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	AppOrigin    string   `env:"APP_ORIGIN" envDefault:"http://localhost:3000"`
	PublicAPIURL string   `env:"PUBLIC_API_URL" envDefault:"http://localhost:4001"`

	// BackendAPIURL empty runs checkout against the in-process mock gateway.
	BackendAPIURL     string        `env:"BACKEND_API_URL"`
	BackendAPIKey     string        `env:"BACKEND_API_KEY"`
	BackendTimeout    time.Duration `env:"BACKEND_API_TIMEOUT" envDefault:"15s"`
	SubscriptionStore string        `env:"SUBSCRIPTION_STORE" envDefault:"postgres"`

	LocalCountryCode string   `env:"LOCAL_PAYMENT_COUNTRY_CODE" envDefault:"251"`
	LocalCurrency    string   `env:"LOCAL_PAYMENT_CURRENCY" envDefault:"ETB"`
	LocalMethods     []string `env:"LOCAL_PAYMENT_METHODS" envSeparator:","`

	// PriceIDs maps "<planId>_<billingCycle>" to the international provider's price id.
	PriceIDs map[string]string `env:"STRIPE_PRICE_IDS" envSeparator:"," envKeyValSeparator:"="`

	ProvisionRetryInterval time.Duration `env:"PROVISION_RETRY_INTERVAL" envDefault:"1m"`
	RateLimitRPS           float64       `env:"RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst         int           `env:"RATE_LIMIT_BURST" envDefault:"40"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads a .env file when present, then parses and validates the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return Parse()
}

// Parse reads configuration from the process environment only.
func Parse() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes, got %d", len(c.EncryptionKey))
	}
	switch c.SubscriptionStore {
	case StorePostgres:
	case StoreBackend:
		if c.BackendAPIURL == "" {
			return fmt.Errorf("SUBSCRIPTION_STORE=backend requires BACKEND_API_URL")
		}
	default:
		return fmt.Errorf("SUBSCRIPTION_STORE must be %q or %q, got %q", StoreBackend, StorePostgres, c.SubscriptionStore)
	}
	if c.BackendTimeout <= 0 {
		return fmt.Errorf("BACKEND_API_TIMEOUT must be positive")
	}
	if c.ProvisionRetryInterval <= 0 {
		return fmt.Errorf("PROVISION_RETRY_INTERVAL must be positive")
	}
	for name, raw := range map[string]string{"APP_ORIGIN": c.AppOrigin, "PUBLIC_API_URL": c.PublicAPIURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
		}
	}

	for i := range c.CORSOrigins {
		c.CORSOrigins[i] = strings.TrimSpace(c.CORSOrigins[i])
	}
	c.AppOrigin = strings.TrimRight(c.AppOrigin, "/")
	c.PublicAPIURL = strings.TrimRight(c.PublicAPIURL, "/")
	return nil
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// AllowedOrigin reports whether origin is one of the configured CORS origins.
func (c *Config) AllowedOrigin(origin string) bool {
	for _, o := range c.CORSOrigins {
		if o == origin {
			return true
		}
	}
	return false
}
