package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (FRESHCART_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (FRESHCART_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing" flag:"api-key-pepper"`
	Payment      PaymentConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// PaymentConfig controls the payment processor integration.
type PaymentConfig struct {
	BaseURL       string        `usage:"Payment processor API base URL" flag:"payment-base-url"`
	SecretKey     string        `usage:"Payment processor API secret key" flag:"payment-secret-key"`
	WebhookSecret string        `usage:"Shared secret for webhook signature verification" flag:"payment-webhook-secret"`
	Currency      string        `default:"inr" usage:"ISO currency code for charges"`
	Timeout       time.Duration `default:"5s" usage:"Per-attempt timeout for processor calls" flag:"payment-timeout"`
	MaxAttempts   int           `default:"3" usage:"Max attempts per processor call" flag:"payment-max-attempts"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "FRESHCART",
		Files:     []string{"config.yaml", "/etc/freshcart/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set FRESHCART_DATABASE_URL or DATABASE_URL")
	}
	if cfg.Payment.BaseURL == "" {
		return nil, errors.New("payment processor base URL is required: set FRESHCART_PAYMENT_BASE_URL")
	}
	if cfg.Payment.WebhookSecret == "" {
		return nil, errors.New("webhook secret is required: set FRESHCART_PAYMENT_WEBHOOK_SECRET")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's FRESHCART_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
