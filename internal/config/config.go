package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the billing synchronizer.
type Config struct {
	DataDir     string
	BindAddress string
	Port        int

	StripeAPIKey        string
	StripeWebhookSecret string

	// WebhookTolerance bounds how old a signed event timestamp may be before
	// it is rejected as a possible replay.
	WebhookTolerance time.Duration

	// FetchTimeout bounds the secondary subscription fetch against the
	// processor API.
	FetchTimeout time.Duration

	// WebhookRateLimit caps deliveries per source IP per minute. The
	// processor retries rejected deliveries, so shedding a burst loses
	// nothing.
	WebhookRateLimit int

	AuthKey       string // shared key guarding the read/metrics endpoints
	PublicMetrics bool

	LogLevel  string
	LogFormat string
}

// StoreDir returns the directory holding the subscription database.
func (c *Config) StoreDir() string {
	return filepath.Join(c.DataDir, "billsync")
}

// Load reads configuration from environment variables.
// A .env file is loaded if present but not required.
func Load() (*Config, error) {
	// Best-effort .env loading (not required)
	_ = godotenv.Load()

	port, err := envOrDefaultInt("BILLSYNC_PORT", 8880)
	if err != nil {
		return nil, err
	}
	toleranceSecs, err := envOrDefaultInt("BILLSYNC_WEBHOOK_TOLERANCE_SECONDS", 300)
	if err != nil {
		return nil, err
	}
	fetchTimeoutSecs, err := envOrDefaultInt("BILLSYNC_FETCH_TIMEOUT_SECONDS", 10)
	if err != nil {
		return nil, err
	}
	rateLimit, err := envOrDefaultInt("BILLSYNC_WEBHOOK_RATE_LIMIT", 120)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:             envOrDefault("BILLSYNC_DATA_DIR", "/data"),
		BindAddress:         envOrDefault("BILLSYNC_BIND_ADDRESS", "0.0.0.0"),
		Port:                port,
		StripeAPIKey:        strings.TrimSpace(os.Getenv("STRIPE_API_KEY")),
		StripeWebhookSecret: strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
		WebhookTolerance:    time.Duration(toleranceSecs) * time.Second,
		FetchTimeout:        time.Duration(fetchTimeoutSecs) * time.Second,
		WebhookRateLimit:    rateLimit,
		AuthKey:             strings.TrimSpace(os.Getenv("BILLSYNC_AUTH_KEY")),
		PublicMetrics:       envBool("BILLSYNC_PUBLIC_METRICS"),
		LogLevel:            envOrDefault("BILLSYNC_LOG_LEVEL", "info"),
		LogFormat:           envOrDefault("BILLSYNC_LOG_FORMAT", "auto"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.StripeWebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if c.StripeAPIKey == "" {
		missing = append(missing, "STRIPE_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("BILLSYNC_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.WebhookTolerance <= 0 {
		return fmt.Errorf("BILLSYNC_WEBHOOK_TOLERANCE_SECONDS must be greater than 0, got %s", c.WebhookTolerance)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("BILLSYNC_FETCH_TIMEOUT_SECONDS must be greater than 0, got %s", c.FetchTimeout)
	}
	if c.WebhookRateLimit < 1 {
		return fmt.Errorf("BILLSYNC_WEBHOOK_RATE_LIMIT must be at least 1, got %d", c.WebhookRateLimit)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}

func envBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
