package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Catalog CatalogConfig
	Observe ObserveConfig
	Server  ServerConfig
}

type ServerConfig struct {
	Port                   int `env:"SERVER_PORT, default=8080"`
	ShutdownTimeoutSeconds int `env:"SERVER_SHUTDOWN_TIMEOUT_SECS, default=25"`

	OutgoingHTTPMaxIdleConns    int `env:"SERVER_OUTGOING_MAX_IDLE_CONNS, default=100"`
	OutgoingHTTPMaxConnsPerHost int `env:"SERVER_OUTGOING_MAX_CONNS_PER_HOST, default=20"`
}

// CatalogConfig holds the upstream catalog API credentials and the tuning of
// the token lifecycle and request broker.
type CatalogConfig struct {
	// ClientID and ClientSecret are the client-credentials grant identity. When
	// either is absent the service runs in fallback-only mode.
	ClientID     string `env:"CATALOG_CLIENT_ID"`
	ClientSecret string `env:"CATALOG_CLIENT_SECRET"`

	TokenURL string `env:"CATALOG_TOKEN_URL, default=https://accounts.spotify.com/api/token"`
	APIURL   string `env:"CATALOG_API_URL, default=https://api.spotify.com/v1"`

	AuthTimeout    time.Duration `env:"CATALOG_AUTH_TIMEOUT, default=10s"`
	RequestTimeout time.Duration `env:"CATALOG_REQUEST_TIMEOUT, default=15s"`

	// SafetyMargin is subtracted from the lifetime declared by the
	// authorization server.
	SafetyMargin     time.Duration `env:"CATALOG_TOKEN_SAFETY_MARGIN, default=2m"`
	RefreshInterval  time.Duration `env:"CATALOG_TOKEN_REFRESH_INTERVAL, default=50m"`
	RefreshThreshold time.Duration `env:"CATALOG_TOKEN_REFRESH_THRESHOLD, default=10m"`

	MaxRetries     int           `env:"CATALOG_TOKEN_MAX_RETRIES, default=3"`
	RetryBaseDelay time.Duration `env:"CATALOG_TOKEN_RETRY_BASE_DELAY, default=1s"`

	// RateLimit is in requests per second; zero disables limiting.
	RateLimit float64 `env:"CATALOG_RATE_LIMIT, default=10"`
	RateBurst int     `env:"CATALOG_RATE_BURST, default=5"`

	CacheTTL     time.Duration `env:"CATALOG_CACHE_TTL, default=5m"`
	CacheMaxSize int           `env:"CATALOG_CACHE_MAX_SIZE, default=2000"`
}

// HasCredentials reports whether both halves of the client credentials are
// configured.
func (c CatalogConfig) HasCredentials() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

type ObserveConfig struct {
	SDKLogLevel                string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled                    bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled             bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                       string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName                string `env:"OBSERVE_SERVICE_NAME, default=catalog-bridge"`
	TraceBatchTimeoutSeconds   int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds  int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HTTPTransportEnabled       bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`
	HTTPConnectionTraceEnabled bool   `env:"OBSERVE_CONNECTION_TRACE_ENABLED, default=true"`
}

// Load reads configuration from the OS environment. Values in a dotenv file
// (CONFIG_DOTENV, default ".env") are applied first without overriding
// variables that are already set.
func Load(ctx context.Context) (Config, error) {
	if err := loadDotenv(); err != nil {
		return Config{}, err
	}

	return load(ctx, nil) // load from OS environment
}

func loadDotenv() error {
	path := os.Getenv("CONFIG_DOTENV")
	if path == "" {
		path = ".env"
	}

	err := godotenv.Load(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("dotenv load failed for %s: %w", path, err)
	}

	return nil
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	err = cfg.Catalog.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid catalog configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the catalog tuning values. Missing credentials are not an
// error: they degrade the service rather than preventing startup.
func (c *CatalogConfig) Validate() error {
	if c.MaxRetries < 1 {
		return fmt.Errorf("CATALOG_TOKEN_MAX_RETRIES must be at least 1")
	}

	if c.RefreshThreshold >= c.RefreshInterval {
		return fmt.Errorf("CATALOG_TOKEN_REFRESH_THRESHOLD must be shorter than CATALOG_TOKEN_REFRESH_INTERVAL")
	}

	if c.AuthTimeout <= 0 || c.RequestTimeout <= 0 {
		return fmt.Errorf("catalog timeouts must be positive")
	}

	if c.RateLimit < 0 {
		return fmt.Errorf("CATALOG_RATE_LIMIT must not be negative")
	}

	return nil
}
