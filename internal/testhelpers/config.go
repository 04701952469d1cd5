package testhelpers

import (
	"time"

	"github.com/soundline/catalog-bridge/internal/config"
)

// CatalogConfig returns a catalog configuration pointing at the given mock
// servers, with timings short enough for tests. Either server may be nil.
func CatalogConfig(auth *MockAuthServer, catalog *MockCatalogServer) config.CatalogConfig {
	cfg := config.CatalogConfig{
		ClientID:         "test-client-id",
		ClientSecret:     "test-client-secret",
		AuthTimeout:      2 * time.Second,
		RequestTimeout:   2 * time.Second,
		SafetyMargin:     2 * time.Minute,
		RefreshInterval:  50 * time.Minute,
		RefreshThreshold: 10 * time.Minute,
		MaxRetries:       3,
		RetryBaseDelay:   10 * time.Millisecond,
		CacheTTL:         time.Minute,
		CacheMaxSize:     100,
	}

	if auth != nil {
		cfg.TokenURL = auth.TokenURL()
	}

	if catalog != nil {
		cfg.APIURL = catalog.URL()
	}

	return cfg
}
