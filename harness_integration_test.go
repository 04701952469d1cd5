//go:build integration

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/soundline/catalog-bridge/internal/config"
	"github.com/soundline/catalog-bridge/internal/server"
	"github.com/soundline/catalog-bridge/internal/testhelpers"
	"github.com/soundline/catalog-bridge/internal/token"
	"github.com/stretchr/testify/require"
)

// APITestHarness manages the complete test environment for API integration tests.
// It sets up the mock authorization and catalog servers and serves the API
// routes in front of them.
type APITestHarness struct {
	t           *testing.T
	Server      *httptest.Server
	AuthMock    *testhelpers.MockAuthServer
	CatalogMock *testhelpers.MockCatalogServer
	Tokens      *token.Manager
}

// APITestHarnessOption configures the API test harness.
type APITestHarnessOption func(*config.Config)

// WithoutCredentials runs the service with no client credentials, so only
// fallback data is served.
func WithoutCredentials() APITestHarnessOption {
	return func(cfg *config.Config) {
		cfg.Catalog.ClientID = ""
		cfg.Catalog.ClientSecret = ""
	}
}

// NewAPITestHarness creates a complete test harness with all mock servers and the API server.
// Cleanup is handled automatically via t.Cleanup().
func NewAPITestHarness(t *testing.T, options ...APITestHarnessOption) *APITestHarness {
	t.Helper()
	testhelpers.SetupLogger(t)
	hooks := server.ShutdownHooks{}

	t.Cleanup(func() {
		hooks.Execute(t.Context())
	})

	harness := &APITestHarness{
		t:           t,
		AuthMock:    testhelpers.SetupMockAuthServer(t),
		CatalogMock: testhelpers.SetupMockCatalogServer(t),
	}

	cfg := config.Config{
		Catalog: testhelpers.CatalogConfig(harness.AuthMock, harness.CatalogMock),
		Observe: config.ObserveConfig{
			Enabled: false, // Disable observability for tests
		},
		Server: config.ServerConfig{
			Port: 0, // Not used for httptest.Server
		},
	}

	for _, opt := range options {
		opt(&cfg)
	}

	harness.Tokens = token.New(cfg.Catalog)

	handler, err := configureServerRoutes(cfg, harness.Tokens, &hooks)
	require.NoError(t, err)

	harness.Server = httptest.NewServer(handler)
	hooks.AddClose("api-server", closer(harness.Server.Close))

	return harness
}

// Client returns a test client for the API server.
func (h *APITestHarness) Client() *TestClient {
	return &TestClient{
		baseURL: h.Server.URL,
		client:  h.Server.Client(),
	}
}

type closer func()

func (c closer) Close() error {
	c()
	return nil
}

// TestClient provides access to the API endpoints for testing.
type TestClient struct {
	baseURL string
	client  *http.Client
}

// Response wraps raw HTTP response for low-level assertions.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// Request performs a low-level HTTP request and returns the raw response.
func (c *TestClient) Request(method, path string, body io.Reader) (*Response, error) {
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       bodyBytes,
		Headers:    resp.Header,
	}, nil
}

// GetJSON performs a GET request and returns the parsed JSON response and
// status code.
func (c *TestClient) GetJSON(t *testing.T, path string) (map[string]any, int) {
	t.Helper()
	return c.requestJSON(t, http.MethodGet, path)
}

// PostJSON performs a POST request with no body and returns the parsed JSON
// response and status code.
func (c *TestClient) PostJSON(t *testing.T, path string) (map[string]any, int) {
	t.Helper()
	return c.requestJSON(t, http.MethodPost, path)
}

func (c *TestClient) requestJSON(t *testing.T, method, path string) (map[string]any, int) {
	t.Helper()

	resp, err := c.Request(method, path, nil)
	require.NoError(t, err)

	var result map[string]any
	if len(resp.Body) > 0 {
		require.NoError(t, json.Unmarshal(resp.Body, &result), "response body: %s", resp.Body)
	}

	return result, resp.StatusCode
}
