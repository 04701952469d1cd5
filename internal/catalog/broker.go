package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/soundline/catalog-bridge/internal/cache"
	"github.com/soundline/catalog-bridge/internal/config"
	"golang.org/x/time/rate"
)

// maxResponseBytes bounds the catalog response size read into memory.
const maxResponseBytes = 10 << 20 // 10 MB

// TokenSource supplies bearer tokens for catalog calls.
type TokenSource interface {
	// Acquire returns a valid token, refreshing if necessary.
	Acquire(ctx context.Context) (string, error)

	// Reject discards the given token if it is still current.
	Reject(token string) bool
}

// Fetcher issues a GET for a catalog endpoint and returns the JSON body.
type Fetcher func(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error)

// Broker issues authenticated requests to the catalog API.
type Broker struct {
	baseURL string
	tokens  TokenSource
	client  *http.Client
	timeout time.Duration
	limiter *rate.Limiter
	stats   *Stats

	entityCache cache.Cache[json.RawMessage]
	entities    Fetcher
}

type Option func(*Broker)

// WithHTTPClient sets the client used for catalog calls. Defaults to
// http.DefaultClient.
func WithHTTPClient(client *http.Client) Option {
	return func(b *Broker) {
		b.client = client
	}
}

// WithEntityCache caches album, artist and playlist lookups.
func WithEntityCache(c cache.Cache[json.RawMessage]) Option {
	return func(b *Broker) {
		b.entityCache = c
	}
}

func New(cfg config.CatalogConfig, tokens TokenSource, opts ...Option) *Broker {
	initMetrics()

	b := &Broker{
		baseURL: strings.TrimSuffix(cfg.APIURL, "/"),
		tokens:  tokens,
		timeout: cfg.RequestTimeout,
		stats:   &Stats{},
	}

	if cfg.RateLimit > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.RateBurst, 1))
	}

	for _, opt := range opts {
		opt(b)
	}

	if b.client == nil {
		b.client = http.DefaultClient
	}

	b.entities = b.Raw
	if b.entityCache != nil {
		b.entities = Cached(b.entityCache)(b.Raw)
	}

	return b
}

// Stats returns the cumulative call statistics.
func (b *Broker) Stats() StatsSnapshot {
	return b.stats.Snapshot()
}

// CacheHitRatio reports the entity cache hit ratio, or zero when no cache is
// configured.
func (b *Broker) CacheHitRatio() float64 {
	if r, ok := b.entityCache.(cache.HitRatioer); ok {
		return r.HitRatio()
	}
	return 0
}

// Get fetches the endpoint and decodes the JSON body into out.
func (b *Broker) Get(ctx context.Context, endpoint string, params url.Values, out any) error {
	body, err := b.Raw(ctx, endpoint, params)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("catalog response from %s could not be decoded: %w", endpoint, err)
	}

	return nil
}

// Raw fetches the endpoint and returns the JSON body. When the catalog API
// rejects the token, the token is discarded and the request is retried exactly
// once with a fresh one. No other failure is retried.
func (b *Broker) Raw(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error) {
	token, err := b.tokens.Acquire(ctx)
	if err != nil {
		b.stats.record(ctx, endpoint, false)
		return nil, fmt.Errorf("catalog request %s: %w", endpoint, err)
	}

	body, err := b.do(ctx, endpoint, params, token)
	if !errors.Is(err, ErrUnauthorized) {
		return body, err
	}

	log.Info().Str("endpoint", endpoint).Msg("catalog: token rejected, refreshing and retrying")

	b.tokens.Reject(token)

	token, err = b.tokens.Acquire(ctx)
	if err != nil {
		b.stats.record(ctx, endpoint, false)
		return nil, fmt.Errorf("catalog request %s: %w", endpoint, err)
	}

	return b.do(ctx, endpoint, params, token)
}

// do performs a single attempt, recording exactly one outcome in the stats.
func (b *Broker) do(ctx context.Context, endpoint string, params url.Values, token string) (body json.RawMessage, err error) {
	defer func() {
		b.stats.record(ctx, endpoint, err == nil)

		if err != nil {
			log.Warn().Err(err).Str("endpoint", endpoint).Msg("catalog: request failed")
		} else {
			log.Debug().Str("endpoint", endpoint).Msg("catalog: request succeeded")
		}
	}()

	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("catalog request %s not sent: %w", endpoint, err)
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	target := b.baseURL + endpoint
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog request %s could not be created: %w", endpoint, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog request %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// drain for connection reuse; the body is never surfaced
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, &UpstreamError{Endpoint: endpoint, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("catalog response from %s could not be read: %w", endpoint, err)
	}

	if len(data) == 0 {
		return json.RawMessage("{}"), nil
	}

	if !json.Valid(data) {
		return nil, fmt.Errorf("catalog response from %s is not valid JSON", endpoint)
	}

	return json.RawMessage(data), nil
}

// idParents are the path segments followed by an identifier in catalog
// endpoints.
var idParents = map[string]bool{
	"albums":     true,
	"artists":    true,
	"playlists":  true,
	"categories": true,
}

// endpointLabel replaces identifiers in an endpoint path so it can be used as
// a low-cardinality metric attribute.
func endpointLabel(endpoint string) string {
	segments := strings.Split(strings.Trim(endpoint, "/"), "/")
	for i := 1; i < len(segments); i++ {
		if idParents[segments[i-1]] {
			segments[i] = "{id}"
		}
	}
	return "/" + strings.Join(segments, "/")
}
