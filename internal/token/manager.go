package token

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/soundline/catalog-bridge/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
)

// refreshKey is the only key used in the single-flight group: there is one
// token per Manager.
const refreshKey = "client-credentials"

// defaultLifetime applies when the authorization server omits expires_in.
const defaultLifetime = time.Hour

// Manager owns the bearer token used for upstream catalog calls. It
// guarantees that at most one exchange with the authorization server is
// outstanding at any time, whichever path (on-demand acquisition, forced
// refresh or background renewal) triggered it.
type Manager struct {
	credentials Credentials
	oauth       *clientcredentials.Config
	httpClient  *http.Client
	now         func() time.Time

	authTimeout      time.Duration
	safetyMargin     time.Duration
	refreshInterval  time.Duration
	refreshThreshold time.Duration
	maxRetries       int
	retryBaseDelay   time.Duration

	group singleflight.Group

	mu          sync.RWMutex
	current     AccessToken
	lastRefresh time.Time
	inFlight    bool
	retryCount  int
}

type Option func(*Manager)

// WithHTTPClient sets the client used for the token exchange. Defaults to
// http.DefaultClient.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) {
		m.httpClient = client
	}
}

// WithClock replaces the wall clock used for expiry calculations.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func New(cfg config.CatalogConfig, opts ...Option) *Manager {
	m := &Manager{
		credentials: Credentials{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
		},
		oauth: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		now:              time.Now,
		authTimeout:      cfg.AuthTimeout,
		safetyMargin:     cfg.SafetyMargin,
		refreshInterval:  cfg.RefreshInterval,
		refreshThreshold: cfg.RefreshThreshold,
		maxRetries:       max(cfg.MaxRetries, 1),
		retryBaseDelay:   cfg.RetryBaseDelay,
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.httpClient == nil {
		m.httpClient = http.DefaultClient
	}

	if !m.credentials.Configured() {
		log.Warn().Msg("catalog credentials not found: catalog calls will be served from fallback data only")
	}

	return m
}

// Configured reports whether client credentials are available.
func (m *Manager) Configured() bool {
	return m.credentials.Configured()
}

// MaxRetries is the number of exchange attempts permitted per refresh.
func (m *Manager) MaxRetries() int {
	return m.maxRetries
}

// RetryCount is the number of consecutive failed exchanges in the current (or
// most recent) refresh.
func (m *Manager) RetryCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.retryCount
}

// Acquire returns a valid bearer token. A cached token is returned without
// I/O; otherwise the caller joins the outstanding refresh, or starts one.
// Cancelling ctx abandons the wait but not the refresh itself, which other
// callers may be sharing.
func (m *Manager) Acquire(ctx context.Context) (string, error) {
	if tok, ok := m.valid(); ok {
		return tok.Value, nil
	}

	if !m.credentials.Configured() {
		return "", ErrCredentialsMissing
	}

	needsRefresh := func(t AccessToken, now time.Time) bool {
		return !t.ValidAt(now)
	}

	// A shared operation started by background renewal may settle without a
	// token if it was invalidated in the meantime; go round once more with
	// this caller's own predicate.
	for range 2 {
		tok, err := m.shared(ctx, needsRefresh)
		if err != nil {
			return "", err
		}
		if tok.Value != "" {
			return tok.Value, nil
		}
	}

	return "", fmt.Errorf("%w: no token issued", ErrAuthenticationFailed)
}

// Invalidate discards the cached token, forcing the next Acquire to refresh.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = AccessToken{}
}

// Reject discards the cached token only if it still holds the given value.
// This lets many requests that were rejected with the same stale token cause
// a single replacement rather than one each.
func (m *Manager) Reject(value string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.Value != value {
		return false
	}

	m.current = AccessToken{}
	return true
}

// ForceRefresh unconditionally discards the cached token and acquires a new
// one, returning the redacted fingerprint of the result.
func (m *Manager) ForceRefresh(ctx context.Context) (string, error) {
	log.Info().Msg("token: forced refresh requested")

	m.Invalidate()

	value, err := m.Acquire(ctx)
	if err != nil {
		return "", err
	}

	return Fingerprint(value), nil
}

// Status reports the current token lifecycle state.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	status := Status{
		HasToken:     m.current.Value != "",
		IsExpired:    !m.current.ValidAt(now),
		IsRefreshing: m.inFlight,
	}

	if status.HasToken {
		expiresAt := m.current.ExpiresAt.UTC()
		status.ExpiresAt = &expiresAt
		status.MinutesUntilExpiry = max(0, int(expiresAt.Sub(now)/time.Minute))
	}

	if !m.lastRefresh.IsZero() {
		lastRefresh := m.lastRefresh.UTC()
		status.LastRefresh = &lastRefresh
	}

	return status
}

func (m *Manager) valid() (AccessToken, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.current, m.current.ValidAt(m.now())
}

func (m *Manager) snapshot() AccessToken {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// shared joins or starts the single refresh operation. needsRefresh is
// evaluated inside the operation so that a caller arriving just after a
// refresh completed reuses its result rather than starting another exchange.
// When an operation is already outstanding the caller shares it regardless of
// its own predicate.
func (m *Manager) shared(ctx context.Context, needsRefresh func(AccessToken, time.Time) bool) (AccessToken, error) {
	detached := context.WithoutCancel(ctx)

	ch := m.group.DoChan(refreshKey, func() (any, error) {
		if tok := m.snapshot(); !needsRefresh(tok, m.now()) {
			return tok, nil
		}
		return m.refresh(detached)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return AccessToken{}, res.Err
		}
		return res.Val.(AccessToken), nil
	case <-ctx.Done():
		return AccessToken{}, ctx.Err()
	}
}

// refresh performs the exchange with the authorization server, retrying up to
// maxRetries attempts in total. The delay before attempt n+1 is n times the
// base delay.
func (m *Manager) refresh(ctx context.Context) (AccessToken, error) {
	tracer := otel.Tracer("github.com/soundline/catalog-bridge/internal/token")
	ctx, span := tracer.Start(ctx, "token_refresh")
	defer span.End()

	m.begin()

	for attempt := 1; ; attempt++ {
		log.Info().Int("attempt", attempt).Msg("token: refreshing catalog access token")

		tok, err := m.exchange(ctx)
		if err == nil {
			span.SetAttributes(attribute.Int("token.attempts", attempt))
			span.SetStatus(codes.Ok, "token refreshed")

			log.Info().
				Time("expiry", tok.ExpiresAt).
				Int("minutesUntilExpiry", int(tok.ExpiresAt.Sub(tok.IssuedAt)/time.Minute)).
				Msg("token: refreshed successfully")

			return tok, nil
		}

		failures := m.fail()
		log.Warn().Err(err).
			Int("retryCount", failures).
			Int("maxRetries", m.maxRetries).
			Msg("token: exchange failed")

		if attempt >= m.maxRetries {
			m.abandon()

			err = fmt.Errorf("%w after %d attempts: %w", ErrAuthenticationFailed, attempt, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "token refresh failed")
			return AccessToken{}, err
		}

		select {
		case <-time.After(time.Duration(attempt) * m.retryBaseDelay):
		case <-ctx.Done():
			m.abandon()
			return AccessToken{}, fmt.Errorf("%w: %w", ErrAuthenticationFailed, ctx.Err())
		}
	}
}

// exchange makes one call to the authorization server and, on success,
// installs the result.
func (m *Manager) exchange(ctx context.Context) (AccessToken, error) {
	ctx, cancel := context.WithTimeout(ctx, m.authTimeout)
	defer cancel()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)

	requested := time.Now()
	issued, err := m.oauth.Token(ctx)
	if err != nil {
		return AccessToken{}, err
	}

	lifetime := defaultLifetime
	if !issued.Expiry.IsZero() {
		lifetime = issued.Expiry.Sub(requested)
	}

	return m.install(issued.AccessToken, lifetime), nil
}

func (m *Manager) begin() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.inFlight = true
	m.retryCount = 0
}

// install swaps in the new token and clears the in-flight marker in a single
// critical section. It runs before the single-flight group releases waiters.
func (m *Manager) install(value string, lifetime time.Duration) AccessToken {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.current = AccessToken{
		Value:     value,
		IssuedAt:  now,
		ExpiresAt: now.Add(lifetime - m.safetyMargin),
	}
	m.lastRefresh = now
	m.retryCount = 0
	m.inFlight = false

	return m.current
}

func (m *Manager) fail() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.retryCount++
	return m.retryCount
}

func (m *Manager) abandon() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight = false
}
