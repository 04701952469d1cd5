package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/soundline/catalog-bridge/internal/catalog"
	"github.com/soundline/catalog-bridge/internal/token"
)

// Tokens is the token lifecycle as seen by operators.
type Tokens interface {
	Acquire(ctx context.Context) (string, error)
	ForceRefresh(ctx context.Context) (string, error)
	Status() token.Status
	RetryCount() int
	MaxRetries() int
	Configured() bool
}

// Calls reports catalog API usage.
type Calls interface {
	Stats() catalog.StatsSnapshot
	CacheHitRatio() float64
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"

	serviceUnconfigured = "unconfigured"
	catalogService      = "catalog"
)

// Surface implements the management operations. Every operation is safe to
// repeat; results reflect the state at the time of the call.
type Surface struct {
	tokens  Tokens
	calls   Calls
	started time.Time
	version string
	now     func() time.Time
}

type Option func(*Surface)

func WithClock(now func() time.Time) Option {
	return func(s *Surface) {
		s.now = now
	}
}

// WithVersion overrides the version reported by Health, which otherwise comes
// from the build information.
func WithVersion(version string) Option {
	return func(s *Surface) {
		s.version = version
	}
}

func New(tokens Tokens, calls Calls, opts ...Option) *Surface {
	s := &Surface{
		tokens: tokens,
		calls:  calls,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.version == "" {
		s.version = Version()
	}
	s.started = s.now()

	return s
}

func (s *Surface) TokenStatus() token.Status {
	return s.tokens.Status()
}

// RefreshResult reports an operator-triggered token refresh. The token is
// always redacted.
type RefreshResult struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Token   string       `json:"token"`
	Status  token.Status `json:"status"`
}

// ForceRefresh discards the current token and acquires a new one.
func (s *Surface) ForceRefresh(ctx context.Context) (RefreshResult, error) {
	log.Info().Msg("admin: forced token refresh requested")

	fingerprint, err := s.tokens.ForceRefresh(ctx)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("forced token refresh failed: %w", err)
	}

	return RefreshResult{
		Success: true,
		Message: "Token refreshed successfully",
		Token:   fingerprint,
		Status:  s.tokens.Status(),
	}, nil
}

// APIStats combines the catalog call counts with the token and retry state.
type APIStats struct {
	catalog.StatsSnapshot

	SuccessRate   float64      `json:"successRate"`
	TokenStatus   token.Status `json:"tokenStatus"`
	RetryCount    int          `json:"retryCount"`
	MaxRetries    int          `json:"maxRetries"`
	CacheHitRatio float64      `json:"cacheHitRatio"`
}

func (s *Surface) APIStats() APIStats {
	snapshot := s.calls.Stats()

	return APIStats{
		StatsSnapshot: snapshot,
		SuccessRate:   snapshot.SuccessRate(),
		TokenStatus:   s.tokens.Status(),
		RetryCount:    s.tokens.RetryCount(),
		MaxRetries:    s.tokens.MaxRetries(),
		CacheHitRatio: s.calls.CacheHitRatio(),
	}
}

// Health is the service health report.
type Health struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Uptime    float64           `json:"uptime"`
	Version   string            `json:"version"`
	Services  map[string]string `json:"services"`
}

// Health reports degraded when no catalog token can be obtained. It does not
// call the catalog API, so it leaves the call statistics untouched.
func (s *Surface) Health(ctx context.Context) Health {
	now := s.now()

	health := Health{
		Status:    StatusHealthy,
		Timestamp: now.UTC(),
		Uptime:    now.Sub(s.started).Seconds(),
		Version:   s.version,
		Services:  map[string]string{catalogService: StatusHealthy},
	}

	if !s.tokens.Configured() {
		health.Status = StatusDegraded
		health.Services[catalogService] = serviceUnconfigured
		return health
	}

	if _, err := s.tokens.Acquire(ctx); err != nil {
		log.Warn().Err(err).Msg("admin: health check could not obtain a catalog token")
		health.Status = StatusDegraded
		health.Services[catalogService] = StatusUnhealthy
	}

	return health
}
