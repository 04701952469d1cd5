package token

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Run renews the token in the background until the context is cancelled.
// Every refresh interval, a cached token that will expire within the refresh
// threshold is renewed through the same single-flight operation used by
// Acquire, so callers are never blocked by it and no second exchange is
// started. Failures are logged: the next Acquire retries synchronously.
func (m *Manager) Run(ctx context.Context) {
	if !m.credentials.Configured() {
		log.Info().Msg("token: background renewal disabled, no credentials")
		return
	}

	ticker := time.NewTicker(m.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.renew(ctx)
		case <-ctx.Done():
			log.Info().Msg("token renewal goroutine shutting down gracefully")
			return
		}
	}
}

// renew performs a single background renewal check. Panics are recovered so
// the loop survives.
func (m *Manager) renew(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Msg("token: background renewal panicked, recovered")
		}
	}()

	if !m.expiring(m.snapshot(), m.now()) {
		return
	}

	log.Info().Msg("token: renewing ahead of expiry")

	_, err := m.shared(ctx, m.expiring)
	if err != nil {
		log.Warn().Err(err).Msg("token: background renewal failed, continuing")
	}
}

// expiring reports whether a cached token expires within the refresh
// threshold. Without a cached token there is nothing to renew: acquisition
// happens lazily.
func (m *Manager) expiring(t AccessToken, now time.Time) bool {
	if t.Value == "" {
		return false
	}
	return !now.Add(m.refreshThreshold).Before(t.ExpiresAt)
}
