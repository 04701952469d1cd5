package token

import (
	"errors"
	"time"
)

var (
	// ErrAuthenticationFailed is terminal for a refresh chain: the
	// authorization server rejected or could not be reached for every
	// permitted attempt.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrCredentialsMissing is returned without any network call when the
	// client credentials are not configured.
	ErrCredentialsMissing = errors.New("catalog client credentials not configured")
)

// Credentials is the client-credentials grant identity. It is read from
// configuration at startup and never modified afterwards.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

func (c Credentials) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// AccessToken is a bearer token as held by the Manager. ExpiresAt already has
// the safety margin subtracted, so the token may be used up to (but not
// including) that instant.
type AccessToken struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

func (t AccessToken) ValidAt(now time.Time) bool {
	return t.Value != "" && now.Before(t.ExpiresAt)
}

// Fingerprint returns a redacted form of the token suitable for operators:
// only the last four characters are retained.
func (t AccessToken) Fingerprint() string {
	return Fingerprint(t.Value)
}

func Fingerprint(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 4 {
		return "***"
	}
	return "***" + value[len(value)-4:]
}

// Status is a point-in-time view of the token lifecycle.
type Status struct {
	HasToken           bool       `json:"hasToken"`
	IsExpired          bool       `json:"isExpired"`
	ExpiresAt          *time.Time `json:"expiresAt"`
	MinutesUntilExpiry int        `json:"minutesUntilExpiry"`
	LastRefresh        *time.Time `json:"lastRefresh"`
	IsRefreshing       bool       `json:"isRefreshing"`
}
