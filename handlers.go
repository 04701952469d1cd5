package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/soundline/catalog-bridge/internal/admin"
	"github.com/soundline/catalog-bridge/internal/audit"
	"github.com/soundline/catalog-bridge/internal/catalog"
	"github.com/soundline/catalog-bridge/internal/token"
)

const (
	defaultLimit = 20
	maxLimit     = 50
)

// HTTPStatuser provides HTTP status information for errors
type HTTPStatuser interface {
	Status() (int, string)
}

// RequestError is a problem with the caller's parameters. Its message is
// returned to the caller.
type RequestError struct {
	Message string
}

func (e *RequestError) Error() string {
	return e.Message
}

func (e *RequestError) Status() (int, string) {
	return http.StatusBadRequest, e.Message
}

func invalid(format string, args ...any) error {
	return &RequestError{Message: fmt.Sprintf(format, args...)}
}

// parseLimit reads the "limit" query parameter, which must be between 1 and
// 50.
func parseLimit(query url.Values, fallback int) (int, error) {
	raw := query.Get("limit")
	if raw == "" {
		return fallback, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > maxLimit {
		return 0, invalid("limit must be an integer between 1 and %d", maxLimit)
	}
	return limit, nil
}

// parsePage reads "limit" and "offset"; offset must not be negative.
func parsePage(query url.Values, fallbackLimit int) (catalog.PageRequest, error) {
	limit, err := parseLimit(query, fallbackLimit)
	if err != nil {
		return catalog.PageRequest{}, err
	}

	offset := 0
	if raw := query.Get("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return catalog.PageRequest{}, invalid("offset must be a non-negative integer")
		}
	}

	return catalog.PageRequest{Limit: limit, Offset: offset}, nil
}

func requireQuery(query url.Values) (string, error) {
	q := strings.TrimSpace(query.Get("q"))
	if q == "" {
		return "", invalid("Query parameter is required")
	}
	return q, nil
}

// parseSearchTypes reads the comma separated "type" parameter, defaulting to
// every type.
func parseSearchTypes(query url.Values) ([]string, error) {
	raw := query.Get("type")
	if raw == "" {
		return []string{"track", "artist", "album", "playlist"}, nil
	}

	var types []string
	for kind := range strings.SplitSeq(raw, ",") {
		kind = strings.TrimSpace(kind)
		if !catalog.ValidSearchType(kind) {
			return nil, invalid("type must be one or more of %s", strings.Join(catalog.SearchTypes, ", "))
		}
		types = append(types, kind)
	}
	return types, nil
}

// searchKinds maps the plural path segment of single-type search routes to
// the catalog search type.
var searchKinds = map[string]string{
	"albums":    "album",
	"artists":   "artist",
	"playlists": "playlist",
	"tracks":    "track",
}

// recommendationParams selects the seed and tuning parameters passed through
// to the recommendations endpoint.
func recommendationParams(query url.Values, limit int) url.Values {
	params := url.Values{}
	for name, values := range query {
		if strings.HasPrefix(name, "seed_") ||
			strings.HasPrefix(name, "target_") ||
			strings.HasPrefix(name, "min_") ||
			strings.HasPrefix(name, "max_") ||
			name == "market" {
			params[name] = values
		}
	}
	params.Set("limit", strconv.Itoa(limit))
	return params
}

type fetchFunc func(r *http.Request) (any, error)

// handleCatalog runs a catalog operation and writes its result as JSON.
// Failures other than bad parameters and missing entities are answered with
// the fixed failure message; upstream detail is only logged.
func handleCatalog(operation string, failureMessage string, fetch fetchFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		entry := audit.Log(r.Context())
		entry.Operation = operation

		result, err := fetch(r)
		if err != nil {
			entry.AppendError(err.Error())

			var upstream *catalog.UpstreamError
			if errors.As(err, &upstream) {
				entry.UpstreamStatus = upstream.StatusCode
			}

			status, message := errorStatus(err)
			if status == http.StatusInternalServerError {
				message = failureMessage
			}

			log.Ctx(r.Context()).Info().Err(err).Str("operation", operation).Msg("catalog request failed")
			writeJSONError(w, status, message)
			return
		}

		writeJSON(w, http.StatusOK, result)
	})
}

func handleHealth(surface *admin.Surface) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)
		writeJSON(w, http.StatusOK, surface.Health(r.Context()))
	})
}

func handleTokenStatus(surface *admin.Surface) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)
		writeJSON(w, http.StatusOK, surface.TokenStatus())
	})
}

// RefreshFailure is the response to a failed forced refresh.
type RefreshFailure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func handleRefreshToken(surface *admin.Surface) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		result, err := surface.ForceRefresh(r.Context())
		if err != nil {
			audit.Log(r.Context()).AppendError(err.Error())
			log.Ctx(r.Context()).Warn().Err(err).Msg("forced token refresh failed")

			writeJSON(w, http.StatusInternalServerError, RefreshFailure{
				Success: false,
				Error:   "Failed to refresh token",
				Message: refreshFailureReason(err),
			})
			return
		}

		writeJSON(w, http.StatusOK, result)
	})
}

// refreshFailureReason describes a refresh failure without the authorization
// server's response.
func refreshFailureReason(err error) string {
	switch {
	case errors.Is(err, token.ErrCredentialsMissing):
		return token.ErrCredentialsMissing.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "refresh did not complete"
	case errors.Is(err, token.ErrAuthenticationFailed):
		return token.ErrAuthenticationFailed.Error()
	default:
		return "unknown error"
	}
}

func handleStats(surface *admin.Surface) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)
		writeJSON(w, http.StatusOK, surface.APIStats())
	})
}

func handleHealthCheck() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

func maxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, limit)
	}
}

// noStore marks responses as uncacheable.
func noStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// ErrorResponse represents a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSONError writes a JSON error response with the given status code and message.
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Info().Err(err).Msg("response could not be encoded")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(body); err != nil {
		// the status is already sent, so the failure can only be logged
		log.Info().Err(err).Msg("failed to write response")
	}
}

// errorStatus extracts HTTP status code and message from an error.
// Returns (StatusInternalServerError, StatusText) for errors that don't implement HTTPStatuser.
func errorStatus(err error) (int, string) {
	var statuser HTTPStatuser
	if errors.As(err, &statuser) {
		return statuser.Status()
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
}

// drainRequestBody drains the request body by reading and discarding the contents.
// This is useful to ensure the request body is fully consumed, which is important
// for connection reuse in HTTP/1 clients.
func drainRequestBody(r *http.Request) {
	if r.Body != nil {
		// 5kb max: after this we'll assume the client is broken or malicious
		// and close the connection
		_, _ = io.CopyN(io.Discard, r.Body, 5*1024)
	}
}
