package catalog

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnauthorized matches an UpstreamError for a 401 response, i.e. one that
// was still rejected after the token was refreshed.
var ErrUnauthorized = errors.New("catalog API rejected the access token")

// UpstreamError is a non-2xx response from the catalog API. The response body
// is deliberately not retained.
type UpstreamError struct {
	Endpoint   string
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("catalog API %s responded %d %s", e.Endpoint, e.StatusCode, http.StatusText(e.StatusCode))
}

func (e *UpstreamError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

// Status maps the upstream failure to the status returned to callers: a
// missing catalog entity is reported as such, everything else is a server
// failure.
func (e *UpstreamError) Status() (int, string) {
	if e.StatusCode == http.StatusNotFound {
		return http.StatusNotFound, "Not found"
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
}
