package testhelpers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"
)

// MockAuthServer is a client-credentials token endpoint. Each successful
// exchange issues a distinct token ("token-1", "token-2", ...) so tests can
// tell refreshes apart.
type MockAuthServer struct {
	Server *httptest.Server

	mu           sync.Mutex
	statusCodes  []int // consumed one per request; the last one repeats
	expiresIn    int
	gate         chan struct{}
	requestTimes []time.Time
	issued       int
	lastAuth     string
	lastForm     url.Values
}

// SetupMockAuthServer creates a token endpoint at "/api/token" that responds
// with 200 and a one hour token lifetime unless reconfigured.
func SetupMockAuthServer(t *testing.T) *MockAuthServer {
	t.Helper()

	mock := &MockAuthServer{
		statusCodes: []int{http.StatusOK},
		expiresIn:   3600,
	}

	router := http.NewServeMux()
	router.HandleFunc("POST /api/token", mock.handleToken)

	mock.Server = httptest.NewServer(router)
	t.Cleanup(mock.Close)

	return mock
}

func (m *MockAuthServer) handleToken(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()

	m.mu.Lock()
	m.requestTimes = append(m.requestTimes, time.Now())
	m.lastAuth = r.Header.Get("Authorization")
	m.lastForm = r.PostForm
	status := m.statusCodes[0]
	if len(m.statusCodes) > 1 {
		m.statusCodes = m.statusCodes[1:]
	}
	gate := m.gate
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	if status != http.StatusOK {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":"invalid_client","error_description":"Invalid client"}`))
		return
	}

	m.mu.Lock()
	m.issued++
	response := map[string]any{
		"access_token": fmt.Sprintf("token-%d", m.issued),
		"token_type":   "Bearer",
		"expires_in":   m.expiresIn,
	}
	m.mu.Unlock()

	WriteJSON(w, response)
}

// TokenURL is the URL of the token endpoint.
func (m *MockAuthServer) TokenURL() string {
	return m.Server.URL + "/api/token"
}

// RespondWith sets the status codes for subsequent requests, in order. The
// last code is repeated for any further requests.
func (m *MockAuthServer) RespondWith(codes ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusCodes = codes
}

// SetExpiresIn sets the lifetime, in seconds, declared for issued tokens.
func (m *MockAuthServer) SetExpiresIn(seconds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expiresIn = seconds
}

// Hold makes subsequent requests block until the returned release function is
// called.
func (m *MockAuthServer) Hold() (release func()) {
	gate := make(chan struct{})

	m.mu.Lock()
	m.gate = gate
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.gate = nil
			m.mu.Unlock()
			close(gate)
		})
	}
}

// RequestCount is the number of requests received so far.
func (m *MockAuthServer) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requestTimes)
}

// RequestTimes returns the arrival time of each request.
func (m *MockAuthServer) RequestTimes() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Time(nil), m.requestTimes...)
}

// LastAuthorization returns the Authorization header of the last request.
func (m *MockAuthServer) LastAuthorization() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastAuth
}

// LastForm returns the form body of the last request.
func (m *MockAuthServer) LastForm() url.Values {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastForm
}

// Close shuts down the mock server.
func (m *MockAuthServer) Close() {
	m.Server.Close()
}

// MockResponse is a canned catalog API response.
type MockResponse struct {
	Status int
	Body   any
}

// RecordedRequest captures the parts of a catalog request tests assert on.
type RecordedRequest struct {
	Authorization string
	Query         url.Values
}

// MockCatalogServer is a catalog API. Responses are queued per path; the last
// queued response for a path repeats. Unconfigured paths return 404.
type MockCatalogServer struct {
	Server *httptest.Server

	mu        sync.Mutex
	responses map[string][]MockResponse
	requests  map[string][]RecordedRequest
}

func SetupMockCatalogServer(t *testing.T) *MockCatalogServer {
	t.Helper()

	mock := &MockCatalogServer{
		responses: map[string][]MockResponse{},
		requests:  map[string][]RecordedRequest{},
	}

	mock.Server = httptest.NewServer(http.HandlerFunc(mock.handle))
	t.Cleanup(mock.Close)

	return mock
}

func (m *MockCatalogServer) handle(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	m.mu.Lock()
	m.requests[path] = append(m.requests[path], RecordedRequest{
		Authorization: r.Header.Get("Authorization"),
		Query:         r.URL.Query(),
	})

	queue, ok := m.responses[path]
	var response MockResponse
	if ok {
		response = queue[0]
		if len(queue) > 1 {
			m.responses[path] = queue[1:]
		}
	}
	m.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"status":404,"message":"Not found."}}`))
		return
	}

	if response.Status != 0 && response.Status != http.StatusOK {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(response.Status)
		_, _ = w.Write([]byte(fmt.Sprintf(`{"error":{"status":%d,"message":"upstream detail"}}`, response.Status)))
		return
	}

	WriteJSON(w, response.Body)
}

// On queues responses for the given path.
func (m *MockCatalogServer) On(path string, responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[path] = responses
}

// Requests returns the requests received for the given path.
func (m *MockCatalogServer) Requests(path string) []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RecordedRequest(nil), m.requests[path]...)
}

// RequestCount is the number of requests received for the given path.
func (m *MockCatalogServer) RequestCount(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests[path])
}

// URL is the base URL of the catalog API.
func (m *MockCatalogServer) URL() string {
	return m.Server.URL
}

// Close shuts down the mock server.
func (m *MockCatalogServer) Close() {
	m.Server.Close()
}

// Paging builds an upstream paging object.
func Paging(items []any, total, limit, offset int) map[string]any {
	return map[string]any{
		"href":     "https://api.example.test/v1/paging",
		"items":    items,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
		"next":     nil,
		"previous": nil,
	}
}

// WriteJSON is a helper function that writes a JSON response.
// It sets the Content-Type header and marshals the payload to JSON.
func WriteJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(payload)
	if err != nil {
		// In test context, this should never happen with valid test data
		http.Error(w, fmt.Sprintf("failed to marshal JSON: %v", err), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(data)
}
