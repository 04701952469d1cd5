package audit_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/soundline/catalog-bridge/internal/audit"
	"github.com/soundline/catalog-bridge/internal/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware(t *testing.T) {

	t.Run("captures request info and configures context", func(t *testing.T) {
		testhelpers.SetupLogger(t)

		testAgent := "kettle/1.0"
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			entry := audit.Log(r.Context())
			assert.Equal(t, testAgent, entry.UserAgent)
			assert.Equal(t, "/foo", entry.Path)

			w.WriteHeader(http.StatusTeapot)
		})

		middleware := audit.Middleware()(handler)

		req, w := requestSetup()
		req.Header.Set("User-Agent", testAgent)

		middleware.ServeHTTP(w, req)

		assert.Equal(t, http.StatusTeapot, w.Result().StatusCode)
	})

	t.Run("captures status code", func(t *testing.T) {
		testhelpers.SetupLogger(t)

		var capturedContext context.Context
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedContext = r.Context()
			w.WriteHeader(http.StatusTeapot)
		})

		req, w := requestSetup()

		audit.Middleware()(handler).ServeHTTP(w, req)

		entry := audit.Log(capturedContext)

		assert.Equal(t, http.StatusTeapot, w.Result().StatusCode)
		assert.Equal(t, http.StatusTeapot, entry.Status)
	})

	t.Run("implicit status on write", func(t *testing.T) {
		testhelpers.SetupLogger(t)

		var entry *audit.Entry
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			entry = audit.Log(r.Context())
			_, _ = w.Write([]byte("{}"))
		})

		req, w := requestSetup()
		audit.Middleware()(handler).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, entry.Status)
	})

	t.Run("assigns request id", func(t *testing.T) {
		testhelpers.SetupLogger(t)

		var entry *audit.Entry
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			entry = audit.Log(r.Context())
		})

		req, w := requestSetup()
		audit.Middleware()(handler).ServeHTTP(w, req)

		_, err := uuid.Parse(entry.RequestID)
		require.NoError(t, err)
		assert.Equal(t, entry.RequestID, w.Header().Get(audit.RequestIDHeader))
	})

	t.Run("keeps valid caller request id", func(t *testing.T) {
		testhelpers.SetupLogger(t)

		callerID := uuid.NewString()

		var entry *audit.Entry
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			entry = audit.Log(r.Context())
		})

		req, w := requestSetup()
		req.Header.Set(audit.RequestIDHeader, callerID)
		audit.Middleware()(handler).ServeHTTP(w, req)

		assert.Equal(t, callerID, entry.RequestID)
		assert.Equal(t, callerID, w.Header().Get(audit.RequestIDHeader))
	})

	t.Run("replaces malformed caller request id", func(t *testing.T) {
		testhelpers.SetupLogger(t)

		var entry *audit.Entry
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			entry = audit.Log(r.Context())
		})

		req, w := requestSetup()
		req.Header.Set(audit.RequestIDHeader, "<script>")
		audit.Middleware()(handler).ServeHTTP(w, req)

		assert.NotEqual(t, "<script>", entry.RequestID)
		_, err := uuid.Parse(entry.RequestID)
		assert.NoError(t, err)
	})

	t.Run("log written", func(t *testing.T) {
		testhelpers.SetupLogger(t)

		auditWritten := false

		ctx := withLogHook(
			context.Background(),
			zerolog.HookFunc(func(e *zerolog.Event, level zerolog.Level, msg string) {
				if level == audit.Level && msg == "request" {
					auditWritten = true
				}
			}),
		)

		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		})

		req, w := requestSetup()

		audit.Middleware()(handler).ServeHTTP(w, req.WithContext(ctx))

		assert.True(t, auditWritten, "audit log entry should be written")
	})

	t.Run("log written on panic", func(t *testing.T) {
		testhelpers.SetupLogger(t)

		auditWritten := false

		ctx := withLogHook(
			context.Background(),
			zerolog.HookFunc(func(e *zerolog.Event, level zerolog.Level, msg string) {
				if level == audit.Level && msg == "request" {
					auditWritten = true
				}
			}),
		)

		var entry *audit.Entry

		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, entry = audit.Context(r.Context())
			entry.AppendError("failure pre-panic")
			panic("not a teapot")
		})

		middleware := audit.Middleware()(handler)

		req, w := requestSetup()

		assert.PanicsWithValue(t, "not a teapot", func() {
			// the middleware re-raises the panic after logging
			middleware.ServeHTTP(w, req.WithContext(ctx))
		})

		assert.Equal(t, "failure pre-panic; panic: not a teapot", entry.Error)
		assert.True(t, auditWritten, "audit log entry should be written")
	})
}

func TestAuditing(t *testing.T) {
	testhelpers.SetupLogger(t)

	ctx := context.Background()
	r, _ := requestSetup()

	_, e := audit.Context(ctx)
	e.Begin(r)
	e.End(ctx)()

	assert.NotEmpty(t, e.SourceIP)
	assert.NotEmpty(t, e.RequestID)

	assert.Equal(t, "GET", e.Method)
	assert.Equal(t, "/foo", e.Path)
	assert.Equal(t, "kettle/1.0", e.UserAgent)
	assert.Equal(t, http.StatusOK, e.Status)
}

func TestLog_OutsideRequest(t *testing.T) {
	entry := audit.Log(context.Background())
	require.NotNil(t, entry)

	// writes to a detached entry are harmless
	entry.Strategy = "static"
}

func requestSetup() (*http.Request, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodGet, "http://example.com/foo", nil)
	req.Header.Set("User-Agent", "kettle/1.0")

	w := httptest.NewRecorder()

	return req, w
}

func withLogHook(ctx context.Context, hook zerolog.HookFunc) context.Context {
	testLog := log.Logger.With().Logger().Hook(hook)
	return testLog.WithContext(ctx)
}

func serialize(t *testing.T, entry audit.Entry) map[string]any {
	t.Helper()

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	logger.Log().EmbedObject(&entry).Send()

	var result map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &result))
	return result
}

func TestNestedDictSerialization(t *testing.T) {
	testhelpers.SetupLogger(t)

	result := serialize(t, audit.Entry{
		Method:         "GET",
		Path:           "/catalog/items/a1",
		Route:          "GET /catalog/items/{id}",
		Status:         404,
		SourceIP:       "10.0.0.1",
		UserAgent:      "test/1.0",
		RequestID:      "5f0c2bd4-5a5e-4a57-9a43-7d3f1d0e8a11",
		Operation:      "album",
		UpstreamStatus: 404,
	})

	t.Run("request fields nested", func(t *testing.T) {
		request, ok := result["request"].(map[string]any)
		require.True(t, ok, "expected 'request' dict in log output")
		assert.Equal(t, "GET", request["method"])
		assert.Equal(t, "/catalog/items/a1", request["path"])
		assert.Equal(t, "GET /catalog/items/{id}", request["route"])
		assert.Equal(t, float64(404), request["status"])
		assert.Equal(t, "10.0.0.1", request["sourceIP"])
		assert.Equal(t, "test/1.0", request["userAgent"])
		assert.Equal(t, "5f0c2bd4-5a5e-4a57-9a43-7d3f1d0e8a11", request["requestID"])
	})

	t.Run("catalog fields nested", func(t *testing.T) {
		catalog, ok := result["catalog"].(map[string]any)
		require.True(t, ok, "expected 'catalog' dict in log output")
		assert.Equal(t, "album", catalog["operation"])
		assert.Equal(t, float64(404), catalog["upstreamStatus"])
		assert.NotContains(t, catalog, "strategy")
	})

	t.Run("error omitted when empty", func(t *testing.T) {
		assert.NotContains(t, result, "error")
	})

	t.Run("error present when set", func(t *testing.T) {
		errResult := serialize(t, audit.Entry{Error: "something broke"})
		assert.Equal(t, "something broke", errResult["error"])
	})
}

func TestOptionalDictElision(t *testing.T) {
	testhelpers.SetupLogger(t)

	t.Run("empty entry has only the request dict", func(t *testing.T) {
		result := serialize(t, audit.Entry{})
		assert.Contains(t, result, "request", "request dict is always present")
		assert.NotContains(t, result, "catalog")
		assert.NotContains(t, result, "error")
	})

	t.Run("catalog present when strategy set", func(t *testing.T) {
		result := serialize(t, audit.Entry{Strategy: "static"})
		catalog, ok := result["catalog"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "static", catalog["strategy"])
	})

	t.Run("optional request fields omitted", func(t *testing.T) {
		result := serialize(t, audit.Entry{Method: "GET"})
		request := result["request"].(map[string]any)
		assert.NotContains(t, request, "route")
		assert.NotContains(t, request, "requestID")
		assert.NotContains(t, request, "durationMs")
	})
}

func TestAppendError(t *testing.T) {
	e := &audit.Entry{}
	e.AppendError("first")
	e.AppendError("second")

	assert.Equal(t, "first; second", e.Error)
}
