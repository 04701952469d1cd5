package audit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Level is the level at which request entries are written.
const Level = zerolog.InfoLevel

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-Id"

type key struct{}

var logKey = key{}

// Entry is the request log record. One is written per request when the
// request completes, including when the handler panics.
type Entry struct {
	Method    string
	Path      string
	Route     string
	Status    int
	SourceIP  string
	UserAgent string
	RequestID string
	Duration  time.Duration

	// Operation is the catalog operation the request performed.
	Operation string
	// Strategy is the fallback strategy that produced a browse response.
	Strategy string
	// UpstreamStatus is the catalog API status of a failed call.
	UpstreamStatus int

	Error string

	started time.Time
}

// MarshalZerologObject groups the entry fields into "request" and, when
// populated, "catalog" dictionaries.
func (e *Entry) MarshalZerologObject(event *zerolog.Event) {
	request := zerolog.Dict().
		Str("method", e.Method).
		Str("path", e.Path).
		Int("status", e.Status).
		Str("sourceIP", e.SourceIP).
		Str("userAgent", e.UserAgent)
	if e.Route != "" {
		request.Str("route", e.Route)
	}
	if e.RequestID != "" {
		request.Str("requestID", e.RequestID)
	}
	if e.Duration > 0 {
		request.Dur("durationMs", e.Duration)
	}
	event.Dict("request", request)

	catalog := NewOptionalEvent(nil).
		Str("operation", e.Operation).
		Str("strategy", e.Strategy).
		Int("upstreamStatus", e.UpstreamStatus)
	catalog.Set(event, "catalog")

	if e.Error != "" {
		event.Str("error", e.Error)
	}
}

// AppendError adds an error message to the entry, keeping earlier ones.
func (e *Entry) AppendError(message string) {
	if e.Error == "" {
		e.Error = message
		return
	}
	e.Error = e.Error + "; " + message
}

// Begin captures the request details and assigns the request id: the
// caller's, when it is a valid UUID, otherwise a new one.
func (e *Entry) Begin(r *http.Request) {
	e.started = time.Now()

	e.Method = r.Method
	e.Path = r.URL.Path
	e.Route = r.Pattern
	e.UserAgent = r.UserAgent()

	e.SourceIP = r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		e.SourceIP = host
	}

	e.RequestID = uuid.NewString()
	if id, err := uuid.Parse(r.Header.Get(RequestIDHeader)); err == nil {
		e.RequestID = id.String()
	}
}

// End returns a function to be deferred that writes the entry. A panic in the
// handler is recorded on the entry, then re-raised once the entry is written.
func (e *Entry) End(ctx context.Context) func() {
	return func() {
		if r := recover(); r != nil {
			e.AppendError(fmt.Sprintf("panic: %v", r))
			defer panic(r)
		}

		if e.Status == 0 {
			e.Status = http.StatusOK
		}
		if !e.started.IsZero() {
			e.Duration = time.Since(e.started)
		}

		zerolog.Ctx(ctx).WithLevel(Level).EmbedObject(e).Msg("request")
	}
}

// Context returns the entry stored in the context, creating and storing a new
// one if there is none.
func Context(ctx context.Context) (context.Context, *Entry) {
	if e, ok := ctx.Value(logKey).(*Entry); ok {
		return ctx, e
	}

	e := &Entry{}
	return context.WithValue(ctx, logKey, e), e
}

// Log returns the entry for the current request. Outside a request a detached
// entry is returned so callers never need to check.
func Log(ctx context.Context) *Entry {
	_, e := Context(ctx)
	return e
}

// Middleware writes one entry per request and makes it available to handlers
// via Log. The request id is echoed in the response and attached to the
// request's logger and span.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, entry := Context(r.Context())
			entry.Begin(r)

			logger := zerolog.Ctx(ctx).With().Str("requestID", entry.RequestID).Logger()
			ctx = logger.WithContext(ctx)

			trace.SpanFromContext(ctx).SetAttributes(attribute.String("request.id", entry.RequestID))

			w.Header().Set(RequestIDHeader, entry.RequestID)

			defer entry.End(ctx)()

			next.ServeHTTP(&statusRecorder{ResponseWriter: w, entry: entry}, r.WithContext(ctx))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	entry *Entry
}

func (s *statusRecorder) WriteHeader(status int) {
	if s.entry.Status == 0 {
		s.entry.Status = status
	}
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.entry.Status == 0 {
		s.entry.Status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
