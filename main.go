package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/justinas/alice"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/soundline/catalog-bridge/internal/admin"
	"github.com/soundline/catalog-bridge/internal/audit"
	"github.com/soundline/catalog-bridge/internal/cache"
	"github.com/soundline/catalog-bridge/internal/catalog"
	"github.com/soundline/catalog-bridge/internal/config"
	"github.com/soundline/catalog-bridge/internal/fallback"
	"github.com/soundline/catalog-bridge/internal/observe"
	"github.com/soundline/catalog-bridge/internal/server"
	"github.com/soundline/catalog-bridge/internal/token"
)

func configureServerRoutes(cfg config.Config, tokens *token.Manager, hooks *server.ShutdownHooks) (http.Handler, error) {
	// wrap a mux such that HTTP telemetry is configured by default
	muxWithoutTelemetry := http.NewServeMux()
	mux := observe.NewMux(muxWithoutTelemetry)

	// configure middleware
	auditor := audit.Middleware()

	// Only query parameters are read, so request bodies are kept small.
	requestLimitBytes := int64(20 << 10) // 20 KB
	requestLimiter := maxRequestSize(requestLimitBytes)

	catalogRouteMiddleware := alice.New(requestLimiter, auditor)
	adminRouteMiddleware := alice.New(requestLimiter, auditor, noStore)
	standardRouteMiddleware := alice.New(requestLimiter)

	// upstream access
	entityCache, err := cache.NewMemory[json.RawMessage](cfg.Catalog.CacheTTL, cfg.Catalog.CacheMaxSize)
	if err != nil {
		return nil, fmt.Errorf("entity cache configuration failed: %w", err)
	}
	hooks.AddClose("entity-cache", entityCache)

	broker := catalog.New(cfg.Catalog, tokens,
		catalog.WithEntityCache(cache.NewInstrumented[json.RawMessage](entityCache, "entities")),
	)

	static, err := fallback.LoadCatalog()
	if err != nil {
		return nil, fmt.Errorf("fallback catalog load failed: %w", err)
	}
	browser := fallback.New(broker, static, tokens.Configured())

	catalogRoutes(mux, catalogRouteMiddleware, broker, browser)
	adminRoutes(mux, adminRouteMiddleware, admin.New(tokens, broker))

	// healthchecks are not included in telemetry or auditing
	muxWithoutTelemetry.Handle("GET /healthcheck", standardRouteMiddleware.Then(handleHealthCheck()))

	log.Debug().Strs("routes", mux.Routes()).Msg("routes configured")

	return mux, nil
}

func main() {
	configureLogging()

	logBuildInfo()

	err := launchServer()
	if err != nil {
		log.Fatal().Err(err).Msg("server failed to start")
	}
}

func launchServer() error {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	// configure telemetry, including wrapping default HTTP client
	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}

	http.DefaultTransport = observe.HTTPTransport(
		configureHTTPTransport(cfg.Server),
		cfg.Observe,
	)
	http.DefaultClient = &http.Client{
		Transport: http.DefaultTransport,
	}

	hooks := &server.ShutdownHooks{}

	// the token manager uses the instrumented default client
	tokens := token.New(cfg.Catalog)
	if !tokens.Configured() {
		log.Warn().Msg("catalog credentials are not configured: serving fallback data only")
	}

	renewCtx, stopRenewal := context.WithCancel(ctx)
	go tokens.Run(renewCtx)
	hooks.AddCancel("token-renewal", stopRenewal)

	// setup routing and dependencies
	handler, err := configureServerRoutes(cfg, tokens, hooks)
	if err != nil {
		stopRenewal()
		return fmt.Errorf("server routing configuration failed: %w", err)
	}

	// telemetry is flushed last so the other hooks are still recorded
	hooks.AddContext("telemetry", shutdownTelemetry)

	// start the server
	srv := &http.Server{
		Handler:           handler,
		MaxHeaderBytes:    20 << 10,         // 20 KB
		ReadHeaderTimeout: 20 * time.Second, // Prevent Slowloris attacks
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
	if err != nil {
		stopRenewal()
		return fmt.Errorf("listen failed: %w", err)
	}

	timeout := time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second
	err = server.Serve(ctx, srv, ln, timeout, hooks)
	if err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func configureLogging() {
	// Set global level to the minimum: allows the Open Telemetry logging to be
	// configured separately. However, it means that any logger that sets its
	// level will log as this effectively disables the global level.
	zerolog.SetGlobalLevel(zerolog.Level(-128))

	// default level is Info
	log.Logger = log.Level(zerolog.InfoLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Info().Str("version", admin.Version())
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}

	ev.Msg("build information")
}

func configureHTTPTransport(cfg config.ServerConfig) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	transport.MaxIdleConns = cfg.OutgoingHTTPMaxIdleConns
	transport.MaxConnsPerHost = cfg.OutgoingHTTPMaxConnsPerHost

	return transport
}
