package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// Serve runs srv on ln until ctx is cancelled or the process receives SIGINT
// or SIGTERM. In-flight requests are then given up to timeout to complete,
// after which the shutdown hooks run.
func Serve(ctx context.Context, srv *http.Server, ln net.Listener, timeout time.Duration, hooks *ShutdownHooks) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Msg("server: listening")

		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		serverErr <- err
	}()

	select {
	case err := <-serverErr:
		// stopped without a shutdown request
		if hooks != nil {
			hooks.Execute(context.WithoutCancel(ctx))
		}
		if err != nil {
			return fmt.Errorf("server: serve failed: %w", err)
		}
		return nil

	case <-ctx.Done():
		log.Info().Msg("server: shutdown requested")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	shutdownErr := srv.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		log.Warn().Err(shutdownErr).Msg("server: in-flight requests did not complete before the deadline")
	}

	if hooks != nil {
		hooks.Execute(shutdownCtx)
	}

	if err := <-serverErr; err != nil {
		return fmt.Errorf("server: serve failed: %w", err)
	}

	if shutdownErr != nil {
		return fmt.Errorf("server: shutdown incomplete: %w", shutdownErr)
	}

	log.Info().Msg("server: shutdown complete")
	return nil
}
