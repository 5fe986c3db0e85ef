package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Tyrowin/pushgate/internal/logging"
)

// CreateServer returns an http.Server for handler with production timeouts.
// Upgraded push channels are hijacked and manage their own deadlines.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// StartServer blocks serving srv. A graceful shutdown is not an error.
func StartServer(srv *http.Server, log logging.Logger) error {
	log.Info(context.Background(), "server listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ShutdownServer stops accepting requests and waits for in-flight ones to
// finish or the timeout to pass.
func ShutdownServer(srv *http.Server, timeout time.Duration, log logging.Logger) error {
	log.Info(context.Background(), "shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error(ctx, "HTTP server shutdown failed", "error", err)
		return err
	}

	log.Info(ctx, "HTTP server shutdown completed")
	return nil
}
