package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skobkin/devlink/internal/config"
	"github.com/skobkin/devlink/internal/devsim"
	"github.com/skobkin/devlink/internal/logging"
)

const shutdownTimeout = 5 * time.Second

func main() {
	listen := flag.String("listen", ":8080", "address to listen on")
	path := flag.String("path", "/", "WebSocket endpoint path")
	silent := flag.Bool("silent", false, "never answer pings, to exercise heartbeat timeouts")
	logLevel := flag.String("log-level", "info", "debug, info, warn or error")
	flag.Parse()

	if err := run(*listen, *path, *silent, *logLevel); err != nil {
		slog.Error("run devsim", "error", err)
		os.Exit(1)
	}
}

func run(listen, path string, silent bool, logLevel string) error {
	logs := logging.NewManagerWithOutput(os.Stderr)
	if err := logs.Configure(config.LoggingConfig{Level: logLevel}, ""); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer func() { _ = logs.Close() }()
	logger := logs.Logger("devsim")

	mux := http.NewServeMux()
	handler := devsim.NewHandler(devsim.Options{Logger: logger, Silent: silent})
	mux.Handle(path, handler)
	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", listen, "path", path, "silent", silent)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}

		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	// Hijacked WebSocket connections are not tracked by Shutdown.
	handler.Disconnect(1001, "server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	return nil
}
