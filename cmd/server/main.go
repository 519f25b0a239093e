// Package main runs the AudioCut HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maauso/audiocut-api/internal/bootstrap"
	"github.com/maauso/audiocut-api/internal/config"
	"github.com/maauso/audiocut-api/internal/server"
)

const shutdownTimeout = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting AudioCut API",
		slog.Int("port", cfg.Port),
		slog.String("temp_dir", cfg.TempDir),
		slog.Int("max_concurrent_exports", cfg.MaxConcurrentExports),
		slog.Int64("max_upload_bytes", cfg.MaxUploadBytes),
		slog.Bool("ffmpeg_fallback", cfg.FFmpegEnabled()),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
	)
	logger.Debug("configuration loaded", slog.String("config", cfg.String()))

	deps, err := bootstrap.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}

	srv := newHTTPServer(cfg, deps, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	// The signal context is already done; shutdown gets its own deadline.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func newHTTPServer(cfg *config.Config, deps *bootstrap.Dependencies, logger *slog.Logger) *http.Server {
	handlers := server.NewHandlers(deps.SplitService, logger)
	router := server.NewRouter(handlers, logger, server.Config{
		AllowedOrigins: cfg.AllowedOrigins,
		MaxBodyBytes:   cfg.MaxUploadBytes,
		Metrics:        deps.Metrics,
	})

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second, // base64 uploads
		WriteTimeout:      300 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
}
