// Package bootstrap provides dependency initialization for the AudioCut API.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/maauso/audiocut-api/internal/config"
	"github.com/maauso/audiocut-api/internal/decode"
	"github.com/maauso/audiocut-api/internal/job"
	"github.com/maauso/audiocut-api/internal/metrics"
	"github.com/maauso/audiocut-api/internal/storage"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	SplitService *job.SplitService
	Metrics      *metrics.Metrics
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	store, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	m := metrics.New(prometheus.NewRegistry())

	svc := job.NewSplitService(
		job.NewMemoryRepository(),
		store,
		NewRegistry(cfg, logger),
		logger,
		job.WithConcurrency(cfg.MaxConcurrentExports),
		job.WithObserver(m),
		job.WithRecorder(m),
	)

	return &Dependencies{
		SplitService: svc,
		Metrics:      m,
	}, nil
}

// NewRegistry builds the decoder registry, with the ffmpeg fallback when
// configured.
func NewRegistry(cfg *config.Config, logger *slog.Logger) *decode.Registry {
	opts := []decode.RegistryOption{decode.WithLogger(logger)}
	if cfg.FFmpegEnabled() {
		opts = append(opts, decode.WithFallback(decode.NewFFmpegDecoder(cfg.FFmpegPath)))
		logger.Info("ffmpeg fallback decoder enabled",
			slog.String("ffmpeg_path", cfg.FFmpegPath),
		)
	}
	return decode.NewRegistry(opts...)
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Prefix:          cfg.S3Prefix,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(ctx, cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
			slog.String("endpoint", cfg.S3Endpoint),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
	)
	return localStore, nil
}
