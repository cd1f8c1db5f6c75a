// Package bootstrap provides dependency initialization for the longplay API.
package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/maauso/longplay/internal/config"
	"github.com/maauso/longplay/internal/job"
	"github.com/maauso/longplay/internal/media"
	"github.com/maauso/longplay/internal/storage"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	ExtendService *job.ExtendService
	Extender      *media.Extender
	Storage       storage.Storage
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	// Initialize storage
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	// Initialize the constructor pipeline
	prober := media.NewFFprobe(cfg.FFprobePath)
	manifests := media.NewManifestBuilder(store)
	supervisor := media.NewFFmpegSupervisor(cfg.FFmpegPath,
		media.WithStopGrace(cfg.StopGrace()),
		media.WithSupervisorLogger(logger),
	)
	extender := media.NewExtender(prober, manifests, supervisor, cfg.OutputDir,
		media.WithMaxRepeatCount(cfg.MaxRepeatCount),
		media.WithLogger(logger),
	)

	// Initialize job repository and service
	repo := job.NewMemoryRepository()
	svc := job.NewExtendService(repo, extender, store, logger,
		job.WithRetention(cfg.JobRetention()),
	)

	return &Dependencies{
		ExtendService: svc,
		Extender:      extender,
		Storage:       store,
	}, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Prefix:          cfg.S3Prefix,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
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
