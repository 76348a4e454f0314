// Package bootstrap provides dependency initialization for the render API.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/maauso/videoforge-api/internal/config"
	"github.com/maauso/videoforge-api/internal/job"
	"github.com/maauso/videoforge-api/internal/jobstore"
	"github.com/maauso/videoforge-api/internal/media"
	"github.com/maauso/videoforge-api/internal/metrics"
	"github.com/maauso/videoforge-api/internal/render"
	"github.com/maauso/videoforge-api/internal/server"
	"github.com/maauso/videoforge-api/internal/speech"
	"github.com/maauso/videoforge-api/internal/storage"
)

// publicDirName is the OUTPUT_DIR subdirectory of the development object store.
const publicDirName = "public"

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	JobService *job.Service
	Metrics    *metrics.Metrics
	// Sweeper expires fallback videos retained under OutputDir.
	Sweeper *job.RetentionSweeper
	// OutputDir holds working files, including retained fallback videos.
	OutputDir string
	// PublicDir is set when published objects live on local disk.
	PublicDir string

	closers []func() error
}

// ServerConfig returns the router configuration for these dependencies.
func (d *Dependencies) ServerConfig() server.Config {
	cfg := server.DefaultConfig()
	cfg.OutputDir = d.OutputDir
	cfg.PublicDir = d.PublicDir
	cfg.Metrics = d.Metrics
	return cfg
}

// Close releases store connections in reverse order of creation.
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i]())
	}
	return errors.Join(errs...)
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Metrics:   metrics.New(),
		OutputDir: cfg.OutputDir,
	}

	files, err := storage.NewLocalStore(cfg.OutputDir, cfg.PublicHost)
	if err != nil {
		return nil, fmt.Errorf("create working storage: %w", err)
	}

	objects, err := deps.initObjectStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	store, linker, err := deps.initJobStore(ctx, cfg, logger)
	if err != nil {
		_ = deps.Close()
		return nil, err
	}

	speechClient, err := speech.NewClient(cfg.SpeechAPIURL, cfg.SpeechAPIKey)
	if err != nil {
		_ = deps.Close()
		return nil, fmt.Errorf("create speech client: %w", err)
	}

	engine, err := render.NewHTTPEngine(cfg.RenderEngineURL)
	if err != nil {
		_ = deps.Close()
		return nil, fmt.Errorf("create render engine client: %w", err)
	}
	renderer := render.NewOrchestrator(engine,
		render.WithEntryPoint(cfg.RenderEntryPoint),
		render.WithCompositionID(cfg.RenderCompositionID),
		render.WithConcurrency(cfg.RenderConcurrency),
		render.WithLogger(logger),
	)

	processor := media.NewFFmpegProcessor(cfg.FFmpegPath).WithFFprobePath(cfg.FFprobePath)

	narration := job.NewNarrationSynthesizer(speechClient, files, objects, processor, cfg.SpeechVoiceModel, logger, deps.Metrics)
	publisher := job.NewPublisher(objects, processor, linker, cfg.PublicHost, logger, deps.Metrics)
	cleanup := job.NewCleanup(files, objects, logger, deps.Metrics)

	deps.Sweeper = job.NewRetentionSweeper(files, cfg.RetainedVideoTTL, cfg.RetentionSweepInterval, logger, deps.Metrics)

	deps.JobService = job.NewService(store, renderer, narration, publisher, cleanup, files,
		job.WithLogger(logger),
		job.WithMetrics(deps.Metrics),
		job.WithProgressInterval(cfg.ProgressMinInterval),
	)
	return deps, nil
}

// initObjectStore returns S3 when configured, otherwise a local store under
// OUTPUT_DIR/public served by the HTTP server.
func (d *Dependencies) initObjectStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.ObjectStore, error) {
	if cfg.S3Enabled() {
		s3Store, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			KeyPrefix:       cfg.S3KeyPrefix,
			Endpoint:        cfg.S3Endpoint,
			PublicBaseURL:   cfg.S3PublicBaseURL,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 object storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
			slog.String("key_prefix", cfg.S3KeyPrefix),
		)
		return s3Store, nil
	}

	d.PublicDir = filepath.Join(cfg.OutputDir, publicDirName)
	local, err := storage.NewLocalStore(d.PublicDir, strings.TrimRight(cfg.PublicHost, "/")+server.PublicPrefix)
	if err != nil {
		return nil, fmt.Errorf("create local object storage: %w", err)
	}
	logger.Info("local object storage configured",
		slog.String("dir", d.PublicDir),
	)
	return local, nil
}

// initJobStore opens the configured job store. The returned linker is nil
// unless the store can reach the origin table.
func (d *Dependencies) initJobStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (job.Store, job.OriginLinker, error) {
	switch strings.ToLower(cfg.JobStore) {
	case config.JobStoreSQLite:
		s, err := jobstore.OpenSQLite(ctx, cfg.SQLiteFile())
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite job store: %w", err)
		}
		d.closers = append(d.closers, s.Close)
		logger.Info("sqlite job store configured", slog.String("path", cfg.SQLiteFile()))
		return s, nil, nil

	case config.JobStorePostgres:
		s, err := jobstore.OpenPostgres(ctx, cfg.DatabaseURL, cfg.OriginTable)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres job store: %w", err)
		}
		d.closers = append(d.closers, func() error { s.Close(); return nil })
		logger.Info("postgres job store configured", slog.String("origin_table", cfg.OriginTable))
		return s, s, nil

	case config.JobStoreRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		d.closers = append(d.closers, rdb.Close)
		logger.Info("redis job store configured",
			slog.String("addr", cfg.RedisAddr),
			slog.Duration("ttl", cfg.RedisJobTTL),
		)
		return jobstore.NewRedis(rdb, cfg.RedisJobTTL), nil, nil

	default:
		logger.Info("in-memory job store configured")
		return job.NewMemoryStore(), nil, nil
	}
}
