package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/maauso/videoforge-api/internal/metrics"
	"github.com/maauso/videoforge-api/internal/storage"
)

// PublicPrefix is the route prefix of the development object store.
const PublicPrefix = "/public"

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
	// OutputDir holds the working files served at /{kind}/{file}.
	OutputDir string
	// PublicDir, when set, holds development objects served at /public/{bucket}/{file}.
	PublicDir string
	// Metrics, when set, is exposed at /metrics and records every request.
	Metrics *metrics.Metrics
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(
		RequestIDMiddleware,
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)
	if cfg.Metrics != nil {
		r.Use(metrics.RequestMiddleware(cfg.Metrics))
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Get("/health", h.Health)
	r.Post("/jobs", h.CreateJob)
	r.Get("/jobs/{id}", h.GetJob)

	buckets := []string{storage.BucketVideos, storage.BucketNarration, storage.BucketPosters}
	if cfg.PublicDir != "" {
		r.Get(PublicPrefix+"/{bucket}/{file}", ArtifactHandler(cfg.PublicDir, "bucket", buckets...))
	}
	if cfg.OutputDir != "" {
		r.Get("/{kind}/{file}", ArtifactHandler(cfg.OutputDir, "kind", buckets...))
	}

	return r
}
