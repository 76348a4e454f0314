// Package main provides the entry point for the render API server.
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

	"golang.org/x/sync/errgroup"

	"github.com/maauso/videoforge-api/internal/bootstrap"
	"github.com/maauso/videoforge-api/internal/config"
	"github.com/maauso/videoforge-api/internal/server"
)

// jobCancelGrace bounds cleanup of jobs cancelled at shutdown.
const jobCancelGrace = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}

	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Create structured logger
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting render API",
		slog.Int("port", cfg.Port),
		slog.String("public_host", cfg.PublicHost),
		slog.String("output_dir", cfg.OutputDir),
		slog.String("job_store", cfg.JobStore),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
	)
	logger.Debug("configuration", slog.String("config", cfg.String()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Warn("failed to close dependencies", slog.String("error", err.Error()))
		}
	}()

	handlers := server.NewHandlers(deps.JobService, logger)
	router := server.NewRouter(handlers, logger, deps.ServerConfig())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute, // Large artifacts are served from disk
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}

		// Accepted jobs keep running after the listener closes. Those still
		// running at the deadline are cancelled, cleaned up and marked failed.
		if err := deps.JobService.Shutdown(shutdownCtx, jobCancelGrace); err != nil {
			logger.Warn("in-flight jobs did not finish before shutdown timeout",
				slog.String("error", err.Error()),
			)
		}
		return nil
	})

	if deps.Sweeper.Enabled() {
		g.Go(func() error {
			deps.Sweeper.Run(gctx)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("server stopped gracefully")
	return nil
}
