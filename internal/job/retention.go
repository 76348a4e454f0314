package job

import (
	"context"
	"log/slog"
	"time"

	"github.com/maauso/videoforge-api/internal/apperr"
	"github.com/maauso/videoforge-api/internal/metrics"
	"github.com/maauso/videoforge-api/internal/storage"
)

// StaleRemover deletes working files older than a cutoff.
type StaleRemover interface {
	RemoveStale(ctx context.Context, kind string, cutoff time.Time) ([]string, error)
}

// RetentionSweeper removes fallback videos kept after a failed upload once
// they are older than the retention period. Videos still being rendered are
// younger than any sensible period and are left alone.
type RetentionSweeper struct {
	files    StaleRemover
	maxAge   time.Duration
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewRetentionSweeper creates a sweeper. A maxAge of zero or less disables it.
func NewRetentionSweeper(files StaleRemover, maxAge, interval time.Duration, logger *slog.Logger, m *metrics.Metrics) *RetentionSweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &RetentionSweeper{
		files:    files,
		maxAge:   maxAge,
		interval: interval,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

// Enabled reports whether retained videos expire.
func (s *RetentionSweeper) Enabled() bool {
	return s != nil && s.maxAge > 0
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *RetentionSweeper) Run(ctx context.Context) {
	if !s.Enabled() {
		return
	}
	s.logger.Info("retained video sweeper started",
		slog.Duration("max_age", s.maxAge),
		slog.Duration("interval", s.interval),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.Sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep removes retained videos older than the retention period and returns
// how many were removed. Failures are logged as CLEANUP_ERRORs.
func (s *RetentionSweeper) Sweep(ctx context.Context) int {
	if !s.Enabled() {
		return 0
	}
	removed, err := s.files.RemoveStale(ctx, storage.BucketVideos, s.now().Add(-s.maxAge))
	if err != nil {
		cerr := apperr.Wrap(err, apperr.CodeCleanup, "job.retention", "sweep retained videos")
		s.logger.Warn("retained video sweep failed", slog.String("error", cerr.Error()))
		s.metrics.AddCleanupErrors(1)
	}
	if len(removed) > 0 {
		s.logger.Info("removed expired retained videos", slog.Int("count", len(removed)))
		s.metrics.AddRetainedRemoved(len(removed))
	}
	return len(removed)
}
