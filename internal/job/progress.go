package job

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"
)

// DefaultProgressInterval is the minimum spacing between throttled progress writes.
const DefaultProgressInterval = time.Second

// Range is the slice of the 0-100 progress scale owned by one stage.
type Range struct {
	Start int
	End   int
}

// Progress ranges per stage.
var (
	RangeBundling   = Range{Start: 0, End: 5}
	RangeNarration  = Range{Start: 5, End: 30}
	RangeRendering  = Range{Start: 30, End: 90}
	RangeUploading  = Range{Start: 90, End: 95}
	RangeFinalizing = Range{Start: 95, End: 100}
)

// At maps a fraction in [0,1] onto the range. Out-of-range fractions are clamped.
func (r Range) At(fraction float64) int {
	if math.IsNaN(fraction) || fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	return r.Start + int(math.Floor(float64(r.End-r.Start)*fraction))
}

// Tracker records a single job's stage and progress in the Store.
// Progress never decreases. Advance writes are throttled; stage and
// terminal writes are not. Store failures are logged and swallowed.
type Tracker struct {
	store       Store
	jobID       string
	logger      *slog.Logger
	minInterval time.Duration
	now         func() time.Time

	mu        sync.Mutex
	stage     Stage
	progress  int
	label     string
	lastWrite time.Time
	written   int
}

// NewTracker creates a tracker for a job that is currently queued.
func NewTracker(store Store, jobID string, logger *slog.Logger, minInterval time.Duration) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if minInterval <= 0 {
		minInterval = DefaultProgressInterval
	}
	return &Tracker{
		store:       store,
		jobID:       jobID,
		logger:      logger.With(slog.String("job_id", jobID)),
		minInterval: minInterval,
		now:         time.Now,
		stage:       StageQueued,
		written:     -1,
	}
}

// Stage moves the job to stage and writes progress immediately.
// Returns ErrInvalidTransition if the move is not allowed.
func (t *Tracker) Stage(ctx context.Context, stage Stage, progress int, label string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !CanTransition(t.stage, stage) {
		return ErrInvalidTransition
	}
	t.stage = stage
	t.raise(progress, label)
	t.write(ctx, Patch{
		Status:        Ptr(stage.Status()),
		Stage:         Ptr(stage),
		Progress:      Ptr(t.progress),
		ProgressLabel: Ptr(t.label),
	})
	return nil
}

// Advance raises progress within the current stage. The write is skipped
// when the previous one happened less than the minimum interval ago or
// nothing changed.
func (t *Tracker) Advance(ctx context.Context, progress int, label string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stage.IsTerminal() {
		return
	}
	changed := t.raise(progress, label)
	if !changed {
		return
	}
	if !t.lastWrite.IsZero() && t.now().Sub(t.lastWrite) < t.minInterval {
		return
	}
	t.write(ctx, Patch{
		Progress:      Ptr(t.progress),
		ProgressLabel: Ptr(t.label),
	})
}

// Complete writes the completed terminal state.
func (t *Tracker) Complete(ctx context.Context, videoURL string, metadata map[string]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !CanTransition(t.stage, StageCompleted) {
		return ErrInvalidTransition
	}
	t.stage = StageCompleted
	t.progress = 100
	t.label = "Completed"
	t.write(ctx, Patch{
		Status:        Ptr(StatusCompleted),
		Stage:         Ptr(StageCompleted),
		Progress:      Ptr(100),
		ProgressLabel: Ptr(t.label),
		VideoURL:      Ptr(videoURL),
		Metadata:      metadata,
		CompletedAt:   Ptr(t.now()),
	})
	return nil
}

// Fail writes the failed terminal state with cause's message. Progress is
// kept at its last value. Fail on an already terminal job is a no-op.
func (t *Tracker) Fail(ctx context.Context, cause error, metadata map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stage.IsTerminal() {
		return
	}
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	t.stage = StageFailed
	t.label = "Failed"
	t.write(ctx, Patch{
		Status:        Ptr(StatusFailed),
		Stage:         Ptr(StageFailed),
		Progress:      Ptr(t.progress),
		ProgressLabel: Ptr(t.label),
		Error:         Ptr(msg),
		Metadata:      metadata,
		CompletedAt:   Ptr(t.now()),
	})
}

// Snapshot returns the tracker's current stage and progress.
func (t *Tracker) Snapshot() (Stage, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stage, t.progress
}

// raise applies the monotonic rule and reports whether anything changed.
// Must be called with t.mu held.
func (t *Tracker) raise(progress int, label string) bool {
	progress = clampProgress(progress)
	if progress < t.progress {
		progress = t.progress
	}
	changed := progress != t.written || (label != "" && label != t.label)
	t.progress = progress
	if label != "" {
		t.label = label
	}
	return changed
}

// write persists p. Must be called with t.mu held.
func (t *Tracker) write(ctx context.Context, p Patch) {
	t.lastWrite = t.now()
	t.written = t.progress
	if err := t.store.Update(ctx, t.jobID, p); err != nil {
		t.logger.Warn("failed to persist job progress",
			slog.String("stage", string(t.stage)),
			slog.Int("progress", t.progress),
			slog.String("error", err.Error()),
		)
	}
}
