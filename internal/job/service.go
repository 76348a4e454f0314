package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/maauso/videoforge-api/internal/job/id"
	"github.com/maauso/videoforge-api/internal/manifest"
	"github.com/maauso/videoforge-api/internal/metrics"
	"github.com/maauso/videoforge-api/internal/render"
	"github.com/maauso/videoforge-api/internal/storage"
)

// ErrShuttingDown is the cause recorded for jobs cancelled by Shutdown.
var ErrShuttingDown = errors.New("service shutting down")

// Renderer bundles and renders compositions.
type Renderer interface {
	Bundle(ctx context.Context) (string, error)
	Plan(m *manifest.Manifest, analysis json.RawMessage) render.Plan
	Render(ctx context.Context, bundle string, plan render.Plan, outputPath string, onProgress func(float64)) error
}

// SubmitInput contains the input parameters for a render job.
type SubmitInput struct {
	// Manifest is the loosely-typed media manifest.
	Manifest json.RawMessage
	// Analysis is passed to the composition untouched.
	Analysis json.RawMessage
	// OriginID identifies the upstream record to link the video to.
	OriginID string
}

// SubmitOutput contains the handle of an accepted job.
type SubmitOutput struct {
	JobID  string
	Status Status
}

// Service accepts render jobs and runs each one in its own goroutine:
// bundle, narration, render, publish, with cleanup deferred around the
// whole pipeline.
type Service struct {
	store            Store
	renderer         Renderer
	narration        *NarrationSynthesizer
	publisher        *Publisher
	cleanup          *Cleanup
	files            storage.TempStore
	logger           *slog.Logger
	metrics          *metrics.Metrics
	progressInterval time.Duration
	async            bool
	newID            func() string

	wg      sync.WaitGroup
	mu      sync.Mutex
	running map[string]context.CancelCauseFunc
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithProgressInterval sets the minimum spacing of throttled progress writes.
func WithProgressInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.progressInterval = d
		}
	}
}

// WithAsyncProcessing enables or disables background processing.
// When disabled, Submit runs the pipeline before returning.
func WithAsyncProcessing(enabled bool) Option {
	return func(s *Service) {
		s.async = enabled
	}
}

// WithIDGenerator overrides job ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewService creates a new Service. narration may be nil, in which case
// scenes without audio are rendered silent.
func NewService(
	store Store,
	renderer Renderer,
	narration *NarrationSynthesizer,
	publisher *Publisher,
	cleanup *Cleanup,
	files storage.TempStore,
	opts ...Option,
) *Service {
	s := &Service{
		store:            store,
		renderer:         renderer,
		narration:        narration,
		publisher:        publisher,
		cleanup:          cleanup,
		files:            files,
		logger:           slog.Default(),
		progressInterval: DefaultProgressInterval,
		async:            true,
		newID:            id.Generate,
		running:          make(map[string]context.CancelCauseFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit normalizes the manifest, records a new job and starts processing it.
// A manifest that fails normalization is rejected with a VALIDATION_ERROR
// before any job is created.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*SubmitOutput, error) {
	m, err := manifest.Normalize(in.Manifest)
	if err != nil {
		return nil, err
	}

	jobID := s.newID()
	logger := s.logger.With(slog.String("job_id", jobID))

	if unknown := m.UnknownComponentTypes(); len(unknown) > 0 {
		logger.Warn("manifest has unknown component types, passing through",
			slog.Any("types", unknown),
		)
	}

	err = s.store.Upsert(ctx, jobID, Patch{
		Status:        Ptr(StatusProcessing),
		Stage:         Ptr(StageQueued),
		Progress:      Ptr(0),
		ProgressLabel: Ptr("Queued"),
		OriginID:      Ptr(in.OriginID),
		Metadata: map[string]any{
			"manifestId":      m.Meta.ID,
			"scenes":          len(m.Scenes),
			"durationSeconds": m.TotalDurationSeconds(),
		},
	})
	if err != nil {
		logger.Error("failed to save job", slog.String("error", err.Error()))
		return nil, fmt.Errorf("create job: %w", err)
	}

	s.metrics.JobStarted()
	logger.Info("job accepted",
		slog.Int("scenes", len(m.Scenes)),
		slog.String("origin_id", in.OriginID),
	)

	// The pipeline outlives the request that submitted it; only Shutdown
	// cancels it.
	jobCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.running[jobID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	run := func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.running, jobID)
			s.mu.Unlock()
			cancel(nil)
		}()
		s.run(jobCtx, jobID, m, in.Analysis, in.OriginID)
	}
	if s.async {
		go run()
	} else {
		run()
	}

	return &SubmitOutput{JobID: jobID, Status: StatusProcessing}, nil
}

// GetJob retrieves a job by ID.
func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.store.Get(ctx, id)
}

// Wait blocks until every running job has finished or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running returns the sorted IDs of jobs whose pipeline has not finished.
func (s *Service) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.running))
	for id := range s.running {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Shutdown waits for running jobs until ctx is done. Jobs still running then
// are cancelled with ErrShuttingDown and get up to grace to clean up and
// record their failure. It returns nil only if every job finished on its own.
func (s *Service) Shutdown(ctx context.Context, grace time.Duration) error {
	if err := s.Wait(ctx); err == nil {
		return nil
	}

	ids := s.Running()
	s.logger.Warn("cancelling jobs still running at shutdown",
		slog.Int("count", len(ids)),
		slog.Any("job_ids", ids),
	)
	s.mu.Lock()
	for _, cancel := range s.running {
		cancel(ErrShuttingDown)
	}
	s.mu.Unlock()

	graceCtx, stop := context.WithTimeout(context.Background(), grace)
	defer stop()
	if err := s.Wait(graceCtx); err != nil {
		left := s.Running()
		s.logger.Error("jobs did not stop after cancellation",
			slog.Int("count", len(left)),
			slog.Any("job_ids", left),
		)
		return fmt.Errorf("%w: %d jobs abandoned", ErrShuttingDown, len(left))
	}
	return fmt.Errorf("%w: cancelled %d jobs", ErrShuttingDown, len(ids))
}

// outcome collects the non-fatal results of a pipeline run.
type outcome struct {
	narration NarrationReport
	publish   PublishResult
}

func (o outcome) metadata() map[string]any {
	md := o.narration.Metadata()
	maps.Copy(md, o.publish.Metadata())
	return md
}

// run executes the pipeline inside a cleanup scope and records the terminal
// state once cleanup has finished. Cleanup and the terminal write use a
// context that survives cancellation of ctx.
func (s *Service) run(ctx context.Context, jobID string, m *manifest.Manifest, analysis json.RawMessage, originID string) {
	logger := s.logger.With(slog.String("job_id", jobID))
	tracker := NewTracker(s.store, jobID, s.logger, s.progressInterval)
	started := time.Now()
	finalCtx := context.WithoutCancel(ctx)

	var out outcome
	err := s.cleanup.Scope(finalCtx, jobID, func(ledger *Ledger) error {
		return s.execute(ctx, jobID, m, analysis, originID, tracker, ledger, &out)
	})
	if err != nil && errors.Is(context.Cause(ctx), ErrShuttingDown) {
		err = fmt.Errorf("%w: %w", ErrShuttingDown, err)
	}
	if err == nil {
		err = tracker.Complete(finalCtx, out.publish.VideoURL, out.metadata())
	}
	if err != nil {
		stage, progress := tracker.Snapshot()
		logger.Error("job failed",
			slog.String("stage", string(stage)),
			slog.Int("progress", progress),
			slog.String("error", err.Error()),
		)
		tracker.Fail(finalCtx, err, out.metadata())
		s.metrics.JobFinished(string(StatusFailed))
		return
	}

	s.metrics.JobFinished(string(StatusCompleted))
	logger.Info("job completed",
		slog.String("video_url", out.publish.VideoURL),
		slog.Duration("elapsed", time.Since(started)),
	)
}

// execute walks the stages. Any returned error is fatal to the job.
func (s *Service) execute(
	ctx context.Context,
	jobID string,
	m *manifest.Manifest,
	analysis json.RawMessage,
	originID string,
	tracker *Tracker,
	ledger *Ledger,
	out *outcome,
) error {
	if err := tracker.Stage(ctx, StageBundling, RangeBundling.Start, "Bundling composition"); err != nil {
		return err
	}
	bundle, err := s.renderer.Bundle(ctx)
	if err != nil {
		return err
	}
	tracker.Advance(ctx, RangeBundling.End, "Composition bundled")

	if err := tracker.Stage(ctx, StageSynthesizing, RangeNarration.Start, "Synthesizing narration"); err != nil {
		return err
	}
	if s.narration != nil {
		out.narration = s.narration.Synthesize(ctx, jobID, m, ledger, func(done, total int) {
			tracker.Advance(ctx, RangeNarration.At(float64(done)/float64(total)),
				fmt.Sprintf("Synthesized narration %d/%d", done, total))
		})
	}

	if err := tracker.Stage(ctx, StageRendering, RangeRendering.Start, "Rendering video"); err != nil {
		return err
	}
	videoPath := s.files.Path(storage.BucketVideos, VideoObjectName(jobID))
	if err := os.MkdirAll(filepath.Dir(videoPath), 0750); err != nil {
		return fmt.Errorf("create video directory: %w", err)
	}
	ledger.SetVideo(videoPath)

	plan := s.renderer.Plan(m, analysis)
	renderStarted := time.Now()
	err = s.renderer.Render(ctx, bundle, plan, videoPath, func(fraction float64) {
		tracker.Advance(ctx, RangeRendering.At(fraction), "Rendering video")
	})
	s.metrics.ObserveRender(time.Since(renderStarted))
	if err != nil {
		return err
	}

	if err := tracker.Stage(ctx, StageUploading, RangeUploading.Start, "Uploading video"); err != nil {
		return err
	}
	out.publish = s.publisher.Publish(ctx, jobID, originID, videoPath, ledger)
	tracker.Advance(ctx, RangeFinalizing.Start, "Finalizing")
	return nil
}
