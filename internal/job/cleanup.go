package job

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/maauso/videoforge-api/internal/apperr"
	"github.com/maauso/videoforge-api/internal/metrics"
	"github.com/maauso/videoforge-api/internal/storage"
)

// Ledger records every resource a job creates so cleanup can remove them.
type Ledger struct {
	mu          sync.Mutex
	localFiles  []string
	remote      map[string][]string
	videoPath   string
	retainVideo bool
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{remote: make(map[string][]string)}
}

// AddLocalFile records a temporary local file.
func (l *Ledger) AddLocalFile(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.localFiles = append(l.localFiles, path)
}

// AddRemoteObject records an uploaded object that must be removed.
func (l *Ledger) AddRemoteObject(bucket, name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.remote[bucket] = append(l.remote[bucket], name)
}

// SetVideo records the local rendered video.
func (l *Ledger) SetVideo(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.videoPath = path
}

// RetainVideo keeps the local video because it is the published artifact.
func (l *Ledger) RetainVideo() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.retainVideo = true
}

// VideoRetained reports whether the local video is kept after cleanup.
func (l *Ledger) VideoRetained() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.retainVideo
}

// LocalFiles returns a copy of the recorded local files.
func (l *Ledger) LocalFiles() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.localFiles...)
}

// RemoteObjects returns a copy of the recorded remote objects by bucket.
func (l *Ledger) RemoteObjects() map[string][]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string][]string, len(l.remote))
	for b, names := range l.remote {
		out[b] = append([]string(nil), names...)
	}
	return out
}

func (l *Ledger) video() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.videoPath, l.retainVideo
}

// CleanupReport summarizes one cleanup run.
type CleanupReport struct {
	RemovedLocal  int
	RemovedRemote int
	Errors        []error
	VideoRetained bool
}

// Cleanup removes a job's temporary resources.
type Cleanup struct {
	files   storage.TempStore
	objects storage.ObjectStore
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewCleanup creates a Cleanup. objects may be nil when nothing is uploaded.
func NewCleanup(files storage.TempStore, objects storage.ObjectStore, logger *slog.Logger, m *metrics.Metrics) *Cleanup {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleanup{files: files, objects: objects, logger: logger, metrics: m}
}

// Run removes the rendered video (unless retained), every narration temp
// file and every uploaded narration object. Each step is attempted
// regardless of earlier failures; failures are CLEANUP_ERRORs in the report.
func (c *Cleanup) Run(ctx context.Context, jobID string, l *Ledger) CleanupReport {
	logger := c.logger.With(slog.String("job_id", jobID))
	var report CleanupReport

	fail := func(err error, msg string) {
		cerr := apperr.Wrap(err, apperr.CodeCleanup, "job.cleanup", msg)
		report.Errors = append(report.Errors, cerr)
		logger.Warn("cleanup step failed", slog.String("error", cerr.Error()))
	}

	videoPath, retain := l.video()
	report.VideoRetained = retain && videoPath != ""
	if videoPath != "" && !retain {
		if err := c.files.CleanupTemp(ctx, []string{videoPath}); err != nil {
			fail(err, "remove rendered video")
		} else {
			report.RemovedLocal++
		}
	}

	for _, p := range l.LocalFiles() {
		if err := c.files.CleanupTemp(ctx, []string{p}); err != nil {
			fail(err, "remove narration file")
			continue
		}
		report.RemovedLocal++
	}

	remote := l.RemoteObjects()
	buckets := make([]string, 0, len(remote))
	for b := range remote {
		buckets = append(buckets, b)
	}
	sort.Strings(buckets)
	for _, b := range buckets {
		names := remote[b]
		if len(names) == 0 {
			continue
		}
		if c.objects == nil {
			fail(fmt.Errorf("no object store configured"), "remove "+b+" objects")
			continue
		}
		if err := c.objects.Remove(ctx, b, names); err != nil {
			fail(err, "remove "+b+" objects")
			continue
		}
		report.RemovedRemote += len(names)
	}

	c.metrics.AddCleanupErrors(len(report.Errors))
	logger.Info("job resources cleaned up",
		slog.Int("local_removed", report.RemovedLocal),
		slog.Int("remote_removed", report.RemovedRemote),
		slog.Int("errors", len(report.Errors)),
		slog.Bool("video_retained", report.VideoRetained),
	)
	return report
}

// Scope runs fn with a fresh ledger and runs cleanup exactly once afterwards,
// whether fn returns normally, returns an error or panics. A panic is
// converted into an INTERNAL_ERROR.
func (c *Cleanup) Scope(ctx context.Context, jobID string, fn func(*Ledger) error) (err error) {
	ledger := NewLedger()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("job pipeline panicked",
				slog.String("job_id", jobID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = apperr.Newf(apperr.CodeInternal, "job.run", "panic: %v", r)
		}
		c.Run(ctx, jobID, ledger)
	}()
	return fn(ledger)
}
