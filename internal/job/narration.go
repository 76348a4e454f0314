package job

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/maauso/videoforge-api/internal/apperr"
	"github.com/maauso/videoforge-api/internal/manifest"
	"github.com/maauso/videoforge-api/internal/metrics"
	"github.com/maauso/videoforge-api/internal/speech"
	"github.com/maauso/videoforge-api/internal/storage"
)

// DurationProber reads the duration of a media file.
type DurationProber interface {
	GetMediaDuration(ctx context.Context, path string) (float64, error)
}

// NarrationReport summarizes a narration pass.
type NarrationReport struct {
	// Eligible is the number of scenes with text and no audio.
	Eligible int
	// Synthesized is the number of scenes that received audio.
	Synthesized int
	// Failed is the number of eligible scenes left without audio.
	Failed int
	// Durations maps scene ID to the synthesized audio length in seconds.
	Durations map[string]float64
}

// Metadata returns the report as job metadata.
func (r NarrationReport) Metadata() map[string]any {
	md := map[string]any{
		"narrationEligible":    r.Eligible,
		"narrationSynthesized": r.Synthesized,
		"narrationFailed":      r.Failed,
	}
	if len(r.Durations) > 0 {
		md["narrationDurations"] = r.Durations
	}
	return md
}

// NarrationSynthesizer fills in missing scene audio through the speech
// service. Scenes are processed one at a time.
type NarrationSynthesizer struct {
	speech     speech.Synthesizer
	files      storage.TempStore
	objects    storage.ObjectStore
	probe      DurationProber
	voiceModel string
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewNarrationSynthesizer creates a NarrationSynthesizer. probe may be nil.
func NewNarrationSynthesizer(
	synth speech.Synthesizer,
	files storage.TempStore,
	objects storage.ObjectStore,
	probe DurationProber,
	voiceModel string,
	logger *slog.Logger,
	m *metrics.Metrics,
) *NarrationSynthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &NarrationSynthesizer{
		speech:     synth,
		files:      files,
		objects:    objects,
		probe:      probe,
		voiceModel: voiceModel,
		logger:     logger,
		metrics:    m,
	}
}

// NarrationObjectName is the object name for a scene's synthesized audio.
func NarrationObjectName(jobID string, sceneIndex int) string {
	return fmt.Sprintf("%s-scene-%d.mp3", jobID, sceneIndex)
}

// Synthesize sets AudioURL on every scene that has narration text and no
// audio. A failing scene is logged and left without audio; it never fails
// the job. Every local file and remote object created is recorded in
// ledger. onProgress is called after each eligible scene.
func (n *NarrationSynthesizer) Synthesize(
	ctx context.Context,
	jobID string,
	m *manifest.Manifest,
	ledger *Ledger,
	onProgress func(done, total int),
) NarrationReport {
	logger := n.logger.With(slog.String("job_id", jobID), slog.String("stage", string(StageSynthesizing)))

	var eligible []int
	for i, s := range m.Scenes {
		if s.Narration.NeedsSynthesis() {
			eligible = append(eligible, i)
		}
	}

	report := NarrationReport{Eligible: len(eligible), Durations: make(map[string]float64)}
	for done, idx := range eligible {
		scene := &m.Scenes[idx]
		url, duration, err := n.scene(ctx, jobID, idx, scene.Narration.Text, ledger)
		if err != nil {
			report.Failed++
			n.metrics.IncSynthesisFailures()
			logger.Warn("narration synthesis failed, scene keeps no audio",
				slog.String("scene", scene.ID),
				slog.Int("scene_index", idx),
				slog.String("error", err.Error()),
			)
		} else {
			report.Synthesized++
			scene.Narration.AudioURL = url
			if duration > 0 {
				report.Durations[scene.ID] = duration
			}
			logger.Debug("narration synthesized",
				slog.String("scene", scene.ID),
				slog.Float64("duration_seconds", duration),
			)
		}
		if onProgress != nil {
			onProgress(done+1, len(eligible))
		}
	}

	logger.Info("narration pass finished",
		slog.Int("eligible", report.Eligible),
		slog.Int("synthesized", report.Synthesized),
		slog.Int("failed", report.Failed),
	)
	return report
}

// scene synthesizes, stores and publishes one narration segment.
func (n *NarrationSynthesizer) scene(ctx context.Context, jobID string, index int, text string, ledger *Ledger) (string, float64, error) {
	op := "narration.scene"
	name := NarrationObjectName(jobID, index)

	stream, err := n.speech.Synthesize(ctx, text, n.voiceModel)
	if err != nil {
		return "", 0, apperr.Wrap(err, apperr.CodeSynthesis, op, "speech request failed").WithField("scene_index", index)
	}

	ledger.AddLocalFile(n.files.Path(storage.BucketNarration, name))
	path, err := n.files.SaveTemp(ctx, storage.BucketNarration, name, stream)
	_ = stream.Close()
	if err != nil {
		return "", 0, apperr.Wrap(err, apperr.CodeSynthesis, op, "store audio failed").WithField("scene_index", index)
	}

	var duration float64
	if n.probe != nil {
		d, err := n.probe.GetMediaDuration(ctx, path)
		if err != nil {
			n.logger.Debug("narration duration probe failed",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		} else {
			duration = d
		}
	}

	f, err := os.Open(path) // #nosec G304 - path built from job ID and scene index
	if err != nil {
		return "", 0, apperr.Wrap(err, apperr.CodeSynthesis, op, "open audio failed").WithField("scene_index", index)
	}
	defer func() { _ = f.Close() }()

	ledger.AddRemoteObject(storage.BucketNarration, name)
	url, err := n.objects.Upload(ctx, storage.BucketNarration, name, f, storage.ContentTypeMP3)
	if err != nil {
		return "", 0, apperr.Wrap(err, apperr.CodeSynthesis, op, "upload audio failed").WithField("scene_index", index)
	}
	return url, duration, nil
}
