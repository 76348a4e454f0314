package job

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/maauso/videoforge-api/internal/apperr"
	"github.com/maauso/videoforge-api/internal/metrics"
	"github.com/maauso/videoforge-api/internal/storage"
)

// FrameExtractor pulls a poster frame out of a rendered video.
type FrameExtractor interface {
	ExtractLastFrame(ctx context.Context, videoPath string) ([]byte, error)
}

// PublishResult is the outcome of publishing one video.
type PublishResult struct {
	VideoURL  string
	PosterURL string
	// Fallback is true when the upload failed and VideoURL points at the
	// locally served copy.
	Fallback bool
}

// Metadata returns the result as job metadata.
func (r PublishResult) Metadata() map[string]any {
	md := map[string]any{"publishFallback": r.Fallback}
	if r.PosterURL != "" {
		md["posterUrl"] = r.PosterURL
	}
	return md
}

// VideoObjectName is the object name of a job's video.
func VideoObjectName(jobID string) string {
	return jobID + ".mp4"
}

// LocalVideoURL is the URL the HTTP server serves a retained local video at.
func LocalVideoURL(publicHost, jobID string) string {
	return strings.TrimRight(publicHost, "/") + "/" + storage.BucketVideos + "/" + VideoObjectName(jobID)
}

// Publisher uploads rendered videos and links them to their origin record.
type Publisher struct {
	objects    storage.ObjectStore
	frames     FrameExtractor
	linker     OriginLinker
	publicHost string
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewPublisher creates a Publisher. frames and linker may be nil.
func NewPublisher(objects storage.ObjectStore, frames FrameExtractor, linker OriginLinker, publicHost string, logger *slog.Logger, m *metrics.Metrics) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		objects:    objects,
		frames:     frames,
		linker:     linker,
		publicHost: publicHost,
		logger:     logger,
		metrics:    m,
	}
}

// Publish uploads the video at videoPath. An upload failure is logged as a
// PUBLISH_ERROR and the local file is retained and served instead. Poster
// extraction and origin linking are best effort.
func (p *Publisher) Publish(ctx context.Context, jobID, originID, videoPath string, ledger *Ledger) PublishResult {
	logger := p.logger.With(slog.String("job_id", jobID), slog.String("stage", string(StageUploading)))
	var res PublishResult

	url, err := p.uploadVideo(ctx, jobID, videoPath)
	if err != nil {
		perr := apperr.Wrap(err, apperr.CodePublish, "publish.video", "upload failed, serving local copy")
		logger.Warn("video upload failed", slog.String("error", perr.Error()))
		p.metrics.IncPublishFallbacks()
		ledger.RetainVideo()
		res.Fallback = true
		url = LocalVideoURL(p.publicHost, jobID)
	}
	res.VideoURL = url

	if p.frames != nil {
		poster, err := p.uploadPoster(ctx, jobID, videoPath)
		if err != nil {
			logger.Warn("poster frame not published", slog.String("error", err.Error()))
		} else {
			res.PosterURL = poster
		}
	}

	if originID != "" && p.linker != nil {
		if err := p.linker.LinkVideo(ctx, originID, res.VideoURL); err != nil {
			logger.Warn("failed to link video to origin record",
				slog.String("origin_id", originID),
				slog.String("error", err.Error()),
			)
		}
	}

	logger.Info("video published",
		slog.String("video_url", res.VideoURL),
		slog.Bool("fallback", res.Fallback),
	)
	return res
}

func (p *Publisher) uploadVideo(ctx context.Context, jobID, videoPath string) (string, error) {
	f, err := os.Open(videoPath) // #nosec G304 - path built from job ID
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	return p.objects.Upload(ctx, storage.BucketVideos, VideoObjectName(jobID), f, storage.ContentTypeMP4)
}

func (p *Publisher) uploadPoster(ctx context.Context, jobID, videoPath string) (string, error) {
	frame, err := p.frames.ExtractLastFrame(ctx, videoPath)
	if err != nil {
		return "", err
	}
	return p.objects.Upload(ctx, storage.BucketPosters, jobID+".png", bytes.NewReader(frame), storage.ContentTypePNG)
}
