// Package media provides the ffmpeg-backed media operations the render
// pipeline needs around the rendering engine: probing narration durations and
// extracting poster frames.
package media

import "context"

// Processor defines the interface for media inspection operations.
// Implementations should use ffmpeg or similar tools.
type Processor interface {
	// ExtractLastFrame extracts the last frame from a video file as a PNG image.
	// Returns the image data as bytes.
	ExtractLastFrame(ctx context.Context, videoPath string) ([]byte, error)

	// GetMediaDuration returns the duration in seconds of a media file.
	GetMediaDuration(ctx context.Context, path string) (float64, error)
}
