// Package storage provides local working files and published object storage.
// It defines the ObjectStore interface (port) for hexagonal architecture and
// implementations for local disk and S3.
package storage

import (
	"context"
	"io"
)

// Logical buckets used by the render pipeline.
const (
	BucketVideos    = "videos"
	BucketNarration = "narration"
	BucketPosters   = "posters"
)

// Content types of published objects.
const (
	ContentTypeMP4 = "video/mp4"
	ContentTypeMP3 = "audio/mpeg"
	ContentTypePNG = "image/png"
)

// ObjectStore publishes objects under a logical bucket and returns their
// public URL.
type ObjectStore interface {
	// Upload stores body as bucket/name and returns its public URL.
	Upload(ctx context.Context, bucket, name string, body io.Reader, contentType string) (url string, err error)

	// Remove deletes the named objects from bucket. Missing objects are not an error.
	Remove(ctx context.Context, bucket string, names []string) error
}

// TempStore manages job-scoped working files on local disk.
type TempStore interface {
	// SaveTemp writes data to <root>/<kind>/<name> and returns the file path.
	SaveTemp(ctx context.Context, kind, name string, data io.Reader) (path string, err error)

	// Path returns the local path for <kind>/<name> without touching disk.
	Path(kind, name string) string

	// CleanupTemp removes the specified files.
	// It continues cleanup even if some files fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error
}
