package job

import (
	"context"
	"errors"
)

// ErrJobNotFound is returned when a job cannot be found by ID.
var ErrJobNotFound = errors.New("job not found")

// Store defines the interface for job persistence.
// It acts as a port in the hexagonal architecture pattern.
type Store interface {
	// Upsert creates the job if it does not exist, then applies the patch.
	Upsert(ctx context.Context, id string, p Patch) error

	// Update applies the patch to an existing job.
	// Returns ErrJobNotFound if the job does not exist.
	Update(ctx context.Context, id string, p Patch) error

	// Get retrieves a job by its unique identifier.
	// Returns ErrJobNotFound if the job does not exist.
	Get(ctx context.Context, id string) (*Job, error)
}

// OriginLinker propagates a published video URL to the upstream record that
// requested the job.
type OriginLinker interface {
	LinkVideo(ctx context.Context, originID, videoURL string) error
}
