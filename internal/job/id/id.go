// Package id provides unique identifier generation for jobs.
package id

import "github.com/google/uuid"

// Prefix is prepended to every job ID.
const Prefix = "job-"

// Generate creates a new unique job ID.
// Format: job-<uuid>
// Example: job-9b2f6c1e-4a7d-4c8e-9f0a-1d2e3f4a5b6c
func Generate() string {
	return Prefix + uuid.NewString()
}
