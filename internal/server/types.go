// Package server provides the HTTP server for the render job API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"encoding/json"
	"time"
)

// CreateJobRequest is the HTTP request body for submitting a render job.
type CreateJobRequest struct {
	// Manifest is the loosely-typed media manifest.
	Manifest json.RawMessage `json:"manifest" validate:"required"`
	// Analysis is handed to the composition untouched.
	Analysis json.RawMessage `json:"analysis,omitempty"`
	// OriginID identifies the upstream record the video is linked to.
	OriginID string `json:"originId,omitempty" validate:"omitempty,max=128,printascii"`
}

// CreateJobResponse is the HTTP response after accepting a job.
type CreateJobResponse struct {
	// JobID is the unique identifier for the created job.
	JobID string `json:"jobId"`
	// Status is the initial job status.
	Status string `json:"status"`
}

// JobResponse is the HTTP response for getting job details.
type JobResponse struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	Stage         string         `json:"stage"`
	Progress      int            `json:"progress"`
	ProgressLabel string         `json:"progressLabel,omitempty"`
	VideoURL      string         `json:"videoUrl,omitempty"`
	Error         string         `json:"error,omitempty"`
	OriginID      string         `json:"originId,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
	CompletedAt   *time.Time     `json:"completedAt,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
