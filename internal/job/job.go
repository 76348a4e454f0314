// Package job provides the render Job record, its stage state machine and the
// background pipeline that turns a manifest into a published video.
package job

import (
	"errors"
	"maps"
	"time"
)

// Status is the coarse, externally visible state of a Job.
type Status string

const (
	// StatusProcessing indicates the pipeline is still running.
	StatusProcessing Status = "processing"
	// StatusCompleted indicates a video was produced and published.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the pipeline stopped on a fatal error.
	StatusFailed Status = "failed"
)

// Stage is the fine-grained pipeline step a Job is in.
type Stage string

const (
	StageQueued       Stage = "queued"
	StageBundling     Stage = "bundling"
	StageSynthesizing Stage = "synthesizing_audio"
	StageRendering    Stage = "rendering"
	StageUploading    Stage = "uploading"
	StageCompleted    Stage = "completed"
	StageFailed       Stage = "failed"
)

// ErrInvalidTransition is returned when an invalid stage transition is attempted.
var ErrInvalidTransition = errors.New("invalid stage transition")

// validTransitions defines which stage transitions are allowed.
// Failed is reachable from every non-terminal stage.
var validTransitions = map[Stage][]Stage{
	StageQueued:       {StageBundling, StageFailed},
	StageBundling:     {StageSynthesizing, StageFailed},
	StageSynthesizing: {StageRendering, StageFailed},
	StageRendering:    {StageUploading, StageFailed},
	StageUploading:    {StageCompleted, StageFailed},
	StageCompleted:    {},
	StageFailed:       {},
}

// CanTransition checks if a transition from one stage to another is valid.
func CanTransition(from, to Stage) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true for completed and failed.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}

// Status returns the coarse status implied by the stage.
func (s Stage) Status() Status {
	switch s {
	case StageCompleted:
		return StatusCompleted
	case StageFailed:
		return StatusFailed
	default:
		return StatusProcessing
	}
}

// Job is the persisted record of one render request.
// It is written only by the pipeline goroutine that owns it.
type Job struct {
	// ID is the unique identifier for this job.
	ID string
	// Status is the coarse job state.
	Status Status
	// Stage is the current pipeline step.
	Stage Stage
	// Progress is the percentage of completion (0-100).
	Progress int
	// ProgressLabel is a human-readable description of the current step.
	ProgressLabel string
	// VideoURL is the public URL of the published video.
	VideoURL string
	// Error contains the error message if the job failed.
	Error string
	// OriginID identifies the upstream record that requested the video.
	OriginID string
	// Metadata holds auxiliary results (poster URL, narration stats).
	Metadata map[string]any
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// CompletedAt is when the job reached a terminal stage.
	CompletedAt time.Time
}

// NewRecord returns the initial record of a job created at now.
func NewRecord(id string, now time.Time) *Job {
	return &Job{
		ID:        id,
		Status:    StatusProcessing,
		Stage:     StageQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsTerminal returns true if the job is in a terminal stage.
func (j *Job) IsTerminal() bool {
	return j.Stage.IsTerminal()
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	c := *j
	if j.Metadata != nil {
		c.Metadata = maps.Clone(j.Metadata)
	}
	return &c
}

// Patch is a partial update to a Job. Nil fields are left untouched and
// Metadata keys are merged into the existing map.
type Patch struct {
	Status        *Status
	Stage         *Stage
	Progress      *int
	ProgressLabel *string
	VideoURL      *string
	Error         *string
	OriginID      *string
	Metadata      map[string]any
	CompletedAt   *time.Time
}

// Apply merges p into j and stamps UpdatedAt.
func (j *Job) Apply(p Patch, now time.Time) {
	if p.Status != nil {
		j.Status = *p.Status
	}
	if p.Stage != nil {
		j.Stage = *p.Stage
	}
	if p.Progress != nil {
		j.Progress = clampProgress(*p.Progress)
	}
	if p.ProgressLabel != nil {
		j.ProgressLabel = *p.ProgressLabel
	}
	if p.VideoURL != nil {
		j.VideoURL = *p.VideoURL
	}
	if p.Error != nil {
		j.Error = *p.Error
	}
	if p.OriginID != nil {
		j.OriginID = *p.OriginID
	}
	if len(p.Metadata) > 0 {
		if j.Metadata == nil {
			j.Metadata = make(map[string]any, len(p.Metadata))
		}
		maps.Copy(j.Metadata, p.Metadata)
	}
	if p.CompletedAt != nil {
		j.CompletedAt = *p.CompletedAt
	}
	j.UpdatedAt = now
}

// Ptr returns a pointer to v. Used to build Patches.
func Ptr[T any](v T) *T {
	return &v
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
