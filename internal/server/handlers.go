package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/maauso/videoforge-api/internal/apperr"
	"github.com/maauso/videoforge-api/internal/job"
)

// maxRequestBytes bounds the POST /jobs body.
const maxRequestBytes = 8 << 20

// JobService is the part of job.Service used by the handlers.
type JobService interface {
	Submit(ctx context.Context, in job.SubmitInput) (*job.SubmitOutput, error)
	GetJob(ctx context.Context, id string) (*job.Job, error)
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service   JobService
	validator *validator.Validate
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service JobService, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		service:   service,
		validator: validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger,
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateJob handles POST /jobs requests.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), string(apperr.CodeValidation))
		return
	}

	out, err := h.service.Submit(r.Context(), job.SubmitInput{
		Manifest: req.Manifest,
		Analysis: req.Analysis,
		OriginID: req.OriginID,
	})
	if err != nil {
		if apperr.IsCode(err, apperr.CodeValidation) {
			h.logger.Warn("manifest rejected", slog.String("error", err.Error()))
			writeError(w, http.StatusBadRequest, err.Error(), string(apperr.CodeValidation))
			return
		}
		h.logger.Error("failed to create job",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create job", "JOB_CREATION_FAILED")
		return
	}

	writeJSON(w, http.StatusAccepted, CreateJobResponse{
		JobID:  out.JobID,
		Status: string(out.Status),
	})
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	found, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, toJobResponse(found))
}

func toJobResponse(j *job.Job) JobResponse {
	resp := JobResponse{
		ID:            j.ID,
		Status:        string(j.Status),
		Stage:         string(j.Stage),
		Progress:      j.Progress,
		ProgressLabel: j.ProgressLabel,
		VideoURL:      j.VideoURL,
		Error:         j.Error,
		OriginID:      j.OriginID,
		Metadata:      j.Metadata,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
	}
	if !j.CompletedAt.IsZero() {
		completed := j.CompletedAt
		resp.CompletedAt = &completed
	}
	return resp
}

// ArtifactHandler serves files from <root>/<dir>/<file>, where dir is taken
// from the named URL parameter and must be one of dirs.
func ArtifactHandler(root, param string, dirs ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dir := chi.URLParam(r, param)
		file := chi.URLParam(r, "file")
		if !slices.Contains(dirs, dir) || !safeName(file) {
			writeError(w, http.StatusNotFound, "artifact not found", "NOT_FOUND")
			return
		}

		path := filepath.Join(root, dir, file)
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			writeError(w, http.StatusNotFound, "artifact not found", "NOT_FOUND")
			return
		}
		http.ServeFile(w, r, path)
	}
}

func safeName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, `/\`) && !strings.HasPrefix(name, ".")
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
