package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/videoforge-api/internal/apperr"
	"github.com/maauso/videoforge-api/internal/job"
	"github.com/maauso/videoforge-api/internal/metrics"
)

// mockJobService implements JobService for testing.
type mockJobService struct {
	mock.Mock
}

func (m *mockJobService) Submit(ctx context.Context, in job.SubmitInput) (*job.SubmitOutput, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*job.SubmitOutput), args.Error(1)
}

func (m *mockJobService) GetJob(ctx context.Context, id string) (*job.Job, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*job.Job), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(t *testing.T, cfg Config) (http.Handler, *mockJobService) {
	t.Helper()
	svc := &mockJobService{}
	t.Cleanup(func() { svc.AssertExpectations(t) })
	if cfg.AllowedOrigins == nil {
		cfg.AllowedOrigins = []string{"*"}
	}
	return NewRouter(NewHandlers(svc, testLogger()), testLogger(), cfg), svc
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestHealth(t *testing.T) {
	h, _ := newTestRouter(t, DefaultConfig())

	rec := do(t, h, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestCreateJob_Accepted(t *testing.T) {
	h, svc := newTestRouter(t, DefaultConfig())

	svc.On("Submit", mock.Anything, mock.MatchedBy(func(in job.SubmitInput) bool {
		return in.OriginID == "analysis-1" &&
			strings.Contains(string(in.Manifest), `"scenes"`) &&
			string(in.Analysis) == `{"score":0.9}`
	})).Return(&job.SubmitOutput{JobID: "job-123", Status: job.StatusProcessing}, nil)

	body := `{"manifest":{"scenes":[{"id":"a"}]},"analysis":{"score":0.9},"originId":"analysis-1"}`
	rec := do(t, h, http.MethodPost, "/jobs", body)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"jobId":"job-123","status":"processing"}`, rec.Body.String())
}

func TestCreateJob_BadRequests(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"invalid json", `{"manifest":`, "INVALID_JSON"},
		{"missing manifest", `{"originId":"a"}`, "VALIDATION_ERROR"},
		{"origin id with control chars", `{"manifest":{},"originId":"a\nb"}`, "VALIDATION_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestRouter(t, DefaultConfig())

			rec := do(t, h, http.MethodPost, "/jobs", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, rec).Code)
		})
	}
}

func TestCreateJob_ManifestRejected(t *testing.T) {
	h, svc := newTestRouter(t, DefaultConfig())
	svc.On("Submit", mock.Anything, mock.Anything).
		Return(nil, apperr.New(apperr.CodeValidation, "manifest.validate", "Manifest.Scenes: min"))

	rec := do(t, h, http.MethodPost, "/jobs", `{"manifest":{"scenes":[]}}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "VALIDATION_ERROR", resp.Code)
	assert.Contains(t, resp.Error, "Manifest.Scenes")
}

func TestCreateJob_StoreFailure(t *testing.T) {
	h, svc := newTestRouter(t, DefaultConfig())
	svc.On("Submit", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))

	rec := do(t, h, http.MethodPost, "/jobs", `{"manifest":{"scenes":[{}]}}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "JOB_CREATION_FAILED", resp.Code)
	assert.NotContains(t, resp.Error, "db down")
}

func TestGetJob(t *testing.T) {
	h, svc := newTestRouter(t, DefaultConfig())
	created := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	svc.On("GetJob", mock.Anything, "job-123").Return(&job.Job{
		ID:            "job-123",
		Status:        job.StatusCompleted,
		Stage:         job.StageCompleted,
		Progress:      100,
		ProgressLabel: "Completed",
		VideoURL:      "https://cdn/job-123.mp4",
		Metadata:      map[string]any{"posterUrl": "https://cdn/job-123.png"},
		CreatedAt:     created,
		UpdatedAt:     created.Add(time.Minute),
		CompletedAt:   created.Add(time.Minute),
	}, nil)

	rec := do(t, h, http.MethodGet, "/jobs/job-123", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp JobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, "completed", resp.Stage)
	assert.Equal(t, 100, resp.Progress)
	assert.Equal(t, "https://cdn/job-123.mp4", resp.VideoURL)
	assert.Equal(t, "https://cdn/job-123.png", resp.Metadata["posterUrl"])
	require.NotNil(t, resp.CompletedAt)
	assert.True(t, created.Add(time.Minute).Equal(*resp.CompletedAt))
}

func TestGetJob_InProgressOmitsCompletedAt(t *testing.T) {
	h, svc := newTestRouter(t, DefaultConfig())
	svc.On("GetJob", mock.Anything, "job-1").Return(&job.Job{
		ID: "job-1", Status: job.StatusProcessing, Stage: job.StageRendering, Progress: 42,
	}, nil)

	rec := do(t, h, http.MethodGet, "/jobs/job-1", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "completedAt")
	assert.Contains(t, rec.Body.String(), `"stage":"rendering"`)
}

func TestGetJob_Errors(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		h, svc := newTestRouter(t, DefaultConfig())
		svc.On("GetJob", mock.Anything, "nope").Return(nil, job.ErrJobNotFound)

		rec := do(t, h, http.MethodGet, "/jobs/nope", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "JOB_NOT_FOUND", decodeError(t, rec).Code)
	})

	t.Run("store failure", func(t *testing.T) {
		h, svc := newTestRouter(t, DefaultConfig())
		svc.On("GetJob", mock.Anything, "job-1").Return(nil, errors.New("timeout"))

		rec := do(t, h, http.MethodGet, "/jobs/job-1", "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "JOB_FETCH_FAILED", decodeError(t, rec).Code)
	})
}

func TestArtifacts(t *testing.T) {
	out := t.TempDir()
	public := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(out, "videos"), 0750))
	require.NoError(t, os.WriteFile(filepath.Join(out, "videos", "job-1.mp4"), []byte("local-video"), 0600))
	require.NoError(t, os.MkdirAll(filepath.Join(public, "narration"), 0750))
	require.NoError(t, os.WriteFile(filepath.Join(public, "narration", "job-1-scene-0.mp3"), []byte("mp3"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(out, "jobs.db"), []byte("secret"), 0600))

	h, _ := newTestRouter(t, Config{OutputDir: out, PublicDir: public})

	tests := []struct {
		path     string
		wantCode int
		wantBody string
	}{
		{"/videos/job-1.mp4", http.StatusOK, "local-video"},
		{"/public/narration/job-1-scene-0.mp3", http.StatusOK, "mp3"},
		{"/videos/missing.mp4", http.StatusNotFound, ""},
		{"/secrets/jobs.db", http.StatusNotFound, ""},
		{"/videos/..%2Fjobs.db", http.StatusNotFound, ""},
		{"/public/videos/job-1.mp4", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, tt.path, "")
			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	m := metrics.New()
	h, svc := newTestRouter(t, Config{Metrics: m})
	svc.On("GetJob", mock.Anything, "nope").Return(nil, job.ErrJobNotFound)

	do(t, h, http.MethodGet, "/health", "")
	do(t, h, http.MethodGet, "/jobs/nope", "")

	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "videoforge_http_requests_total")
}

func TestRecoveryMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	h := RequestIDMiddleware(RecoveryMiddleware(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("handler bug")
	})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
	assert.Contains(t, buf.String(), "handler bug")
	assert.Contains(t, buf.String(), "request_id=req-42")
}

func TestCORSMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	h := CORSMiddleware([]string{"https://app.example.com"})(next)

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://app.example.com")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, http.StatusTeapot, rec.Code)
	})

	t.Run("other origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/jobs", nil)
		req.Header.Set("Origin", "https://app.example.com")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}
