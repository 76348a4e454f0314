package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/maauso/videoforge-api/internal/server"
)

// ErrJobNotFound is returned when the API has no job with the requested id.
var ErrJobNotFound = errors.New("job not found")

// apiError is a non-2xx response from the render API.
type apiError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *apiError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("render API returned %d", e.StatusCode)
	}
	return fmt.Sprintf("render API returned %d [%s]: %s", e.StatusCode, e.Code, e.Message)
}

type apiClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func newAPIClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *apiClient {
	return &apiClient{baseURL: baseURL, httpClient: httpClient, logger: logger}
}

func (c *apiClient) createJob(ctx context.Context, req server.CreateJobRequest) (*server.CreateJobResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	var out server.CreateJobResponse
	if err := c.do(ctx, http.MethodPost, "/jobs", bytes.NewReader(body), http.StatusAccepted, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) getJob(ctx context.Context, id string) (*server.JobResponse, error) {
	var out server.JobResponse
	err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id), nil, http.StatusOK, &out)
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body io.Reader, want int, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("render API request", slog.String("method", method), slog.String("url", req.URL.String()))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug("render API response", slog.Int("status", resp.StatusCode), slog.Int("bytes", len(data)))

	if resp.StatusCode != want {
		apiErr := &apiError{StatusCode: resp.StatusCode}
		var er server.ErrorResponse
		if json.Unmarshal(data, &er) == nil {
			apiErr.Code, apiErr.Message = er.Code, er.Error
		}
		return apiErr
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
