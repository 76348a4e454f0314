// Package speech provides a client for an OpenAI-compatible text-to-speech API.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Static errors for speech client operations.
var (
	// ErrBaseURLRequired is returned when the API base URL is not provided.
	ErrBaseURLRequired = errors.New("speech: base URL is required")
	// ErrAPIKeyNotSet is returned when no API key is configured.
	ErrAPIKeyNotSet = errors.New("speech: API key is not set")
	// ErrEmptyText is returned when asked to synthesize blank text.
	ErrEmptyText = errors.New("speech: text is empty")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("speech: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("speech: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("speech: request failed")
)

// DefaultVoiceModel is used when no voice model is configured.
const DefaultVoiceModel = "tts-1:alloy"

// Synthesizer converts narration text to an MP3 audio stream.
type Synthesizer interface {
	// Synthesize returns the audio stream for text. The caller must close it.
	// voiceModel has the form "<model>:<voice>".
	Synthesize(ctx context.Context, text, voiceModel string) (io.ReadCloser, error)
}

// Compile-time check that HTTPClient implements Synthesizer.
var _ Synthesizer = (*HTTPClient)(nil)

// HTTPClient is the HTTP implementation of Synthesizer.
type HTTPClient struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) ClientOption {
	return func(hc *HTTPClient) {
		hc.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseBackoff = d
	}
}

// NewClient creates a new speech HTTP client for baseURL (e.g.
// https://api.openai.com/v1).
func NewClient(baseURL, apiKey string, opts ...ClientOption) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	c := &HTTPClient{
		apiKey:      apiKey,
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: 2 * time.Minute},
		maxRetries:  3,
		baseBackoff: 1 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// ParseVoiceModel splits "<model>:<voice>". A value without a colon is taken
// as the model with the default voice.
func ParseVoiceModel(voiceModel string) (model, voice string) {
	if voiceModel == "" {
		voiceModel = DefaultVoiceModel
	}
	model, voice, ok := strings.Cut(voiceModel, ":")
	if !ok || voice == "" {
		_, voice, _ = strings.Cut(DefaultVoiceModel, ":")
	}
	return model, voice
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

// Synthesize posts text to /audio/speech and returns the MP3 body stream.
func (c *HTTPClient) Synthesize(ctx context.Context, text, voiceModel string) (io.ReadCloser, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	model, voice := ParseVoiceModel(voiceModel)
	body, err := json.Marshal(speechRequest{
		Model:          model,
		Input:          text,
		Voice:          voice,
		ResponseFormat: "mp3",
	})
	if err != nil {
		return nil, fmt.Errorf("speech: marshal request: %w", err)
	}

	return c.doRequestWithRetry(ctx, c.baseURL+"/audio/speech", body)
}

// doRequestWithRetry performs an HTTP request with exponential backoff retry.
func (c *HTTPClient) doRequestWithRetry(ctx context.Context, url string, body []byte) (io.ReadCloser, error) {
	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("speech: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		stream, err := c.doRequest(ctx, url, body)
		if err == nil {
			return stream, nil
		}

		if !isRetryable(err) {
			return nil, err
		}

		lastErr = err
	}

	return nil, fmt.Errorf("speech: max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP request. On success the response body is
// returned unread.
func (c *HTTPClient) doRequest(ctx context.Context, url string, body []byte) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("speech: create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("speech: request failed: %w", err)}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.Body, nil
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	// 5xx errors are retryable
	if resp.StatusCode >= 500 {
		return nil, &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, string(respBody))}
	}
	// 429 (rate limit) is retryable
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &retryableError{err: fmt.Errorf("%w: %s", ErrRateLimited, string(respBody))}
	}
	return nil, fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, string(respBody))
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable returns true if the error should be retried.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
