// Package render drives an external composition rendering engine: bundling
// the composition project, selecting the composition and rendering it to an
// MP4 while relaying progress.
package render

import (
	"bufio"
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

// Static errors for engine operations.
var (
	// ErrEngineURLRequired is returned when the engine base URL is not provided.
	ErrEngineURLRequired = errors.New("render: engine URL is required")
	// ErrEngineFailed is returned when the engine reports a failure.
	ErrEngineFailed = errors.New("render: engine failed")
	// ErrStreamEnded is returned when the render stream ends without a result.
	ErrStreamEnded = errors.New("render: progress stream ended without result")
)

// Composition is the composition selected for a render.
type Composition struct {
	ID               string  `json:"id"`
	DurationInFrames int     `json:"durationInFrames"`
	FPS              float64 `json:"fps"`
	Width            int     `json:"width"`
	Height           int     `json:"height"`
}

// Engine is the external rendering engine.
type Engine interface {
	// Bundle packages the composition project and returns its location.
	Bundle(ctx context.Context, entryPoint string) (string, error)

	// SelectComposition resolves compositionID inside a bundle.
	SelectComposition(ctx context.Context, bundle, compositionID string, props map[string]any) (Composition, error)

	// Render writes the composition to outputPath. onProgress receives
	// fractions in [0,1] and may be called from any goroutine.
	Render(ctx context.Context, bundle string, comp Composition, outputPath string,
		props map[string]any, concurrency int, onProgress func(float64)) error
}

// Compile-time check that HTTPEngine implements Engine.
var _ Engine = (*HTTPEngine)(nil)

// HTTPEngine talks to a render sidecar over HTTP. Render responses are
// newline-delimited JSON events.
type HTTPEngine struct {
	baseURL    string
	httpClient *http.Client
}

// EngineOption configures an HTTPEngine.
type EngineOption func(*HTTPEngine)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) EngineOption {
	return func(e *HTTPEngine) {
		e.httpClient = c
	}
}

// NewHTTPEngine creates an engine client for the sidecar at baseURL.
func NewHTTPEngine(baseURL string, opts ...EngineOption) (*HTTPEngine, error) {
	if baseURL == "" {
		return nil, ErrEngineURLRequired
	}
	e := &HTTPEngine{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Renders stream for as long as they take; callers bound them with ctx.
		httpClient: &http.Client{Timeout: 0},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

type bundleRequest struct {
	EntryPoint string `json:"entryPoint"`
}

type bundleResponse struct {
	BundleLocation string `json:"bundleLocation"`
}

type selectRequest struct {
	BundleLocation string         `json:"bundleLocation"`
	CompositionID  string         `json:"compositionId"`
	InputProps     map[string]any `json:"inputProps"`
}

type renderRequest struct {
	BundleLocation string         `json:"bundleLocation"`
	Composition    Composition    `json:"composition"`
	OutputLocation string         `json:"outputLocation"`
	InputProps     map[string]any `json:"inputProps"`
	Concurrency    int            `json:"concurrency"`
	Codec          string         `json:"codec"`
}

// renderEvent is one line of the render progress stream.
type renderEvent struct {
	Type     string  `json:"type"` // progress | done | error
	Progress float64 `json:"progress"`
	Message  string  `json:"message"`
}

// Bundle posts to /bundle.
func (e *HTTPEngine) Bundle(ctx context.Context, entryPoint string) (string, error) {
	var resp bundleResponse
	if err := e.postJSON(ctx, "/bundle", bundleRequest{EntryPoint: entryPoint}, &resp); err != nil {
		return "", err
	}
	if resp.BundleLocation == "" {
		return "", fmt.Errorf("%w: bundle returned no location", ErrEngineFailed)
	}
	return resp.BundleLocation, nil
}

// SelectComposition posts to /compositions/select.
func (e *HTTPEngine) SelectComposition(ctx context.Context, bundle, compositionID string, props map[string]any) (Composition, error) {
	var comp Composition
	req := selectRequest{BundleLocation: bundle, CompositionID: compositionID, InputProps: props}
	if err := e.postJSON(ctx, "/compositions/select", req, &comp); err != nil {
		return Composition{}, err
	}
	if comp.ID == "" {
		comp.ID = compositionID
	}
	return comp, nil
}

// Render posts to /render and consumes the NDJSON event stream until a done
// or error event.
func (e *HTTPEngine) Render(ctx context.Context, bundle string, comp Composition, outputPath string,
	props map[string]any, concurrency int, onProgress func(float64)) error {
	body, err := json.Marshal(renderRequest{
		BundleLocation: bundle,
		Composition:    comp,
		OutputLocation: outputPath,
		InputProps:     props,
		Concurrency:    concurrency,
		Codec:          "h264",
	})
	if err != nil {
		return fmt.Errorf("render: marshal request: %w", err)
	}

	resp, err := e.do(ctx, "/render", body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev renderEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return fmt.Errorf("render: decode event: %w", err)
		}
		switch ev.Type {
		case "progress":
			if onProgress != nil {
				onProgress(ev.Progress)
			}
		case "done":
			if onProgress != nil {
				onProgress(1)
			}
			return nil
		case "error":
			return fmt.Errorf("%w: %s", ErrEngineFailed, ev.Message)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("render: read stream: %w", err)
	}
	return ErrStreamEnded
}

func (e *HTTPEngine) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("render: marshal request: %w", err)
	}
	resp, err := e.do(ctx, path, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("render: unmarshal response: %w", err)
	}
	return nil
}

// do sends a POST and returns the response when it is 2xx.
func (e *HTTPEngine) do(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("render: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("render: request %s failed: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: %s returned http %d after %s: %s",
			ErrEngineFailed, path, resp.StatusCode, time.Since(started).Round(time.Millisecond), strings.TrimSpace(string(msg)))
	}
	return resp, nil
}
