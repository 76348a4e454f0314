package render

import (
	"encoding/json"
	"math"

	"github.com/maauso/videoforge-api/internal/manifest"
)

// Defaults for render plans.
const (
	DefaultCompositionID = "MainVideo"
	DefaultEntryPoint    = "src/index.ts"
	DefaultConcurrency   = 4
)

// Plan is the computed input to one render. It is never persisted.
type Plan struct {
	TotalFrames   int
	FPS           float64
	Width         int
	Height        int
	CompositionID string
	InputProps    map[string]any
	Concurrency   int
}

// TotalFrames returns max(1, floor(total duration × fps)). Manifests that
// passed manifest.Validate never exceed manifest.MaxTotalFrames; larger
// values are capped there rather than converted out of range.
func TotalFrames(m *manifest.Manifest) int {
	frames := math.Floor(m.TotalDurationSeconds() * m.Meta.FramesPerSecond)
	if math.IsNaN(frames) || frames < 1 {
		return 1
	}
	return int(min(frames, manifest.MaxTotalFrames))
}

// NewPlan builds the render plan for a normalized manifest. analysis is
// forwarded to the composition untouched and may be nil.
func NewPlan(m *manifest.Manifest, compositionID string, concurrency int, analysis json.RawMessage) Plan {
	if compositionID == "" {
		compositionID = DefaultCompositionID
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	props := map[string]any{"manifest": m}
	if len(analysis) > 0 {
		props["analysis"] = analysis
	}

	p := Plan{
		TotalFrames:   TotalFrames(m),
		FPS:           m.Meta.FramesPerSecond,
		CompositionID: compositionID,
		InputProps:    props,
		Concurrency:   concurrency,
	}
	if w, h, err := m.Meta.Dimensions(); err == nil {
		p.Width, p.Height = w, h
	}
	return p
}

// apply overrides the selected composition with plan values.
func (p Plan) apply(c Composition) Composition {
	c.DurationInFrames = p.TotalFrames
	if p.FPS > 0 {
		c.FPS = p.FPS
	}
	if p.Width > 0 && p.Height > 0 {
		c.Width, c.Height = p.Width, p.Height
	}
	return c
}
