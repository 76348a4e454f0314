package render

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/maauso/videoforge-api/internal/apperr"
	"github.com/maauso/videoforge-api/internal/manifest"
)

// Orchestrator runs bundle, composition selection and render against an Engine.
type Orchestrator struct {
	engine        Engine
	entryPoint    string
	compositionID string
	concurrency   int
	logger        *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithEntryPoint sets the composition project entry point.
func WithEntryPoint(p string) Option {
	return func(o *Orchestrator) {
		if p != "" {
			o.entryPoint = p
		}
	}
}

// WithCompositionID sets the composition to render.
func WithCompositionID(id string) Option {
	return func(o *Orchestrator) {
		if id != "" {
			o.compositionID = id
		}
	}
}

// WithConcurrency sets the engine concurrency hint.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewOrchestrator creates an Orchestrator for engine.
func NewOrchestrator(engine Engine, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		engine:        engine,
		entryPoint:    DefaultEntryPoint,
		compositionID: DefaultCompositionID,
		concurrency:   DefaultConcurrency,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Bundle packages the composition project. Failures are RENDER_ERRORs.
func (o *Orchestrator) Bundle(ctx context.Context) (string, error) {
	bundle, err := o.engine.Bundle(ctx, o.entryPoint)
	if err != nil {
		return "", apperr.Wrap(err, apperr.CodeRender, "render.bundle", "bundling failed")
	}
	return bundle, nil
}

// Plan computes the render plan for m with the orchestrator's composition
// and concurrency settings.
func (o *Orchestrator) Plan(m *manifest.Manifest, analysis json.RawMessage) Plan {
	return NewPlan(m, o.compositionID, o.concurrency, analysis)
}

// Render selects the composition, overrides its duration with the plan's
// frame count and renders to outputPath. Progress fractions are delivered
// to onProgress from a single goroutine, latest value first; onProgress is
// never called after Render returns.
func (o *Orchestrator) Render(ctx context.Context, bundle string, plan Plan, outputPath string, onProgress func(float64)) error {
	comp, err := o.engine.SelectComposition(ctx, bundle, plan.CompositionID, plan.InputProps)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeRender, "render.select", "composition selection failed").
			WithField("composition", plan.CompositionID)
	}
	comp = plan.apply(comp)

	o.logger.Info("rendering composition",
		slog.String("composition", comp.ID),
		slog.Int("frames", comp.DurationInFrames),
		slog.Float64("fps", comp.FPS),
		slog.Int("concurrency", plan.Concurrency),
	)

	relay := newProgressRelay(onProgress)
	defer relay.Close()

	started := time.Now()
	err = o.engine.Render(ctx, bundle, comp, outputPath, plan.InputProps, plan.Concurrency, relay.Send)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeRender, "render.run", "render failed").
			WithField("composition", comp.ID)
	}

	o.logger.Info("render finished",
		slog.String("composition", comp.ID),
		slog.Duration("elapsed", time.Since(started)),
	)
	return nil
}
