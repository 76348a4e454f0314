package main

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/maauso/videoforge-api/internal/manifest"
	"github.com/maauso/videoforge-api/internal/render"
)

func loadManifest(cmd *cobra.Command, ctx *commandContext, path string) (*manifest.Manifest, error) {
	raw, err := readManifestJSON(path, cmd.InOrStdin())
	if err != nil {
		return nil, err
	}
	m, err := manifest.Normalize(raw)
	if err != nil {
		return nil, err
	}
	if unknown := m.UnknownComponentTypes(); len(unknown) > 0 {
		ctx.log(cmd.ErrOrStderr()).Warn("manifest uses unknown component types",
			"types", strings.Join(unknown, ","),
		)
	}
	return m, nil
}

func newNormalizeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "normalize <manifest.json|manifest.toml|->",
		Short: "Print the normalized form of a manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadManifest(cmd, ctx, args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd, m)
		},
	}
}

// planSummary is the JSON form of the plan command output.
type planSummary struct {
	CompositionID   string      `json:"compositionId"`
	TotalFrames     int         `json:"totalFrames"`
	FPS             float64     `json:"fps"`
	Width           int         `json:"width,omitempty"`
	Height          int         `json:"height,omitempty"`
	Concurrency     int         `json:"concurrency"`
	DurationSeconds float64     `json:"durationSeconds"`
	Scenes          []planScene `json:"scenes"`
}

type planScene struct {
	Index      int      `json:"index"`
	ID         string   `json:"id"`
	Start      float64  `json:"start"`
	Duration   float64  `json:"duration"`
	Frames     int      `json:"frames"`
	Narration  string   `json:"narration"`
	Components []string `json:"components,omitempty"`
}

func buildPlanSummary(m *manifest.Manifest, compositionID string, concurrency int) planSummary {
	plan := render.NewPlan(m, compositionID, concurrency, nil)
	summary := planSummary{
		CompositionID:   plan.CompositionID,
		TotalFrames:     plan.TotalFrames,
		FPS:             plan.FPS,
		Width:           plan.Width,
		Height:          plan.Height,
		Concurrency:     plan.Concurrency,
		DurationSeconds: m.TotalDurationSeconds(),
		Scenes:          make([]planScene, 0, len(m.Scenes)),
	}
	for i, s := range m.Scenes {
		ps := planScene{
			Index:     i,
			ID:        s.ID,
			Start:     s.StartOffset,
			Duration:  s.DurationSeconds,
			Frames:    int(math.Floor(s.DurationSeconds * plan.FPS)),
			Narration: narrationKind(s.Narration),
		}
		for _, c := range s.Visuals.Components {
			ps.Components = append(ps.Components, c.Type())
		}
		summary.Scenes = append(summary.Scenes, ps)
	}
	return summary
}

func narrationKind(n manifest.NarrationSegment) string {
	switch {
	case n.AudioURL != "":
		return "audio"
	case n.NeedsSynthesis():
		return "synthesize"
	default:
		return "none"
	}
}

func newPlanCommand(ctx *commandContext) *cobra.Command {
	var compositionID string
	var concurrency int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "plan <manifest.json|manifest.toml|->",
		Short: "Show the render plan computed for a manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadManifest(cmd, ctx, args[0])
			if err != nil {
				return err
			}
			summary := buildPlanSummary(m, compositionID, concurrency)
			if asJSON {
				return writeJSON(cmd, summary)
			}

			rows := make([][]string, 0, len(summary.Scenes))
			for _, s := range summary.Scenes {
				rows = append(rows, []string{
					strconv.Itoa(s.Index),
					s.ID,
					formatSeconds(s.Start),
					formatSeconds(s.Duration),
					strconv.Itoa(s.Frames),
					s.Narration,
					strings.Join(s.Components, ", "),
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(
				[]string{"#", "Scene", "Start", "Duration", "Frames", "Narration", "Components"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignRight, alignLeft, alignLeft},
			))
			fmt.Fprintf(out, "Composition: %s\n", summary.CompositionID)
			fmt.Fprintf(out, "Frames:      %d at %s fps (%ss)\n",
				summary.TotalFrames, strconv.FormatFloat(summary.FPS, 'f', -1, 64), formatSeconds(summary.DurationSeconds))
			if summary.Width > 0 {
				fmt.Fprintf(out, "Resolution:  %dx%d\n", summary.Width, summary.Height)
			}
			fmt.Fprintf(out, "Concurrency: %d\n", summary.Concurrency)
			return nil
		},
	}

	cmd.Flags().StringVar(&compositionID, "composition", render.DefaultCompositionID, "Composition to render")
	cmd.Flags().IntVar(&concurrency, "concurrency", render.DefaultConcurrency, "Renderer concurrency")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output the plan as JSON")
	return cmd
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
