// Package manifest defines the strict media manifest schema consumed by the
// render pipeline and the normalizer that produces it from loosely-typed input.
package manifest

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Manifest is a normalized description of a video: global metadata plus an
// ordered list of scenes.
type Manifest struct {
	Meta   Meta    `json:"meta"`
	Scenes []Scene `json:"scenes" validate:"min=1,dive"`
}

// Meta holds manifest-wide settings.
type Meta struct {
	ID              string  `json:"id"`
	Version         string  `json:"version" validate:"required"`
	Theme           string  `json:"theme" validate:"required"`
	Resolution      string  `json:"resolution" validate:"required"`
	FramesPerSecond float64 `json:"framesPerSecond" validate:"gt=0,lte=240"`
}

// Scene is one timed segment of the video.
type Scene struct {
	ID              string           `json:"id" validate:"required"`
	StartOffset     float64          `json:"startOffset" validate:"gte=0"`
	DurationSeconds float64          `json:"durationSeconds" validate:"gt=0,lte=86400"`
	Narration       NarrationSegment `json:"narration"`
	Visuals         Visuals          `json:"visuals"`
}

// NarrationSegment is the spoken part of a scene. When AudioURL is set the
// scene already has audio and is never sent to the speech synthesizer.
type NarrationSegment struct {
	Text     string `json:"text,omitempty"`
	AudioURL string `json:"audioUrl,omitempty"`
}

// NeedsSynthesis reports whether the segment has text but no audio yet.
func (n NarrationSegment) NeedsSynthesis() bool {
	return n.AudioURL == "" && strings.TrimSpace(n.Text) != ""
}

// Visuals describes what is on screen during a scene.
type Visuals struct {
	Layout     string      `json:"layout"`
	Components []Component `json:"components"`
}

// Component is an opaque visual component descriptor. Only the "type" key is
// interpreted by this package.
type Component map[string]any

// Type returns the component type, or "" when absent.
func (c Component) Type() string {
	t, _ := c["type"].(string)
	return t
}

// TotalDurationSeconds returns the sum of all scene durations.
func (m *Manifest) TotalDurationSeconds() float64 {
	var total float64
	for _, s := range m.Scenes {
		total += s.DurationSeconds
	}
	return total
}

// UnknownComponentTypes returns the sorted, de-duplicated component types
// that are not part of the known component set. Such components are passed
// through to the renderer unchanged.
func (m *Manifest) UnknownComponentTypes() []string {
	seen := make(map[string]struct{})
	for _, s := range m.Scenes {
		for _, c := range s.Visuals.Components {
			t := c.Type()
			if _, known := knownComponentTypes[t]; known {
				continue
			}
			seen[t] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Dimensions parses Meta.Resolution ("WIDTHxHEIGHT").
func (m Meta) Dimensions() (width, height int, err error) {
	w, h, ok := strings.Cut(strings.ToLower(m.Resolution), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid resolution %q", m.Resolution)
	}
	width, err = strconv.Atoi(strings.TrimSpace(w))
	if err != nil || width <= 0 {
		return 0, 0, fmt.Errorf("invalid resolution width %q", m.Resolution)
	}
	height, err = strconv.Atoi(strings.TrimSpace(h))
	if err != nil || height <= 0 {
		return 0, 0, fmt.Errorf("invalid resolution height %q", m.Resolution)
	}
	return width, height, nil
}

// knownComponentTypes is the set of component types the composition renders.
var knownComponentTypes = map[string]struct{}{
	"title":          {},
	"subtitle":       {},
	"text":           {},
	"bullet-list":    {},
	"metric":         {},
	"chart":          {},
	"table":          {},
	"quote":          {},
	"image":          {},
	"callout":        {},
	"timeline":       {},
	"recommendation": {},
}
