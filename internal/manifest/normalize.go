package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/videoforge-api/internal/apperr"
)

// Defaults applied to missing manifest fields.
const (
	DefaultVersion              = "1.0"
	DefaultTheme                = "institutional-dark"
	DefaultResolution           = "1920x1080"
	DefaultFramesPerSecond      = 30.0
	DefaultLayout               = "default"
	DefaultSceneDurationSeconds = 5.0

	// RationaleSeparator joins list-valued recommendation rationales.
	RationaleSeparator = ". "
)

// Upper bounds enforced by Validate. The per-field limits mirror the
// validate tags on Meta and Scene.
const (
	MaxFramesPerSecond      = 240.0
	MaxSceneDurationSeconds = 86400.0
	// MaxTotalFrames keeps the frame count representable on every platform.
	MaxTotalFrames = math.MaxInt32
)

const opNormalize = "manifest.normalize"

var validate = validator.New(validator.WithRequiredStructEnabled())

// Normalize decodes a loosely-typed JSON manifest and returns its strict form.
// It fails with a VALIDATION_ERROR when the input is empty, is not a JSON
// object, or normalizes to a manifest without scenes.
func Normalize(raw []byte) (*Manifest, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, apperr.New(apperr.CodeValidation, opNormalize, "manifest is empty")
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeValidation, opNormalize, "manifest is not a JSON object")
	}
	return NormalizeMap(doc)
}

// NormalizeMap normalizes an already decoded manifest document.
func NormalizeMap(doc map[string]any) (*Manifest, error) {
	if doc == nil {
		return nil, apperr.New(apperr.CodeValidation, opNormalize, "manifest is empty")
	}

	m := &Manifest{
		Meta: normalizeMeta(asMap(pick(doc, "meta", "metadata"))),
	}

	var offset float64
	for _, raw := range asSlice(pick(doc, "scenes")) {
		sm := asMap(raw)
		if sm == nil {
			continue
		}
		scene := normalizeScene(sm, len(m.Scenes), offset)
		offset = scene.StartOffset + scene.DurationSeconds
		m.Scenes = append(m.Scenes, scene)
	}

	if err := Validate(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks manifest invariants: at least one scene, a frame rate in
// (0, MaxFramesPerSecond], scene durations in (0, MaxSceneDurationSeconds]
// and a total frame count no larger than MaxTotalFrames.
func Validate(m *Manifest) error {
	if m == nil || len(m.Scenes) == 0 {
		return apperr.New(apperr.CodeValidation, opNormalize, "manifest must contain at least one scene")
	}
	if err := validate.Struct(m); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return apperr.Wrap(err, apperr.CodeValidation, opNormalize, "invalid manifest")
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed '%s'", fe.Namespace(), fe.Tag()))
		}
		return apperr.New(apperr.CodeValidation, opNormalize, "invalid manifest: "+strings.Join(msgs, "; "))
	}
	if frames := m.TotalDurationSeconds() * m.Meta.FramesPerSecond; frames > MaxTotalFrames {
		return apperr.Newf(apperr.CodeValidation, opNormalize,
			"manifest is too long: %.0f frames exceeds the limit of %d", frames, MaxTotalFrames)
	}
	return nil
}

func normalizeMeta(raw map[string]any) Meta {
	meta := Meta{
		ID:              asString(pick(raw, "id", "manifestId")),
		Version:         asString(pick(raw, "version")),
		Theme:           asString(pick(raw, "theme")),
		Resolution:      normalizeResolution(pick(raw, "resolution", "size")),
		FramesPerSecond: DefaultFramesPerSecond,
	}
	// An explicit rate is kept as given so Validate can reject it.
	if fps, ok := asFloat(pick(raw, "framesPerSecond", "fps", "frameRate")); ok {
		meta.FramesPerSecond = fps
	}

	if meta.Version == "" {
		meta.Version = DefaultVersion
	}
	if meta.Theme == "" {
		meta.Theme = DefaultTheme
	}
	if meta.Resolution == "" {
		meta.Resolution = DefaultResolution
	}
	return meta
}

// normalizeResolution accepts "1920x1080" or {"width":1920,"height":1080}.
func normalizeResolution(v any) string {
	if s := asString(v); s != "" {
		return s
	}
	m := asMap(v)
	if m == nil {
		return ""
	}
	w, okW := asFloat(m["width"])
	h, okH := asFloat(m["height"])
	if !okW || !okH || w <= 0 || h <= 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", int(w), int(h))
}

func normalizeScene(raw map[string]any, index int, offset float64) Scene {
	scene := Scene{
		ID:              asString(pick(raw, "id", "sceneId")),
		StartOffset:     offset,
		DurationSeconds: DefaultSceneDurationSeconds,
		Narration:       normalizeNarration(pick(raw, "narration", "voiceover", "script")),
	}
	if scene.ID == "" {
		scene.ID = fmt.Sprintf("scene-%d", index+1)
	}
	if start, ok := asFloat(pick(raw, "startOffset", "start", "startSeconds")); ok && start >= 0 {
		scene.StartOffset = start
	}
	if d, ok := asFloat(pick(raw, "durationSeconds", "duration", "durationSec")); ok && d > 0 {
		scene.DurationSeconds = d
	}
	if scene.Narration.AudioURL == "" {
		scene.Narration.AudioURL = asString(pick(raw, "audioUrl", "audio_url"))
	}

	visuals := asMap(pick(raw, "visuals", "visual"))
	scene.Visuals.Layout = asString(pick(visuals, "layout"))
	if scene.Visuals.Layout == "" {
		scene.Visuals.Layout = DefaultLayout
	}
	scene.Visuals.Components = make([]Component, 0)
	for _, rc := range asSlice(pick(visuals, "components", "elements")) {
		cm := asMap(rc)
		if cm == nil {
			continue
		}
		scene.Visuals.Components = append(scene.Visuals.Components, normalizeComponent(cm))
	}
	return scene
}

// normalizeNarration accepts a bare string or an object with text/audio keys.
func normalizeNarration(v any) NarrationSegment {
	if s, ok := v.(string); ok {
		return NarrationSegment{Text: strings.TrimSpace(s)}
	}
	m := asMap(v)
	if m == nil {
		return NarrationSegment{}
	}
	return NarrationSegment{
		Text:     strings.TrimSpace(asString(pick(m, "text", "script", "content"))),
		AudioURL: asString(pick(m, "audioUrl", "audio_url", "audio", "url")),
	}
}

// normalizeComponent copies the descriptor and flattens list-valued
// recommendation rationales into one string.
func normalizeComponent(raw map[string]any) Component {
	c := make(Component, len(raw))
	for k, v := range raw {
		c[k] = v
	}
	if c.Type() != "recommendation" {
		return c
	}
	if parts, ok := stringList(c["rationale"]); ok {
		c["rationale"] = strings.Join(parts, RationaleSeparator)
	}
	return c
}

// pick returns the first non-nil value among keys.
func pick(m map[string]any, keys ...string) any {
	if m == nil {
		return nil
	}
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// stringList reports whether v is a list made only of strings.
func stringList(v any) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return t, true
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, strings.TrimSpace(s))
		}
		return out, true
	default:
		return nil, false
	}
}
