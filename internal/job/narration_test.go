package job

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/videoforge-api/internal/manifest"
	"github.com/maauso/videoforge-api/internal/storage"
)

func narrationManifest() *manifest.Manifest {
	return &manifest.Manifest{
		Meta: manifest.Meta{FramesPerSecond: 30},
		Scenes: []manifest.Scene{
			{ID: "intro", DurationSeconds: 5, Narration: manifest.NarrationSegment{Text: "Hello"}},
			{ID: "voiced", DurationSeconds: 5, Narration: manifest.NarrationSegment{Text: "Already", AudioURL: "https://cdn/pre.mp3"}},
			{ID: "silent", DurationSeconds: 5},
			{ID: "broken", DurationSeconds: 5, Narration: manifest.NarrationSegment{Text: "Boom"}},
			{ID: "outro", DurationSeconds: 5, Narration: manifest.NarrationSegment{Text: "Bye"}},
		},
	}
}

func TestNarrationSynthesizer_Synthesize(t *testing.T) {
	ctx := context.Background()
	speech := &fakeSpeech{failOn: map[string]bool{"Boom": true}}
	files := newTestFiles(t)
	objects := newFakeObjects()
	n := NewNarrationSynthesizer(speech, files, objects, fakeProbe{seconds: 2.5}, "tts-1:alloy", nil, nil)

	m := narrationManifest()
	ledger := NewLedger()
	var calls [][2]int
	report := n.Synthesize(ctx, "job-1", m, ledger, func(done, total int) {
		calls = append(calls, [2]int{done, total})
	})

	// Pre-existing audio is never synthesized; empty narration is skipped.
	assert.Equal(t, []string{"Hello", "Boom", "Bye"}, speech.Calls())
	assert.Equal(t, "https://cdn/pre.mp3", m.Scenes[1].Narration.AudioURL)
	assert.Empty(t, m.Scenes[2].Narration.AudioURL)

	// A failing scene is tolerated and keeps no audio.
	assert.Equal(t, 3, report.Eligible)
	assert.Equal(t, 2, report.Synthesized)
	assert.Equal(t, 1, report.Failed)
	assert.Empty(t, m.Scenes[3].Narration.AudioURL)

	assert.Equal(t, "https://cdn.test/narration/job-1-scene-0.mp3", m.Scenes[0].Narration.AudioURL)
	assert.Equal(t, "https://cdn.test/narration/job-1-scene-4.mp3", m.Scenes[4].Narration.AudioURL)
	assert.Equal(t, map[string]float64{"intro": 2.5, "outro": 2.5}, report.Durations)

	assert.Equal(t, [][2]int{{1, 3}, {2, 3}, {3, 3}}, calls)

	assert.ElementsMatch(t, []string{
		filepath.Join(files.Root(), "narration", "job-1-scene-0.mp3"),
		filepath.Join(files.Root(), "narration", "job-1-scene-4.mp3"),
	}, ledger.LocalFiles())
	assert.ElementsMatch(t, []string{"job-1-scene-0.mp3", "job-1-scene-4.mp3"},
		ledger.RemoteObjects()[storage.BucketNarration])
}

func TestNarrationSynthesizer_UploadFailureIsNonFatal(t *testing.T) {
	ctx := context.Background()
	files := newTestFiles(t)
	objects := newFakeObjects()
	objects.failPut[storage.BucketNarration] = true
	n := NewNarrationSynthesizer(&fakeSpeech{}, files, objects, nil, "", nil, nil)

	m := &manifest.Manifest{Scenes: []manifest.Scene{{ID: "a", Narration: manifest.NarrationSegment{Text: "x"}}}}
	ledger := NewLedger()
	report := n.Synthesize(ctx, "job-2", m, ledger, nil)

	assert.Equal(t, 1, report.Failed)
	assert.Empty(t, m.Scenes[0].Narration.AudioURL)
	// The local file written before the failed upload is still tracked.
	require.Len(t, ledger.LocalFiles(), 1)
	assert.FileExists(t, ledger.LocalFiles()[0])
}

func TestNarrationSynthesizer_NothingEligible(t *testing.T) {
	n := NewNarrationSynthesizer(&fakeSpeech{}, newTestFiles(t), newFakeObjects(), nil, "", nil, nil)
	m := &manifest.Manifest{Scenes: []manifest.Scene{{ID: "a"}}}

	called := false
	report := n.Synthesize(context.Background(), "job-3", m, NewLedger(), func(int, int) { called = true })

	assert.Zero(t, report.Eligible)
	assert.False(t, called)
}

func TestNarrationReport_Metadata(t *testing.T) {
	md := NarrationReport{Eligible: 2, Synthesized: 1, Failed: 1}.Metadata()
	assert.Equal(t, 1, md["narrationFailed"])
	assert.NotContains(t, md, "narrationDurations")
}
