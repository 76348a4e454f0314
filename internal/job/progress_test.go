package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T, store Store) (*Tracker, *time.Time) {
	t.Helper()
	require.NoError(t, store.Upsert(context.Background(), "job-1", Patch{}))
	tr := NewTracker(store, "job-1", nil, time.Second)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return clock }
	return tr, &clock
}

func TestRange_At(t *testing.T) {
	tests := []struct {
		r    Range
		f    float64
		want int
	}{
		{RangeRendering, 0, 30},
		{RangeRendering, 0.5, 60},
		{RangeRendering, 1, 90},
		{RangeRendering, 1.7, 90},
		{RangeRendering, -1, 30},
		{RangeNarration, 1.0 / 3.0, 13},
		{RangeUploading, 0.99, 94},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.r.At(tt.f), "%v.At(%v)", tt.r, tt.f)
	}
}

func TestTracker_StageWritesImmediately(t *testing.T) {
	store := newRecordingStore()
	tr, _ := newTestTracker(t, store)
	ctx := context.Background()

	require.NoError(t, tr.Stage(ctx, StageBundling, 0, "Bundling"))
	require.NoError(t, tr.Stage(ctx, StageSynthesizing, 5, "Narration"))

	j, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StageSynthesizing, j.Stage)
	assert.Equal(t, StatusProcessing, j.Status)
	assert.Equal(t, 5, j.Progress)
	assert.Equal(t, "Narration", j.ProgressLabel)
	assert.Equal(t, []int{0, 5}, store.Progress())
}

func TestTracker_RejectsInvalidTransition(t *testing.T) {
	store := newRecordingStore()
	tr, _ := newTestTracker(t, store)

	err := tr.Stage(context.Background(), StageRendering, 30, "Rendering")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Empty(t, store.Progress())
}

func TestTracker_AdvanceIsThrottled(t *testing.T) {
	store := newRecordingStore()
	tr, clock := newTestTracker(t, store)
	ctx := context.Background()

	require.NoError(t, tr.Stage(ctx, StageBundling, 0, "Bundling"))
	require.NoError(t, tr.Stage(ctx, StageSynthesizing, 5, ""))
	require.NoError(t, tr.Stage(ctx, StageRendering, 30, "Rendering"))

	// Within the interval: suppressed.
	for p := 31; p <= 40; p++ {
		tr.Advance(ctx, p, "")
	}
	assert.Equal(t, []int{0, 5, 30}, store.Progress())

	// After the interval: the latest value is written once.
	*clock = clock.Add(1100 * time.Millisecond)
	tr.Advance(ctx, 45, "")
	tr.Advance(ctx, 46, "")
	assert.Equal(t, []int{0, 5, 30, 45}, store.Progress())

	// Stage writes are never throttled.
	require.NoError(t, tr.Stage(ctx, StageUploading, 90, "Uploading"))
	assert.Equal(t, []int{0, 5, 30, 45, 90}, store.Progress())
}

func TestTracker_ProgressIsMonotonic(t *testing.T) {
	store := newRecordingStore()
	tr, clock := newTestTracker(t, store)
	ctx := context.Background()

	require.NoError(t, tr.Stage(ctx, StageBundling, 0, ""))
	require.NoError(t, tr.Stage(ctx, StageSynthesizing, 5, ""))
	require.NoError(t, tr.Stage(ctx, StageRendering, 30, ""))

	for _, p := range []int{50, 40, 60, 10, 75} {
		*clock = clock.Add(2 * time.Second)
		tr.Advance(ctx, p, "")
	}
	// A stage write below the current value is raised to it.
	require.NoError(t, tr.Stage(ctx, StageUploading, 20, ""))

	written := store.Progress()
	for i := 1; i < len(written); i++ {
		assert.GreaterOrEqual(t, written[i], written[i-1], "progress went backwards: %v", written)
	}
	_, last := tr.Snapshot()
	assert.Equal(t, 75, last)
}

func TestTracker_Complete(t *testing.T) {
	store := newRecordingStore()
	tr, _ := newTestTracker(t, store)
	ctx := context.Background()

	for _, s := range []Stage{StageBundling, StageSynthesizing, StageRendering, StageUploading} {
		require.NoError(t, tr.Stage(ctx, s, 0, ""))
	}
	require.NoError(t, tr.Complete(ctx, "https://cdn/v.mp4", map[string]any{"posterUrl": "p"}))

	j, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, j.Status)
	assert.Equal(t, StageCompleted, j.Stage)
	assert.Equal(t, 100, j.Progress)
	assert.Equal(t, "https://cdn/v.mp4", j.VideoURL)
	assert.Equal(t, "p", j.Metadata["posterUrl"])
	assert.False(t, j.CompletedAt.IsZero())

	// Nothing is written after a terminal state.
	n := len(store.Progress())
	tr.Advance(ctx, 100, "late")
	tr.Fail(ctx, errors.New("late failure"), nil)
	assert.Len(t, store.Progress(), n)
}

func TestTracker_CompleteBeforeUploadIsRejected(t *testing.T) {
	tr, _ := newTestTracker(t, newRecordingStore())
	require.NoError(t, tr.Stage(context.Background(), StageBundling, 0, ""))
	assert.ErrorIs(t, tr.Complete(context.Background(), "u", nil), ErrInvalidTransition)
}

func TestTracker_FailKeepsProgress(t *testing.T) {
	store := newRecordingStore()
	tr, _ := newTestTracker(t, store)
	ctx := context.Background()

	require.NoError(t, tr.Stage(ctx, StageBundling, 3, ""))
	tr.Fail(ctx, errors.New("bundle exploded"), nil)

	j, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, j.Status)
	assert.Equal(t, StageFailed, j.Stage)
	assert.Equal(t, 3, j.Progress)
	assert.Equal(t, "bundle exploded", j.Error)
}

func TestTracker_StoreErrorsAreSwallowed(t *testing.T) {
	store := newRecordingStore()
	tr, _ := newTestTracker(t, store)
	store.updateErr = errors.New("db down")

	assert.NoError(t, tr.Stage(context.Background(), StageBundling, 0, ""))
	assert.NotPanics(t, func() { tr.Advance(context.Background(), 4, "") })
}
