package jobstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/videoforge-api/internal/job"
)

// runStoreTests exercises the job.Store contract against one implementation.
func runStoreTests(t *testing.T, newStore func(t *testing.T) job.Store) {
	t.Run("upsert creates queued record", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := uniqueID(t)

		require.NoError(t, s.Upsert(ctx, id, job.Patch{
			OriginID: job.Ptr("analysis-7"),
			Metadata: map[string]any{"manifestId": "m-1", "scenes": 2},
		}))

		j, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, j.ID)
		assert.Equal(t, job.StatusProcessing, j.Status)
		assert.Equal(t, job.StageQueued, j.Stage)
		assert.Equal(t, "analysis-7", j.OriginID)
		assert.Equal(t, "m-1", j.Metadata["manifestId"])
		assert.EqualValues(t, 2, j.Metadata["scenes"])
		assert.False(t, j.CreatedAt.IsZero())
		assert.True(t, j.CompletedAt.IsZero())
	})

	t.Run("update merges patch and metadata", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := uniqueID(t)

		require.NoError(t, s.Upsert(ctx, id, job.Patch{Metadata: map[string]any{"manifestId": "m-1"}}))
		require.NoError(t, s.Update(ctx, id, job.Patch{
			Stage:         job.Ptr(job.StageRendering),
			Progress:      job.Ptr(42),
			ProgressLabel: job.Ptr("Rendering video"),
			Metadata:      map[string]any{"narrationFailed": 1},
		}))

		j, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, job.StageRendering, j.Stage)
		assert.Equal(t, 42, j.Progress)
		assert.Equal(t, "Rendering video", j.ProgressLabel)
		assert.Equal(t, "m-1", j.Metadata["manifestId"])
		assert.EqualValues(t, 1, j.Metadata["narrationFailed"])
	})

	t.Run("terminal write", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := uniqueID(t)
		done := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

		require.NoError(t, s.Upsert(ctx, id, job.Patch{}))
		require.NoError(t, s.Update(ctx, id, job.Patch{
			Status:      job.Ptr(job.StatusCompleted),
			Stage:       job.Ptr(job.StageCompleted),
			Progress:    job.Ptr(100),
			VideoURL:    job.Ptr("https://cdn/v.mp4"),
			CompletedAt: &done,
		}))

		j, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.True(t, j.IsTerminal())
		assert.Equal(t, "https://cdn/v.mp4", j.VideoURL)
		assert.True(t, done.Equal(j.CompletedAt), "completed_at = %v", j.CompletedAt)
	})

	t.Run("update unknown job", func(t *testing.T) {
		s := newStore(t)
		err := s.Update(context.Background(), uniqueID(t), job.Patch{Progress: job.Ptr(5)})
		assert.ErrorIs(t, err, job.ErrJobNotFound)
	})

	t.Run("get unknown job", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), uniqueID(t))
		assert.ErrorIs(t, err, job.ErrJobNotFound)
	})

	t.Run("concurrent jobs", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		prefix := uniqueID(t)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id := fmt.Sprintf("%s-%d", prefix, i)
				assert.NoError(t, s.Upsert(ctx, id, job.Patch{}))
				for p := 1; p <= 5; p++ {
					assert.NoError(t, s.Update(ctx, id, job.Patch{Progress: job.Ptr(p * 10)}))
				}
			}(i)
		}
		wg.Wait()

		for i := 0; i < 8; i++ {
			j, err := s.Get(ctx, fmt.Sprintf("%s-%d", prefix, i))
			require.NoError(t, err)
			assert.Equal(t, 50, j.Progress)
		}
	})
}

func uniqueID(t *testing.T) string {
	return fmt.Sprintf("job-%s-%d", filepath.Base(t.Name()), time.Now().UnixNano())
}

func TestMemoryStore_Contract(t *testing.T) {
	runStoreTests(t, func(*testing.T) job.Store { return job.NewMemoryStore() })
}

func TestSQLite_Contract(t *testing.T) {
	runStoreTests(t, func(t *testing.T) job.Store {
		s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "jobs.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "jobs.db")

	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, "job-1", job.Patch{Progress: job.Ptr(30)}))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	j, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 30, j.Progress)
}

func TestPostgres_Contract(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	runStoreTests(t, func(t *testing.T) job.Store {
		s, err := OpenPostgres(context.Background(), url, "")
		require.NoError(t, err)
		t.Cleanup(s.Close)
		return s
	})
}

func TestRedis_Contract(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	runStoreTests(t, func(t *testing.T) job.Store {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		t.Cleanup(func() { _ = rdb.Close() })
		return NewRedis(rdb, time.Minute)
	})
}
