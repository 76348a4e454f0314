package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/videoforge-api/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		PublicHost:          "http://localhost:8080",
		OutputDir:           t.TempDir(),
		RenderEngineURL:     "http://renderer:3000",
		RenderConcurrency:   2,
		SpeechAPIURL:        "http://speech.test/v1",
		SpeechAPIKey:        "sk-test",
		SpeechVoiceModel:    "tts-1:alloy",
		JobStore:            config.JobStoreMemory,
		FFmpegPath:          "ffmpeg",
		FFprobePath:         "ffprobe",
		ProgressMinInterval: time.Second,
		RetainedVideoTTL:    72 * time.Hour,
	}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewDependencies_LocalDefaults(t *testing.T) {
	cfg := testConfig(t)

	deps, err := NewDependencies(context.Background(), cfg, discard())
	require.NoError(t, err)
	defer func() { _ = deps.Close() }()

	assert.NotNil(t, deps.JobService)
	assert.NotNil(t, deps.Metrics)
	assert.True(t, deps.Sweeper.Enabled())
	assert.Equal(t, filepath.Join(cfg.OutputDir, "public"), deps.PublicDir)
	assert.DirExists(t, deps.PublicDir)

	sc := deps.ServerConfig()
	assert.Equal(t, cfg.OutputDir, sc.OutputDir)
	assert.Equal(t, deps.PublicDir, sc.PublicDir)
	assert.Same(t, deps.Metrics, sc.Metrics)
}

func TestNewDependencies_SQLiteStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.JobStore = config.JobStoreSQLite

	deps, err := NewDependencies(context.Background(), cfg, discard())
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(cfg.OutputDir, "jobs.db"))
	assert.NoError(t, deps.Close())
}

func TestNewDependencies_Errors(t *testing.T) {
	t.Run("missing speech url", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.SpeechAPIURL = ""
		_, err := NewDependencies(context.Background(), cfg, discard())
		assert.ErrorContains(t, err, "speech client")
	})

	t.Run("missing engine url", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.RenderEngineURL = ""
		_, err := NewDependencies(context.Background(), cfg, discard())
		assert.ErrorContains(t, err, "render engine")
	})

	t.Run("unreachable redis", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.JobStore = config.JobStoreRedis
		cfg.RedisAddr = "127.0.0.1:1"
		_, err := NewDependencies(context.Background(), cfg, discard())
		assert.ErrorContains(t, err, "connect redis")
	})
}
