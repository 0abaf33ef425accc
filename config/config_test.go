package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 4, cfg.MaxWorkers)
		assert.Equal(t, 3, cfg.MaxScrapers)
		assert.Equal(t, 3, cfg.MaxAttempts)
		assert.Equal(t, "sqlite", cfg.CheckpointBackend)
		assert.Equal(t, "mp4", cfg.TargetContainer)
		assert.Equal(t, 512, cfg.MinWidth)
		assert.InDelta(t, 0.35, cfg.CutSceneThreshold, 1e-9)
		assert.Equal(t, 2*time.Second, cfg.SampleInterval)
		assert.Greater(t, cfg.MemoryPausePercent, cfg.MemoryResumePercent)
	})

	t.Run("env overrides", func(t *testing.T) {
		t.Setenv("MAX_WORKERS", "8")
		t.Setenv("TARGET_CONTAINER", "webm")
		t.Setenv("ADMISSION_WAIT_BUDGET", "30s")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 8, cfg.MaxWorkers)
		assert.Equal(t, "webm", cfg.TargetContainer)
		assert.Equal(t, 30*time.Second, cfg.AdmissionWaitBudget)
	})

	t.Run("invalid integer", func(t *testing.T) {
		t.Setenv("MAX_WORKERS", "many")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("resume threshold above pause threshold", func(t *testing.T) {
		t.Setenv("MEMORY_PAUSE_PERCENT", "70")
		t.Setenv("MEMORY_RESUME_PERCENT", "80")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("unknown checkpoint backend", func(t *testing.T) {
		t.Setenv("CHECKPOINT_BACKEND", "postgres")

		_, err := Load()
		assert.Error(t, err)
	})
}
