package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.Model.Provider)
	assert.Equal(t, 10, cfg.MaxIterations)
	assert.Equal(t, time.Hour, cfg.WorkingMemoryTTL())
	assert.Contains(t, cfg.Risk.SensitiveKinds, "medication")
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recordflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
model:
  provider: openai
  model: gpt-4o-mini
memory:
  database_path: /tmp/rf.db
  working_memory_ttl: 30m
  summary_interval: 5
risk:
  sensitive_kinds: [medication, allergy]
  recency_threshold: 12h
max_iterations: 6
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Model.Provider)
	assert.Equal(t, "/tmp/rf.db", cfg.Memory.DatabasePath)
	assert.Equal(t, 30*time.Minute, cfg.WorkingMemoryTTL())
	assert.Equal(t, 5, cfg.Memory.SummaryInterval)
	assert.Equal(t, []string{"medication", "allergy"}, cfg.Risk.SensitiveKinds)
	assert.Equal(t, 12*time.Hour, cfg.RecencyThreshold())
	assert.Equal(t, 6, cfg.MaxIterations)
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model: [unclosed"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RECORDFLOW_MODEL_PROVIDER", "openai")
	t.Setenv("RECORDFLOW_DB_PATH", "/tmp/override.db")
	t.Setenv("RECORDFLOW_LOG_LEVEL", "debug")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Model.Provider)
	assert.Equal(t, "/tmp/override.db", cfg.Memory.DatabasePath)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "sk-test", cfg.Model.APIKey)
}

func TestInvalidDurationsFallBack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Memory.WorkingMemoryTTL = "not-a-duration"
	cfg.Risk.RecencyThreshold = ""

	assert.Equal(t, time.Hour, cfg.WorkingMemoryTTL())
	assert.Equal(t, 24*time.Hour, cfg.RecencyThreshold())
}
