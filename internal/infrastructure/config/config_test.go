package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Version)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "data/seed", cfg.Ingestion.SeedDir)
	assert.Equal(t, int64(32<<20), cfg.Ingestion.MaxUploadBytes)
	assert.Equal(t, "mock", cfg.LLM.Provider)
	assert.Equal(t, 3, cfg.LLM.MaxRetries)
	assert.Empty(t, cfg.Security.JWTSecret)
	assert.Equal(t, 100, cfg.Security.RateLimit.RequestsPerSecond)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
environment: production
server:
  port: 9999
ingestion:
  seed_dir: /var/lib/sod/seed
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "/var/lib/sod/seed", cfg.Ingestion.SeedDir)

	// Values absent from the file keep their defaults.
	assert.Equal(t, "mock", cfg.LLM.Provider)
	assert.Equal(t, 100, cfg.Security.RateLimit.RequestsPerSecond)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SOD_ENVIRONMENT", "staging")
	t.Setenv("SOD_SERVER_PORT", "7070")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, 7070, cfg.Server.Port)
}
