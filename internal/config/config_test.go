package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()
	assert.Equal(t, int64(2*1024*1024), cfg.Limits.MaxRecordPayloadBytes)
	assert.False(t, cfg.EnableQuota)
	assert.Equal(t, 5*time.Minute, cfg.TokenDuration)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().DatabasePoolMaxSize, cfg.DatabasePoolMaxSize)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database_url: "bolt:///tmp/sync.db"
enable_quota: true
limits:
  max_post_records: 42
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "bolt:///tmp/sync.db", cfg.DatabaseURL)
	assert.True(t, cfg.EnableQuota)
	assert.Equal(t, 42, cfg.Limits.MaxPostRecords)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("SYNC_DATABASE_URL", "bolt:///env-override.db")
	t.Setenv("SYNC_ENABLE_QUOTA", "true")
	t.Setenv("SYNC_TOKEN_DURATION", "90s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "bolt:///env-override.db", cfg.DatabaseURL)
	assert.True(t, cfg.EnableQuota)
	assert.Equal(t, 90*time.Second, cfg.TokenDuration)
}
