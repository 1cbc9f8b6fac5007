package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.toml"))
	// monitor_root is required and absent from defaults, so this must fail
	// validation rather than silently succeed.
	require.Error(t, err)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".sefs.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
monitor_root = "/srv/docs"
cluster_eps = 0.4
chunk_size = 300
chunk_overlap = 40
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/docs", cfg.MonitorRoot)
	assert.Equal(t, 0.4, cfg.ClusterEps)
	assert.Equal(t, 300, cfg.ChunkSize)
	assert.Equal(t, 40, cfg.ChunkOverlap)
	// untouched defaults survive partial overrides
	assert.Equal(t, 5, cfg.TopKChunks)
}

func TestAnthropicKeyFromEnvOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".sefs.toml")
	require.NoError(t, os.WriteFile(path, []byte(`monitor_root = "/srv/docs"`), 0o644))

	t.Setenv("ANTHROPIC_API_KEY", "sk-test-123")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", cfg.AnthropicAPIKey)
}

func TestValidateRejectsBadOverlap(t *testing.T) {
	cfg := Defaults()
	cfg.MonitorRoot = "/x"
	cfg.ChunkOverlap = cfg.ChunkSize
	assert.Error(t, cfg.Validate())
}
