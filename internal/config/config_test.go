package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
timezone = "UTC"

[navigation]
retries = 5
backoff = "500ms"

[pool]
max_sessions = 2
`), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "UTC", cfg.Timezone)
	assert.Equal(t, 5, cfg.Navigation.Retries)
	assert.Equal(t, 500*time.Millisecond, cfg.Navigation.Backoff.Duration)
	assert.Equal(t, 60*time.Second, cfg.Navigation.Timeout.Duration)
	assert.Equal(t, 2, cfg.Pool.MaxSessions)
	assert.Equal(t, 15*time.Minute, cfg.Pool.IdleTimeout.Duration)
	assert.Equal(t, ProviderOpenAI, cfg.Generator.DefaultProvider)
}

func TestSaveFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := Default()
	cfg.Pool.QueueTimeout = Duration{2 * time.Minute}
	require.NoError(t, cfg.SaveFile(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, loaded.Pool.QueueTimeout.Duration)
	assert.Equal(t, cfg.Trends.URL, loaded.Trends.URL)
}

func TestInvalidDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[navigation]\ntimeout = \"soon\"\n"), 0o600))

	_, err := LoadFile(path)
	require.Error(t, err)
}

func TestLocation(t *testing.T) {
	cfg := Default()
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Tokyo", loc.String())

	cfg.Timezone = "Nowhere/Atlantis"
	_, err = cfg.Location()
	require.Error(t, err)
}

func TestLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")

	cfg, created, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, Default().Pool.MaxSessions, cfg.Pool.MaxSessions)
	assert.FileExists(t, path)

	_, created, err = LoadOrCreate(path)
	require.NoError(t, err)
	assert.False(t, created)
}
