package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[heartbeat]
interval_seconds = 10
miss_threshold = 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 10, cfg.Heartbeat.IntervalSeconds)
	require.Equal(t, 5, cfg.Heartbeat.MissThreshold)
	// Untouched sections keep their defaults.
	require.Equal(t, DefaultConfig().Container.Image, cfg.Container.Image)
}

func TestValidateAggregatesProblems(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "session.root_dir is required")
	require.Contains(t, err.Error(), "session.socket_dir is required")
	require.Contains(t, err.Error(), "container.image is required")
}

func TestValidateLayoutWidths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Layout.ShellWidthPct = 10
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "layout width percentages must sum to 100")
}

func TestSessionDirAndSocketPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Session.RootDir = "/tmp/sessions"
	cfg.Session.SocketDir = "/tmp/sock"
	require.Equal(t, "/tmp/sessions/abc123", cfg.SessionDir("abc123"))
	require.Equal(t, "/tmp/sock/abc123.sock", cfg.SocketPath("abc123"))
}
