package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/preflight/preflight/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(config.LoaderOptions{ConfigPaths: []string{t.TempDir()}})
	require.NoError(t, err)

	assert.Equal(t, 8787, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "human", cfg.Log.Format)
	assert.Equal(t, 5, cfg.Presence.GraceSeconds)
	assert.NotEmpty(t, cfg.Store.Path)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("PREFLIGHT_SERVER_PORT", "9999")
	t.Setenv("PREFLIGHT_LOG_LEVEL", "debug")

	cfg, err := config.Load(config.LoaderOptions{ConfigPaths: []string{t.TempDir()}})
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_ConfigFileOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "preflight.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 1234\nstore:\n  path: /tmp/custom-state.json\n"), 0o644))

	cfg, err := config.Load(config.LoaderOptions{ConfigPaths: []string{dir}})
	require.NoError(t, err)

	assert.Equal(t, 1234, cfg.Server.Port)
	assert.Equal(t, "/tmp/custom-state.json", cfg.Store.Path)
}
