package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 9340, cfg.Server.Port)
	assert.Equal(t, "tbcv.db", cfg.Database.Path)
	assert.Equal(t, 1, cfg.Workflow.CheckpointEvery)
	assert.Equal(t, 3, cfg.Workflow.CheckpointRetention)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"port too low", func(c *Config) { c.Server.Port = 0 }, true},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, true},
		{"zero shutdown timeout", func(c *Config) { c.Server.ShutdownTimeout = 0 }, true},
		{"empty database path", func(c *Config) { c.Database.Path = "" }, true},
		{"negative checkpoint interval", func(c *Config) { c.Workflow.CheckpointEvery = -1 }, true},
		{"negative retention", func(c *Config) { c.Workflow.CheckpointRetention = -1 }, true},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }, true},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"console format", func(c *Config) { c.Logging.Format = "console" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9400
  shutdown_timeout: 15s
database:
  path: /var/lib/tbcv/tbcv.db
content:
  dir: /srv/docs
  watch: true
workflow:
  checkpoint_every: 5
logging:
  level: debug
  format: console
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9400, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "/var/lib/tbcv/tbcv.db", cfg.Database.Path)
	assert.Equal(t, "/srv/docs", cfg.Content.Dir)
	assert.True(t, cfg.Content.Watch)
	assert.Equal(t, 5, cfg.Workflow.CheckpointEvery)
	// Unset keys keep their defaults.
	assert.Equal(t, 3, cfg.Workflow.CheckpointRetention)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 9340, cfg.Server.Port)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9400\n"), 0o644))

	t.Setenv("TBCV_SERVER_PORT", "9500")
	t.Setenv("TBCV_DATABASE_PATH", "/tmp/env.db")
	t.Setenv("TBCV_LOGGING_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9500, cfg.Server.Port)
	assert.Equal(t, "/tmp/env.db", cfg.Database.Path)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	t.Setenv("TBCV_SERVER_PORT", "0")
	_, err := Load("")
	require.Error(t, err)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
