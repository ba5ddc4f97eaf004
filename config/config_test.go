package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "127.0.0.1:8400", cfg.Server.Addr())
	assert.Equal(t, "./data/clinic.db", cfg.Database.Path)
	assert.Equal(t, zerolog.InfoLevel, cfg.Logging.ZerologLevel())
	assert.Equal(t, time.Duration(0), cfg.Billing.PendingAge())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/clinic.toml")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clinic.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
port = 9000

[logging]
level = "debug"

[billing]
pending_max_age = "720h"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, zerolog.DebugLevel, cfg.Logging.ZerologLevel())
	assert.Equal(t, 720*time.Hour, cfg.Billing.PendingAge())
	assert.Equal(t, "./data/clinic.db", cfg.Database.Path)
}

func TestLoad_MalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server\nport ="), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
