package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenNoConfigFile(t *testing.T) {
	// An empty path puts viper in search-path mode, where a missing
	// config.yaml surfaces as ConfigFileNotFoundError and Load tolerates
	// it. An explicit nonexistent path is a different, harder error.
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 25, cfg.Database.MaxOpenConns)
	require.Equal(t, 10, cfg.Database.MaxIdleConns)
	require.Equal(t, "assets", cfg.Storage.AssetsBucket)
	require.Equal(t, "scripts", cfg.Storage.ScriptsBucket)
	require.Equal(t, "prod", cfg.Logging.Mode)
	require.Equal(t, 1*time.Second, cfg.Retry.Base)
	require.Equal(t, 3, cfg.Retry.MaxRetries)
	require.Equal(t, 15*time.Minute, cfg.Supervisor.OrphanThreshold)
	require.Equal(t, []string{"pending", "started", "received", "retry"}, cfg.Supervisor.ActiveTaskStates)
}

func TestLoad_ConfigFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  max_open_conns: 5
storage:
  assets_bucket: custom-assets
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 5, cfg.Database.MaxOpenConns)
	require.Equal(t, "custom-assets", cfg.Storage.AssetsBucket)
	require.Equal(t, 10, cfg.Database.MaxIdleConns, "unset keys keep their default")
}

func TestLoad_EnvironmentVariableOverridesDefault(t *testing.T) {
	t.Setenv("CONTENTFORGE_DATABASE_DSN", "postgres://env-set")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "postgres://env-set", cfg.Database.DSN)
}
