package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "8091", cfg.ServerPort)
	assert.Equal(t, "local", cfg.SyncChannel)
	assert.Equal(t, "server-wins", cfg.SyncStrategy)
	assert.Equal(t, int32(30), cfg.Postgres.MaxConns)
	assert.False(t, cfg.UsesRedis())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "postgres")
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("SYNC_CHANNEL", "redis")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("SYNC_STRATEGY", "manual")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, "secret", cfg.Postgres.Password)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, "manual", cfg.SyncStrategy)
	assert.True(t, cfg.UsesRedis())
}

func TestLoad_PostgresNeedsPassword(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "postgres")
	t.Setenv("POSTGRES_PASSWORD", "")

	_, err := Load()
	assert.ErrorContains(t, err, "POSTGRES_PASSWORD")
}

func TestLoad_InvalidDriver(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "mongo")

	_, err := Load()
	assert.ErrorContains(t, err, "configuration validation failed")
}

func TestLoad_InvalidSyncStrategy(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "")
	t.Setenv("SYNC_STRATEGY", "last-write-wins")

	_, err := Load()
	assert.ErrorContains(t, err, "configuration validation failed")
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planner.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server_port: \"9000\"\nlocal_driver: redis\n"), 0o600))
	t.Setenv("PLANNER_CONFIG", path)
	t.Setenv("STORAGE_DRIVER", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.ServerPort)
	assert.Equal(t, "redis", cfg.Storage.LocalDriver)
}
