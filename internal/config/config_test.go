package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dicetables-db/internal/store"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(Options{})
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, store.BackendMemory, cfg.Store.Backend)
	assert.Equal(t, 30, cfg.Cache.StepSize)
	assert.Equal(t, 0.8, cfg.Cache.CloseEnough)
	assert.Equal(t, "8080", cfg.Server.Port)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "dicetables.yaml", `
store:
  backend: sqlite
  dsn: /tmp/tables.db
  connect_backoff: 1s
cache:
  step_size: 12
server:
  request_timeout: 5s
`)
	cfg, err := Load(Options{File: path})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "/tmp/tables.db", cfg.Store.DSN)
	assert.Equal(t, time.Second, cfg.Store.ConnectBackoff)
	assert.Equal(t, 12, cfg.Cache.StepSize)
	assert.Equal(t, 5*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, store.DefaultCollection, cfg.Store.Collection, "unset keys keep defaults")
}

func TestLoadYAMLRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "dicetables.yaml", "store:\n  backnd: sqlite\n")
	_, err := Load(Options{File: path})
	assert.Error(t, err)
}

func TestEnvironmentOverridesFiles(t *testing.T) {
	yamlPath := writeFile(t, "dicetables.yaml", "cache:\n  step_size: 12\n  queue_size: 7\n")
	envPath := writeFile(t, ".env", "CACHE_STEP_SIZE=20\nCACHE_QUEUE_SIZE=9\nSTORE_BACKEND=badger\n")
	t.Setenv("CACHE_STEP_SIZE", "40")
	t.Setenv("TRACING_ENABLED", "true")

	cfg, err := Load(Options{File: yamlPath, EnvFile: envPath})
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.Cache.StepSize, "process env wins")
	assert.Equal(t, 9, cfg.Cache.QueueSize, ".env beats yaml")
	assert.Equal(t, "badger", cfg.Store.Backend)
	assert.True(t, cfg.Telemetry.Enabled)

	_, set := os.LookupEnv("CACHE_QUEUE_SIZE")
	assert.False(t, set, ".env does not leak into the process")
}

func TestMissingEnvFileIsIgnored(t *testing.T) {
	_, err := Load(Options{EnvFile: filepath.Join(t.TempDir(), ".env")})
	assert.NoError(t, err)
}

func TestSQLiteGetsDefaultPath(t *testing.T) {
	t.Setenv("STORE_BACKEND", "sqlite")
	cfg, err := Load(Options{})
	require.NoError(t, err)
	assert.Equal(t, "dicetables.db", cfg.Store.DSN)
}

func TestValidation(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown backend":   {"STORE_BACKEND": "cassandra"},
		"postgres dsn":      {"STORE_BACKEND": "postgres"},
		"close enough":      {"CACHE_CLOSE_ENOUGH": "1.5"},
		"step size":         {"CACHE_STEP_SIZE": "0"},
		"port":              {"PORT": "http"},
		"log level":         {"LOG_LEVEL": "loud"},
		"not a number":      {"CACHE_QUEUE_SIZE": "many"},
		"not a bool":        {"TRACING_ENABLED": "maybe"},
		"negative attempts": {"STORE_CONNECT_RETRIES": "-1"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load(Options{})
			assert.Error(t, err)
		})
	}
}

func TestConversions(t *testing.T) {
	cfg := Default()
	cfg.Store.Backend = store.BackendRedis
	sc := cfg.StoreOptions()
	assert.Equal(t, store.BackendRedis, sc.Backend)
	assert.Equal(t, cfg.Store.RedisAddr, sc.RedisAddr)

	cc := cfg.CacheOptions()
	assert.Equal(t, cfg.Cache.StepSize, cc.StepSize)
	assert.Equal(t, cfg.Cache.MaxDiceValue, cfg.RequestOptions().MaxDiceValue)
	assert.Equal(t, cfg.Log.Level, cfg.LogOptions().Level)
}
