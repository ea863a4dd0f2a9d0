package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileAndDefaults(t *testing.T) {
	t.Setenv("POSTGRES_PASSWORD", "")
	path := writeConfig(t, `
server:
  port: 9090
postgres:
  dsn: "host=db"
redis:
  cache_ttl: 30s
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "host=db", cfg.Postgres.DSN)
	assert.Equal(t, 30*time.Second, cfg.Redis.CacheTTL)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "consignment-events", cfg.Kafka.Topic)
	assert.Equal(t, 20, cfg.RateLimit.RPS)
	assert.Equal(t, 100, cfg.Poller.Batch)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
postgres:
  dsn: "host=db"
`)
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("API_KEY", "key-1")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "host=db password=secret", cfg.Postgres.DSN)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "key-1", cfg.Server.APIKey)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_MissingDSN(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8080\n")
	_, err := Load(path)
	assert.ErrorContains(t, err, "postgres.dsn")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
