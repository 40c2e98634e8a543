package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "localhost:8000", cfg.Addr())
	assert.Equal(t, 25, cfg.API.DefaultPageSize)
	assert.Equal(t, 100, cfg.API.MaxPageSize)
	assert.Equal(t, 5, cfg.API.MaxIncludeDepth)
	assert.Equal(t, "none", cfg.Cache.Backend)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	contents := []byte(`
database:
  driver: sqlite3
  url: file:test.db
server:
  port: 9090
api:
  default_page_size: 10
cache:
  backend: memory
  ttl_seconds: 60
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "jsonapi.yml"), contents, 0o644))

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)

	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "file:test.db", cfg.DatabaseURL())
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10, cfg.API.DefaultPageSize)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 60, cfg.Cache.TTLSeconds)
}

func TestDatabaseURLPrefersEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env/db")

	cfg, err := LoadFrom(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "postgres://env/db", cfg.DatabaseURL())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "jsonapi.yml"),
		[]byte("database:\n  driver: oracle\n"), 0o644))

	_, err := LoadFrom(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "driver")
}
