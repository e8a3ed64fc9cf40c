package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, cfg.CacheMaxAge)
	assert.Equal(t, "8080", cfg.API.Port)
	assert.Equal(t, filepath.Join(cfg.DataDir, "wallet.db"), cfg.DBPath())
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "wallet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database_path: /tmp/w.db
cache_max_age: 10m
connection:
  endpoint_url: https://example.test/exec
  spreadsheet_id: abc123
sync:
  interval: 1h
  workers: 4
`), 0o644))

	t.Setenv("WALLET_CACHE_MAX_AGE", "45m")
	t.Setenv("PORT", "9090")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/w.db", cfg.DBPath())
	assert.Equal(t, 45*time.Minute, cfg.CacheMaxAge, "env wins over file")
	assert.Equal(t, time.Hour, cfg.Sync.Interval)
	assert.Equal(t, 4, cfg.Sync.Workers)
	assert.Equal(t, 16, cfg.Sync.QueueSize, "unset keys keep defaults")
	assert.Equal(t, "9090", cfg.API.Port)
	assert.Equal(t, "https://example.test/exec", cfg.Connection.EndpointURL)
	assert.Equal(t, "abc123", cfg.Connection.SpreadsheetID)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("WALLET_SPREADSHEET_ID=from-dotenv\n"), 0o644))
	// Registers cleanup so the variable loaded from .env does not leak.
	t.Setenv("WALLET_SPREADSHEET_ID", "")
	require.NoError(t, os.Unsetenv("WALLET_SPREADSHEET_ID"))

	cfg, err := Load(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Connection.SpreadsheetID)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		file string
		env  map[string]string
	}{
		{name: "bad yaml", file: "cache_max_age: [\n"},
		{name: "bad env duration", env: map[string]string{"WALLET_HTTP_TIMEOUT": "soon"}},
		{name: "bad env int", env: map[string]string{"WALLET_SYNC_WORKERS": "many"}},
		{name: "invalid value", file: "sync:\n  workers: 0\n"},
		{name: "unknown log format", env: map[string]string{"WALLET_LOG_FORMAT": "xml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			t.Chdir(dir)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			path := ""
			if tt.file != "" {
				path = filepath.Join(dir, "wallet.yaml")
				require.NoError(t, os.WriteFile(path, []byte(tt.file), 0o644))
			}

			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "wallet.yaml")

	cfg := DefaultConfig()
	cfg.Backup.URI = "gs://bucket/wallet"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gs://bucket/wallet", loaded.Backup.URI)
	assert.Equal(t, cfg.Sync, loaded.Sync)
}
