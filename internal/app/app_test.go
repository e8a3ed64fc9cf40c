package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/dvloznov/sheets-wallet/internal/config"
	"github.com/dvloznov/sheets-wallet/internal/domain"
	"github.com/dvloznov/sheets-wallet/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scriptServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status": "success",
			"data":   map[string]any{"status": "success", "message": "API working"},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "wallet.db")
	return cfg
}

func TestOpen_AppliesPreset(t *testing.T) {
	srv := scriptServer(t)
	cfg := testConfig(t)
	cfg.Connection.EndpointURL = srv.URL
	cfg.Connection.SpreadsheetID = "abc123"
	ctx := context.Background()

	a, err := Open(ctx, cfg, logger.Nop())
	require.NoError(t, err)
	assert.True(t, a.Initial.Connected)
	assert.Equal(t, "abc123", a.Initial.Connection.SpreadsheetID)
	assert.False(t, a.Initial.SetupComplete)
	require.NoError(t, a.Close())

	// A stored connection wins over a later preset.
	cfg.Connection.SpreadsheetID = "other"
	a, err = Open(ctx, cfg, logger.Nop())
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, "abc123", a.Initial.Connection.SpreadsheetID)
	assert.Equal(t, domain.ConnectionConfig{EndpointURL: srv.URL, SpreadsheetID: "abc123"}, a.Client.Connection())
}

func TestOpen_Unconfigured(t *testing.T) {
	a, err := Open(context.Background(), testConfig(t), logger.Nop())
	require.NoError(t, err)
	defer a.Close()

	assert.False(t, a.Initial.Connected)
	assert.Equal(t, domain.DefaultAppConfig, a.Initial.AppConfig)
	assert.False(t, a.Client.IsConnected())
}
