package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/dvloznov/sheets-wallet/internal/kv"
	"github.com/dvloznov/sheets-wallet/internal/kv/kvtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "wallet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_Contract(t *testing.T) {
	kvtest.Run(t, func(t *testing.T) kv.Store {
		return openTemp(t)
	})
}

func TestStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "wallet.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.SetMany(ctx, map[string]string{
		"wallet_app_api_url":        "https://example.test/exec",
		"wallet_app_setup_complete": "true",
	}))
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	v, ok, err := reopened.Get(ctx, "wallet_app_api_url")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "https://example.test/exec", v)
	assert.Equal(t, path, reopened.Path())
}
