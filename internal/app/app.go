// Package app assembles a wallet session from configuration.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/sheets-wallet/internal/config"
	"github.com/dvloznov/sheets-wallet/internal/domain"
	"github.com/dvloznov/sheets-wallet/internal/kv/sqlite"
	"github.com/dvloznov/sheets-wallet/internal/localstore"
	"github.com/dvloznov/sheets-wallet/internal/logger"
	"github.com/dvloznov/sheets-wallet/internal/sheets"
	"github.com/dvloznov/sheets-wallet/internal/staleness"
	"github.com/dvloznov/sheets-wallet/internal/wallet"
	"github.com/rs/zerolog"
)

// App is a ready-to-use session over the configured database.
type App struct {
	Config  *config.Config
	Log     zerolog.Logger
	KV      *sqlite.Store
	Store   *localstore.Store
	Client  *sheets.Client
	Wallet  *wallet.Service
	Initial wallet.State
}

// Open opens the database, applies a preset connection from cfg when none is
// stored yet, and bootstraps the session. An unreachable backend is not an
// error.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	ctx = logger.WithContext(ctx, log)

	kvStore, err := sqlite.Open(ctx, cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("app.Open: %w", err)
	}

	store := localstore.New(kvStore, staleness.Policy{MaxAge: cfg.CacheMaxAge, Now: time.Now})
	client := sheets.NewClient(
		sheets.WithTimeout(cfg.HTTPTimeout),
		sheets.WithLogger(logger.Component(log, "sheets")),
	)
	svc := wallet.NewService(client, store,
		wallet.WithLogger(logger.Component(log, "wallet")),
		wallet.WithRecentLimit(cfg.RecentLimit),
	)

	a := &App{
		Config: cfg,
		Log:    log,
		KV:     kvStore,
		Store:  store,
		Client: client,
		Wallet: svc,
	}

	if err := a.applyPreset(ctx); err != nil {
		kvStore.Close()
		return nil, fmt.Errorf("app.Open: %w", err)
	}

	a.Initial, err = svc.Bootstrap(ctx)
	if err != nil {
		kvStore.Close()
		return nil, fmt.Errorf("app.Open: %w", err)
	}

	log.Debug().
		Str("db", kvStore.Path()).
		Bool("setup_complete", a.Initial.SetupComplete).
		Bool("connected", a.Initial.Connected).
		Msg("Session ready")
	return a, nil
}

// applyPreset stores the configured connection if the database has none.
func (a *App) applyPreset(ctx context.Context) error {
	preset := domain.ConnectionConfig{
		EndpointURL:   a.Config.Connection.EndpointURL,
		SpreadsheetID: a.Config.Connection.SpreadsheetID,
	}
	if preset.EndpointURL == "" {
		return nil
	}

	stored, err := a.Store.GetConnectionConfig(ctx)
	if err != nil {
		return err
	}
	if stored.EndpointURL != "" {
		return nil
	}
	a.Log.Info().Str("spreadsheet_id", preset.SpreadsheetID).Msg("Using connection from configuration")
	return a.Store.SaveConnectionConfig(ctx, preset)
}

// Close releases the database.
func (a *App) Close() error {
	if err := a.KV.Close(); err != nil {
		return fmt.Errorf("app.Close: %w", err)
	}
	return nil
}
