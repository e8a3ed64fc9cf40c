// Package wallet is the application session: it owns the remote client and
// the local store, serves cached data while it is fresh, and falls back to
// the last snapshot when the backend cannot be reached.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dvloznov/sheets-wallet/internal/domain"
	"github.com/dvloznov/sheets-wallet/internal/localstore"
	"github.com/dvloznov/sheets-wallet/internal/sheets"
	"github.com/dvloznov/sheets-wallet/internal/staleness"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// DefaultRecentLimit is how many transactions the dashboard shows.
const DefaultRecentLimit = 5

// ErrConnectionFailed is returned when the backend is reachable but the
// connection test does not succeed.
var ErrConnectionFailed = errors.New("connection test failed")

// Service is constructed once at startup and shared by every caller.
type Service struct {
	client sheets.API
	store  *localstore.Store
	policy staleness.Policy
	log    zerolog.Logger
	recent int

	flight singleflight.Group

	// cacheMu orders cache writes against invalidation. A fetch only caches
	// its result when no write or reset happened since it started.
	cacheMu    sync.Mutex
	generation atomic.Uint64

	mu         sync.RWMutex
	categories *CategoryValidator
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) {
		s.log = log
	}
}

// WithRecentLimit sets how many transactions Dashboard returns.
func WithRecentLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.recent = n
		}
	}
}

// NewService creates a session over client and store. The store's staleness
// policy decides when cached data must be refetched.
func NewService(client sheets.API, store *localstore.Store, opts ...Option) *Service {
	s := &Service{
		client: client,
		store:  store,
		policy: store.Policy(),
		log:    zerolog.Nop(),
		recent: DefaultRecentLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State describes the session after Bootstrap.
type State struct {
	SetupComplete bool                    `json:"setupComplete"`
	Connected     bool                    `json:"connected"`
	Connection    domain.ConnectionConfig `json:"connection"`
	AppConfig     domain.AppConfig        `json:"appConfig"`
}

// Bootstrap restores the stored connection into the client and probes it.
// An unreachable backend is not an error; the session then serves cached
// data until a later probe succeeds.
func (s *Service) Bootstrap(ctx context.Context) (State, error) {
	var st State

	done, err := s.store.IsSetupComplete(ctx)
	if err != nil {
		return st, fmt.Errorf("Bootstrap: %w", err)
	}
	st.SetupComplete = done

	if st.AppConfig, err = s.AppConfig(ctx); err != nil {
		return st, fmt.Errorf("Bootstrap: %w", err)
	}

	conn, err := s.store.GetConnectionConfig(ctx)
	if err != nil {
		return st, fmt.Errorf("Bootstrap: %w", err)
	}
	st.Connection = conn
	if conn.EndpointURL == "" {
		return st, nil
	}

	s.client.Configure(conn)
	ok, err := s.client.TestConnection(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return st, fmt.Errorf("Bootstrap: %w", err)
		}
		s.log.Warn().Err(err).Msg("Backend unreachable, serving cached data")
	}
	st.Connected = ok
	return st, nil
}

// Connect points the client at conn and tests it. The connection is saved
// only when the test succeeds. Switching to a different endpoint or
// spreadsheet drops cached data.
func (s *Service) Connect(ctx context.Context, conn domain.ConnectionConfig) (bool, error) {
	if strings.TrimSpace(conn.EndpointURL) == "" {
		return false, fmt.Errorf("Connect: %w: endpoint URL is required", ErrInvalidConfig)
	}

	s.client.Configure(conn)
	ok, err := s.client.TestConnection(ctx)
	if err != nil {
		return false, fmt.Errorf("Connect: %w", err)
	}
	if !ok {
		return false, nil
	}

	conn = s.client.Connection()
	prev, err := s.store.GetConnectionConfig(ctx)
	if err != nil {
		return false, fmt.Errorf("Connect: %w", err)
	}
	if prev != conn {
		if err := s.store.ClearCacheData(ctx); err != nil {
			return false, fmt.Errorf("Connect: %w", err)
		}
		s.setCategories(nil)
	}
	if err := s.store.SaveConnectionConfig(ctx, conn); err != nil {
		return false, fmt.Errorf("Connect: %w", err)
	}

	s.log.Info().Str("spreadsheet_id", conn.SpreadsheetID).Msg("Connected to backend")
	return true, nil
}

// CompleteSetup validates and stores the app configuration, makes sure the
// connection works, and marks setup as done.
func (s *Service) CompleteSetup(ctx context.Context, app domain.AppConfig, conn domain.ConnectionConfig) error {
	app = app.Normalized()
	if err := app.Validate(); err != nil {
		return fmt.Errorf("CompleteSetup: %w: %v", ErrInvalidConfig, err)
	}
	if !conn.Complete() {
		return fmt.Errorf("CompleteSetup: %w: endpoint URL and spreadsheet ID are required", ErrInvalidConfig)
	}

	ok, err := s.Connect(ctx, conn)
	if err != nil {
		return fmt.Errorf("CompleteSetup: %w", err)
	}
	if !ok {
		return fmt.Errorf("CompleteSetup: %w", ErrConnectionFailed)
	}

	if err := s.store.SaveAppConfig(ctx, app); err != nil {
		return fmt.Errorf("CompleteSetup: %w", err)
	}
	if err := s.store.SetSetupComplete(ctx, true); err != nil {
		return fmt.Errorf("CompleteSetup: %w", err)
	}
	return nil
}

// AppConfig returns the stored app configuration or the default one.
func (s *Service) AppConfig(ctx context.Context) (domain.AppConfig, error) {
	cfg, err := s.store.GetAppConfig(ctx)
	if err != nil {
		return domain.AppConfig{}, err
	}
	if cfg == nil {
		return domain.DefaultAppConfig, nil
	}
	return *cfg, nil
}

// UpdateAppConfig validates and stores cfg.
func (s *Service) UpdateAppConfig(ctx context.Context, cfg domain.AppConfig) error {
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("UpdateAppConfig: %w: %v", ErrInvalidConfig, err)
	}
	return s.store.SaveAppConfig(ctx, cfg)
}

// Preferences returns stored user preferences, zero-valued when unset.
func (s *Service) Preferences(ctx context.Context) (domain.UserPreferences, error) {
	prefs, err := s.store.GetUserPreferences(ctx)
	if err != nil || prefs == nil {
		return domain.UserPreferences{}, err
	}
	return *prefs, nil
}

// SavePreferences stores user preferences.
func (s *Service) SavePreferences(ctx context.Context, prefs domain.UserPreferences) error {
	return s.store.SaveUserPreferences(ctx, prefs)
}

// TestConnection probes the currently configured backend.
func (s *Service) TestConnection(ctx context.Context) (bool, error) {
	return s.client.TestConnection(ctx)
}

// Connection returns the client's current settings and connected state.
func (s *Service) Connection() (domain.ConnectionConfig, bool) {
	return s.client.Connection(), s.client.IsConnected()
}

// Freshness describes where a result came from.
type Freshness struct {
	// SyncedAt is when the data was fetched from the backend.
	SyncedAt time.Time `json:"syncedAt"`
	// FromCache is set when the data was served from the local store.
	FromCache bool `json:"fromCache"`
	// Stale is set when a refresh failed and older cached data was served.
	Stale bool `json:"stale"`
	// SyncErr is the refresh failure behind a stale result.
	SyncErr error `json:"-"`
}

// TransactionsResult is the outcome of Transactions.
type TransactionsResult struct {
	Transactions []domain.Transaction `json:"transactions"`
	Freshness
}

// AnalyticsResult is the outcome of Analytics.
type AnalyticsResult struct {
	Snapshot domain.AnalyticsSnapshot `json:"snapshot"`
	Freshness
}

// SummaryResult is the outcome of Summary.
type SummaryResult struct {
	Summary domain.BalanceSummary `json:"summary"`
	Freshness
}

// Transactions returns all transactions. A fresh cache is served unless force
// is set. When the fetch fails and a cached copy exists, the cached copy is
// returned marked stale with the fetch error in SyncErr.
func (s *Service) Transactions(ctx context.Context, force bool) (*TransactionsResult, error) {
	if !force {
		if entry := s.transactionsEntry(ctx); entry != nil && !s.policy.IsStale(&entry.LastSyncedAt) {
			return &TransactionsResult{
				Transactions: entry.Payload,
				Freshness:    Freshness{SyncedAt: entry.LastSyncedAt, FromCache: true},
			}, nil
		}
	}

	txs, syncedAt, err := s.refreshTransactions(ctx)
	if err == nil {
		return &TransactionsResult{Transactions: txs, Freshness: Freshness{SyncedAt: syncedAt}}, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	entry := s.transactionsEntry(ctx)
	if entry == nil {
		return nil, fmt.Errorf("Transactions: %w", err)
	}
	s.log.Warn().Err(err).Time("synced_at", entry.LastSyncedAt).Msg("Serving cached transactions")
	return &TransactionsResult{
		Transactions: entry.Payload,
		Freshness:    Freshness{SyncedAt: entry.LastSyncedAt, FromCache: true, Stale: true, SyncErr: err},
	}, nil
}

// Analytics returns chart data and the balance summary for period, with the
// same cache and fallback rules as Transactions. A cached snapshot for a
// different period counts as a miss.
func (s *Service) Analytics(ctx context.Context, period domain.Period, force bool) (*AnalyticsResult, error) {
	if period == "" {
		period = domain.DefaultPeriod
	}

	if !force {
		if entry := s.analyticsEntry(ctx, period); entry != nil && !s.policy.IsStale(&entry.LastSyncedAt) {
			return &AnalyticsResult{
				Snapshot:  entry.Payload,
				Freshness: Freshness{SyncedAt: entry.LastSyncedAt, FromCache: true},
			}, nil
		}
	}

	v, err := s.fetch(ctx, analyticsKey(period), func(ctx context.Context) (any, error) {
		gen := s.generation.Load()
		snap, err := s.fetchAnalytics(ctx, period)
		if err != nil {
			return nil, err
		}
		if err := s.cacheIfCurrent(gen, func() error { return s.store.CacheAnalytics(ctx, snap) }); err != nil {
			s.log.Warn().Err(err).Msg("Failed to cache analytics")
		}
		return snap, nil
	})
	if err == nil {
		return &AnalyticsResult{Snapshot: v.(domain.AnalyticsSnapshot), Freshness: Freshness{SyncedAt: s.policy.Now()}}, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	entry := s.analyticsEntry(ctx, period)
	if entry == nil {
		return nil, fmt.Errorf("Analytics: %w", err)
	}
	s.log.Warn().Err(err).Str("period", string(period)).Msg("Serving cached analytics")
	return &AnalyticsResult{
		Snapshot:  entry.Payload,
		Freshness: Freshness{SyncedAt: entry.LastSyncedAt, FromCache: true, Stale: true, SyncErr: err},
	}, nil
}

// Summary returns the backend's balance summary. The summary cached with
// the last analytics snapshot is served while fresh and used as fallback.
func (s *Service) Summary(ctx context.Context, force bool) (*SummaryResult, error) {
	cached := func() *SummaryResult {
		entry := s.analyticsEntry(ctx, "")
		if entry == nil || entry.Payload.Summary == nil {
			return nil
		}
		return &SummaryResult{
			Summary:   *entry.Payload.Summary,
			Freshness: Freshness{SyncedAt: entry.LastSyncedAt, FromCache: true},
		}
	}

	if !force {
		if res := cached(); res != nil && !s.policy.IsStale(&res.SyncedAt) {
			return res, nil
		}
	}

	v, err := s.fetch(ctx, summaryKey, func(ctx context.Context) (any, error) {
		return s.client.BalanceSummary(ctx)
	})
	if err == nil {
		return &SummaryResult{Summary: v.(domain.BalanceSummary), Freshness: Freshness{SyncedAt: s.policy.Now()}}, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	res := cached()
	if res == nil {
		return nil, fmt.Errorf("Summary: %w", err)
	}
	res.Stale, res.SyncErr = true, err
	return res, nil
}

// Dashboard is the home view: totals plus the most recent transactions.
type Dashboard struct {
	Summary domain.BalanceSummary `json:"summary"`
	Recent  []domain.Transaction  `json:"recent"`
	Stale   bool                  `json:"stale"`
	SyncErr error                 `json:"-"`
}

// Dashboard loads the summary and transactions concurrently.
func (s *Service) Dashboard(ctx context.Context, force bool) (*Dashboard, error) {
	var (
		summary *SummaryResult
		txs     *TransactionsResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		summary, err = s.Summary(gctx, force)
		return err
	})
	g.Go(func() error {
		var err error
		txs, err = s.Transactions(gctx, force)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("Dashboard: %w", err)
	}

	d := &Dashboard{
		Summary: summary.Summary,
		Recent:  domain.Latest(txs.Transactions, s.recent),
		Stale:   summary.Stale || txs.Stale,
	}
	d.SyncErr = errors.Join(summary.SyncErr, txs.SyncErr)
	return d, nil
}

// Filter asks the backend for matching transactions. It is never cached.
func (s *Service) Filter(ctx context.Context, f sheets.Filter) ([]domain.Transaction, error) {
	txs, err := s.client.FilterTransactions(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("Filter: %w", err)
	}
	return txs, nil
}

// AddTransaction validates tx, defaults its date to today and writes it.
// Cached data is refreshed afterwards.
func (s *Service) AddTransaction(ctx context.Context, tx domain.Transaction) (domain.Transaction, error) {
	tx = s.normalize(tx)
	if err := s.validate(tx); err != nil {
		return domain.Transaction{}, fmt.Errorf("AddTransaction: %w", err)
	}

	written, err := s.client.AddTransaction(ctx, tx)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("AddTransaction: %w", err)
	}
	s.afterWrite(ctx)
	return written, nil
}

// UpdateTransaction replaces the transaction identified by id.
func (s *Service) UpdateTransaction(ctx context.Context, id string, tx domain.Transaction) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("UpdateTransaction: %w: id is required", ErrInvalidTransaction)
	}
	tx = s.normalize(tx)
	if err := s.validate(tx); err != nil {
		return fmt.Errorf("UpdateTransaction: %w", err)
	}

	if err := s.client.UpdateTransaction(ctx, id, tx); err != nil {
		return fmt.Errorf("UpdateTransaction: %w", err)
	}
	s.afterWrite(ctx)
	return nil
}

// DeleteTransaction removes the transaction identified by id.
func (s *Service) DeleteTransaction(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("DeleteTransaction: %w: id is required", ErrInvalidTransaction)
	}
	if err := s.client.DeleteTransaction(ctx, id); err != nil {
		return fmt.Errorf("DeleteTransaction: %w", err)
	}
	s.afterWrite(ctx)
	return nil
}

// Categories returns the sheet's categories and remembers them for
// validating new transactions.
func (s *Service) Categories(ctx context.Context) ([]domain.Category, error) {
	cats, err := s.client.Categories(ctx)
	if err != nil {
		return nil, fmt.Errorf("Categories: %w", err)
	}
	s.setCategories(NewCategoryValidator(cats))
	return cats, nil
}

// AddCategory creates a category.
func (s *Service) AddCategory(ctx context.Context, cat domain.Category) error {
	cat.Name = strings.TrimSpace(cat.Name)
	if err := ValidateCategory(cat); err != nil {
		return fmt.Errorf("AddCategory: %w", err)
	}
	if err := s.client.AddCategory(ctx, cat); err != nil {
		return fmt.Errorf("AddCategory: %w", err)
	}

	s.mu.Lock()
	if s.categories != nil {
		s.categories.add(cat)
	}
	s.mu.Unlock()
	return nil
}

// ClearCache drops cached transactions and analytics.
func (s *Service) ClearCache(ctx context.Context) error {
	return s.dropCache(func() error { return s.store.ClearCacheData(ctx) })
}

// Reset wipes every stored value and forgets the connection.
func (s *Service) Reset(ctx context.Context) error {
	if err := s.dropCache(func() error { return s.store.ClearAllData(ctx) }); err != nil {
		return fmt.Errorf("Reset: %w", err)
	}
	s.client.Reset()
	s.setCategories(nil)
	return nil
}

// Export returns the raw stored values, keyed by storage key.
func (s *Service) Export(ctx context.Context) (map[string]string, error) {
	return s.store.GetAllStoredData(ctx)
}

// Import replaces every stored value with data, as returned by Export, and
// points the client at the restored connection without testing it.
func (s *Service) Import(ctx context.Context, data map[string]string) error {
	if err := s.dropCache(func() error { return s.store.ReplaceAllData(ctx, data) }); err != nil {
		return fmt.Errorf("Import: %w", err)
	}
	s.client.Reset()
	s.setCategories(nil)

	conn, err := s.store.GetConnectionConfig(ctx)
	if err != nil {
		return fmt.Errorf("Import: %w", err)
	}
	if conn.EndpointURL != "" {
		s.client.Configure(conn)
	}
	return nil
}

// SupportedCurrencies lists the currencies offered during setup.
func (s *Service) SupportedCurrencies() []domain.Currency {
	out := make([]domain.Currency, len(domain.SupportedCurrencies))
	copy(out, domain.SupportedCurrencies)
	return out
}

// AvailableLocales lists the locales offered for a currency.
func (s *Service) AvailableLocales(currency string) []string {
	return domain.LocalesForCurrency(currency)
}

func (s *Service) normalize(tx domain.Transaction) domain.Transaction {
	tx.Description = strings.TrimSpace(tx.Description)
	tx.Category = strings.TrimSpace(tx.Category)
	tx.Remarks = strings.TrimSpace(tx.Remarks)
	if tx.Date.IsZero() {
		tx.Date = domain.Today(s.policy.Now())
	}
	return tx
}

func (s *Service) validate(tx domain.Transaction) error {
	if err := ValidateTransaction(tx); err != nil {
		return err
	}

	s.mu.RLock()
	v := s.categories
	s.mu.RUnlock()
	if v == nil {
		return nil
	}
	return v.ValidateCategory(tx.Category, tx.Type)
}

func (s *Service) setCategories(v *CategoryValidator) {
	s.mu.Lock()
	s.categories = v
	s.mu.Unlock()
}

// afterWrite invalidates cached data and tries to reload transactions so the
// next read does not hit the backend again. Fetches started before the write
// may still be running; they are forgotten so the reload starts a new one,
// and their results are not cached.
func (s *Service) afterWrite(ctx context.Context) {
	if err := s.dropCache(func() error { return s.store.InvalidateCache(ctx) }); err != nil {
		s.log.Warn().Err(err).Msg("Failed to invalidate cache")
		return
	}

	s.flight.Forget(transactionsKey)
	s.flight.Forget(summaryKey)
	for _, p := range []domain.Period{domain.PeriodWeekly, domain.PeriodMonthly, domain.PeriodYearly} {
		s.flight.Forget(analyticsKey(p))
	}

	if _, _, err := s.refreshTransactions(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Failed to reload transactions after write")
	}
}

func (s *Service) refreshTransactions(ctx context.Context) ([]domain.Transaction, time.Time, error) {
	v, err := s.fetch(ctx, transactionsKey, func(ctx context.Context) (any, error) {
		gen := s.generation.Load()
		txs, err := s.client.ListTransactions(ctx)
		if err != nil {
			return nil, err
		}
		if err := s.cacheIfCurrent(gen, func() error { return s.store.CacheTransactions(ctx, txs) }); err != nil {
			s.log.Warn().Err(err).Msg("Failed to cache transactions")
		}
		return txs, nil
	})
	if err != nil {
		return nil, time.Time{}, err
	}

	shared := v.([]domain.Transaction)
	txs := make([]domain.Transaction, len(shared))
	copy(txs, shared)
	return txs, s.policy.Now(), nil
}

func (s *Service) fetchAnalytics(ctx context.Context, period domain.Period) (domain.AnalyticsSnapshot, error) {
	var (
		analytics domain.Analytics
		summary   domain.BalanceSummary
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		analytics, err = s.client.Analytics(gctx, period)
		return err
	})
	g.Go(func() error {
		var err error
		summary, err = s.client.BalanceSummary(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.AnalyticsSnapshot{}, err
	}

	return domain.AnalyticsSnapshot{Period: period, Analytics: analytics, Summary: &summary}, nil
}

// dropCache runs drop and moves to a new cache generation.
func (s *Service) dropCache(drop func() error) error {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	s.generation.Add(1)
	return drop()
}

// cacheIfCurrent runs write unless the cache generation moved past gen.
func (s *Service) cacheIfCurrent(gen uint64, write func() error) error {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	if s.generation.Load() != gen {
		s.log.Debug().Msg("Discarding result fetched before a write")
		return nil
	}
	return write()
}

const (
	transactionsKey = "transactions"
	summaryKey      = "summary"
)

func analyticsKey(p domain.Period) string {
	return "analytics:" + string(p)
}

// fetch runs fn once per key across concurrent callers. A caller whose
// context ends stops waiting. The shared call runs under the context of the
// caller that started it; if that caller went away, a waiting caller tries
// once more under its own context.
func (s *Service) fetch(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	for attempt := 0; ; attempt++ {
		ch := s.flight.DoChan(key, func() (any, error) {
			return fn(ctx)
		})
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			if res.Err != nil && res.Shared && attempt == 0 && sheets.IsCanceled(res.Err) && ctx.Err() == nil {
				continue
			}
			return res.Val, res.Err
		}
	}
}

func (s *Service) transactionsEntry(ctx context.Context) *localstore.CacheEntry[[]domain.Transaction] {
	entry, err := s.store.TransactionsEntry(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to read cached transactions")
		return nil
	}
	return entry
}

// analyticsEntry returns the cached snapshot for period, or for any period
// when period is empty.
func (s *Service) analyticsEntry(ctx context.Context, period domain.Period) *localstore.CacheEntry[domain.AnalyticsSnapshot] {
	entry, err := s.store.AnalyticsEntry(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to read cached analytics")
		return nil
	}
	if entry == nil || (period != "" && entry.Payload.Period != period) {
		return nil
	}
	return entry
}
