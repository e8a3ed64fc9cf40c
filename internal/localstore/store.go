package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/sheets-wallet/internal/domain"
	"github.com/dvloznov/sheets-wallet/internal/kv"
	"github.com/dvloznov/sheets-wallet/internal/logger"
	"github.com/dvloznov/sheets-wallet/internal/staleness"
)

// Namespace prefixes every key owned by the wallet. ClearAllData only
// touches keys under it.
const Namespace = "wallet_app_"

// Storage keys
const (
	KeyAPIURL             = Namespace + "api_url"
	KeySpreadsheetID      = Namespace + "spreadsheet_id"
	KeyAppConfig          = Namespace + "config"
	KeyUserPreferences    = Namespace + "preferences"
	KeySetupComplete      = Namespace + "setup_complete"
	KeyCachedTransactions = Namespace + "cached_transactions"
	KeyCachedAnalytics    = Namespace + "cached_analytics"
	KeyLastSync           = Namespace + "last_sync"
	KeyAnalyticsLastSync  = Namespace + "analytics_last_sync"
)

var cacheKeys = []string{
	KeyCachedTransactions,
	KeyCachedAnalytics,
	KeyLastSync,
	KeyAnalyticsLastSync,
}

const timestampLayout = time.RFC3339Nano

// CacheEntry is a cached payload together with the time it was synced.
type CacheEntry[T any] struct {
	Payload      T
	LastSyncedAt time.Time
}

// Store is the wallet's typed view of a kv.Store.
// Structured values are stored as JSON. Values that fail to decode are
// reported as absent so a corrupt entry cannot block startup.
type Store struct {
	kv     kv.Store
	policy staleness.Policy
}

// New wraps a kv.Store. The policy's clock stamps cache writes and its max
// age backs IsDataStale.
func New(store kv.Store, policy staleness.Policy) *Store {
	if policy.Now == nil {
		policy.Now = time.Now
	}
	return &Store{kv: store, policy: policy}
}

// Policy returns the staleness policy used by the store.
func (s *Store) Policy() staleness.Policy {
	return s.policy
}

// GetJSON decodes the value at key into dst. It reports false when the key is
// missing or its value is malformed.
func (s *Store) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("GetJSON %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("key", key).Msg("Ignoring malformed stored value")
		return false, nil
	}
	return true, nil
}

// SetJSON encodes v as JSON and stores it at key.
func (s *Store) SetJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("SetJSON %s: encode: %w", key, err)
	}
	if err := s.kv.Set(ctx, key, string(data)); err != nil {
		return fmt.Errorf("SetJSON %s: %w", key, err)
	}
	return nil
}

// Remove deletes keys.
func (s *Store) Remove(ctx context.Context, keys ...string) error {
	if err := s.kv.Remove(ctx, keys...); err != nil {
		return fmt.Errorf("Remove: %w", err)
	}
	return nil
}

// SaveAPIURL stores the endpoint URL.
func (s *Store) SaveAPIURL(ctx context.Context, url string) error {
	if err := s.kv.Set(ctx, KeyAPIURL, url); err != nil {
		return fmt.Errorf("SaveAPIURL: %w", err)
	}
	return nil
}

// GetAPIURL returns the endpoint URL, or "" when none is stored.
func (s *Store) GetAPIURL(ctx context.Context) (string, error) {
	url, _, err := s.kv.Get(ctx, KeyAPIURL)
	if err != nil {
		return "", fmt.Errorf("GetAPIURL: %w", err)
	}
	return url, nil
}

// SaveConnectionConfig stores the endpoint URL and spreadsheet ID together.
func (s *Store) SaveConnectionConfig(ctx context.Context, cfg domain.ConnectionConfig) error {
	err := s.kv.SetMany(ctx, map[string]string{
		KeyAPIURL:        cfg.EndpointURL,
		KeySpreadsheetID: cfg.SpreadsheetID,
	})
	if err != nil {
		return fmt.Errorf("SaveConnectionConfig: %w", err)
	}
	return nil
}

// GetConnectionConfig returns the stored connection, zero-valued when absent.
func (s *Store) GetConnectionConfig(ctx context.Context) (domain.ConnectionConfig, error) {
	url, err := s.GetAPIURL(ctx)
	if err != nil {
		return domain.ConnectionConfig{}, err
	}
	id, _, err := s.kv.Get(ctx, KeySpreadsheetID)
	if err != nil {
		return domain.ConnectionConfig{}, fmt.Errorf("GetConnectionConfig: %w", err)
	}
	return domain.ConnectionConfig{EndpointURL: url, SpreadsheetID: id}, nil
}

// SaveAppConfig stores the app configuration.
func (s *Store) SaveAppConfig(ctx context.Context, cfg domain.AppConfig) error {
	return s.SetJSON(ctx, KeyAppConfig, cfg)
}

// GetAppConfig returns the stored app configuration, or nil.
func (s *Store) GetAppConfig(ctx context.Context) (*domain.AppConfig, error) {
	var cfg domain.AppConfig
	ok, err := s.GetJSON(ctx, KeyAppConfig, &cfg)
	if err != nil || !ok {
		return nil, err
	}
	return &cfg, nil
}

// SaveUserPreferences stores user preferences.
func (s *Store) SaveUserPreferences(ctx context.Context, prefs domain.UserPreferences) error {
	return s.SetJSON(ctx, KeyUserPreferences, prefs)
}

// GetUserPreferences returns the stored preferences, or nil.
func (s *Store) GetUserPreferences(ctx context.Context) (*domain.UserPreferences, error) {
	var prefs domain.UserPreferences
	ok, err := s.GetJSON(ctx, KeyUserPreferences, &prefs)
	if err != nil || !ok {
		return nil, err
	}
	return &prefs, nil
}

// SetSetupComplete records whether onboarding has finished.
func (s *Store) SetSetupComplete(ctx context.Context, complete bool) error {
	return s.SetJSON(ctx, KeySetupComplete, complete)
}

// IsSetupComplete reports whether onboarding has finished.
func (s *Store) IsSetupComplete(ctx context.Context) (bool, error) {
	var complete bool
	ok, err := s.GetJSON(ctx, KeySetupComplete, &complete)
	if err != nil || !ok {
		return false, err
	}
	return complete, nil
}

// CacheTransactions stores txs and stamps the sync time in one atomic write.
func (s *Store) CacheTransactions(ctx context.Context, txs []domain.Transaction) error {
	if txs == nil {
		txs = []domain.Transaction{}
	}
	if err := s.writeCache(ctx, KeyCachedTransactions, KeyLastSync, txs); err != nil {
		return fmt.Errorf("CacheTransactions: %w", err)
	}
	return nil
}

// TransactionsEntry returns the cached transactions with their sync time, or
// nil when nothing usable is cached.
func (s *Store) TransactionsEntry(ctx context.Context) (*CacheEntry[[]domain.Transaction], error) {
	var txs []domain.Transaction
	syncedAt, ok, err := s.readCache(ctx, KeyCachedTransactions, KeyLastSync, &txs)
	if err != nil || !ok {
		return nil, err
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}
	return &CacheEntry[[]domain.Transaction]{Payload: txs, LastSyncedAt: syncedAt}, nil
}

// GetCachedTransactions returns the cached transactions, or an empty slice.
func (s *Store) GetCachedTransactions(ctx context.Context) ([]domain.Transaction, error) {
	entry, err := s.TransactionsEntry(ctx)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return []domain.Transaction{}, nil
	}
	return entry.Payload, nil
}

// CacheAnalytics stores an analytics snapshot and stamps its sync time in one
// atomic write.
func (s *Store) CacheAnalytics(ctx context.Context, snap domain.AnalyticsSnapshot) error {
	if err := s.writeCache(ctx, KeyCachedAnalytics, KeyAnalyticsLastSync, snap); err != nil {
		return fmt.Errorf("CacheAnalytics: %w", err)
	}
	return nil
}

// AnalyticsEntry returns the cached analytics with their sync time, or nil.
func (s *Store) AnalyticsEntry(ctx context.Context) (*CacheEntry[domain.AnalyticsSnapshot], error) {
	var snap domain.AnalyticsSnapshot
	syncedAt, ok, err := s.readCache(ctx, KeyCachedAnalytics, KeyAnalyticsLastSync, &snap)
	if err != nil || !ok {
		return nil, err
	}
	return &CacheEntry[domain.AnalyticsSnapshot]{Payload: snap, LastSyncedAt: syncedAt}, nil
}

// GetCachedAnalytics returns the cached analytics snapshot, or nil.
func (s *Store) GetCachedAnalytics(ctx context.Context) (*domain.AnalyticsSnapshot, error) {
	entry, err := s.AnalyticsEntry(ctx)
	if err != nil || entry == nil {
		return nil, err
	}
	return &entry.Payload, nil
}

// GetLastSyncTime returns when transactions were last cached, or nil.
func (s *Store) GetLastSyncTime(ctx context.Context) (*time.Time, error) {
	return s.readTimestamp(ctx, KeyLastSync)
}

// GetAnalyticsSyncTime returns when analytics were last cached, or nil.
func (s *Store) GetAnalyticsSyncTime(ctx context.Context) (*time.Time, error) {
	return s.readTimestamp(ctx, KeyAnalyticsLastSync)
}

// IsDataStale reports whether cached transactions are older than the
// policy's max age. Any failure to read the timestamp counts as stale.
func (s *Store) IsDataStale(ctx context.Context) bool {
	last, err := s.GetLastSyncTime(ctx)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("Failed to read last sync time")
		return true
	}
	return s.policy.IsStale(last)
}

// InvalidateCache drops the sync timestamps so the cached payloads read as
// absent until the next successful sync.
func (s *Store) InvalidateCache(ctx context.Context) error {
	if err := s.kv.Remove(ctx, KeyLastSync, KeyAnalyticsLastSync); err != nil {
		return fmt.Errorf("InvalidateCache: %w", err)
	}
	return nil
}

// ClearCacheData removes cached payloads and their timestamps.
func (s *Store) ClearCacheData(ctx context.Context) error {
	if err := s.kv.Remove(ctx, cacheKeys...); err != nil {
		return fmt.Errorf("ClearCacheData: %w", err)
	}
	return nil
}

// ClearAllData removes every key in the wallet namespace.
func (s *Store) ClearAllData(ctx context.Context) error {
	keys, err := s.kv.Keys(ctx, Namespace)
	if err != nil {
		return fmt.Errorf("ClearAllData: list keys: %w", err)
	}
	if err := s.kv.Remove(ctx, keys...); err != nil {
		return fmt.Errorf("ClearAllData: %w", err)
	}
	log := logger.FromContext(ctx)
	log.Info().Int("keys", len(keys)).Msg("Cleared local wallet data")
	return nil
}

// GetAllStoredData returns the raw value of every key in the namespace.
func (s *Store) GetAllStoredData(ctx context.Context) (map[string]string, error) {
	keys, err := s.kv.Keys(ctx, Namespace)
	if err != nil {
		return nil, fmt.Errorf("GetAllStoredData: list keys: %w", err)
	}

	data := make(map[string]string, len(keys))
	for _, k := range keys {
		v, ok, err := s.kv.Get(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("GetAllStoredData: %w", err)
		}
		if ok {
			data[k] = v
		}
	}
	return data, nil
}

// ReplaceAllData makes the namespace hold exactly data. Keys outside the
// namespace are rejected.
func (s *Store) ReplaceAllData(ctx context.Context, data map[string]string) error {
	for k := range data {
		if !strings.HasPrefix(k, Namespace) {
			return fmt.Errorf("ReplaceAllData: key %q is outside the %s namespace", k, Namespace)
		}
	}

	if err := s.kv.ReplacePrefix(ctx, Namespace, data); err != nil {
		return fmt.Errorf("ReplaceAllData: %w", err)
	}
	return nil
}

func (s *Store) writeCache(ctx context.Context, payloadKey, syncKey string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return s.kv.SetMany(ctx, map[string]string{
		payloadKey: string(data),
		syncKey:    s.policy.Now().UTC().Format(timestampLayout),
	})
}

// readCache decodes a payload only when its timestamp is present and valid.
func (s *Store) readCache(ctx context.Context, payloadKey, syncKey string, dst any) (time.Time, bool, error) {
	syncedAt, err := s.readTimestamp(ctx, syncKey)
	if err != nil || syncedAt == nil {
		return time.Time{}, false, err
	}
	ok, err := s.GetJSON(ctx, payloadKey, dst)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	return *syncedAt, true, nil
}

func (s *Store) readTimestamp(ctx context.Context, key string) (*time.Time, error) {
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	if !ok {
		return nil, nil
	}
	ts, err := time.Parse(timestampLayout, raw)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("key", key).Msg("Ignoring malformed sync timestamp")
		return nil, nil
	}
	return &ts, nil
}
