package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds settings shared by the wallet binaries.
type Config struct {
	// DataDir holds the local database when DatabasePath is not set.
	DataDir      string `yaml:"data_dir"`
	DatabasePath string `yaml:"database_path"`
	LogLevel     string `yaml:"log_level"`
	// LogFormat is "console" for human-readable output or "json".
	LogFormat string `yaml:"log_format"`

	// HTTPTimeout bounds each request to the Apps Script endpoint.
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	// CacheMaxAge is how long cached transactions and analytics stay fresh.
	CacheMaxAge time.Duration `yaml:"cache_max_age"`
	// RecentLimit is how many transactions the dashboard shows.
	RecentLimit int `yaml:"recent_limit"`

	Connection ConnectionConfig `yaml:"connection"`
	API        APIConfig        `yaml:"api"`
	Sync       SyncConfig       `yaml:"sync"`
	Backup     BackupConfig     `yaml:"backup"`
	Google     GoogleConfig     `yaml:"google"`
}

// ConnectionConfig optionally presets the backend so setup can be scripted.
type ConnectionConfig struct {
	EndpointURL   string `yaml:"endpoint_url"`
	SpreadsheetID string `yaml:"spreadsheet_id"`
}

// APIConfig configures the local JSON API.
type APIConfig struct {
	Port string `yaml:"port"`
	// Token, when set, is required as a bearer token on every request.
	Token string `yaml:"token"`
}

// SyncConfig configures background cache refreshes.
type SyncConfig struct {
	Interval   time.Duration `yaml:"interval"`
	Workers    int           `yaml:"workers"`
	QueueSize  int           `yaml:"queue_size"`
	MaxRetries int           `yaml:"max_retries"`
	Backoff    time.Duration `yaml:"backoff"`
	Period     string        `yaml:"period"`
}

// BackupConfig names where store snapshots are written.
type BackupConfig struct {
	// URI is a gs://bucket/prefix location.
	URI string `yaml:"uri"`
}

// GoogleConfig holds Google API credentials for the spreadsheet probe.
type GoogleConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	dataDir := ".wallet"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".sheets-wallet")
	}

	return &Config{
		DataDir:     dataDir,
		LogLevel:    "info",
		LogFormat:   "console",
		HTTPTimeout: 30 * time.Second,
		CacheMaxAge: 30 * time.Minute,
		RecentLimit: 5,
		API: APIConfig{
			Port: "8080",
		},
		Sync: SyncConfig{
			Interval:   15 * time.Minute,
			Workers:    2,
			QueueSize:  16,
			MaxRetries: 3,
			Backoff:    5 * time.Second,
			Period:     "monthly",
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when path is empty or missing), then environment variables.
// A .env file in the working directory is loaded into the environment first.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config.Load: load .env: %w", err)
	}

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config.Load: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config.Load: parse %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("Save: create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("Save: marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("Save: write config: %w", err)
	}
	return nil
}

// DBPath returns the SQLite database location.
func (c *Config) DBPath() string {
	if c.DatabasePath != "" {
		return c.DatabasePath
	}
	return filepath.Join(c.DataDir, "wallet.db")
}

// Validate rejects settings the binaries cannot run with.
func (c *Config) Validate() error {
	if c.DataDir == "" && c.DatabasePath == "" {
		return fmt.Errorf("data_dir or database_path is required")
	}
	if c.LogFormat != "" && c.LogFormat != "console" && c.LogFormat != "json" {
		return fmt.Errorf("log_format must be console or json, got %q", c.LogFormat)
	}
	if c.HTTPTimeout < 0 {
		return fmt.Errorf("http_timeout must not be negative")
	}
	if c.CacheMaxAge <= 0 {
		return fmt.Errorf("cache_max_age must be positive")
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive")
	}
	if c.Sync.Workers <= 0 || c.Sync.QueueSize <= 0 {
		return fmt.Errorf("sync.workers and sync.queue_size must be positive")
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("sync.max_retries must not be negative")
	}
	return nil
}

// applyEnvOverrides applies WALLET_* environment variables.
func (c *Config) applyEnvOverrides() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setDuration := func(key string, dst *time.Duration) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}
	setInt := func(key string, dst *int) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	setString("WALLET_DATA_DIR", &c.DataDir)
	setString("WALLET_DB_PATH", &c.DatabasePath)
	setString("WALLET_LOG_LEVEL", &c.LogLevel)
	setString("WALLET_LOG_FORMAT", &c.LogFormat)
	setString("WALLET_ENDPOINT_URL", &c.Connection.EndpointURL)
	setString("WALLET_SPREADSHEET_ID", &c.Connection.SpreadsheetID)
	setString("WALLET_BACKUP_URI", &c.Backup.URI)
	setString("WALLET_SYNC_PERIOD", &c.Sync.Period)
	setString("GOOGLE_APPLICATION_CREDENTIALS", &c.Google.CredentialsFile)
	setString("PORT", &c.API.Port)
	setString("WALLET_API_TOKEN", &c.API.Token)

	return errors.Join(
		setDuration("WALLET_HTTP_TIMEOUT", &c.HTTPTimeout),
		setDuration("WALLET_CACHE_MAX_AGE", &c.CacheMaxAge),
		setDuration("WALLET_SYNC_INTERVAL", &c.Sync.Interval),
		setDuration("WALLET_SYNC_BACKOFF", &c.Sync.Backoff),
		setInt("WALLET_SYNC_WORKERS", &c.Sync.Workers),
		setInt("WALLET_SYNC_MAX_RETRIES", &c.Sync.MaxRetries),
		setInt("WALLET_RECENT_LIMIT", &c.RecentLimit),
	)
}
