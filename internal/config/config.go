package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	AmoCRM  AmoCRMConfig  `yaml:"amocrm"`
	Sheets  SheetsConfig  `yaml:"sheets"`
	Filter  FilterConfig  `yaml:"filter"`
	Sync    SyncConfig    `yaml:"sync"`
	Journal JournalConfig `yaml:"journal"`
	Worker  WorkerConfig  `yaml:"worker"`
	Export  ExportConfig  `yaml:"export"`
	Mapper  MapperConfig  `yaml:"mapper"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// AmoCRMConfig contains CRM API settings. Tokens and the client secret are
// env-only and never read from YAML.
type AmoCRMConfig struct {
	Domain       string `yaml:"domain"`
	ClientID     string `yaml:"client_id"`
	RedirectURI  string `yaml:"redirect_uri"`
	ClientSecret string `yaml:"-"` // env-only, never in YAML
	AccessToken  string `yaml:"-"` // env-only, never in YAML
	RefreshToken string `yaml:"-"` // env-only, never in YAML
}

// SheetsConfig contains spreadsheet settings. Service account credentials
// are env-only.
type SheetsConfig struct {
	SpreadsheetID   string `yaml:"spreadsheet_id"`
	SheetName       string `yaml:"sheet_name"`
	CredentialsJSON string `yaml:"-"` // env-only, never in YAML
}

// FilterConfig contains the deal filter rule.
type FilterConfig struct {
	FieldID        int64  `yaml:"field_id"`
	FieldName      string `yaml:"field_name"`
	FallbackLabel  string `yaml:"fallback_label"`
	TargetValue    string `yaml:"target_value"`
	TargetOptionID int64  `yaml:"target_option_id"`
	MatchMode      string `yaml:"match_mode"`
	Bypass         bool   `yaml:"bypass"`
}

// SyncConfig tunes the full sweep.
type SyncConfig struct {
	PageSize   int      `yaml:"page_size"`
	MaxPages   int      `yaml:"max_pages"`
	PauseEvery int      `yaml:"pause_every"`
	Pause      Duration `yaml:"pause"`
}

// JournalConfig contains sync journal settings.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// WorkerConfig contains background worker settings.
type WorkerConfig struct {
	FullSyncInterval Duration `yaml:"full_sync_interval"`
	RunOnStart       bool     `yaml:"run_on_start"`
}

// ExportConfig contains CSV export settings.
type ExportConfig struct {
	Dir     string              `yaml:"dir"`
	Storage ExportStorageConfig `yaml:"storage"`
}

// ExportStorageConfig contains S3-compatible export upload settings.
// Empty bucket means uploads are disabled. Keys are env-only.
type ExportStorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	UseSSL    *bool  `yaml:"use_ssl"`
	AccessKey string `yaml:"-"` // env-only, never in YAML
	SecretKey string `yaml:"-"` // env-only, never in YAML
}

// MapperConfig contains row mapping settings.
type MapperConfig struct {
	Timezone string `yaml:"timezone"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("BARSYNC_CONFIG_PATH", "config/barsync.yaml")

	// Load YAML file if it exists (missing file is not an error)
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            3123,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Sheets: SheetsConfig{
			SheetName: "Лист1",
		},
		Filter: FilterConfig{
			FieldName:     "Бар (deal)",
			FallbackLabel: "бар",
			TargetValue:   "ЕВГ СПБ",
			MatchMode:     "exact",
		},
		Sync: SyncConfig{
			PageSize:   250,
			MaxPages:   200,
			PauseEvery: 10,
			Pause:      Duration(100 * time.Millisecond),
		},
		Journal: JournalConfig{
			Path: "data/barsync.db",
		},
		Worker: WorkerConfig{
			FullSyncInterval: Duration(24 * time.Hour),
		},
		Export: ExportConfig{
			Dir: "data/exports",
		},
		Mapper: MapperConfig{
			Timezone: "Europe/Moscow",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
// Missing file is not an error; we just use defaults.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("BARSYNC_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("BARSYNC_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ShutdownTimeout = Duration(d)
		}
	}

	// CRM (env names follow the account's existing deployment scripts)
	if v := os.Getenv("AMO_DOMAIN"); v != "" {
		cfg.AmoCRM.Domain = v
	}
	if v := os.Getenv("AMO_CLIENT_ID"); v != "" {
		cfg.AmoCRM.ClientID = v
	}
	if v := os.Getenv("AMO_CLIENT_SECRET"); v != "" {
		cfg.AmoCRM.ClientSecret = v
	}
	if v := os.Getenv("AMO_REDIRECT_URI"); v != "" {
		cfg.AmoCRM.RedirectURI = v
	}
	if v := os.Getenv("AMO_TOKEN"); v != "" {
		cfg.AmoCRM.AccessToken = v
	}
	if v := os.Getenv("AMO_REFRESH_TOKEN"); v != "" {
		cfg.AmoCRM.RefreshToken = v
	}

	// Sheets
	if v := os.Getenv("BARSYNC_SPREADSHEET_ID"); v != "" {
		cfg.Sheets.SpreadsheetID = v
	}
	if v := os.Getenv("BARSYNC_SHEET_NAME"); v != "" {
		cfg.Sheets.SheetName = v
	}
	if v := os.Getenv("GOOGLE_CREDENTIALS"); v != "" {
		cfg.Sheets.CredentialsJSON = v
	}

	// Filter
	if v := os.Getenv("BARSYNC_FILTER_TARGET"); v != "" {
		cfg.Filter.TargetValue = v
	}
	if v := os.Getenv("BARSYNC_FILTER_MATCH_MODE"); v != "" {
		cfg.Filter.MatchMode = v
	}
	if v := os.Getenv("BARSYNC_FILTER_BYPASS"); v != "" {
		cfg.Filter.Bypass = v == "true" || v == "1"
	}

	// Sync
	if v := os.Getenv("BARSYNC_SYNC_MAX_PAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.MaxPages = n
		}
	}

	// Journal
	if v := os.Getenv("BARSYNC_DB_PATH"); v != "" {
		cfg.Journal.Path = v
	}

	// Worker
	if v := os.Getenv("BARSYNC_FULL_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Worker.FullSyncInterval = Duration(d)
		}
	}
	if v := os.Getenv("BARSYNC_FULL_SYNC_ON_START"); v != "" {
		cfg.Worker.RunOnStart = v == "true" || v == "1"
	}

	// Export
	if v := os.Getenv("BARSYNC_EXPORT_DIR"); v != "" {
		cfg.Export.Dir = v
	}
	if v := os.Getenv("BARSYNC_S3_ACCESS_KEY"); v != "" {
		cfg.Export.Storage.AccessKey = v
	}
	if v := os.Getenv("BARSYNC_S3_SECRET_KEY"); v != "" {
		cfg.Export.Storage.SecretKey = v
	}

	// Mapper
	if v := os.Getenv("BARSYNC_TIMEZONE"); v != "" {
		cfg.Mapper.Timezone = v
	}

	// Log
	if v := os.Getenv("BARSYNC_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("BARSYNC_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// validate checks values that cannot be compensated for at runtime.
// Missing credentials are not a validation error: the service starts
// degraded and reports that through /health instead of crashing.
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	switch c.Filter.MatchMode {
	case "exact", "contains":
	default:
		return fmt.Errorf("invalid filter match_mode %q (want exact or contains)", c.Filter.MatchMode)
	}
	if _, err := time.LoadLocation(c.Mapper.Timezone); err != nil {
		return fmt.Errorf("invalid mapper timezone %q: %w", c.Mapper.Timezone, err)
	}
	if c.Sync.PageSize <= 0 || c.Sync.PageSize > 250 {
		return fmt.Errorf("invalid sync page_size %d (want 1-250)", c.Sync.PageSize)
	}
	return nil
}

// MissingCredentials lists the credentials the sync pipeline needs but does
// not have. Empty means the service can sync; non-empty means it starts
// degraded with HTTP up and sync disabled.
func (c *Config) MissingCredentials() []string {
	var missing []string
	if c.AmoCRM.Domain == "" {
		missing = append(missing, "AMO_DOMAIN")
	}
	if c.AmoCRM.AccessToken == "" && c.AmoCRM.RefreshToken == "" {
		missing = append(missing, "AMO_TOKEN")
	}
	if c.Sheets.SpreadsheetID == "" {
		missing = append(missing, "BARSYNC_SPREADSHEET_ID")
	}
	if c.Sheets.CredentialsJSON == "" {
		missing = append(missing, "GOOGLE_CREDENTIALS")
	}
	return missing
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
