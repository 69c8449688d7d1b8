package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// NOTE: the YAML file holds the non-secret settings. Secrets (DSN, JWT
// secret, Redis URL) are normally supplied through CHURCHCAL_* environment
// variables, optionally loaded from a .env file.

const envPrefix = "CHURCHCAL_"

// DatabaseConfig selects the SQL driver ("postgres" or "sqlite3") and DSN.
type DatabaseConfig struct {
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"-"`
}

// CacheConfig controls the view response cache. An empty RedisURL selects
// the in-process cache.
type CacheConfig struct {
	TTLSeconds int    `yaml:"ttl_seconds" json:"ttl_seconds"`
	RedisURL   string `yaml:"redis_url" json:"-"`
}

// TTL is the cache lifetime as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// AuthConfig holds the HS256 bearer token settings.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" json:"-"`
	Issuer    string `yaml:"issuer" json:"issuer"`
}

// ExpansionConfig bounds recurrence expansion.
type ExpansionConfig struct {
	// PastYears / FutureYears define the default window around now.
	PastYears   int `yaml:"past_years" json:"past_years"`
	FutureYears int `yaml:"future_years" json:"future_years"`

	MaxOccurrencesPerEvent int `yaml:"max_occurrences_per_event" json:"max_occurrences_per_event"`
}

type HierarchyConfig struct {
	MaxAncestorDepth int `yaml:"max_ancestor_depth" json:"max_ancestor_depth"`
}

// MaintenanceConfig schedules the exception purge job.
type MaintenanceConfig struct {
	// Cron is a standard 5-field schedule (e.g. "30 3 * * *").
	Cron string `yaml:"cron" json:"cron"`
	// ExceptionRetentionDays keeps exceptions younger than this many days.
	ExceptionRetentionDays int `yaml:"exception_retention_days" json:"exception_retention_days"`
}

// PrintConfig enables the headless Chromium agenda PDF.
type PrintConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// BaseURL is where Chromium reaches this server (e.g. "http://127.0.0.1:8080").
	BaseURL        string `yaml:"base_url" json:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used for calendar dates (e.g. "America/Sao_Paulo").
	Timezone string `yaml:"timezone" json:"timezone"`

	Database    DatabaseConfig    `yaml:"database" json:"database"`
	Cache       CacheConfig       `yaml:"cache" json:"cache"`
	Auth        AuthConfig        `yaml:"auth" json:"auth"`
	Expansion   ExpansionConfig   `yaml:"expansion" json:"expansion"`
	Hierarchy   HierarchyConfig   `yaml:"hierarchy" json:"hierarchy"`
	Maintenance MaintenanceConfig `yaml:"maintenance" json:"maintenance"`
	Print       PrintConfig       `yaml:"print" json:"print"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   "127.0.0.1:8080",
		Timezone: "UTC",
		Database: DatabaseConfig{Driver: "sqlite3", DSN: "file:churchcal.db?_foreign_keys=on"},
		Cache:    CacheConfig{TTLSeconds: 30},
		Auth:     AuthConfig{Issuer: "churchcal"},
		Expansion: ExpansionConfig{
			PastYears:              1,
			FutureYears:            2,
			MaxOccurrencesPerEvent: 5000,
		},
		Hierarchy:   HierarchyConfig{MaxAncestorDepth: 5},
		Maintenance: MaintenanceConfig{Cron: "30 3 * * *", ExceptionRetentionDays: 400},
		Print:       PrintConfig{BaseURL: "http://127.0.0.1:8080", TimeoutSeconds: 30},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	switch c.Database.Driver {
	case "postgres", "sqlite3":
	default:
		c.Database.Driver = def.Database.Driver
	}
	if c.Database.DSN == "" && c.Database.Driver == def.Database.Driver {
		c.Database.DSN = def.Database.DSN
	}
	if c.Cache.TTLSeconds <= 0 {
		c.Cache.TTLSeconds = def.Cache.TTLSeconds
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = def.Auth.Issuer
	}
	if c.Expansion.PastYears <= 0 {
		c.Expansion.PastYears = def.Expansion.PastYears
	}
	if c.Expansion.FutureYears <= 0 {
		c.Expansion.FutureYears = def.Expansion.FutureYears
	}
	if c.Expansion.MaxOccurrencesPerEvent <= 0 {
		c.Expansion.MaxOccurrencesPerEvent = def.Expansion.MaxOccurrencesPerEvent
	}
	if c.Hierarchy.MaxAncestorDepth <= 0 {
		c.Hierarchy.MaxAncestorDepth = def.Hierarchy.MaxAncestorDepth
	}
	if c.Maintenance.Cron == "" {
		c.Maintenance.Cron = def.Maintenance.Cron
	}
	// Exceptions inside the expansion window must survive the purge.
	if minDays := c.Expansion.PastYears * 366; c.Maintenance.ExceptionRetentionDays < minDays {
		c.Maintenance.ExceptionRetentionDays = minDays
	}
	if c.Print.BaseURL == "" {
		c.Print.BaseURL = "http://" + c.Listen
	}
	if c.Print.TimeoutSeconds <= 0 {
		c.Print.TimeoutSeconds = def.Print.TimeoutSeconds
	}
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// Load loads configuration from the given YAML path and applies environment
// overrides.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - Then CHURCHCAL_* variables override file values and defaults are
//     filled in.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	var cfg *Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// First run: create default config file.
		cfg = DefaultConfig()
		if err := Save(path, cfg); err != nil {
			return cfg, err
		}
	case err != nil:
		return nil, err
	default:
		cfg = &Config{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	return godotenv.Load(present...)
}

// ApplyEnv overrides fields from CHURCHCAL_* environment variables.
func (c *Config) ApplyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = v
		}
	}
	str("LISTEN", &c.Listen)
	str("TIMEZONE", &c.Timezone)
	str("DB_DRIVER", &c.Database.Driver)
	str("DB_DSN", &c.Database.DSN)
	str("REDIS_URL", &c.Cache.RedisURL)
	str("JWT_SECRET", &c.Auth.JWTSecret)
	str("JWT_ISSUER", &c.Auth.Issuer)
	str("PRINT_BASE_URL", &c.Print.BaseURL)

	if v, ok := os.LookupEnv(envPrefix + "CACHE_TTL_SECONDS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.New("config: " + envPrefix + "CACHE_TTL_SECONDS: " + err.Error())
		}
		c.Cache.TTLSeconds = n
	}
	if v, ok := os.LookupEnv(envPrefix + "PRINT_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.New("config: " + envPrefix + "PRINT_ENABLED: " + err.Error())
		}
		c.Print.Enabled = b
	}
	return nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".churchcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
