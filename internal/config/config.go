// Package config provides configuration loading and validation for the harvester.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/jonathan/mp-harvester/internal/retry"
)

// Config is the engine and CLI configuration. It can be loaded from a JSON or
// YAML file; zero values are filled by MergeWithDefaults.
type Config struct {
	// Acquisition
	MaxPages         int     `json:"max_pages,omitempty" yaml:"max_pages,omitempty" validate:"gte=1,lte=500"`
	RequestInterval  float64 `json:"request_interval,omitempty" yaml:"request_interval,omitempty" validate:"gte=0"` // seconds
	MaxWorkers       int     `json:"max_workers,omitempty" yaml:"max_workers,omitempty" validate:"gte=1,lte=64"`
	IncludeContent   bool    `json:"include_content,omitempty" yaml:"include_content,omitempty"`
	CacheExpireHours int     `json:"cache_expire_hours,omitempty" yaml:"cache_expire_hours,omitempty" validate:"gte=1"`
	LoginTimeout     int     `json:"login_timeout,omitempty" yaml:"login_timeout,omitempty" validate:"gte=1"` // seconds
	FetchTimeout     int     `json:"fetch_timeout,omitempty" yaml:"fetch_timeout,omitempty" validate:"gte=1"` // seconds
	UserAgent        string  `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`
	Retry            Retry   `json:"retry,omitempty" yaml:"retry,omitempty"`

	// Storage
	CacheBackend   string `json:"cache_backend,omitempty" yaml:"cache_backend,omitempty" validate:"omitempty,oneof=badger postgres memory layered"`
	CacheDir       string `json:"cache_dir,omitempty" yaml:"cache_dir,omitempty"`
	DatabaseURL    string `json:"database_url,omitempty" yaml:"database_url,omitempty"`
	CredentialFile string `json:"credential_file,omitempty" yaml:"credential_file,omitempty"`
	HistoryDB      string `json:"history_db,omitempty" yaml:"history_db,omitempty"`
	MaxHistory     int    `json:"max_history,omitempty" yaml:"max_history,omitempty" validate:"gte=0"`

	Log    Log    `json:"log,omitempty" yaml:"log,omitempty"`
	Server Server `json:"server,omitempty" yaml:"server,omitempty"`
}

// Retry mirrors retry.Policy in file-friendly units.
type Retry struct {
	MaxAttempts int     `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty" validate:"gte=0,lte=20"`
	BaseDelay   float64 `json:"base_delay,omitempty" yaml:"base_delay,omitempty" validate:"gte=0"` // seconds
	Multiplier  float64 `json:"multiplier,omitempty" yaml:"multiplier,omitempty" validate:"gte=0"`
	MaxDelay    float64 `json:"max_delay,omitempty" yaml:"max_delay,omitempty" validate:"gte=0"` // seconds
	Resubmits   int     `json:"resubmits,omitempty" yaml:"resubmits,omitempty" validate:"gte=0,lte=5"`
}

// Log configures the zap logger.
type Log struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	Format string `json:"format,omitempty" yaml:"format,omitempty" validate:"omitempty,oneof=console json"`
	File   string `json:"file,omitempty" yaml:"file,omitempty"`
}

// Server configures the local worker API.
type Server struct {
	Addr      string `json:"addr,omitempty" yaml:"addr,omitempty"`
	RateLimit int    `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty" validate:"gte=0"` // requests per minute per client
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		MaxPages:         10,
		RequestInterval:  10,
		MaxWorkers:       5,
		IncludeContent:   true,
		CacheExpireHours: 24 * 4,
		LoginTimeout:     300,
		FetchTimeout:     30,
		UserAgent:        "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Retry: Retry{
			MaxAttempts: 3,
			BaseDelay:   2,
			Multiplier:  1.5,
			MaxDelay:    10,
			Resubmits:   1,
		},
		CacheBackend:   "badger",
		CacheDir:       filepath.Join(dataDir(), "cache"),
		CredentialFile: filepath.Join(dataDir(), "credential.json"),
		HistoryDB:      filepath.Join(dataDir(), "history.db"),
		MaxHistory:     20,
		Log: Log{
			Level:  "info",
			Format: "console",
		},
		Server: Server{
			Addr:      "127.0.0.1:8765",
			RateLimit: 60,
		},
	}
}

func dataDir() string {
	if dir := os.Getenv("MPH_DATA_DIR"); dir != "" {
		return dir
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "mp-harvester")
	}
	return ".mp-harvester"
}

// LoadConfig loads configuration from a JSON or YAML file, chosen by extension.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks that the configuration has valid values.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("'%s' failed '%s'", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("config error: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config error: %w", err)
	}

	if (c.CacheBackend == "postgres" || c.CacheBackend == "layered") && c.DatabaseURL == "" {
		return fmt.Errorf("config error: cache_backend %q requires 'database_url'", c.CacheBackend)
	}
	return nil
}

// MergeWithDefaults returns a new Config with zero fields filled from defaults.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	// String fields: use default if empty
	if result.UserAgent == "" {
		result.UserAgent = defaults.UserAgent
	}
	if result.CacheBackend == "" {
		result.CacheBackend = defaults.CacheBackend
	}
	if result.CacheDir == "" {
		result.CacheDir = defaults.CacheDir
	}
	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}
	if result.CredentialFile == "" {
		result.CredentialFile = defaults.CredentialFile
	}
	if result.HistoryDB == "" {
		result.HistoryDB = defaults.HistoryDB
	}
	if result.Log.Level == "" {
		result.Log.Level = defaults.Log.Level
	}
	if result.Log.Format == "" {
		result.Log.Format = defaults.Log.Format
	}
	if result.Log.File == "" {
		result.Log.File = defaults.Log.File
	}
	if result.Server.Addr == "" {
		result.Server.Addr = defaults.Server.Addr
	}

	// Numeric fields: use default if zero
	if result.MaxPages == 0 {
		result.MaxPages = defaults.MaxPages
	}
	if result.RequestInterval == 0 {
		result.RequestInterval = defaults.RequestInterval
	}
	if result.MaxWorkers == 0 {
		result.MaxWorkers = defaults.MaxWorkers
	}
	if result.CacheExpireHours == 0 {
		result.CacheExpireHours = defaults.CacheExpireHours
	}
	if result.LoginTimeout == 0 {
		result.LoginTimeout = defaults.LoginTimeout
	}
	if result.FetchTimeout == 0 {
		result.FetchTimeout = defaults.FetchTimeout
	}
	if result.MaxHistory == 0 {
		result.MaxHistory = defaults.MaxHistory
	}
	if result.Server.RateLimit == 0 {
		result.Server.RateLimit = defaults.Server.RateLimit
	}
	if result.Retry.MaxAttempts == 0 {
		result.Retry.MaxAttempts = defaults.Retry.MaxAttempts
	}
	if result.Retry.BaseDelay == 0 {
		result.Retry.BaseDelay = defaults.Retry.BaseDelay
	}
	if result.Retry.Multiplier == 0 {
		result.Retry.Multiplier = defaults.Retry.Multiplier
	}
	if result.Retry.MaxDelay == 0 {
		result.Retry.MaxDelay = defaults.Retry.MaxDelay
	}
	if result.Retry.Resubmits == 0 {
		result.Retry.Resubmits = defaults.Retry.Resubmits
	}

	// Bool fields: cannot distinguish unset from false, so we don't merge
	// (CLI flags should always win for bools)

	return result
}

// ApplyEnv overrides fields from MPH_* environment variables.
func (c *Config) ApplyEnv() {
	c.DatabaseURL = getEnvString("DATABASE_URL", c.DatabaseURL)
	c.CacheBackend = getEnvString("MPH_CACHE_BACKEND", c.CacheBackend)
	c.CacheDir = getEnvString("MPH_CACHE_DIR", c.CacheDir)
	c.CredentialFile = getEnvString("MPH_CREDENTIAL_FILE", c.CredentialFile)
	c.Log.Level = getEnvString("MPH_LOG_LEVEL", c.Log.Level)
	c.Server.Addr = getEnvString("MPH_SERVER_ADDR", c.Server.Addr)
	c.MaxWorkers = getEnvInt("MPH_MAX_WORKERS", c.MaxWorkers)
	c.MaxPages = getEnvInt("MPH_MAX_PAGES", c.MaxPages)
}

// RequestIntervalDuration returns request_interval as a time.Duration.
func (c *Config) RequestIntervalDuration() time.Duration {
	return seconds(c.RequestInterval)
}

// CacheTTL returns cache_expire_hours as a time.Duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheExpireHours) * time.Hour
}

// LoginTimeoutDuration returns login_timeout as a time.Duration.
func (c *Config) LoginTimeoutDuration() time.Duration {
	return time.Duration(c.LoginTimeout) * time.Second
}

// FetchTimeoutDuration returns fetch_timeout as a time.Duration.
func (c *Config) FetchTimeoutDuration() time.Duration {
	return time.Duration(c.FetchTimeout) * time.Second
}

// RetryPolicy converts the retry section into the shared retry.Policy.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   seconds(c.Retry.BaseDelay),
		Multiplier:  c.Retry.Multiplier,
		MaxDelay:    seconds(c.Retry.MaxDelay),
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
