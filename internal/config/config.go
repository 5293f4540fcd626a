// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/nutrichat/internal/api"
	"github.com/jeranaias/nutrichat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the main configuration structure.
type Config struct {
	API         APIConfig         `toml:"api"`
	Stream      StreamConfig      `toml:"stream"`
	Credentials CredentialsConfig `toml:"credentials"`
	Unlock      UnlockConfig      `toml:"unlock"`
	Logging     LoggingConfig     `toml:"logging"`

	// Passphrase derives the credential key. Read from NUTRICHAT_PASSPHRASE
	// only and never written to disk.
	Passphrase string `toml:"-"`
}

// APIConfig holds backend connection settings.
type APIConfig struct {
	BaseURL           string  `toml:"base_url"`
	TimeoutSecs       int     `toml:"timeout_secs"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	MaxRetries        int     `toml:"max_retries"`
}

// StreamConfig holds streaming settings. TimeoutSecs of 0 disables the
// per-send deadline.
type StreamConfig struct {
	TimeoutSecs   int `toml:"timeout_secs"`
	MaxEventBytes int `toml:"max_event_bytes"`
}

// CredentialsConfig locates the encrypted credential store.
type CredentialsConfig struct {
	Path    string `toml:"path"`
	KeyFile string `toml:"key_file"`
}

// UnlockConfig configures the one-time-code gate.
type UnlockConfig struct {
	Enabled        bool `toml:"enabled"`
	MaxAttempts    int  `toml:"max_attempts"`
	LockoutMinutes int  `toml:"lockout_minutes"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
	JSON  bool   `toml:"json"`
}

// validLogLevels are the level names the logger accepts.
var validLogLevels = []string{"debug", "info", "warn", "error"}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a configuration with default values.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:           api.DefaultBaseURL,
			TimeoutSecs:       30,
			RequestsPerSecond: 5,
			MaxRetries:        3,
		},
		Stream: StreamConfig{
			TimeoutSecs:   180,
			MaxEventBytes: 1 << 20,
		},
		Credentials: CredentialsConfig{
			Path:    "~/.nutrichat/credentials.db",
			KeyFile: "~/.nutrichat/master.key",
		},
		Unlock: UnlockConfig{
			Enabled:        false,
			MaxAttempts:    3,
			LockoutMinutes: 15,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// fillDefaults restores fields that an explicit empty value would break.
func fillDefaults(cfg *Config) {
	defaults := Default()

	if strings.TrimSpace(cfg.API.BaseURL) == "" {
		cfg.API.BaseURL = defaults.API.BaseURL
	}
	if cfg.Stream.MaxEventBytes == 0 {
		cfg.Stream.MaxEventBytes = defaults.Stream.MaxEventBytes
	}
	if cfg.Credentials.Path == "" {
		cfg.Credentials.Path = defaults.Credentials.Path
	}
	if cfg.Credentials.KeyFile == "" {
		cfg.Credentials.KeyFile = defaults.Credentials.KeyFile
	}
	if cfg.Unlock.MaxAttempts == 0 {
		cfg.Unlock.MaxAttempts = defaults.Unlock.MaxAttempts
	}
	if cfg.Unlock.LockoutMinutes == 0 {
		cfg.Unlock.LockoutMinutes = defaults.Unlock.LockoutMinutes
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the nutrichat configuration directory.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".nutrichat"), nil
}

// DefaultPath returns the path of the TOML config file.
func DefaultPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads the config at path, or the default path when empty. A missing
// file yields defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		fillDefaults(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from an existing file with full validation.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes TOML over the defaults, applies env overrides and validates.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode TOML: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, ValidateErrors{{Field: strings.Join(keys, ", "), Message: "unknown key"}}
	}

	cfg.ApplyEnvOverrides()
	fillDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes cfg to path as TOML with 0600 permissions.
func Save(cfg *Config, path string) error {
	var buf bytes.Buffer
	fmt.Fprintln(&buf, "# nutrichat configuration file")
	fmt.Fprintln(&buf, "# Generated by nutrichat - edit with care")
	fmt.Fprintln(&buf, "")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration and returns ValidateErrors when invalid.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if _, err := api.NormalizeBaseURL(c.API.BaseURL); err != nil {
		errs = append(errs, ValidationError{Field: "api.base_url", Message: err.Error()})
	}
	if c.API.TimeoutSecs < 0 {
		errs = append(errs, ValidationError{Field: "api.timeout_secs", Message: "must not be negative"})
	}
	if c.API.RequestsPerSecond < 0 {
		errs = append(errs, ValidationError{Field: "api.requests_per_second", Message: "must not be negative"})
	}
	if c.API.MaxRetries < 0 || c.API.MaxRetries > 10 {
		errs = append(errs, ValidationError{Field: "api.max_retries", Message: "must be between 0 and 10"})
	}

	if c.Stream.TimeoutSecs < 0 {
		errs = append(errs, ValidationError{Field: "stream.timeout_secs", Message: "must not be negative (0 disables)"})
	}
	if c.Stream.MaxEventBytes < 1024 {
		errs = append(errs, ValidationError{Field: "stream.max_event_bytes", Message: "must be at least 1024"})
	}

	if c.Unlock.MaxAttempts < 1 {
		errs = append(errs, ValidationError{Field: "unlock.max_attempts", Message: "must be at least 1"})
	}
	if c.Unlock.LockoutMinutes < 1 {
		errs = append(errs, ValidationError{Field: "unlock.lockout_minutes", Message: "must be at least 1"})
	}

	valid := false
	for _, l := range validLogLevels {
		if c.Logging.Level == l {
			valid = true
			break
		}
	}
	if !valid {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("must be one of %s", strings.Join(validLogLevels, ", ")),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides:
//   - NUTRICHAT_API_URL: overrides api.base_url
//   - NUTRICHAT_LOG_LEVEL: overrides logging.level
//   - NUTRICHAT_STREAM_TIMEOUT: overrides stream.timeout_secs
//   - NUTRICHAT_PASSPHRASE: sets the credential passphrase
func (c *Config) ApplyEnvOverrides() {
	if url := os.Getenv("NUTRICHAT_API_URL"); url != "" {
		c.API.BaseURL = url
	}
	if level := os.Getenv("NUTRICHAT_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if raw := os.Getenv("NUTRICHAT_STREAM_TIMEOUT"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil {
			c.Stream.TimeoutSecs = secs
		}
	}
	if pass := os.Getenv("NUTRICHAT_PASSPHRASE"); pass != "" {
		c.Passphrase = pass
	}
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// APITimeout returns the per-request timeout for REST calls.
func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutSecs) * time.Second
}

// StreamTimeout returns the per-send deadline; zero means none.
func (c *Config) StreamTimeout() time.Duration {
	return time.Duration(c.Stream.TimeoutSecs) * time.Second
}

// LockoutDuration returns how long the unlock gate stays locked.
func (c *Config) LockoutDuration() time.Duration {
	return time.Duration(c.Unlock.LockoutMinutes) * time.Minute
}

// CredentialsPath returns the expanded credential store path.
func (c *Config) CredentialsPath() string {
	return util.ExpandHome(c.Credentials.Path)
}

// KeyFilePath returns the expanded key file path. The salt for passphrase
// keys lives next to it.
func (c *Config) KeyFilePath() string {
	return util.ExpandHome(c.Credentials.KeyFile)
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// String returns the TOML form without secrets.
func (c *Config) String() string {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Sprintf("config error: %v", err)
	}
	return buf.String()
}
