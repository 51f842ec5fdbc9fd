// Package config loads and validates the aimai configuration file.
//
// Configuration lives in a single JSON file (~/.aimai/aimai.json by
// default). Every field is optional; missing fields keep their defaults
// and a missing file is not an error. Environment variables are applied
// after the file so they win.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ─── Names ───

// Storage backends.
const (
	StorageSQLite = "sqlite"
	StorageFile   = "file"
)

// Answer backends.
const (
	BackendAnthropic = "anthropic"
	BackendCanned    = "canned"
)

const (
	configDir  = ".aimai"
	configFile = "aimai.json"

	defaultModel   = "claude-sonnet-4-20250514"
	defaultTimeout = 30 * time.Second
)

// ─── Config ───

// Config is the full runtime configuration. The API key is deliberately
// excluded from JSON: it is read from ANTHROPIC_API_KEY and never
// written to disk.
type Config struct {
	Threshold      float64 `json:"threshold"`
	Normalization  float64 `json:"normalization"`
	MaxRounds      int     `json:"max_rounds"`
	RecentWindow   int     `json:"recent_window"`
	TopicHints     int     `json:"topic_hints"`
	Storage        string  `json:"storage"`
	DataDir        string  `json:"data_dir"`
	Backend        string  `json:"backend"`
	Model          string  `json:"model"`
	APIKey         string  `json:"-"`
	BackendTimeout string  `json:"backend_timeout"`
	HTTPAddr       string  `json:"http_addr"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Threshold:      0.5,
		Normalization:  1.0,
		MaxRounds:      2,
		RecentWindow:   3,
		TopicHints:     5,
		Storage:        StorageSQLite,
		DataDir:        defaultDataDir(),
		Backend:        BackendCanned,
		Model:          defaultModel,
		BackendTimeout: "30s",
		HTTPAddr:       ":8087",
	}
}

// DefaultPath returns the standard location of the config file.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return configFile
	}
	return filepath.Join(home, configDir, configFile)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, configDir)
}

// ─── Load / Save ───

// Load reads the config file at path (DefaultPath when empty), overlays
// environment variables, and validates the result. A missing file yields
// the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// First run: defaults plus environment.
	case err != nil:
		return Config{}, fmt.Errorf("reading %s: %w", path, err)
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes the configuration to path (DefaultPath when empty),
// creating parent directories as needed.
func (c Config) Save(path string) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("AIMAI_STORAGE"); v != "" {
		c.Storage = v
	}
	if v := os.Getenv("AIMAI_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("AIMAI_BACKEND"); v != "" {
		c.Backend = v
	}
	if v := os.Getenv("AIMAI_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("AIMAI_HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.APIKey = v
	}
}

// ─── Validation ───

// Validate rejects values no component could run with.
func (c Config) Validate() error {
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("threshold %v outside [0, 1]", c.Threshold)
	}
	if c.Normalization <= 0 {
		return fmt.Errorf("normalization %v must be positive", c.Normalization)
	}
	if c.MaxRounds < 0 {
		return fmt.Errorf("max_rounds %d must not be negative", c.MaxRounds)
	}
	if c.RecentWindow < 0 {
		return fmt.Errorf("recent_window %d must not be negative", c.RecentWindow)
	}
	if c.TopicHints < 0 {
		return fmt.Errorf("topic_hints %d must not be negative", c.TopicHints)
	}
	switch c.Storage {
	case StorageSQLite, StorageFile:
	default:
		return fmt.Errorf("unknown storage %q", c.Storage)
	}
	switch c.Backend {
	case BackendAnthropic, BackendCanned:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.BackendTimeout != "" {
		d, err := time.ParseDuration(c.BackendTimeout)
		if err != nil {
			return fmt.Errorf("backend_timeout %q: %w", c.BackendTimeout, err)
		}
		if d < 0 {
			return fmt.Errorf("backend_timeout %q must not be negative", c.BackendTimeout)
		}
	}
	return nil
}

// Timeout returns the per-generate bound as a duration. Empty or
// unparseable values fall back to the default.
func (c Config) Timeout() time.Duration {
	if c.BackendTimeout == "" {
		return defaultTimeout
	}
	d, err := time.ParseDuration(c.BackendTimeout)
	if err != nil {
		return defaultTimeout
	}
	return d
}
