// Package config provides configuration loading for the archive updater.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mesonet-io/satsync/internal/extract"
	"github.com/mesonet-io/satsync/internal/store"
)

// Defaults applied when the file leaves a setting empty.
const (
	DefaultAddress      = ":8080"
	DefaultDataDir      = "./data"
	DefaultSyncInterval = "24h"
	DefaultPollInterval = "1h"
	DefaultGeometry     = "mesonet-stations"

	storePasswordEnv   = "SATSYNC_STORE_PASSWORD"
	extractPasswordEnv = "SATSYNC_EXTRACT_PASSWORD"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// Address is the listen address of the operational HTTP server
	Address string `yaml:"address,omitempty"`

	// DataDir is where cycle status and other runtime files are kept
	DataDir string `yaml:"dataDir,omitempty"`

	Store     StoreConfig     `yaml:"store"`
	Extract   ExtractConfig   `yaml:"extract"`
	Sync      SyncConfig      `yaml:"sync,omitempty"`
	Planner   PlannerConfig   `yaml:"planner,omitempty"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`
}

// StoreConfig defines graph store connection settings. The password can be
// given inline, via passwordFile, or via SATSYNC_STORE_PASSWORD.
type StoreConfig struct {
	store.Neo4jConfig `yaml:",inline"`

	// PasswordFile is the path to a file containing the store password.
	// This is the recommended approach for production deployments.
	PasswordFile string `yaml:"passwordFile,omitempty"`
}

// Resolve returns the driver configuration with the password filled in.
func (s *StoreConfig) Resolve() (store.Neo4jConfig, error) {
	cfg := s.Neo4jConfig
	if cfg.Password == "" {
		password, err := readPassword(s.PasswordFile, storePasswordEnv)
		if err != nil {
			return store.Neo4jConfig{}, fmt.Errorf("store: %w", err)
		}
		cfg.Password = password
	}
	return cfg, nil
}

// ExtractConfig defines extraction service connection settings, with the
// same password sourcing rules as StoreConfig.
type ExtractConfig struct {
	extract.Config `yaml:",inline"`

	PasswordFile string `yaml:"passwordFile,omitempty"`
}

// Resolve returns the client configuration with the password filled in.
func (e *ExtractConfig) Resolve() (extract.Config, error) {
	cfg := e.Config
	if cfg.Password == "" {
		password, err := readPassword(e.PasswordFile, extractPasswordEnv)
		if err != nil {
			return extract.Config{}, fmt.Errorf("extract: %w", err)
		}
		cfg.Password = password
	}
	return cfg, nil
}

// SyncConfig defines update cycle scheduling settings.
type SyncConfig struct {
	// Interval is how often serve mode runs an update cycle, e.g. "24h"
	Interval string `yaml:"interval,omitempty"`

	// PollInterval is the wait between task poll rounds, e.g. "1h"
	PollInterval string `yaml:"pollInterval,omitempty"`

	// MaxRounds bounds the number of poll rounds per cycle; zero means
	// poll until every task resolves
	MaxRounds int `yaml:"maxRounds,omitempty"`

	// SubmitZeroDay submits tasks even when a gap spans zero days
	SubmitZeroDay bool `yaml:"submitZeroDay,omitempty"`
}

// IntervalDuration returns the parsed cycle interval.
func (s *SyncConfig) IntervalDuration() time.Duration {
	d, _ := time.ParseDuration(s.Interval)
	return d
}

// PollIntervalDuration returns the parsed poll interval.
func (s *SyncConfig) PollIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(s.PollInterval)
	return d
}

// PlannerConfig defines task planning settings.
type PlannerConfig struct {
	// Denylist replaces the default excluded layer name patterns
	Denylist []string `yaml:"denylist,omitempty"`

	// Geometry names the station geometry submitted with each task
	Geometry string `yaml:"geometry,omitempty"`
}

// TelemetryConfig defines metrics settings.
type TelemetryConfig struct {
	// Enabled turns on the Prometheus metrics endpoint
	Enabled bool `yaml:"enabled,omitempty"`
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Address == "" {
		c.Address = DefaultAddress
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.Sync.Interval == "" {
		c.Sync.Interval = DefaultSyncInterval
	}
	if c.Sync.PollInterval == "" {
		c.Sync.PollInterval = DefaultPollInterval
	}
	if c.Planner.Geometry == "" {
		c.Planner.Geometry = DefaultGeometry
	}
}

func (c *Config) validate() error {
	if c.Store.URI == "" {
		return fmt.Errorf("store.uri is required")
	}
	if c.Store.Username == "" {
		return fmt.Errorf("store.username is required")
	}
	if c.Extract.Endpoint == "" {
		return fmt.Errorf("extract.endpoint is required")
	}
	if c.Extract.Username == "" {
		return fmt.Errorf("extract.username is required")
	}
	if _, err := time.ParseDuration(c.Sync.Interval); err != nil {
		return fmt.Errorf("sync.interval must be a valid duration (e.g., '12h', '24h'): %w", err)
	}
	if _, err := time.ParseDuration(c.Sync.PollInterval); err != nil {
		return fmt.Errorf("sync.pollInterval must be a valid duration (e.g., '30m', '1h'): %w", err)
	}
	if c.Sync.MaxRounds < 0 {
		return fmt.Errorf("sync.maxRounds must not be negative")
	}
	return nil
}

// readPassword returns the password from file when set, otherwise from the
// named environment variable.
func readPassword(passwordFile, envVar string) (string, error) {
	if passwordFile != "" {
		cleanPath := filepath.Clean(passwordFile)
		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", passwordFile, err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	if envPassword := os.Getenv(envVar); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf("no password configured: set passwordFile or the %s environment variable", envVar)
}
