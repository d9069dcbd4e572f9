// Package config loads the fwbuilder service configuration from a YAML file,
// with environment variable expansion and optional .env loading.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/fwbuilder/internal/errors"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Build   BuildConfig   `yaml:"build"`
	Boards  BoardsConfig  `yaml:"boards"`
	Cache   CacheConfig   `yaml:"cache"`
	Quota   QuotaConfig   `yaml:"quota"`
	Library LibraryConfig `yaml:"library"`
	Events  EventsConfig  `yaml:"events"`
	Store   StoreConfig   `yaml:"store"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig configures the HTTP boundary.
type ServerConfig struct {
	Listen      string   `yaml:"listen"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// BuildConfig configures the build engine.
type BuildConfig struct {
	Workers        int    `yaml:"workers"`          // concurrent toolchain invocations
	QueueSize      int    `yaml:"queue_size"`       // pending requests beyond running ones
	Timeout        string `yaml:"timeout"`          // per-build wall clock limit
	MaxSourceBytes int64  `yaml:"max_source_bytes"` // total submitted source cap
	MaxOutputBytes int64  `yaml:"max_output_bytes"` // captured compiler output cap
	WorkspaceDir   string `yaml:"workspace_dir"`    // base dir for per-build workspaces
	Compiler       string `yaml:"compiler"`         // toolchain binary, e.g. platformio
}

// ParsedTimeout returns the build timeout as a duration.
func (b BuildConfig) ParsedTimeout() time.Duration {
	d, err := time.ParseDuration(b.Timeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// BoardsConfig points at the board profile registry file.
type BoardsConfig struct {
	File string `yaml:"file"` // optional; built-in profiles used when empty
}

// CacheConfig configures the compile result cache.
type CacheConfig struct {
	Enabled    bool   `yaml:"enabled"`
	MaxEntries int    `yaml:"max_entries"`
	TTL        string `yaml:"ttl"`
}

// ParsedTTL returns the cache TTL as a duration.
func (c CacheConfig) ParsedTTL() time.Duration {
	d, err := time.ParseDuration(c.TTL)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// QuotaConfig configures per-session limits.
type QuotaConfig struct {
	MaxInFlightPerSession int    `yaml:"max_in_flight_per_session"`
	MaxBuildsPerHour      int    `yaml:"max_builds_per_hour"`
	SessionTTL            string `yaml:"session_ttl"`
}

// ParsedSessionTTL returns the session TTL as a duration.
func (q QuotaConfig) ParsedSessionTTL() time.Duration {
	d, err := time.ParseDuration(q.SessionTTL)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// LibraryConfig configures the Arduino library manager.
type LibraryConfig struct {
	Dir             string `yaml:"dir"`              // shared install store
	IndexFile       string `yaml:"index_file"`       // on-disk library index
	IndexURL        string `yaml:"index_url"`        // upstream index location
	RefreshInterval string `yaml:"refresh_interval"` // 0 disables periodic refresh
	RetryBackoff    string `yaml:"retry_backoff"`    // fixed|linear|exponential
	RetryInitial    string `yaml:"retry_initial"`
	RetryMax        string `yaml:"retry_max"`
	MaxRetries      int    `yaml:"max_retries"`
}

// ParsedRefreshInterval returns the index refresh interval; zero disables refresh.
func (l LibraryConfig) ParsedRefreshInterval() time.Duration {
	d, err := time.ParseDuration(l.RefreshInterval)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// EventsConfig configures the optional NATS build event publisher.
type EventsConfig struct {
	Enabled bool   `yaml:"enabled"`
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"` // subject prefix, e.g. fwbuilder.builds
}

// StoreConfig configures the build record store.
type StoreConfig struct {
	Path string `yaml:"path"` // sqlite file; ":memory:" for ephemeral
}

// MetricsConfig configures Prometheus exposure.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load loads configuration from the specified file
func Load(configPath string) (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		// Don't fail if .env doesn't exist, just note it
		fmt.Fprintf(os.Stderr, "Note: .env file not found or couldn't be loaded: %v\n", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, ferrors.ConfigNotFound(configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Default returns a configuration with all defaults applied and no file read.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"*"}
	}
	if c.Build.Workers <= 0 {
		c.Build.Workers = 4
	}
	if c.Build.QueueSize <= 0 {
		c.Build.QueueSize = 100
	}
	if c.Build.Timeout == "" {
		c.Build.Timeout = "60s"
	}
	if c.Build.MaxSourceBytes <= 0 {
		c.Build.MaxSourceBytes = 512 * 1024
	}
	if c.Build.MaxOutputBytes <= 0 {
		c.Build.MaxOutputBytes = 1024 * 1024
	}
	if c.Build.WorkspaceDir == "" {
		c.Build.WorkspaceDir = os.TempDir()
	}
	if c.Build.Compiler == "" {
		c.Build.Compiler = "platformio"
	}
	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = 100
	}
	if c.Cache.TTL == "" {
		c.Cache.TTL = "1h"
	}
	if c.Quota.MaxInFlightPerSession <= 0 {
		c.Quota.MaxInFlightPerSession = 1
	}
	if c.Quota.MaxBuildsPerHour <= 0 {
		c.Quota.MaxBuildsPerHour = 60
	}
	if c.Quota.SessionTTL == "" {
		c.Quota.SessionTTL = "1h"
	}
	if c.Library.Dir == "" {
		c.Library.Dir = "./arduino-libs"
	}
	if c.Library.IndexFile == "" {
		c.Library.IndexFile = "./library_index.json"
	}
	if c.Library.IndexURL == "" {
		c.Library.IndexURL = "https://downloads.arduino.cc/libraries/library_index.json"
	}
	if c.Library.RefreshInterval == "" {
		c.Library.RefreshInterval = "24h"
	}
	if c.Events.Subject == "" {
		c.Events.Subject = "fwbuilder.builds"
	}
	if c.Events.NATSURL == "" {
		c.Events.NATSURL = "nats://127.0.0.1:4222"
	}
	if c.Store.Path == "" {
		c.Store.Path = "./fwbuilder.db"
	}
}

// Validate checks invariants that cannot be defaulted away.
func (c *Config) Validate() error {
	if _, err := time.ParseDuration(c.Build.Timeout); err != nil {
		return ferrors.ValidationFailed("build.timeout", err.Error())
	}
	if c.Cache.TTL != "" {
		if _, err := time.ParseDuration(c.Cache.TTL); err != nil {
			return ferrors.ValidationFailed("cache.ttl", err.Error())
		}
	}
	if c.Events.Enabled && c.Events.NATSURL == "" {
		return ferrors.ValidationFailed("events.nats_url", "required when events are enabled")
	}
	return nil
}
