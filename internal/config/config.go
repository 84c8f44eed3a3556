package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/3leaps/vidsentry/pkg/provider"
)

// Config is the fully resolved vidsentry configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Health   HealthConfig   `mapstructure:"health"`
	Debug    DebugConfig    `mapstructure:"debug"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Store    StoreConfig    `mapstructure:"store"`
	Registry RegistryConfig `mapstructure:"registry"`
	Runner   RunnerConfig   `mapstructure:"runner"`

	// DataDir is the root for every default on-disk location.
	DataDir string `mapstructure:"data_dir"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// RateLimit is job submissions per second per client. Zero disables it.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`

	// File enables a rotated log file in addition to stderr.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type DebugConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}

// StorageConfig selects the object store used for uploaded videos.
type StorageConfig struct {
	Provider string   `mapstructure:"provider"`
	BaseDir  string   `mapstructure:"base_dir"`
	S3       S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Bucket         string `mapstructure:"bucket"`
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	Profile        string `mapstructure:"profile"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
	RegionFromIMDS bool   `mapstructure:"region_from_imds"`
}

// StoreConfig locates the results database. URL wins over Path.
type StoreConfig struct {
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

type RegistryConfig struct {
	Dir    string        `mapstructure:"dir"`
	MaxAge time.Duration `mapstructure:"max_age"`
}

type RunnerConfig struct {
	// Exclusive allows at most one running job per kind.
	Exclusive bool `mapstructure:"exclusive"`

	// Seed fixes the result synthesizer. Zero seeds from the clock.
	Seed uint64 `mapstructure:"seed"`

	// Intervals overrides the tick interval per job kind.
	Intervals map[string]time.Duration `mapstructure:"intervals"`

	// MaxEvents bounds the in-memory event history.
	MaxEvents int `mapstructure:"max_events"`
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

// Validate checks the resolved configuration for values the runtime cannot
// work with.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port out of range: %d", c.Metrics.Port)
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid logging.level %q (expected debug, info, warn or error)", c.Logging.Level)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must be >= 0")
	}

	pt, ok := provider.ParseProviderType(c.Storage.Provider)
	if !ok {
		return fmt.Errorf("invalid storage.provider %q (expected file or s3)", c.Storage.Provider)
	}
	if pt == provider.ProviderS3 && strings.TrimSpace(c.Storage.S3.Bucket) == "" {
		return fmt.Errorf("storage.s3.bucket is required when storage.provider is s3")
	}

	for kind, d := range c.Runner.Intervals {
		if d <= 0 {
			return fmt.Errorf("runner.intervals.%s must be positive", kind)
		}
	}
	return nil
}

// applyDerived fills on-disk locations that default relative to DataDir.
func (c *Config) applyDerived() {
	if c.Registry.Dir == "" {
		c.Registry.Dir = filepath.Join(c.DataDir, "jobs")
	}
	if c.Store.Path == "" && c.Store.URL == "" {
		c.Store.Path = filepath.Join(c.DataDir, "results.db")
	}
	if c.Storage.BaseDir == "" {
		c.Storage.BaseDir = filepath.Join(c.DataDir, "videos")
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Profile = strings.ToUpper(strings.TrimSpace(c.Logging.Profile))
}
