package benchtrace

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines tracker configuration.
type Config struct {
	// Store holds result storage settings.
	Store StoreConfig `yaml:"store"`

	// Analysis configures step and regression detection.
	Analysis AnalysisConfig `yaml:"analysis"`

	// Publish configures the report HTTP API.
	// If nil, no HTTP API is served.
	Publish *PublishConfig `yaml:"publish"`

	// RemoteWrite configures Prometheus remote-write export.
	// If nil or Enabled is false, nothing is exported.
	RemoteWrite *RemoteWriteConfig `yaml:"remote_write"`

	// Sync configures report upload to S3-compatible storage.
	// If nil or Enabled is false, reports stay local.
	Sync *SyncConfig `yaml:"sync"`
}

// AnalysisConfig groups step and regression detection settings.
type AnalysisConfig struct {
	// Threshold is the relative change below which a jump in a series
	// is never reported, regardless of its statistical significance.
	// Default: 0.05 (5%).
	Threshold float64 `yaml:"threshold"`

	// MinSegmentSize is the segment length below which a detected good
	// era is considered provisional and may be explained away as an
	// outlier dip. Default: 2.
	MinSegmentSize int `yaml:"min_segment_size"`

	// Workers is the number of series analyzed concurrently.
	// Default: 4.
	Workers int `yaml:"workers"`

	// FilterOutliers enables masking of isolated extreme samples
	// before step detection. Default: false.
	FilterOutliers bool `yaml:"filter_outliers"`
}

// PublishConfig groups report API settings.
type PublishConfig struct {
	// Addr is the listen address for the report server, e.g. ":8470".
	Addr string `yaml:"addr"`

	// OutputDir is where the JSON report tree is written for syncing.
	// Empty disables report file output.
	OutputDir string `yaml:"output_dir"`

	// Auth configures bearer-token authentication.
	// If nil or Enabled is false, the API is open.
	Auth *AuthConfig `yaml:"auth"`
}

// AuthConfig configures report API authentication.
type AuthConfig struct {
	// Enabled enables authentication on API endpoints.
	Enabled bool `yaml:"enabled"`

	// Tokens is a list of accepted bearer tokens. At least one must be
	// provided if Enabled is true.
	Tokens []string `yaml:"tokens"`

	// ExcludePaths are paths that don't require authentication (e.g. /health).
	ExcludePaths []string `yaml:"exclude_paths"`
}

// RemoteWriteConfig groups Prometheus remote-write export settings.
type RemoteWriteConfig struct {
	// Enabled turns on remote-write export.
	Enabled bool `yaml:"enabled"`

	// URL is the remote-write endpoint.
	URL string `yaml:"url"`

	// Timeout is the per-request timeout. Default: 30s.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries is the number of attempts per request. Default: 3.
	MaxRetries int `yaml:"max_retries"`
}

// SyncConfig groups report upload settings for S3-compatible storage.
type SyncConfig struct {
	// Enabled turns on report syncing.
	Enabled bool `yaml:"enabled"`

	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"` // For S3-compatible services (MinIO, etc.)

	// AccessKeyID for authentication. Prefer using IAM roles, instance
	// profiles, or environment variables (AWS_ACCESS_KEY_ID,
	// AWS_SECRET_ACCESS_KEY) instead of setting these directly.
	// DO NOT commit credentials to source control.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`

	// Prefix is prepended to every uploaded object key.
	Prefix string `yaml:"prefix"`

	// UsePathStyle selects path-style addressing.
	UsePathStyle bool `yaml:"use_path_style"`

	// MaxRetries is the max attempts per upload. Default: 3.
	MaxRetries int `yaml:"max_retries"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig(path string) Config {
	return Config{
		Store: DefaultStoreConfig(path),
		Analysis: AnalysisConfig{
			Threshold:      0.05,
			MinSegmentSize: 2,
			Workers:        4,
			FilterOutliers: false,
		},
	}
}

// LoadConfig reads a YAML configuration file, applying defaults for
// fields the file leaves unset.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	cfg := DefaultConfig("")
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Analysis.Threshold == 0 {
		c.Analysis.Threshold = 0.05
	}
	if c.Analysis.MinSegmentSize <= 0 {
		c.Analysis.MinSegmentSize = 2
	}
	if c.Analysis.Workers <= 0 {
		c.Analysis.Workers = 4
	}
	if c.RemoteWrite != nil {
		if c.RemoteWrite.Timeout <= 0 {
			c.RemoteWrite.Timeout = 30 * time.Second
		}
		if c.RemoteWrite.MaxRetries <= 0 {
			c.RemoteWrite.MaxRetries = 3
		}
	}
	if c.Sync != nil && c.Sync.MaxRetries <= 0 {
		c.Sync.MaxRetries = 3
	}
}

// Validate reports configuration errors a tracker cannot start with.
func (c Config) Validate() error {
	if c.Store.Path == "" {
		return errors.New("store path is required")
	}
	if c.Analysis.Threshold < 0 {
		return fmt.Errorf("analysis threshold must be non-negative, got %v", c.Analysis.Threshold)
	}
	if c.Publish != nil && c.Publish.Auth != nil && c.Publish.Auth.Enabled && len(c.Publish.Auth.Tokens) == 0 {
		return errors.New("auth enabled but no tokens configured")
	}
	if c.RemoteWrite != nil && c.RemoteWrite.Enabled && c.RemoteWrite.URL == "" {
		return errors.New("remote write enabled but no URL configured")
	}
	if c.Sync != nil && c.Sync.Enabled && c.Sync.Bucket == "" {
		return errors.New("sync enabled but no bucket configured")
	}
	return nil
}
