package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/s3gallery/s3gallery/pkg/errors"
	"github.com/s3gallery/s3gallery/pkg/utils"
)

// Store backends understood by internal/storage.
const (
	BackendS3     = "s3"
	BackendMinio  = "minio"
	BackendMemory = "memory"
)

// Thumbnail output formats. "source" keeps PNG as PNG and writes JPEG for
// everything else.
const (
	ThumbFormatJPEG   = "jpeg"
	ThumbFormatPNG    = "png"
	ThumbFormatSource = "source"
)

// Failure policies for assets inside a leaf.
const (
	PolicyContinue    = "continue"
	PolicyAbortBranch = "abort_branch"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global      GlobalConfig     `yaml:"global"`
	Source      StoreConfig      `yaml:"source"`
	Destination StoreConfig      `yaml:"destination"`
	Thumbnail   ThumbnailConfig  `yaml:"thumbnail"`
	Caption     CaptionConfig    `yaml:"caption"`
	Pipeline    PipelineConfig   `yaml:"pipeline"`
	Gallery     GalleryConfig    `yaml:"gallery"`
	Monitoring  MonitoringConfig `yaml:"monitoring"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogFile   string `yaml:"log_file"`
}

// StoreConfig describes one object store endpoint.
type StoreConfig struct {
	Backend         string `yaml:"backend"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	CredentialsFile string `yaml:"credentials_file"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
	UseSSL          bool   `yaml:"use_ssl"`
	MaxRetries      int    `yaml:"max_retries"`
}

// ThumbnailConfig represents derivative settings
type ThumbnailConfig struct {
	MaxWidth     int  `yaml:"max_width"`
	MaxHeight    int  `yaml:"max_height"`
	Quality      int    `yaml:"quality"`
	Format       string `yaml:"format"`
	AllowUpscale bool   `yaml:"allow_upscale"`
	AutoOrient   bool   `yaml:"auto_orient"`
}

// CaptionConfig represents caption extraction settings
type CaptionConfig struct {
	ExifFallback bool `yaml:"exif_fallback"`
}

// PipelineConfig represents concurrency and failure handling
type PipelineConfig struct {
	MaxConcurrency          int                  `yaml:"max_concurrency"`
	MaxDirectoryConcurrency int                  `yaml:"max_directory_concurrency"`
	FailurePolicy           string               `yaml:"failure_policy"`
	RunTimeout              time.Duration        `yaml:"run_timeout"`
	Retry                   RetryConfig          `yaml:"retry"`
	CircuitBreaker          CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// RetryConfig represents retry settings
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// CircuitBreakerConfig guards store calls; once a store operation fails
// ConsecutiveFailures times in a row, further calls fail fast for OpenTimeout.
type CircuitBreakerConfig struct {
	Enabled             bool          `yaml:"enabled"`
	ConsecutiveFailures int           `yaml:"consecutive_failures"`
	OpenTimeout         time.Duration `yaml:"open_timeout"`
}

// GalleryConfig represents the published tree and its naming
type GalleryConfig struct {
	Title           string      `yaml:"title"`
	ImageExtensions []string    `yaml:"image_extensions"`
	ImagePrefix     string      `yaml:"image_prefix"`
	SidecarName     string      `yaml:"sidecar_name"`
	StylesheetPath  string      `yaml:"stylesheet_path"`
	DiscoveryDepth  int         `yaml:"discovery_depth"`
	MaxKeys         int         `yaml:"max_keys"`
	Tree            []TreeEntry `yaml:"tree"`
}

// MonitoringConfig represents monitoring settings
type MonitoringConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: "text",
		},
		Source: StoreConfig{
			Backend:    BackendS3,
			Region:     "us-east-1",
			UseSSL:     true,
			MaxRetries: 3,
		},
		Destination: StoreConfig{
			Backend:    BackendS3,
			Region:     "us-east-1",
			UseSSL:     true,
			MaxRetries: 3,
		},
		Thumbnail: ThumbnailConfig{
			MaxWidth:  150,
			MaxHeight: 150,
			Quality:   85,
			Format:    ThumbFormatJPEG,
		},
		Pipeline: PipelineConfig{
			MaxConcurrency:          8,
			MaxDirectoryConcurrency: 4,
			FailurePolicy:           PolicyContinue,
			RunTimeout:              30 * time.Minute,
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   200 * time.Millisecond,
				MaxDelay:    5 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:             true,
				ConsecutiveFailures: 5,
				OpenTimeout:         30 * time.Second,
			},
		},
		Gallery: GalleryConfig{
			Title:           "Gallery",
			ImageExtensions: []string{".jpg", ".jpeg", ".png"},
			SidecarName:     "album.yaml",
			DiscoveryDepth:  1,
			MaxKeys:         1000,
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:   false,
				Port:      9090,
				Path:      "/metrics",
				Namespace: "s3gallery",
			},
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML file
// (if filename is set), then S3GALLERY_* environment overrides.
func Load(filename string) (*Configuration, error) {
	cfg := NewDefault()
	if filename != "" {
		if err := cfg.LoadFromFile(filename); err != nil {
			return nil, errors.Wrap(errors.ErrCodeConfigLoad, "load configuration", err).
				WithContext("file", filename)
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfigLoad, "load environment overrides", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, "invalid configuration", err)
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(filenames ...string) error {
	for _, f := range filenames {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Configuration) LoadFromEnv() error {
	// Global settings
	if val := os.Getenv("S3GALLERY_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = strings.ToUpper(val)
	}
	if val := os.Getenv("S3GALLERY_LOG_FORMAT"); val != "" {
		c.Global.LogFormat = val
	}
	if val := os.Getenv("S3GALLERY_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}

	// Stores
	loadStoreEnv("S3GALLERY_SOURCE_", &c.Source)
	loadStoreEnv("S3GALLERY_DESTINATION_", &c.Destination)
	if val := os.Getenv("S3GALLERY_CREDENTIALS_FILE"); val != "" {
		c.Source.CredentialsFile = val
		c.Destination.CredentialsFile = val
	}

	// Thumbnails
	if val := os.Getenv("S3GALLERY_THUMB_MAX_WIDTH"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Thumbnail.MaxWidth = n
		}
	}
	if val := os.Getenv("S3GALLERY_THUMB_MAX_HEIGHT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Thumbnail.MaxHeight = n
		}
	}
	if val := os.Getenv("S3GALLERY_THUMB_QUALITY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Thumbnail.Quality = n
		}
	}
	if val := os.Getenv("S3GALLERY_THUMB_FORMAT"); val != "" {
		c.Thumbnail.Format = strings.ToLower(val)
	}

	// Pipeline
	if val := os.Getenv("S3GALLERY_MAX_CONCURRENCY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Pipeline.MaxConcurrency = n
		}
	}
	if val := os.Getenv("S3GALLERY_FAILURE_POLICY"); val != "" {
		c.Pipeline.FailurePolicy = val
	}
	if val := os.Getenv("S3GALLERY_RUN_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Pipeline.RunTimeout = d
		}
	}

	if val := os.Getenv("S3GALLERY_CIRCUIT_BREAKER_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			c.Pipeline.CircuitBreaker.Enabled = b
		}
	}

	// Gallery
	if val := os.Getenv("S3GALLERY_TITLE"); val != "" {
		c.Gallery.Title = val
	}
	if val := os.Getenv("S3GALLERY_STYLESHEET_PATH"); val != "" {
		c.Gallery.StylesheetPath = val
	}
	if val := os.Getenv("S3GALLERY_DISCOVERY_DEPTH"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Gallery.DiscoveryDepth = n
		}
	}

	// Monitoring
	if val := os.Getenv("S3GALLERY_METRICS_ENABLED"); val != "" {
		c.Monitoring.Metrics.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("S3GALLERY_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Monitoring.Metrics.Port = port
		}
	}

	return nil
}

func loadStoreEnv(prefix string, s *StoreConfig) {
	if val := os.Getenv(prefix + "BACKEND"); val != "" {
		s.Backend = strings.ToLower(val)
	}
	if val := os.Getenv(prefix + "BUCKET"); val != "" {
		s.Bucket = val
	}
	if val := os.Getenv(prefix + "REGION"); val != "" {
		s.Region = val
	}
	if val := os.Getenv(prefix + "ENDPOINT"); val != "" {
		s.Endpoint = val
	}
	if val := os.Getenv(prefix + "CREDENTIALS_FILE"); val != "" {
		s.CredentialsFile = val
	}
	if val := os.Getenv(prefix + "FORCE_PATH_STYLE"); val != "" {
		s.ForcePathStyle = strings.ToLower(val) == "true"
	}
}

// ApplyDefaults fills settings derived from other settings. Without a
// destination bucket the destination is the source store, backend and
// addressing included. A destination naming its own bucket still inherits
// the source region, endpoint and credentials when they are left unset.
func (c *Configuration) ApplyDefaults() {
	if c.Destination.Bucket == "" {
		c.Destination = c.Source
	}
	if c.Destination.Endpoint == "" {
		c.Destination.Endpoint = c.Source.Endpoint
	}
	if c.Destination.CredentialsFile == "" {
		c.Destination.CredentialsFile = c.Source.CredentialsFile
	}
	if c.Destination.Region == "" {
		c.Destination.Region = c.Source.Region
	}
	for i, ext := range c.Gallery.ImageExtensions {
		ext = strings.ToLower(ext)
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.Gallery.ImageExtensions[i] = ext
	}
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if _, err := utils.ParseLogLevel(c.Global.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %s (must be one of: DEBUG, INFO, WARN, ERROR)", c.Global.LogLevel)
	}
	if c.Global.LogFormat != "text" && c.Global.LogFormat != "json" {
		return fmt.Errorf("invalid log_format: %s (must be text or json)", c.Global.LogFormat)
	}

	if err := c.Source.validate("source"); err != nil {
		return err
	}
	if err := c.Destination.validate("destination"); err != nil {
		return err
	}

	if c.Thumbnail.MaxWidth <= 0 || c.Thumbnail.MaxHeight <= 0 {
		return fmt.Errorf("thumbnail max_width and max_height must be greater than 0")
	}
	if c.Thumbnail.Quality < 1 || c.Thumbnail.Quality > 100 {
		return fmt.Errorf("thumbnail quality must be between 1 and 100")
	}
	switch c.Thumbnail.Format {
	case ThumbFormatJPEG, ThumbFormatPNG, ThumbFormatSource:
	default:
		return fmt.Errorf("invalid thumbnail format: %s (must be jpeg, png or source)", c.Thumbnail.Format)
	}

	if c.Pipeline.MaxConcurrency <= 0 {
		return fmt.Errorf("max_concurrency must be greater than 0")
	}
	if c.Pipeline.MaxDirectoryConcurrency <= 0 {
		return fmt.Errorf("max_directory_concurrency must be greater than 0")
	}
	if c.Pipeline.FailurePolicy != PolicyContinue && c.Pipeline.FailurePolicy != PolicyAbortBranch {
		return fmt.Errorf("invalid failure_policy: %s (must be %s or %s)",
			c.Pipeline.FailurePolicy, PolicyContinue, PolicyAbortBranch)
	}
	if c.Pipeline.RunTimeout < 0 {
		return fmt.Errorf("run_timeout cannot be negative")
	}
	if c.Pipeline.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry max_attempts must be greater than 0")
	}
	if cb := c.Pipeline.CircuitBreaker; cb.Enabled {
		if cb.ConsecutiveFailures <= 0 {
			return fmt.Errorf("circuit_breaker consecutive_failures must be greater than 0")
		}
		if cb.OpenTimeout <= 0 {
			return fmt.Errorf("circuit_breaker open_timeout must be greater than 0")
		}
	}

	if len(c.Gallery.ImageExtensions) == 0 {
		return fmt.Errorf("image_extensions cannot be empty")
	}
	if c.Gallery.SidecarName == "" || strings.Contains(c.Gallery.SidecarName, "/") {
		return fmt.Errorf("sidecar_name must be a plain object name")
	}
	if c.Gallery.StylesheetPath != "" {
		if err := utils.ValidatePath(c.Gallery.StylesheetPath, true); err != nil {
			return fmt.Errorf("invalid stylesheet_path: %w", err)
		}
	}
	if c.Gallery.DiscoveryDepth < 1 {
		return fmt.Errorf("discovery_depth must be at least 1")
	}
	if c.Gallery.MaxKeys < 0 || c.Gallery.MaxKeys > 1000 {
		return fmt.Errorf("max_keys must be between 0 and 1000")
	}
	if err := ValidateTree(c.Gallery.Tree); err != nil {
		return err
	}

	if c.Monitoring.Metrics.Enabled {
		if c.Monitoring.Metrics.Port <= 0 || c.Monitoring.Metrics.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", c.Monitoring.Metrics.Port)
		}
		if !strings.HasPrefix(c.Monitoring.Metrics.Path, "/") {
			return fmt.Errorf("metrics path must start with /")
		}
	}

	return nil
}

func (s StoreConfig) validate(section string) error {
	switch s.Backend {
	case BackendS3, BackendMinio:
		if s.Bucket == "" {
			return fmt.Errorf("%s bucket cannot be empty", section)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("invalid %s backend: %s (must be s3, minio or memory)", section, s.Backend)
	}
	if s.Backend == BackendMinio && s.Endpoint == "" {
		return fmt.Errorf("%s endpoint is required for the minio backend", section)
	}
	if s.MaxRetries < 0 {
		return fmt.Errorf("%s max_retries cannot be negative", section)
	}
	return nil
}
