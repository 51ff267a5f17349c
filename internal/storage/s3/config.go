package s3

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/s3gallery/s3gallery/internal/config"
)

// Config represents S3 backend configuration
type Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	CredentialsFile string `yaml:"credentials_file"`
	ForcePathStyle  bool   `yaml:"force_path_style"`

	// Static credentials; usually filled from CredentialsFile
	AccessKeyID     string `yaml:"-"`
	SecretAccessKey string `yaml:"-"`
	SessionToken    string `yaml:"-"`

	// Performance settings
	MaxRetries     int           `yaml:"max_retries"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	PageSize       int           `yaml:"page_size"`
}

// NewDefaultConfig returns a Config with sensible defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Region:         "us-east-1",
		MaxRetries:     3,
		RequestTimeout: 30 * time.Second,
		PageSize:       1000,
	}
}

// ConfigFromStore converts a store section of the application
// configuration into a backend Config.
func ConfigFromStore(sc config.StoreConfig, pageSize int) *Config {
	cfg := NewDefaultConfig()
	if sc.Region != "" {
		cfg.Region = sc.Region
	}
	cfg.Endpoint = sc.Endpoint
	cfg.CredentialsFile = sc.CredentialsFile
	cfg.ForcePathStyle = sc.ForcePathStyle
	cfg.MaxRetries = sc.MaxRetries
	if pageSize > 0 {
		cfg.PageSize = pageSize
	}
	return cfg
}

// Credentials is the on-disk credentials document:
//
//	{"accessKeyId": "...", "secretAccessKey": "...", "region": "eu-west-1"}
type Credentials struct {
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey"`
	SessionToken    string `json:"sessionToken,omitempty"`
	Region          string `json:"region,omitempty"`
}

// LoadCredentialsFile reads and validates a credentials document.
func LoadCredentialsFile(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file %s: %w", path, err)
	}
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return nil, fmt.Errorf("credentials file %s must set accessKeyId and secretAccessKey", path)
	}
	return &creds, nil
}

// ApplyCredentialsFile loads CredentialsFile, if set, into the static
// credential fields. A region in the file is used when Region is empty.
func (c *Config) ApplyCredentialsFile() error {
	if c.CredentialsFile == "" {
		return nil
	}
	creds, err := LoadCredentialsFile(c.CredentialsFile)
	if err != nil {
		return err
	}
	c.AccessKeyID = creds.AccessKeyID
	c.SecretAccessKey = creds.SecretAccessKey
	c.SessionToken = creds.SessionToken
	if c.Region == "" && creds.Region != "" {
		c.Region = creds.Region
	}
	return nil
}
