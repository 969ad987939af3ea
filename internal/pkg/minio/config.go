package minio

import (
	"errors"
	"time"
)

// BucketLookupType represents the type of bucket lookup
type BucketLookupType string

const (
	// BucketLookupAuto automatically determines the bucket lookup type
	BucketLookupAuto BucketLookupType = "auto"
	// BucketLookupDNS uses DNS-style bucket lookup (bucket.endpoint)
	BucketLookupDNS BucketLookupType = "dns"
	// BucketLookupPath uses path-style bucket lookup (endpoint/bucket)
	BucketLookupPath BucketLookupType = "path"
)

// Config represents the configuration for MinIO client
type Config struct {
	// Endpoint is the S3-compatible object storage endpoint
	// Examples: "play.min.io", "localhost:9000"
	Endpoint string `mapstructure:"endpoint"`

	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`

	// Region is the region of the object storage (optional)
	Region string `mapstructure:"region"`

	UseSSL bool `mapstructure:"use_ssl"`

	// Bucket holds every artifact object
	Bucket string `mapstructure:"bucket"`

	// AutoCreateBucket creates Bucket on startup when it does not exist
	AutoCreateBucket bool `mapstructure:"auto_create_bucket"`

	// BucketLookup specifies the bucket lookup type
	// Default: BucketLookupAuto
	BucketLookup BucketLookupType `mapstructure:"bucket_lookup"`

	// TraceEnabled enables HTTP request/response tracing for debugging
	TraceEnabled bool `mapstructure:"trace_enabled"`

	// MaxRetries is the maximum number of retries for failed requests
	// Default: 3
	MaxRetries int `mapstructure:"max_retries"`

	// RequestTimeout bounds every single object operation
	// Default: 30 seconds
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("minio: endpoint is required")
	}

	if c.AccessKeyID == "" {
		return errors.New("minio: access key ID is required")
	}

	if c.SecretAccessKey == "" {
		return errors.New("minio: secret access key is required")
	}

	if c.Bucket == "" {
		return errors.New("minio: bucket is required")
	}

	// Validate bucket lookup type
	if c.BucketLookup != "" &&
		c.BucketLookup != BucketLookupAuto &&
		c.BucketLookup != BucketLookupDNS &&
		c.BucketLookup != BucketLookupPath {
		return errors.New("minio: invalid bucket lookup type")
	}

	if c.MaxRetries < 0 {
		return errors.New("minio: max retries must not be negative")
	}

	return nil
}

// SetDefaults sets default values for unspecified configuration fields
func (c *Config) SetDefaults() {
	if c.BucketLookup == "" {
		c.BucketLookup = BucketLookupAuto
	}

	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}

	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Endpoint:         "localhost:9000",
		Bucket:           "artifacts",
		AutoCreateBucket: true,
		BucketLookup:     BucketLookupAuto,
		MaxRetries:       3,
		RequestTimeout:   30 * time.Second,
	}
}
