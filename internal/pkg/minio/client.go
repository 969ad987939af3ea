package minio

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// ErrClientClosed is returned by every operation after Close.
var ErrClientClosed = errors.New("minio: client is closed")

// Client wraps the MinIO client with additional functionality
type Client struct {
	client *minio.Client
	config *Config
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

// NewClient creates a new MinIO client. No request is sent; call Ping or
// EnsureBucket to verify connectivity.
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	if cfg == nil {
		return nil, ErrInvalidArgument
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, WrapErrorWithMessage("NewClient", err, "invalid configuration")
	}

	opts := &minio.Options{
		Creds:      credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		Secure:     cfg.UseSSL,
		Region:     cfg.Region,
		MaxRetries: cfg.MaxRetries,
	}

	switch cfg.BucketLookup {
	case BucketLookupDNS:
		opts.BucketLookup = minio.BucketLookupDNS
	case BucketLookupPath:
		opts.BucketLookup = minio.BucketLookupPath
	default:
		opts.BucketLookup = minio.BucketLookupAuto
	}

	minioClient, err := minio.New(cfg.Endpoint, opts)
	if err != nil {
		return nil, WrapErrorWithMessage("NewClient", err, "failed to create minio client")
	}

	if cfg.TraceEnabled {
		minioClient.TraceOn(os.Stderr)
	}

	logger.Info("minio client initialized successfully",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("bucket", cfg.Bucket),
		zap.Bool("use_ssl", cfg.UseSSL),
		zap.String("bucket_lookup", string(cfg.BucketLookup)),
	)

	return &Client{
		client: minioClient,
		config: cfg,
		logger: logger,
	}, nil
}

// Ping checks the configured bucket is reachable
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.BucketExists(ctx, c.config.Bucket); err != nil {
		return WrapErrorWithMessage("Ping", err, "failed to connect to minio server")
	}
	return nil
}

// Bucket returns the configured artifact bucket
func (c *Client) Bucket() string {
	return c.config.Bucket
}

// Config returns the client configuration
func (c *Client) Config() *Config {
	return c.config
}

// Close marks the client closed. Later operations fail with ErrClientClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	c.logger.Info("minio client closed")
	return nil
}

// IsClosed returns whether the client is closed
func (c *Client) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Client) checkClosed() error {
	if c.IsClosed() {
		return ErrClientClosed
	}
	return nil
}

// withTimeout 为单次请求加上配置的超时
func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.config.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.config.RequestTimeout)
}
