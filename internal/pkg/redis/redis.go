package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/lk2023060901/file-service/internal/pkg/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Client Redis 客户端封装
type Client struct {
	config *Config
	logger *logger.Logger
	rdb    redis.UniversalClient
}

// New 创建 Redis 客户端
func New(cfg *Config, log *logger.Logger) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}

	opts := &redis.UniversalOptions{
		Addrs:    cfg.Addrs,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,

		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolTimeout:  cfg.PoolTimeout,

		MaxRetries: cfg.MaxRetries,
	}

	var rdb redis.UniversalClient
	switch cfg.Mode {
	case ModeSentinel:
		opts.MasterName = cfg.MasterName
		rdb = redis.NewFailoverClient(opts.Failover())
	case ModeCluster:
		rdb = redis.NewClusterClient(opts.Cluster())
	default:
		rdb = redis.NewClient(opts.Simple())
	}

	client := &Client{config: cfg, logger: log, rdb: rdb}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	client.logger.Info("redis client initialized successfully",
		zap.String("mode", string(cfg.Mode)),
		zap.Strings("addrs", cfg.Addrs),
	)

	return client, nil
}

// NewWithClient 使用已有的 go-redis 客户端（测试中配合 miniredis 使用）
func NewWithClient(rdb redis.UniversalClient, cfg *Config, log *logger.Logger) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Client{config: cfg, logger: log, rdb: rdb}
}

// Key 为 key 加上配置的前缀
func (c *Client) Key(key string) string {
	return c.config.KeyPrefix + key
}

// Ping 健康检查
func (c *Client) Ping(ctx context.Context) error {
	if c.rdb == nil {
		return ErrNotInitialized
	}
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		c.logger.Error("redis ping failed", zap.Error(err))
		return err
	}
	return nil
}

// Close 关闭客户端
func (c *Client) Close() error {
	if c.rdb == nil {
		return nil
	}
	if err := c.rdb.Close(); err != nil {
		c.logger.Error("close redis client failed", zap.Error(err))
		return err
	}
	c.logger.Info("redis client closed")
	return nil
}

// Universal 获取底层客户端（用于高级操作）
func (c *Client) Universal() redis.UniversalClient {
	return c.rdb
}
