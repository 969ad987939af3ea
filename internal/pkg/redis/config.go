package redis

import (
	"errors"
	"time"
)

// DeployMode Redis 部署模式
type DeployMode string

const (
	ModeSingle   DeployMode = "single"   // 单机模式
	ModeSentinel DeployMode = "sentinel" // 哨兵模式
	ModeCluster  DeployMode = "cluster"  // 集群模式
)

// Config Redis 配置
type Config struct {
	// Enabled 为 false 时不创建客户端，依赖 redis 的功能退化为单实例行为
	Enabled bool `mapstructure:"enabled"`

	// 部署模式
	Mode DeployMode `mapstructure:"mode"`

	// 单机模式使用 Addrs[0]；哨兵模式为哨兵地址；集群模式为节点地址
	Addrs      []string `mapstructure:"addrs"`
	MasterName string   `mapstructure:"master_name"` // 哨兵模式主节点名称

	// 认证配置
	Username string `mapstructure:"username"` // 用户名（Redis 6.0+）
	Password string `mapstructure:"password"` // 密码
	DB       int    `mapstructure:"db"`       // 数据库编号，集群模式忽略

	// KeyPrefix 所有 key 的前缀
	KeyPrefix string `mapstructure:"key_prefix"`

	// 连接池配置
	PoolSize     int `mapstructure:"pool_size"`      // 连接池大小
	MinIdleConns int `mapstructure:"min_idle_conns"` // 最小空闲连接数

	// 超时配置
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`  // 连接超时
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`  // 读超时
	WriteTimeout time.Duration `mapstructure:"write_timeout"` // 写超时
	PoolTimeout  time.Duration `mapstructure:"pool_timeout"`  // 连接池超时

	// 重试配置
	MaxRetries int `mapstructure:"max_retries"` // 最大重试次数
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Enabled:   false,
		Mode:      ModeSingle,
		Addrs:     []string{"localhost:6379"},
		DB:        0,
		KeyPrefix: "filesvc:",

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,

		MaxRetries: 3,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if len(c.Addrs) == 0 {
		return errors.New("redis: addrs is required")
	}

	switch c.Mode {
	case ModeSingle, ModeCluster:
	case ModeSentinel:
		if c.MasterName == "" {
			return errors.New("redis: master_name is required in sentinel mode")
		}
	default:
		return errors.New("redis: invalid mode, must be one of: single, sentinel, cluster")
	}

	if c.DB < 0 || c.DB > 15 {
		return errors.New("redis: db must be between 0 and 15")
	}

	if c.PoolSize <= 0 {
		return errors.New("redis: pool_size must be > 0")
	}
	if c.MinIdleConns < 0 {
		return errors.New("redis: min_idle_conns must be >= 0")
	}
	if c.MinIdleConns > c.PoolSize {
		return errors.New("redis: min_idle_conns cannot exceed pool_size")
	}

	if c.DialTimeout <= 0 {
		return errors.New("redis: dial_timeout must be > 0")
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return errors.New("redis: read_timeout and write_timeout must be >= 0")
	}
	if c.MaxRetries < 0 {
		return errors.New("redis: max_retries must be >= 0")
	}

	return nil
}
