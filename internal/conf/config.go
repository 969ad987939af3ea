package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/lk2023060901/file-service/internal/artifact/biz"
	"github.com/lk2023060901/file-service/internal/artifact/job"
	"github.com/lk2023060901/file-service/internal/artifact/storage"
	"github.com/lk2023060901/file-service/internal/pkg/database"
	"github.com/lk2023060901/file-service/internal/pkg/logger"
	pkgminio "github.com/lk2023060901/file-service/internal/pkg/minio"
	"github.com/lk2023060901/file-service/internal/pkg/offload"
	"github.com/lk2023060901/file-service/internal/pkg/redis"
	"github.com/lk2023060901/file-service/internal/pkg/workerpool"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 FILESVC_DATABASE_HOST
const EnvPrefix = "FILESVC"

type Config struct {
	Server     ServerConfig       `mapstructure:"server"`
	Log        *logger.Config     `mapstructure:"log"`
	Database   *database.Config   `mapstructure:"database"`
	Redis      *redis.Config      `mapstructure:"redis"`
	MinIO      *pkgminio.Config   `mapstructure:"minio"`
	Storage    *storage.Config    `mapstructure:"storage"`
	Lifecycle  LifecycleConfig    `mapstructure:"lifecycle"`
	IDGen      IDGenConfig        `mapstructure:"idgen"`
	Offload    *offload.Config    `mapstructure:"offload"`
	UploadPool *workerpool.Config `mapstructure:"upload_pool"`
	Metrics    MetricsConfig      `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // debug, release, test
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// Legacy 是否注册旧前端使用的 /upload/ /download/ /files/ 路由
	Legacy bool `mapstructure:"legacy"`
}

// LifecycleConfig 文件生命周期相关配置
type LifecycleConfig struct {
	MaxSize        string        `mapstructure:"max_size"` // 如 10MB、512KiB
	AllowedTypes   []string      `mapstructure:"allowed_types"`
	Retention      time.Duration `mapstructure:"retention"`
	QueueCapacity  int           `mapstructure:"queue_capacity"`
	BatchSize      int           `mapstructure:"batch_size"`
	DrainInterval  time.Duration `mapstructure:"drain_interval"`
	ReaperSchedule string        `mapstructure:"reaper_schedule"`
	RunOnStart     bool          `mapstructure:"run_on_start"`
	LockTTL        time.Duration `mapstructure:"lock_ttl"`
}

type IDGenConfig struct {
	DatacenterID int64 `mapstructure:"datacenter_id"`
	WorkerID     int64 `mapstructure:"worker_id"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Path      string `mapstructure:"path"`
}

// Default 返回全部使用默认值的配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			Mode:            "release",
			ReadTimeout:     60 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			Legacy:          true,
		},
		Log:        logger.DefaultConfig(),
		Database:   database.DefaultConfig(),
		Redis:      redis.DefaultConfig(),
		MinIO:      pkgminio.DefaultConfig(),
		Storage:    storage.DefaultConfig(),
		Offload:    offload.DefaultConfig(),
		UploadPool: workerpool.DefaultConfig(),
		Lifecycle: LifecycleConfig{
			MaxSize:        "10MiB",
			AllowedTypes:   []string{"jpg", "jpeg", "png", "gif", "pdf", "doc", "docx", "xls", "xlsx", "txt", "zip"},
			Retention:      biz.DefaultRetention,
			QueueCapacity:  biz.DefaultQueueCapacity,
			BatchSize:      biz.DefaultBatchSize,
			DrainInterval:  job.DefaultConfig().DrainInterval,
			ReaperSchedule: job.DefaultConfig().ReaperSchedule,
			RunOnStart:     true,
			LockTTL:        job.DefaultConfig().LockTTL,
		},
		IDGen: IDGenConfig{DatacenterID: 1, WorkerID: 1},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "filesvc",
			Path:      "/metrics",
		},
	}
}

// setDefaults 让环境变量在配置文件缺省对应 key 时也能生效
func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("server.host", c.Server.Host)
	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("server.mode", c.Server.Mode)
	v.SetDefault("server.read_timeout", c.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", c.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)
	v.SetDefault("server.legacy", c.Server.Legacy)

	v.SetDefault("log.level", c.Log.Level)
	v.SetDefault("log.format", c.Log.Format)
	v.SetDefault("log.output", c.Log.Output)

	v.SetDefault("database.driver", c.Database.Driver)
	v.SetDefault("database.host", c.Database.Host)
	v.SetDefault("database.port", c.Database.Port)
	v.SetDefault("database.user", c.Database.User)
	v.SetDefault("database.password", c.Database.Password)
	v.SetDefault("database.dbname", c.Database.DBName)
	v.SetDefault("database.path", c.Database.Path)

	v.SetDefault("redis.enabled", c.Redis.Enabled)
	v.SetDefault("redis.password", c.Redis.Password)

	v.SetDefault("minio.endpoint", c.MinIO.Endpoint)
	v.SetDefault("minio.access_key_id", c.MinIO.AccessKeyID)
	v.SetDefault("minio.secret_access_key", c.MinIO.SecretAccessKey)
	v.SetDefault("minio.bucket", c.MinIO.Bucket)

	v.SetDefault("storage.backend", c.Storage.Backend)
	v.SetDefault("storage.upload_path", c.Storage.UploadPath)

	v.SetDefault("lifecycle.max_size", c.Lifecycle.MaxSize)
	v.SetDefault("lifecycle.allowed_types", c.Lifecycle.AllowedTypes)
	v.SetDefault("lifecycle.retention", c.Lifecycle.Retention)
	v.SetDefault("lifecycle.queue_capacity", c.Lifecycle.QueueCapacity)
	v.SetDefault("lifecycle.batch_size", c.Lifecycle.BatchSize)
	v.SetDefault("lifecycle.drain_interval", c.Lifecycle.DrainInterval)
	v.SetDefault("lifecycle.reaper_schedule", c.Lifecycle.ReaperSchedule)
	v.SetDefault("lifecycle.run_on_start", c.Lifecycle.RunOnStart)
	v.SetDefault("lifecycle.lock_ttl", c.Lifecycle.LockTTL)

	v.SetDefault("idgen.datacenter_id", c.IDGen.DatacenterID)
	v.SetDefault("idgen.worker_id", c.IDGen.WorkerID)

	v.SetDefault("metrics.enabled", c.Metrics.Enabled)
	v.SetDefault("metrics.namespace", c.Metrics.Namespace)
	v.SetDefault("metrics.path", c.Metrics.Path)
}

// LoadConfig 读取配置文件；path 为空时只使用默认值和环境变量
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	config := Default()
	setDefaults(v, config)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// Validate 校验各模块配置
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("invalid server.mode %q", c.Server.Mode)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if c.Redis.Enabled {
		if err := c.Redis.Validate(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if c.Storage.Backend == storage.BackendMinIO {
		if err := c.MinIO.Validate(); err != nil {
			return fmt.Errorf("minio: %w", err)
		}
	}
	if err := c.Offload.Validate(); err != nil {
		return fmt.Errorf("offload: %w", err)
	}
	if err := c.UploadPool.Validate(); err != nil {
		return fmt.Errorf("upload_pool: %w", err)
	}
	if _, err := c.Lifecycle.MaxSizeBytes(); err != nil {
		return err
	}
	if c.Lifecycle.QueueCapacity <= 0 {
		return fmt.Errorf("lifecycle.queue_capacity must be positive")
	}
	if c.Lifecycle.BatchSize <= 0 {
		return fmt.Errorf("lifecycle.batch_size must be positive")
	}
	if c.Lifecycle.Retention <= 0 {
		return fmt.Errorf("lifecycle.retention must be positive")
	}
	if err := c.Lifecycle.Scheduler().Validate(); err != nil {
		return fmt.Errorf("lifecycle: %w", err)
	}
	return nil
}

// MaxSizeBytes 解析 max_size，空字符串表示不限制
func (l LifecycleConfig) MaxSizeBytes() (int64, error) {
	if strings.TrimSpace(l.MaxSize) == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(l.MaxSize)
	if err != nil {
		return 0, fmt.Errorf("invalid lifecycle.max_size %q: %w", l.MaxSize, err)
	}
	return int64(n), nil
}

// UseCase 转换为用例配置
func (l LifecycleConfig) UseCase() *biz.Config {
	maxSize, _ := l.MaxSizeBytes()
	return &biz.Config{
		MaxSize:      maxSize,
		AllowedTypes: l.AllowedTypes,
		Retention:    l.Retention,
		BatchSize:    l.BatchSize,
	}
}

// Scheduler 转换为调度配置
func (l LifecycleConfig) Scheduler() *job.Config {
	return &job.Config{
		DrainInterval:  l.DrainInterval,
		ReaperSchedule: l.ReaperSchedule,
		RunOnStart:     l.RunOnStart,
		LockTTL:        l.LockTTL,
	}
}

// Addr 监听地址
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
