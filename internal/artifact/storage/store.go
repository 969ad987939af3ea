package storage

import (
	"fmt"

	"github.com/lk2023060901/file-service/internal/artifact/biz"
	"github.com/lk2023060901/file-service/internal/pkg/logger"
	pkgminio "github.com/lk2023060901/file-service/internal/pkg/minio"
)

// Backend names.
const (
	BackendLocal = "local"
	BackendMinIO = "minio"
)

// Config 存储配置
type Config struct {
	Backend    string `mapstructure:"backend"`     // local | minio
	UploadPath string `mapstructure:"upload_path"` // local 后端的根目录
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Backend:    BackendLocal,
		UploadPath: "uploads",
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendLocal:
		if c.UploadPath == "" {
			return fmt.Errorf("storage: upload_path is required for the local backend")
		}
	case BackendMinIO:
	default:
		return fmt.Errorf("storage: unknown backend %q", c.Backend)
	}
	return nil
}

// New 根据配置创建 BlobStore；minio 后端要求 client 非空
func New(cfg *Config, client *pkgminio.Client, log *logger.Logger) (biz.BlobStore, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case BackendMinIO:
		if client == nil {
			return nil, fmt.Errorf("storage: minio backend selected but minio is not configured")
		}
		return NewMinIOStore(client, log), nil
	default:
		return NewLocalStore(cfg.UploadPath, log)
	}
}
