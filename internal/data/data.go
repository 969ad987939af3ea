package data

import (
	"context"
	"fmt"
	"time"

	artifactdata "github.com/lk2023060901/file-service/internal/artifact/data"
	"github.com/lk2023060901/file-service/internal/artifact/storage"
	"github.com/lk2023060901/file-service/internal/conf"
	"github.com/lk2023060901/file-service/internal/pkg/database"
	"github.com/lk2023060901/file-service/internal/pkg/logger"
	pkgminio "github.com/lk2023060901/file-service/internal/pkg/minio"
	"github.com/lk2023060901/file-service/internal/pkg/redis"
	"go.uber.org/zap"
)

// Data 持有进程级的外部资源
type Data struct {
	DB          *database.DB
	RedisClient *redis.Client    // redis.enabled 为 false 时为 nil
	MinIOClient *pkgminio.Client // 仅 minio 后端时创建
	Logger      *logger.Logger
}

func NewData(config *conf.Config, log *logger.Logger) (*Data, func(), error) {
	db, err := database.New(config.Database, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init database: %w", err)
	}
	if err := artifactdata.NewArtifactRepo(db).Migrate(); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	d := &Data{DB: db, Logger: log}

	if config.Redis.Enabled {
		d.RedisClient, err = redis.New(config.Redis, log.Named("redis"))
		if err != nil {
			d.close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
	} else {
		log.Info("redis disabled, reaper runs without distributed lock")
	}

	if config.Storage.Backend == storage.BackendMinIO {
		if d.MinIOClient, err = initMinIO(config.MinIO, log); err != nil {
			d.close()
			return nil, nil, fmt.Errorf("failed to init minio: %w", err)
		}
	}

	cleanup := func() {
		log.Info("cleaning up data resources")
		d.close()
	}

	return d, cleanup, nil
}

func initMinIO(cfg *pkgminio.Config, log *logger.Logger) (*pkgminio.Client, error) {
	client, err := pkgminio.NewClient(cfg, log.Named("minio").Logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Create bucket if not exists
	if err := client.EnsureBucket(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (d *Data) close() {
	if d.MinIOClient != nil {
		_ = d.MinIOClient.Close()
	}
	if d.RedisClient != nil {
		_ = d.RedisClient.Close()
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			d.Logger.Warn("close database failed", zap.Error(err))
		}
	}
}

// HealthCheck 检查数据库以及已启用的 redis、minio
func (d *Data) HealthCheck(ctx context.Context) map[string]error {
	checks := map[string]error{"database": d.DB.HealthCheck(ctx)}
	if d.RedisClient != nil {
		checks["redis"] = d.RedisClient.Ping(ctx)
	}
	if d.MinIOClient != nil {
		checks["minio"] = d.MinIOClient.Ping(ctx)
	}
	return checks
}
