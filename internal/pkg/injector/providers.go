package injector

import (
	"github.com/lk2023060901/file-service/internal/artifact/biz"
	artifactdata "github.com/lk2023060901/file-service/internal/artifact/data"
	"github.com/lk2023060901/file-service/internal/artifact/job"
	"github.com/lk2023060901/file-service/internal/artifact/service"
	"github.com/lk2023060901/file-service/internal/artifact/storage"
	"github.com/lk2023060901/file-service/internal/conf"
	"github.com/lk2023060901/file-service/internal/data"
	"github.com/lk2023060901/file-service/internal/pkg/logger"
	"github.com/lk2023060901/file-service/internal/pkg/metrics"
	"github.com/lk2023060901/file-service/internal/pkg/offload"
	"github.com/lk2023060901/file-service/internal/pkg/snowflake"
	"github.com/lk2023060901/file-service/internal/pkg/workerpool"
	"github.com/lk2023060901/file-service/internal/server"
)

// Data layer helpers

func provideData(config *conf.Config, log *logger.Logger) (*data.Data, func(), error) {
	return data.NewData(config, log)
}

func provideHealthChecker(d *data.Data) server.HealthChecker {
	return d
}

// Infrastructure providers

// provideProm 未启用时返回 nil，HTTP 层据此不注册 /metrics
func provideProm(config *conf.Config) *metrics.Prom {
	if !config.Metrics.Enabled {
		return nil
	}
	return metrics.NewProm(config.Metrics.Namespace)
}

func provideMetrics(prom *metrics.Prom) metrics.Metrics {
	if prom == nil {
		return metrics.Noop{}
	}
	return prom
}

func provideOffloadExecutor(config *conf.Config, log *logger.Logger, m metrics.Metrics) (*offload.Executor, func(), error) {
	exec, err := offload.New(config.Offload, log.Named("offload").Logger, offload.WithMetrics(m))
	if err != nil {
		return nil, nil, err
	}
	return exec, exec.Shutdown, nil
}

func provideUploadPool(config *conf.Config, log *logger.Logger) (*workerpool.Pool, func(), error) {
	pool, err := workerpool.New(config.UploadPool, log.Named("upload_pool").Logger)
	if err != nil {
		return nil, nil, err
	}
	return pool, pool.Shutdown, nil
}

func provideIDGenerator(config *conf.Config) (biz.IDGenerator, error) {
	return snowflake.New(config.IDGen.DatacenterID, config.IDGen.WorkerID)
}

// Artifact providers

func provideArtifactRepo(d *data.Data) biz.ArtifactRepo {
	return artifactdata.NewArtifactRepo(d.DB)
}

func provideBlobStore(config *conf.Config, d *data.Data, log *logger.Logger) (biz.BlobStore, error) {
	return storage.New(config.Storage, d.MinIOClient, log)
}

func provideInvalidQueue(config *conf.Config, m metrics.Metrics) *biz.InvalidQueue {
	return biz.NewInvalidQueue(config.Lifecycle.QueueCapacity, m)
}

func provideArtifactUseCase(
	config *conf.Config,
	repo biz.ArtifactRepo,
	blobs biz.BlobStore,
	ids biz.IDGenerator,
	executor *offload.Executor,
	queue *biz.InvalidQueue,
	pool *workerpool.Pool,
	m metrics.Metrics,
	log *logger.Logger,
) *biz.ArtifactUseCase {
	return biz.NewArtifactUseCase(
		config.Lifecycle.UseCase(),
		repo,
		blobs,
		ids,
		executor,
		queue,
		log,
		biz.WithMetrics(m),
		biz.WithFanout(pool),
	)
}

func provideArtifactService(config *conf.Config, uc *biz.ArtifactUseCase, log *logger.Logger) *service.ArtifactService {
	maxSize, _ := config.Lifecycle.MaxSizeBytes()
	return service.NewArtifactService(uc, maxSize, log.Named("artifact_service").Logger)
}

func provideScheduler(
	config *conf.Config,
	uc *biz.ArtifactUseCase,
	d *data.Data,
	m metrics.Metrics,
	log *logger.Logger,
) (*job.Scheduler, error) {
	opts := []job.Option{job.WithMetrics(m)}
	// 避免把 nil *redis.Client 装进非 nil 的接口
	if d.RedisClient != nil {
		opts = append(opts, job.WithLocker(d.RedisClient))
	}
	return job.NewScheduler(config.Lifecycle.Scheduler(), uc, log, opts...)
}
