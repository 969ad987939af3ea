package biz

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/lk2023060901/file-service/internal/pkg/database"
	apperrors "github.com/lk2023060901/file-service/internal/pkg/errors"
	"github.com/lk2023060901/file-service/internal/pkg/logger"
	"github.com/lk2023060901/file-service/internal/pkg/metrics"
	"github.com/lk2023060901/file-service/internal/pkg/offload"
	"go.uber.org/zap"
)

// Defaults for Config.
const (
	DefaultMaxSize   int64 = 10 << 20
	DefaultRetention       = 7 * 24 * time.Hour
	DefaultBatchSize       = 500
)

// Config 生命周期管理配置
type Config struct {
	MaxSize      int64         // 单文件上限（字节），<=0 不限制
	AllowedTypes []string      // 允许的扩展名，空表示不限制
	Retention    time.Duration // 过期时间
	BatchSize    int           // 批量删除分块大小
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		MaxSize:   DefaultMaxSize,
		Retention: DefaultRetention,
		BatchSize: DefaultBatchSize,
	}
}

// Option customizes an ArtifactUseCase.
type Option func(*ArtifactUseCase)

// WithMetrics 设置指标
func WithMetrics(m metrics.Metrics) Option {
	return func(uc *ArtifactUseCase) {
		if m != nil {
			uc.metrics = m
		}
	}
}

// WithFanout runs the per-file part of UploadMany concurrently.
func WithFanout(f Fanout) Option {
	return func(uc *ArtifactUseCase) {
		uc.fanout = f
	}
}

// WithClock 替换时钟（测试使用）
func WithClock(now func() time.Time) Option {
	return func(uc *ArtifactUseCase) {
		if now != nil {
			uc.now = now
		}
	}
}

// ArtifactUseCase 制品生命周期用例
type ArtifactUseCase struct {
	cfg      *Config
	allowed  map[string]struct{}
	repo     ArtifactRepo
	blobs    BlobStore
	ids      IDGenerator
	executor *offload.Executor
	queue    *InvalidQueue
	fanout   Fanout
	metrics  metrics.Metrics
	now      func() time.Time
	logger   *logger.Logger
}

// NewArtifactUseCase 创建制品用例
func NewArtifactUseCase(
	cfg *Config,
	repo ArtifactRepo,
	blobs BlobStore,
	ids IDGenerator,
	executor *offload.Executor,
	queue *InvalidQueue,
	log *logger.Logger,
	opts ...Option,
) *ArtifactUseCase {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if log == nil {
		log = logger.NewNop()
	}

	allowed := make(map[string]struct{}, len(cfg.AllowedTypes))
	for _, t := range cfg.AllowedTypes {
		t = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(t), "."))
		if t != "" {
			allowed[t] = struct{}{}
		}
	}

	uc := &ArtifactUseCase{
		cfg:      cfg,
		allowed:  allowed,
		repo:     repo,
		blobs:    blobs,
		ids:      ids,
		executor: executor,
		queue:    queue,
		metrics:  metrics.Noop{},
		now:      time.Now,
		logger:   log.Named("artifact"),
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// Queue returns the invalid-artifact queue owned by this use case.
func (uc *ArtifactUseCase) Queue() *InvalidQueue {
	return uc.queue
}

// Upload 上传单个文件。校验失败时不产生任何副作用。
func (uc *ArtifactUseCase) Upload(ctx context.Context, file UploadFile) (*Artifact, error) {
	log := uc.logger.WithContext(ctx)

	a, err := uc.store(ctx, file)
	if err != nil {
		uc.recordUpload(err)
		return nil, err
	}

	_, err = offload.Run(uc.executor, ctx, func(ctx context.Context) error {
		return uc.repo.Insert(ctx, a)
	}).Get()
	if err != nil {
		log.Error("persist artifact failed", zap.Int64("artifact_id", a.ID), zap.Error(err))
		uc.discardBlob(ctx, a)
		uc.metrics.IncUploads(metrics.StatusFailed)
		return nil, apperrors.NewArtifactPersistenceError(err, "insert artifact")
	}

	uc.metrics.IncUploads(metrics.StatusOK)
	log.Info("artifact uploaded",
		zap.Int64("artifact_id", a.ID),
		zap.String("name", a.DisplayName),
		zap.Int64("size", a.SizeBytes))
	return a, nil
}

// UploadMany 批量上传。单个文件失败不影响其它文件，失败原因记录在结果中。
func (uc *ArtifactUseCase) UploadMany(ctx context.Context, files []UploadFile) (*UploadManyResult, error) {
	if len(files) == 0 {
		return nil, apperrors.New(apperrors.ErrArtifactEmpty, "no files uploaded")
	}
	log := uc.logger.WithContext(ctx)

	stored := make([]*Artifact, len(files))
	storeOne := func(i int) error {
		a, err := uc.store(ctx, files[i])
		if err != nil {
			return err
		}
		stored[i] = a
		return nil
	}

	var errs []error
	if uc.fanout != nil {
		errs = uc.fanout.ForEach(len(files), storeOne)
	} else {
		errs = make([]error, len(files))
		for i := range files {
			errs[i] = storeOne(i)
		}
	}

	result := &UploadManyResult{}
	pending := make([]*Artifact, 0, len(files))
	// 客户端文件名，与 pending 下标一致
	names := make([]string, 0, len(files))
	for i, err := range errs {
		if err != nil {
			log.Warn("file rejected", zap.String("name", files[i].Name), zap.Error(err))
			uc.recordUpload(err)
			result.Failures = append(result.Failures, UploadFailure{Name: files[i].Name, Err: err})
			continue
		}
		pending = append(pending, stored[i])
		names = append(names, files[i].Name)
	}
	if len(pending) == 0 {
		return result, nil
	}

	_, err := offload.Run(uc.executor, ctx, func(ctx context.Context) error {
		return uc.repo.BatchInsert(ctx, pending)
	}).Get()
	if err == nil {
		for range pending {
			uc.metrics.IncUploads(metrics.StatusOK)
		}
		result.Artifacts = pending
		log.Info("artifacts uploaded", zap.Int("count", len(pending)), zap.Int("failed", len(result.Failures)))
		return result, nil
	}

	// 批量写入失败时逐条重试，隔离出真正失败的记录
	log.Warn("batch insert failed, retrying one by one", zap.Int("count", len(pending)), zap.Error(err))
	futures := make([]*offload.Future[struct{}], len(pending))
	for i, a := range pending {
		a := a
		futures[i] = offload.Run(uc.executor, ctx, func(ctx context.Context) error {
			return uc.repo.Insert(ctx, a)
		})
	}
	for i, f := range futures {
		a := pending[i]
		if _, err := f.Get(); err != nil {
			log.Error("persist artifact failed", zap.Int64("artifact_id", a.ID), zap.Error(err))
			uc.discardBlob(ctx, a)
			uc.metrics.IncUploads(metrics.StatusFailed)
			result.Failures = append(result.Failures, UploadFailure{
				Name: names[i],
				Err:  apperrors.NewArtifactPersistenceError(err, "insert artifact"),
			})
			continue
		}
		uc.metrics.IncUploads(metrics.StatusOK)
		result.Artifacts = append(result.Artifacts, a)
	}
	return result, nil
}

// store validates the file, assigns an id and writes the blob.
func (uc *ArtifactUseCase) store(ctx context.Context, file UploadFile) (*Artifact, error) {
	if file.ReadErr != nil {
		return nil, apperrors.NewArtifactIOError(file.ReadErr, file.Name)
	}
	name, ext, err := uc.validate(file)
	if err != nil {
		return nil, err
	}

	id, err := uc.ids.NextID()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrClockRegression)
	}

	displayName := storedName(name, ext, id)
	storagePath, err := uc.blobs.Write(ctx, displayName, file.Data)
	if err != nil {
		return nil, apperrors.NewArtifactIOError(err, displayName)
	}

	return &Artifact{
		ID:          id,
		DisplayName: displayName,
		StoragePath: storagePath,
		SizeBytes:   int64(len(file.Data)),
		Status:      StatusActive,
		UploadedAt:  uc.now().UTC(),
	}, nil
}

// validate 依次检查：空文件、大小、文件名、扩展名
func (uc *ArtifactUseCase) validate(file UploadFile) (name, ext string, err error) {
	if len(file.Data) == 0 {
		return "", "", apperrors.New(apperrors.ErrArtifactEmpty, file.Name)
	}
	if uc.cfg.MaxSize > 0 && int64(len(file.Data)) > uc.cfg.MaxSize {
		return "", "", apperrors.Newf(apperrors.ErrArtifactTooLarge, "%s is %d bytes, limit %d", file.Name, len(file.Data), uc.cfg.MaxSize)
	}

	name = path.Base(strings.ReplaceAll(strings.TrimSpace(file.Name), "\\", "/"))
	if name == "" || name == "." || name == "/" {
		return "", "", apperrors.New(apperrors.ErrArtifactValidation, "file name is required")
	}

	ext = extension(name)
	if len(uc.allowed) > 0 {
		if _, ok := uc.allowed[ext]; !ok {
			return "", "", apperrors.Newf(apperrors.ErrArtifactTypeNotAllowed, "extension %q", ext)
		}
	}
	return name, ext, nil
}

// extension returns the lower-cased text after the last dot; a leading dot
// does not count.
func extension(name string) string {
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		return strings.ToLower(name[i+1:])
	}
	return ""
}

// storedName 生成唯一文件名：<base>_<id>.<ext>
func storedName(name, ext string, id int64) string {
	base := name
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		base = name[:i]
	}
	if ext == "" {
		return base + "_" + strconv.FormatInt(id, 10)
	}
	return fmt.Sprintf("%s_%d.%s", base, id, ext)
}

func (uc *ArtifactUseCase) recordUpload(err error) {
	if apperrors.IsValidation(apperrors.ExtractCode(err)) {
		uc.metrics.IncUploads(metrics.StatusRejected)
		return
	}
	uc.metrics.IncUploads(metrics.StatusFailed)
}

// discardBlob 元数据写入失败后清理已写入的文件
func (uc *ArtifactUseCase) discardBlob(ctx context.Context, a *Artifact) {
	if err := uc.blobs.Delete(context.WithoutCancel(ctx), a.StoragePath); err != nil {
		uc.logger.WithContext(ctx).Warn("discard blob failed", zap.String("path", a.StoragePath), zap.Error(err))
	}
}

// Download 按文件名下载。文件丢失时将 id 放入失效队列并返回 NotFound。
func (uc *ArtifactUseCase) Download(ctx context.Context, name string) (*Artifact, []byte, error) {
	a, err := offload.Submit(uc.executor, ctx, func(ctx context.Context) (*Artifact, error) {
		return uc.repo.GetByName(ctx, name)
	}).Get()
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, apperrors.NewArtifactNotFound(name)
		}
		return nil, nil, apperrors.NewArtifactPersistenceError(err, "get artifact by name")
	}

	exists, err := uc.blobs.Exists(ctx, a.StoragePath)
	if err != nil {
		return nil, nil, apperrors.NewArtifactIOError(err, a.StoragePath)
	}
	if !exists {
		uc.markInvalid(ctx, a)
		return nil, nil, apperrors.NewArtifactNotFound(name)
	}

	data, err := uc.blobs.Read(ctx, a.StoragePath)
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			uc.markInvalid(ctx, a)
			return nil, nil, apperrors.NewArtifactNotFound(name)
		}
		return nil, nil, apperrors.NewArtifactIOError(err, a.StoragePath)
	}
	return a, data, nil
}

func (uc *ArtifactUseCase) markInvalid(ctx context.Context, a *Artifact) {
	log := uc.logger.WithContext(ctx)
	if !uc.queue.Offer(a.ID) {
		log.Debug("invalid queue full, id dropped", zap.Int64("artifact_id", a.ID))
		return
	}
	log.Warn("artifact file missing, queued for cleanup",
		zap.Int64("artifact_id", a.ID),
		zap.String("path", a.StoragePath))
}

// Get 按 ID 查询，已删除视为不存在
func (uc *ArtifactUseCase) Get(ctx context.Context, id int64) (*Artifact, error) {
	a, err := offload.Submit(uc.executor, ctx, func(ctx context.Context) (*Artifact, error) {
		return uc.repo.GetByID(ctx, id)
	}).Get()
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperrors.NewArtifactNotFound(strconv.FormatInt(id, 10))
		}
		return nil, apperrors.NewArtifactPersistenceError(err, "get artifact")
	}
	if a.Status != StatusActive {
		return nil, apperrors.NewArtifactNotFound(strconv.FormatInt(id, 10))
	}
	return a, nil
}

// List 分页查询。列表与总数并发提交后一起等待。
func (uc *ArtifactUseCase) List(ctx context.Context, page, pageSize int, nameFilter string) (*Page, error) {
	page, pageSize = database.NormalizePage(page, pageSize)
	nameFilter = strings.TrimSpace(nameFilter)
	offset := (page - 1) * pageSize

	itemsF := offload.Submit(uc.executor, ctx, func(ctx context.Context) ([]*Artifact, error) {
		return uc.repo.List(ctx, offset, pageSize, nameFilter)
	})
	totalF := offload.Submit(uc.executor, ctx, func(ctx context.Context) (int64, error) {
		return uc.repo.Count(ctx, nameFilter)
	})

	items, err := itemsF.Get()
	if err != nil {
		return nil, apperrors.NewArtifactPersistenceError(err, "list artifacts")
	}
	total, err := totalF.Get()
	if err != nil {
		return nil, apperrors.NewArtifactPersistenceError(err, "count artifacts")
	}

	return &Page{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: database.TotalPages(total, pageSize),
	}, nil
}

// Delete 删除单个制品。物理删除失败时返回 IOError 且保留元数据；
// 不存在或已删除时返回 false。
func (uc *ArtifactUseCase) Delete(ctx context.Context, id int64) (bool, error) {
	a, err := offload.Submit(uc.executor, ctx, func(ctx context.Context) (*Artifact, error) {
		return uc.repo.GetByID(ctx, id)
	}).Get()
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, apperrors.NewArtifactPersistenceError(err, "get artifact")
	}
	if a.Status != StatusActive {
		return false, nil
	}

	if err := uc.blobs.Delete(ctx, a.StoragePath); err != nil {
		return false, apperrors.NewArtifactIOError(err, a.StoragePath)
	}

	n, err := offload.Submit(uc.executor, ctx, func(ctx context.Context) (int64, error) {
		return uc.repo.DeleteByID(ctx, id)
	}).Get()
	if err != nil {
		return false, apperrors.NewArtifactPersistenceError(err, "delete artifact")
	}

	uc.metrics.AddDeletions(metrics.ReasonDirect, int(n))
	uc.logger.WithContext(ctx).Info("artifact deleted", zap.Int64("artifact_id", id), zap.Bool("deleted", n > 0))
	return n > 0, nil
}
