package data

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/lk2023060901/file-service/internal/artifact/biz"
	"github.com/lk2023060901/file-service/internal/pkg/database"
	"gorm.io/gorm"
)

// insertBatchSize 批量插入时每条 INSERT 的行数
const insertBatchSize = 100

// ArtifactPO represents the database model
type ArtifactPO struct {
	ID          int64     `gorm:"primaryKey;autoIncrement:false"`
	DisplayName string    `gorm:"size:255;not null;index:idx_artifacts_display_name"`
	StoragePath string    `gorm:"size:1024;not null"`
	SizeBytes   int64     `gorm:"not null;default:0"`
	Status      int       `gorm:"not null;default:0;index:idx_artifacts_status_uploaded_at,priority:1"`
	UploadedAt  time.Time `gorm:"not null;index:idx_artifacts_status_uploaded_at,priority:2"`
	DeletedAt   *time.Time
}

func (ArtifactPO) TableName() string {
	return "artifacts"
}

func toArtifact(po *ArtifactPO) *biz.Artifact {
	return &biz.Artifact{
		ID:          po.ID,
		DisplayName: po.DisplayName,
		StoragePath: po.StoragePath,
		SizeBytes:   po.SizeBytes,
		Status:      biz.Status(po.Status),
		UploadedAt:  po.UploadedAt.UTC(),
	}
}

func fromArtifact(a *biz.Artifact) *ArtifactPO {
	return &ArtifactPO{
		ID:          a.ID,
		DisplayName: a.DisplayName,
		StoragePath: a.StoragePath,
		SizeBytes:   a.SizeBytes,
		Status:      int(a.Status),
		UploadedAt:  a.UploadedAt.UTC(),
	}
}

func toArtifacts(pos []ArtifactPO) []*biz.Artifact {
	out := make([]*biz.Artifact, 0, len(pos))
	for i := range pos {
		out = append(out, toArtifact(&pos[i]))
	}
	return out
}

// ArtifactRepo implements biz.ArtifactRepo on gorm
type ArtifactRepo struct {
	db  *database.DB
	now func() time.Time
}

// NewArtifactRepo 创建制品仓储
func NewArtifactRepo(db *database.DB) *ArtifactRepo {
	return &ArtifactRepo{db: db, now: time.Now}
}

// Migrate 创建或更新 artifacts 表
func (r *ArtifactRepo) Migrate() error {
	return r.db.AutoMigrate(&ArtifactPO{})
}

func (r *ArtifactRepo) conn(ctx context.Context) *gorm.DB {
	return r.db.GetDBFromContext(ctx)
}

func (r *ArtifactRepo) active(ctx context.Context) *gorm.DB {
	return r.conn(ctx).Model(&ArtifactPO{}).Where("status = ?", int(biz.StatusActive))
}

func (r *ArtifactRepo) Insert(ctx context.Context, a *biz.Artifact) error {
	return r.conn(ctx).Create(fromArtifact(a)).Error
}

// BatchInsert 在一个事务内批量插入
func (r *ArtifactRepo) BatchInsert(ctx context.Context, as []*biz.Artifact) error {
	if len(as) == 0 {
		return nil
	}
	pos := make([]*ArtifactPO, 0, len(as))
	for _, a := range as {
		pos = append(pos, fromArtifact(a))
	}
	return r.db.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		return tx.CreateInBatches(pos, insertBatchSize).Error
	})
}

// GetByID 按 ID 查询，包含已删除记录
func (r *ArtifactRepo) GetByID(ctx context.Context, id int64) (*biz.Artifact, error) {
	var po ArtifactPO
	if err := r.conn(ctx).Where("id = ?", id).First(&po).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, biz.ErrNotFound
		}
		return nil, err
	}
	return toArtifact(&po), nil
}

func (r *ArtifactRepo) GetByName(ctx context.Context, name string) (*biz.Artifact, error) {
	var po ArtifactPO
	err := r.active(ctx).Where("display_name = ?", name).Order("uploaded_at DESC").First(&po).Error
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, biz.ErrNotFound
		}
		return nil, err
	}
	return toArtifact(&po), nil
}

// nameFilter 大小写不敏感的包含匹配，转义 LIKE 通配符
func nameFilter(filter string) func(db *gorm.DB) *gorm.DB {
	filter = strings.ToLower(strings.TrimSpace(filter))
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(filter)
	return database.WhereIf(filter != "", `LOWER(display_name) LIKE ? ESCAPE '\'`, "%"+escaped+"%")
}

func (r *ArtifactRepo) List(ctx context.Context, offset, limit int, filter string) ([]*biz.Artifact, error) {
	var pos []ArtifactPO
	err := r.active(ctx).
		Scopes(nameFilter(filter), database.Window(offset, limit)).
		Order("uploaded_at DESC").
		Order("id DESC").
		Find(&pos).Error
	if err != nil {
		return nil, err
	}
	return toArtifacts(pos), nil
}

func (r *ArtifactRepo) Count(ctx context.Context, filter string) (int64, error) {
	var total int64
	err := r.active(ctx).Scopes(nameFilter(filter)).Count(&total).Error
	return total, err
}

func (r *ArtifactRepo) Update(ctx context.Context, a *biz.Artifact) error {
	res := r.conn(ctx).Model(&ArtifactPO{}).Where("id = ?", a.ID).Updates(map[string]interface{}{
		"display_name": a.DisplayName,
		"storage_path": a.StoragePath,
		"size_bytes":   a.SizeBytes,
		"status":       int(a.Status),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return biz.ErrNotFound
	}
	return nil
}

// DeleteByID 逻辑删除
func (r *ArtifactRepo) DeleteByID(ctx context.Context, id int64) (int64, error) {
	return r.BatchDeleteByIDs(ctx, []int64{id})
}

// ListExpired 查询 before 之前上传的有效记录
func (r *ArtifactRepo) ListExpired(ctx context.Context, before time.Time) ([]*biz.Artifact, error) {
	var pos []ArtifactPO
	err := r.active(ctx).
		Where("uploaded_at < ?", before.UTC()).
		Order("uploaded_at ASC").
		Order("id ASC").
		Find(&pos).Error
	if err != nil {
		return nil, err
	}
	return toArtifacts(pos), nil
}

func (r *ArtifactRepo) GetByIDs(ctx context.Context, ids []int64) ([]*biz.Artifact, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var pos []ArtifactPO
	if err := r.active(ctx).Where("id IN ?", ids).Order("id ASC").Find(&pos).Error; err != nil {
		return nil, err
	}
	return toArtifacts(pos), nil
}

// BatchDeleteByIDs 批量逻辑删除，只统计此次由 Active 变为 Deleted 的行
func (r *ArtifactRepo) BatchDeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.active(ctx).Where("id IN ?", ids).Updates(map[string]interface{}{
		"status":     int(biz.StatusDeleted),
		"deleted_at": r.now().UTC(),
	})
	return res.RowsAffected, res.Error
}
