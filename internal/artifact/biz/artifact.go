package biz

import (
	"context"
	"errors"
	"time"
)

// Status 制品状态
type Status int

const (
	StatusActive  Status = 0
	StatusDeleted Status = 1
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Artifact 上传文件及其元数据
type Artifact struct {
	ID          int64
	DisplayName string // 生成的唯一文件名，下载按此查找
	StoragePath string // BlobStore 返回的存储路径
	SizeBytes   int64
	Status      Status
	UploadedAt  time.Time
}

var (
	// ErrNotFound is returned by ArtifactRepo lookups that match nothing.
	ErrNotFound = errors.New("artifact not found")
	// ErrBlobNotFound is returned by BlobStore.Read for a missing file.
	ErrBlobNotFound = errors.New("blob not found")
)

// ArtifactRepo 元数据仓储接口。除 GetByID 外只返回 Active 记录。
type ArtifactRepo interface {
	Insert(ctx context.Context, a *Artifact) error
	BatchInsert(ctx context.Context, as []*Artifact) error
	GetByID(ctx context.Context, id int64) (*Artifact, error)
	GetByName(ctx context.Context, name string) (*Artifact, error)
	List(ctx context.Context, offset, limit int, nameFilter string) ([]*Artifact, error)
	Count(ctx context.Context, nameFilter string) (int64, error)
	Update(ctx context.Context, a *Artifact) error
	// DeleteByID 逻辑删除，返回受影响行数；已删除的记录返回 0
	DeleteByID(ctx context.Context, id int64) (int64, error)
	ListExpired(ctx context.Context, before time.Time) ([]*Artifact, error)
	GetByIDs(ctx context.Context, ids []int64) ([]*Artifact, error)
	BatchDeleteByIDs(ctx context.Context, ids []int64) (int64, error)
}

// BlobStore 物理文件存储接口
type BlobStore interface {
	// Write stores data under name and returns the path to record.
	Write(ctx context.Context, name string, data []byte) (string, error)
	// Read returns ErrBlobNotFound when nothing is stored at path.
	Read(ctx context.Context, path string) ([]byte, error)
	// Delete succeeds when nothing is stored at path.
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
}

// IDGenerator 分配制品 ID
type IDGenerator interface {
	NextID() (int64, error)
}

// Fanout runs fn for every index in [0, n) and returns the per-index errors.
type Fanout interface {
	ForEach(n int, fn func(i int) error) []error
}

// UploadFile 待上传文件
type UploadFile struct {
	Name string
	Data []byte
	// ReadErr is set when the transport could not read the file. The file is
	// reported as an I/O failure without touching storage.
	ReadErr error
}

// UploadFailure 批量上传中单个文件的失败
type UploadFailure struct {
	Name string
	Err  error
}

// UploadManyResult 批量上传结果
type UploadManyResult struct {
	Artifacts []*Artifact
	Failures  []UploadFailure
}

// Page 分页结果
type Page struct {
	Items      []*Artifact
	Total      int64
	Page       int
	PageSize   int
	TotalPages int
}
