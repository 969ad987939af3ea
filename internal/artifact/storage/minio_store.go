package storage

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"path/filepath"

	"github.com/lk2023060901/file-service/internal/artifact/biz"
	"github.com/lk2023060901/file-service/internal/pkg/logger"
	pkgminio "github.com/lk2023060901/file-service/internal/pkg/minio"
	"go.uber.org/zap"
)

// MinIOStore MinIO 文件存储实现，存储路径即对象 key
type MinIOStore struct {
	client *pkgminio.Client
	bucket string
	logger *logger.Logger
}

// NewMinIOStore 创建 MinIO 文件存储
func NewMinIOStore(client *pkgminio.Client, lgr *logger.Logger) *MinIOStore {
	if lgr == nil {
		lgr = logger.NewNop()
	}
	return &MinIOStore{
		client: client,
		bucket: client.Bucket(),
		logger: lgr.Named("minio_store"),
	}
}

// Write 上传文件
func (s *MinIOStore) Write(ctx context.Context, name string, data []byte) (string, error) {
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	info, err := s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(data), int64(len(data)), pkgminio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload file: %w", err)
	}

	s.logger.WithContext(ctx).Info("file uploaded successfully",
		zap.String("bucket", s.bucket),
		zap.String("key", info.Key),
		zap.Int64("size", info.Size))
	return name, nil
}

// Read 下载文件
func (s *MinIOStore) Read(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.GetObject(ctx, s.bucket, key)
	if err != nil {
		if pkgminio.IsNotFound(err) {
			return nil, biz.ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	return data, nil
}

// Delete 删除文件
func (s *MinIOStore) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key); err != nil && !pkgminio.IsNotFound(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// Exists 检查文件是否存在
func (s *MinIOStore) Exists(ctx context.Context, key string) (bool, error) {
	if _, err := s.client.StatObject(ctx, s.bucket, key); err != nil {
		if pkgminio.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check file existence: %w", err)
	}
	return true, nil
}
