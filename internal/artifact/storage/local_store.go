package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/lk2023060901/file-service/internal/artifact/biz"
	"github.com/lk2023060901/file-service/internal/pkg/logger"
	"go.uber.org/zap"
)

// LocalStore 本地磁盘文件存储
type LocalStore struct {
	root   string
	logger *logger.Logger
}

// NewLocalStore creates the root directory if needed.
func NewLocalStore(root string, lgr *logger.Logger) (*LocalStore, error) {
	if lgr == nil {
		lgr = logger.NewNop()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalStore{root: root, logger: lgr.Named("local_store")}, nil
}

// Root 返回根目录
func (s *LocalStore) Root() string {
	return s.root
}

// Write 写入文件，先写临时文件再 rename，避免读到半个文件
func (s *LocalStore) Write(ctx context.Context, name string, data []byte) (string, error) {
	if name == "" || name != filepath.Base(name) {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := filepath.Join(s.root, name)
	tmp, err := os.CreateTemp(s.root, "."+name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("rename %s: %w", path, err)
	}

	s.logger.WithContext(ctx).Debug("file written", zap.String("path", path), zap.Int("size", len(data)))
	return path, nil
}

// Read 读取文件，不存在时返回 biz.ErrBlobNotFound
func (s *LocalStore) Read(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, biz.ErrBlobNotFound
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// Delete 删除文件，不存在视为成功
func (s *LocalStore) Delete(ctx context.Context, path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	s.logger.WithContext(ctx).Debug("file removed", zap.String("path", path))
	return nil
}

// Exists 检查文件是否存在
func (s *LocalStore) Exists(_ context.Context, path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return !info.IsDir(), nil
}
