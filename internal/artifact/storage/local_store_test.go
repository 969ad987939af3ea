package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/lk2023060901/file-service/internal/artifact/biz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore(t *testing.T) {
	root := filepath.Join(t.TempDir(), "uploads")
	store, err := NewLocalStore(root, nil)
	require.NoError(t, err)
	ctx := context.Background()

	path, err := store.Write(ctx, "a_1.txt", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "a_1.txt"), path)

	exists, err := store.Exists(ctx, path)
	require.NoError(t, err)
	assert.True(t, exists)

	data, err := store.Read(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")

	require.NoError(t, store.Delete(ctx, path))
	require.NoError(t, store.Delete(ctx, path), "deleting an absent file succeeds")

	exists, err = store.Exists(ctx, path)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = store.Read(ctx, path)
	assert.ErrorIs(t, err, biz.ErrBlobNotFound)
}

func TestLocalStore_RejectsPathNames(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), nil)
	require.NoError(t, err)

	for _, name := range []string{"", "../x.txt", "a/b.txt"} {
		_, err := store.Write(context.Background(), name, []byte("x"))
		assert.Error(t, err, name)
	}
}

func TestLocalStore_DeleteFailure(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocalStore(root, nil)
	require.NoError(t, err)

	// 非空目录无法被 os.Remove 删除
	dir := filepath.Join(root, "dir")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "child"), 0o755))
	assert.Error(t, store.Delete(context.Background(), dir))

	exists, err := store.Exists(context.Background(), dir)
	require.NoError(t, err)
	assert.False(t, exists, "directories are not blobs")
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{name: "local", cfg: &Config{Backend: BackendLocal, UploadPath: t.TempDir()}},
		{name: "local without path", cfg: &Config{Backend: BackendLocal}, wantErr: true},
		{name: "minio without client", cfg: &Config{Backend: BackendMinIO}, wantErr: true},
		{name: "unknown backend", cfg: &Config{Backend: "ftp"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := New(tt.cfg, nil, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, &LocalStore{}, store)
		})
	}
}
