package biz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	apperrors "github.com/lk2023060901/file-service/internal/pkg/errors"
	"github.com/lk2023060901/file-service/internal/pkg/logger"
	"github.com/lk2023060901/file-service/internal/pkg/offload"
	"github.com/lk2023060901/file-service/internal/pkg/snowflake"
	"github.com/lk2023060901/file-service/internal/pkg/workerpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	uc    *ArtifactUseCase
	repo  *fakeRepo
	blobs *fakeBlobs
	ids   *seqIDs
	queue *InvalidQueue
}

func newFixture(t *testing.T, cfg *Config, opts ...Option) *fixture {
	t.Helper()

	exec, err := offload.New(&offload.Config{Workers: 1, QueueSize: 64}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(exec.Shutdown)

	f := &fixture{
		repo:  newFakeRepo(),
		blobs: newFakeBlobs(),
		ids:   &seqIDs{},
		queue: NewInvalidQueue(16, nil),
	}
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	f.uc = NewArtifactUseCase(cfg, f.repo, f.blobs, f.ids, exec, f.queue, logger.NewNop(), opts...)
	return f
}

func TestUpload_Validation(t *testing.T) {
	cfg := &Config{MaxSize: 8, AllowedTypes: []string{"txt", " PDF "}}

	tests := []struct {
		name     string
		file     UploadFile
		wantCode int
	}{
		{name: "empty file", file: UploadFile{Name: "a.txt"}, wantCode: apperrors.ErrArtifactEmpty},
		{name: "oversize", file: UploadFile{Name: "a.txt", Data: []byte("123456789")}, wantCode: apperrors.ErrArtifactTooLarge},
		{name: "missing name", file: UploadFile{Name: "  ", Data: []byte("x")}, wantCode: apperrors.ErrArtifactValidation},
		{name: "disallowed extension", file: UploadFile{Name: "a.exe", Data: []byte("x")}, wantCode: apperrors.ErrArtifactTypeNotAllowed},
		{name: "no extension", file: UploadFile{Name: "README", Data: []byte("x")}, wantCode: apperrors.ErrArtifactTypeNotAllowed},
		{name: "allowed upper case", file: UploadFile{Name: "Report.PDF", Data: []byte("x")}},
		{name: "exactly at limit", file: UploadFile{Name: "a.txt", Data: []byte("12345678")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, cfg)
			a, err := f.uc.Upload(context.Background(), tt.file)
			if tt.wantCode == 0 {
				require.NoError(t, err)
				require.NotNil(t, a)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, apperrors.ExtractCode(err))
			assert.Zero(t, f.blobs.writes, "rejected upload must not touch storage")
			assert.Zero(t, f.ids.next.Load(), "rejected upload must not allocate an id")
			assert.Empty(t, f.repo.rows)
		})
	}
}

func TestUpload_Success(t *testing.T) {
	f := newFixture(t, nil)

	a, err := f.uc.Upload(context.Background(), UploadFile{Name: "dir/../report.final.PDF", Data: []byte("hello")})
	require.NoError(t, err)

	assert.Equal(t, int64(1), a.ID)
	assert.Equal(t, "report.final_1.pdf", a.DisplayName)
	assert.Equal(t, "uploads/report.final_1.pdf", a.StoragePath)
	assert.Equal(t, int64(5), a.SizeBytes)
	assert.Equal(t, StatusActive, a.Status)
	assert.Equal(t, fixedNow, a.UploadedAt)

	assert.True(t, f.blobs.has(a.StoragePath))
	require.NotNil(t, f.repo.row(1))
}

func TestStoredName(t *testing.T) {
	assert.Equal(t, "notes_7.txt", storedName("notes.txt", "txt", 7))
	assert.Equal(t, "Makefile_7", storedName("Makefile", "", 7))
	assert.Equal(t, ".env_7", storedName(".env", "", 7))
	assert.Equal(t, "", extension(".env"))
	assert.Equal(t, "gz", extension("a.tar.GZ"))
}

func TestUpload_PersistenceFailureRemovesBlob(t *testing.T) {
	f := newFixture(t, nil)
	f.repo.failIns = func(*Artifact) error { return errors.New("connection reset") }

	_, err := f.uc.Upload(context.Background(), UploadFile{Name: "a.txt", Data: []byte("x")})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrArtifactPersistence, apperrors.ExtractCode(err))
	assert.False(t, f.blobs.has("uploads/a_1.txt"))
}

func TestUpload_ClockRegression(t *testing.T) {
	f := newFixture(t, nil)
	f.ids.err = &snowflake.ClockRegressionError{Last: 10, Current: 5}

	_, err := f.uc.Upload(context.Background(), UploadFile{Name: "a.txt", Data: []byte("x")})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrClockRegression, apperrors.ExtractCode(err))
	assert.ErrorIs(t, err, snowflake.ErrClockMovedBackwards)
	assert.Zero(t, f.blobs.writes)
}

func TestUploadMany(t *testing.T) {
	files := []UploadFile{
		{Name: "a.txt", Data: []byte("a")},
		{Name: "empty.txt"},
		{Name: "b.txt", Data: []byte("b")},
		{Name: "c.bin", Data: []byte("c")},
	}

	t.Run("per-file failures are isolated", func(t *testing.T) {
		pool, err := workerpool.New(&workerpool.Config{Workers: 4, ExpiryDuration: time.Second, ReleaseTimeout: time.Second}, zap.NewNop())
		require.NoError(t, err)
		t.Cleanup(pool.Shutdown)

		f := newFixture(t, &Config{AllowedTypes: []string{"txt"}}, WithFanout(pool))
		res, err := f.uc.UploadMany(context.Background(), files)
		require.NoError(t, err)

		require.Len(t, res.Artifacts, 2)
		require.Len(t, res.Failures, 2)
		names := []string{res.Failures[0].Name, res.Failures[1].Name}
		assert.ElementsMatch(t, []string{"empty.txt", "c.bin"}, names)
		assert.Len(t, f.repo.active(""), 2)
	})

	t.Run("batch insert failure falls back to single inserts", func(t *testing.T) {
		f := newFixture(t, nil)
		f.repo.failBat = errors.New("deadlock detected")
		f.repo.failIns = func(a *Artifact) error {
			if strings.HasPrefix(a.DisplayName, "b_") {
				return errors.New("constraint violation")
			}
			return nil
		}

		res, err := f.uc.UploadMany(context.Background(), files[:3])
		require.NoError(t, err)

		require.Len(t, res.Artifacts, 1)
		assert.True(t, strings.HasPrefix(res.Artifacts[0].DisplayName, "a_"))
		require.Len(t, res.Failures, 2)
		assert.Equal(t, "empty.txt", res.Failures[0].Name)
		assert.Equal(t, "b.txt", res.Failures[1].Name, "failures carry the client file name")
		assert.Equal(t, apperrors.ErrArtifactPersistence, apperrors.ExtractCode(res.Failures[1].Err))
		assert.Len(t, f.blobs.files, 1, "blob of the failed insert is removed")
	})

	t.Run("unreadable file is reported without storing it", func(t *testing.T) {
		f := newFixture(t, nil)
		res, err := f.uc.UploadMany(context.Background(), []UploadFile{
			{Name: "a.txt", Data: []byte("a")},
			{Name: "broken.txt", ReadErr: errors.New("unexpected EOF")},
		})
		require.NoError(t, err)

		require.Len(t, res.Artifacts, 1)
		require.Len(t, res.Failures, 1)
		assert.Equal(t, "broken.txt", res.Failures[0].Name)
		assert.Equal(t, apperrors.ErrArtifactIO, apperrors.ExtractCode(res.Failures[0].Err))
		assert.Equal(t, 1, f.blobs.writes)
	})

	t.Run("no files", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.uc.UploadMany(context.Background(), nil)
		assert.Equal(t, apperrors.ErrArtifactEmpty, apperrors.ExtractCode(err))
	})
}

func TestDownload(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	a, err := f.uc.Upload(ctx, UploadFile{Name: "a.txt", Data: []byte("payload")})
	require.NoError(t, err)

	got, data, err := f.uc.Download(ctx, a.DisplayName)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, []byte("payload"), data)

	t.Run("unknown name", func(t *testing.T) {
		_, _, err := f.uc.Download(ctx, "nope.txt")
		assert.Equal(t, apperrors.ErrArtifactNotFound, apperrors.ExtractCode(err))
		assert.Zero(t, f.queue.Len())
	})

	t.Run("missing file is queued", func(t *testing.T) {
		require.NoError(t, f.blobs.Delete(ctx, a.StoragePath))

		_, _, err := f.uc.Download(ctx, a.DisplayName)
		assert.Equal(t, apperrors.ErrArtifactNotFound, apperrors.ExtractCode(err))
		assert.Equal(t, []int64{a.ID}, f.queue.Drain())
	})

	t.Run("read failure", func(t *testing.T) {
		b, err := f.uc.Upload(ctx, UploadFile{Name: "b.txt", Data: []byte("b")})
		require.NoError(t, err)
		f.blobs.failRead = errors.New("i/o timeout")
		defer func() { f.blobs.failRead = nil }()

		_, _, err = f.uc.Download(ctx, b.DisplayName)
		assert.Equal(t, apperrors.ErrArtifactIO, apperrors.ExtractCode(err))
		assert.Zero(t, f.queue.Len())
	})
}

func TestList(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := f.uc.Upload(ctx, UploadFile{Name: fmt.Sprintf("doc%d.txt", i), Data: []byte("x")})
		require.NoError(t, err)
	}
	_, err := f.uc.Upload(ctx, UploadFile{Name: "image.png", Data: []byte("x")})
	require.NoError(t, err)

	page, err := f.uc.List(ctx, 2, 2, "DOC")
	require.NoError(t, err)
	assert.Equal(t, int64(5), page.Total)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, 2, page.Page)
	require.Len(t, page.Items, 2)
	assert.Equal(t, int64(3), page.Items[0].ID)

	page, err = f.uc.List(ctx, 0, 1000, "")
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 100, page.PageSize)
	assert.Len(t, page.Items, 6)

	page, err = f.uc.List(ctx, 1, 10, "missing")
	require.NoError(t, err)
	assert.Zero(t, page.Total)
	assert.Zero(t, page.TotalPages)
}

func TestGet(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a, err := f.uc.Upload(ctx, UploadFile{Name: "a.txt", Data: []byte("x")})
	require.NoError(t, err)

	got, err := f.uc.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.DisplayName, got.DisplayName)

	_, err = f.uc.Delete(ctx, a.ID)
	require.NoError(t, err)
	_, err = f.uc.Get(ctx, a.ID)
	assert.Equal(t, apperrors.ErrArtifactNotFound, apperrors.ExtractCode(err))

	_, err = f.uc.Get(ctx, 999)
	assert.Equal(t, apperrors.ErrArtifactNotFound, apperrors.ExtractCode(err))
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("idempotent", func(t *testing.T) {
		f := newFixture(t, nil)
		a, err := f.uc.Upload(ctx, UploadFile{Name: "a.txt", Data: []byte("x")})
		require.NoError(t, err)

		deleted, err := f.uc.Delete(ctx, a.ID)
		require.NoError(t, err)
		assert.True(t, deleted)
		assert.False(t, f.blobs.has(a.StoragePath))
		assert.Equal(t, StatusDeleted, f.repo.row(a.ID).Status)

		deleted, err = f.uc.Delete(ctx, a.ID)
		require.NoError(t, err)
		assert.False(t, deleted)

		assert.Zero(t, f.uc.DeleteByIDs(ctx, []int64{a.ID}))

		deleted, err = f.uc.Delete(ctx, 12345)
		require.NoError(t, err)
		assert.False(t, deleted)
	})

	t.Run("file delete failure keeps metadata", func(t *testing.T) {
		f := newFixture(t, nil)
		a, err := f.uc.Upload(ctx, UploadFile{Name: "a.txt", Data: []byte("x")})
		require.NoError(t, err)
		f.blobs.failDel = func(string) bool { return true }

		deleted, err := f.uc.Delete(ctx, a.ID)
		assert.False(t, deleted)
		assert.Equal(t, apperrors.ErrArtifactIO, apperrors.ExtractCode(err))
		assert.Equal(t, StatusActive, f.repo.row(a.ID).Status)
	})
}
