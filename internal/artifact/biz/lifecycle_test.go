package biz

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(f *fixture, n int, uploadedAt time.Time) []int64 {
	ids := make([]int64, n)
	for i := range ids {
		id := int64(i + 1)
		p := fmt.Sprintf("uploads/f%d.txt", id)
		f.blobs.files[p] = []byte("x")
		f.repo.rows[id] = &Artifact{
			ID:          id,
			DisplayName: fmt.Sprintf("f%d.txt", id),
			StoragePath: p,
			SizeBytes:   1,
			Status:      StatusActive,
			UploadedAt:  uploadedAt,
		}
		ids[i] = id
	}
	return ids
}

func TestDeleteByIDs_Chunking(t *testing.T) {
	f := newFixture(t, &Config{BatchSize: 500})
	ids := seed(f, 1200, fixedNow)

	// 第二个分块（501..1000）的文件全部删除失败
	f.blobs.failDel = func(path string) bool {
		var id int64
		_, _ = fmt.Sscanf(path, "uploads/f%d.txt", &id)
		return id > 500 && id <= 1000
	}

	count := f.uc.DeleteByIDs(context.Background(), ids)
	assert.Equal(t, 700, count)

	require.Len(t, f.repo.byIDs, 3)
	assert.Len(t, f.repo.byIDs[0], 500)
	assert.Len(t, f.repo.byIDs[1], 500)
	assert.Len(t, f.repo.byIDs[2], 200)

	assert.Equal(t, StatusDeleted, f.repo.row(1).Status)
	assert.Equal(t, StatusActive, f.repo.row(501).Status)
	assert.Equal(t, StatusDeleted, f.repo.row(1001).Status)
	assert.True(t, f.blobs.has("uploads/f600.txt"))
}

func TestDeleteByIDs_MetadataFailureIsolated(t *testing.T) {
	f := newFixture(t, &Config{BatchSize: 2})
	ids := seed(f, 5, fixedNow)

	calls := 0
	f.repo.failDel = func([]int64) error {
		calls++
		if calls == 1 {
			return errors.New("lock timeout")
		}
		return nil
	}

	assert.Equal(t, 3, f.uc.DeleteByIDs(context.Background(), ids))
	assert.Equal(t, StatusActive, f.repo.row(1).Status)
	assert.Equal(t, StatusDeleted, f.repo.row(5).Status)
}

func TestDeleteByIDs_AbsentFileCountsAsDeleted(t *testing.T) {
	f := newFixture(t, nil)
	ids := seed(f, 3, fixedNow)
	delete(f.blobs.files, "uploads/f2.txt")

	assert.Equal(t, 3, f.uc.DeleteByIDs(context.Background(), append(ids, 404)))
	assert.Zero(t, f.uc.DeleteByIDs(context.Background(), nil))
}

func TestInvalidQueue_Overflow(t *testing.T) {
	q := NewInvalidQueue(3, nil)
	assert.Equal(t, 3, q.Cap())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for id := int64(1); id <= 5; id++ {
			q.Offer(id)
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Offer blocked on a full queue")
	}

	assert.Equal(t, []int64{1, 2, 3}, q.Drain())
	assert.Empty(t, q.Drain())
	assert.Equal(t, DefaultQueueCapacity, NewInvalidQueue(0, nil).Cap())
}

func TestDrainInvalid(t *testing.T) {
	f := newFixture(t, &Config{BatchSize: 2})
	seed(f, 4, fixedNow)

	f.queue.Offer(1)
	f.queue.Offer(3)
	f.queue.Offer(3)
	f.queue.Offer(99)

	assert.Equal(t, 2, f.uc.DrainInvalid(context.Background()))
	assert.Equal(t, StatusDeleted, f.repo.row(1).Status)
	assert.Equal(t, StatusActive, f.repo.row(2).Status)
	assert.Equal(t, StatusDeleted, f.repo.row(3).Status)
	assert.True(t, f.blobs.has("uploads/f1.txt"), "drain only touches metadata")
	assert.Empty(t, f.repo.byIDs)
	assert.Zero(t, f.queue.Len())

	assert.Zero(t, f.uc.DrainInvalid(context.Background()))
}

func TestDrainInvalid_FailureDoesNotRequeue(t *testing.T) {
	f := newFixture(t, nil)
	seed(f, 2, fixedNow)
	f.repo.failDel = func([]int64) error { return errors.New("db down") }

	f.queue.Offer(1)
	f.queue.Offer(2)
	assert.Zero(t, f.uc.DrainInvalid(context.Background()))
	assert.Zero(t, f.queue.Len())
}

func TestReapExpired(t *testing.T) {
	f := newFixture(t, &Config{Retention: 7 * 24 * time.Hour})
	old := fixedNow.Add(-8 * 24 * time.Hour)
	seed(f, 3, old)

	fresh := &Artifact{ID: 10, DisplayName: "fresh.txt", StoragePath: "uploads/fresh.txt", Status: StatusActive, UploadedAt: fixedNow.Add(-time.Hour)}
	f.repo.rows[10] = fresh
	f.blobs.files[fresh.StoragePath] = []byte("x")

	f.blobs.failDel = func(path string) bool { return path == "uploads/f2.txt" }

	assert.Equal(t, 2, f.uc.ReapExpired(context.Background()))

	assert.Equal(t, StatusDeleted, f.repo.row(1).Status)
	assert.Equal(t, StatusActive, f.repo.row(2).Status)
	assert.Equal(t, StatusDeleted, f.repo.row(3).Status)
	assert.Equal(t, StatusActive, f.repo.row(10).Status)

	assert.False(t, f.blobs.has("uploads/f1.txt"))
	assert.True(t, f.blobs.has("uploads/f2.txt"))
	assert.False(t, f.blobs.has("uploads/f3.txt"))
	assert.True(t, f.blobs.has("uploads/fresh.txt"))
}

func TestReapExpired_AbsentFile(t *testing.T) {
	f := newFixture(t, nil)
	seed(f, 1, fixedNow.Add(-30*24*time.Hour))
	delete(f.blobs.files, "uploads/f1.txt")

	assert.Equal(t, 1, f.uc.ReapExpired(context.Background()))
}
