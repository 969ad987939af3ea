package biz

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type fakeRepo struct {
	mu      sync.Mutex
	rows    map[int64]*Artifact
	byIDs   [][]int64 // GetByIDs 调用记录
	failIns func(a *Artifact) error
	failBat error
	failDel func(ids []int64) error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: make(map[int64]*Artifact)}
}

func (r *fakeRepo) put(as ...*Artifact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range as {
		cp := *a
		r.rows[a.ID] = &cp
	}
}

func (r *fakeRepo) row(id int64) *Artifact {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok {
		return nil
	}
	cp := *a
	return &cp
}

func (r *fakeRepo) Insert(_ context.Context, a *Artifact) error {
	if r.failIns != nil {
		if err := r.failIns(a); err != nil {
			return err
		}
	}
	r.put(a)
	return nil
}

func (r *fakeRepo) BatchInsert(_ context.Context, as []*Artifact) error {
	if r.failBat != nil {
		return r.failBat
	}
	r.put(as...)
	return nil
}

func (r *fakeRepo) GetByID(_ context.Context, id int64) (*Artifact, error) {
	if a := r.row(id); a != nil {
		return a, nil
	}
	return nil, ErrNotFound
}

func (r *fakeRepo) GetByName(_ context.Context, name string) (*Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.rows {
		if a.DisplayName == name && a.Status == StatusActive {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *fakeRepo) active(filter string) []*Artifact {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Artifact
	for _, a := range r.rows {
		if a.Status != StatusActive {
			continue
		}
		if filter != "" && !strings.Contains(strings.ToLower(a.DisplayName), strings.ToLower(filter)) {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (r *fakeRepo) List(_ context.Context, offset, limit int, filter string) ([]*Artifact, error) {
	all := r.active(filter)
	if offset >= len(all) {
		return nil, nil
	}
	return all[offset:min(offset+limit, len(all))], nil
}

func (r *fakeRepo) Count(_ context.Context, filter string) (int64, error) {
	return int64(len(r.active(filter))), nil
}

func (r *fakeRepo) Update(_ context.Context, a *Artifact) error {
	r.put(a)
	return nil
}

func (r *fakeRepo) DeleteByID(_ context.Context, id int64) (int64, error) {
	return r.BatchDeleteByIDs(context.Background(), []int64{id})
}

func (r *fakeRepo) ListExpired(_ context.Context, before time.Time) ([]*Artifact, error) {
	var out []*Artifact
	for _, a := range r.active("") {
		if a.UploadedAt.Before(before) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeRepo) GetByIDs(_ context.Context, ids []int64) ([]*Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byIDs = append(r.byIDs, append([]int64(nil), ids...))
	var out []*Artifact
	for _, id := range ids {
		if a, ok := r.rows[id]; ok && a.Status == StatusActive {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRepo) BatchDeleteByIDs(_ context.Context, ids []int64) (int64, error) {
	if r.failDel != nil {
		if err := r.failDel(ids); err != nil {
			return 0, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, id := range ids {
		if a, ok := r.rows[id]; ok && a.Status == StatusActive {
			a.Status = StatusDeleted
			n++
		}
	}
	return n, nil
}

type fakeBlobs struct {
	mu       sync.Mutex
	files    map[string][]byte
	writes   int
	failDel  func(path string) bool
	failRead error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{files: make(map[string][]byte)}
}

func (b *fakeBlobs) has(path string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.files[path]
	return ok
}

func (b *fakeBlobs) Write(_ context.Context, name string, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes++
	p := "uploads/" + name
	b.files[p] = append([]byte(nil), data...)
	return p, nil
}

func (b *fakeBlobs) Read(_ context.Context, path string) ([]byte, error) {
	if b.failRead != nil {
		return nil, b.failRead
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.files[path]
	if !ok {
		return nil, ErrBlobNotFound
	}
	return data, nil
}

func (b *fakeBlobs) Delete(_ context.Context, path string) error {
	if b.failDel != nil && b.failDel(path) {
		return errors.New("permission denied")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.files, path)
	return nil
}

func (b *fakeBlobs) Exists(_ context.Context, path string) (bool, error) {
	return b.has(path), nil
}

type seqIDs struct {
	next atomic.Int64
	err  error
}

func (s *seqIDs) NextID() (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.next.Add(1), nil
}
