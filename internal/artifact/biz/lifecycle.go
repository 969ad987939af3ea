package biz

import (
	"context"

	"github.com/lk2023060901/file-service/internal/pkg/metrics"
	"github.com/lk2023060901/file-service/internal/pkg/offload"
	"go.uber.org/zap"
)

// DeleteByIDs 批量删除：按分块删除物理文件，再对删除成功（或文件本就不存在）
// 的 id 做一次批量元数据删除。返回元数据删除总数。
func (uc *ArtifactUseCase) DeleteByIDs(ctx context.Context, ids []int64) int {
	count := uc.batchDelete(ctx, ids, false)
	uc.metrics.AddDeletions(metrics.ReasonDirect, count)
	return count
}

// DrainInvalid 清空失效队列，只删除元数据（文件已知不存在）。
// 下游失败时已出队的 id 不会重新入队。
func (uc *ArtifactUseCase) DrainInvalid(ctx context.Context) int {
	log := uc.logger.WithContext(ctx)

	ids := uc.queue.Drain()
	if len(ids) == 0 {
		log.Debug("no invalid artifacts")
		return 0
	}

	log.Info("draining invalid artifacts", zap.Int("ids", len(ids)))
	count := uc.batchDelete(ctx, ids, true)
	uc.metrics.AddDeletions(metrics.ReasonDrain, count)
	log.Info("invalid artifacts drained", zap.Int("deleted", count))
	return count
}

func (uc *ArtifactUseCase) batchDelete(ctx context.Context, ids []int64, metadataOnly bool) int {
	log := uc.logger.WithContext(ctx)
	count := 0

	for start := 0; start < len(ids); start += uc.cfg.BatchSize {
		if ctx.Err() != nil {
			log.Warn("batch delete interrupted", zap.Int("processed", start), zap.Error(ctx.Err()))
			break
		}

		end := min(start+uc.cfg.BatchSize, len(ids))
		chunk := ids[start:end]

		valid := dedupe(chunk)
		if !metadataOnly {
			valid = uc.deleteBlobs(ctx, chunk)
		}
		if len(valid) == 0 {
			continue
		}

		n, err := offload.Submit(uc.executor, ctx, func(ctx context.Context) (int64, error) {
			return uc.repo.BatchDeleteByIDs(ctx, valid)
		}).Get()
		if err != nil {
			log.Error("batch delete metadata failed",
				zap.Int("chunk_start", start),
				zap.Int("ids", len(valid)),
				zap.Error(err))
			continue
		}
		count += int(n)
	}
	return count
}

// deleteBlobs 删除一个分块内记录的物理文件，返回可以删除元数据的 id
func (uc *ArtifactUseCase) deleteBlobs(ctx context.Context, chunk []int64) []int64 {
	log := uc.logger.WithContext(ctx)

	records, err := offload.Submit(uc.executor, ctx, func(ctx context.Context) ([]*Artifact, error) {
		return uc.repo.GetByIDs(ctx, chunk)
	}).Get()
	if err != nil {
		log.Error("load artifacts failed", zap.Int("ids", len(chunk)), zap.Error(err))
		return nil
	}

	valid := make([]int64, 0, len(records))
	for _, a := range records {
		if err := uc.blobs.Delete(ctx, a.StoragePath); err != nil {
			log.Error("delete artifact file failed",
				zap.Int64("artifact_id", a.ID),
				zap.String("path", a.StoragePath),
				zap.Error(err))
			continue
		}
		valid = append(valid, a.ID)
	}
	return valid
}

// ReapExpired 删除超过保留期的制品。逐条处理，单条失败只记录日志；
// 文件删除失败的记录保留元数据。
func (uc *ArtifactUseCase) ReapExpired(ctx context.Context) int {
	log := uc.logger.WithContext(ctx)
	cutoff := uc.now().Add(-uc.cfg.Retention)

	expired, err := offload.Submit(uc.executor, ctx, func(ctx context.Context) ([]*Artifact, error) {
		return uc.repo.ListExpired(ctx, cutoff)
	}).Get()
	if err != nil {
		log.Error("list expired artifacts failed", zap.Time("cutoff", cutoff), zap.Error(err))
		return 0
	}

	count := 0
	for _, a := range expired {
		if ctx.Err() != nil {
			log.Warn("reaper interrupted", zap.Int("deleted", count), zap.Error(ctx.Err()))
			break
		}

		if err := uc.blobs.Delete(ctx, a.StoragePath); err != nil {
			log.Error("delete expired file failed",
				zap.Int64("artifact_id", a.ID),
				zap.String("path", a.StoragePath),
				zap.Error(err))
			continue
		}

		id := a.ID
		n, err := offload.Submit(uc.executor, ctx, func(ctx context.Context) (int64, error) {
			return uc.repo.DeleteByID(ctx, id)
		}).Get()
		if err != nil {
			log.Error("delete expired artifact failed", zap.Int64("artifact_id", a.ID), zap.Error(err))
			continue
		}
		count += int(n)
		log.Info("expired artifact deleted", zap.Int64("artifact_id", a.ID), zap.String("name", a.DisplayName))
	}

	uc.metrics.AddDeletions(metrics.ReasonReaper, count)
	log.Info("expired artifacts reaped", zap.Int("candidates", len(expired)), zap.Int("deleted", count))
	return count
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
