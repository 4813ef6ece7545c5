package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/yeisme/panvault/pkg/configs"
	"github.com/yeisme/panvault/pkg/internal/model"
	"github.com/yeisme/panvault/pkg/internal/repository"
	"github.com/yeisme/panvault/pkg/internal/types"
	"github.com/yeisme/panvault/pkg/log"
	"github.com/yeisme/panvault/pkg/metrics"
	"github.com/yeisme/panvault/pkg/queue"
	"github.com/yeisme/panvault/pkg/tracing"
)

const (
	reasonUser  = "user"
	reasonSweep = "sweep"
)

// SweepReport 一次回收站清理的统计.
type SweepReport struct {
	Owners        int           `json:"owners"`
	FailedOwners  []string      `json:"failedOwners,omitempty"`
	Purged        int64         `json:"purged"`
	ReleasedBytes int64         `json:"releasedBytes"`
	Reaped        int64         `json:"reaped"`
	Duration      time.Duration `json:"duration"`
}

// LifecycleService 文件删除标记的状态机：正常 → 回收站 → 彻底删除.
type LifecycleService struct {
	store     *repository.Store
	ledger    *QuotaLedger
	cfg       configs.LifecycleConfig
	publisher message.Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

// NewLifecycleService 创建生命周期服务. pub 为 nil 或配置关闭时不发布事件.
func NewLifecycleService(store *repository.Store, ledger *QuotaLedger, cfg configs.LifecycleConfig,
	pub message.Publisher,
) *LifecycleService {
	if !cfg.PublishEvents {
		pub = nil
	}

	return &LifecycleService{
		store:     store,
		ledger:    ledger,
		cfg:       cfg,
		publisher: pub,
		logger:    log.Logger().With().Str("component", "lifecycle").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// uniqueIDs 去重并保持原始顺序.
func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))

	for _, id := range ids {
		if id == "" {
			continue
		}

		if _, ok := seen[id]; ok {
			continue
		}

		seen[id] = struct{}{}
		out = append(out, id)
	}

	return out
}

func checkBatch(userID string, ids []string) ([]string, error) {
	if userID == "" {
		return nil, ErrUserRequired
	}

	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no file ids", ErrInvalidRequest)
	}

	return ids, nil
}

func inconsistent(op string, got, want int) error {
	return fmt.Errorf("%w: %s affected %d of %d", ErrInconsistentPurge, op, got, want)
}

// Recycle 移入回收站，仍计入空间.
func (s *LifecycleService) Recycle(ctx context.Context, userID string, fileIDs []string) (int64, error) {
	ids, err := checkBatch(userID, fileIDs)
	if err != nil {
		return 0, err
	}

	var n int64

	err = s.store.InTx(ctx, func(tx *repository.Store) error {
		var err error
		if n, err = tx.Files().Recycle(ctx, userID, ids, s.now()); err != nil {
			return fmt.Errorf("recycle files: %w", err)
		}

		if int(n) != len(ids) {
			return inconsistent("recycle", int(n), len(ids))
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	s.publish(ctx, queue.TopicFileRecycled, queue.FileLifecyclePayload{UserID: userID, FileIDs: ids, Reason: reasonUser})

	return n, nil
}

// Restore 从回收站还原，同名冲突时重命名. 空间不变.
func (s *LifecycleService) Restore(ctx context.Context, userID string, fileIDs []string) (int64, error) {
	ids, err := checkBatch(userID, fileIDs)
	if err != nil {
		return 0, err
	}

	var restored int64

	err = s.store.InTx(ctx, func(tx *repository.Store) error {
		rows, err := tx.Files().ListByIDs(ctx, userID, ids, types.DelFlagRecycled)
		if err != nil {
			return fmt.Errorf("list recycled files: %w", err)
		}

		if len(rows) != len(ids) {
			return inconsistent("restore", len(rows), len(ids))
		}

		now := s.now()

		for i := range rows {
			name, err := uniqueName(ctx, tx.Files(), userID, rows[i].FilePid, rows[i].FileName)
			if err != nil {
				return err
			}

			n, err := tx.Files().Restore(ctx, userID, rows[i].FileID, name, now)
			if err != nil {
				return fmt.Errorf("restore file %s: %w", rows[i].FileID, err)
			}

			if n != 1 {
				return inconsistent("restore", int(restored+n), len(ids))
			}

			restored++
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	s.publish(ctx, queue.TopicFileRestored, queue.FileLifecyclePayload{UserID: userID, FileIDs: ids, Reason: reasonUser})

	return restored, nil
}

// Purge 彻底删除（正常或回收站中的文件），并在同一事务中释放空间.
func (s *LifecycleService) Purge(ctx context.Context, userID string, fileIDs []string) (int64, error) {
	ids, err := checkBatch(userID, fileIDs)
	if err != nil {
		return 0, err
	}

	n, _, err := s.purge(ctx, userID, ids, reasonUser)

	return n, err
}

// purge 返回彻底删除的数量与释放的字节数.
func (s *LifecycleService) purge(ctx context.Context, userID string, ids []string, reason string) (int64, int64, error) {
	var (
		n        int64
		released int64
	)

	err := s.store.InTx(ctx, func(tx *repository.Store) error {
		rows, err := tx.Files().ListByIDs(ctx, userID, ids, types.DelFlagActive, types.DelFlagRecycled)
		if err != nil {
			return fmt.Errorf("list files: %w", err)
		}

		if len(rows) != len(ids) {
			return inconsistent("purge", len(rows), len(ids))
		}

		if n, err = tx.Files().MarkPurged(ctx, userID, ids); err != nil {
			return fmt.Errorf("purge files: %w", err)
		}

		if int(n) != len(ids) {
			return inconsistent("purge", int(n), len(ids))
		}

		released = countedBytes(rows)

		return s.ledger.ReleaseTx(ctx, tx, userID, released)
	})
	if err != nil {
		return 0, 0, err
	}

	s.ledger.Refresh(ctx, userID)
	metrics.ReclaimedBytes.Add(float64(released))

	s.publish(ctx, queue.TopicFilePurged, queue.FileLifecyclePayload{
		UserID: userID, FileIDs: ids, Bytes: released, Reason: reason,
	})

	return n, released, nil
}

func countedBytes(rows []model.FileInfo) int64 {
	var sum int64

	for i := range rows {
		if rows[i].Counted() {
			sum += rows[i].FileSize
		}
	}

	return sum
}

// ListRecycled 回收站列表.
func (s *LifecycleService) ListRecycled(ctx context.Context, userID string) ([]model.FileInfo, error) {
	if userID == "" {
		return nil, ErrUserRequired
	}

	rows, err := s.store.Files().ListRecycled(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list recycled: %w", err)
	}

	return rows, nil
}

// Sweep 彻底删除超过保留期的回收站文件，按用户并发处理；单个用户失败不影响其他用户.
// 随后物理删除已彻底删除的记录.
func (s *LifecycleService) Sweep(ctx context.Context, now time.Time) (SweepReport, error) {
	ctx, span := tracing.StartSpan(ctx, "lifecycle.sweep")
	defer span.End()

	start := time.Now()
	cutoff := now.UTC().Add(-s.cfg.Retention)

	owners, err := s.store.Files().ExpiredRecycledOwners(ctx, cutoff)
	if err != nil {
		return SweepReport{}, fmt.Errorf("list expired owners: %w", err)
	}

	report := SweepReport{Owners: len(owners)}

	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.cfg.SweepConcurrency, 1))

	for _, owner := range owners {
		g.Go(func() error {
			purged, released, err := s.sweepOwner(gctx, owner, cutoff)

			mu.Lock()
			defer mu.Unlock()

			report.Purged += purged
			report.ReleasedBytes += released

			if err != nil {
				report.FailedOwners = append(report.FailedOwners, owner)
				s.logger.Error().Err(err).Str("user_id", owner).Msg("sweep owner failed")
			}

			return nil
		})
	}

	_ = g.Wait()

	sort.Strings(report.FailedOwners)

	if err := ctx.Err(); err != nil {
		return report, err
	}

	reaped, err := s.reap(ctx)
	report.Reaped = reaped
	report.Duration = time.Since(start)

	metrics.SweepDuration.Observe(report.Duration.Seconds())
	span.SetAttributes(
		attribute.Int("owners", report.Owners),
		attribute.Int("failed_owners", len(report.FailedOwners)),
		attribute.Int64("purged", report.Purged),
	)

	if err != nil {
		return report, fmt.Errorf("reap purged: %w", err)
	}

	if report.Purged > 0 || report.Reaped > 0 || len(report.FailedOwners) > 0 {
		s.logger.Info().Int("owners", report.Owners).Int("failed", len(report.FailedOwners)).
			Int64("purged", report.Purged).Int64("released", report.ReleasedBytes).Int64("reaped", report.Reaped).
			Dur("took", report.Duration).Msg("recycle sweep finished")
	}

	return report, nil
}

func (s *LifecycleService) sweepOwner(ctx context.Context, owner string, cutoff time.Time) (int64, int64, error) {
	var purged, released int64

	for {
		if err := ctx.Err(); err != nil {
			return purged, released, err
		}

		ids, err := s.store.Files().ExpiredRecycledIDs(ctx, owner, cutoff, s.cfg.SweepBatchSize)
		if err != nil {
			return purged, released, fmt.Errorf("list expired files: %w", err)
		}

		if len(ids) == 0 {
			return purged, released, nil
		}

		n, bytes, err := s.purge(ctx, owner, ids, reasonSweep)
		if err != nil {
			return purged, released, err
		}

		purged += n
		released += bytes

		if len(ids) < s.cfg.SweepBatchSize {
			return purged, released, nil
		}
	}
}

func (s *LifecycleService) reap(ctx context.Context) (int64, error) {
	var total int64

	for {
		n, err := s.store.Files().ReapPurged(ctx, s.cfg.SweepBatchSize)
		if err != nil {
			return total, err
		}

		total += n

		if n < int64(s.cfg.SweepBatchSize) {
			return total, nil
		}
	}
}

// publish 尽力发布生命周期事件，失败只记录日志.
func (s *LifecycleService) publish(ctx context.Context, topic string, payload queue.FileLifecyclePayload) {
	if s.publisher == nil {
		return
	}

	if err := queue.PublishFileLifecycle(s.publisher, topic, payload, headerOptions(ctx, "panvault-api")...); err != nil {
		s.logger.Warn().Err(err).Str("topic", topic).Str("user_id", payload.UserID).Msg("publish lifecycle event failed")
	}
}
