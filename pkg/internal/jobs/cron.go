// Package jobs 负责注册与实现业务定时任务（基于 scheduler）。
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yeisme/panvault/pkg/configs"
	"github.com/yeisme/panvault/pkg/internal/repository"
	"github.com/yeisme/panvault/pkg/internal/service"
	"github.com/yeisme/panvault/pkg/log"
	"github.com/yeisme/panvault/pkg/scheduler"
)

// Deps 定时任务依赖的服务.
type Deps struct {
	Store     *repository.Store
	Ledger    *service.QuotaLedger
	Uploads   *service.UploadManager
	Lifecycle *service.LifecycleService
}

// RegisterJobs 配置业务定时任务：
//   - 每 sweep_interval 清理超过保留期的回收站文件
//   - 每 staging_gc_interval 清理空闲过期的上传会话与暂存分片
//   - 每天 04:30 校准已用空间
func RegisterJobs(sched *scheduler.Scheduler, deps Deps, cfg *configs.AppConfig) error {
	if sched == nil {
		return fmt.Errorf("scheduler is nil")
	}

	if deps.Lifecycle == nil || deps.Uploads == nil || deps.Ledger == nil || deps.Store == nil {
		return fmt.Errorf("job dependencies are incomplete")
	}

	err := errors.Join(
		sched.AddInterval(JobRecycleSweep, cfg.Lifecycle.SweepInterval, func(ctx context.Context) error {
			_, err := deps.Lifecycle.Sweep(ctx, time.Now())
			return err
		}),
		sched.AddInterval(JobStagingGC, cfg.Upload.StagingGCInterval, func(ctx context.Context) error {
			return runStagingGC(ctx, deps.Uploads)
		}),
		sched.AddCron(JobQuotaReconcile, CronQuotaReconcile, func(ctx context.Context) error {
			return runQuotaReconcile(ctx, deps.Store, deps.Ledger)
		}),
	)
	if err != nil {
		return fmt.Errorf("register jobs: %w", err)
	}

	return nil
}

func runStagingGC(ctx context.Context, uploads *service.UploadManager) error {
	n, err := uploads.ExpireSessions(ctx)
	if n > 0 {
		l := log.Logger().With().Str("job", JobStagingGC).Logger()
		l.Info().Int("expired", n).Msg("expired upload sessions")
	}

	return err
}

// runQuotaReconcile 逐个用户校准，单个失败不影响其他用户.
func runQuotaReconcile(ctx context.Context, store *repository.Store, ledger *service.QuotaLedger) error {
	l := log.Logger().With().Str("job", JobQuotaReconcile).Logger()

	users, err := store.Spaces().ListUserIDs(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	var failed int

	for _, u := range users {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		before, after, err := ledger.Reconcile(ctx, u)
		if err != nil {
			failed++

			l.Error().Err(err).Str("user_id", u).Msg("reconcile failed")

			continue
		}

		if before != after {
			l.Warn().Str("user_id", u).Int64("before", before).Int64("after", after).Msg("corrected quota drift")
		}
	}

	if failed > 0 {
		return fmt.Errorf("reconcile failed for %d of %d users", failed, len(users))
	}

	return nil
}
