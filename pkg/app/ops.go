package app

import (
	"context"
	"errors"
	"time"

	"github.com/yeisme/panvault/pkg/configs"
	"github.com/yeisme/panvault/pkg/internal/service"
	"github.com/yeisme/panvault/pkg/internal/storage"
)

// withServices 打开 DB 与 KV 运行一次性运维操作.
func withServices(ctx context.Context, cfg *configs.AppConfig, fn func(*Services) error) error {
	mgr, err := storage.Open(ctx, cfg, storage.WithDB(), storage.WithKV())
	if err != nil {
		return err
	}

	svc, err := NewServices(mgr, cfg, "panvault-cli")
	if err != nil {
		return errors.Join(err, mgr.Close())
	}

	return errors.Join(fn(svc), mgr.Close())
}

// Sweep 立即执行一次回收站清理.
func Sweep(ctx context.Context, cfg *configs.AppConfig) (service.SweepReport, error) {
	var report service.SweepReport

	err := withServices(ctx, cfg, func(svc *Services) error {
		var err error
		report, err = svc.Lifecycle.Sweep(ctx, time.Now())

		return err
	})

	return report, err
}

// Reconcile 把用户已用空间校准为持久化记录的合计.
func Reconcile(ctx context.Context, cfg *configs.AppConfig, userID string) (before, after int64, err error) {
	err = withServices(ctx, cfg, func(svc *Services) error {
		var err error
		before, after, err = svc.Ledger.Reconcile(ctx, userID)

		return err
	})

	return before, after, err
}
