package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/yeisme/panvault/pkg/cache"
	"github.com/yeisme/panvault/pkg/configs"
	"github.com/yeisme/panvault/pkg/internal/model"
	"github.com/yeisme/panvault/pkg/internal/repository"
	"github.com/yeisme/panvault/pkg/log"
	"github.com/yeisme/panvault/pkg/metrics"
)

// QuotaAccount 用户空间快照，缓存值.
type QuotaAccount struct {
	UsedBytes  int64 `json:"usedBytes"`
	TotalBytes int64 `json:"totalBytes"`
}

// Free 剩余空间.
func (a QuotaAccount) Free() int64 {
	if a.UsedBytes >= a.TotalBytes {
		return 0
	}

	return a.TotalBytes - a.UsedBytes
}

// QuotaLedger 用户空间账本.
//
// user_space.used_bytes 是唯一的权威值，只通过条件 UPDATE 修改；
// 缓存中的 QuotaAccount 和分片临时占用仅用于预检.
type QuotaLedger struct {
	store  *repository.Store
	cache  *cache.Cache
	cfg    configs.QuotaConfig
	group  singleflight.Group
	logger zerolog.Logger
}

// NewQuotaLedger 创建账本.
func NewQuotaLedger(store *repository.Store, c *cache.Cache, cfg configs.QuotaConfig) *QuotaLedger {
	return &QuotaLedger{
		store:  store,
		cache:  c,
		cfg:    cfg,
		logger: log.Logger().With().Str("component", "quota").Logger(),
	}
}

func spaceKey(userID string) string { return "space:" + userID }

func provisionalKey(userID, fileID string) string { return "temp:" + userID + ":" + fileID }

// GetAccount 读取用户空间，缓存未命中或不可用时回源数据库.
func (l *QuotaLedger) GetAccount(ctx context.Context, userID string) (QuotaAccount, error) {
	if userID == "" {
		return QuotaAccount{}, ErrUserRequired
	}

	acc, err := cache.Get[QuotaAccount](ctx, l.cache, spaceKey(userID))
	if err == nil {
		return acc, nil
	}

	if !cache.IsMiss(err) {
		l.logger.Warn().Err(err).Str("user_id", userID).Msg("space cache read failed, falling back to db")
	}

	v, err, _ := l.group.Do(userID, func() (any, error) {
		return l.load(ctx, l.store, userID)
	})
	if err != nil {
		return QuotaAccount{}, err
	}

	return v.(QuotaAccount), nil
}

// load 从数据库读取（必要时初始化）用户空间并写回缓存.
func (l *QuotaLedger) load(ctx context.Context, store *repository.Store, userID string) (QuotaAccount, error) {
	space, err := l.ensure(ctx, store, userID)
	if err != nil {
		return QuotaAccount{}, err
	}

	acc := QuotaAccount{UsedBytes: space.UsedBytes, TotalBytes: space.TotalBytes}
	if err := cache.Set(ctx, l.cache, spaceKey(userID), acc, l.cfg.AccountTTL); err != nil {
		l.logger.Debug().Err(err).Str("user_id", userID).Msg("space cache write skipped")
	}

	return acc, nil
}

// ensure 保证 user_space 行存在. 首次创建时 used_bytes 取当前持久化记录的合计.
// 在事务中调用时必须先于新文件记录的插入，否则新记录会被重复计入.
func (l *QuotaLedger) ensure(ctx context.Context, store *repository.Store, userID string) (*model.UserSpace, error) {
	space, err := store.Spaces().Get(ctx, userID)
	if err == nil {
		return space, nil
	}

	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("get user space: %w", err)
	}

	used, err := store.Files().SumCounted(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("sum counted files: %w", err)
	}

	space, err = store.Spaces().Ensure(ctx, userID, used, l.cfg.InitialTotalBytes())
	if err != nil {
		return nil, fmt.Errorf("ensure user space: %w", err)
	}

	l.logger.Info().Str("user_id", userID).Int64("used", space.UsedBytes).Int64("total", space.TotalBytes).
		Msg("user space initialized")

	return space, nil
}

// Refresh 丢弃缓存并从数据库重新加载，在事务提交之后调用.
func (l *QuotaLedger) Refresh(ctx context.Context, userID string) {
	if _, err := l.load(ctx, l.store, userID); err != nil {
		l.logger.Warn().Err(err).Str("user_id", userID).Msg("refresh space failed")

		if delErr := l.cache.Delete(ctx, spaceKey(userID)); delErr != nil {
			l.logger.Warn().Err(delErr).Str("user_id", userID).Msg("invalidate space cache failed")
		}
	}
}

// CheckCapacity 预检：已用 + 本文件临时占用 + candidate 是否不超过总空间. 不修改任何状态.
func (l *QuotaLedger) CheckCapacity(ctx context.Context, userID, fileID string, candidate int64) (bool, error) {
	acc, err := l.GetAccount(ctx, userID)
	if err != nil {
		return false, err
	}

	return acc.UsedBytes+l.ProvisionalBytes(ctx, userID, fileID)+candidate <= acc.TotalBytes, nil
}

// ReserveProvisional 累加本文件的临时占用并刷新 TTL，返回累加后的值.
// 调用方负责按 (user, file) 串行化.
func (l *QuotaLedger) ReserveProvisional(ctx context.Context, userID, fileID string, delta int64) (int64, error) {
	return cache.Update(ctx, l.cache, provisionalKey(userID, fileID), func(cur int64, _ bool) int64 {
		if cur+delta < 0 {
			return 0
		}

		return cur + delta
	}, l.cfg.ProvisionalTTL)
}

// ProvisionalBytes 本文件的临时占用，读取失败按 0 处理.
func (l *QuotaLedger) ProvisionalBytes(ctx context.Context, userID, fileID string) int64 {
	n, err := cache.Get[int64](ctx, l.cache, provisionalKey(userID, fileID))
	if err != nil {
		if !cache.IsMiss(err) {
			l.logger.Debug().Err(err).Str("user_id", userID).Str("file_id", fileID).Msg("provisional read failed")
		}

		return 0
	}

	return n
}

// ClearProvisional 删除本文件的临时占用.
func (l *QuotaLedger) ClearProvisional(ctx context.Context, userID, fileID string) {
	if err := l.cache.Delete(ctx, provisionalKey(userID, fileID)); err != nil {
		l.logger.Warn().Err(err).Str("user_id", userID).Str("file_id", fileID).Msg("clear provisional failed")
	}
}

// Commit 在独立事务中提交 delta 字节，提交后刷新缓存.
func (l *QuotaLedger) Commit(ctx context.Context, userID string, delta int64) error {
	err := l.store.InTx(ctx, func(tx *repository.Store) error {
		return l.CommitTx(ctx, tx, userID, delta)
	})
	if err != nil {
		return err
	}

	l.Refresh(ctx, userID)

	return nil
}

// CommitTx 在调用方事务中提交 delta 字节，超出总空间时返回 ErrQuotaExceeded.
// 调用方在事务提交后负责 Refresh.
func (l *QuotaLedger) CommitTx(ctx context.Context, tx *repository.Store, userID string, delta int64) error {
	if delta < 0 {
		return fmt.Errorf("%w: negative commit %d", ErrInvalidRequest, delta)
	}

	if _, err := l.ensure(ctx, tx, userID); err != nil {
		return err
	}

	if delta == 0 {
		return nil
	}

	ok, err := tx.Spaces().TryIncrement(ctx, userID, delta)
	if err != nil {
		metrics.QuotaCommits.WithLabelValues(metrics.ResultError).Inc()
		return fmt.Errorf("commit quota: %w", err)
	}

	if !ok {
		metrics.QuotaCommits.WithLabelValues(metrics.ResultRejected).Inc()
		return ErrQuotaExceeded
	}

	metrics.QuotaCommits.WithLabelValues(metrics.ResultOK).Inc()

	return nil
}

// Release 释放 delta 字节，失败只记录日志.
func (l *QuotaLedger) Release(ctx context.Context, userID string, delta int64) {
	err := l.store.InTx(ctx, func(tx *repository.Store) error {
		return l.ReleaseTx(ctx, tx, userID, delta)
	})
	if err != nil {
		l.logger.Error().Err(err).Str("user_id", userID).Int64("bytes", delta).Msg("release quota failed")
		return
	}

	l.Refresh(ctx, userID)
}

// ReleaseTx 在调用方事务中释放 delta 字节，used_bytes 不会低于 0.
func (l *QuotaLedger) ReleaseTx(ctx context.Context, tx *repository.Store, userID string, delta int64) error {
	if delta <= 0 {
		return nil
	}

	if err := tx.Spaces().Decrement(ctx, userID, delta); err != nil {
		return fmt.Errorf("release quota: %w", err)
	}

	return nil
}

// Reconcile 把 used_bytes 重置为持久化记录的合计，返回修正前后的值.
func (l *QuotaLedger) Reconcile(ctx context.Context, userID string) (before, after int64, err error) {
	if userID == "" {
		return 0, 0, ErrUserRequired
	}

	start := time.Now()

	err = l.store.InTx(ctx, func(tx *repository.Store) error {
		space, err := l.ensure(ctx, tx, userID)
		if err != nil {
			return err
		}

		before = space.UsedBytes

		after, err = tx.Files().SumCounted(ctx, userID)
		if err != nil {
			return fmt.Errorf("sum counted files: %w", err)
		}

		if after == before {
			return nil
		}

		return tx.Spaces().SetUsed(ctx, userID, after)
	})
	if err != nil {
		return 0, 0, err
	}

	l.Refresh(ctx, userID)

	l.logger.Info().Str("user_id", userID).Int64("before", before).Int64("after", after).
		Dur("took", time.Since(start)).Msg("user space reconciled")

	return before, after, nil
}
