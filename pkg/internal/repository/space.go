package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yeisme/panvault/pkg/internal/model"
)

// SpaceRepository 用户空间计数.
type SpaceRepository interface {
	Get(ctx context.Context, userID string) (*model.UserSpace, error)
	// Ensure 不存在时以给定初值创建，已存在时原样返回.
	Ensure(ctx context.Context, userID string, used, total int64) (*model.UserSpace, error)
	// TryIncrement 条件增加：仅当 used+delta <= total 时成功.
	TryIncrement(ctx context.Context, userID string, delta int64) (bool, error)
	// Decrement 减少已用空间，不会小于 0.
	Decrement(ctx context.Context, userID string, delta int64) error
	// SetUsed 直接设置已用空间（对账修复）.
	SetUsed(ctx context.Context, userID string, used int64) error
	// ListUserIDs 所有有空间记录的用户.
	ListUserIDs(ctx context.Context) ([]string, error)
}

type spaceRepo struct {
	db *gorm.DB
}

func (r *spaceRepo) q(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&model.UserSpace{})
}

func (r *spaceRepo) Get(ctx context.Context, userID string) (*model.UserSpace, error) {
	var s model.UserSpace
	if err := r.q(ctx).Where("user_id = ?", userID).Take(&s).Error; err != nil {
		return nil, notFound(err)
	}

	return &s, nil
}

func (r *spaceRepo) Ensure(ctx context.Context, userID string, used, total int64) (*model.UserSpace, error) {
	row := model.UserSpace{UserID: userID, UsedBytes: used, TotalBytes: total}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return nil, err
	}

	return r.Get(ctx, userID)
}

func (r *spaceRepo) TryIncrement(ctx context.Context, userID string, delta int64) (bool, error) {
	res := r.q(ctx).
		Where("user_id = ? AND used_bytes + ? <= total_bytes", userID, delta).
		Update("used_bytes", gorm.Expr("used_bytes + ?", delta))

	return res.RowsAffected == 1, res.Error
}

func (r *spaceRepo) Decrement(ctx context.Context, userID string, delta int64) error {
	return r.q(ctx).
		Where("user_id = ?", userID).
		Update("used_bytes", gorm.Expr("CASE WHEN used_bytes > ? THEN used_bytes - ? ELSE 0 END", delta, delta)).
		Error
}

func (r *spaceRepo) SetUsed(ctx context.Context, userID string, used int64) error {
	res := r.q(ctx).Where("user_id = ?", userID).Update("used_bytes", used)
	if res.Error != nil {
		return res.Error
	}

	// MySQL 在值未变化时返回 0 行，需要再确认一次
	if res.RowsAffected == 0 {
		_, err := r.Get(ctx, userID)
		return err
	}

	return nil
}

func (r *spaceRepo) ListUserIDs(ctx context.Context) ([]string, error) {
	var ids []string

	err := r.q(ctx).Order("user_id").Pluck("user_id", &ids).Error

	return ids, err
}
