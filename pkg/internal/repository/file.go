package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/yeisme/panvault/pkg/internal/model"
	"github.com/yeisme/panvault/pkg/internal/types"
)

// FileRepository 文件记录的读写. 所有批量更新返回实际影响的行数，由调用方校验.
type FileRepository interface {
	Create(ctx context.Context, f *model.FileInfo) error
	Get(ctx context.Context, userID, fileID string) (*model.FileInfo, error)
	// FindReadyByMD5 查找任意用户的一条可复用记录：Ready 且未彻底删除，size>0 时要求大小一致. 未命中返回 (nil, nil).
	FindReadyByMD5(ctx context.Context, md5 string, size int64) (*model.FileInfo, error)
	// NameTaken 同一目录下是否已有同名的正常文件.
	NameTaken(ctx context.Context, userID, pid, name string) (bool, error)
	// SumCounted 计入空间的文件大小之和（未彻底删除且非 TransferFailed）.
	SumCounted(ctx context.Context, userID string) (int64, error)
	// TransitionStatus 仅当当前状态为 from 时更新为 to.
	TransitionStatus(ctx context.Context, userID, fileID string, from, to types.FileStatus) (int64, error)
	// ListByIDs 按 id 列出指定删除标记的文件.
	ListByIDs(ctx context.Context, userID string, ids []string, flags ...types.DelFlag) ([]model.FileInfo, error)
	// Recycle 正常 → 回收站.
	Recycle(ctx context.Context, userID string, ids []string, now time.Time) (int64, error)
	// Restore 回收站 → 正常，同时可改名.
	Restore(ctx context.Context, userID, fileID, name string, now time.Time) (int64, error)
	// MarkPurged 正常或回收站 → 彻底删除.
	MarkPurged(ctx context.Context, userID string, ids []string) (int64, error)
	// ListRecycled 回收站列表，按进入时间倒序.
	ListRecycled(ctx context.Context, userID string) ([]model.FileInfo, error)
	// ExpiredRecycledOwners 有过期回收站文件的用户.
	ExpiredRecycledOwners(ctx context.Context, cutoff time.Time) ([]string, error)
	// ExpiredRecycledIDs 某用户过期的回收站文件 id，最多 limit 个.
	ExpiredRecycledIDs(ctx context.Context, userID string, cutoff time.Time, limit int) ([]string, error)
	// ReapPurged 物理删除最多 limit 条已彻底删除的记录.
	ReapPurged(ctx context.Context, limit int) (int64, error)
}

type fileRepo struct {
	db *gorm.DB
}

func (r *fileRepo) q(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&model.FileInfo{})
}

func (r *fileRepo) Create(ctx context.Context, f *model.FileInfo) error {
	return r.db.WithContext(ctx).Create(f).Error
}

func (r *fileRepo) Get(ctx context.Context, userID, fileID string) (*model.FileInfo, error) {
	var f model.FileInfo
	if err := r.q(ctx).Where("user_id = ? AND file_id = ?", userID, fileID).Take(&f).Error; err != nil {
		return nil, notFound(err)
	}

	return &f, nil
}

func (r *fileRepo) FindReadyByMD5(ctx context.Context, md5 string, size int64) (*model.FileInfo, error) {
	if md5 == "" {
		return nil, nil
	}

	q := r.q(ctx).
		Where("file_md5 = ? AND status = ? AND del_flag <> ?", md5, types.FileStatusReady, types.DelFlagPurged)
	if size > 0 {
		q = q.Where("file_size = ?", size)
	}

	var rows []model.FileInfo
	if err := q.Order("create_time ASC").Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return nil, nil
	}

	return &rows[0], nil
}

func (r *fileRepo) NameTaken(ctx context.Context, userID, pid, name string) (bool, error) {
	var n int64

	err := r.q(ctx).
		Where("user_id = ? AND file_pid = ? AND file_name = ? AND del_flag = ?", userID, pid, name, types.DelFlagActive).
		Count(&n).Error

	return n > 0, err
}

func (r *fileRepo) SumCounted(ctx context.Context, userID string) (int64, error) {
	var sum int64

	err := r.q(ctx).
		Select("COALESCE(SUM(file_size), 0)").
		Where("user_id = ? AND del_flag <> ? AND status <> ?", userID, types.DelFlagPurged, types.FileStatusTransferFailed).
		Scan(&sum).Error

	return sum, err
}

func (r *fileRepo) TransitionStatus(ctx context.Context, userID, fileID string, from, to types.FileStatus) (int64, error) {
	res := r.q(ctx).
		Where("user_id = ? AND file_id = ? AND status = ?", userID, fileID, from).
		Update("status", to)

	return res.RowsAffected, res.Error
}

func (r *fileRepo) ListByIDs(ctx context.Context, userID string, ids []string, flags ...types.DelFlag) ([]model.FileInfo, error) {
	var rows []model.FileInfo
	if len(ids) == 0 {
		return rows, nil
	}

	q := r.q(ctx).Where("user_id = ? AND file_id IN ?", userID, ids)
	if len(flags) > 0 {
		q = q.Where("del_flag IN ?", flags)
	}

	err := q.Find(&rows).Error

	return rows, err
}

func (r *fileRepo) Recycle(ctx context.Context, userID string, ids []string, now time.Time) (int64, error) {
	res := r.q(ctx).
		Where("user_id = ? AND file_id IN ? AND del_flag = ?", userID, ids, types.DelFlagActive).
		Updates(map[string]any{"del_flag": types.DelFlagRecycled, "recovery_time": now})

	return res.RowsAffected, res.Error
}

func (r *fileRepo) Restore(ctx context.Context, userID, fileID, name string, now time.Time) (int64, error) {
	res := r.q(ctx).
		Where("user_id = ? AND file_id = ? AND del_flag = ?", userID, fileID, types.DelFlagRecycled).
		Updates(map[string]any{"del_flag": types.DelFlagActive, "file_name": name, "recovery_time": now})

	return res.RowsAffected, res.Error
}

func (r *fileRepo) MarkPurged(ctx context.Context, userID string, ids []string) (int64, error) {
	res := r.q(ctx).
		Where("user_id = ? AND file_id IN ? AND del_flag IN ?", userID, ids,
			[]types.DelFlag{types.DelFlagActive, types.DelFlagRecycled}).
		Update("del_flag", types.DelFlagPurged)

	return res.RowsAffected, res.Error
}

func (r *fileRepo) ListRecycled(ctx context.Context, userID string) ([]model.FileInfo, error) {
	var rows []model.FileInfo

	err := r.q(ctx).
		Where("user_id = ? AND del_flag = ?", userID, types.DelFlagRecycled).
		Order("recovery_time DESC").
		Find(&rows).Error

	return rows, err
}

func (r *fileRepo) ExpiredRecycledOwners(ctx context.Context, cutoff time.Time) ([]string, error) {
	var owners []string

	err := r.q(ctx).
		Distinct("user_id").
		Where("del_flag = ? AND recovery_time < ?", types.DelFlagRecycled, cutoff).
		Order("user_id").
		Pluck("user_id", &owners).Error

	return owners, err
}

func (r *fileRepo) ExpiredRecycledIDs(ctx context.Context, userID string, cutoff time.Time, limit int) ([]string, error) {
	var ids []string

	err := r.q(ctx).
		Where("user_id = ? AND del_flag = ? AND recovery_time < ?", userID, types.DelFlagRecycled, cutoff).
		Order("recovery_time ASC").
		Limit(limit).
		Pluck("file_id", &ids).Error

	return ids, err
}

func (r *fileRepo) ReapPurged(ctx context.Context, limit int) (int64, error) {
	var keys []model.FileInfo

	err := r.q(ctx).
		Select("user_id", "file_id").
		Where("del_flag = ?", types.DelFlagPurged).
		Limit(limit).
		Find(&keys).Error
	if err != nil || len(keys) == 0 {
		return 0, err
	}

	var total int64

	for _, k := range keys {
		res := r.db.WithContext(ctx).
			Where("user_id = ? AND file_id = ? AND del_flag = ?", k.UserID, k.FileID, types.DelFlagPurged).
			Delete(&model.FileInfo{})
		if res.Error != nil {
			return total, res.Error
		}

		total += res.RowsAffected
	}

	return total, nil
}
