// Package repository 数据访问层，每个实体一个接口，使用 GORM 实现.
// 同一个 Store 既可以在事务外使用，也可以通过 InTx 绑定到事务.
package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// ErrNotFound 记录不存在.
var ErrNotFound = errors.New("record not found")

// Store 持有一个 *gorm.DB（连接池或事务），并派生各实体仓库.
type Store struct {
	db *gorm.DB
}

// NewStore 创建 Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB 返回底层 *gorm.DB.
func (s *Store) DB() *gorm.DB { return s.db }

// Files 文件记录仓库.
func (s *Store) Files() FileRepository { return &fileRepo{db: s.db} }

// Spaces 用户空间仓库.
func (s *Store) Spaces() SpaceRepository { return &spaceRepo{db: s.db} }

// InTx 在事务中执行 fn，fn 返回错误时回滚.
// 已经处于事务中的 Store 会创建 savepoint.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}

	return err
}
