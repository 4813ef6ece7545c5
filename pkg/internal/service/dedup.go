package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/yeisme/panvault/pkg/internal/model"
	"github.com/yeisme/panvault/pkg/internal/repository"
)

// DedupResolver 按内容摘要查找可复用的已完成文件（秒传）.
type DedupResolver struct {
	store *repository.Store
}

// NewDedupResolver 创建秒传解析器.
func NewDedupResolver(store *repository.Store) *DedupResolver {
	return &DedupResolver{store: store}
}

// Resolve 返回任意用户名下摘要相同、状态 Ready 且未彻底删除的一条记录.
// size > 0 时要求大小一致. 未命中返回 (nil, nil).
func (r *DedupResolver) Resolve(ctx context.Context, contentHash string, size int64) (*model.FileInfo, error) {
	contentHash = strings.ToLower(strings.TrimSpace(contentHash))
	if contentHash == "" {
		return nil, nil
	}

	donor, err := r.store.Files().FindReadyByMD5(ctx, contentHash, size)
	if err != nil {
		return nil, fmt.Errorf("resolve dedup donor: %w", err)
	}

	return donor, nil
}
