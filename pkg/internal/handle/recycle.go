package handle

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeisme/panvault/pkg/internal/types"
	"github.com/yeisme/panvault/pkg/middleware"
	"github.com/yeisme/panvault/pkg/rule"
)

type batchFunc func(ctx context.Context, userID string, fileIDs []string) (int64, error)

// batch 解析 fileIds 并执行批量操作.
func batch(c *gin.Context, fn batchFunc) {
	var req types.FileIDsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := rule.ValidateStruct(&req); err != nil {
		badRequest(c, err)
		return
	}

	n, err := fn(c.Request.Context(), middleware.GetUser(c), req.FileIDs)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, types.AffectedResponse{Affected: n})
}

// Recycle 移入回收站.
func (h *Handler) Recycle(c *gin.Context) { batch(c, h.lifecycle.Recycle) }

// Restore 从回收站还原.
func (h *Handler) Restore(c *gin.Context) { batch(c, h.lifecycle.Restore) }

// Purge 彻底删除并释放空间.
func (h *Handler) Purge(c *gin.Context) { batch(c, h.lifecycle.Purge) }

// ListRecycled 回收站列表.
func (h *Handler) ListRecycled(c *gin.Context) {
	rows, err := h.lifecycle.ListRecycled(c.Request.Context(), middleware.GetUser(c))
	if err != nil {
		writeError(c, err)
		return
	}

	items := make([]types.RecycledItem, 0, len(rows))
	for i := range rows {
		item := types.RecycledItem{
			FileID:       rows[i].FileID,
			FilePid:      rows[i].FilePid,
			FileName:     rows[i].FileName,
			FileSize:     rows[i].FileSize,
			FileCategory: rows[i].FileCategory,
		}
		if rows[i].RecoveryTime != nil {
			item.RecoveryTime = *rows[i].RecoveryTime
		}

		items = append(items, item)
	}

	c.JSON(http.StatusOK, types.RecycledListResponse{Items: items, Total: len(items)})
}
