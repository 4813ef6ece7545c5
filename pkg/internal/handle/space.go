package handle

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeisme/panvault/pkg/internal/types"
	"github.com/yeisme/panvault/pkg/middleware"
)

// Space 当前用户的空间使用情况.
func (h *Handler) Space(c *gin.Context) {
	acc, err := h.ledger.GetAccount(c.Request.Context(), middleware.GetUser(c))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, types.SpaceResponse{UsedBytes: acc.UsedBytes, TotalBytes: acc.TotalBytes})
}
