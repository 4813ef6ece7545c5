package middleware

import (
	"github.com/gin-gonic/gin"

	ctxPkg "github.com/yeisme/panvault/pkg/context"
	"github.com/yeisme/panvault/pkg/internal/storage"
)

// StorageMiddleware 将存储资源注入 request.Context，供健康检查使用.
func StorageMiddleware(manager *storage.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(ctxPkg.WithStorageManager(c.Request.Context(), manager))
		c.Next()
	}
}
