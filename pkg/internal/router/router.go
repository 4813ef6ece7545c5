// Package router 管理路由配置，将处理器绑定到 gin 引擎.
package router

import (
	"github.com/gin-gonic/gin"

	"github.com/yeisme/panvault/pkg/configs"
	"github.com/yeisme/panvault/pkg/internal/handle"
	"github.com/yeisme/panvault/pkg/middleware"
)

// RegisterAPIRoutes 注册需要用户身份的业务路由：
//
//	POST /files/upload        -> 分片上传
//	GET  /space               -> 空间使用情况
//	GET  /recycle             -> 回收站列表
//	POST /recycle             -> 移入回收站
//	POST /recycle/restore     -> 还原
//	POST /recycle/purge       -> 彻底删除
func RegisterAPIRoutes(g *gin.RouterGroup, h *handle.Handler, cfg *configs.AppConfig) {
	api := g.Group("",
		middleware.IdentityMiddleware(cfg.Server),
		middleware.RateLimitMiddleware(cfg.RateLimit),
	)

	api.POST("/files/upload", h.UploadChunk)
	api.GET("/space", h.Space)

	recycle := api.Group("/recycle")
	{
		recycle.GET("", h.ListRecycled)
		recycle.POST("", h.Recycle)
		recycle.POST("/restore", h.Restore)
		recycle.POST("/purge", h.Purge)
	}
}
