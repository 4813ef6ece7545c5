// Package middleware 提供 HTTP 中间件：身份、日志、追踪、指标、限流、熔断与依赖注入.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeisme/panvault/pkg/internal/types"
)

// abort 以统一错误体终止请求.
func abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, types.ErrorResponse{Code: code, Message: msg})
}

// routeOf 路由模板，未命中路由时归为 unmatched，避免指标标签基数失控.
func routeOf(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}

	if c.Writer.Status() == http.StatusNotFound {
		return "unmatched"
	}

	return c.Request.URL.Path
}
