package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yeisme/panvault/pkg/configs"
	ctxPkg "github.com/yeisme/panvault/pkg/context"
	"github.com/yeisme/panvault/pkg/rule"
)

// HeaderUser 上游网关注入的用户标识.
const HeaderUser = "X-User"

const userKey = "user"

// IdentityMiddleware 从 X-User 读取用户并注入 gin.Context 与 request.Context.
// 请求头缺失时使用 server.default_user，两者都为空返回 401.
func IdentityMiddleware(cfg configs.ServerConfig) gin.HandlerFunc {
	fallback := strings.TrimSpace(cfg.DefaultUser)

	return func(c *gin.Context) {
		user := strings.TrimSpace(c.GetHeader(HeaderUser))
		if user == "" {
			user = fallback
		}

		if user == "" {
			abort(c, http.StatusUnauthorized, "unauthorized", "missing "+HeaderUser+" header")
			return
		}

		if err := rule.ValidateVar(user, "max=64,filename"); err != nil {
			abort(c, http.StatusBadRequest, "invalid_request", "malformed user id")
			return
		}

		c.Set(userKey, user)
		c.Request = c.Request.WithContext(ctxPkg.WithUser(c.Request.Context(), user))
		c.Next()
	}
}

// GetUser 当前请求的用户，未经过 IdentityMiddleware 时为空.
func GetUser(c *gin.Context) string {
	if v, ok := c.Get(userKey); ok {
		if u, ok := v.(string); ok {
			return u
		}
	}

	return ctxPkg.UserFrom(c.Request.Context())
}
