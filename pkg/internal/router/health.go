package router

import (
	"github.com/gin-gonic/gin"

	"github.com/yeisme/panvault/pkg/internal/handle"
)

// RegisterHealthCheckRoute 注册 /health 与 /health/:component.
func RegisterHealthCheckRoute(g *gin.RouterGroup) {
	g.GET("/health", handle.HealthAll)

	for _, name := range handle.HealthComponents {
		g.GET("/health/"+name, handle.Health(name))
	}
}
