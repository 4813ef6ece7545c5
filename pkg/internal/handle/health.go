package handle

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	ctxPkg "github.com/yeisme/panvault/pkg/context"
	"github.com/yeisme/panvault/pkg/internal/storage"
)

const healthTimeout = 2 * time.Second

// HealthComponents 可单独探测的后端，顺序即汇总输出顺序.
var HealthComponents = []string{"db", "kv", "mq", "s3"}

type checkFunc func(ctx context.Context) error

// checkFor 返回组件的探测函数，未启用时为 nil.
func checkFor(mgr *storage.Manager, component string) checkFunc {
	if mgr == nil {
		return nil
	}

	switch component {
	case "db":
		if mgr.DB != nil {
			return mgr.DB.Ping
		}
	case "kv":
		if mgr.KV != nil {
			return func(ctx context.Context) error {
				const key = "health:check"

				if err := mgr.KV.Set(ctx, key, []byte("1"), time.Minute); err != nil {
					return err
				}

				_, err := mgr.KV.Get(ctx, key)

				return err
			}
		}
	case "mq":
		if mgr.MQ != nil {
			return func(ctx context.Context) error {
				select {
				case <-mgr.MQ.Running():
					return nil
				case <-ctx.Done():
					return context.Cause(ctx)
				}
			}
		}
	case "s3":
		if mgr.S3 != nil {
			return mgr.S3.HealthCheck
		}
	}

	return nil
}

func runCheck(parent context.Context, fn checkFunc) error {
	ctx, cancel := context.WithTimeout(parent, healthTimeout)
	defer cancel()

	return fn(ctx)
}

// Health 单组件健康检查，组件未启用时同样返回 503.
func Health(component string) gin.HandlerFunc {
	return func(c *gin.Context) {
		fn := checkFor(ctxPkg.GetManager(c.Request.Context()), component)
		if fn == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"component": component, "status": "unhealthy", "error": component + " client not initialized",
			})

			return
		}

		if err := runCheck(c.Request.Context(), fn); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"component": component, "status": "unhealthy", "error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"component": component, "status": "ok"})
	}
}

// HealthAll 汇总所有组件. 未启用的组件记为 disabled，不影响整体状态.
func HealthAll(c *gin.Context) {
	mgr := ctxPkg.GetManager(c.Request.Context())

	status := http.StatusOK
	components := make(gin.H, len(HealthComponents))

	for _, name := range HealthComponents {
		fn := checkFor(mgr, name)
		if fn == nil {
			components[name] = "disabled"
			continue
		}

		if err := runCheck(c.Request.Context(), fn); err != nil {
			components[name] = err.Error()
			status = http.StatusServiceUnavailable

			continue
		}

		components[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}

	c.JSON(status, gin.H{"status": overall, "components": components})
}
