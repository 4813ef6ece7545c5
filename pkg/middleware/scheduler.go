package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/yeisme/panvault/pkg/scheduler"
)

const schedulerKey = "scheduler"

// SchedulerMiddleware 将scheduler注入到gin.Context中.
func SchedulerMiddleware(sched *scheduler.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(schedulerKey, sched)
		c.Next()
	}
}

// GetScheduler 从gin.Context中获取scheduler.
func GetScheduler(c *gin.Context) *scheduler.Scheduler {
	if sched, ok := c.Get(schedulerKey); ok {
		if s, ok := sched.(*scheduler.Scheduler); ok {
			return s
		}
	}

	return nil
}
