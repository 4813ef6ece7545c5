package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/yeisme/panvault/pkg/configs"
)

const (
	// limiter 闲置超过该时长即被淘汰，重新出现时从满桶开始
	limiterIdleTTL    = 10 * time.Minute
	maxLimiterEntries = 10000
)

func tooManyRequests(c *gin.Context) {
	abort(c, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded, please try again later")
}

// keyedLimiters 按键分配令牌桶，容量与闲置时间都有上限.
type keyedLimiters struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, *rate.Limiter]
	limit rate.Limit
	burst int
}

func newKeyedLimiters(cfg configs.RateLimitConfig) *keyedLimiters {
	return &keyedLimiters{
		cache: expirable.NewLRU[string, *rate.Limiter](maxLimiterEntries, nil, limiterIdleTTL),
		limit: rate.Limit(cfg.RPS),
		burst: cfg.Burst,
	}
}

func (k *keyedLimiters) allow(key string) bool {
	k.mu.Lock()

	l, ok := k.cache.Get(key)
	if !ok {
		l = rate.NewLimiter(k.limit, k.burst)
	}

	// 重新写入以刷新过期时间
	k.cache.Add(key, l)
	k.mu.Unlock()

	return l.Allow()
}

// RateLimitMiddleware 返回一个基于配置的限流中间件.
func RateLimitMiddleware(cfg configs.RateLimitConfig) gin.HandlerFunc {
	if !cfg.Enabled || cfg.RPS <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	mode, header := cfg.KeyMode()
	if mode == configs.RateLimitKeyGlobal {
		limiter := rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst)

		return func(c *gin.Context) {
			if !limiter.Allow() {
				tooManyRequests(c)
				return
			}

			c.Next()
		}
	}

	limiters := newKeyedLimiters(cfg)

	return func(c *gin.Context) {
		var key string

		switch mode {
		case configs.RateLimitKeyHeader:
			key = c.GetHeader(header)
		case configs.RateLimitKeyUser: // 需位于 IdentityMiddleware 之后
			key = GetUser(c)
		}

		if key == "" {
			key = clientIP(c)
		}

		if !limiters.allow(key) {
			tooManyRequests(c)
			return
		}

		c.Next()
	}
}

func clientIP(c *gin.Context) string {
	if ip := c.ClientIP(); ip != "" {
		return ip
	}

	host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		return c.Request.RemoteAddr
	}

	return host
}
