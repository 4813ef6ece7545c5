package configs

import (
	"strings"

	"github.com/spf13/viper"
)

const (
	// 默认速率限制配置.
	DefaultRateLimitEnabled = false
	DefaultRateLimitRPS     = 50.0
	DefaultRateLimitBurst   = 100
	DefaultRateLimitKey     = RateLimitKeyUser
)

// 限流维度.
const (
	RateLimitKeyGlobal = "global"
	RateLimitKeyIP     = "ip"
	RateLimitKeyUser   = "user"
	RateLimitKeyHeader = "header"
)

// RateLimitConfig 速率限制配置.
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"   rule:"min=0"`
	Burst   int     `mapstructure:"burst" rule:"min=0"`
	// Key 选择限流维度：global、ip、user 或 header:Header-Name
	Key string `mapstructure:"key"`
}

// KeyMode 解析 Key，返回维度与 header 模式下的请求头名. 无法识别时按 ip.
func (c *RateLimitConfig) KeyMode() (string, string) {
	k := strings.TrimSpace(c.Key)

	if name, ok := strings.CutPrefix(strings.ToLower(k), RateLimitKeyHeader+":"); ok && name != "" {
		return RateLimitKeyHeader, k[len(RateLimitKeyHeader)+1:]
	}

	switch strings.ToLower(k) {
	case "", RateLimitKeyGlobal:
		return RateLimitKeyGlobal, ""
	case RateLimitKeyUser:
		return RateLimitKeyUser, ""
	default:
		return RateLimitKeyIP, ""
	}
}

func (c *RateLimitConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("rate_limit.enabled", DefaultRateLimitEnabled)
	v.SetDefault("rate_limit.rps", DefaultRateLimitRPS)
	v.SetDefault("rate_limit.burst", DefaultRateLimitBurst)
	v.SetDefault("rate_limit.key", DefaultRateLimitKey)
}
