package configs

import (
	"time"

	"github.com/spf13/viper"
)

const (
	// 默认熔断器配置.
	DefaultCBEnabled           = false
	DefaultCBFailureRate       = 0.5
	DefaultCBMinRequests       = 20
	DefaultCBIntervalSeconds   = 60
	DefaultCBTimeoutSeconds    = 30
	DefaultCBMaxRequestsInHalf = 5
)

// CircuitBreakerConfig 熔断器配置，HTTP 入口与配额缓存各用一份.
type CircuitBreakerConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	FailureRate float64 `mapstructure:"failure_rate"         rule:"min=0,max=1"`
	// MinRequests 进入统计的最小请求数
	MinRequests uint32 `mapstructure:"min_requests"`
	// IntervalSeconds 统计周期，0 表示不清零
	IntervalSeconds int `mapstructure:"interval_seconds"     rule:"min=0"`
	// TimeoutSeconds 打开后多久进入半开
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"      rule:"min=0"`
	MaxRequestsInHalf uint32 `mapstructure:"max_requests_in_half"`
}

// Interval 统计窗口.
func (c *CircuitBreakerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Timeout 打开状态持续时间.
func (c *CircuitBreakerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ShouldTrip 请求数达到 MinRequests 且失败比例不低于 FailureRate 时打开熔断.
func (c *CircuitBreakerConfig) ShouldTrip(requests, failures uint32) bool {
	if requests == 0 || requests < c.MinRequests {
		return false
	}

	return float64(failures)/float64(requests) >= c.FailureRate
}

// setDefaults 按 key 写入默认值，key 为 circuit_breaker 或 quota.cache_breaker.
func (c *CircuitBreakerConfig) setDefaults(v *viper.Viper, key string, enabled bool) {
	v.SetDefault(key+".enabled", enabled)
	v.SetDefault(key+".failure_rate", DefaultCBFailureRate)
	v.SetDefault(key+".min_requests", DefaultCBMinRequests)
	v.SetDefault(key+".interval_seconds", DefaultCBIntervalSeconds)
	v.SetDefault(key+".timeout_seconds", DefaultCBTimeoutSeconds)
	v.SetDefault(key+".max_requests_in_half", DefaultCBMaxRequestsInHalf)
}
