package configs

import (
	"time"

	"github.com/spf13/viper"
)

const (
	// MB 空间计量单位.
	MB int64 = 1 << 20

	DefaultUserInitSpaceMB = 5              // 新用户初始空间（MB）
	DefaultAccountTTL      = 24 * time.Hour // 用户空间缓存过期时间
	DefaultProvisionalTTL  = time.Hour      // 分片临时占用过期时间
	DefaultKeyPrefix       = "panvault:"
)

// QuotaConfig 用户空间配额配置.
type QuotaConfig struct {
	UserInitSpaceMB int64         `mapstructure:"user_init_space_mb" rule:"min=1"`
	AccountTTL      time.Duration `mapstructure:"account_ttl"        rule:"min=1s"`
	ProvisionalTTL  time.Duration `mapstructure:"provisional_ttl"    rule:"min=1s"`
	KeyPrefix       string        `mapstructure:"key_prefix"`
	// CacheBreaker 缓存读取熔断，缓存不可用时直接回源数据库
	CacheBreaker CircuitBreakerConfig `mapstructure:"cache_breaker"`
}

// InitialTotalBytes 返回新用户的总空间（字节）.
func (c *QuotaConfig) InitialTotalBytes() int64 {
	return c.UserInitSpaceMB * MB
}

func (c *QuotaConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("quota.user_init_space_mb", DefaultUserInitSpaceMB)
	v.SetDefault("quota.account_ttl", DefaultAccountTTL)
	v.SetDefault("quota.provisional_ttl", DefaultProvisionalTTL)
	v.SetDefault("quota.key_prefix", DefaultKeyPrefix)

	c.CacheBreaker.setDefaults(v, "quota.cache_breaker", true)
}
