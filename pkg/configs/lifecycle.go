package configs

import (
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultRecycleRetention = 10 * 24 * time.Hour // 回收站保留 10 天
	DefaultSweepInterval    = 3 * time.Minute
	DefaultSweepBatchSize   = 500
	DefaultSweepConcurrency = 4
)

// LifecycleConfig 回收站与彻底删除配置.
type LifecycleConfig struct {
	Retention        time.Duration `mapstructure:"retention"         rule:"min=1s"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"    rule:"min=1s"`
	SweepBatchSize   int           `mapstructure:"sweep_batch_size"  rule:"min=1"`
	SweepConcurrency int           `mapstructure:"sweep_concurrency" rule:"min=1,max=64"`
	// PublishEvents 是否发布 recycled/restored/purged 事件
	PublishEvents bool `mapstructure:"publish_events"`
}

func (c *LifecycleConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("lifecycle.retention", DefaultRecycleRetention)
	v.SetDefault("lifecycle.sweep_interval", DefaultSweepInterval)
	v.SetDefault("lifecycle.sweep_batch_size", DefaultSweepBatchSize)
	v.SetDefault("lifecycle.sweep_concurrency", DefaultSweepConcurrency)
	v.SetDefault("lifecycle.publish_events", true)
}
