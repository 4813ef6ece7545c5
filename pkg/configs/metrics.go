package configs

import "github.com/spf13/viper"

// MetricsConfig Prometheus 指标配置，指标挂在主 HTTP 服务上.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"    rule:"omitempty,startswith=/"`
	// RuntimeMetrics 额外注册 Go runtime 与进程指标
	RuntimeMetrics bool `mapstructure:"runtime_metrics"`
	Pprof          bool `mapstructure:"pprof"`
	// DBStats GORM 插件采集连接池统计
	DBStats bool `mapstructure:"db_stats"`
}

func (c *MetricsConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.runtime_metrics", true)
	v.SetDefault("metrics.pprof", false)
	v.SetDefault("metrics.db_stats", true)
}
