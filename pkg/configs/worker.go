package configs

import "github.com/spf13/viper"

// WorkerConfig 文件合并 worker 配置.
type WorkerConfig struct {
	// Sink 合并后文件的存放位置：local 或 s3
	Sink      string `mapstructure:"sink"       rule:"oneof=local s3"`
	LocalRoot string `mapstructure:"local_root" rule:"required_if=Sink local"`
	// Embedded 为 true 时 serve 进程内同时运行 worker
	Embedded bool `mapstructure:"embedded"`
}

func (c *WorkerConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("worker.sink", "local")
	v.SetDefault("worker.local_root", "data/file")
	v.SetDefault("worker.embedded", true)
}
