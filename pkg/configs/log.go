package configs

import "github.com/spf13/viper"

const (
	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

const (
	DefaultLogFilePath = "logs/panvault.log"
	DefaultLogMaxSize  = 100 // MB
	DefaultLogLevel    = "info"
)

// LogConfig 日志配置，stderr 与轮转文件同时输出.
type LogConfig struct {
	Level string `mapstructure:"level"  rule:"omitempty,oneof=trace debug info warn error fatal panic disabled"`
	// Format 仅作用于 stderr，文件始终写 JSON 行
	Format string `mapstructure:"format" rule:"oneof=console json"`

	EnableFile bool   `mapstructure:"enable_file"`
	FilePath   string `mapstructure:"file_path"    rule:"required_if=EnableFile true"`
	MaxSize    int    `mapstructure:"max_size_mb"  rule:"min=0"`
	MaxBackups int    `mapstructure:"max_backups"  rule:"min=0"`
	MaxAge     int    `mapstructure:"max_age_days" rule:"min=0"`
	Compress   bool   `mapstructure:"compress"`
}

// JSON 是否以 JSON 行输出到 stderr.
func (l *LogConfig) JSON() bool {
	return l.Format == LogFormatJSON
}

func (l *LogConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", LogFormatConsole)
	v.SetDefault("log.enable_file", true)
	v.SetDefault("log.file_path", DefaultLogFilePath)
	v.SetDefault("log.max_size_mb", DefaultLogMaxSize)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", true)
}
