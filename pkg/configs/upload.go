package configs

import (
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultStagingRoot       = "data/temp"
	DefaultSessionTTL        = time.Hour
	DefaultMaxSessions       = 10000
	DefaultLockStripes       = 256
	DefaultMaxChunkMB        = 64
	DefaultStagingGCInterval = 10 * time.Minute
)

// UploadConfig 分片上传配置.
type UploadConfig struct {
	StagingRoot       string        `mapstructure:"staging_root"        rule:"required"`
	SessionTTL        time.Duration `mapstructure:"session_ttl"         rule:"min=1s"`
	MaxSessions       int           `mapstructure:"max_sessions"        rule:"min=1"`
	LockStripes       int           `mapstructure:"lock_stripes"        rule:"min=1,max=65536"`
	MaxChunkMB        int64         `mapstructure:"max_chunk_mb"        rule:"min=1"`
	StagingGCInterval time.Duration `mapstructure:"staging_gc_interval" rule:"min=1s"`
}

// MaxChunkBytes 单个分片允许的最大字节数.
func (c *UploadConfig) MaxChunkBytes() int64 {
	return c.MaxChunkMB * MB
}

func (c *UploadConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("upload.staging_root", DefaultStagingRoot)
	v.SetDefault("upload.session_ttl", DefaultSessionTTL)
	v.SetDefault("upload.max_sessions", DefaultMaxSessions)
	v.SetDefault("upload.lock_stripes", DefaultLockStripes)
	v.SetDefault("upload.max_chunk_mb", DefaultMaxChunkMB)
	v.SetDefault("upload.staging_gc_interval", DefaultStagingGCInterval)
}
