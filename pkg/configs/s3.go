package configs

import (
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

// S3Config 对象存储配置，worker.sink=s3 时存放合并后的文件.
type S3Config struct {
	// Endpoint 可写 host:port，也可带 http:// 或 https://
	Endpoint        string `mapstructure:"endpoint"          rule:"required"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	Region          string `mapstructure:"region"`
	BucketName      string `mapstructure:"bucket_name"       rule:"required"`
	// KeyPrefix 对象键前缀，例如 "files/"
	KeyPrefix string `mapstructure:"key_prefix"`
	// PartSizeMB 分段上传的段大小，0 交给 minio 按对象大小决定
	PartSizeMB uint64 `mapstructure:"part_size_mb"      rule:"omitempty,min=5"`
}

// EndpointHost 拆出 minio 需要的 host:port 与是否启用 TLS.
func (c *S3Config) EndpointHost() (string, bool) {
	if u, err := url.Parse(c.Endpoint); err == nil && u.Host != "" {
		return u.Host, u.Scheme == "https" || c.UseSSL
	}

	return strings.TrimSuffix(c.Endpoint, "/"), c.UseSSL
}

func (c *S3Config) setDefaults(v *viper.Viper) {
	v.SetDefault("s3.endpoint", "localhost:9000")
	v.SetDefault("s3.access_key_id", "minioadmin")
	v.SetDefault("s3.secret_access_key", "minioadmin")
	v.SetDefault("s3.use_ssl", false)
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.bucket_name", "panvault")
	v.SetDefault("s3.key_prefix", "")
	v.SetDefault("s3.part_size_mb", 0)
}
