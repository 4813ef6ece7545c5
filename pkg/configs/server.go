package configs

import (
	"net"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig HTTP 服务配置.
type ServerConfig struct {
	Host string `mapstructure:"host" rule:"ip"`
	Port int    `mapstructure:"port" rule:"min=1,max=65535"`

	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" rule:"min=1s"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	// ShutdownTimeout 优雅退出时等待在途请求的上限
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"    rule:"min=1s"`

	Debug        bool `mapstructure:"debug"`
	ReloadConfig bool `mapstructure:"reload_config"`
	Gzip         bool `mapstructure:"gzip"`
	// DefaultUser 请求未携带 X-User 时使用的身份，留空则返回 401
	DefaultUser string `mapstructure:"default_user"`
	// CORSOrigins 为空或包含 "*" 时允许任意来源
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// Addr 返回监听地址 host:port.
func (s *ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

func (s *ServerConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_header_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 2*time.Minute)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.debug", false)
	v.SetDefault("server.reload_config", true)
	v.SetDefault("server.gzip", true)
	v.SetDefault("server.default_user", "")
	v.SetDefault("server.cors_origins", []string{})
}
