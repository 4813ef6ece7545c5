package configs

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DBType 配置中的数据库类型，含别名.
type DBType string

const (
	PostgreSQL DBType = "postgresql"
	Postgres   DBType = "postgre"
	Pg         DBType = "pg"
	MySQL      DBType = "mysql"
	MariaDB    DBType = "mariadb"
	SQLite     DBType = "sqlite"
)

// DBConfig 数据库配置. 文件元数据与用户空间账本都落在这里.
type DBConfig struct {
	Type     DBType `mapstructure:"type"     rule:"oneof=postgresql postgre pg mysql mariadb sqlite"`
	Host     string `mapstructure:"host"     rule:"omitempty,hostname"`
	Port     int    `mapstructure:"port"     rule:"min=0,max=65535"` // 0 表示按方言取默认端口
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	// Database 库名；SQLite 下为文件路径或 :memory:
	Database string `mapstructure:"database" rule:"required"`
	SSLMode  string `mapstructure:"sslmode"  rule:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"    rule:"min=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"    rule:"min=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"         rule:"oneof=silent error warn info"`
}

// Dialect 把别名归一为 postgresql、mysql 或 sqlite.
func (c *DBConfig) Dialect() DBType {
	switch c.Type {
	case PostgreSQL, Postgres, Pg:
		return PostgreSQL
	case MySQL, MariaDB:
		return MySQL
	case SQLite:
		return SQLite
	default:
		return ""
	}
}

// GetDBType 返回用于日志展示的数据库名称.
func (c *DBConfig) GetDBType() string {
	switch c.Dialect() {
	case PostgreSQL:
		return "PostgreSQL"
	case MySQL:
		return "MySQL"
	case SQLite:
		return "SQLite"
	default:
		return "Unknown"
	}
}

func (c *DBConfig) port() int {
	if c.Port != 0 {
		return c.Port
	}

	if c.Dialect() == MySQL {
		return 3306
	}

	return 5432
}

// GetDSN 按方言拼接连接串，未知类型返回空串.
func (c *DBConfig) GetDSN() string {
	switch c.Dialect() {
	case PostgreSQL:
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.port(), c.User, c.Password, c.Database, c.SSLMode)
	case MySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			c.User, c.Password, c.Host, c.port(), c.Database)
	case SQLite:
		// 已是路径、DSN 或 :memory: 时原样使用
		if c.Database == ":memory:" || strings.HasPrefix(c.Database, "file:") || strings.HasSuffix(c.Database, ".db") {
			return c.Database
		}

		return "file:" + c.Database + ".db"
	default:
		return ""
	}
}

func (c *DBConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("db.type", SQLite)
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 0)
	v.SetDefault("db.user", "panvault")
	v.SetDefault("db.password", "")
	v.SetDefault("db.database", "panvault")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.max_open_conns", 0)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("db.log_level", "warn")
}
