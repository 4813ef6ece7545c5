//go:build !no_sqlite && !cgo

package db

import (
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/yeisme/panvault/pkg/configs"
)

// 纯 Go 版本，无需 CGo.
func init() {
	RegisterDialectorFactory(func(dsn string) gorm.Dialector { return sqlite.Open(dsn) }, configs.SQLite)
}
