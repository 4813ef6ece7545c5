// Package testutil 测试辅助：临时 SQLite 数据库、内存 KV 与静默日志.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/panvault/pkg/configs"
	"github.com/yeisme/panvault/pkg/internal/model"
	"github.com/yeisme/panvault/pkg/internal/storage/db"
	"github.com/yeisme/panvault/pkg/internal/storage/kv"
	nlog "github.com/yeisme/panvault/pkg/log"
)

// Quiet 把全局日志级别调到 warn，避免测试输出刷屏.
func Quiet() {
	nlog.Setup(configs.LogConfig{Level: "warn"}, false)
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
}

// NewDB 在 t.TempDir() 下创建已迁移的 SQLite 数据库.
func NewDB(t testing.TB) *db.Client {
	t.Helper()
	Quiet()

	client, err := db.New(context.Background(), configs.DBConfig{
		Type:     configs.SQLite,
		Database: filepath.Join(t.TempDir(), "panvault.db"),
		LogLevel: "silent",
	}, db.Options{})
	require.NoError(t, err)
	require.NoError(t, client.Migrate(model.Models()...))

	t.Cleanup(func() { _ = client.Close() })

	return client
}

// NewKV 创建内存 KV.
func NewKV(t testing.TB) kv.KVStore {
	t.Helper()

	store, err := kv.NewKVStore(context.Background(), kv.KVTypeMemory, nil)
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close() })

	return store
}
