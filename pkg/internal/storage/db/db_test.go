package db_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/panvault/pkg/configs"
	"github.com/yeisme/panvault/pkg/internal/storage/db"
)

type sample struct {
	ID   uint
	Name string
}

func TestNew_SQLite(t *testing.T) {
	ctx := context.Background()

	client, err := db.New(ctx, configs.DBConfig{
		Type:     configs.SQLite,
		Database: filepath.Join(t.TempDir(), "sample.db"),
		LogLevel: "silent",
	}, db.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.Ping(ctx))
	require.NoError(t, client.Migrate(&sample{}))
	require.NoError(t, client.Create(&sample{Name: "x"}).Error)

	var n int64
	require.NoError(t, client.Model(&sample{}).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestNew_Unsupported(t *testing.T) {
	_, err := db.New(context.Background(), configs.DBConfig{Type: "oracle"}, db.Options{})
	require.Error(t, err)
}

func TestGetRegisteredDBTypes(t *testing.T) {
	types := db.GetRegisteredDBTypes()
	assert.Contains(t, types, configs.SQLite)
	assert.Contains(t, types, configs.MariaDB)
	assert.Contains(t, types, configs.Pg)
}
