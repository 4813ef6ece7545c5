// Package storage 聚合数据库、KV、消息队列与对象存储客户端的初始化与关闭.
//
// Example:
//
//	mgr, err := storage.Open(ctx, configs.GetConfig(), storage.WithDB(), storage.WithKV(), storage.WithMQ())
//	if err != nil {
//		// 处理错误
//	}
//	defer mgr.Close()
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/yeisme/panvault/pkg/configs"
	dbc "github.com/yeisme/panvault/pkg/internal/storage/db"
	kvc "github.com/yeisme/panvault/pkg/internal/storage/kv"
	mqc "github.com/yeisme/panvault/pkg/internal/storage/mq"
	s3c "github.com/yeisme/panvault/pkg/internal/storage/s3"
	nlog "github.com/yeisme/panvault/pkg/log"
)

// Manager 聚合所有存储资源，未启用的组件为 nil.
type Manager struct {
	DB *dbc.Client
	KV *kvc.Client
	MQ *mqc.Client
	S3 *s3c.Client
}

type openOptions struct {
	db, kv, mq, s3 bool
}

// Option 选择需要初始化的组件.
type Option func(*openOptions)

func WithDB() Option { return func(o *openOptions) { o.db = true } }
func WithKV() Option { return func(o *openOptions) { o.kv = true } }
func WithMQ() Option { return func(o *openOptions) { o.mq = true } }
func WithS3() Option { return func(o *openOptions) { o.s3 = true } }

// Open 按选项初始化存储组件，任一失败时关闭已打开的组件并返回错误.
func Open(ctx context.Context, cfg *configs.AppConfig, opts ...Option) (*Manager, error) {
	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}

	m := &Manager{}

	fail := func(what string, err error) (*Manager, error) {
		_ = m.Close()
		return nil, fmt.Errorf("open %s: %w", what, err)
	}

	if o.db {
		client, err := dbc.New(ctx, cfg.DB, dbc.Options{Metrics: cfg.Metrics.Enabled && cfg.Metrics.DBStats})
		if err != nil {
			return fail("db", err)
		}

		m.DB = client
	}

	if o.kv {
		client, err := kvc.NewKVClient(ctx, cfg.KV)
		if err != nil {
			return fail("kv", err)
		}

		m.KV = client
	}

	if o.mq {
		client, err := mqc.New(ctx, cfg.MQ)
		if err != nil {
			return fail("mq", err)
		}

		m.MQ = client
	}

	if o.s3 {
		client, err := s3c.New(ctx, cfg.S3)
		if err != nil {
			return fail("s3", err)
		}

		m.S3 = client
	}

	nlog.Logger().Info().
		Bool("db", m.DB != nil).
		Bool("kv", m.KV != nil).
		Bool("mq", m.MQ != nil).
		Bool("s3", m.S3 != nil).
		Msg("storage manager initialized")

	return m, nil
}

// Close 关闭所有已初始化的组件.
func (m *Manager) Close() error {
	var errs []error

	if m.MQ != nil {
		errs = append(errs, m.MQ.Close())
	}

	if m.KV != nil {
		errs = append(errs, m.KV.Close())
	}

	if m.DB != nil {
		errs = append(errs, m.DB.Close())
	}

	if m.S3 != nil {
		errs = append(errs, m.S3.Close())
	}

	return errors.Join(errs...)
}
