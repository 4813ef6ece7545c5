// Package cache 提供基于键值存储的泛型缓存实现.
//
// 该包提供了类型安全的缓存操作，值使用 sonic 编解码为 JSON，支持 TTL 与统一的键前缀.
//
// 基本用法:
//
//	c := cache.NewCache(kvStore, cache.WithPrefix("panvault:"))
//
//	// 缓存用户空间
//	err := cache.Set(ctx, c, "space:alice", account, 24*time.Hour)
//
//	// 获取缓存数据，未命中时 cache.IsMiss(err) 为 true
//	account, err := cache.Get[QuotaAccount](ctx, c, "space:alice")
//
//	// 读-改-写（调用方负责对同一键的串行化）
//	total, err := cache.Update(ctx, c, "temp:alice:f1", func(cur int64, _ bool) int64 {
//	    return cur + 1024
//	}, time.Hour)
//
// 线程安全:
//
//	单个操作的线程安全取决于底层 KV 实现；Update 不是原子操作.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/sony/gobreaker"

	"github.com/yeisme/panvault/pkg/configs"
	"github.com/yeisme/panvault/pkg/internal/storage/kv"
)

// Cache 基于KV存储的缓存实现.
type Cache struct {
	kvStore kv.KVStore
	prefix  string
	cb      *gobreaker.CircuitBreaker
}

// Option 缓存配置项.
type Option func(*Cache)

// WithPrefix 为所有键添加统一前缀.
func WithPrefix(prefix string) Option {
	return func(c *Cache) { c.prefix = prefix }
}

// WithBreaker 为读写操作加一层熔断，未命中不计入失败.
// 熔断打开时操作立即返回，IsUnavailable(err) 为 true.
func WithBreaker(name string, cfg configs.CircuitBreakerConfig) Option {
	return func(c *Cache) {
		if !cfg.Enabled {
			return
		}

		c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: cfg.MaxRequestsInHalf,
			Interval:    cfg.Interval(),
			Timeout:     cfg.Timeout(),
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return cfg.ShouldTrip(counts.Requests, counts.TotalFailures)
			},
			IsSuccessful: func(err error) bool {
				return err == nil || IsMiss(err)
			},
		})
	}
}

// NewCache 创建一个新的缓存实例.
func NewCache(kvStore kv.KVStore, opts ...Option) *Cache {
	c := &Cache{kvStore: kvStore}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// IsMiss 判断错误是否为缓存未命中.
func IsMiss(err error) bool {
	return errors.Is(err, kv.ErrKeyNotFound)
}

// IsUnavailable 判断错误是否因熔断打开而被拒绝.
func IsUnavailable(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func (c *Cache) key(k string) string {
	return c.prefix + k
}

// State 返回熔断器状态，未启用时恒为 closed.
func (c *Cache) State() string {
	if c.cb == nil {
		return gobreaker.StateClosed.String()
	}

	return c.cb.State().String()
}

func (c *Cache) get(ctx context.Context, key string) ([]byte, error) {
	if c.cb == nil {
		return c.kvStore.Get(ctx, c.key(key))
	}

	v, err := c.cb.Execute(func() (any, error) {
		return c.kvStore.Get(ctx, c.key(key))
	})
	if err != nil {
		return nil, err
	}

	data, _ := v.([]byte)

	return data, nil
}

func (c *Cache) set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if c.cb == nil {
		return c.kvStore.Set(ctx, c.key(key), data, ttl)
	}

	_, err := c.cb.Execute(func() (any, error) {
		return nil, c.kvStore.Set(ctx, c.key(key), data, ttl)
	})

	return err
}

// Get 泛型获取缓存值.
func Get[T any](ctx context.Context, c *Cache, key string) (T, error) {
	var zero T

	data, err := c.get(ctx, key)
	if err != nil {
		return zero, err
	}

	var value T
	if err := sonic.Unmarshal(data, &value); err != nil {
		return zero, fmt.Errorf("failed to unmarshal cache value: %w", err)
	}

	return value, nil
}

// Set 泛型设置缓存值.
func Set[T any](ctx context.Context, c *Cache, key string, value T, ttl time.Duration) error {
	data, err := sonic.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	return c.set(ctx, key, data, ttl)
}

// Update 读取当前值（未命中时为零值，found=false），写回 fn 的结果并刷新 TTL.
func Update[T any](ctx context.Context, c *Cache, key string, fn func(cur T, found bool) T, ttl time.Duration) (T, error) {
	cur, err := Get[T](ctx, c, key)

	found := err == nil
	if err != nil && !IsMiss(err) {
		var zero T
		return zero, err
	}

	next := fn(cur, found)
	if err := Set(ctx, c, key, next, ttl); err != nil {
		var zero T
		return zero, err
	}

	return next, nil
}

// Delete 删除缓存键.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.kvStore.Delete(ctx, c.key(key))
}

// Exists 检查缓存键是否存在.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	return c.kvStore.Exists(ctx, c.key(key))
}

// GetOrSet 获取缓存值，未命中则调用 getter 并写入缓存；写缓存失败不影响返回值.
func GetOrSet[T any](ctx context.Context, c *Cache, key string, getter func() (T, error), ttl time.Duration) (T, error) {
	if value, err := Get[T](ctx, c, key); err == nil {
		return value, nil
	}

	value, err := getter()
	if err != nil {
		var zero T
		return zero, err
	}

	_ = Set(ctx, c, key, value, ttl)

	return value, nil
}

// Clear 删除当前前缀下的所有键.
func (c *Cache) Clear(ctx context.Context) error {
	keys, err := c.kvStore.Keys(ctx, c.prefix+"*")
	if err != nil {
		return err
	}

	for _, key := range keys {
		if delErr := c.kvStore.Delete(ctx, key); delErr != nil {
			return delErr
		}
	}

	return nil
}
