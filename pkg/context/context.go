// Package context 拓展上下文功能，将用户身份、存储资源与日志集成到上下文中，方便在应用程序各处传递和使用.
package context

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/yeisme/panvault/pkg/internal/storage"
	"github.com/yeisme/panvault/pkg/log"
)

type ContextKey string

const (
	StorageManagerKey ContextKey = "storageManager"
	UserKey           ContextKey = "user"
)

// WithStorageManager 将 Manager 存储到 context 中.
func WithStorageManager(ctx context.Context, mgr *storage.Manager) context.Context {
	return context.WithValue(ctx, StorageManagerKey, mgr)
}

// GetManager 从 context 中获取 Manager.
func GetManager(ctx context.Context) *storage.Manager {
	if mgr, ok := ctx.Value(StorageManagerKey).(*storage.Manager); ok {
		return mgr
	}

	return nil
}

// WithUser 记录当前请求的用户标识.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserKey, userID)
}

// UserFrom 取出用户标识，不存在时为空串.
func UserFrom(ctx context.Context) string {
	if u, ok := ctx.Value(UserKey).(string); ok {
		return u
	}

	return ""
}

// WithTraceContext 创建带有追踪上下文的logger.
func WithTraceContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		return logger.With().
			Str("trace_id", span.SpanContext().TraceID().String()).
			Str("span_id", span.SpanContext().SpanID().String()).
			Logger()
	}

	return logger
}

// LoggerFrom 返回带 trace 与用户字段的全局 logger.
func LoggerFrom(ctx context.Context) zerolog.Logger {
	l := WithTraceContext(ctx, *log.Logger())
	if u := UserFrom(ctx); u != "" {
		l = l.With().Str("user_id", u).Logger()
	}

	return l
}
