package service

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel/trace"

	"github.com/yeisme/panvault/pkg/queue"
)

// FinalizeRequest 分片收齐后交给合并 worker 的任务.
type FinalizeRequest struct {
	UserID       string
	FileID       string
	FileName     string
	ParentID     string
	ContentHash  string
	Size         int64
	Chunks       int
	StagingDir   string
	PhysicalPath string
}

// FinalizeResult 合并 worker 的回报. Err 为空表示成功.
type FinalizeResult struct {
	UserID       string
	FileID       string
	PhysicalPath string
	Size         int64
	Skipped      bool
	Err          string
}

// Succeeded 是否合并成功.
func (r FinalizeResult) Succeeded() bool { return r.Err == "" }

// Finalizer 合并任务的投递方.
type Finalizer interface {
	RequestFinalize(ctx context.Context, req FinalizeRequest) error
}

// QueueFinalizer 通过消息队列投递合并任务.
type QueueFinalizer struct {
	pub      message.Publisher
	producer string
}

// NewQueueFinalizer 创建基于队列的 Finalizer.
func NewQueueFinalizer(pub message.Publisher, producer string) *QueueFinalizer {
	return &QueueFinalizer{pub: pub, producer: producer}
}

// RequestFinalize 发布 finalize.requested 事件.
func (q *QueueFinalizer) RequestFinalize(ctx context.Context, req FinalizeRequest) error {
	if q.pub == nil {
		return fmt.Errorf("finalize publisher not configured")
	}

	return queue.PublishFinalizeRequested(q.pub, queue.FinalizeRequestedPayload{
		UserID:       req.UserID,
		FileID:       req.FileID,
		FileName:     req.FileName,
		ParentID:     req.ParentID,
		ContentHash:  req.ContentHash,
		Size:         req.Size,
		Chunks:       req.Chunks,
		StagingDir:   req.StagingDir,
		PhysicalPath: req.PhysicalPath,
	}, headerOptions(ctx, q.producer)...)
}

func headerOptions(ctx context.Context, producer string) []queue.HeaderOption {
	opts := []queue.HeaderOption{queue.WithProducer(producer)}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		opts = append(opts, queue.WithTraceID(sc.TraceID().String()))
	}

	return opts
}

// HandleFinalizeResult 订阅 finalize.succeeded / finalize.failed 的处理函数.
// 返回错误时消息会被重试.
func (m *UploadManager) HandleFinalizeResult(msg *message.Message) error {
	env, err := queue.ParseFinalizeResult(msg)
	if err != nil {
		// 无法解析的消息重试也没有意义
		m.logger.Error().Err(err).Str("message_uuid", msg.UUID).Msg("drop malformed finalize result")
		return nil
	}

	p := env.Payload

	return m.CompleteFinalization(msg.Context(), FinalizeResult{
		UserID:       p.UserID,
		FileID:       p.FileID,
		PhysicalPath: p.PhysicalPath,
		Size:         p.Size,
		Skipped:      p.Skipped,
		Err:          p.Error,
	})
}
